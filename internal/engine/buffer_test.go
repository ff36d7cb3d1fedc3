package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlockPoolTierSelection(t *testing.T) {
	t.Parallel()
	p := NewBlockPool(DefaultBlockPoolConfig)

	small := p.Get(2)
	assert.Len(t, small, 2)
	assert.LessOrEqual(t, cap(small), DefaultBlockPoolConfig.MediumSamples)

	medium := p.Get(DefaultBlockPoolConfig.SmallSamples + 1)
	assert.Len(t, medium, DefaultBlockPoolConfig.SmallSamples+1)

	huge := p.Get(DefaultBlockPoolConfig.LargeSamples + 1)
	assert.Len(t, huge, DefaultBlockPoolConfig.LargeSamples+1)
}

func TestBlockPoolReuse(t *testing.T) {
	t.Parallel()
	p := NewBlockPool(DefaultBlockPoolConfig)

	buf := p.Get(DefaultBlockPoolConfig.SmallSamples)
	buf[0] = 1.5
	p.Put(buf)

	reused := p.Get(DefaultBlockPoolConfig.SmallSamples)
	assert.Len(t, reused, DefaultBlockPoolConfig.SmallSamples)
}
