package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingCapacityRoundsUpToPowerOfTwo(t *testing.T) {
	t.Parallel()
	assert.Equal(t, uint64(MinRingCapacitySamples), RingCapacity(1, 1))

	cap := RingCapacity(48000, 2)
	assert.Equal(t, cap&(cap-1), uint64(0), "capacity must be a power of two")
	assert.GreaterOrEqual(t, cap, uint64(48000)*2*uint64(RingMs)/1000)
}

func TestSampleRingPushPopRoundTrip(t *testing.T) {
	t.Parallel()
	r := NewSampleRing(48000, 2)

	src := make([]float32, 16)
	for i := range src {
		src[i] = float32(i)
	}
	n := r.PushSlice(src)
	require.Equal(t, 16, n)
	assert.Equal(t, uint64(16), r.Len())

	dst := make([]float32, 16)
	got := r.PopSlice(dst)
	require.Equal(t, 16, got)
	assert.Equal(t, src, dst)
	assert.Equal(t, uint64(0), r.Len())
}

func TestSampleRingPushSliceClampsToFreeSpace(t *testing.T) {
	t.Parallel()
	r := &SampleRing{buf: make([]float32, 4), mask: 3}

	full := []float32{1, 2, 3, 4, 5, 6}
	n := r.PushSlice(full)
	assert.Equal(t, 4, n)
	assert.Equal(t, uint64(4), r.Len())

	more := r.PushSlice([]float32{7})
	assert.Equal(t, 0, more, "ring is full, no room left")
}

func TestSampleRingPopSliceClampsToAvailable(t *testing.T) {
	t.Parallel()
	r := &SampleRing{buf: make([]float32, 4), mask: 3}
	r.PushSlice([]float32{1, 2})

	dst := make([]float32, 4)
	n := r.PopSlice(dst)
	assert.Equal(t, 2, n, "only 2 samples were ever pushed")
}

func TestMasterGainProcessorRampsLinearlyThenHolds(t *testing.T) {
	t.Parallel()
	g := NewMasterGainProcessor()
	g.SetTarget(0.0, 4)

	var last float32 = 1
	for i := 0; i < 4; i++ {
		out := g.Apply(1.0)
		assert.LessOrEqual(t, out, last, "gain should not increase while ramping down")
		last = out
	}
	// ramp has fully elapsed; further Apply calls hold at the target level.
	held := g.Apply(1.0)
	assert.InDelta(t, float64(held), float64(g.Apply(1.0)), 0.0001)
}

func TestMasterGainProcessorZeroRampAppliesImmediately(t *testing.T) {
	t.Parallel()
	g := NewMasterGainProcessor()
	g.SetTarget(0.0, 0)
	assert.Equal(t, float32(0), g.Apply(1.0))
}

func TestGatedOutputConsumerSilentWhenDisabled(t *testing.T) {
	t.Parallel()
	ring := NewSampleRing(48000, 1)
	ring.PushSlice([]float32{1, 1, 1})
	gain := NewMasterGainProcessor()
	c := NewGatedOutputConsumer(ring, gain, 0)

	sample, ok := c.PopSample(nil)
	assert.False(t, ok)
	assert.Equal(t, float32(0), sample)
}

func TestGatedOutputConsumerDrainsRingWhenEnabled(t *testing.T) {
	t.Parallel()
	ring := NewSampleRing(48000, 1)
	ring.PushSlice([]float32{1, 1, 1})
	gain := NewMasterGainProcessor()
	c := NewGatedOutputConsumer(ring, gain, 2)
	c.SetEnabled(true)

	var edges []bool
	onEdge := func(opened bool) { edges = append(edges, opened) }

	s1, ok1 := c.PopSample(onEdge)
	require.True(t, ok1)
	assert.Equal(t, float32(1), s1)
	assert.Equal(t, []bool{true}, edges)

	s2, ok2 := c.PopSample(onEdge)
	require.True(t, ok2)
	assert.Equal(t, float32(1), s2)

	s3, ok3 := c.PopSample(onEdge)
	require.True(t, ok3)
	assert.Equal(t, float32(1), s3)

	_, ok4 := c.PopSample(onEdge)
	assert.False(t, ok4, "ring is exhausted")
}

func TestGatedOutputConsumerEdgeFiresOnceOnDisable(t *testing.T) {
	t.Parallel()
	ring := NewSampleRing(48000, 1)
	gain := NewMasterGainProcessor()
	c := NewGatedOutputConsumer(ring, gain, 2)
	c.SetEnabled(true)
	_, _ = c.PopSample(nil)

	var edges []bool
	c.SetEnabled(false)
	_, _ = c.PopSample(func(opened bool) { edges = append(edges, opened) })
	_, _ = c.PopSample(func(opened bool) { edges = append(edges, opened) })
	assert.Equal(t, []bool{false}, edges)
}
