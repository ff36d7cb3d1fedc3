package engine

import (
	"log/slog"
	"sync"

	"github.com/sonora-audio/sonora/internal/logging"
)

// BlockPoolConfig sizes the sync.Pool tiers for AudioBlock sample buffers,
// keyed by total sample count (frames * channels), generalized from the
// teacher's byte-buffer pool tiers to float32 sample buffers.
type BlockPoolConfig struct {
	SmallSamples  int
	MediumSamples int
	LargeSamples  int
}

// DefaultBlockPoolConfig covers the common block sizes at 1-8 channels with
// the default 1024-frame block (spec §9 SinkLatencyConfig.block_frames).
var DefaultBlockPoolConfig = BlockPoolConfig{
	SmallSamples:  DefaultBlockFrames * 2, // stereo
	MediumSamples: DefaultBlockFrames * 6, // 5.1
	LargeSamples:  DefaultBlockFrames * 8, // 7.1
}

// BlockPool hands out reusable []float32 sample buffers tiered by size, the
// way the teacher's bufferPoolImpl tiered byte buffers. AudioBlocks
// themselves are cheap value structs; only the backing Samples slice is
// pooled.
type BlockPool struct {
	small  sync.Pool
	medium sync.Pool
	large  sync.Pool

	config BlockPoolConfig
	logger *slog.Logger
}

// NewBlockPool builds a pool with the given tier config.
func NewBlockPool(config BlockPoolConfig) *BlockPool {
	logger := logging.ForService("engine")
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "block_pool")

	p := &BlockPool{config: config, logger: logger}
	p.small.New = func() any { return make([]float32, config.SmallSamples) }
	p.medium.New = func() any { return make([]float32, config.MediumSamples) }
	p.large.New = func() any { return make([]float32, config.LargeSamples) }
	return p
}

// Get returns a []float32 of at least n samples, reused from the tier whose
// capacity covers n, or freshly allocated for anything larger than Large.
func (p *BlockPool) Get(n int) []float32 {
	var buf []float32
	switch {
	case n <= p.config.SmallSamples:
		buf = p.small.Get().([]float32)
	case n <= p.config.MediumSamples:
		buf = p.medium.Get().([]float32)
	case n <= p.config.LargeSamples:
		buf = p.large.Get().([]float32)
	default:
		return make([]float32, n)
	}
	return buf[:n]
}

// Put returns buf to the tier matching its capacity. Buffers larger than the
// Large tier are simply dropped, matching the teacher's "don't pool very
// large buffers" policy.
func (p *BlockPool) Put(buf []float32) {
	c := cap(buf)
	switch {
	case c <= p.config.SmallSamples:
		p.small.Put(buf[:c])
	case c <= p.config.MediumSamples:
		p.medium.Put(buf[:c])
	case c <= p.config.LargeSamples:
		p.large.Put(buf[:c])
	}
}
