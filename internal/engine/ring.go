package engine

import (
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"

	"github.com/smallnest/ringbuffer"
)

// SampleRing is a wait-free SPSC ring of float32 samples. Exactly one
// goroutine may call PushSlice (the decode worker) and exactly one may call
// PopSlice (the device callback thread); the index pair is never contended
// by anything else.
//
// The byte-oriented github.com/smallnest/ringbuffer backs the bulk
// staging/flush path used by Sink Session.drain (drop_queued discards
// without staging), where a
// short-lived mutex is acceptable; the per-sample real-time hot path below
// is a hand-rolled atomic-index ring, since no example dependency in the
// corpus offers a lock-free float32 SPSC ring and the RT callback must never
// block on a mutex.
type SampleRing struct {
	buf  []float32
	mask uint64 // len(buf)-1, buf length is always a power of two

	writeIdx atomic.Uint64
	readIdx  atomic.Uint64

	statsMu        sync.Mutex
	bufferedStat   uint64
	underrunCalls  uint64
	totalRequested uint64
	totalProvided  uint64
}

// RingCapacity computes capacity = max(1024, sample_rate*channels*RING_MS/1000)
// rounded up to the next power of two (required for the mask-based index
// wrap used by SampleRing).
func RingCapacity(sampleRate uint32, channels uint16) uint64 {
	raw := uint64(MinRingCapacitySamples)
	computed := uint64(sampleRate) * uint64(channels) * uint64(RingMs) / 1000
	if computed > raw {
		raw = computed
	}
	return nextPowerOfTwo(raw)
}

func nextPowerOfTwo(v uint64) uint64 {
	if v == 0 {
		return 1
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	return v + 1
}

// NewSampleRing allocates a ring sized by RingCapacity.
func NewSampleRing(sampleRate uint32, channels uint16) *SampleRing {
	cap := RingCapacity(sampleRate, channels)
	return &SampleRing{
		buf:  make([]float32, cap),
		mask: cap - 1,
	}
}

// PushSlice writes as many samples from src as there is room for, returning
// the count actually written. Producer-only; never blocks.
func (r *SampleRing) PushSlice(src []float32) int {
	w := r.writeIdx.Load()
	rd := r.readIdx.Load()
	free := uint64(len(r.buf)) - (w - rd)
	n := uint64(len(src))
	if n > free {
		n = free
	}
	for i := uint64(0); i < n; i++ {
		r.buf[(w+i)&r.mask] = src[i]
	}
	r.writeIdx.Store(w + n)
	return int(n)
}

// PopSlice reads up to len(dst) samples into dst, returning the count
// actually read. Consumer-only; never blocks, never allocates.
func (r *SampleRing) PopSlice(dst []float32) int {
	w := r.writeIdx.Load()
	rd := r.readIdx.Load()
	avail := w - rd
	n := uint64(len(dst))
	if n > avail {
		n = avail
	}
	for i := uint64(0); i < n; i++ {
		dst[i] = r.buf[(rd+i)&r.mask]
	}
	r.readIdx.Store(rd + n)
	return int(n)
}

// Len reports the number of samples currently buffered. Safe from any
// goroutine; may be stale by the time the caller observes it.
func (r *SampleRing) Len() uint64 {
	return r.writeIdx.Load() - r.readIdx.Load()
}

// Capacity returns the fixed ring size.
func (r *SampleRing) Capacity() uint64 {
	return uint64(len(r.buf))
}

// recordOutput updates buffered/underrun stats behind a try-lock, satisfying
// the "single try-lock for stats refresh" allowance in spec §4.2. If the
// lock is contended the update is skipped rather than blocking the RT
// callback.
func (r *SampleRing) recordOutput(requested, provided int, gateEnabled bool) {
	if !r.statsMu.TryLock() {
		return
	}
	defer r.statsMu.Unlock()
	r.bufferedStat = r.Len()
	r.totalRequested += uint64(requested)
	r.totalProvided += uint64(provided)
	if gateEnabled && provided < requested {
		r.underrunCalls++
	}
}

// RingStats is a point-in-time snapshot of ring/consumer counters.
type RingStats struct {
	BufferedSamples  uint64
	UnderrunCallbacks uint64
	TotalRequested    uint64
	TotalProvided     uint64
}

// Stats returns the latest stats snapshot, best-effort (try-lock).
func (r *SampleRing) Stats() RingStats {
	if !r.statsMu.TryLock() {
		return RingStats{}
	}
	defer r.statsMu.Unlock()
	return RingStats{
		BufferedSamples:   r.bufferedStat,
		UnderrunCallbacks: r.underrunCalls,
		TotalRequested:    r.totalRequested,
		TotalProvided:     r.totalProvided,
	}
}

// MasterGainProcessor applies the AudioTaper curve to each sample,
// interpolating linearly from the current gain toward a target over a ramp
// length expressed in samples.
type MasterGainProcessor struct {
	currentLevel atomic.Uint64 // math.Float64bits of the taper *level* in [0,1]
	targetLevel  atomic.Uint64
	rampSamples  atomic.Uint64
	stepped      atomic.Uint64 // samples advanced within the active ramp
}

// NewMasterGainProcessor starts at level 1.0 (unity) with no ramp pending.
func NewMasterGainProcessor() *MasterGainProcessor {
	m := &MasterGainProcessor{}
	m.currentLevel.Store(math.Float64bits(1.0))
	m.targetLevel.Store(math.Float64bits(1.0))
	return m
}

// SetTarget begins a ramp toward level over rampSamples, resetting progress.
// Safe to call from any goroutine (control actor / decode worker).
func (m *MasterGainProcessor) SetTarget(level float64, rampSamples uint64) {
	if level < 0 {
		level = 0
	} else if level > 1 {
		level = 1
	}
	m.targetLevel.Store(math.Float64bits(level))
	if rampSamples == 0 {
		m.currentLevel.Store(math.Float64bits(level))
	}
	m.rampSamples.Store(rampSamples)
	m.stepped.Store(0)
}

// Apply advances the ramp by one sample and returns the tapered gain to
// multiply into the sample value. RT-safe: no locks, no allocation.
func (m *MasterGainProcessor) Apply(sample float32) float32 {
	cur := math.Float64frombits(m.currentLevel.Load())
	target := math.Float64frombits(m.targetLevel.Load())
	ramp := m.rampSamples.Load()

	if ramp > 0 && cur != target {
		step := m.stepped.Add(1)
		frac := float64(step) / float64(ramp)
		if frac >= 1 {
			cur = target
			m.rampSamples.Store(0)
		} else {
			// Cover an equal share of the remaining distance per remaining
			// sample, which keeps the ramp linear from its starting level.
			cur = cur + (target-cur)/float64(ramp-step+1)
		}
		m.currentLevel.Store(math.Float64bits(cur))
	}

	return sample * float32(AudioTaper(cur))
}

// GatedOutputConsumer bridges the ring into the device callback, applying
// the gate (enabled/disabled) and master-gain taper on the RT-critical path.
type GatedOutputConsumer struct {
	ring   *SampleRing
	gain   *MasterGainProcessor
	enabled atomic.Bool

	scratch    []float32
	scratchLen int
	scratchPos int

	wasEnabled bool
	loggedEdge bool
}

// NewGatedOutputConsumer wires a ring and gain processor. chunkSamples
// defaults to GatedConsumerChunkSamples when zero.
func NewGatedOutputConsumer(ring *SampleRing, gain *MasterGainProcessor, chunkSamples int) *GatedOutputConsumer {
	if chunkSamples <= 0 {
		chunkSamples = GatedConsumerChunkSamples
	}
	c := &GatedOutputConsumer{
		ring:    ring,
		gain:    gain,
		scratch: make([]float32, chunkSamples),
	}
	c.enabled.Store(false)
	return c
}

// SetEnabled flips the gate. Safe from any goroutine.
func (c *GatedOutputConsumer) SetEnabled(v bool) {
	c.enabled.Store(v)
}

// PopSample implements the pop_sample contract (spec §4.2):
//  1. gate closed -> flush scratch, return (0, false).
//  2. gate just opened -> log once (caller supplies the logger via onEdge).
//  3. refill scratch from the ring when empty; ring-empty -> silence.
//  4. apply master gain.
func (c *GatedOutputConsumer) PopSample(onEdge func(opened bool)) (float32, bool) {
	enabled := c.enabled.Load()
	if !enabled {
		c.scratchPos = 0
		c.scratchLen = 0
		if c.wasEnabled && onEdge != nil {
			onEdge(false)
		}
		c.wasEnabled = false
		return 0, false
	}
	if !c.wasEnabled && onEdge != nil {
		onEdge(true)
	}
	c.wasEnabled = true

	if c.scratchPos >= c.scratchLen {
		c.scratchLen = c.ring.PopSlice(c.scratch)
		c.scratchPos = 0
		if c.scratchLen == 0 {
			return 0, false
		}
	}

	s := c.scratch[c.scratchPos]
	c.scratchPos++
	return c.gain.Apply(s), true
}

// OnOutput records provided-vs-requested stats for underrun accounting.
func (c *GatedOutputConsumer) OnOutput(requested, provided int) {
	c.ring.recordOutput(requested, provided, c.enabled.Load())
}

// byteStagingRing wraps github.com/smallnest/ringbuffer for the bulk
// byte-oriented staging used by Sink Session.drain, where float32
// samples are serialized as little-endian bytes for short-lived bulk
// transfer outside the RT path.
type byteStagingRing struct {
	rb *ringbuffer.RingBuffer
}

func newByteStagingRing(capacityBytes int) *byteStagingRing {
	return &byteStagingRing{rb: ringbuffer.New(capacityBytes)}
}

func (b *byteStagingRing) stageSamples(samples []float32) {
	buf := make([]byte, 4*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
	}
	_, _ = b.rb.Write(buf)
}

func (b *byteStagingRing) drainSamples() []float32 {
	n := b.rb.Length()
	if n == 0 {
		return nil
	}
	buf := make([]byte, n)
	read, _ := b.rb.Read(buf)
	out := make([]float32, read/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}
