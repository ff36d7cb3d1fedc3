package engine

import (
	"math"

	"github.com/sonora-audio/sonora/internal/errors"
)

// StreamSpec describes a fixed PCM layout: sample rate in Hz and channel
// count. Every prepared stage produces a validated StreamSpec; a zero field
// is a construction error.
type StreamSpec struct {
	SampleRate uint32
	Channels   uint16
}

// Validate rejects a StreamSpec with any zero field.
func (s StreamSpec) Validate() error {
	if s.SampleRate == 0 || s.Channels == 0 {
		return errors.Newf("invalid stream spec").
			Component(ComponentEngine).
			Category(errors.CategoryValidation).
			Context("sample_rate", s.SampleRate).
			Context("channels", s.Channels).
			Build()
	}
	return nil
}

// AudioBlock is the fixed-layout PCM block carrier passed between stages.
// Ownership belongs to whichever stage last touched it; transforms may
// rewrite Samples and Channels in place.
type AudioBlock struct {
	Channels uint16
	Samples  []float32
}

// Frames returns the number of interleaved frames carried by the block.
// len(Samples) is always a multiple of max(Channels,1).
func (b *AudioBlock) Frames() int {
	ch := int(b.Channels)
	if ch <= 0 {
		ch = 1
	}
	return len(b.Samples) / ch
}

// Validate checks the len(samples) % channels == 0 invariant (P1).
func (b *AudioBlock) Validate() error {
	ch := int(b.Channels)
	if ch <= 0 {
		ch = 1
	}
	if len(b.Samples)%ch != 0 {
		return errors.Newf("audio block length not divisible by channel count").
			Component(ComponentEngine).
			Category(errors.CategoryValidation).
			Context("channels", b.Channels).
			Context("len", len(b.Samples)).
			Build()
	}
	return nil
}

// PipelineContext holds the mutable playback position and a pending-seek
// request. Mutated only on the decode worker thread.
type PipelineContext struct {
	PositionMs    int64
	PendingSeekMs *int64
}

// AdvanceFrames adds the ms-equivalent of n frames at sampleRate to
// PositionMs using saturating arithmetic. No-op if sampleRate == 0.
func (c *PipelineContext) AdvanceFrames(n uint64, sampleRate uint32) {
	if sampleRate == 0 || n == 0 {
		return
	}
	deltaMs := saturatingMulDiv(n, 1000, uint64(sampleRate))
	c.PositionMs = saturatingAddI64(c.PositionMs, deltaMs)
}

// RequestSeek stores a pending seek target, clamped to >= 0. Consumed
// exactly once by the next runner step via ClearPendingSeek.
func (c *PipelineContext) RequestSeek(positionMs int64) {
	if positionMs < 0 {
		positionMs = 0
	}
	v := positionMs
	c.PendingSeekMs = &v
}

// ClearPendingSeek consumes and returns the pending seek, if any. Callers
// must invoke this only from the decode worker thread.
func (c *PipelineContext) ClearPendingSeek() (int64, bool) {
	if c.PendingSeekMs == nil {
		return 0, false
	}
	v := *c.PendingSeekMs
	c.PendingSeekMs = nil
	return v, true
}

func saturatingMulDiv(n, mul, div uint64) int64 {
	if div == 0 {
		return 0
	}
	hi, lo := bitsMulUint64(n, mul)
	if hi == 0 {
		q := lo / div
		if q > math.MaxInt64 {
			return math.MaxInt64
		}
		return int64(q)
	}
	// Overflowed 64 bits on the multiply; this never happens for realistic
	// frame counts and sample rates, but saturate rather than wrap.
	return math.MaxInt64
}

func bitsMulUint64(a, b uint64) (hi, lo uint64) {
	const mask32 = 0xFFFFFFFF
	aLo, aHi := a&mask32, a>>32
	bLo, bHi := b&mask32, b>>32

	t := aLo * bLo
	w0 := t & mask32
	k := t >> 32

	t = aHi*bLo + k
	w1 := t & mask32
	w2 := t >> 32

	t = aLo*bHi + w1
	k = t >> 32

	hi = aHi*bHi + w2 + k
	lo = (t << 32) | w0
	return hi, lo
}

func saturatingAddI64(a, b int64) int64 {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		if b > 0 {
			return math.MaxInt64
		}
		return math.MinInt64
	}
	return sum
}

// GaplessTrimSpec describes leading/trailing frames to discard from a
// decoder's output. Disabled iff both fields are zero.
type GaplessTrimSpec struct {
	HeadFrames uint32
	TailFrames uint32
}

// Disabled reports whether trimming is a no-op.
func (g GaplessTrimSpec) Disabled() bool {
	return g.HeadFrames == 0 && g.TailFrames == 0
}

// TransitionCurve selects the shape of a gain ramp.
type TransitionCurve int

const (
	CurveLinear TransitionCurve = iota
	CurveEqualPower
)

// TransitionTimePolicy controls how a ramp length is resolved against the
// frames actually available before the transition must complete.
type TransitionTimePolicy int

const (
	TimePolicyExact TransitionTimePolicy = iota
	TimePolicyFitToAvailable
)

// GainTransitionRequest is submitted via stage-control messages to the gain
// transform. Ramps are piecewise continuous and monotone from current gain.
type GainTransitionRequest struct {
	TargetGain          float64
	RampMs              uint32
	AvailableFramesHint *uint64
	Curve               TransitionCurve
	TimePolicy           TransitionTimePolicy
}

// AudioTaper implements MasterGainCurve.AudioTaper: level in [0,1] maps to a
// perceptual gain, strictly monotone increasing on (0,1).
func AudioTaper(level float64) float64 {
	if level <= 0 {
		return 0
	}
	if level >= 1 {
		return 1
	}
	db := -60 * (1 - level) * (1 - level)
	gain := math.Pow(10, db/20)
	if gain < 0 {
		return 0
	}
	if gain > 1 {
		return 1
	}
	return gain
}
