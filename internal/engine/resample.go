package engine

import (
	"context"

	"github.com/klauspost/cpuid/v2"
)

// ResampleQuality selects the resampler's interpolation strategy (spec §6).
type ResampleQuality int

const (
	ResampleFast ResampleQuality = iota
	ResampleBalanced
	ResampleHigh
	ResampleUltra
)

// resampleChunkFrames is a fixed chunk size in input frames. Process does
// not use it: each block is converted in a single pass over all its frames.
const resampleChunkFrames = 256

// ResamplerStage performs per-block sample-rate conversion. It is only
// inserted into a pipeline when the input sample rate differs from the
// target; construction still requires both rates so Prepare can validate.
//
// Quality selects the interpolation strategy; on CPUs with wide SIMD lanes
// (AVX2/AVX512/NEON) the Balanced/High/Ultra tiers use a wider unrolled
// linear inner loop, falling back to a scalar loop otherwise and for the
// Fast tier. This mirrors
// how the teacher's inference path picks a strategy from klauspost/cpuid/v2
// feature flags rather than runtime benchmarking.
type ResamplerStage struct {
	targetRate uint32
	quality    ResampleQuality
	stageKey   string

	inRate   uint32
	channels uint16
	ratio    float64

	// fractional read position carried across Process calls, in input-frame
	// units, so chunk boundaries don't introduce audible clicks.
	pos float64

	wideSIMD bool
}

// NewResamplerStage targets targetRate at the given quality tier.
func NewResamplerStage(targetRate uint32, quality ResampleQuality, stageKey string) *ResamplerStage {
	return &ResamplerStage{
		targetRate: targetRate,
		quality:    quality,
		stageKey:   stageKey,
		wideSIMD:   cpuid.CPU.Has(cpuid.AVX2) || cpuid.CPU.Has(cpuid.ASIMD),
	}
}

func (r *ResamplerStage) Prepare(ctx context.Context, inSpec StreamSpec) (StreamSpec, error) {
	if err := inSpec.Validate(); err != nil {
		return StreamSpec{}, err
	}
	r.inRate = inSpec.SampleRate
	r.channels = inSpec.Channels
	r.ratio = float64(r.targetRate) / float64(r.inRate)
	r.pos = 0
	return StreamSpec{SampleRate: r.targetRate, Channels: inSpec.Channels}, nil
}

func (r *ResamplerStage) Process(ctx context.Context, block *AudioBlock) (StageStatus, error) {
	if r.inRate == r.targetRate {
		return StatusOk, nil
	}
	ch := int(block.Channels)
	if ch == 0 {
		ch = 1
	}
	inFrames := block.Frames()
	if inFrames == 0 {
		return StatusOk, nil
	}

	outFrames := int(float64(inFrames) * r.ratio)
	out := make([]float32, outFrames*ch)

	// Single pass over the whole block: every output frame of this block is
	// produced here, with the fractional source position carried in r.pos.
	var srcPos float64
	if r.wideSIMD && r.quality != ResampleFast {
		srcPos = r.resampleWide(block.Samples, out, r.pos, inFrames, outFrames, ch)
	} else {
		srcPos = r.resampleScalar(block.Samples, out, r.pos, inFrames, outFrames, ch)
	}
	r.pos = srcPos - float64(inFrames)
	if r.pos < 0 {
		r.pos = 0
	}

	block.Samples = out
	return StatusOk, nil
}

// resampleFrame writes one interpolated output frame at position of and
// returns the advanced fractional source position.
func (r *ResamplerStage) resampleFrame(in, out []float32, srcPos float64, inFrames, ch, of int) float64 {
	srcIdx := int(srcPos)
	if srcIdx >= inFrames-1 {
		srcIdx = inFrames - 2
		if srcIdx < 0 {
			srcIdx = 0
		}
	}
	frac := float32(srcPos - float64(srcIdx))
	for c := 0; c < ch; c++ {
		a := in[srcIdx*ch+c]
		var b float32
		if srcIdx+1 < inFrames {
			b = in[(srcIdx+1)*ch+c]
		} else {
			b = a
		}
		out[of*ch+c] = lerpSample(a, b, frac, r.quality)
	}
	return srcPos + 1.0/r.ratio
}

// resampleScalar advances one output frame per loop iteration. This is the
// path used on CPUs without wide SIMD lanes, and for the Fast quality tier
// regardless of CPU (its nearest-neighbor lerp gains nothing from unrolling).
func (r *ResamplerStage) resampleScalar(in, out []float32, srcPos float64, inFrames, outFrames, ch int) float64 {
	for of := 0; of < outFrames; of++ {
		srcPos = r.resampleFrame(in, out, srcPos, inFrames, ch, of)
	}
	return srcPos
}

// resampleWideUnroll is the number of output frames advanced per loop body
// in resampleWide.
const resampleWideUnroll = 4

// resampleWide advances resampleWideUnroll output frames per loop iteration
// on CPUs with AVX2 or NEON (wide SIMD lanes, see NewResamplerStage), giving
// the compiler a flatter loop body to autovectorize across frames instead of
// re-entering loop control every single sample.
func (r *ResamplerStage) resampleWide(in, out []float32, srcPos float64, inFrames, outFrames, ch int) float64 {
	of := 0
	for ; of+resampleWideUnroll <= outFrames; of += resampleWideUnroll {
		srcPos = r.resampleFrame(in, out, srcPos, inFrames, ch, of)
		srcPos = r.resampleFrame(in, out, srcPos, inFrames, ch, of+1)
		srcPos = r.resampleFrame(in, out, srcPos, inFrames, ch, of+2)
		srcPos = r.resampleFrame(in, out, srcPos, inFrames, ch, of+3)
	}
	for ; of < outFrames; of++ {
		srcPos = r.resampleFrame(in, out, srcPos, inFrames, ch, of)
	}
	return srcPos
}

func lerpSample(a, b, frac float32, quality ResampleQuality) float32 {
	if quality == ResampleFast {
		// Nearest-neighbor: cheapest strategy, no interpolation.
		if frac < 0.5 {
			return a
		}
		return b
	}
	// Balanced/High/Ultra all use linear interpolation here; the quality
	// tier otherwise only affects the scalar-vs-unrolled loop choice upstream,
	// since true polyphase/cubic filtering belongs to a plugin DSP stage
	// rather than this built-in resampler.
	return a + (b-a)*frac
}

func (r *ResamplerStage) ApplyControl(ctx context.Context, control any) (bool, error) {
	if q, ok := control.(ResampleQuality); ok {
		r.quality = q
		return true, nil
	}
	return false, nil
}

func (r *ResamplerStage) Flush(ctx context.Context) error { r.pos = 0; return nil }
func (r *ResamplerStage) Stop(ctx context.Context) error  { return nil }
func (r *ResamplerStage) StageKey() string                { return r.stageKey }
