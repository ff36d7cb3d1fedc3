// Package transforms provides built-in TransformStage implementations:
// master-gain transitions and gapless-head/tail trimming. Production DSP
// (EQ, limiters, effects) is supplied by plugins per spec.md's Non-goals.
package transforms

import (
	"context"
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/sonora-audio/sonora/internal/engine"
	"github.com/sonora-audio/sonora/internal/errors"
	"github.com/sonora-audio/sonora/internal/logging"
)

// GainStage applies a gain-transition ramp in the style of the teacher's
// GainProcessor (atomic-held gain swapped without locking the hot path),
// generalized to accept GainTransitionRequest stage-control messages
// instead of a single static multiplier.
type GainStage struct {
	id       string
	stageKey string
	logger   *slog.Logger

	sampleRate atomic.Uint32

	currentGain atomic.Uint64 // math.Float64bits
	targetGain  atomic.Uint64
	rampFrames  atomic.Uint64
	stepped     atomic.Uint64
}

// NewGainStage constructs a gain transform routed under stageKey.
func NewGainStage(id, stageKey string) *GainStage {
	logger := logging.ForService("engine")
	if logger == nil {
		logger = slog.Default()
	}
	g := &GainStage{id: id, stageKey: stageKey, logger: logger.With("component", "engine.transforms.gain", "id", id)}
	g.currentGain.Store(math.Float64bits(1.0))
	g.targetGain.Store(math.Float64bits(1.0))
	return g
}

func (g *GainStage) Prepare(ctx context.Context, inSpec engine.StreamSpec) (engine.StreamSpec, error) {
	g.sampleRate.Store(inSpec.SampleRate)
	return inSpec, nil
}

func (g *GainStage) Process(ctx context.Context, block *engine.AudioBlock) (engine.StageStatus, error) {
	cur := math.Float64frombits(g.currentGain.Load())
	target := math.Float64frombits(g.targetGain.Load())
	ramp := g.rampFrames.Load()
	ch := int(block.Channels)
	if ch == 0 {
		ch = 1
	}
	frames := block.Frames()

	for f := 0; f < frames; f++ {
		if ramp > 0 && cur != target {
			step := g.stepped.Add(1)
			frac := float64(step) / float64(ramp)
			if frac >= 1 {
				cur = target
				g.rampFrames.Store(0)
			} else {
				cur = cur + (target-cur)*frac
			}
			g.currentGain.Store(math.Float64bits(cur))
		}
		for c := 0; c < ch; c++ {
			idx := f*ch + c
			block.Samples[idx] = block.Samples[idx] * float32(cur)
		}
	}
	return engine.StatusOk, nil
}

// ApplyControl accepts engine.TransitionGainControl and begins a new ramp.
func (g *GainStage) ApplyControl(ctx context.Context, control any) (bool, error) {
	tc, ok := control.(engine.TransitionGainControl)
	if !ok {
		return false, nil
	}
	req := tc.Request
	rate := g.sampleRate.Load()
	if rate == 0 {
		return false, errors.New(engine.ErrNotPrepared).
			Component("engine.transforms").
			Category(errors.CategoryStage).
			Build()
	}
	rampFrames := uint64(req.RampMs) * uint64(rate) / 1000
	if req.TimePolicy == engine.TimePolicyFitToAvailable && req.AvailableFramesHint != nil && *req.AvailableFramesHint < rampFrames {
		rampFrames = *req.AvailableFramesHint
	}
	g.targetGain.Store(math.Float64bits(req.TargetGain))
	if rampFrames == 0 {
		g.currentGain.Store(math.Float64bits(req.TargetGain))
	}
	g.rampFrames.Store(rampFrames)
	g.stepped.Store(0)
	return true, nil
}

func (g *GainStage) Flush(ctx context.Context) error { return nil }
func (g *GainStage) Stop(ctx context.Context) error  { return nil }
func (g *GainStage) StageKey() string                { return g.stageKey }
