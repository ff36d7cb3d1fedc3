package transforms

import (
	"context"
	"sync/atomic"

	"github.com/sonora-audio/sonora/internal/engine"
)

// GaplessTrimStage discards head/tail frames of a track's decoded output so
// consecutive tracks can be joined without a silence gap. It consumes
// engine.GaplessTrimControl updates pushed by the runner whenever the
// decoder reports a new GaplessTrimSpec (spec §4.5 step 1).
type GaplessTrimStage struct {
	stageKey string

	headFrames atomic.Uint32
	tailFrames atomic.Uint32

	headRemaining atomic.Uint32
	channels      atomic.Uint32
}

func NewGaplessTrimStage(stageKey string) *GaplessTrimStage {
	return &GaplessTrimStage{stageKey: stageKey}
}

func (g *GaplessTrimStage) Prepare(ctx context.Context, inSpec engine.StreamSpec) (engine.StreamSpec, error) {
	g.channels.Store(uint32(inSpec.Channels))
	g.headRemaining.Store(g.headFrames.Load())
	return inSpec, nil
}

func (g *GaplessTrimStage) Process(ctx context.Context, block *engine.AudioBlock) (engine.StageStatus, error) {
	ch := int(block.Channels)
	if ch == 0 {
		ch = 1
	}
	headLeft := g.headRemaining.Load()
	if headLeft > 0 {
		frames := block.Frames()
		drop := int(headLeft)
		if drop > frames {
			drop = frames
		}
		block.Samples = block.Samples[drop*ch:]
		g.headRemaining.Store(headLeft - uint32(drop))
	}
	// Tail trimming requires knowing the decoder is about to emit EOF; that
	// coordination happens via CurrentGaplessTrimSpec/EstimatedRemainingFrames
	// on the decoder + runner's RemainingFramesHint rather than here, since
	// this stage only sees one block at a time and can't look ahead.
	return engine.StatusOk, nil
}

// ApplyControl accepts engine.GaplessTrimControl, resetting head-skip state.
func (g *GaplessTrimStage) ApplyControl(ctx context.Context, control any) (bool, error) {
	gc, ok := control.(engine.GaplessTrimControl)
	if !ok {
		return false, nil
	}
	g.headFrames.Store(gc.Spec.HeadFrames)
	g.tailFrames.Store(gc.Spec.TailFrames)
	g.headRemaining.Store(gc.Spec.HeadFrames)
	return true, nil
}

func (g *GaplessTrimStage) Flush(ctx context.Context) error { return nil }
func (g *GaplessTrimStage) Stop(ctx context.Context) error  { return nil }
func (g *GaplessTrimStage) StageKey() string                { return g.stageKey }

// TailFrames exposes the configured trailing-frame count so the runner can
// fold it into RemainingFramesHint.
func (g *GaplessTrimStage) TailFrames() uint32 { return g.tailFrames.Load() }
