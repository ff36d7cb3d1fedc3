package engine

import (
	"context"
	"log/slog"

	"github.com/sonora-audio/sonora/internal/errors"
	"github.com/sonora-audio/sonora/internal/logging"
)

// RunnerState is the pipeline runner's state machine (spec §4.5).
type RunnerState int

const (
	RunnerStopped RunnerState = iota
	RunnerPaused
	RunnerPlaying
)

// SinkActivationMode selects how activate_sink reconciles a new output spec
// against any existing sink session (spec §4.5).
type SinkActivationMode int

const (
	ImmediateCutover SinkActivationMode = iota
	PreserveQueued
	ForceRecreate
)

// StopBehavior controls whether stop/pause drains pending sink blocks first.
type StopBehavior int

const (
	StopImmediate StopBehavior = iota
	StopDrainSink
)

// SinkPlan is the one-shot producer of a concrete SinkStage plus its route
// fingerprint, consumed exactly once by activate_sink.
type SinkPlan struct {
	RouteFingerprint uint64
	Build            func() (SinkStage, error)
}

// StepResult is the return value of Runner.Step.
type StepResult int

const (
	StepProduced StepResult = iota
	StepIdle
	StepEof
)

// Runner binds stages for a single track session and drives the step loop
// (spec §4.5), grounded on the teacher's processing_pipeline.go threading
// and panic-recovered loop structure, generalized from capture to playback.
type Runner struct {
	logger *slog.Logger

	state RunnerState

	source     SourceStage
	sourceHandle SourceHandle
	decoder    DecoderStage
	transforms []TransformStage
	transformByKey map[string]TransformStage

	decoderSpec StreamSpec
	outputSpec  StreamSpec

	ctx *PipelineContext

	gaplessSpec   GaplessTrimSpec
	gaplessStage  TransformStage // the gapless-trim transform, if present

	sinkSession *SinkSession
	sinkPlan    *SinkPlan
	planConsumed bool

	pendingSinkBlock *AudioBlock

	decodePrepared bool

	blockFrames int

	// blockPool supplies the Samples backing array for every decoded block
	// and is shared with the sink session so a block's buffer returns here
	// once the sink is done with it instead of being discarded with the GC.
	blockPool *BlockPool
}

// NewRunner constructs a runner with the given transform chain, indexing
// transforms by StageKey. Construction fails on duplicate non-empty keys
// (an empty key means "no routed controls" and many transforms may share
// it).
func NewRunner(source SourceStage, decoder DecoderStage, transforms []TransformStage, blockFrames int, gaplessStage TransformStage) (*Runner, error) {
	byKey := make(map[string]TransformStage)
	for _, t := range transforms {
		key := t.StageKey()
		if key == "" {
			continue
		}
		if _, exists := byKey[key]; exists {
			return nil, errors.New(ErrDuplicateStageKey).
				Component(ComponentEngine).
				Category(errors.CategoryStage).
				Context("stage_key", key).
				Build()
		}
		byKey[key] = t
	}
	logger := logging.ForService("engine")
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		logger:         logger.With("component", "runner"),
		source:         source,
		decoder:        decoder,
		transforms:     transforms,
		transformByKey: byKey,
		ctx:            &PipelineContext{},
		blockFrames:    blockFrames,
		gaplessStage:   gaplessStage,
		blockPool:      NewBlockPool(DefaultBlockPoolConfig),
	}, nil
}

// PrepareDecode opens the source and decoder, caching decoder/output specs.
func (r *Runner) PrepareDecode(ctx context.Context, inputRef string) error {
	if r.decodePrepared {
		return errors.New(ErrStageFailure).
			Component(ComponentEngine).
			Category(errors.CategoryStage).
			Context("detail", "decode already prepared").
			Build()
	}

	handle, err := r.source.Prepare(ctx, inputRef, r.ctx)
	if err != nil {
		return err
	}
	r.sourceHandle = handle

	decSpec, err := r.decoder.Prepare(ctx, handle, r.ctx)
	if err != nil {
		return err
	}
	r.decoderSpec = decSpec

	spec := decSpec
	for _, t := range r.transforms {
		spec, err = t.Prepare(ctx, spec)
		if err != nil {
			return err
		}
	}
	r.outputSpec = spec
	r.decodePrepared = true
	r.gaplessSpec = r.decoder.CurrentGaplessTrimSpec()
	return nil
}

// ActivateSink reconciles the sink session against mode and the cached
// output spec (spec §4.5).
func (r *Runner) ActivateSink(ctx context.Context, routeFingerprint uint64, plan *SinkPlan, mode SinkActivationMode, cfg SinkLatencyConfig) (reused bool, err error) {
	if mode == ForceRecreate && r.sinkSession != nil {
		_ = r.sinkSession.Shutdown(ctx, false)
		r.sinkSession = nil
		r.planConsumed = false
	}

	if mode == ImmediateCutover && r.sinkSession != nil {
		if dropErr := r.sinkSession.DropQueued(ctx); dropErr != nil {
			if errors.Is(dropErr, ErrSinkDisconnected) {
				_ = r.sinkSession.Shutdown(ctx, false)
				r.sinkSession = nil
				r.planConsumed = false
			}
		}
	}

	if r.sinkSession != nil && r.sinkSession.Matches(r.outputSpec, routeFingerprint) {
		return true, nil
	}

	if r.planConsumed {
		return false, errors.New(ErrPlanAlreadyConsumed).
			Component(ComponentEngine).
			Category(errors.CategoryState).
			Build()
	}
	if plan == nil {
		return false, errors.New(ErrStageFailure).
			Component(ComponentEngine).
			Category(errors.CategoryStage).
			Context("detail", "missing sink plan").
			Build()
	}

	sink, err := plan.Build()
	if err != nil {
		return false, err
	}
	queueCap := sinkQueueCapacity(cfg)
	session := NewSinkSession(sink, queueCap, r.blockPool)
	if err := session.Activate(ctx, r.outputSpec); err != nil {
		return false, err
	}
	r.sinkSession = session
	r.sinkPlan = plan
	r.planConsumed = true
	return false, nil
}

func sinkQueueCapacity(cfg SinkLatencyConfig) int {
	blockFrames := cfg.BlockFrames
	if blockFrames == 0 {
		blockFrames = DefaultBlockFrames
	}
	n := (cfg.TargetLatencyMs*cfg.SampleRate + 999) / 1000 / blockFrames
	if n < cfg.MinQueueBlocks {
		n = cfg.MinQueueBlocks
	}
	if n > cfg.MaxQueueBlocks {
		n = cfg.MaxQueueBlocks
	}
	if n <= 0 {
		n = DefaultMinQueueBlocks
	}
	return n
}

// SetState transitions between Playing/Paused. Stop/StopWithBehavior are
// separate since they tear down stages.
func (r *Runner) SetState(s RunnerState) {
	r.state = s
}

func (r *Runner) State() RunnerState { return r.state }

// Context exposes the mutable pipeline context for seek/position updates.
func (r *Runner) Context() *PipelineContext { return r.ctx }

// Step runs one iteration of the step loop (spec §4.5, numbered 1-6).
func (r *Runner) Step(ctx context.Context) (StepResult, error) {
	// 1. sync_runtime_control across source/decoder/transforms/sink.
	if err := r.source.SyncRuntimeControl(ctx, r.ctx); err != nil {
		return StepIdle, err
	}
	newGapless := r.decoder.CurrentGaplessTrimSpec()
	if newGapless != r.gaplessSpec {
		r.gaplessSpec = newGapless
		if r.gaplessStage != nil {
			_, _ = r.gaplessStage.ApplyControl(ctx, GaplessTrimControl{Spec: newGapless, PositionMs: r.ctx.PositionMs})
		}
	}
	if r.sinkSession != nil {
		if err := r.sinkSession.SyncRuntimeControl(ctx); err != nil {
			return StepIdle, err
		}
	}

	// 2. consume pending_seek.
	if pos, ok := r.ctx.ClearPendingSeek(); ok {
		r.ctx.PositionMs = pos
	}

	// 3. refresh playable_remaining_frames_hint (exposed via RemainingFramesHint).

	// 4. retry pending_sink_block.
	if r.pendingSinkBlock != nil {
		status, err := r.trySendToSink(ctx, r.pendingSinkBlock)
		if err != nil {
			return StepIdle, err
		}
		if status == sinkPushFull {
			return StepIdle, nil
		}
		if status == sinkPushDisconnected {
			return StepIdle, errors.New(ErrSinkDisconnected).Component(ComponentEngine).Category(errors.CategorySink).Build()
		}
		r.pendingSinkBlock = nil
	}

	// 5. decode next block, run through transforms.
	block := &AudioBlock{Channels: r.decoderSpec.Channels, Samples: r.blockPool.Get(r.blockFrames * int(r.decoderSpec.Channels))}
	status, err := r.decoder.NextBlock(ctx, block)
	if err != nil {
		return StepIdle, err
	}
	if status == StatusEof {
		return StepEof, nil
	}
	if status == StatusFatal {
		detail, _ := RuntimeErrorDetail(err)
		return StepIdle, errors.New(ErrStageFailure).Component(ComponentEngine).Category(errors.CategoryStage).Context("detail", detail).Build()
	}
	producedFrames := uint64(block.Frames())
	for _, t := range r.transforms {
		tStatus, tErr := t.Process(ctx, block)
		if tErr != nil {
			return StepIdle, tErr
		}
		if tStatus == StatusFatal {
			detail, _ := RuntimeErrorDetail(tErr)
			return StepIdle, errors.New(ErrStageFailure).Component(ComponentEngine).Category(errors.CategoryStage).Context("detail", detail).Build()
		}
	}

	// 6. push; update position only on success.
	pushStatus, err := r.trySendToSink(ctx, block)
	if err != nil {
		return StepIdle, err
	}
	switch pushStatus {
	case sinkPushOk:
		r.ctx.AdvanceFrames(producedFrames, r.outputSpec.SampleRate)
		return StepProduced, nil
	case sinkPushFull:
		r.pendingSinkBlock = block
		return StepIdle, nil
	default:
		return StepIdle, errors.New(ErrSinkDisconnected).Component(ComponentEngine).Category(errors.CategorySink).Build()
	}
}

type sinkPushStatus int

const (
	sinkPushOk sinkPushStatus = iota
	sinkPushFull
	sinkPushDisconnected
)

func (r *Runner) trySendToSink(ctx context.Context, block *AudioBlock) (sinkPushStatus, error) {
	if r.sinkSession == nil {
		return sinkPushDisconnected, nil
	}
	return r.sinkSession.TrySendBlock(ctx, block)
}

// RemainingFramesHint implements step 3: scale decoder-remaining frames into
// the output domain, subtracting the gapless tail when a trim transform is
// present (spec S3).
func (r *Runner) RemainingFramesHint() (uint64, bool) {
	remaining, ok := r.decoder.EstimatedRemainingFrames()
	if !ok {
		return 0, false
	}
	if r.gaplessStage != nil && !r.gaplessSpec.Disabled() {
		tail := uint64(r.gaplessSpec.TailFrames)
		if tail > remaining {
			remaining = 0
		} else {
			remaining -= tail
		}
	}
	return scaleToOutputDomain(remaining, r.decoderSpec.SampleRate, r.outputSpec.SampleRate), true
}

func scaleToOutputDomain(frames uint64, inRate, outRate uint32) uint64 {
	if inRate == 0 || inRate == outRate {
		return frames
	}
	return frames * uint64(outRate) / uint64(inRate)
}

// Drain flushes the pipeline: decoder -> transforms -> pending sink blocks ->
// transform-tail pushes -> sink.drain (spec §4.5).
func (r *Runner) Drain(ctx context.Context) error {
	if err := r.decoder.Flush(ctx); err != nil {
		return err
	}
	for _, t := range r.transforms {
		if err := t.Flush(ctx); err != nil {
			return err
		}
	}

	attempts := 0
	for r.pendingSinkBlock != nil && attempts < MaxPendingSinkFlushAttempts {
		status, err := r.trySendToSink(ctx, r.pendingSinkBlock)
		if err != nil {
			return err
		}
		if status == sinkPushOk {
			r.pendingSinkBlock = nil
			break
		}
		attempts++
	}
	if r.pendingSinkBlock != nil && attempts >= MaxPendingSinkFlushAttempts {
		return errors.New(ErrStageFailure).Component(ComponentEngine).Category(errors.CategoryStage).
			Context("detail", "exceeded MAX_PENDING_SINK_FLUSH_ATTEMPTS").Build()
	}

	for i := 0; i < MaxDrainTailIterations; i++ {
		block := &AudioBlock{Channels: r.outputSpec.Channels}
		hadTail := false
		for _, t := range r.transforms {
			status, err := t.Process(ctx, block)
			if err != nil {
				return err
			}
			if status == StatusOk && len(block.Samples) > 0 {
				hadTail = true
			}
		}
		if !hadTail {
			break
		}
		if _, err := r.trySendToSink(ctx, block); err != nil {
			return err
		}
		if i == MaxDrainTailIterations-1 {
			return errors.New(ErrStageFailure).Component(ComponentEngine).Category(errors.CategoryStage).
				Context("detail", "exceeded MAX_DRAIN_TAIL_ITERATIONS").Build()
		}
	}

	if r.sinkSession != nil {
		return r.sinkSession.Drain(ctx)
	}
	return nil
}

// Stop tears down the runner's stages, calling Stop on every exit path.
func (r *Runner) Stop(ctx context.Context, behavior StopBehavior) error {
	if behavior == StopDrainSink {
		_ = r.Drain(ctx)
	}
	for _, t := range r.transforms {
		_ = t.Stop(ctx)
	}
	_ = r.decoder.Stop(ctx)
	_ = r.source.Stop(ctx)
	if r.sinkSession != nil {
		_ = r.sinkSession.Shutdown(ctx, behavior == StopDrainSink)
	}
	r.state = RunnerStopped
	return nil
}

// ApplyStageControl routes a control message to the transform registered
// under stageKey (spec §4.5 Transform-control routing).
func (r *Runner) ApplyStageControl(ctx context.Context, stageKey string, control any) error {
	t, ok := r.transformByKey[stageKey]
	if !ok {
		return errors.New(ErrUnknownStageKey).
			Component(ComponentEngine).
			Category(errors.CategoryStage).
			Context("stage_key", stageKey).
			Build()
	}
	consumed, err := t.ApplyControl(ctx, control)
	if err != nil {
		return err
	}
	if !consumed {
		return errors.New(ErrStageFailure).
			Component(ComponentEngine).
			Category(errors.CategoryStage).
			Context("detail", "control rejected by stage").
			Context("stage_key", stageKey).
			Build()
	}
	return nil
}

// SinkLatencyConfig mirrors spec §9 (defined here so runner.go is
// self-contained for queue-capacity math; config.go re-exports the same
// shape for the configuration layer).
type SinkLatencyConfig struct {
	TargetLatencyMs int
	SampleRate      int
	BlockFrames     int
	MinQueueBlocks  int
	MaxQueueBlocks  int
}
