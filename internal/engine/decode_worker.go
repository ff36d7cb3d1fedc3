package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/sonora-audio/sonora/internal/errors"
	"github.com/sonora-audio/sonora/internal/logging"
)

// DecodeCommand is the command-channel payload processed by the decode
// worker's single-threaded loop (spec §4.7). Every command carries a reply
// channel for error propagation.
type DecodeCommand struct {
	Kind  DecodeCommandKind
	Reply chan error

	// Open
	InputRef     string
	StartPlaying bool

	// Pause/Stop
	Behavior StopBehavior

	// QueueNext
	QueueInputRef string

	// Seek
	SeekPositionMs int64

	// SetLfeMode / SetResampleQuality / ApplyStageControl
	LfeMode         LfeMode
	ResampleQuality ResampleQuality
	StageKey        string
	StageControl    any

	// ApplyPipelinePlan / ApplyPipelineMutation
	Plan     *SinkPlan
	Mutation any
}

type DecodeCommandKind int

const (
	CmdOpen DecodeCommandKind = iota
	CmdPlay
	CmdPause
	CmdStop
	CmdQueueNext
	CmdSeek
	CmdApplyPipelinePlan
	CmdApplyPipelineMutation
	CmdSetLfeMode
	CmdSetResampleQuality
	CmdApplyStageControl
	CmdShutdown
)

// RunnerFactory builds a fresh Runner for an input reference, used both for
// ordinary Open and for rebuilding the active runner during sink recovery.
type RunnerFactory func(ctx context.Context, inputRef string) (*Runner, *SinkPlan, uint64, error)

// RecoveryConfig mirrors SinkRecoveryConfig (spec §9).
type RecoveryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DecodeWorker owns the PCM pipeline for one track at a time: source ->
// decoder -> transforms -> sink queue, including seek, gapless trim, gain
// transitions, and sink-disconnect recovery. Grounded on the teacher's
// processing_pipeline.go panic-recovered single-goroutine loop, and on
// stellatune-audio/src/workers/decode/recovery.rs for the exact backoff and
// rebuild sequencing.
type DecodeWorker struct {
	logger *slog.Logger

	cmdCh chan DecodeCommand

	makeRunner RunnerFactory

	runner      *Runner
	pinnedPlan  *SinkPlan
	prewarmed   *prewarmedNext

	recovery RecoveryConfig

	persistedControls map[string]any
	persistedOrder     []string

	gain *MasterGainProcessor

	events func(Event)

	lfeMode         LfeMode
	resampleQuality ResampleQuality

	recoveryAttempt  int
	recoveryRetryAt  time.Time
	recovering       bool

	commandTimeout time.Duration
	idleSleep      time.Duration
	pendingSleep   time.Duration
}

type prewarmedNext struct {
	inputRef string
	runner   *Runner
}

// NewDecodeWorker constructs a worker. makeRunner builds a fresh Runner
// (with source/decoder/transforms already wired) for a given input ref.
func NewDecodeWorker(makeRunner RunnerFactory, recovery RecoveryConfig, gain *MasterGainProcessor, events func(Event)) *DecodeWorker {
	logger := logging.ForService("engine")
	if logger == nil {
		logger = slog.Default()
	}
	return &DecodeWorker{
		logger:            logger.With("component", "decode_worker"),
		cmdCh:             make(chan DecodeCommand, DefaultDecodeCommandCapacity),
		makeRunner:        makeRunner,
		recovery:          recovery,
		persistedControls: make(map[string]any),
		gain:              gain,
		events:            events,
		resampleQuality:   ResampleHigh,
		commandTimeout:    DefaultDecodeCommandTimeout,
		idleSleep:         DefaultDecodeIdleSleep,
		pendingSleep:      DefaultDecodePlayingPendingBlockSleep,
	}
}

// Submit enqueues a command, blocking up to commandTimeout if the queue is full.
func (w *DecodeWorker) Submit(ctx context.Context, cmd DecodeCommand) error {
	select {
	case w.cmdCh <- cmd:
		return nil
	case <-time.After(w.commandTimeout):
		return errors.New(ErrControlTimeout).Component(ComponentEngine).Category(errors.CategoryWorker).Build()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is the worker's single-threaded command+step loop. Intended to be
// launched on a dedicated goroutine named for debugging by the caller.
func (w *DecodeWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(DefaultPositionEventInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-w.cmdCh:
			if w.handle(ctx, cmd) {
				return
			}
		case <-ticker.C:
			if w.runner != nil && w.runner.State() == RunnerPlaying {
				w.emit(Event{Kind: EventPosition, PositionMs: w.runner.Context().PositionMs})
			}
		default:
			w.tick(ctx)
		}
	}
}

func (w *DecodeWorker) tick(ctx context.Context) {
	if w.recovering {
		if time.Now().Before(w.recoveryRetryAt) {
			time.Sleep(w.idleSleep)
			return
		}
		w.attemptRecovery(ctx)
		return
	}
	if w.runner == nil || w.runner.State() != RunnerPlaying {
		time.Sleep(w.idleSleep)
		return
	}
	result, err := w.runner.Step(ctx)
	if err != nil {
		if errors.Is(err, ErrSinkDisconnected) {
			w.beginRecovery()
			return
		}
		w.emit(Event{Kind: EventError, Message: err.Error()})
		_ = w.runner.Stop(ctx, StopImmediate)
		w.runner = nil
		return
	}
	switch result {
	case StepEof:
		w.handleEof(ctx)
	case StepIdle:
		time.Sleep(w.pendingSleep)
	}
}

func (w *DecodeWorker) handleEof(ctx context.Context) {
	w.emit(Event{Kind: EventEof})
	if w.prewarmed != nil {
		next := w.prewarmed
		w.prewarmed = nil
		_ = w.runner.Stop(ctx, StopImmediate)
		w.runner = next.runner
		w.replayPersistedControls(ctx)
		w.runner.SetState(RunnerPlaying)
		w.emit(Event{Kind: EventTrackChanged, InputRef: next.inputRef})
		return
	}
	_ = w.runner.Stop(ctx, StopImmediate)
	w.runner = nil
	w.emit(Event{Kind: EventStateChanged, State: RunnerStopped})
}

// handle processes a single command; returns true iff the worker should exit.
func (w *DecodeWorker) handle(ctx context.Context, cmd DecodeCommand) bool {
	var err error
	switch cmd.Kind {
	case CmdOpen:
		err = w.doOpen(ctx, cmd.InputRef, cmd.StartPlaying)
	case CmdPlay:
		if w.runner != nil {
			w.runner.SetState(RunnerPlaying)
		}
	case CmdPause:
		err = w.doStopOrPause(ctx, RunnerPaused, cmd.Behavior)
	case CmdStop:
		err = w.doStopOrPause(ctx, RunnerStopped, cmd.Behavior)
	case CmdQueueNext:
		err = w.doQueueNext(ctx, cmd.QueueInputRef)
	case CmdSeek:
		err = w.doSeek(cmd.SeekPositionMs)
	case CmdApplyPipelinePlan:
		// Stored only: Open, QueueNext and recovery take their sink plan
		// from makeRunner and do not read pinnedPlan.
		w.pinnedPlan = cmd.Plan
	case CmdApplyPipelineMutation:
		// Acknowledged and discarded: no transform-graph change is made.
	case CmdSetLfeMode:
		w.lfeMode = cmd.LfeMode
		if w.runner != nil {
			_ = w.runner.ApplyStageControl(ctx, "mixer", cmd.LfeMode)
		}
	case CmdSetResampleQuality:
		w.resampleQuality = cmd.ResampleQuality
		if w.runner != nil {
			_ = w.runner.ApplyStageControl(ctx, "resampler", cmd.ResampleQuality)
		}
	case CmdApplyStageControl:
		err = w.doApplyStageControl(ctx, cmd.StageKey, cmd.StageControl)
	case CmdShutdown:
		if w.runner != nil {
			_ = w.runner.Stop(ctx, StopDrainSink)
		}
		reply(cmd.Reply, nil)
		return true
	}
	reply(cmd.Reply, err)
	return false
}

func reply(ch chan error, err error) {
	if ch == nil {
		return
	}
	select {
	case ch <- err:
	default:
	}
}

func (w *DecodeWorker) doOpen(ctx context.Context, inputRef string, startPlaying bool) error {
	if w.runner != nil {
		if w.runner.State() == RunnerPlaying {
			w.fadeOut(ctx, DefaultSwitchFadeOutMs)
		}
		_ = w.runner.Stop(ctx, StopImmediate)
		w.runner = nil
	}

	runner, plan, fingerprint, err := w.makeRunner(ctx, inputRef)
	if err != nil {
		return err
	}
	if err := runner.PrepareDecode(ctx, inputRef); err != nil {
		return err
	}
	if _, err := runner.ActivateSink(ctx, fingerprint, plan, ImmediateCutover, SinkLatencyConfig{
		TargetLatencyMs: DefaultTargetLatencyMs,
		SampleRate:      int(runner.outputSpec.SampleRate),
		BlockFrames:     DefaultBlockFrames,
		MinQueueBlocks:  DefaultMinQueueBlocks,
		MaxQueueBlocks:  DefaultMaxQueueBlocks,
	}); err != nil {
		return err
	}

	w.runner = runner
	w.replayPersistedControls(ctx)
	if startPlaying {
		runner.SetState(RunnerPlaying)
	} else {
		runner.SetState(RunnerPaused)
	}
	w.emit(Event{Kind: EventPosition, PositionMs: 0})
	w.emit(Event{Kind: EventTrackChanged, InputRef: inputRef})
	return nil
}

func (w *DecodeWorker) doStopOrPause(ctx context.Context, target RunnerState, behavior StopBehavior) error {
	if w.runner == nil {
		return nil
	}
	if target == RunnerPaused {
		w.fadeOut(ctx, DefaultPauseFadeOutMs)
	} else {
		w.fadeOut(ctx, DefaultStopFadeOutMs)
	}
	if behavior == StopDrainSink {
		if err := w.runner.Drain(ctx); err != nil {
			return err
		}
	}
	w.runner.SetState(target)
	w.emit(Event{Kind: EventStateChanged, State: target})
	return nil
}

func (w *DecodeWorker) doQueueNext(ctx context.Context, inputRef string) error {
	runner, _, _, err := w.makeRunner(ctx, inputRef)
	if err != nil {
		return err
	}
	if err := runner.PrepareDecode(ctx, inputRef); err != nil {
		return err
	}
	w.prewarmed = &prewarmedNext{inputRef: inputRef, runner: runner}
	return nil
}

func (w *DecodeWorker) doSeek(positionMs int64) error {
	if w.runner == nil {
		return errors.New(ErrNotPrepared).Component(ComponentEngine).Category(errors.CategoryState).Build()
	}
	w.runner.pendingSinkBlock = nil
	w.runner.Context().RequestSeek(positionMs)
	return nil
}

func (w *DecodeWorker) doApplyStageControl(ctx context.Context, stageKey string, control any) error {
	w.persistControl(stageKey, control)
	if w.runner == nil {
		return nil
	}
	return w.runner.ApplyStageControl(ctx, stageKey, control)
}

func (w *DecodeWorker) persistControl(stageKey string, control any) {
	if _, exists := w.persistedControls[stageKey]; !exists {
		w.persistedOrder = append(w.persistedOrder, stageKey)
	}
	w.persistedControls[stageKey] = control
}

func (w *DecodeWorker) replayPersistedControls(ctx context.Context) {
	for _, key := range w.persistedOrder {
		_ = w.runner.ApplyStageControl(ctx, key, w.persistedControls[key])
	}
}

func (w *DecodeWorker) fadeOut(ctx context.Context, ms uint32) {
	if w.runner == nil {
		return
	}
	hint, _ := w.runner.RemainingFramesHint()
	req := GainTransitionRequest{TargetGain: 0, RampMs: ms, Curve: CurveEqualPower, TimePolicy: TimePolicyFitToAvailable}
	if hint > 0 {
		req.AvailableFramesHint = &hint
	}
	_ = w.runner.ApplyStageControl(ctx, "main.gain.0", TransitionGainControl{Request: req})
}

// beginRecovery starts sink-disconnect recovery (spec §4.7).
func (w *DecodeWorker) beginRecovery() {
	w.recovering = true
	w.recoveryAttempt = 1
	backoff := computeRecoveryBackoff(1, w.recovery.InitialBackoff, w.recovery.MaxBackoff)
	w.recoveryRetryAt = time.Now().Add(backoff)
	w.emit(Event{Kind: EventRecovering, Attempt: 1, BackoffMs: backoff.Milliseconds()})
}

// computeRecoveryBackoff implements P8 / stellatune's
// compute_recovery_backoff: backoff(n) = min(initial << min(n-1,16), max).
func computeRecoveryBackoff(attempt int, initial, max time.Duration) time.Duration {
	shift := attempt - 1
	if shift > MaxBackoffShiftExponent {
		shift = MaxBackoffShiftExponent
	}
	if shift < 0 {
		shift = 0
	}
	backoff := initial << uint(shift)
	if backoff > max || backoff <= 0 {
		return max
	}
	return backoff
}

func (w *DecodeWorker) attemptRecovery(ctx context.Context) {
	resumePosition := int64(0)
	if w.runner != nil {
		resumePosition = w.runner.Context().PositionMs
	}
	inputRef := ""
	if w.runner != nil {
		inputRef = w.runner.lastInputRef()
	}

	runner, plan, fingerprint, err := w.makeRunner(ctx, inputRef)
	if err == nil {
		err = runner.PrepareDecode(ctx, inputRef)
	}
	if err == nil {
		_, err = runner.ActivateSink(ctx, fingerprint, plan, ImmediateCutover, SinkLatencyConfig{
			TargetLatencyMs: DefaultTargetLatencyMs,
			SampleRate:      int(runner.outputSpec.SampleRate),
			BlockFrames:     DefaultBlockFrames,
			MinQueueBlocks:  DefaultMinQueueBlocks,
			MaxQueueBlocks:  DefaultMaxQueueBlocks,
		})
	}
	if err != nil {
		w.recoveryAttempt++
		if w.recoveryAttempt > w.recovery.MaxAttempts {
			w.recovering = false
			w.emit(Event{Kind: EventError, Message: "sink recovery exhausted: " + err.Error()})
			return
		}
		backoff := computeRecoveryBackoff(w.recoveryAttempt, w.recovery.InitialBackoff, w.recovery.MaxBackoff)
		w.recoveryRetryAt = time.Now().Add(backoff)
		w.emit(Event{Kind: EventRecovering, Attempt: w.recoveryAttempt, BackoffMs: backoff.Milliseconds()})
		return
	}

	w.replayPersistedControls(ctx)
	w.gain.SetTarget(1.0, 0)
	if resumePosition > 0 {
		runner.Context().RequestSeek(resumePosition)
		runner.Context().PositionMs = resumePosition
	}
	runner.SetState(RunnerPlaying)
	w.runner = runner
	w.recovering = false
}

// lastInputRef is a placeholder hook for pipelines that track their opened
// input ref on the runner; concrete integrations set this via SourceStage.
func (r *Runner) lastInputRef() string {
	if r.sourceHandle != nil {
		return r.sourceHandle.Ref()
	}
	return ""
}
