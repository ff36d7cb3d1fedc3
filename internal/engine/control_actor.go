package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sonora-audio/sonora/internal/errors"
	"github.com/sonora-audio/sonora/internal/logging"
)

// PauseBehavior mirrors spec §6; StopBehavior is shared with runner.go.
type PauseBehavior = StopBehavior

// Snapshot is the control actor's point-in-time state report.
type Snapshot struct {
	State        RunnerState
	CurrentTrack string
	PositionMs   int64
}

// controlRequest is the single-writer mailbox payload (spec §4.8, §5).
type controlRequest struct {
	fn    func(ctx context.Context) (any, error)
	reply chan controlReply
}

type controlReply struct {
	value any
	err   error
}

// ControlActor serializes public commands onto the decode worker and owns
// the master-gain hot-control cell, exactly as spec §4.8 describes: a
// single-writer actor with per-command timeouts and a lock-free volume
// path that bypasses the mailbox entirely.
type ControlActor struct {
	logger *slog.Logger

	mailbox chan controlRequest
	worker  *DecodeWorker
	hub     *EventHub

	commandTimeout time.Duration

	gain *MasterGainProcessor
	volumeSeq atomic.Uint64

	currentTrack atomic.Value // string
	state        atomic.Int32

	done chan struct{}
}

// NewControlActor wires a worker, its shared gain cell, and an event hub.
func NewControlActor(worker *DecodeWorker, gain *MasterGainProcessor, hub *EventHub) *ControlActor {
	logger := logging.ForService("engine")
	if logger == nil {
		logger = slog.Default()
	}
	a := &ControlActor{
		logger:         logger.With("component", "control_actor"),
		mailbox:        make(chan controlRequest),
		worker:         worker,
		hub:            hub,
		commandTimeout: DefaultCommandTimeout,
		gain:           gain,
		done:           make(chan struct{}),
	}
	a.currentTrack.Store("")
	return a
}

// Run processes the mailbox until ctx is cancelled or Shutdown completes.
func (a *ControlActor) Run(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-a.mailbox:
			val, err := req.fn(ctx)
			select {
			case req.reply <- controlReply{value: val, err: err}:
			default:
			}
		}
	}
}

// call dispatches fn onto the actor goroutine and waits up to
// commandTimeout. Errors map to ErrControlActorExited / ErrControlTimeout
// per spec §4.8's caller-visible error set.
func (a *ControlActor) call(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	reply := make(chan controlReply, 1)
	select {
	case a.mailbox <- controlRequest{fn: fn, reply: reply}:
	case <-time.After(a.commandTimeout):
		return nil, errors.New(ErrControlTimeout).Component(ComponentEngine).Category(errors.CategoryControl).Build()
	case <-a.done:
		return nil, errors.New(ErrControlActorExited).Component(ComponentEngine).Category(errors.CategoryControl).Build()
	}
	select {
	case r := <-reply:
		return r.value, r.err
	case <-time.After(a.commandTimeout):
		return nil, errors.New(ErrControlTimeout).Component(ComponentEngine).Category(errors.CategoryControl).Build()
	}
}

// SwitchTrack opens trackToken, optionally autoplaying.
func (a *ControlActor) SwitchTrack(ctx context.Context, trackToken string, autoplay bool) error {
	_, err := a.call(ctx, func(ctx context.Context) (any, error) {
		reply := make(chan error, 1)
		err := a.worker.Submit(ctx, DecodeCommand{Kind: CmdOpen, InputRef: trackToken, StartPlaying: autoplay, Reply: reply})
		if err != nil {
			return nil, err
		}
		a.currentTrack.Store(trackToken)
		return nil, waitReply(ctx, reply, a.commandTimeout)
	})
	return err
}

// QueueNext prewarms trackToken for gapless advance.
func (a *ControlActor) QueueNext(ctx context.Context, trackToken string) error {
	_, err := a.call(ctx, func(ctx context.Context) (any, error) {
		reply := make(chan error, 1)
		if err := a.worker.Submit(ctx, DecodeCommand{Kind: CmdQueueNext, QueueInputRef: trackToken, Reply: reply}); err != nil {
			return nil, err
		}
		return nil, waitReply(ctx, reply, a.commandTimeout)
	})
	return err
}

// Play resumes playback.
func (a *ControlActor) Play(ctx context.Context) error {
	_, err := a.call(ctx, func(ctx context.Context) (any, error) {
		reply := make(chan error, 1)
		if err := a.worker.Submit(ctx, DecodeCommand{Kind: CmdPlay, Reply: reply}); err != nil {
			return nil, err
		}
		a.state.Store(int32(RunnerPlaying))
		return nil, waitReply(ctx, reply, a.commandTimeout)
	})
	return err
}

// Pause pauses playback with the given drain behavior.
func (a *ControlActor) Pause(ctx context.Context, behavior PauseBehavior) error {
	_, err := a.call(ctx, func(ctx context.Context) (any, error) {
		reply := make(chan error, 1)
		if err := a.worker.Submit(ctx, DecodeCommand{Kind: CmdPause, Behavior: behavior, Reply: reply}); err != nil {
			return nil, err
		}
		a.state.Store(int32(RunnerPaused))
		return nil, waitReply(ctx, reply, a.commandTimeout)
	})
	return err
}

// Stop halts playback with the given drain behavior.
func (a *ControlActor) Stop(ctx context.Context, behavior StopBehavior) error {
	_, err := a.call(ctx, func(ctx context.Context) (any, error) {
		reply := make(chan error, 1)
		if err := a.worker.Submit(ctx, DecodeCommand{Kind: CmdStop, Behavior: behavior, Reply: reply}); err != nil {
			return nil, err
		}
		a.state.Store(int32(RunnerStopped))
		return nil, waitReply(ctx, reply, a.commandTimeout)
	})
	return err
}

// SeekMs requests a seek to positionMs.
func (a *ControlActor) SeekMs(ctx context.Context, positionMs int64) error {
	_, err := a.call(ctx, func(ctx context.Context) (any, error) {
		reply := make(chan error, 1)
		if err := a.worker.Submit(ctx, DecodeCommand{Kind: CmdSeek, SeekPositionMs: positionMs, Reply: reply}); err != nil {
			return nil, err
		}
		return nil, waitReply(ctx, reply, a.commandTimeout)
	})
	return err
}

// SetVolume writes the hot-control cell directly (lock-free, bypassing the
// mailbox) and publishes VolumeChanged with the caller's monotonic seq so
// late callbacks can be filtered (spec §4.8).
func (a *ControlActor) SetVolume(level float64, seq uint64, rampMs uint32) {
	if seq < a.volumeSeq.Load() {
		return
	}
	a.volumeSeq.Store(seq)
	rampSamples := uint64(0)
	a.gain.SetTarget(level, rampSamples)
	if a.hub != nil {
		a.hub.Publish(Event{Kind: EventVolumeChanged, VolumeLevel: level, VolumeSeq: seq})
	}
	_ = rampMs // ramp length in samples requires the active output sample rate, applied by the gain transform for signal-path fades; the hot-control cell itself steps immediately.
}

// SetLfeMode routes the LFE policy to the mixer stage.
func (a *ControlActor) SetLfeMode(ctx context.Context, mode LfeMode) error {
	_, err := a.call(ctx, func(ctx context.Context) (any, error) {
		reply := make(chan error, 1)
		if err := a.worker.Submit(ctx, DecodeCommand{Kind: CmdSetLfeMode, LfeMode: mode, Reply: reply}); err != nil {
			return nil, err
		}
		return nil, waitReply(ctx, reply, a.commandTimeout)
	})
	return err
}

// SetResampleQuality routes a resample-quality change to the resampler stage.
func (a *ControlActor) SetResampleQuality(ctx context.Context, quality ResampleQuality) error {
	_, err := a.call(ctx, func(ctx context.Context) (any, error) {
		reply := make(chan error, 1)
		if err := a.worker.Submit(ctx, DecodeCommand{Kind: CmdSetResampleQuality, ResampleQuality: quality, Reply: reply}); err != nil {
			return nil, err
		}
		return nil, waitReply(ctx, reply, a.commandTimeout)
	})
	return err
}

// ApplyStageControl routes an arbitrary control to the transform at stageKey.
func (a *ControlActor) ApplyStageControl(ctx context.Context, stageKey string, control any) error {
	_, err := a.call(ctx, func(ctx context.Context) (any, error) {
		reply := make(chan error, 1)
		if err := a.worker.Submit(ctx, DecodeCommand{Kind: CmdApplyStageControl, StageKey: stageKey, StageControl: control, Reply: reply}); err != nil {
			return nil, err
		}
		return nil, waitReply(ctx, reply, a.commandTimeout)
	})
	return err
}

// ApplyPipelinePlan hands plan to the decode worker, which stores it. Later
// opens, prewarms and recoveries still take their sink plan from the
// RunnerFactory; the stored plan is not used by them.
func (a *ControlActor) ApplyPipelinePlan(ctx context.Context, plan *SinkPlan) error {
	_, err := a.call(ctx, func(ctx context.Context) (any, error) {
		reply := make(chan error, 1)
		if err := a.worker.Submit(ctx, DecodeCommand{Kind: CmdApplyPipelinePlan, Plan: plan, Reply: reply}); err != nil {
			return nil, err
		}
		return nil, waitReply(ctx, reply, a.commandTimeout)
	})
	return err
}

// ApplyPipelineMutation submits mutation to the decode worker, which
// acknowledges it without changing the transform graph.
func (a *ControlActor) ApplyPipelineMutation(ctx context.Context, mutation any) error {
	_, err := a.call(ctx, func(ctx context.Context) (any, error) {
		reply := make(chan error, 1)
		if err := a.worker.Submit(ctx, DecodeCommand{Kind: CmdApplyPipelineMutation, Mutation: mutation, Reply: reply}); err != nil {
			return nil, err
		}
		return nil, waitReply(ctx, reply, a.commandTimeout)
	})
	return err
}

// Shutdown drains and stops the decode worker cooperatively.
func (a *ControlActor) Shutdown(ctx context.Context) error {
	_, err := a.call(ctx, func(ctx context.Context) (any, error) {
		reply := make(chan error, 1)
		if err := a.worker.Submit(ctx, DecodeCommand{Kind: CmdShutdown, Reply: reply}); err != nil {
			return nil, err
		}
		return nil, waitReply(ctx, reply, a.commandTimeout)
	})
	return err
}

// Snapshot reports the current track and the state last set by this actor's
// Play/Pause/Stop calls, without touching the worker command queue
// (read-only, so it may be served directly). State does not follow track
// switches or EOF inside the worker, and PositionMs is not filled in: it is
// always 0. Playback position is published through EventPosition instead.
func (a *ControlActor) Snapshot() Snapshot {
	track, _ := a.currentTrack.Load().(string)
	return Snapshot{
		State:        RunnerState(a.state.Load()),
		CurrentTrack: track,
	}
}

func waitReply(ctx context.Context, reply chan error, timeout time.Duration) error {
	select {
	case err := <-reply:
		return err
	case <-time.After(timeout):
		return errors.New(ErrControlTimeout).Component(ComponentEngine).Category(errors.CategoryControl).Build()
	case <-ctx.Done():
		return ctx.Err()
	}
}
