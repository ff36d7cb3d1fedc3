package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// neverEofDecoder keeps producing silent blocks forever, so a control-actor
// test's Playing state doesn't race against the pipeline reaching EOF on
// its own (unlike fakeDecoder, which produces exactly one block).
type neverEofDecoder struct{}

func (neverEofDecoder) Prepare(ctx context.Context, handle SourceHandle, pctx *PipelineContext) (StreamSpec, error) {
	return StreamSpec{SampleRate: 48000, Channels: 2}, nil
}
func (neverEofDecoder) NextBlock(ctx context.Context, out *AudioBlock) (StageStatus, error) {
	out.Channels = 2
	if cap(out.Samples) < 256 {
		out.Samples = make([]float32, 256)
	} else {
		out.Samples = out.Samples[:256]
	}
	return StatusOk, nil
}
func (neverEofDecoder) CurrentGaplessTrimSpec() GaplessTrimSpec   { return GaplessTrimSpec{} }
func (neverEofDecoder) EstimatedRemainingFrames() (uint64, bool) { return 0, false }
func (neverEofDecoder) Flush(ctx context.Context) error          { return nil }
func (neverEofDecoder) Stop(ctx context.Context) error           { return nil }

func neverEofRunnerFactory() RunnerFactory {
	return func(ctx context.Context, inputRef string) (*Runner, *SinkPlan, uint64, error) {
		runner, err := NewRunner(fakeSource{}, neverEofDecoder{}, nil, 64, nil)
		if err != nil {
			return nil, nil, 0, err
		}
		plan := &SinkPlan{RouteFingerprint: 1, Build: func() (SinkStage, error) { return &countingSink{}, nil }}
		return runner, plan, 1, nil
	}
}

func newTestControlActor(t *testing.T) (*ControlActor, *DecodeWorker, context.CancelFunc) {
	t.Helper()
	gain := NewMasterGainProcessor()
	worker := NewDecodeWorker(neverEofRunnerFactory(), RecoveryConfig{
		MaxAttempts: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond,
	}, gain, nil)
	hub := NewEventHub(8)
	actor := NewControlActor(worker, gain, hub)

	ctx, cancel := context.WithCancel(context.Background())
	go worker.Run(ctx)
	go actor.Run(ctx)
	return actor, worker, cancel
}

func TestControlActorSwitchTrackPlayPauseStop(t *testing.T) {
	t.Parallel()
	actor, worker, cancel := newTestControlActor(t)
	defer cancel()

	// Every actor call blocks on the mailbox reply, which happens-before the
	// assignment it waited on; no polling needed to observe worker.runner
	// safely from this goroutine after each call returns.
	require.NoError(t, actor.SwitchTrack(context.Background(), "track-1", true))
	require.NotNil(t, worker.runner)
	assert.Equal(t, RunnerPlaying, worker.runner.State())

	require.NoError(t, actor.Pause(context.Background(), StopImmediate))
	assert.Equal(t, RunnerPaused, worker.runner.State())
	assert.Equal(t, RunnerPaused, actor.Snapshot().State)

	require.NoError(t, actor.Play(context.Background()))
	assert.Equal(t, RunnerPlaying, worker.runner.State())
	assert.Equal(t, RunnerPlaying, actor.Snapshot().State)

	require.NoError(t, actor.Stop(context.Background(), StopImmediate))
	assert.Equal(t, RunnerStopped, worker.runner.State())
	assert.Equal(t, RunnerStopped, actor.Snapshot().State)
}

func TestControlActorSnapshotTracksCurrentTrack(t *testing.T) {
	t.Parallel()
	actor, _, cancel := newTestControlActor(t)
	defer cancel()

	require.NoError(t, actor.SwitchTrack(context.Background(), "my-track", false))
	assert.Equal(t, "my-track", actor.Snapshot().CurrentTrack)
}

func TestControlActorSeekMs(t *testing.T) {
	t.Parallel()
	actor, worker, cancel := newTestControlActor(t)
	defer cancel()

	require.NoError(t, actor.SwitchTrack(context.Background(), "track-1", true))
	require.NotNil(t, worker.runner)

	require.NoError(t, actor.SeekMs(context.Background(), 7777))
	pos, ok := worker.runner.Context().ClearPendingSeek()
	require.True(t, ok)
	assert.Equal(t, int64(7777), pos)
}

func TestControlActorSetVolumeIsLockFreeAndPublishesEvent(t *testing.T) {
	t.Parallel()
	gain := NewMasterGainProcessor()
	worker := NewDecodeWorker(testRunnerFactory(t), RecoveryConfig{MaxAttempts: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}, gain, nil)
	hub := NewEventHub(8)
	actor := NewControlActor(worker, gain, hub)
	sub := hub.Subscribe()
	defer hub.Close()

	actor.SetVolume(0.5, 1, 0)

	select {
	case ev := <-sub:
		assert.Equal(t, EventVolumeChanged, ev.Kind)
		assert.InDelta(t, 0.5, ev.VolumeLevel, 0.0001)
		assert.Equal(t, uint64(1), ev.VolumeSeq)
	case <-time.After(time.Second):
		t.Fatal("expected a VolumeChanged event")
	}
}

func TestControlActorSetVolumeIgnoresStaleSequence(t *testing.T) {
	t.Parallel()
	gain := NewMasterGainProcessor()
	worker := NewDecodeWorker(testRunnerFactory(t), RecoveryConfig{MaxAttempts: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}, gain, nil)
	actor := NewControlActor(worker, gain, nil)

	actor.SetVolume(0.2, 5, 0)
	actor.SetVolume(0.9, 2, 0) // stale: seq 2 arrives after seq 5, must be dropped

	assert.Equal(t, uint64(5), actor.volumeSeq.Load())
}

func TestControlActorShutdownStopsWorkerLoop(t *testing.T) {
	t.Parallel()
	actor, _, cancel := newTestControlActor(t)
	defer cancel()

	require.NoError(t, actor.SwitchTrack(context.Background(), "track-1", true))
	require.NoError(t, actor.Shutdown(context.Background()))
}
