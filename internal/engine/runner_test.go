package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingSink records every block it receives instead of discarding it,
// so Step/Drain tests can assert on what actually reached the sink.
type countingSink struct {
	writes int
	frames int
}

func (s *countingSink) Prepare(ctx context.Context, spec StreamSpec) error { return nil }
func (s *countingSink) Write(ctx context.Context, block *AudioBlock) (StageStatus, error) {
	s.writes++
	s.frames += block.Frames()
	return StatusOk, nil
}
func (s *countingSink) Flush(ctx context.Context) error { return nil }
func (s *countingSink) Stop(ctx context.Context) error  { return nil }

func newTestRunner(t *testing.T, decoder DecoderStage) (*Runner, *countingSink) {
	t.Helper()
	runner, err := NewRunner(fakeSource{}, decoder, nil, 64, nil)
	require.NoError(t, err)
	require.NoError(t, runner.PrepareDecode(context.Background(), "fake-track"))

	sink := &countingSink{}
	plan := &SinkPlan{RouteFingerprint: 1, Build: func() (SinkStage, error) { return sink, nil }}
	reused, err := runner.ActivateSink(context.Background(), 1, plan, ImmediateCutover, SinkLatencyConfig{
		TargetLatencyMs: 100, SampleRate: 48000, BlockFrames: 64, MinQueueBlocks: 2, MaxQueueBlocks: 8,
	})
	require.NoError(t, err)
	assert.False(t, reused)
	return runner, sink
}

func TestRunnerStepProducesThenReportsEof(t *testing.T) {
	t.Parallel()
	runner, sink := newTestRunner(t, &fakeDecoder{})

	result, err := runner.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StepProduced, result)

	// give the sink worker goroutine a chance to drain the queued block
	require.Eventually(t, func() bool { return sink.writes == 1 }, time.Second, 5*time.Millisecond)

	result, err = runner.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StepEof, result)
}

func TestRunnerActivateSinkReusesMatchingSession(t *testing.T) {
	t.Parallel()
	runner, _ := newTestRunner(t, &fakeDecoder{})

	plan := &SinkPlan{RouteFingerprint: 1, Build: func() (SinkStage, error) { return &countingSink{}, nil }}
	reused, err := runner.ActivateSink(context.Background(), 1, plan, ImmediateCutover, SinkLatencyConfig{
		SampleRate: 48000, BlockFrames: 64, MinQueueBlocks: 2, MaxQueueBlocks: 8,
	})
	require.NoError(t, err)
	assert.True(t, reused, "same spec and route fingerprint should reuse the existing sink session")
}

func TestRunnerActivateSinkForceRecreateTearsDownOldSession(t *testing.T) {
	t.Parallel()
	runner, firstSink := newTestRunner(t, &fakeDecoder{})
	_ = firstSink

	secondSink := &countingSink{}
	plan := &SinkPlan{RouteFingerprint: 2, Build: func() (SinkStage, error) { return secondSink, nil }}
	reused, err := runner.ActivateSink(context.Background(), 2, plan, ForceRecreate, SinkLatencyConfig{
		SampleRate: 48000, BlockFrames: 64, MinQueueBlocks: 2, MaxQueueBlocks: 8,
	})
	require.NoError(t, err)
	assert.False(t, reused)
}

func TestRunnerActivateSinkRejectsSecondPlanConsumption(t *testing.T) {
	t.Parallel()
	runner, err := NewRunner(fakeSource{}, &fakeDecoder{}, nil, 64, nil)
	require.NoError(t, err)
	require.NoError(t, runner.PrepareDecode(context.Background(), "fake-track"))

	plan := &SinkPlan{RouteFingerprint: 1, Build: func() (SinkStage, error) { return &countingSink{}, nil }}
	_, err = runner.ActivateSink(context.Background(), 1, plan, ImmediateCutover, SinkLatencyConfig{
		SampleRate: 48000, BlockFrames: 64, MinQueueBlocks: 2, MaxQueueBlocks: 8,
	})
	require.NoError(t, err)

	// A different route fingerprint can't reuse the session, and the plan
	// was already consumed once, so a second activation must fail.
	_, err = runner.ActivateSink(context.Background(), 2, plan, PreserveQueued, SinkLatencyConfig{
		SampleRate: 48000, BlockFrames: 64, MinQueueBlocks: 2, MaxQueueBlocks: 8,
	})
	assert.Error(t, err)
}

func TestRunnerStopTearsDownStages(t *testing.T) {
	t.Parallel()
	runner, _ := newTestRunner(t, &fakeDecoder{})
	assert.NoError(t, runner.Stop(context.Background(), StopImmediate))
	assert.Equal(t, RunnerStopped, runner.State())
}

func TestRunnerStepConsumesPendingSeekExactlyOnce(t *testing.T) {
	t.Parallel()
	runner, _ := newTestRunner(t, &fakeDecoder{})

	runner.Context().RequestSeek(5000)
	_, err := runner.Step(context.Background())
	require.NoError(t, err)
	// Step clears the pending seek before decoding, then advances position by
	// whatever the block produced, so the result is 5000 plus a small delta.
	assert.GreaterOrEqual(t, runner.Context().PositionMs, int64(5000))

	// A second Step with no new seek request must not reapply the old one:
	// the pending seek was already cleared by the first Step.
	_, ok := runner.Context().ClearPendingSeek()
	assert.False(t, ok, "pending seek should already have been cleared by the first Step")
}

// passthroughTransform is a no-op TransformStage that records whether
// ApplyControl was invoked, for exercising ApplyStageControl's routing.
type passthroughTransform struct {
	stageKey string
	consume  bool
	lastCtl  any
}

func (p *passthroughTransform) Prepare(ctx context.Context, inSpec StreamSpec) (StreamSpec, error) {
	return inSpec, nil
}
func (p *passthroughTransform) Process(ctx context.Context, block *AudioBlock) (StageStatus, error) {
	return StatusOk, nil
}
func (p *passthroughTransform) ApplyControl(ctx context.Context, control any) (bool, error) {
	p.lastCtl = control
	return p.consume, nil
}
func (p *passthroughTransform) Flush(ctx context.Context) error { return nil }
func (p *passthroughTransform) Stop(ctx context.Context) error  { return nil }
func (p *passthroughTransform) StageKey() string                { return p.stageKey }

func TestRunnerApplyStageControlRoutesByKey(t *testing.T) {
	t.Parallel()
	tr := &passthroughTransform{stageKey: "volume", consume: true}
	runner, err := NewRunner(fakeSource{}, &fakeDecoder{}, []TransformStage{tr}, 64, nil)
	require.NoError(t, err)

	require.NoError(t, runner.ApplyStageControl(context.Background(), "volume", 0.5))
	assert.Equal(t, 0.5, tr.lastCtl)
}

func TestRunnerApplyStageControlUnknownKeyErrors(t *testing.T) {
	t.Parallel()
	runner, err := NewRunner(fakeSource{}, &fakeDecoder{}, nil, 64, nil)
	require.NoError(t, err)
	assert.Error(t, runner.ApplyStageControl(context.Background(), "missing", nil))
}

func TestRunnerApplyStageControlRejectedByStageErrors(t *testing.T) {
	t.Parallel()
	tr := &passthroughTransform{stageKey: "volume", consume: false}
	runner, err := NewRunner(fakeSource{}, &fakeDecoder{}, []TransformStage{tr}, 64, nil)
	require.NoError(t, err)
	assert.Error(t, runner.ApplyStageControl(context.Background(), "volume", 0.5))
}
