package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink counts writes and can be told to fail the next one, to
// exercise the worker loop's disconnect path.
type recordingSink struct {
	writes   int
	failNext bool
	flushes  int
	stops    int
}

func (s *recordingSink) Prepare(ctx context.Context, spec StreamSpec) error { return nil }
func (s *recordingSink) Write(ctx context.Context, block *AudioBlock) (StageStatus, error) {
	s.writes++
	if s.failNext {
		return StatusFatal, errors.New("sink write failed")
	}
	return StatusOk, nil
}
func (s *recordingSink) Flush(ctx context.Context) error { s.flushes++; return nil }
func (s *recordingSink) Stop(ctx context.Context) error  { s.stops++; return nil }

func TestSinkSessionActivateAndTrySendBlock(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	session := NewSinkSession(sink, 4, nil)
	spec := StreamSpec{SampleRate: 48000, Channels: 2}
	require.NoError(t, session.Activate(context.Background(), spec))

	assert.True(t, session.Matches(spec, 0))
	assert.False(t, session.Matches(StreamSpec{SampleRate: 44100, Channels: 2}, 0))

	status, err := session.TrySendBlock(context.Background(), &AudioBlock{Channels: 2, Samples: []float32{0, 0}})
	require.NoError(t, err)
	assert.Equal(t, sinkPushOk, status)

	require.Eventually(t, func() bool { return sink.writes == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, session.Shutdown(context.Background(), false))
	assert.Equal(t, 1, sink.stops)
}

func TestSinkSessionTrySendBlockReportsFullQueue(t *testing.T) {
	t.Parallel()
	blocking := make(chan struct{})
	sink := &blockingSink{block: blocking}
	session := NewSinkSession(sink, 1, nil)
	require.NoError(t, session.Activate(context.Background(), StreamSpec{SampleRate: 48000, Channels: 2}))
	defer func() {
		close(blocking)
		_ = session.Shutdown(context.Background(), false)
	}()

	// Queue depth 1: the first block is picked up by the worker and blocks
	// inside Write, the second fills the buffered channel, the third must
	// see the queue full.
	first, err := session.TrySendBlock(context.Background(), &AudioBlock{Channels: 2})
	require.NoError(t, err)
	assert.Equal(t, sinkPushOk, first)

	require.Eventually(t, func() bool { return sink.started.Load() }, time.Second, 5*time.Millisecond)

	second, err := session.TrySendBlock(context.Background(), &AudioBlock{Channels: 2})
	require.NoError(t, err)
	assert.Equal(t, sinkPushOk, second)

	third, err := session.TrySendBlock(context.Background(), &AudioBlock{Channels: 2})
	require.NoError(t, err)
	assert.Equal(t, sinkPushFull, third)
}

func TestSinkSessionDisconnectsAfterFatalWrite(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{failNext: true}
	session := NewSinkSession(sink, 4, nil)
	require.NoError(t, session.Activate(context.Background(), StreamSpec{SampleRate: 48000, Channels: 2}))

	status, err := session.TrySendBlock(context.Background(), &AudioBlock{Channels: 2, Samples: []float32{0, 0}})
	require.NoError(t, err)
	require.Equal(t, sinkPushOk, status)

	require.Eventually(t, func() bool {
		status, _ := session.TrySendBlock(context.Background(), &AudioBlock{Channels: 2, Samples: []float32{0, 0}})
		return status == sinkPushDisconnected
	}, time.Second, 5*time.Millisecond)
}

func TestSinkSessionDropQueuedSyncAndDrainRoundTrip(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	session := NewSinkSession(sink, 4, nil)
	require.NoError(t, session.Activate(context.Background(), StreamSpec{SampleRate: 48000, Channels: 2}))

	require.NoError(t, session.SyncRuntimeControl(context.Background()))
	require.NoError(t, session.DropQueued(context.Background()))
	require.NoError(t, session.Drain(context.Background()))
	assert.Equal(t, 1, sink.flushes)

	require.NoError(t, session.Shutdown(context.Background(), true))
	assert.Equal(t, 2, sink.flushes, "Shutdown with drain=true flushes once more")
	assert.Equal(t, 1, sink.stops)
}

// blockingSink blocks inside Write until its channel is closed, so tests can
// deterministically fill a bounded block queue.
type blockingSink struct {
	block   chan struct{}
	started atomic.Bool
}

func (s *blockingSink) Prepare(ctx context.Context, spec StreamSpec) error { return nil }
func (s *blockingSink) Write(ctx context.Context, block *AudioBlock) (StageStatus, error) {
	s.started.Store(true)
	<-s.block
	return StatusOk, nil
}
func (s *blockingSink) Flush(ctx context.Context) error { return nil }
func (s *blockingSink) Stop(ctx context.Context) error  { return nil }
