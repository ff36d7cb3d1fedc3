package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingConsumer records every event it is asked to process, for
// asserting dispatch order and batching behavior.
type recordingConsumer struct {
	name      string
	batching  bool
	processed chan ErrorEvent
	failNext  bool
}

func newRecordingConsumer(name string, capacity int) *recordingConsumer {
	return &recordingConsumer{name: name, processed: make(chan ErrorEvent, capacity)}
}

func (c *recordingConsumer) Name() string { return c.name }
func (c *recordingConsumer) ProcessEvent(event ErrorEvent) error {
	if c.failNext {
		c.failNext = false
		return assert.AnError
	}
	c.processed <- event
	return nil
}
func (c *recordingConsumer) ProcessBatch(events []ErrorEvent) error {
	for _, ev := range events {
		c.processed <- ev
	}
	return nil
}
func (c *recordingConsumer) SupportsBatching() bool { return c.batching }

// newIsolatedBus builds an EventBus through Initialize and then clears the
// package-level singleton, so each test gets its own instance instead of
// fighting over global state with every other test in this package.
func newIsolatedBus(t *testing.T, bufferSize, workers int) *EventBus {
	t.Helper()
	bus, err := Initialize(&Config{BufferSize: bufferSize, Workers: workers, Enabled: true})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = bus.Shutdown(time.Second)
		globalMutex.Lock()
		globalEventBus = nil
		globalMutex.Unlock()
	})
	globalMutex.Lock()
	globalEventBus = nil
	globalMutex.Unlock()
	return bus
}

func TestEventBusTryPublishWithoutConsumersIsDropped(t *testing.T) {
	bus := newIsolatedBus(t, 4, 1)
	ev := &fakeErrorEvent{component: "decoder", category: "io", message: "x"}

	assert.False(t, bus.TryPublish(ev), "publishing with no registered consumer must report not-accepted")
	assert.Equal(t, uint64(0), bus.GetStats().EventsReceived)
}

func TestEventBusDeliversToRegisteredConsumer(t *testing.T) {
	bus := newIsolatedBus(t, 4, 1)
	consumer := newRecordingConsumer("test", 4)
	require.NoError(t, bus.RegisterConsumer(consumer))

	ev := &fakeErrorEvent{component: "decoder", category: "io", message: "x"}
	require.True(t, bus.TryPublish(ev))

	select {
	case got := <-consumer.processed:
		assert.Same(t, ev, got)
	case <-time.After(time.Second):
		t.Fatal("consumer never received the published event")
	}

	require.Eventually(t, func() bool {
		return bus.GetStats().EventsProcessed == 1
	}, time.Second, 5*time.Millisecond)
}

func TestEventBusRegisterConsumerRejectsDuplicateName(t *testing.T) {
	bus := newIsolatedBus(t, 4, 1)
	require.NoError(t, bus.RegisterConsumer(newRecordingConsumer("dup", 1)))
	assert.Error(t, bus.RegisterConsumer(newRecordingConsumer("dup", 1)))
}

func TestEventBusTryPublishFailsBeforeAnyConsumerRegistered(t *testing.T) {
	bus := newIsolatedBus(t, 1, 1)
	ev := &fakeErrorEvent{component: "decoder", category: "io", message: "x"}
	assert.False(t, bus.TryPublish(ev))
}

func TestEventBusConsumerErrorIncrementsStatsWithoutPanicking(t *testing.T) {
	bus := newIsolatedBus(t, 4, 1)
	consumer := newRecordingConsumer("flaky", 4)
	consumer.failNext = true
	require.NoError(t, bus.RegisterConsumer(consumer))

	ev := &fakeErrorEvent{component: "decoder", category: "io", message: "x"}
	require.True(t, bus.TryPublish(ev))

	require.Eventually(t, func() bool {
		return bus.GetStats().ConsumerErrors == 1
	}, time.Second, 5*time.Millisecond)
}

func TestEventBusShutdownStopsWorkers(t *testing.T) {
	bus := newIsolatedBus(t, 4, 1)
	require.NoError(t, bus.RegisterConsumer(newRecordingConsumer("test", 4)))
	require.NoError(t, bus.Shutdown(time.Second))

	ev := &fakeErrorEvent{component: "decoder", category: "io", message: "x"}
	assert.False(t, bus.TryPublish(ev), "a shut-down bus must not accept further events")
}

func TestHasActiveConsumersReflectsRegistration(t *testing.T) {
	bus := newIsolatedBus(t, 4, 1)
	globalMutex.Lock()
	globalEventBus = bus
	globalMutex.Unlock()

	assert.False(t, HasActiveConsumers())
	require.NoError(t, bus.RegisterConsumer(newRecordingConsumer("test", 1)))
	assert.True(t, HasActiveConsumers())
}
