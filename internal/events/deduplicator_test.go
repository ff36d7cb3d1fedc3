package events

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeErrorEvent is a minimal ErrorEvent for exercising the bus and the
// deduplicator without depending on the errors package's concrete type.
type fakeErrorEvent struct {
	component string
	category  string
	message   string
	err       error
	reported  bool
}

func (e *fakeErrorEvent) GetComponent() string             { return e.component }
func (e *fakeErrorEvent) GetCategory() string               { return e.category }
func (e *fakeErrorEvent) GetContext() map[string]interface{} { return nil }
func (e *fakeErrorEvent) GetTimestamp() time.Time           { return time.Unix(0, 0) }
func (e *fakeErrorEvent) GetError() error                   { return e.err }
func (e *fakeErrorEvent) GetMessage() string                { return e.message }
func (e *fakeErrorEvent) IsReported() bool                  { return e.reported }
func (e *fakeErrorEvent) MarkReported()                     { e.reported = true }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nil, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func newTestDeduplicator(ttl time.Duration) *ErrorDeduplicator {
	return NewErrorDeduplicator(&DeduplicationConfig{
		Enabled:         true,
		TTL:             ttl,
		MaxEntries:      8,
		CleanupInterval: 0, // no background cleanup goroutine in tests
	}, discardLogger())
}

func TestErrorDeduplicatorSuppressesRepeatsWithinTTL(t *testing.T) {
	t.Parallel()
	ed := newTestDeduplicator(time.Minute)
	ev := &fakeErrorEvent{component: "decoder", category: "io", message: "read failed", err: errors.New("boom")}

	assert.True(t, ed.ShouldProcess(ev), "first occurrence must always process")
	assert.False(t, ed.ShouldProcess(ev), "repeat within TTL must be suppressed")
	assert.False(t, ed.ShouldProcess(ev))

	stats := ed.GetStats()
	assert.Equal(t, uint64(3), stats.TotalSeen)
	assert.Equal(t, uint64(2), stats.TotalSuppressed)
}

func TestErrorDeduplicatorDistinguishesByComponentAndMessage(t *testing.T) {
	t.Parallel()
	ed := newTestDeduplicator(time.Minute)

	a := &fakeErrorEvent{component: "decoder", category: "io", message: "read failed"}
	b := &fakeErrorEvent{component: "sink", category: "io", message: "read failed"}

	c := &fakeErrorEvent{component: "decoder", category: "io", message: "write failed"}

	assert.True(t, ed.ShouldProcess(a))
	assert.True(t, ed.ShouldProcess(b), "a different component must hash differently and not be suppressed")
	assert.True(t, ed.ShouldProcess(c), "a different message must hash differently and not be suppressed")
}

func TestErrorDeduplicatorReprocessesAfterTTLExpiry(t *testing.T) {
	t.Parallel()
	ed := newTestDeduplicator(5 * time.Millisecond)
	ev := &fakeErrorEvent{component: "decoder", category: "io", message: "read failed"}

	require.True(t, ed.ShouldProcess(ev))
	require.False(t, ed.ShouldProcess(ev))

	time.Sleep(20 * time.Millisecond)
	assert.True(t, ed.ShouldProcess(ev), "an expired entry must process again instead of staying suppressed")
}

func TestErrorDeduplicatorEvictsOldestWhenFull(t *testing.T) {
	t.Parallel()
	ed := NewErrorDeduplicator(&DeduplicationConfig{
		Enabled:    true,
		TTL:        time.Minute,
		MaxEntries: 2,
	}, discardLogger())

	first := &fakeErrorEvent{component: "a", category: "io", message: "1"}
	second := &fakeErrorEvent{component: "b", category: "io", message: "2"}
	third := &fakeErrorEvent{component: "c", category: "io", message: "3"}

	require.True(t, ed.ShouldProcess(first))
	require.True(t, ed.ShouldProcess(second))
	require.True(t, ed.ShouldProcess(third), "a third distinct error must still be accepted once the cache evicts")

	ed.mu.RLock()
	defer ed.mu.RUnlock()
	assert.LessOrEqual(t, len(ed.cache), 2, "eviction must keep the cache at or under MaxEntries")
}

func TestErrorDeduplicatorDisabledAlwaysProcesses(t *testing.T) {
	t.Parallel()
	ed := NewErrorDeduplicator(&DeduplicationConfig{Enabled: false}, discardLogger())
	ev := &fakeErrorEvent{component: "decoder", category: "io", message: "read failed"}

	assert.True(t, ed.ShouldProcess(ev))
	assert.True(t, ed.ShouldProcess(ev), "a disabled deduplicator never suppresses")
}
