package events

import (
	"github.com/sonora-audio/sonora/internal/errors"
)

// SentryConsumer forwards deduplicated error events from the bus to the
// errors package's configured TelemetryReporter, keeping the Sentry call
// (and its privacy scrubbing) off the goroutine that raised the error.
type SentryConsumer struct {
	dedup    *ErrorDeduplicator
	reporter errors.TelemetryReporter
}

// NewSentryConsumer builds a consumer over an optional deduplicator (nil
// disables suppression) and the reporter errors.SetTelemetryReporter set.
func NewSentryConsumer(dedup *ErrorDeduplicator, reporter errors.TelemetryReporter) *SentryConsumer {
	return &SentryConsumer{dedup: dedup, reporter: reporter}
}

func (c *SentryConsumer) Name() string { return "sentry" }

func (c *SentryConsumer) ProcessEvent(event ErrorEvent) error {
	if c.reporter == nil || !c.reporter.IsEnabled() {
		return nil
	}
	if c.dedup != nil && !c.dedup.ShouldProcess(event) {
		return nil
	}
	ee, ok := event.(*errors.EnhancedError)
	if !ok {
		return nil
	}
	c.reporter.ReportError(ee)
	return nil
}

func (c *SentryConsumer) ProcessBatch(events []ErrorEvent) error {
	for _, event := range events {
		if err := c.ProcessEvent(event); err != nil {
			return err
		}
	}
	return nil
}

func (c *SentryConsumer) SupportsBatching() bool { return false }
