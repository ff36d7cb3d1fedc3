package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultSettingsEngineConfigRoundTrip(t *testing.T) {
	t.Parallel()
	s := DefaultSettings()
	ec := s.EngineConfig()

	assert.Equal(t, s.Engine.Recovery.MaxAttempts, ec.Recovery.MaxAttempts)
	assert.Equal(t, s.Engine.Latency.BlockFrames, ec.Latency.BlockFrames)
	assert.Equal(t, s.Engine.EventCapacity, ec.EventCapacity)
	assert.Equal(t, int64(s.Engine.CommandTimeoutMs), ec.CommandTimeout.Milliseconds())
	assert.Equal(t, int64(s.Engine.ShutdownTimeoutMs), ec.ShutdownTimeout.Milliseconds())
}

func TestValidateSettingsRepairsInvalidValues(t *testing.T) {
	t.Parallel()
	s := DefaultSettings()
	s.Engine.CommandTimeoutMs = -1
	s.Engine.Latency.MaxQueueBlocks = 0
	s.Engine.Latency.MinQueueBlocks = 10
	s.Log.Level = "bogus"

	validateSettings(s)

	assert.Positive(t, s.Engine.CommandTimeoutMs)
	assert.GreaterOrEqual(t, s.Engine.Latency.MaxQueueBlocks, s.Engine.Latency.MinQueueBlocks)
	assert.Equal(t, "info", s.Log.Level)
}

func TestValidateSettingsLeavesGoodValuesAlone(t *testing.T) {
	t.Parallel()
	s := DefaultSettings()
	s.Log.Level = "debug"
	validateSettings(s)
	assert.Equal(t, "debug", s.Log.Level)
}
