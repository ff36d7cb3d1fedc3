package config

// validateSettings clamps out-of-range values to sane bounds rather than
// failing startup, matching the teacher's validateSettings helper which
// normalizes sensitivity/threshold/overlap instead of erroring on a
// slightly-off config file.
func validateSettings(s *Settings) {
	if s.Engine.CommandTimeoutMs <= 0 {
		s.Engine.CommandTimeoutMs = DefaultSettings().Engine.CommandTimeoutMs
	}
	if s.Engine.ShutdownTimeoutMs <= 0 {
		s.Engine.ShutdownTimeoutMs = DefaultSettings().Engine.ShutdownTimeoutMs
	}
	if s.Engine.EventCapacity <= 0 {
		s.Engine.EventCapacity = DefaultSettings().Engine.EventCapacity
	}

	if s.Engine.Recovery.MaxAttempts <= 0 {
		s.Engine.Recovery.MaxAttempts = DefaultSettings().Engine.Recovery.MaxAttempts
	}
	if s.Engine.Recovery.InitialBackoffMs <= 0 {
		s.Engine.Recovery.InitialBackoffMs = DefaultSettings().Engine.Recovery.InitialBackoffMs
	}
	if s.Engine.Recovery.MaxBackoffMs < s.Engine.Recovery.InitialBackoffMs {
		s.Engine.Recovery.MaxBackoffMs = DefaultSettings().Engine.Recovery.MaxBackoffMs
	}

	if s.Engine.Latency.BlockFrames <= 0 {
		s.Engine.Latency.BlockFrames = DefaultSettings().Engine.Latency.BlockFrames
	}
	if s.Engine.Latency.MinQueueBlocks <= 0 {
		s.Engine.Latency.MinQueueBlocks = DefaultSettings().Engine.Latency.MinQueueBlocks
	}
	if s.Engine.Latency.MaxQueueBlocks < s.Engine.Latency.MinQueueBlocks {
		s.Engine.Latency.MaxQueueBlocks = DefaultSettings().Engine.Latency.MaxQueueBlocks
	}
	if s.Engine.Latency.TargetLatencyMs <= 0 {
		s.Engine.Latency.TargetLatencyMs = DefaultSettings().Engine.Latency.TargetLatencyMs
	}

	switch s.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		s.Log.Level = "info"
	}

	if s.Telemetry.WorkerCount <= 0 {
		s.Telemetry.WorkerCount = DefaultSettings().Telemetry.WorkerCount
	}
	if s.Telemetry.QueueSize <= 0 {
		s.Telemetry.QueueSize = DefaultSettings().Telemetry.QueueSize
	}
	if s.Telemetry.DedupWindowMs <= 0 {
		s.Telemetry.DedupWindowMs = DefaultSettings().Telemetry.DedupWindowMs
	}
}
