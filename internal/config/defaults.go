package config

import (
	"github.com/spf13/viper"

	"github.com/sonora-audio/sonora/internal/engine"
)

// DefaultSettings mirrors engine's Default* constants (spec §9), the
// starting point viper.Unmarshal refines with whatever config.yaml and the
// environment override.
func DefaultSettings() *Settings {
	s := &Settings{}

	s.Engine.CommandTimeoutMs = int(engine.DefaultCommandTimeout.Milliseconds())
	s.Engine.ShutdownTimeoutMs = 3000
	s.Engine.Recovery.MaxAttempts = engine.DefaultMaxRecoveryAttempts
	s.Engine.Recovery.InitialBackoffMs = int(engine.DefaultInitialBackoff.Milliseconds())
	s.Engine.Recovery.MaxBackoffMs = int(engine.DefaultMaxBackoff.Milliseconds())
	s.Engine.Latency.TargetLatencyMs = engine.DefaultTargetLatencyMs
	s.Engine.Latency.BlockFrames = engine.DefaultBlockFrames
	s.Engine.Latency.MinQueueBlocks = engine.DefaultMinQueueBlocks
	s.Engine.Latency.MaxQueueBlocks = engine.DefaultMaxQueueBlocks
	s.Engine.EventCapacity = engine.DefaultEventCapacity

	s.Gain.OpenFadeInMs = engine.DefaultOpenFadeInMs
	s.Gain.PlayFadeInMs = engine.DefaultPlayFadeInMs
	s.Gain.SeekFadeOutMs = engine.DefaultSeekFadeOutMs
	s.Gain.SeekFadeInMs = engine.DefaultSeekFadeInMs
	s.Gain.PauseFadeOutMs = engine.DefaultPauseFadeOutMs
	s.Gain.StopFadeOutMs = engine.DefaultStopFadeOutMs
	s.Gain.SwitchFadeOutMs = engine.DefaultSwitchFadeOutMs
	s.Gain.InterruptMaxExtraWaitMs = engine.DefaultInterruptMaxExtraWaitMs

	s.Plugin.Enabled = true
	s.Plugin.Dirs = nil // no plugin directories unless configured

	s.Log.Level = "info"

	s.Telemetry.Enabled = false
	s.Telemetry.WorkerCount = 4
	s.Telemetry.QueueSize = 10000
	s.Telemetry.DedupWindowMs = 5 * 60 * 1000

	return s
}

// setDefaults registers the same values with viper so a config.yaml that
// omits a key still resolves to the documented default (spec §9), matching
// the teacher's setDefaultConfig helper.
func setDefaults() {
	d := DefaultSettings()

	viper.SetDefault("debug", d.Debug)

	viper.SetDefault("engine.commandtimeoutms", d.Engine.CommandTimeoutMs)
	viper.SetDefault("engine.shutdowntimeoutms", d.Engine.ShutdownTimeoutMs)
	viper.SetDefault("engine.recovery.maxattempts", d.Engine.Recovery.MaxAttempts)
	viper.SetDefault("engine.recovery.initialbackoffms", d.Engine.Recovery.InitialBackoffMs)
	viper.SetDefault("engine.recovery.maxbackoffms", d.Engine.Recovery.MaxBackoffMs)
	viper.SetDefault("engine.latency.targetlatencyms", d.Engine.Latency.TargetLatencyMs)
	viper.SetDefault("engine.latency.blockframes", d.Engine.Latency.BlockFrames)
	viper.SetDefault("engine.latency.minqueueblocks", d.Engine.Latency.MinQueueBlocks)
	viper.SetDefault("engine.latency.maxqueueblocks", d.Engine.Latency.MaxQueueBlocks)
	viper.SetDefault("engine.eventcapacity", d.Engine.EventCapacity)

	viper.SetDefault("gain.openfadeinms", d.Gain.OpenFadeInMs)
	viper.SetDefault("gain.playfadeinms", d.Gain.PlayFadeInMs)
	viper.SetDefault("gain.seekfadeoutms", d.Gain.SeekFadeOutMs)
	viper.SetDefault("gain.seekfadeinms", d.Gain.SeekFadeInMs)
	viper.SetDefault("gain.pausefadeoutms", d.Gain.PauseFadeOutMs)
	viper.SetDefault("gain.stopfadeoutms", d.Gain.StopFadeOutMs)
	viper.SetDefault("gain.switchfadeoutms", d.Gain.SwitchFadeOutMs)
	viper.SetDefault("gain.interruptmaxextrawaitms", d.Gain.InterruptMaxExtraWaitMs)

	viper.SetDefault("plugin.enabled", d.Plugin.Enabled)
	viper.SetDefault("plugin.dirs", d.Plugin.Dirs)

	viper.SetDefault("log.level", d.Log.Level)
	viper.SetDefault("log.path", d.Log.Path)

	viper.SetDefault("telemetry.enabled", d.Telemetry.Enabled)
	viper.SetDefault("telemetry.workercount", d.Telemetry.WorkerCount)
	viper.SetDefault("telemetry.queuesize", d.Telemetry.QueueSize)
	viper.SetDefault("telemetry.dedupwindowms", d.Telemetry.DedupWindowMs)
}
