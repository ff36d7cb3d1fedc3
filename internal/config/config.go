// Package config loads Sonora's settings from a YAML file, environment
// variables, and built-in defaults via viper, grounded on the teacher's
// internal/conf package (config.go/defaults.go/utils.go), adapted from a
// bioacoustic-monitor settings tree to the engine/plugin settings this
// player needs.
package config

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/sonora-audio/sonora/internal/engine"
)

//go:embed config.yaml
var defaultConfigFile embed.FS

// EngineSettings mirrors engine.EngineConfig with plain, viper-friendly
// field types (durations expressed in milliseconds rather than
// time.Duration, which viper's default decoder does not parse from YAML
// integers without an extra mapstructure hook).
type EngineSettings struct {
	CommandTimeoutMs  int
	ShutdownTimeoutMs int

	Recovery struct {
		MaxAttempts      int
		InitialBackoffMs int
		MaxBackoffMs     int
	}

	Latency struct {
		TargetLatencyMs int
		BlockFrames     int
		MinQueueBlocks  int
		MaxQueueBlocks  int
	}

	EventCapacity int
}

// GainSettings mirrors spec §9's GainTransitionConfig.
type GainSettings struct {
	OpenFadeInMs         int
	PlayFadeInMs         int
	SeekFadeOutMs        int
	SeekFadeInMs         int
	PauseFadeOutMs       int
	StopFadeOutMs        int
	SwitchFadeOutMs      int
	InterruptMaxExtraWaitMs int
}

// PluginSettings controls plugin discovery (spec §4.9 / §6).
type PluginSettings struct {
	Enabled bool
	// Dirs are root directories DiscoverPlugins scans for install receipts.
	Dirs []string
}

// LogSettings controls the logging sink the teacher's internal/logging
// package writes to.
type LogSettings struct {
	Level string
	Path  string
}

// TelemetrySettings controls the async error event bus and the Sentry
// reporter it feeds.
type TelemetrySettings struct {
	Enabled       bool
	WorkerCount   int
	QueueSize     int
	DedupWindowMs int
}

// Settings is the root configuration document.
type Settings struct {
	Debug     bool
	Engine    EngineSettings
	Gain      GainSettings
	Plugin    PluginSettings
	Log       LogSettings
	Telemetry TelemetrySettings
}

// EngineConfig converts Settings into the concrete engine.EngineConfig the
// Engine constructor expects.
func (s *Settings) EngineConfig() engine.EngineConfig {
	return engine.EngineConfig{
		CommandTimeout: time.Duration(s.Engine.CommandTimeoutMs) * time.Millisecond,
		Recovery: engine.RecoveryConfig{
			MaxAttempts:    s.Engine.Recovery.MaxAttempts,
			InitialBackoff: time.Duration(s.Engine.Recovery.InitialBackoffMs) * time.Millisecond,
			MaxBackoff:     time.Duration(s.Engine.Recovery.MaxBackoffMs) * time.Millisecond,
		},
		Latency: engine.SinkLatencyConfig{
			TargetLatencyMs: s.Engine.Latency.TargetLatencyMs,
			BlockFrames:     s.Engine.Latency.BlockFrames,
			MinQueueBlocks:  s.Engine.Latency.MinQueueBlocks,
			MaxQueueBlocks:  s.Engine.Latency.MaxQueueBlocks,
		},
		EventCapacity:   s.Engine.EventCapacity,
		ShutdownTimeout: time.Duration(s.Engine.ShutdownTimeoutMs) * time.Millisecond,
	}
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads config.yaml (or the user/system config directories) and
// environment variables into a Settings value, writing a default config
// file on first run exactly as the teacher's conf.Load does.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := DefaultSettings()
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	validateSettings(settings)

	settingsInstance = settings
	return settings, nil
}

// GetSettings returns the most recently Loaded settings, or nil if Load has
// not run yet.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("sonora")
	bindEnv()

	paths, err := defaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range paths {
		viper.AddConfigPath(path)
	}

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createDefaultConfig(paths[0])
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	return nil
}

func createDefaultConfig(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	data, err := fs.ReadFile(defaultConfigFile, "config.yaml")
	if err != nil {
		return fmt.Errorf("error reading embedded default config: %w", err)
	}
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}
	return viper.ReadInConfig()
}

func defaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("error fetching user home directory: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		return []string{filepath.Join(homeDir, "AppData", "Roaming", "sonora")}, nil
	case "darwin":
		return []string{filepath.Join(homeDir, "Library", "Application Support", "sonora")}, nil
	default:
		return []string{filepath.Join(homeDir, ".config", "sonora"), "/etc/sonora"}, nil
	}
}
