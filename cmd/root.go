// root.go viper root command code
package cmd

import (
	"log"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sonora-audio/sonora/cmd/doctor"
	"github.com/sonora-audio/sonora/cmd/play"
	"github.com/sonora-audio/sonora/cmd/plugin"
	"github.com/sonora-audio/sonora/internal/config"
	"github.com/sonora-audio/sonora/internal/errors"
	"github.com/sonora-audio/sonora/internal/events"
	"github.com/sonora-audio/sonora/internal/logging"
)

// RootCommand creates and returns the root command
func RootCommand(settings *config.Settings) *cobra.Command {
	// Create the root command
	rootCmd := &cobra.Command{
		Use:   "sonora",
		Short: "Sonora audio engine CLI",
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, settings); err != nil {
		log.Printf("error setting up flags: %v\n", err)
	}

	// Add sub-commands to the root command.
	playCmd := play.Command(settings)
	pluginCmd := plugin.Command(settings)
	doctorCmd := doctor.Command(settings)

	rootCmd.AddCommand(playCmd, pluginCmd, doctorCmd)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := initialize(settings); err != nil {
			return errors.New(err).Component("telemetry").Category(errors.CategoryConfiguration).Build()
		}
		return nil
	}

	return rootCmd
}

// initialize is called before any subcommand runs. It wires the async error
// event bus and the Sentry telemetry reporter it feeds, so EnhancedError
// reports raised anywhere in the engine are deduplicated and shipped off
// the calling goroutine instead of blocking it.
func initialize(settings *config.Settings) error {
	if !settings.Telemetry.Enabled {
		return nil
	}

	bus, err := events.Initialize(&events.Config{
		BufferSize: settings.Telemetry.QueueSize,
		Workers:    settings.Telemetry.WorkerCount,
		Enabled:    true,
	})
	if err != nil {
		return errors.New(err).Component("telemetry").Category(errors.CategoryConfiguration).
			Context("detail", "event bus init failed").Build()
	}
	if bus == nil {
		return nil
	}

	dedup := events.NewErrorDeduplicator(&events.DeduplicationConfig{
		Enabled:         true,
		TTL:             time.Duration(settings.Telemetry.DedupWindowMs) * time.Millisecond,
		MaxEntries:      10000,
		CleanupInterval: time.Minute,
	}, logging.ForService("telemetry"))

	reporter := errors.NewSentryReporter(true)
	errors.SetTelemetryReporter(reporter)

	if err := bus.RegisterConsumer(events.NewSentryConsumer(dedup, reporter)); err != nil {
		return errors.New(err).Component("telemetry").Category(errors.CategoryConfiguration).
			Context("detail", "sentry consumer registration failed").Build()
	}

	return events.InitializeErrorsIntegration(func(publisher any) {
		errors.SetEventPublisher(publisher.(errors.EventPublisher))
	})
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *config.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Log.Level, "log-level", viper.GetString("log.level"), "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&settings.Log.Path, "log-path", viper.GetString("log.path"), "Path to the log file (empty logs to stdout)")
	rootCmd.PersistentFlags().BoolVar(&settings.Plugin.Enabled, "plugins-enabled", viper.GetBool("plugin.enabled"), "Enable loading plugin modules")
	rootCmd.PersistentFlags().StringSliceVar(&settings.Plugin.Dirs, "plugin-dir", viper.GetStringSlice("plugin.dirs"), "Directories scanned for plugin install receipts (repeatable)")
	rootCmd.PersistentFlags().BoolVar(&settings.Telemetry.Enabled, "telemetry-enabled", viper.GetBool("telemetry.enabled"), "Report crashes and errors to Sentry")

	// Bind flags to the viper settings
	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return errors.New(err).Component("config").Category(errors.CategoryConfiguration).
			Context("detail", "flag binding failed").Build()
	}

	return nil
}
