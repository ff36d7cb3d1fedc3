// Package doctor implements the "sonora doctor" subcommand: an environment
// sanity check listing playback devices and the resolved configuration,
// grounded on the teacher's cmd/support diagnostics-bundle command, scaled
// down to an audio-device and config check instead of a full support dump.
package doctor

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sonora-audio/sonora/internal/config"
	"github.com/sonora-audio/sonora/internal/cpuspec"
	"github.com/sonora-audio/sonora/internal/engine/sinks/malgo"
)

// Command builds the "doctor" subcommand.
func Command(settings *config.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check playback devices and the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(settings)
		},
	}
}

func run(settings *config.Settings) error {
	fmt.Println("configuration:")
	fmt.Printf("  debug:            %v\n", settings.Debug)
	fmt.Printf("  log level:        %s\n", settings.Log.Level)
	fmt.Printf("  plugins enabled:  %v\n", settings.Plugin.Enabled)
	fmt.Printf("  plugin dirs:      %v\n", settings.Plugin.Dirs)
	fmt.Printf("  target latency:   %dms\n", settings.Engine.Latency.TargetLatencyMs)
	fmt.Printf("  telemetry:        %v\n", settings.Telemetry.Enabled)
	fmt.Println()

	spec := cpuspec.GetCPUSpec()
	fmt.Println("cpu:")
	fmt.Printf("  brand:            %s\n", spec.BrandName)
	fmt.Printf("  performance cores: %d\n", spec.PerformanceCores)
	fmt.Printf("  decode workers:   %d\n", spec.GetOptimalThreadCount())
	fmt.Println()

	devices, err := malgo.EnumeratePlaybackDevices()
	if err != nil {
		return fmt.Errorf("enumerate playback devices: %w", err)
	}

	fmt.Println("playback devices:")
	if len(devices) == 0 {
		fmt.Println("  (none found)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "  INDEX\tNAME\tID")
	for _, d := range devices {
		fmt.Fprintf(w, "  %d\t%s\t%s\n", d.Index, d.Name, d.ID)
	}
	return nil
}
