// Package plugin implements the "sonora plugin" subcommand group: list,
// install-reconcile, and GC against the plugin registry, grounded on the
// teacher's cmd/directory and cmd/file pattern of a thin cobra frontend over
// an internal package doing the real work.
package plugin

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sonora-audio/sonora/internal/config"
	"github.com/sonora-audio/sonora/internal/plugin"
)

// Command builds the "plugin" subcommand group.
func Command(settings *config.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugin",
		Short: "Inspect and reconcile plugin modules",
	}

	cmd.AddCommand(listCommand(settings), reconcileCommand(settings))
	return cmd
}

func newRegistry() *plugin.Registry {
	host := &plugin.HostVTable{
		Log:         func(level, pluginID, msg string) { fmt.Printf("[%s] %s: %s\n", level, pluginID, msg) },
		RuntimeRoot: func() string { return "" },
		EmitEvent:   func(pluginID string, event any) {},
		PollEvent:   func(pluginID string) (any, bool) { return nil, false },
		SendControl: func(pluginID string, msg plugin.WorkerControlMessage) {},
	}
	return plugin.NewRegistry(host)
}

func discoverAll(dirs []string) ([]plugin.DiscoveredPlugin, error) {
	var all []plugin.DiscoveredPlugin
	for _, dir := range dirs {
		found, err := plugin.DiscoverPlugins(dir)
		if err != nil {
			return nil, fmt.Errorf("discover %s: %w", dir, err)
		}
		all = append(all, found...)
	}
	return all, nil
}

func listCommand(settings *config.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List discovered plugin install receipts",
		RunE: func(cmd *cobra.Command, args []string) error {
			discovered, err := discoverAll(settings.Plugin.Dirs)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			defer w.Flush()
			fmt.Fprintln(w, "ID\tAPI VERSION\tNAME\tLIBRARY")
			for _, d := range discovered {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", d.Manifest.ID, d.Manifest.APIVersion, d.Manifest.Name, d.LibraryPath)
			}
			return nil
		},
	}
}

func reconcileCommand(settings *config.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Install or retire plugins to match the discovered set, then GC drained generations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !settings.Plugin.Enabled {
				fmt.Println("plugins disabled (--plugins-enabled=false); nothing to do")
				return nil
			}
			discovered, err := discoverAll(settings.Plugin.Dirs)
			if err != nil {
				return err
			}

			reg := newRegistry()
			report := reg.Reconcile(discovered)

			for _, id := range report.Loaded {
				fmt.Printf("loaded: %s\n", id)
			}
			for _, id := range report.Retired {
				fmt.Printf("retired: %s\n", id)
			}
			for _, loadErr := range report.Errors {
				fmt.Fprintf(os.Stderr, "error: %v\n", loadErr)
			}

			released := reg.GC()
			fmt.Printf("reconciled %d discovered, retired %d, gc released %d drained generations\n",
				len(discovered), len(report.Retired), released)
			return nil
		},
	}
}
