// Command sonora is the audio engine's CLI entrypoint: load configuration,
// build the root cobra command, and execute it.
package main

import (
	"fmt"
	"os"

	"github.com/sonora-audio/sonora/cmd"
	"github.com/sonora-audio/sonora/internal/config"
)

func main() {
	settings, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
