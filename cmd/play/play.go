// Package play implements the "sonora play" subcommand: a minimal CLI
// driver wiring the WAV test decoder to a malgo playback sink through the
// engine, grounded on the teacher's cmd/realtime realtime-loop wiring
// (config -> processor -> signal-driven shutdown) adapted to a one-shot
// playback session instead of a continuous capture loop.
package play

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sonora-audio/sonora/internal/config"
	"github.com/sonora-audio/sonora/internal/engine"
	"github.com/sonora-audio/sonora/internal/engine/sinks/malgo"
	"github.com/sonora-audio/sonora/internal/engine/testdecoder"
	"github.com/sonora-audio/sonora/internal/engine/transforms"
)

// Command builds the "play" subcommand.
func Command(settings *config.Settings) *cobra.Command {
	var deviceID string

	cmd := &cobra.Command{
		Use:   "play <file.wav>",
		Short: "Play a WAV file through the audio engine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), settings, args[0], deviceID)
		},
	}

	cmd.Flags().StringVar(&deviceID, "device", viper.GetString("play.device"), "Playback device id (default device if empty)")
	return cmd
}

func run(ctx context.Context, settings *config.Settings, inputPath, deviceID string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	const routeFingerprint = uint64(1)

	makeRunner := func(ctx context.Context, inputRef string) (*engine.Runner, *engine.SinkPlan, uint64, error) {
		source := testdecoder.NewFileSource()
		decoder := testdecoder.NewWavDecoder()
		gainStage := transforms.NewGainStage("master-gain", "")
		gaplessStage := transforms.NewGaplessTrimStage("")

		runner, err := engine.NewRunner(source, decoder, []engine.TransformStage{gainStage}, engine.DefaultBlockFrames, gaplessStage)
		if err != nil {
			return nil, nil, 0, err
		}

		plan := &engine.SinkPlan{
			RouteFingerprint: routeFingerprint,
			Build: func() (engine.SinkStage, error) {
				return malgo.NewPlaybackSink(malgo.SinkConfig{DeviceID: deviceID}), nil
			},
		}
		return runner, plan, routeFingerprint, nil
	}

	eng := engine.New(settings.EngineConfig(), makeRunner, nil)
	eng.Start(ctx)

	sub := eng.Events().Subscribe()
	defer eng.Events().Unsubscribe(sub)

	if err := eng.Control().SwitchTrack(ctx, inputPath, true); err != nil {
		_ = eng.Shutdown(context.Background())
		return fmt.Errorf("open %s: %w", inputPath, err)
	}

	fmt.Printf("playing %s (ctrl-c to stop)\n", inputPath)

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			return eng.Shutdown(shutdownCtx)
		case ev, ok := <-sub:
			if !ok {
				return nil
			}
			if ev.Kind == engine.EventEof {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				return eng.Shutdown(shutdownCtx)
			}
			if ev.Kind == engine.EventError {
				fmt.Fprintf(os.Stderr, "engine error: %s\n", ev.Message)
			}
		}
	}
}
