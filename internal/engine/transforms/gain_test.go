package transforms

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonora-audio/sonora/internal/engine"
)

func TestGainStageUnityPassthrough(t *testing.T) {
	t.Parallel()
	g := NewGainStage("test-gain", "main.gain.0")
	_, err := g.Prepare(context.Background(), engine.StreamSpec{SampleRate: 48000, Channels: 2})
	require.NoError(t, err)

	block := &engine.AudioBlock{Channels: 2, Samples: []float32{0.5, -0.5, 1.0, -1.0}}
	status, err := g.Process(context.Background(), block)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusOk, status)
	assert.InDeltaSlice(t, []float64{0.5, -0.5, 1.0, -1.0}, toFloat64Slice(block.Samples), 1e-6)
}

func TestGainStageImmediateTransition(t *testing.T) {
	t.Parallel()
	g := NewGainStage("test-gain", "main.gain.0")
	_, err := g.Prepare(context.Background(), engine.StreamSpec{SampleRate: 48000, Channels: 1})
	require.NoError(t, err)

	consumed, err := g.ApplyControl(context.Background(), engine.TransitionGainControl{
		Request: engine.GainTransitionRequest{TargetGain: 0.5, RampMs: 0},
	})
	require.NoError(t, err)
	assert.True(t, consumed)

	block := &engine.AudioBlock{Channels: 1, Samples: []float32{1.0, 1.0}}
	_, err = g.Process(context.Background(), block)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, block.Samples[0], 1e-6)
	assert.InDelta(t, 0.5, block.Samples[1], 1e-6)
}

func TestGainStageRejectsUnknownControl(t *testing.T) {
	t.Parallel()
	g := NewGainStage("test-gain", "main.gain.0")
	consumed, err := g.ApplyControl(context.Background(), engine.GaplessTrimControl{})
	require.NoError(t, err)
	assert.False(t, consumed)
}

func toFloat64Slice(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}
