package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResamplerStagePrepareSetsTargetRate(t *testing.T) {
	t.Parallel()
	r := NewResamplerStage(48000, ResampleBalanced, "")
	out, err := r.Prepare(context.Background(), StreamSpec{SampleRate: 44100, Channels: 2})
	require.NoError(t, err)
	assert.Equal(t, StreamSpec{SampleRate: 48000, Channels: 2}, out)
}

func TestResamplerStageSameRateIsNoop(t *testing.T) {
	t.Parallel()
	r := NewResamplerStage(48000, ResampleBalanced, "")
	_, err := r.Prepare(context.Background(), StreamSpec{SampleRate: 48000, Channels: 2})
	require.NoError(t, err)

	block := &AudioBlock{Channels: 2, Samples: []float32{1, 2, 3, 4}}
	status, err := r.Process(context.Background(), block)
	require.NoError(t, err)
	assert.Equal(t, StatusOk, status)
	assert.Equal(t, []float32{1, 2, 3, 4}, block.Samples)
}

func TestResamplerStageUpsampleDoublesFrameCount(t *testing.T) {
	t.Parallel()
	r := NewResamplerStage(96000, ResampleBalanced, "")
	_, err := r.Prepare(context.Background(), StreamSpec{SampleRate: 48000, Channels: 1})
	require.NoError(t, err)

	block := &AudioBlock{Channels: 1, Samples: []float32{0, 1, 2, 3}}
	status, err := r.Process(context.Background(), block)
	require.NoError(t, err)
	assert.Equal(t, StatusOk, status)
	assert.Equal(t, 8, len(block.Samples), "2x upsample of 4 frames should produce 8 frames")
}

func TestResamplerStageDownsampleHalvesFrameCount(t *testing.T) {
	t.Parallel()
	r := NewResamplerStage(24000, ResampleBalanced, "")
	_, err := r.Prepare(context.Background(), StreamSpec{SampleRate: 48000, Channels: 1})
	require.NoError(t, err)

	block := &AudioBlock{Channels: 1, Samples: []float32{0, 1, 2, 3, 4, 5, 6, 7}}
	status, err := r.Process(context.Background(), block)
	require.NoError(t, err)
	assert.Equal(t, StatusOk, status)
	assert.Equal(t, 4, len(block.Samples))
}

func TestResamplerStageFastQualityIsNearestNeighbor(t *testing.T) {
	t.Parallel()
	assert.Equal(t, float32(1), lerpSample(1, 2, 0.25, ResampleFast))
	assert.Equal(t, float32(2), lerpSample(1, 2, 0.75, ResampleFast))
}

func TestResamplerStageBalancedQualityLerpsLinearly(t *testing.T) {
	t.Parallel()
	assert.InDelta(t, float32(1.5), lerpSample(1, 2, 0.5, ResampleBalanced), 0.0001)
}

func TestResamplerStageScalarAndWidePathsAgree(t *testing.T) {
	t.Parallel()
	in := []float32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}
	outScalar := make([]float32, 8)
	outWide := make([]float32, 8)

	scalar := &ResamplerStage{quality: ResampleBalanced, ratio: 2.0 / 3.0, wideSIMD: false}
	wide := &ResamplerStage{quality: ResampleBalanced, ratio: 2.0 / 3.0, wideSIMD: true}

	scalar.resampleScalar(in, outScalar, 0, len(in), 8, 1)
	wide.resampleWide(in, outWide, 0, len(in), 8, 1)

	assert.Equal(t, outScalar, outWide, "unrolled wide path must produce identical samples to the scalar path")
}

func TestResamplerStageApplyControlUpdatesQuality(t *testing.T) {
	t.Parallel()
	r := NewResamplerStage(48000, ResampleBalanced, "resample")
	assert.Equal(t, "resample", r.StageKey())

	consumed, err := r.ApplyControl(context.Background(), ResampleHigh)
	require.NoError(t, err)
	assert.True(t, consumed)
	assert.Equal(t, ResampleHigh, r.quality)

	consumed, err = r.ApplyControl(context.Background(), 42)
	require.NoError(t, err)
	assert.False(t, consumed)
}

func TestResamplerStageFlushResetsFractionalPosition(t *testing.T) {
	t.Parallel()
	r := NewResamplerStage(44100, ResampleBalanced, "")
	_, err := r.Prepare(context.Background(), StreamSpec{SampleRate: 48000, Channels: 1})
	require.NoError(t, err)

	r.pos = 0.42 // simulate a carried-over fractional position from a prior block
	require.NoError(t, r.Flush(context.Background()))
	assert.Zero(t, r.pos)
}
