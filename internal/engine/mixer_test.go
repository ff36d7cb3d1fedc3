package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelMixerStagePrepareSetsTargetChannels(t *testing.T) {
	t.Parallel()
	m := NewChannelMixerStage(2, LfeMute, "")
	out, err := m.Prepare(context.Background(), StreamSpec{SampleRate: 48000, Channels: 1})
	require.NoError(t, err)
	assert.Equal(t, StreamSpec{SampleRate: 48000, Channels: 2}, out)
}

func TestChannelMixerStagePrepareRejectsInvalidSpec(t *testing.T) {
	t.Parallel()
	m := NewChannelMixerStage(2, LfeMute, "")
	_, err := m.Prepare(context.Background(), StreamSpec{})
	assert.Error(t, err)
}

func TestChannelMixerStageMonoToStereoDuplicates(t *testing.T) {
	t.Parallel()
	m := NewChannelMixerStage(2, LfeMute, "")
	_, err := m.Prepare(context.Background(), StreamSpec{SampleRate: 48000, Channels: 1})
	require.NoError(t, err)

	block := &AudioBlock{Channels: 1, Samples: []float32{0.5, -0.25}}
	status, err := m.Process(context.Background(), block)
	require.NoError(t, err)
	assert.Equal(t, StatusOk, status)
	assert.Equal(t, uint16(2), block.Channels)
	assert.Equal(t, []float32{0.5, 0.5, -0.25, -0.25}, block.Samples)
}

func TestChannelMixerStageStereoToMonoAverages(t *testing.T) {
	t.Parallel()
	m := NewChannelMixerStage(1, LfeMute, "")
	_, err := m.Prepare(context.Background(), StreamSpec{SampleRate: 48000, Channels: 2})
	require.NoError(t, err)

	block := &AudioBlock{Channels: 2, Samples: []float32{1, 0, 0, 1}}
	_, err = m.Process(context.Background(), block)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), block.Channels)
	assert.Equal(t, []float32{0.5, 0.5}, block.Samples)
}

func TestChannelMixerStageSameChannelsIsNoop(t *testing.T) {
	t.Parallel()
	m := NewChannelMixerStage(2, LfeMute, "")
	_, err := m.Prepare(context.Background(), StreamSpec{SampleRate: 48000, Channels: 2})
	require.NoError(t, err)

	block := &AudioBlock{Channels: 2, Samples: []float32{1, 2, 3, 4}}
	status, err := m.Process(context.Background(), block)
	require.NoError(t, err)
	assert.Equal(t, StatusOk, status)
	assert.Equal(t, []float32{1, 2, 3, 4}, block.Samples)
}

func TestChannelMixerStageReconfiguresWhenInputChannelsChangeMidStream(t *testing.T) {
	t.Parallel()
	m := NewChannelMixerStage(2, LfeMute, "")
	_, err := m.Prepare(context.Background(), StreamSpec{SampleRate: 48000, Channels: 1})
	require.NoError(t, err)

	mono := &AudioBlock{Channels: 1, Samples: []float32{1}}
	_, err = m.Process(context.Background(), mono)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1}, mono.Samples)

	// A later block arrives already stereo (e.g. a mid-stream format change);
	// the mixer must rebuild its matrix rather than apply the stale one.
	stereo := &AudioBlock{Channels: 2, Samples: []float32{3, 4}}
	status, err := m.Process(context.Background(), stereo)
	require.NoError(t, err)
	assert.Equal(t, StatusOk, status)
	assert.Equal(t, []float32{3, 4}, stereo.Samples)
}

func TestChannelMixerStageApplyControlUpdatesLfeMode(t *testing.T) {
	t.Parallel()
	m := NewChannelMixerStage(2, LfeMute, "volume")
	assert.Equal(t, "volume", m.StageKey())

	consumed, err := m.ApplyControl(context.Background(), LfeMixToFront)
	require.NoError(t, err)
	assert.True(t, consumed)
	assert.Equal(t, LfeMixToFront, m.lfeMode)

	consumed, err = m.ApplyControl(context.Background(), "not a lfe mode")
	require.NoError(t, err)
	assert.False(t, consumed)
}

func TestGenericMatrixUpmixSharesInputAcrossExtraOutputs(t *testing.T) {
	t.Parallel()
	matrix := genericMatrix(1, 3)
	require.Len(t, matrix, 3)
	assert.Equal(t, []float32{1}, matrix[0])
	assert.Equal(t, []float32{1}, matrix[1])
	assert.Equal(t, []float32{1}, matrix[2])
}

func TestGenericMatrixDownmixFoldsExtraInputsIntoEveryOutput(t *testing.T) {
	t.Parallel()
	matrix := genericMatrix(3, 1)
	require.Len(t, matrix, 1)
	// Output 0 keeps its identity coefficient from input 0, plus an even
	// share of every extra input channel (1 and 2).
	assert.Equal(t, float32(1), matrix[0][0])
	assert.InDelta(t, float32(0.5), matrix[0][1], 0.0001)
	assert.InDelta(t, float32(0.5), matrix[0][2], 0.0001)
}
