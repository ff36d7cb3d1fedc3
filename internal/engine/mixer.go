package engine

import (
	"context"
	"math"
)

// LfeMode controls how the low-frequency-effects channel is folded when
// downmixing a layout that carries one (spec §6).
type LfeMode int

const (
	LfeMute LfeMode = iota
	LfeMixToFront
)

const (
	mixerCenterCoeff   = 0.70710678118 // 1/sqrt(2)
	mixerSurroundCoeff = 0.70710678118
	mixerLfeMixCoeff   = 0.707
)

// ChannelMixerStage is the C4 Mixer stage: it reconfigures its matrix when
// the input channel count changes between blocks and rewrites block.Samples
// / block.Channels in place to the target layout.
//
// Matrix layouts are grounded on stellatune-mixer's ChannelMixer: special
// cases for Mono<->Stereo, Stereo<->5.1, 5.1<->Stereo/Mono, 7.1->{5.1,
// Stereo, Mono}; a generic identity-plus-even-distribution fallback covers
// every other channel-count pair.
type ChannelMixerStage struct {
	targetChannels uint16
	lfeMode        LfeMode

	curInChannels uint16
	matrix        [][]float32 // matrix[outCh][inCh]

	stageKey string
}

// NewChannelMixerStage builds a mixer targeting targetChannels output
// channels under the given LFE fold policy.
func NewChannelMixerStage(targetChannels uint16, lfeMode LfeMode, stageKey string) *ChannelMixerStage {
	return &ChannelMixerStage{targetChannels: targetChannels, lfeMode: lfeMode, stageKey: stageKey}
}

func (m *ChannelMixerStage) Prepare(ctx context.Context, inSpec StreamSpec) (StreamSpec, error) {
	if err := inSpec.Validate(); err != nil {
		return StreamSpec{}, err
	}
	m.reconfigure(inSpec.Channels)
	return StreamSpec{SampleRate: inSpec.SampleRate, Channels: m.targetChannels}, nil
}

func (m *ChannelMixerStage) reconfigure(inChannels uint16) {
	if m.curInChannels == inChannels && m.matrix != nil {
		return
	}
	m.curInChannels = inChannels
	m.matrix = buildMixMatrix(inChannels, m.targetChannels, m.lfeMode)
}

func (m *ChannelMixerStage) Process(ctx context.Context, block *AudioBlock) (StageStatus, error) {
	if block.Channels != m.curInChannels {
		m.reconfigure(block.Channels)
	}
	if m.curInChannels == m.targetChannels {
		return StatusOk, nil
	}
	frames := block.Frames()
	out := make([]float32, frames*int(m.targetChannels))
	for f := 0; f < frames; f++ {
		inBase := f * int(m.curInChannels)
		outBase := f * int(m.targetChannels)
		for o := 0; o < int(m.targetChannels); o++ {
			var acc float32
			row := m.matrix[o]
			for i := 0; i < int(m.curInChannels); i++ {
				acc += block.Samples[inBase+i] * row[i]
			}
			out[outBase+o] = acc
		}
	}
	block.Samples = out
	block.Channels = m.targetChannels
	return StatusOk, nil
}

func (m *ChannelMixerStage) ApplyControl(ctx context.Context, control any) (bool, error) {
	if mode, ok := control.(LfeMode); ok {
		m.lfeMode = mode
		m.matrix = nil // force rebuild with new LFE policy
		return true, nil
	}
	return false, nil
}

func (m *ChannelMixerStage) Flush(ctx context.Context) error { return nil }
func (m *ChannelMixerStage) Stop(ctx context.Context) error  { return nil }
func (m *ChannelMixerStage) StageKey() string                { return m.stageKey }

// buildMixMatrix returns matrix[outCh][inCh] coefficients for inCh -> outCh.
func buildMixMatrix(inCh, outCh uint16, lfe LfeMode) [][]float32 {
	switch {
	case inCh == 1 && outCh == 2:
		// Mono -> Stereo: duplicate.
		return [][]float32{{1}, {1}}
	case inCh == 2 && outCh == 1:
		// Stereo -> Mono: average.
		return [][]float32{{0.5, 0.5}}
	case inCh == 2 && outCh == 6:
		return stereoTo51()
	case inCh == 6 && outCh == 2:
		return fiveOneToStereo(lfe)
	case inCh == 6 && outCh == 1:
		return fiveOneToMono(lfe)
	case inCh == 8 && outCh == 6:
		return sevenOneTo51(lfe)
	case inCh == 8 && outCh == 2:
		return sevenOneToStereo(lfe)
	case inCh == 8 && outCh == 1:
		return sevenOneToMono(lfe)
	default:
		return genericMatrix(inCh, outCh)
	}
}

// layout indices for 5.1: FL, FR, C, LFE, SL, SR
// layout indices for 7.1: FL, FR, C, LFE, SL, SR, RL, RR

func stereoTo51() [][]float32 {
	// FL, FR, C, LFE, SL, SR
	return [][]float32{
		{1, 0}, // FL
		{0, 1}, // FR
		{0, 0}, // C
		{0, 0}, // LFE
		{0, 0}, // SL
		{0, 0}, // SR
	}
}

func fiveOneToStereo(lfe LfeMode) [][]float32 {
	lfeCoeff := lfeCoeff(lfe)
	return [][]float32{
		{1, 0, mixerCenterCoeff, lfeCoeff, mixerSurroundCoeff, 0},
		{0, 1, mixerCenterCoeff, lfeCoeff, 0, mixerSurroundCoeff},
	}
}

func fiveOneToMono(lfe LfeMode) [][]float32 {
	lfeCoeff := lfeCoeff(lfe)
	c := float32(0.5)
	return [][]float32{
		{c, c, mixerCenterCoeff * 0.7, lfeCoeff, mixerSurroundCoeff * 0.5, mixerSurroundCoeff * 0.5},
	}
}

func sevenOneTo51(lfe LfeMode) [][]float32 {
	// FL FR C LFE SL SR RL RR -> FL FR C LFE SL' SR' (surrounds fold rears in)
	return [][]float32{
		{1, 0, 0, 0, 0, 0, 0, 0},
		{0, 1, 0, 0, 0, 0, 0, 0},
		{0, 0, 1, 0, 0, 0, 0, 0},
		{0, 0, 0, 1, 0, 0, 0, 0},
		{0, 0, 0, 0, 1, 0, mixerSurroundCoeff, 0},
		{0, 0, 0, 0, 0, 1, 0, mixerSurroundCoeff},
	}
}

func sevenOneToStereo(lfe LfeMode) [][]float32 {
	lfeCoeff := lfeCoeff(lfe)
	return [][]float32{
		{1, 0, mixerCenterCoeff, lfeCoeff, mixerSurroundCoeff, 0, mixerSurroundCoeff, 0},
		{0, 1, mixerCenterCoeff, lfeCoeff, 0, mixerSurroundCoeff, 0, mixerSurroundCoeff},
	}
}

func sevenOneToMono(lfe LfeMode) [][]float32 {
	lfeCoeff := lfeCoeff(lfe)
	c := float32(0.5)
	s := float32(0.35)
	return [][]float32{
		{c, c, mixerCenterCoeff * 0.7, lfeCoeff, s, s, s, s},
	}
}

func lfeCoeff(lfe LfeMode) float32 {
	if lfe == LfeMixToFront {
		return mixerLfeMixCoeff
	}
	return 0
}

// genericMatrix handles arbitrary channel-count pairs not special-cased
// above: an identity submatrix for the shared channel count, with any extra
// output channels fed an even share of the input channels and any extra
// input channels evenly folded into the output channels.
func genericMatrix(inCh, outCh uint16) [][]float32 {
	m := make([][]float32, outCh)
	for o := range m {
		m[o] = make([]float32, inCh)
	}
	shared := int(inCh)
	if int(outCh) < shared {
		shared = int(outCh)
	}
	for i := 0; i < shared; i++ {
		m[i][i] = 1
	}
	if outCh > inCh {
		// Extra output channels: distribute evenly across all input channels.
		share := float32(1) / float32(inCh)
		for o := int(inCh); o < int(outCh); o++ {
			for i := 0; i < int(inCh); i++ {
				m[o][i] = share
			}
		}
	} else if inCh > outCh {
		// Extra input channels: fold evenly into every output channel.
		share := float32(1) / float32(math.Max(1, float64(inCh-outCh)))
		for i := int(outCh); i < int(inCh); i++ {
			for o := 0; o < int(outCh); o++ {
				m[o][i] = share
			}
		}
	}
	return m
}
