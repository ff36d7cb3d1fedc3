// Package pluginstage adapts plugin module capability instances to the
// engine's stage contracts, so a decoder/DSP/sink capability loaded through
// the plugin runtime can sit in a Runner's pipeline exactly like a built-in
// stage. Grounded on original_source's worker_endpoint/decoder.rs +
// capabilities/decoder.rs EngineDecoder enum, which wraps either a built-in
// decoder or a stellatune_plugins::DecoderInstance behind the same
// spec/seek_ms/next_block surface; this package is the Go side of that
// same wrapping, minus the enum (Go already has one stage type per plugin
// capability, so no Builtin/Plugin variant is needed here).
package pluginstage

import (
	"context"
	"encoding/json"

	"github.com/sonora-audio/sonora/internal/engine"
	"github.com/sonora-audio/sonora/internal/errors"
	"github.com/sonora-audio/sonora/internal/plugin"
)

const component = "engine.pluginstage"

func newErr(kind string) *errors.ErrorBuilder {
	return errors.Newf("plugin stage: %s", kind).
		Component(component).
		Category(errors.CategoryStage)
}

// release detaches a capability instance from its generation, decrementing
// live_instances. Every adapter below calls it exactly once from Stop.
type release func()

// PluginDecoderStage adapts a plugin.DecoderInstance to engine.DecoderStage.
type PluginDecoderStage struct {
	registry *plugin.Registry
	pluginID string
	typeID   string

	instance plugin.DecoderInstance
	release  release
}

// NewPluginDecoderStage binds a decoder capability by plugin id and type id;
// the instance itself is created lazily in Prepare, once the source ref is
// known, since the plugin ABI takes the source reference as part of the
// instance's construction-time config JSON.
func NewPluginDecoderStage(reg *plugin.Registry, pluginID, typeID string) *PluginDecoderStage {
	return &PluginDecoderStage{registry: reg, pluginID: pluginID, typeID: typeID}
}

func (s *PluginDecoderStage) Prepare(ctx context.Context, handle engine.SourceHandle, pctx *engine.PipelineContext) (engine.StreamSpec, error) {
	configJSON, err := json.Marshal(struct {
		SourceRef string `json:"source_ref"`
	}{SourceRef: handle.Ref()})
	if err != nil {
		return engine.StreamSpec{}, newErr("marshal decoder config").Context("cause", err.Error()).Build()
	}

	inst, rel, err := s.registry.NewCapabilityInstance(s.pluginID, plugin.CapabilityDecoder, s.typeID, string(configJSON))
	if err != nil {
		return engine.StreamSpec{}, err
	}
	decInst, ok := inst.(plugin.DecoderInstance)
	if !ok {
		rel()
		return engine.StreamSpec{}, newErr("decoder capability instance missing DecoderInstance methods").
			Context("plugin_id", s.pluginID).Context("type_id", s.typeID).Build()
	}

	sampleRate, channels, err := decInst.OpenedStreamSpec()
	if err != nil {
		rel()
		return engine.StreamSpec{}, err
	}
	spec := engine.StreamSpec{SampleRate: sampleRate, Channels: channels}
	if err := spec.Validate(); err != nil {
		rel()
		return engine.StreamSpec{}, err
	}

	s.instance = decInst
	s.release = rel
	return spec, nil
}

func (s *PluginDecoderStage) NextBlock(ctx context.Context, out *engine.AudioBlock) (engine.StageStatus, error) {
	frames := out.Frames()
	if frames <= 0 {
		frames = 1
	}
	samples, eof, err := s.instance.ReadInterleavedF32(ctx, uint32(frames))
	if err != nil {
		return engine.StatusFatal, err
	}
	out.Samples = append(out.Samples[:0], samples...)
	if eof && len(samples) == 0 {
		return engine.StatusEof, nil
	}
	return engine.StatusOk, nil
}

// CurrentGaplessTrimSpec returns a zero spec: gapless-trim hints are a
// built-in-decoder-only concern (spec §4.4's metadata-derived encoder-delay
// trim), which plugin decoders don't currently surface across the ABI.
func (s *PluginDecoderStage) CurrentGaplessTrimSpec() engine.GaplessTrimSpec { return engine.GaplessTrimSpec{} }

// EstimatedRemainingFrames is unknown for a plugin decoder: the ABI has no
// duration-query call.
func (s *PluginDecoderStage) EstimatedRemainingFrames() (uint64, bool) { return 0, false }

func (s *PluginDecoderStage) Flush(ctx context.Context) error { return nil }

func (s *PluginDecoderStage) Stop(ctx context.Context) error {
	if s.instance == nil {
		return nil
	}
	err := s.instance.Close()
	s.release()
	s.instance = nil
	s.release = nil
	return err
}

// PluginTransformStage adapts a plugin.DSPInstance to engine.TransformStage.
type PluginTransformStage struct {
	registry *plugin.Registry
	pluginID string
	typeID   string
	stageKey string

	channels uint16
	instance plugin.DSPInstance
	release  release
}

// NewPluginTransformStage binds a DSP capability, creating its instance
// eagerly from the supplied config (DSP instances don't need a source ref).
func NewPluginTransformStage(reg *plugin.Registry, pluginID, typeID, stageKey, configJSON string) (*PluginTransformStage, error) {
	inst, rel, err := reg.NewCapabilityInstance(pluginID, plugin.CapabilityDSP, typeID, configJSON)
	if err != nil {
		return nil, err
	}
	dspInst, ok := inst.(plugin.DSPInstance)
	if !ok {
		rel()
		return nil, newErr("dsp capability instance missing DSPInstance methods").
			Context("plugin_id", pluginID).Context("type_id", typeID).Build()
	}
	return &PluginTransformStage{
		registry: reg,
		pluginID: pluginID,
		typeID:   typeID,
		stageKey: stageKey,
		instance: dspInst,
		release:  rel,
	}, nil
}

func (s *PluginTransformStage) Prepare(ctx context.Context, inSpec engine.StreamSpec) (engine.StreamSpec, error) {
	s.channels = inSpec.Channels
	return inSpec, nil
}

func (s *PluginTransformStage) Process(ctx context.Context, block *engine.AudioBlock) (engine.StageStatus, error) {
	out, err := s.instance.ProcessInterleavedF32(ctx, block.Samples, s.channels)
	if err != nil {
		return engine.StatusFatal, err
	}
	block.Samples = out
	return engine.StatusOk, nil
}

// ApplyControl never consumes a control message: out-of-band DSP parameter
// pushes route through the plugin runtime's ApplyConfigUpdateJSON/worker
// controller path instead (spec §4.9), not the stage-control channel.
func (s *PluginTransformStage) ApplyControl(ctx context.Context, control any) (bool, error) {
	return false, nil
}

func (s *PluginTransformStage) Flush(ctx context.Context) error { return nil }

func (s *PluginTransformStage) Stop(ctx context.Context) error {
	if s.instance == nil {
		return nil
	}
	err := s.instance.Close()
	s.release()
	s.instance = nil
	s.release = nil
	return err
}

func (s *PluginTransformStage) StageKey() string { return s.stageKey }

// PluginSinkStage adapts a plugin.SinkInstance to engine.SinkStage.
type PluginSinkStage struct {
	registry *plugin.Registry
	pluginID string
	typeID   string

	instance plugin.SinkInstance
	release  release
}

// NewPluginSinkStage binds a sink capability; the instance is created
// eagerly since sinks take no source-dependent config.
func NewPluginSinkStage(reg *plugin.Registry, pluginID, typeID, configJSON string) (*PluginSinkStage, error) {
	inst, rel, err := reg.NewCapabilityInstance(pluginID, plugin.CapabilitySink, typeID, configJSON)
	if err != nil {
		return nil, err
	}
	sinkInst, ok := inst.(plugin.SinkInstance)
	if !ok {
		rel()
		return nil, newErr("sink capability instance missing SinkInstance methods").
			Context("plugin_id", pluginID).Context("type_id", typeID).Build()
	}
	return &PluginSinkStage{registry: reg, pluginID: pluginID, typeID: typeID, instance: sinkInst, release: rel}, nil
}

func (s *PluginSinkStage) Prepare(ctx context.Context, spec engine.StreamSpec) error {
	return s.instance.PrepareStream(ctx, spec.SampleRate, spec.Channels)
}

func (s *PluginSinkStage) Write(ctx context.Context, block *engine.AudioBlock) (engine.StageStatus, error) {
	if err := s.instance.WriteInterleavedF32(ctx, block.Samples); err != nil {
		return engine.StatusFatal, err
	}
	return engine.StatusOk, nil
}

func (s *PluginSinkStage) Flush(ctx context.Context) error {
	return s.instance.FlushStream(ctx)
}

func (s *PluginSinkStage) Stop(ctx context.Context) error {
	if s.instance == nil {
		return nil
	}
	err := s.instance.Close()
	s.release()
	s.instance = nil
	s.release = nil
	return err
}
