package plugin

import "context"

// ABIVersion is the exact version a loaded plugin module must report
// (spec §4.9: "validates ABI version exactly").
const ABIVersion uint32 = 1

// DefaultEntrySymbol is the exported symbol name plugins use unless their
// manifest names a different one.
const DefaultEntrySymbol = "SonoraPluginEntry"

// CapabilityKind enumerates the kinds of capability a plugin module may
// expose (spec §1: decoders, source catalogs, DSP transforms, output sinks,
// lyrics providers).
type CapabilityKind int

const (
	CapabilityDecoder CapabilityKind = iota
	CapabilitySourceCatalog
	CapabilityDSP
	CapabilitySink
	CapabilityLyrics
)

func (k CapabilityKind) String() string {
	switch k {
	case CapabilityDecoder:
		return "decoder"
	case CapabilitySourceCatalog:
		return "source_catalog"
	case CapabilityDSP:
		return "dsp"
	case CapabilitySink:
		return "sink"
	case CapabilityLyrics:
		return "lyrics"
	default:
		return "unknown"
	}
}

// CapabilityDescriptor is one entry of a plugin module's capability table
// (spec §6: "capability table (kind, type_id, display_name, config schema,
// default config)").
type CapabilityDescriptor struct {
	Kind          CapabilityKind
	TypeID        string
	DisplayName   string
	ConfigSchema  string
	DefaultConfig string

	// DecoderExtensions is non-empty only for CapabilityDecoder entries: the
	// lowercased file extensions (without leading dot) this decoder scores
	// against, used to build the introspection layer's decoder-candidate
	// table. A single "*" entry marks a wildcard decoder.
	DecoderExtensions []string

	// NewInstance constructs a capability instance from a JSON config blob.
	// Absent for capabilities that are data-only (rare) but present for every
	// capability this core actually instantiates.
	NewInstance func(configJSON string) (Instance, error)
}

// Metadata is the plugin-reported identity, required to match the manifest
// exactly (spec §4.9).
type Metadata struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	APIVersion uint32 `json:"api_version"`
	Version    string `json:"version"`
}

// HostVTable is the set of host services passed to a plugin's entry
// function (spec §6: "log, runtime-root query, event emit/poll, control
// send, free-host-string" — the free-host-string half of the C ABI has no
// Go equivalent since Go plugins exchange native values, not C strings).
type HostVTable struct {
	Log         func(level, pluginID, msg string)
	RuntimeRoot func() string
	EmitEvent   func(pluginID string, event any)
	PollEvent   func(pluginID string) (any, bool)
	SendControl func(pluginID string, msg WorkerControlMessage)
}

// EntryFunc is the signature every plugin shared object must export under
// its manifest's entry symbol (or DefaultEntrySymbol).
type EntryFunc func(host *HostVTable) (*Module, error)

// Module is what a plugin's entry function returns: its reported identity,
// capability table, and an optional shutdown hook run once the owning
// lease's strong count drops to zero.
type Module struct {
	APIVersion   uint32
	MetadataJSON string
	Capabilities []CapabilityDescriptor
	Shutdown     func()
}

// Instance is a live capability instance (a decoder, a DSP stage, a sink, a
// lyrics provider) created from a CapabilityDescriptor.
type Instance interface {
	// ApplyConfigUpdateJSON is consulted by the Worker Endpoint Controller
	// whenever a config update is requested for the worker holding this
	// instance (spec §4.9).
	ApplyConfigUpdateJSON(newConfigJSON string) (InstanceUpdateResult, error)
	Close() error
}

// InstanceUpdateOutcome is the plugin's verdict on a config update, decided
// by its own plan_config_update_json logic (spec §4.9).
type InstanceUpdateOutcome int

const (
	UpdateApplied InstanceUpdateOutcome = iota
	UpdateRequiresRecreate
	UpdateRejected
	UpdateFailed
)

// InstanceUpdateResult is the plugin's response to ApplyConfigUpdateJSON.
type InstanceUpdateResult struct {
	Outcome  InstanceUpdateOutcome
	Revision uint64
	Reason   string
	Err      error
}

// DecoderInstance is the capability-specific contract a CapabilityDecoder
// instance additionally satisfies, grounded on the original DecoderInstance
// trait (spec/seek_ms/read_interleaved_f32): a decoder reports the stream
// format it decided on once opened, seeks by position, and yields
// interleaved float32 frames until eof.
type DecoderInstance interface {
	Instance
	OpenedStreamSpec() (sampleRate uint32, channels uint16, err error)
	SeekMs(ctx context.Context, positionMs uint64) error
	ReadInterleavedF32(ctx context.Context, frames uint32) (samples []float32, eof bool, err error)
}

// DSPInstance is the capability-specific contract a CapabilityDSP instance
// additionally satisfies: an in-place transform over interleaved float32
// frames at a fixed channel count.
type DSPInstance interface {
	Instance
	ProcessInterleavedF32(ctx context.Context, samples []float32, channels uint16) ([]float32, error)
}

// SinkInstance is the capability-specific contract a CapabilitySink instance
// additionally satisfies: a playback target accepting interleaved float32
// frames at a negotiated format.
type SinkInstance interface {
	Instance
	PrepareStream(ctx context.Context, sampleRate uint32, channels uint16) error
	WriteInterleavedF32(ctx context.Context, samples []float32) error
	FlushStream(ctx context.Context) error
}
