package plugin

import (
	"encoding/json"
	"os"
	goplugin "plugin"

	"github.com/sonora-audio/sonora/internal/errors"
)

// loadedCandidate is the result of a successful load: everything the
// registry needs to either install it as a plugin's current generation or
// discard it on a later validation failure.
type loadedCandidate struct {
	pluginID     string
	pluginName   string
	metadataJSON string
	capabilities []CapabilityDescriptor
	loaded       *LoadedModule
}

// loadDiscoveredPlugin performs the full load sequence spec §4.9 describes:
// ABI-version check -> shadow copy -> dlopen -> entry symbol -> entry call
// -> metadata validate -> capability enumerate. Grounded on
// stellatune-plugins/src/load.rs's load_discovered_plugin, using Go's
// stdlib `plugin` package in place of libloading/dlopen (see DESIGN.md for
// why no third-party alternative exists for native Go plugin loading).
func loadDiscoveredPlugin(discovered DiscoveredPlugin, baseHost *HostVTable) (*loadedCandidate, error) {
	if discovered.Manifest.APIVersion != ABIVersion {
		return nil, errors.New(ErrABIVersionMismatch).
			Context("plugin_id", discovered.Manifest.ID).
			Context("plugin_api_version", discovered.Manifest.APIVersion).
			Context("host_api_version", ABIVersion).
			Build()
	}
	if _, err := os.Stat(discovered.LibraryPath); err != nil {
		return nil, errors.New(ErrLibraryMissing).
			Context("plugin_id", discovered.Manifest.ID).
			Context("path", discovered.LibraryPath).
			Build()
	}

	shadowPath, err := makeShadowLibraryCopy(discovered.LibraryPath, discovered.Manifest.ID)
	if err != nil {
		return nil, err
	}

	lib, err := goplugin.Open(shadowPath)
	if err != nil {
		removeShadowCopyBestEffort(shadowPath)
		return nil, errors.New(ErrLibraryMissing).
			Context("plugin_id", discovered.Manifest.ID).
			Context("shadow_path", shadowPath).
			Context("cause", err.Error()).
			Build()
	}

	entrySymbol := discovered.Manifest.EntrySymbolOrDefault()
	sym, err := lib.Lookup(entrySymbol)
	if err != nil {
		removeShadowCopyBestEffort(shadowPath)
		return nil, errors.New(ErrEntrySymbolMissing).
			Context("plugin_id", discovered.Manifest.ID).
			Context("entry_symbol", entrySymbol).
			Build()
	}
	entry, ok := sym.(func(*HostVTable) (*Module, error))
	if !ok {
		removeShadowCopyBestEffort(shadowPath)
		return nil, errors.New(ErrEntrySymbolMissing).
			Context("plugin_id", discovered.Manifest.ID).
			Context("entry_symbol", entrySymbol).
			Context("detail", "symbol has unexpected signature").
			Build()
	}

	hostVTable := scopedHostVTable(baseHost, discovered.Manifest.ID, discovered.RootDir)

	module, err := entry(hostVTable)
	if err != nil {
		removeShadowCopyBestEffort(shadowPath)
		return nil, errors.New(ErrEntryReturnedNil).
			Context("plugin_id", discovered.Manifest.ID).
			Context("cause", err.Error()).
			Build()
	}
	if module == nil {
		removeShadowCopyBestEffort(shadowPath)
		return nil, errors.New(ErrEntryReturnedNil).Context("plugin_id", discovered.Manifest.ID).Build()
	}
	if module.APIVersion != ABIVersion {
		removeShadowCopyBestEffort(shadowPath)
		return nil, errors.New(ErrABIVersionMismatch).
			Context("plugin_id", discovered.Manifest.ID).
			Context("module_api_version", module.APIVersion).
			Build()
	}

	var metadata Metadata
	if err := json.Unmarshal([]byte(module.MetadataJSON), &metadata); err != nil {
		removeShadowCopyBestEffort(shadowPath)
		return nil, errors.New(ErrMetadataMismatch).
			Context("plugin_id", discovered.Manifest.ID).
			Context("cause", err.Error()).
			Build()
	}
	if metadata.ID != discovered.Manifest.ID {
		removeShadowCopyBestEffort(shadowPath)
		return nil, errors.New(ErrMetadataMismatch).
			Context("manifest_id", discovered.Manifest.ID).
			Context("metadata_id", metadata.ID).
			Build()
	}
	if metadata.APIVersion != ABIVersion {
		removeShadowCopyBestEffort(shadowPath)
		return nil, errors.New(ErrABIVersionMismatch).
			Context("plugin_id", metadata.ID).
			Context("metadata_api_version", metadata.APIVersion).
			Build()
	}

	return &loadedCandidate{
		pluginID:     metadata.ID,
		pluginName:   metadata.Name,
		metadataJSON: module.MetadataJSON,
		capabilities: module.Capabilities,
		loaded: &LoadedModule{
			RootDir:           discovered.RootDir,
			LibraryPath:       discovered.LibraryPath,
			ShadowLibraryPath: shadowPath,
			Module:            module,
			HostVTable:        hostVTable,
		},
	}, nil
}

// scopedHostVTable wraps baseHost so every call the plugin makes is
// automatically tagged with its own plugin id and runtime root, the Go
// analogue of stellatune's per-plugin PluginHostCtx closure capture.
func scopedHostVTable(baseHost *HostVTable, pluginID, rootDir string) *HostVTable {
	return &HostVTable{
		Log: func(level, _ string, msg string) {
			if baseHost != nil && baseHost.Log != nil {
				baseHost.Log(level, pluginID, msg)
			}
		},
		RuntimeRoot: func() string { return rootDir },
		EmitEvent: func(_ string, event any) {
			if baseHost != nil && baseHost.EmitEvent != nil {
				baseHost.EmitEvent(pluginID, event)
			}
		},
		PollEvent: func(_ string) (any, bool) {
			if baseHost != nil && baseHost.PollEvent != nil {
				return baseHost.PollEvent(pluginID)
			}
			return nil, false
		},
		SendControl: func(_ string, msg WorkerControlMessage) {
			if baseHost != nil && baseHost.SendControl != nil {
				baseHost.SendControl(pluginID, msg)
			}
		},
	}
}
