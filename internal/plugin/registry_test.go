package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// installTestLease bypasses native loading (loadDiscoveredPlugin requires a
// real shared object) and installs a lease directly, exactly the path
// InstallOrKeep takes after a successful load.
func installTestLease(r *Registry, pluginID string, module *Module) *ModuleLease {
	lease := newModuleLease(pluginID, `{"id":"`+pluginID+`"}`, &LoadedModule{Module: module})
	r.mu.Lock()
	r.lifecycle.activateGeneration(pluginID, lease)
	r.signatures[pluginID] = signature{libraryPath: pluginID + ".so", apiVersion: ABIVersion}
	delete(r.disabled, pluginID)
	r.cache.markDirty()
	r.mu.Unlock()
	return lease
}

func decoderModule(typeID string, extensions []string, newInstance func(string) (Instance, error)) *Module {
	return &Module{
		APIVersion: ABIVersion,
		Capabilities: []CapabilityDescriptor{
			{
				Kind:              CapabilityDecoder,
				TypeID:            typeID,
				DecoderExtensions: extensions,
				NewInstance:       newInstance,
			},
		},
	}
}

type noopInstance struct{}

func (noopInstance) ApplyConfigUpdateJSON(string) (InstanceUpdateResult, error) {
	return InstanceUpdateResult{Outcome: UpdateApplied}, nil
}
func (noopInstance) Close() error { return nil }

func TestRegistryCapabilityLookupAfterInstall(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil)
	installTestLease(r, "flac-plugin", decoderModule("flac", []string{"flac"}, func(string) (Instance, error) {
		return noopInstance{}, nil
	}))

	desc, ok := r.Capability("flac-plugin", CapabilityDecoder, "flac")
	require.True(t, ok)
	assert.Equal(t, "flac", desc.TypeID)

	_, ok = r.Capability("flac-plugin", CapabilityDecoder, "wav")
	assert.False(t, ok)
}

func TestRegistryDecoderCandidatesIncludeWildcards(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil)
	installTestLease(r, "flac-plugin", decoderModule("flac", []string{"flac"}, nil))
	installTestLease(r, "catchall-plugin", decoderModule("catchall", []string{"*"}, nil))

	candidates := r.DecoderCandidates("FLAC")
	assert.Equal(t, []string{"flac-plugin", "catchall-plugin"}, candidates)

	candidates = r.DecoderCandidates("mp3")
	assert.Equal(t, []string{"catchall-plugin"}, candidates)
}

func TestRegistryDisableHidesCapabilitiesAndRetires(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil)
	installTestLease(r, "gain-plugin", decoderModule("gain", []string{"*"}, nil))

	r.Disable("gain-plugin", "manual")

	_, ok := r.ActiveLease("gain-plugin")
	assert.False(t, ok)
	_, ok = r.Capability("gain-plugin", CapabilityDecoder, "gain")
	assert.False(t, ok)
}

func TestRegistryGCReleasesDrainedGenerations(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil)
	first := installTestLease(r, "p1", &Module{})

	released := false
	first.loaded.Module.Shutdown = func() { released = true }

	second := newModuleLease("p1", `{}`, &LoadedModule{Module: &Module{}})
	r.mu.Lock()
	r.lifecycle.activateGeneration("p1", second)
	r.mu.Unlock()

	unloaded := r.GC()
	assert.Equal(t, 1, unloaded)
	assert.True(t, released)
}

func TestRegistryReconcileRetiresDroppedPlugins(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil)
	installTestLease(r, "stays", &Module{})
	installTestLease(r, "goes", &Module{})

	report := r.Reconcile(nil)
	assert.Contains(t, report.Retired, "goes")
	assert.Contains(t, report.Retired, "stays")
}

func TestRegistryNewCapabilityInstanceTracksLiveInstances(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil)
	lease := installTestLease(r, "p1", decoderModule("wav", []string{"wav"}, func(string) (Instance, error) {
		return noopInstance{}, nil
	}))

	instance, release, err := r.NewCapabilityInstance("p1", CapabilityDecoder, "wav", "{}")
	require.NoError(t, err)
	require.NotNil(t, instance)
	assert.Equal(t, int64(1), lease.Generation().LiveInstances())

	release()
	assert.Equal(t, int64(0), lease.Generation().LiveInstances())
}

func TestRegistryNewCapabilityInstanceUnknownPlugin(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil)
	_, _, err := r.NewCapabilityInstance("missing", CapabilityDecoder, "wav", "{}")
	assert.Error(t, err)
}
