package plugin

import (
	"fmt"
	"sync/atomic"
)

// LoadedModule is the set of resources a successful load acquired: the
// resolved paths, the shadow copy actually dlopen'd, and the module the
// entry function returned (spec §4.9 LoadedPluginModule).
type LoadedModule struct {
	RootDir           string
	LibraryPath       string
	ShadowLibraryPath string
	Module            *Module
	HostVTable        *HostVTable
}

// ModuleLease is a reference-counted handle to a loaded plugin module,
// standing in for the original `Arc<ModuleLease>`: Go has no built-in Arc,
// so strong-count bookkeeping is a plain atomic counter, released via
// Release() instead of a Drop impl. Identity is the lease's own pointer
// address, used as lease_id (spec §4.2: "Referenced by Arc; identity is
// pointer address, used as lease_id").
type ModuleLease struct {
	refCount atomic.Int64

	pluginName   string
	metadataJSON string
	loaded       *LoadedModule
	generation   *GenerationGuard
}

// newModuleLease wraps a load result in a lease with one owning reference
// (the caller, typically the registry) and an Active generation guard.
func newModuleLease(pluginName, metadataJSON string, loaded *LoadedModule) *ModuleLease {
	l := &ModuleLease{
		pluginName:   pluginName,
		metadataJSON: metadataJSON,
		loaded:       loaded,
		generation:   newActiveGenerationGuard(),
	}
	l.refCount.Store(1)
	return l
}

// ID returns this lease's pointer-identity id (spec §4.2's lease_id).
func (l *ModuleLease) ID() string { return fmt.Sprintf("%p", l) }

func (l *ModuleLease) PluginName() string    { return l.pluginName }
func (l *ModuleLease) MetadataJSON() string  { return l.metadataJSON }
func (l *ModuleLease) Module() *Module       { return l.loaded.Module }
func (l *ModuleLease) RootDir() string       { return l.loaded.RootDir }
func (l *ModuleLease) LibraryPath() string   { return l.loaded.LibraryPath }
func (l *ModuleLease) Generation() *GenerationGuard { return l.generation }

// Retain adds an owning reference and returns the lease, the Go analogue of
// Arc::clone.
func (l *ModuleLease) Retain() *ModuleLease {
	l.refCount.Add(1)
	return l
}

// Release drops an owning reference; when the strong count reaches zero the
// lease runs the module's shutdown hook and best-effort deletes its shadow
// library file (spec §4.9).
func (l *ModuleLease) Release() {
	if l.refCount.Add(-1) == 0 {
		l.destroy()
	}
}

// StrongCount is the current reference count. GC does not consult it: it
// releases the registry's reference to any draining lease whose generation
// reports CanUnloadNow.
func (l *ModuleLease) StrongCount() int64 { return l.refCount.Load() }

func (l *ModuleLease) destroy() {
	if l.loaded.Module != nil && l.loaded.Module.Shutdown != nil {
		l.loaded.Module.Shutdown()
	}
	removeShadowCopyBestEffort(l.loaded.ShadowLibraryPath)
}
