package plugin

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/sonora-audio/sonora/internal/logging"
)

// InstallReport summarizes one Reconcile pass (spec §4.9: "Plugin load
// failures are collected into a report; partial success does not abort
// reconciliation of other plugins").
type InstallReport struct {
	Loaded     []string
	Retired    []string
	Unloaded   int
	Errors     []error
}

// signature identifies a specific plugin build on disk; reconciliation
// reinstalls only when this changes (spec §4.9: "If current signature
// matches, keep").
type signature struct {
	libraryPath string
	apiVersion  uint32
}

// Registry is the plugin-runtime actor's module registry: the slot table,
// disabled set, worker-control fan-out, and introspection cache, all
// guarded by one mutex per spec §5's "every external entry point either
// owns the registry lock briefly or hands work back to this actor."
type Registry struct {
	mu sync.Mutex

	logger *slog.Logger

	lifecycle *lifecycleStore
	signatures map[string]signature
	disabled   map[string]bool
	cache      *introspectionCache

	workerControllers map[string][]*WorkerInstanceController
	lastSeq           map[string]*atomic.Uint64

	hostVTable *HostVTable
}

// NewRegistry constructs an empty registry. hostVTable is the base vtable
// every loaded plugin's scoped vtable wraps.
func NewRegistry(hostVTable *HostVTable) *Registry {
	logger := logging.ForService("engine")
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:            logger.With("component", "plugin_registry"),
		lifecycle:         newLifecycleStore(),
		signatures:        make(map[string]signature),
		disabled:          make(map[string]bool),
		cache:             newIntrospectionCache(),
		workerControllers: make(map[string][]*WorkerInstanceController),
		lastSeq:           make(map[string]*atomic.Uint64),
		hostVTable:        hostVTable,
	}
}

// SubscribeWorker registers controller to receive Recreate/Destroy control
// messages for pluginID's generation swaps.
func (r *Registry) SubscribeWorker(pluginID string, controller *WorkerInstanceController) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workerControllers[pluginID] = append(r.workerControllers[pluginID], controller)
}

func (r *Registry) nextSeq(pluginID string) uint64 {
	counter, ok := r.lastSeq[pluginID]
	if !ok {
		counter = &atomic.Uint64{}
		r.lastSeq[pluginID] = counter
	}
	return counter.Add(1)
}

// broadcastControlLocked sends a control message to every worker subscribed
// to pluginID. Caller must hold r.mu.
func (r *Registry) broadcastControlLocked(pluginID string, kind WorkerControlKind, reason string) {
	seq := r.nextSeq(pluginID)
	msg := WorkerControlMessage{Kind: kind, Reason: reason, Seq: seq}
	for _, controller := range r.workerControllers[pluginID] {
		controller.OnControlMessage(msg)
	}
	if r.hostVTable != nil && r.hostVTable.SendControl != nil {
		r.hostVTable.SendControl(pluginID, msg)
	}
}

// InstallOrKeep loads discovered and, if its signature differs from the
// currently active generation, retires the old one and activates the new
// generation, broadcasting Recreate to subscribed workers. A matching
// signature is a no-op (spec §4.9: reconciliation keep path).
func (r *Registry) InstallOrKeep(discovered DiscoveredPlugin) (*ModuleLease, error) {
	sig := signature{libraryPath: discovered.LibraryPath, apiVersion: discovered.Manifest.APIVersion}

	r.mu.Lock()
	if existing, ok := r.signatures[discovered.Manifest.ID]; ok && existing == sig {
		lease := r.lifecycle.activeGeneration(discovered.Manifest.ID)
		r.mu.Unlock()
		return lease, nil
	}
	r.mu.Unlock()

	candidate, err := loadDiscoveredPlugin(discovered, r.hostVTable)
	if err != nil {
		r.logger.Warn("plugin load failed", "plugin_id", discovered.Manifest.ID, "error", err)
		return nil, err
	}

	lease := newModuleLease(candidate.pluginName, candidate.metadataJSON, candidate.loaded)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.lifecycle.activateGeneration(candidate.pluginID, lease)
	r.signatures[candidate.pluginID] = sig
	delete(r.disabled, candidate.pluginID)
	r.cache.markDirty()
	r.broadcastControlLocked(candidate.pluginID, ControlRecreate, "reload")
	r.logger.Info("plugin installed", "plugin_id", candidate.pluginID, "lease_id", lease.ID(), "install_id", uuid.NewString())
	return lease, nil
}

// Retire moves pluginID's active generation into the draining set and
// broadcasts Destroy to its subscribed workers (spec §4.9).
func (r *Registry) Retire(pluginID, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lifecycle.deactivatePlugin(pluginID)
	delete(r.signatures, pluginID)
	r.cache.markDirty()
	r.broadcastControlLocked(pluginID, ControlDestroy, reason)
	r.logger.Info("plugin retired", "plugin_id", pluginID, "reason", reason)
}

// Disable marks pluginID disabled (excluded from introspection and from
// ActiveLease) and retires its active generation. A later InstallOrKeep of
// the same id, including one made by Reconcile, loads it again and clears
// the disabled mark.
func (r *Registry) Disable(pluginID, reason string) {
	r.mu.Lock()
	r.disabled[pluginID] = true
	r.mu.Unlock()
	r.Retire(pluginID, reason)
}

// Reconcile installs/keeps every discovered plugin in target and retires
// any currently active plugin id absent from it (spec §4.9). Load failures
// are collected, not fatal to the pass.
func (r *Registry) Reconcile(target []DiscoveredPlugin) InstallReport {
	report := InstallReport{}
	targetIDs := make(map[string]bool, len(target))

	for _, discovered := range target {
		targetIDs[discovered.Manifest.ID] = true
		if _, err := r.InstallOrKeep(discovered); err != nil {
			report.Errors = append(report.Errors, err)
			continue
		}
		report.Loaded = append(report.Loaded, discovered.Manifest.ID)
	}

	r.mu.Lock()
	var activeIDs []string
	for _, id := range r.lifecycle.allPluginIDs() {
		if r.lifecycle.activeGeneration(id) != nil {
			activeIDs = append(activeIDs, id)
		}
	}
	r.mu.Unlock()

	for _, id := range activeIDs {
		if targetIDs[id] {
			continue
		}
		r.Retire(id, "not_in_target_set")
		report.Retired = append(report.Retired, id)
	}

	report.Unloaded = r.GC()
	return report
}

// ShutdownAll retires every active plugin and GCs their drained generations,
// for use during process shutdown (spec §5's "plugin runtime" teardown
// step): equivalent to Reconcile against an empty target set.
func (r *Registry) ShutdownAll() InstallReport {
	return r.Reconcile(nil)
}

// GC walks every plugin's draining generations, releasing the registry's
// own reference to any that report CanUnloadNow (spec §4.9: "GC walks
// retired and drops Arcs whose strong count is 1"). A lease is only truly
// destroyed once every other holder (e.g. an in-flight instance) has also
// released its reference.
func (r *Registry) GC() int {
	r.mu.Lock()
	ids := r.lifecycle.allPluginIDs()
	r.mu.Unlock()

	unloaded := 0
	for _, id := range ids {
		r.mu.Lock()
		ready := r.lifecycle.collectReadyForUnload(id)
		r.mu.Unlock()
		for _, lease := range ready {
			lease.Release()
			unloaded++
		}
	}
	if unloaded > 0 {
		r.mu.Lock()
		r.cache.markDirty()
		r.mu.Unlock()
	}
	return unloaded
}

// ActiveLease returns pluginID's current generation, if any and not
// disabled (spec §4.9's introspection-facing accessor).
func (r *Registry) ActiveLease(pluginID string) (*ModuleLease, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disabled[pluginID] {
		return nil, false
	}
	lease := r.lifecycle.activeGeneration(pluginID)
	return lease, lease != nil
}

// Capability looks up an active capability by (plugin_id, kind, type_id),
// rebuilding the introspection cache first if it is dirty.
func (r *Registry) Capability(pluginID string, kind CapabilityKind, typeID string) (CapabilityDescriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.ensureFresh(r.lifecycle.snapshotSlots(), r.disabled)
	return r.cache.Capability(pluginID, kind, typeID)
}

// DecoderCandidates returns plugin ids willing to decode ext, rebuilding the
// introspection cache first if it is dirty.
func (r *Registry) DecoderCandidates(ext string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.ensureFresh(r.lifecycle.snapshotSlots(), r.disabled)
	return r.cache.DecoderCandidates(ext)
}

// NewCapabilityInstance resolves pluginID's active lease and capability,
// enters a GenerationCallGuard for the construction call, increments
// live_instances on success, and returns the instance plus a release func
// the caller must invoke exactly once when the instance is dropped
// (spec §4.9: "Instance creation increments live_instances; instance drop
// decrements").
func (r *Registry) NewCapabilityInstance(pluginID string, kind CapabilityKind, typeID, configJSON string) (Instance, func(), error) {
	r.mu.Lock()
	lease := r.lifecycle.activeGeneration(pluginID)
	if r.disabled[pluginID] || lease == nil {
		r.mu.Unlock()
		return nil, nil, errPluginUnavailable(pluginID)
	}
	r.cache.ensureFresh(r.lifecycle.snapshotSlots(), r.disabled)
	desc, ok := r.cache.Capability(pluginID, kind, typeID)
	r.mu.Unlock()
	if !ok || desc.NewInstance == nil {
		return nil, nil, errNoInstanceFactory(pluginID, typeID)
	}

	guard := lease.Generation().EnterCall()
	defer guard.Exit()

	instance, err := desc.NewInstance(configJSON)
	if err != nil {
		return nil, nil, err
	}
	lease.Generation().incInstance()
	release := func() { lease.Generation().decInstance() }
	return instance, release, nil
}
