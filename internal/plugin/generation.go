package plugin

import (
	"sync"
	"sync/atomic"
)

// GenerationState is a plugin generation's lifecycle stage (spec §4.9).
type GenerationState int32

const (
	GenerationActive GenerationState = iota + 1
	GenerationDraining
	GenerationUnloaded
)

// GenerationGuard tracks in-flight calls and live instances for one plugin
// generation (one loaded module version), translated directly from
// stellatune-plugins/src/runtime/lifecycle.rs's GenerationGuard. A
// generation is collectible once can_unload_now reports true.
type GenerationGuard struct {
	state         atomic.Int32
	liveInstances atomic.Int64
	inflightCalls atomic.Int64
}

// newActiveGenerationGuard constructs a guard in the Active state.
func newActiveGenerationGuard() *GenerationGuard {
	g := &GenerationGuard{}
	g.state.Store(int32(GenerationActive))
	return g
}

func (g *GenerationGuard) State() GenerationState {
	return GenerationState(g.state.Load())
}

func (g *GenerationGuard) markDraining() { g.state.Store(int32(GenerationDraining)) }
func (g *GenerationGuard) markUnloaded() { g.state.Store(int32(GenerationUnloaded)) }

func (g *GenerationGuard) incInstance() { g.liveInstances.Add(1) }

func (g *GenerationGuard) decInstance() {
	for {
		cur := g.liveInstances.Load()
		next := cur - 1
		if next < 0 {
			next = 0
		}
		if g.liveInstances.CompareAndSwap(cur, next) {
			return
		}
	}
}

func (g *GenerationGuard) incInflightCall() { g.inflightCalls.Add(1) }

func (g *GenerationGuard) decInflightCall() {
	for {
		cur := g.inflightCalls.Load()
		next := cur - 1
		if next < 0 {
			next = 0
		}
		if g.inflightCalls.CompareAndSwap(cur, next) {
			return
		}
	}
}

func (g *GenerationGuard) LiveInstances() int64 { return g.liveInstances.Load() }
func (g *GenerationGuard) InflightCalls() int64 { return g.inflightCalls.Load() }

// CanUnloadNow reports whether this generation has no live instances and no
// in-flight calls, and is therefore safe to garbage-collect.
func (g *GenerationGuard) CanUnloadNow() bool {
	return g.LiveInstances() == 0 && g.InflightCalls() == 0
}

// CallGuard is returned by EnterCall; its Exit decrements the inflight-call
// counter. Every exported plugin call wraps its body in one
// (spec §4.9: "GenerationCallGuard").
type CallGuard struct {
	guard *GenerationGuard
}

// EnterCall increments inflight_calls and returns a guard whose Exit must be
// deferred by the caller.
func (g *GenerationGuard) EnterCall() *CallGuard {
	g.incInflightCall()
	return &CallGuard{guard: g}
}

func (c *CallGuard) Exit() {
	if c == nil || c.guard == nil {
		return
	}
	c.guard.decInflightCall()
}

// pluginSlotLifecycle holds one plugin id's current and retired leases.
type pluginSlotLifecycle struct {
	active   *ModuleLease
	draining []*ModuleLease
}

func (s *pluginSlotLifecycle) activateNewGeneration(next *ModuleLease) {
	if s.active != nil {
		s.active.generation.markDraining()
		s.draining = append(s.draining, s.active)
	}
	s.active = next
}

func (s *pluginSlotLifecycle) deactivateActive() *ModuleLease {
	if s.active == nil {
		return nil
	}
	cur := s.active
	s.active = nil
	cur.generation.markDraining()
	s.draining = append(s.draining, cur)
	return cur
}

// collectReadyForUnload removes and returns draining leases whose generation
// reports CanUnloadNow, marking them Unloaded.
func (s *pluginSlotLifecycle) collectReadyForUnload() []*ModuleLease {
	var ready []*ModuleLease
	remaining := s.draining[:0]
	for _, lease := range s.draining {
		if lease.generation.CanUnloadNow() {
			lease.generation.markUnloaded()
			ready = append(ready, lease)
		} else {
			remaining = append(remaining, lease)
		}
	}
	s.draining = remaining
	return ready
}

// lifecycleStore is a plugin-id-keyed map of pluginSlotLifecycle, guarded by
// a mutex the way stellatune's LifecycleStore guards its HashMap. The
// plugin-runtime actor is the sole caller, so the mutex is never contended
// in practice, but the field is kept explicit for safety under direct unit
// tests that bypass the actor.
type lifecycleStore struct {
	mu   sync.Mutex
	byID map[string]*pluginSlotLifecycle
}

func newLifecycleStore() *lifecycleStore {
	return &lifecycleStore{byID: make(map[string]*pluginSlotLifecycle)}
}

func (s *lifecycleStore) activateGeneration(pluginID string, lease *ModuleLease) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.byID[pluginID]
	if !ok {
		slot = &pluginSlotLifecycle{}
		s.byID[pluginID] = slot
	}
	slot.activateNewGeneration(lease)
}

func (s *lifecycleStore) activeGeneration(pluginID string) *ModuleLease {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.byID[pluginID]
	if !ok {
		return nil
	}
	return slot.active
}

func (s *lifecycleStore) deactivatePlugin(pluginID string) *ModuleLease {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.byID[pluginID]
	if !ok {
		return nil
	}
	return slot.deactivateActive()
}

func (s *lifecycleStore) collectReadyForUnload(pluginID string) []*ModuleLease {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.byID[pluginID]
	if !ok {
		return nil
	}
	return slot.collectReadyForUnload()
}

// allPluginIDs returns every plugin id with lifecycle state, for GC sweeps.
func (s *lifecycleStore) allPluginIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	return ids
}

// snapshotSlots returns a shallow copy of the id->slot map for the
// introspection cache's rebuild pass. The slots themselves are not copied;
// concurrent mutation is excluded by the registry owning both the rebuild
// call and all lifecycleStore mutations from the same actor-owned path.
func (s *lifecycleStore) snapshotSlots() map[string]*pluginSlotLifecycle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*pluginSlotLifecycle, len(s.byID))
	for id, slot := range s.byID {
		out[id] = slot
	}
	return out
}
