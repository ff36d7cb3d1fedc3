package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerationGuardCanUnloadNow(t *testing.T) {
	t.Parallel()
	g := newActiveGenerationGuard()
	assert.True(t, g.CanUnloadNow())

	g.incInstance()
	assert.False(t, g.CanUnloadNow())
	g.decInstance()
	assert.True(t, g.CanUnloadNow())

	call := g.EnterCall()
	assert.False(t, g.CanUnloadNow())
	call.Exit()
	assert.True(t, g.CanUnloadNow())
}

func TestGenerationGuardDecrementNeverGoesNegative(t *testing.T) {
	t.Parallel()
	g := newActiveGenerationGuard()
	g.decInstance()
	g.decInflightCall()
	assert.Equal(t, int64(0), g.LiveInstances())
	assert.Equal(t, int64(0), g.InflightCalls())
}

func newTestLease(t *testing.T) *ModuleLease {
	t.Helper()
	return newModuleLease("test-plugin", `{"id":"test-plugin"}`, &LoadedModule{
		Module: &Module{},
	})
}

func TestPluginSlotLifecycleActivateRetiresPrevious(t *testing.T) {
	t.Parallel()
	store := newLifecycleStore()

	first := newTestLease(t)
	store.activateGeneration("p1", first)
	assert.Same(t, first, store.activeGeneration("p1"))

	second := newTestLease(t)
	store.activateGeneration("p1", second)
	assert.Same(t, second, store.activeGeneration("p1"))
	assert.Equal(t, GenerationDraining, first.generation.State())
}

func TestCollectReadyForUnloadOnlyReturnsDrainable(t *testing.T) {
	t.Parallel()
	store := newLifecycleStore()

	first := newTestLease(t)
	store.activateGeneration("p1", first)
	second := newTestLease(t)
	store.activateGeneration("p1", second)

	first.generation.incInstance()
	ready := store.collectReadyForUnload("p1")
	assert.Empty(t, ready)

	first.generation.decInstance()
	ready = store.collectReadyForUnload("p1")
	if assert.Len(t, ready, 1) {
		assert.Same(t, first, ready[0])
		assert.Equal(t, GenerationUnloaded, first.generation.State())
	}
}
