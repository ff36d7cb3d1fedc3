package plugin

import "sync"

// WorkerConfigurableInstance is any capability instance that accepts
// incremental config updates (spec §4.9: "the plugin's
// plan_config_update_json(new_config_json)"). Instance already satisfies
// this plus Close, so every real capability instance qualifies.
type WorkerConfigurableInstance = Instance

// WorkerInstanceFactory builds a fresh instance from a config blob, used by
// the controller's apply_pending recreate path.
type WorkerInstanceFactory interface {
	CreateInstance(configJSON string) (WorkerConfigurableInstance, error)
}

// WorkerApplyPendingOutcome is the result of ApplyPending.
type WorkerApplyPendingOutcome int

const (
	ApplyPendingIdle WorkerApplyPendingOutcome = iota
	ApplyPendingCreated
	ApplyPendingRecreated
	ApplyPendingDestroyed
)

// WorkerConfigUpdateOutcomeKind is the result of ApplyConfigUpdate.
type WorkerConfigUpdateOutcomeKind int

const (
	ConfigDeferredNoInstance WorkerConfigUpdateOutcomeKind = iota
	ConfigApplied
	ConfigRequiresRecreate
	ConfigRejected
	ConfigFailed
)

// WorkerConfigUpdateOutcome reports what ApplyConfigUpdate decided.
type WorkerConfigUpdateOutcome struct {
	Kind     WorkerConfigUpdateOutcomeKind
	Revision uint64
	Reason   string
	Err      error
}

// WorkerInstanceController reconciles desired vs. current plugin-instance
// configuration for one worker-owned slot (spec §4.9's Worker Endpoint
// Controller), translated directly from
// stellatune-plugins/src/runtime/worker_controller.rs's
// WorkerInstanceController<F>.
type WorkerInstanceController struct {
	mu sync.Mutex

	factory WorkerInstanceFactory

	instance          WorkerConfigurableInstance
	currentConfigJSON *string
	desiredConfigJSON string

	pendingRecreate bool
	pendingDestroy  bool

	lastControlSeq uint64
}

// NewWorkerInstanceController starts with pendingRecreate=true so the first
// ApplyPending call creates the initial instance, exactly mirroring the
// Rust constructor.
func NewWorkerInstanceController(factory WorkerInstanceFactory, initialConfigJSON string) *WorkerInstanceController {
	return &WorkerInstanceController{
		factory:           factory,
		desiredConfigJSON: initialConfigJSON,
		pendingRecreate:   true,
	}
}

func (c *WorkerInstanceController) Instance() WorkerConfigurableInstance {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instance
}

func (c *WorkerInstanceController) DesiredConfigJSON() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.desiredConfigJSON
}

func (c *WorkerInstanceController) CurrentConfigJSON() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.currentConfigJSON == nil {
		return "", false
	}
	return *c.currentConfigJSON, true
}

func (c *WorkerInstanceController) HasPendingRecreate() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingRecreate
}

func (c *WorkerInstanceController) HasPendingDestroy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingDestroy
}

func (c *WorkerInstanceController) RequestRecreate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingRecreate = true
}

func (c *WorkerInstanceController) RequestDestroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingDestroy = true
	c.pendingRecreate = false
}

// OnControlMessage applies a Recreate/Destroy message, dropping it if its
// seq is not strictly greater than the last one seen.
func (c *WorkerInstanceController) OnControlMessage(msg WorkerControlMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if msg.Seq <= c.lastControlSeq {
		return
	}
	c.lastControlSeq = msg.Seq
	if msg.Kind == ControlDestroy {
		c.pendingDestroy = true
		c.pendingRecreate = false
	} else {
		c.pendingRecreate = true
	}
}

// ApplyConfigUpdate consults the live instance's own plan (via
// ApplyConfigUpdateJSON) and updates controller state accordingly.
func (c *WorkerInstanceController) ApplyConfigUpdate(newConfigJSON string) (WorkerConfigUpdateOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.desiredConfigJSON = newConfigJSON

	if c.instance == nil {
		c.pendingRecreate = true
		return WorkerConfigUpdateOutcome{Kind: ConfigDeferredNoInstance}, nil
	}

	result, err := c.instance.ApplyConfigUpdateJSON(newConfigJSON)
	if err != nil {
		return WorkerConfigUpdateOutcome{}, err
	}
	switch result.Outcome {
	case UpdateApplied:
		cfg := newConfigJSON
		c.currentConfigJSON = &cfg
		c.pendingRecreate = false
		return WorkerConfigUpdateOutcome{Kind: ConfigApplied, Revision: result.Revision}, nil
	case UpdateRequiresRecreate:
		c.pendingRecreate = true
		return WorkerConfigUpdateOutcome{Kind: ConfigRequiresRecreate, Revision: result.Revision, Reason: result.Reason}, nil
	case UpdateRejected:
		return WorkerConfigUpdateOutcome{Kind: ConfigRejected, Revision: result.Revision, Reason: result.Reason}, nil
	case UpdateFailed:
		c.pendingRecreate = true
		return WorkerConfigUpdateOutcome{Kind: ConfigFailed, Revision: result.Revision, Reason: result.Reason, Err: result.Err}, nil
	default:
		return WorkerConfigUpdateOutcome{}, nil
	}
}

// ApplyPending acts on any deferred destroy/recreate, in that priority
// order (destroy wins over a pending recreate, matching the Rust impl).
func (c *WorkerInstanceController) ApplyPending() (WorkerApplyPendingOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pendingDestroy {
		hadInstance := c.instance != nil
		if hadInstance {
			_ = c.instance.Close()
		}
		c.instance = nil
		c.pendingDestroy = false
		c.pendingRecreate = false
		c.currentConfigJSON = nil
		if hadInstance {
			return ApplyPendingDestroyed, nil
		}
		return ApplyPendingIdle, nil
	}

	if c.pendingRecreate {
		hadInstance := c.instance != nil
		if hadInstance {
			_ = c.instance.Close()
		}
		instance, err := c.factory.CreateInstance(c.desiredConfigJSON)
		if err != nil {
			return ApplyPendingIdle, err
		}
		c.instance = instance
		cfg := c.desiredConfigJSON
		c.currentConfigJSON = &cfg
		c.pendingRecreate = false
		if hadInstance {
			return ApplyPendingRecreated, nil
		}
		return ApplyPendingCreated, nil
	}

	return ApplyPendingIdle, nil
}
