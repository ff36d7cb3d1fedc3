package engine

import (
	"github.com/sonora-audio/sonora/internal/errors"
)

// ComponentEngine identifies errors raised by the engine package.
const ComponentEngine = "engine"

// Error kinds the core recognizes (spec §7). Each is a sentinel built with
// the shared ErrorBuilder so category/context travel with it; callers wrap
// with additional Context(...) calls as needed via errors.New(sentinel).
var (
	// ErrInvalidSpec: any zero StreamSpec field.
	ErrInvalidSpec = errors.New(nil).
			Component(ComponentEngine).
			Category(errors.CategoryValidation).
			Context("kind", "invalid_spec").
			Build()

	// ErrNotPrepared: operation called without a prior prepare/activate.
	ErrNotPrepared = errors.New(nil).
			Component(ComponentEngine).
			Category(errors.CategoryState).
			Context("kind", "not_prepared").
			Build()

	// ErrStageFailure: a stage returned Fatal or a contract violation.
	ErrStageFailure = errors.New(nil).
			Component(ComponentEngine).
			Category(errors.CategoryStage).
			Context("kind", "stage_failure").
			Build()

	// ErrSinkDisconnected: sink worker exited or device callback failed.
	ErrSinkDisconnected = errors.New(nil).
				Component(ComponentEngine).
				Category(errors.CategorySink).
				Context("kind", "sink_disconnected").
				Build()

	// ErrControlTimeout: actor command did not complete within its timeout.
	ErrControlTimeout = errors.New(nil).
				Component(ComponentEngine).
				Category(errors.CategoryControl).
				Context("kind", "control_timeout").
				Build()

	// ErrControlActorExited: mailbox closed.
	ErrControlActorExited = errors.New(nil).
				Component(ComponentEngine).
				Category(errors.CategoryControl).
				Context("kind", "control_actor_exited").
				Build()

	// ErrSinkFull: non-blocking push into a full sink queue.
	ErrSinkFull = errors.New(nil).
			Component(ComponentEngine).
			Category(errors.CategorySink).
			Context("kind", "sink_full").
			Build()

	// ErrPlanAlreadyConsumed: the one-shot sink plan was already consumed.
	ErrPlanAlreadyConsumed = errors.New(nil).
				Component(ComponentEngine).
				Category(errors.CategoryState).
				Context("kind", "plan_already_consumed").
				Build()

	// ErrUnknownStageKey: a stage-control message addressed an unregistered key.
	ErrUnknownStageKey = errors.New(nil).
				Component(ComponentEngine).
				Category(errors.CategoryStage).
				Context("kind", "unknown_stage_key").
				Build()

	// ErrDuplicateStageKey: transform construction found a duplicate or empty key.
	ErrDuplicateStageKey = errors.New(nil).
				Component(ComponentEngine).
				Category(errors.CategoryStage).
				Context("kind", "duplicate_stage_key").
				Build()
)
