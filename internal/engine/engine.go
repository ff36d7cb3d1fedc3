package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sonora-audio/sonora/internal/logging"
	"github.com/sonora-audio/sonora/internal/plugin"
)

// EngineConfig bundles the per-subsystem defaults a caller can override when
// constructing an Engine (spec §9).
type EngineConfig struct {
	CommandTimeout time.Duration
	Recovery       RecoveryConfig
	Latency        SinkLatencyConfig
	EventCapacity  int

	// ShutdownTimeout bounds each step of the cooperative shutdown sequence
	// (control actor -> decode worker and sink worker join -> plugin
	// runtime), spec §5.
	ShutdownTimeout time.Duration
}

// DefaultEngineConfig mirrors the spec §9 defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		CommandTimeout: DefaultCommandTimeout,
		Recovery: RecoveryConfig{
			MaxAttempts:    DefaultMaxRecoveryAttempts,
			InitialBackoff: DefaultInitialBackoff,
			MaxBackoff:     DefaultMaxBackoff,
		},
		Latency: SinkLatencyConfig{
			TargetLatencyMs: DefaultTargetLatencyMs,
			BlockFrames:     DefaultBlockFrames,
			MinQueueBlocks:  DefaultMinQueueBlocks,
			MaxQueueBlocks:  DefaultMaxQueueBlocks,
		},
		EventCapacity:   DefaultEventCapacity,
		ShutdownTimeout: 3 * time.Second,
	}
}

// Engine is the top-level facade wiring the control actor, decode worker,
// event hub, and metrics registry together, the way the teacher's manager
// wired capture/analysis/output into one process-lifetime object. Callers
// obtain one Engine per playback session and drive it entirely through the
// ControlActor returned by Control().
type Engine struct {
	logger *slog.Logger
	config EngineConfig

	worker  *DecodeWorker
	control *ControlActor
	hub     *EventHub
	metrics *Metrics
	gain    *MasterGainProcessor
	plugins *plugin.Registry

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs an Engine. makeRunner is supplied by the caller (it knows
// how to build a source/decoder/transform chain and sink plan for a given
// input reference); reg may be nil to skip Prometheus registration.
func New(config EngineConfig, makeRunner RunnerFactory, reg prometheus.Registerer) *Engine {
	logger := logging.ForService("engine")
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "engine")

	hub := NewEventHub(config.EventCapacity)
	metrics := NewMetrics(reg)
	gain := &MasterGainProcessor{}
	gain.SetTarget(1.0, 0)

	worker := NewDecodeWorker(makeRunner, config.Recovery, gain, func(e Event) {
		if e.Kind == EventRecovering {
			metrics.RecoveryAttempts.Inc()
		}
		hub.Publish(e)
	})
	worker.commandTimeout = config.CommandTimeout

	control := NewControlActor(worker, gain, hub)
	control.commandTimeout = config.CommandTimeout

	return &Engine{
		logger:  logger,
		config:  config,
		worker:  worker,
		control: control,
		hub:     hub,
		metrics: metrics,
		gain:    gain,
	}
}

// Start launches the decode worker and control actor goroutines.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.worker.Run(ctx)
	}()
	go func() {
		defer e.wg.Done()
		e.control.Run(ctx)
	}()
	e.logger.Info("engine started")
}

// Control returns the actor through which all playback commands flow.
func (e *Engine) Control() *ControlActor { return e.control }

// Events returns the shared event hub for subscribers (UI, CLI, plugins).
func (e *Engine) Events() *EventHub { return e.hub }

// Metrics returns the engine's Prometheus collectors.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// AttachPluginRegistry gives the Engine a plugin runtime to retire during
// Shutdown. Optional: an Engine built without one simply skips that step.
func (e *Engine) AttachPluginRegistry(reg *plugin.Registry) { e.plugins = reg }

// Shutdown cooperatively tears the engine down: control actor first (so no
// new commands are accepted), then the decode worker (so any in-flight
// track is stopped and its sink drained), then the plugin runtime if one is
// attached, each bounded by ShutdownTimeout, matching spec §5's "control
// actor -> decode worker -> sink worker -> plugin runtime, each step has a
// bounded join" sequence.
func (e *Engine) Shutdown(ctx context.Context) error {
	actorCtx, cancelActor := context.WithTimeout(ctx, e.config.ShutdownTimeout)
	defer cancelActor()

	if err := e.control.Shutdown(actorCtx); err != nil {
		e.logger.Warn("control actor shutdown reported an error", "error", err)
	}

	if e.cancel != nil {
		e.cancel()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	joinCtx, cancelJoin := context.WithTimeout(ctx, e.config.ShutdownTimeout)
	defer cancelJoin()
	select {
	case <-done:
	case <-joinCtx.Done():
		e.logger.Warn("engine shutdown timed out waiting for worker goroutines")
	}

	if e.plugins != nil {
		pluginDone := make(chan struct{})
		go func() {
			defer close(pluginDone)
			report := e.plugins.ShutdownAll()
			for _, pluginErr := range report.Errors {
				e.logger.Warn("plugin runtime shutdown reported an error", "error", pluginErr)
			}
		}()
		pluginCtx, cancelPlugin := context.WithTimeout(ctx, e.config.ShutdownTimeout)
		defer cancelPlugin()
		select {
		case <-pluginDone:
		case <-pluginCtx.Done():
			e.logger.Warn("engine shutdown timed out waiting for the plugin runtime")
		}
	}

	e.hub.Close()
	return nil
}
