package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/sonora-audio/sonora/internal/errors"
	"github.com/sonora-audio/sonora/internal/logging"
)

// sinkControlKind identifies the control-channel RPCs the sink worker
// serves (spec §4.6).
type sinkControlKind int

const (
	sinkCtrlDropQueued sinkControlKind = iota
	sinkCtrlDrain
	sinkCtrlSyncRuntimeControl
	sinkCtrlShutdown
)

type sinkControlRequest struct {
	kind    sinkControlKind
	payload any
	reply   chan error
}

// SinkSession owns an optional sink worker goroutine and the currently
// active (StreamSpec, routeFingerprint) pair, per spec §4.6.
type SinkSession struct {
	logger *slog.Logger

	spec             StreamSpec
	routeFingerprint uint64
	hasActive        bool

	blockCh   chan *AudioBlock
	controlCh chan sinkControlRequest
	doneCh    chan struct{}

	disconnectedCh chan struct{}

	sink SinkStage

	// blockPool returns a written or discarded block's Samples slice to the
	// runner's pool instead of letting it die with the block; nil disables
	// recycling (tests construct sessions this way).
	blockPool *BlockPool
	// staging bounces queued-block sample data through a byte-oriented ring
	// when draining, coalescing however many blocks were queued into a
	// single sink.Write outside the RT path.
	staging *byteStagingRing

	controlTimeout time.Duration
}

// sinkStagingBytesPerBlock sizes the byte-oriented drain ring generously
// enough to hold queueDepth blocks at the largest channel tier BlockPool
// supports (8 channels, 4 bytes per float32 sample).
const sinkStagingBytesPerBlock = DefaultBlockFrames * 8 * 4

// NewSinkSession wraps sink with a bounded block queue of the given depth.
// pool may be nil, in which case blocks drained or written are not recycled.
func NewSinkSession(sink SinkStage, queueDepth int, pool *BlockPool) *SinkSession {
	logger := logging.ForService("engine")
	if logger == nil {
		logger = slog.Default()
	}
	return &SinkSession{
		logger:         logger.With("component", "sink_session"),
		sink:           sink,
		blockCh:        make(chan *AudioBlock, queueDepth),
		controlCh:      make(chan sinkControlRequest),
		doneCh:         make(chan struct{}),
		disconnectedCh: make(chan struct{}),
		blockPool:      pool,
		staging:        newByteStagingRing(queueDepth * sinkStagingBytesPerBlock),
		controlTimeout: DefaultSinkControlTimeout,
	}
}

// Matches reports whether this session can be reused for spec/fingerprint.
func (s *SinkSession) Matches(spec StreamSpec, fingerprint uint64) bool {
	return s.hasActive && s.spec == spec && s.routeFingerprint == fingerprint
}

// Activate prepares the sink and starts its worker goroutine.
func (s *SinkSession) Activate(ctx context.Context, spec StreamSpec) error {
	if err := s.sink.Prepare(ctx, spec); err != nil {
		return err
	}
	s.spec = spec
	s.hasActive = true
	go s.workerLoop(ctx)
	return nil
}

func (s *SinkSession) workerLoop(ctx context.Context) {
	defer close(s.doneCh)
	for {
		select {
		case block, ok := <-s.blockCh:
			if !ok {
				return
			}
			status, err := s.sink.Write(ctx, block)
			if s.blockPool != nil {
				s.blockPool.Put(block.Samples)
			}
			if status == StatusFatal || err != nil {
				s.logger.Warn("sink write failed", "error", err)
				s.signalDisconnected()
				return
			}
		case req := <-s.controlCh:
			s.handleControl(ctx, req)
			if req.kind == sinkCtrlShutdown {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *SinkSession) signalDisconnected() {
	select {
	case <-s.disconnectedCh:
	default:
		close(s.disconnectedCh)
	}
}

func (s *SinkSession) handleControl(ctx context.Context, req sinkControlRequest) {
	var err error
	switch req.kind {
	case sinkCtrlDropQueued:
		s.discardQueued()
	case sinkCtrlDrain:
		err = s.drainQueuedThroughSink(ctx)
		if err == nil {
			err = s.sink.Flush(ctx)
		}
	case sinkCtrlSyncRuntimeControl:
		// Forward a subset of stage controls; concrete sinks that support
		// runtime reconfiguration type-assert req.payload themselves via
		// their own control surface (none required by the core sinks here).
	case sinkCtrlShutdown:
		drain, _ := req.payload.(bool)
		if drain {
			err = s.drainQueuedThroughSink(ctx)
			if err == nil {
				err = s.sink.Flush(ctx)
			}
		}
		err2 := s.sink.Stop(ctx)
		if err == nil {
			err = err2
		}
	}
	select {
	case req.reply <- err:
	default:
	}
}

// discardQueued drops every block currently sitting in blockCh without
// writing it anywhere, returning each buffer to blockPool since drop_queued
// is intentional data loss rather than a flush.
func (s *SinkSession) discardQueued() {
	for {
		select {
		case block := <-s.blockCh:
			if block != nil && s.blockPool != nil {
				s.blockPool.Put(block.Samples)
			}
		default:
			return
		}
	}
}

// drainQueuedThroughSink empties blockCh by staging every queued block's
// samples into the byte-oriented ring, then replays the coalesced result as
// a single sink.Write, so Drain (unlike DropQueued) never loses audio that
// was already queued ahead of the caller.
func (s *SinkSession) drainQueuedThroughSink(ctx context.Context) error {
	for {
		select {
		case block := <-s.blockCh:
			if block == nil {
				continue
			}
			s.staging.stageSamples(block.Samples)
			if s.blockPool != nil {
				s.blockPool.Put(block.Samples)
			}
		default:
			return s.flushStaged(ctx)
		}
	}
}

func (s *SinkSession) flushStaged(ctx context.Context) error {
	samples := s.staging.drainSamples()
	if len(samples) == 0 {
		return nil
	}
	channels := s.spec.Channels
	if channels == 0 {
		channels = 1
	}
	frames := len(samples) / int(channels)
	block := &AudioBlock{Channels: channels, Samples: samples[:frames*int(channels)]}
	status, err := s.sink.Write(ctx, block)
	if err != nil {
		return err
	}
	if status == StatusFatal {
		s.signalDisconnected()
		return errors.New(ErrSinkDisconnected).Component(ComponentEngine).Category(errors.CategorySink).Build()
	}
	return nil
}

// TrySendBlock offers block to the sink queue without blocking.
func (s *SinkSession) TrySendBlock(ctx context.Context, block *AudioBlock) (sinkPushStatus, error) {
	select {
	case <-s.disconnectedCh:
		return sinkPushDisconnected, nil
	default:
	}
	select {
	case s.blockCh <- block:
		return sinkPushOk, nil
	default:
		return sinkPushFull, nil
	}
}

func (s *SinkSession) callControl(kind sinkControlKind, payload any) error {
	reply := make(chan error, 1)
	select {
	case s.controlCh <- sinkControlRequest{kind: kind, payload: payload, reply: reply}:
	case <-time.After(s.controlTimeout):
		return errors.New(ErrControlTimeout).Component(ComponentEngine).Category(errors.CategorySink).Build()
	}
	select {
	case err := <-reply:
		return err
	case <-time.After(s.controlTimeout):
		return errors.New(ErrControlTimeout).Component(ComponentEngine).Category(errors.CategorySink).Build()
	}
}

// SyncRuntimeControl forwards a subset of stage controls with sinkControlTimeout.
func (s *SinkSession) SyncRuntimeControl(ctx context.Context) error {
	return s.callControl(sinkCtrlSyncRuntimeControl, nil)
}

// DropQueued discards any queued blocks, bounded by sinkControlTimeout.
func (s *SinkSession) DropQueued(ctx context.Context) error {
	return s.callControl(sinkCtrlDropQueued, nil)
}

// Drain flushes queued blocks through the sink, bounded by sinkControlTimeout.
func (s *SinkSession) Drain(ctx context.Context) error {
	return s.callControl(sinkCtrlDrain, nil)
}

// Shutdown stops the worker, optionally draining first.
func (s *SinkSession) Shutdown(ctx context.Context, drain bool) error {
	err := s.callControl(sinkCtrlShutdown, drain)
	<-s.doneCh
	s.hasActive = false
	return err
}
