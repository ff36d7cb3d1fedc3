package engine

import "time"

// Ring and queue sizing constants (spec §3, §4.2, §9).
const (
	// MinRingCapacitySamples is the floor applied to the ring capacity
	// formula regardless of sample_rate/channels.
	MinRingCapacitySamples = 1024

	// RingMs is the target ring duration in milliseconds used by
	// capacity = max(MinRingCapacitySamples, sample_rate*channels*RingMs/1000).
	RingMs = 200

	// GatedConsumerChunkSamples is the scratch refill chunk size used by the
	// gated output consumer (spec §4.2).
	GatedConsumerChunkSamples = 1024
)

// Sink session / drain bounds (spec §4.5).
const (
	MaxPendingSinkFlushAttempts = 64
	MaxDrainTailIterations      = 64
)

// Default EngineConfig values (spec §9).
const (
	DefaultCommandTimeout                  = 12 * time.Second
	DefaultDecodeCommandTimeout             = 5 * time.Second
	DefaultDecodePlayingPendingBlockSleep   = 2 * time.Millisecond
	DefaultDecodePlayingIdleSleep           = 5 * time.Millisecond
	DefaultDecodeIdleSleep                  = 20 * time.Millisecond
	DefaultSinkControlTimeout               = 500 * time.Millisecond
	DefaultDecodeCommandCapacity            = 128
	DefaultEventCapacity                    = 256
	DefaultPositionEventInterval            = 200 * time.Millisecond
)

// Default SinkLatencyConfig values (spec §9).
const (
	DefaultTargetLatencyMs = 80
	DefaultBlockFrames     = 1024
	DefaultMinQueueBlocks  = 2
	DefaultMaxQueueBlocks  = 64
)

// Default SinkRecoveryConfig values (spec §9).
const (
	DefaultMaxRecoveryAttempts  = 6
	DefaultInitialBackoff       = 100 * time.Millisecond
	DefaultMaxBackoff           = 2 * time.Second
	// MaxBackoffShiftExponent bounds the exponential backoff shift to avoid
	// overflowing the backoff duration (P8: backoff(n) = initial << min(n-1,16)).
	MaxBackoffShiftExponent = 16
)

// Default GainTransitionConfig values (spec §9).
const (
	DefaultOpenFadeInMs          = 24
	DefaultPlayFadeInMs          = 24
	DefaultSeekFadeOutMs         = 24
	DefaultSeekFadeInMs          = 24
	DefaultPauseFadeOutMs        = 36
	DefaultStopFadeOutMs         = 48
	DefaultSwitchFadeOutMs       = 36
	DefaultInterruptMaxExtraWaitMs = 80
)
