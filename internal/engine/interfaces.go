package engine

import "context"

// StageStatus is the uniform result of a stage step (spec §4.3).
type StageStatus int

const (
	StatusOk StageStatus = iota
	StatusEof
	StatusFatal
)

func (s StageStatus) String() string {
	switch s {
	case StatusOk:
		return "ok"
	case StatusEof:
		return "eof"
	case StatusFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// StageError carries the detail of a Fatal status, retrievable via
// RuntimeErrorDetail without forcing every caller to type-assert an error.
type StageError struct {
	Detail string
	Cause  error
}

func (e *StageError) Error() string {
	if e.Cause != nil {
		return e.Detail + ": " + e.Cause.Error()
	}
	return e.Detail
}

func (e *StageError) Unwrap() error { return e.Cause }

// RuntimeErrorDetail extracts the StageError detail string, if any.
func RuntimeErrorDetail(err error) (string, bool) {
	if se, ok := err.(*StageError); ok {
		return se.Detail, true
	}
	return "", false
}

// SourceHandle is an opaque reference to an opened input, produced by
// SourceStage.Prepare and consumed by DecoderStage.Prepare.
type SourceHandle interface {
	// Ref returns a stable, comparable identity for the opened source.
	Ref() string
}

// SourceStage opens an input reference (a track locator) and keeps it
// reachable across runtime-control syncs (e.g. playlist advance).
type SourceStage interface {
	Prepare(ctx context.Context, inputRef string, pctx *PipelineContext) (SourceHandle, error)
	SyncRuntimeControl(ctx context.Context, pctx *PipelineContext) error
	Stop(ctx context.Context) error
}

// DecoderStage turns a SourceHandle into a validated StreamSpec and then
// produces AudioBlocks on demand.
type DecoderStage interface {
	Prepare(ctx context.Context, handle SourceHandle, pctx *PipelineContext) (StreamSpec, error)
	NextBlock(ctx context.Context, out *AudioBlock) (StageStatus, error)
	CurrentGaplessTrimSpec() GaplessTrimSpec
	EstimatedRemainingFrames() (uint64, bool)
	Flush(ctx context.Context) error
	Stop(ctx context.Context) error
}

// TransformStage processes one AudioBlock at a time in place and optionally
// accepts out-of-band stage-control messages addressed by StageKey.
type TransformStage interface {
	Prepare(ctx context.Context, inSpec StreamSpec) (StreamSpec, error)
	Process(ctx context.Context, block *AudioBlock) (StageStatus, error)
	// ApplyControl returns true iff control was a recognized, consumed type.
	ApplyControl(ctx context.Context, control any) (bool, error)
	Flush(ctx context.Context) error
	Stop(ctx context.Context) error
	// StageKey is the routing key for ApplyControl dispatch; empty means the
	// transform never receives routed stage-control messages.
	StageKey() string
}

// SinkStage writes AudioBlocks to an output device or downstream consumer.
type SinkStage interface {
	Prepare(ctx context.Context, spec StreamSpec) error
	Write(ctx context.Context, block *AudioBlock) (StageStatus, error)
	Flush(ctx context.Context) error
	Stop(ctx context.Context) error
}
