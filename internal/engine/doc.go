// Package engine implements the real-time audio pipeline: a decode worker
// drives source -> decoder -> transform chain -> sink session, bridging into
// a lock-free ring consumed by the device callback thread.
//
// Concurrency guarantees:
//   - PipelineContext, runner state, and recovery state are mutated only on
//     the decode worker goroutine.
//   - The ring buffer is strict SPSC: the decode worker is the sole
//     producer, the device callback the sole consumer.
//   - Hot-control cells (master gain, gate enable) are atomics; any
//     goroutine may write, the device callback only ever reads.
//
// Stages (SourceStage/DecoderStage/TransformStage/SinkStage) share the
// prepare/process/flush/stop shape described in interfaces.go. Fatal status
// from a decoder or transform terminates the track; Fatal from a sink write
// triggers decode-worker recovery instead of terminating it.
package engine
