// Package malgo provides a malgo-based SinkStage implementation: a
// cross-platform playback device driven by a lock-free callback, the
// teacher's capture-oriented MalgoSource inverted to drive output instead of
// input per this engine's SinkStage contract (device lifecycle, backend
// selection, and device enumeration are kept from the teacher's pattern;
// capture/convert-to-S16 logic is replaced with a float32 playback queue).
package malgo

import (
	"context"
	"math"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/sonora-audio/sonora/internal/engine"
	"github.com/sonora-audio/sonora/internal/errors"
)

const componentSink = "malgo_sink"

// SinkConfig selects the playback device and its buffering.
type SinkConfig struct {
	DeviceID     string
	BufferFrames uint32
}

// PlaybackSink is an engine.SinkStage writing interleaved float32 blocks to
// a malgo playback device. Write enqueues a block; the malgo data callback
// (invoked on malgo's own audio thread) drains the queue directly into the
// device buffer, copying zeros once the queue runs dry rather than
// blocking, since a playback callback must never stall.
type PlaybackSink struct {
	config SinkConfig

	mu       sync.Mutex
	queue    [][]float32
	queuePos int

	ctx    *malgo.AllocatedContext
	device *malgo.Device

	spec      engine.StreamSpec
	running   atomic.Bool
	underruns atomic.Uint64

	disconnected   chan struct{}
	disconnectOnce sync.Once
}

// NewPlaybackSink constructs an unprepared sink; call Prepare to open the
// device for spec.
func NewPlaybackSink(config SinkConfig) *PlaybackSink {
	if config.BufferFrames == 0 {
		config.BufferFrames = 1024
	}
	return &PlaybackSink{
		config:       config,
		disconnected: make(chan struct{}),
	}
}

// Disconnected closes when the device callback observes the device stop
// (unplugged output, backend failure). The sink session does not watch this
// channel: after a stop, Write returns StatusFatal, which is how the session
// and the decode worker's recovery loop learn of the disconnect.
func (s *PlaybackSink) Disconnected() <-chan struct{} { return s.disconnected }

func (s *PlaybackSink) Prepare(ctx context.Context, spec engine.StreamSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	backend, err := getBackendForPlatform()
	if err != nil {
		return err
	}

	malgoCtx, err := malgo.InitContext([]malgo.Backend{backend}, malgo.ContextConfig{}, nil)
	if err != nil {
		return errors.New(err).
			Component(componentSink).
			Category(errors.CategoryAudio).
			Context("operation", "init_context").
			Build()
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatF32
	deviceConfig.Playback.Channels = uint32(spec.Channels)
	deviceConfig.SampleRate = spec.SampleRate
	deviceConfig.PeriodSizeInFrames = s.config.BufferFrames
	deviceConfig.Alsa.NoMMap = 1
	if s.config.DeviceID != "" {
		if info, selErr := s.findPlaybackDevice(malgoCtx); selErr == nil {
			deviceConfig.Playback.DeviceID = info.ID.Pointer()
		}
	}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: s.onData,
		Stop: s.onStop,
	})
	if err != nil {
		_ = malgoCtx.Uninit()
		return errors.New(err).
			Component(componentSink).
			Category(errors.CategoryAudio).
			Context("operation", "init_device").
			Build()
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = malgoCtx.Uninit()
		return errors.New(err).
			Component(componentSink).
			Category(errors.CategoryAudio).
			Context("operation", "start_device").
			Build()
	}

	s.ctx = malgoCtx
	s.device = device
	s.spec = spec
	s.running.Store(true)
	return nil
}

func (s *PlaybackSink) findPlaybackDevice(ctx *malgo.AllocatedContext) (*malgo.DeviceInfo, error) {
	infos, err := ctx.Devices(malgo.Playback)
	if err != nil {
		return nil, err
	}
	return SelectDevice(infos, s.config.DeviceID)
}

// Write enqueues block for the device callback to drain. The copy is
// necessary because ownership of block.Samples reverts to the runner's pool
// once Write returns.
func (s *PlaybackSink) Write(ctx context.Context, block *engine.AudioBlock) (engine.StageStatus, error) {
	if !s.running.Load() {
		return engine.StatusFatal, &engine.StageError{Detail: "sink not prepared"}
	}
	cp := make([]float32, len(block.Samples))
	copy(cp, block.Samples)

	s.mu.Lock()
	s.queue = append(s.queue, cp)
	s.mu.Unlock()
	return engine.StatusOk, nil
}

// onData is malgo's playback callback: drain queued blocks directly into
// the device's output byte buffer, zero-filling (and counting an underrun)
// once the queue runs dry.
func (s *PlaybackSink) onData(output, _ []byte, frameCount uint32) {
	needed := int(frameCount) * int(s.spec.Channels)
	filled := 0

	s.mu.Lock()
	for filled < needed && len(s.queue) > 0 {
		cur := s.queue[0][s.queuePos:]
		n := len(cur)
		if remaining := needed - filled; n > remaining {
			n = remaining
		}
		putFloat32Samples(output[filled*4:], cur[:n])
		filled += n
		s.queuePos += n
		if s.queuePos >= len(s.queue[0]) {
			s.queue = s.queue[1:]
			s.queuePos = 0
		}
	}
	s.mu.Unlock()

	if filled < needed {
		s.underruns.Add(1)
		for i := filled * 4; i < needed*4; i++ {
			output[i] = 0
		}
	}
}

func (s *PlaybackSink) onStop() {
	s.running.Store(false)
	s.disconnectOnce.Do(func() { close(s.disconnected) })
}

// Underruns is the count of onData calls that ran out of queued samples.
func (s *PlaybackSink) Underruns() uint64 { return s.underruns.Load() }

func (s *PlaybackSink) Flush(ctx context.Context) error { return nil }

func (s *PlaybackSink) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if s.device != nil {
		_ = s.device.Stop()
		s.device.Uninit()
	}
	if s.ctx != nil {
		_ = s.ctx.Uninit()
	}
	return nil
}

// putFloat32Samples encodes samples as little-endian F32 into dst.
func putFloat32Samples(dst []byte, samples []float32) {
	for i, v := range samples {
		bits := math.Float32bits(v)
		o := i * 4
		dst[o] = byte(bits)
		dst[o+1] = byte(bits >> 8)
		dst[o+2] = byte(bits >> 16)
		dst[o+3] = byte(bits >> 24)
	}
}
