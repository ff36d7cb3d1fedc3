// Package testdecoder is a small WAV-backed SourceStage/DecoderStage pair,
// the minimal concrete decode path cmd/play drives before any real-world
// codec is installed as a plugin. Grounded on the teacher's go-audio/wav
// dependency (listed in the teacher's go.mod for its own audio tooling) and
// on engine/interfaces.go's stage contracts.
package testdecoder

import (
	"context"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/sonora-audio/sonora/internal/engine"
	"github.com/sonora-audio/sonora/internal/errors"
)

const componentTestDecoder = "testdecoder"

// fileHandle is the SourceHandle a FileSource.Prepare returns: the opened
// path, kept alive so DecoderStage.Prepare can reopen and decode it.
type fileHandle struct {
	path string
}

func (h *fileHandle) Ref() string { return h.path }

// FileSource is a SourceStage that resolves a local filesystem path. It does
// no I/O beyond checking the file exists; decode ownership belongs entirely
// to WavDecoder.
type FileSource struct{}

func NewFileSource() *FileSource { return &FileSource{} }

func (s *FileSource) Prepare(ctx context.Context, inputRef string, pctx *engine.PipelineContext) (engine.SourceHandle, error) {
	if _, err := os.Stat(inputRef); err != nil {
		return nil, errors.New(nil).
			Component(componentTestDecoder).
			Category(errors.CategoryFileIO).
			Context("path", inputRef).
			Build()
	}
	return &fileHandle{path: inputRef}, nil
}

func (s *FileSource) SyncRuntimeControl(ctx context.Context, pctx *engine.PipelineContext) error {
	return nil
}

func (s *FileSource) Stop(ctx context.Context) error { return nil }

// WavDecoder is a DecoderStage reading linear-PCM WAV files via go-audio/wav,
// converting each read chunk to interleaved float32 in [-1, 1].
type WavDecoder struct {
	file     *os.File
	decoder  *wav.Decoder
	spec     engine.StreamSpec
	chunkBuf *audio.IntBuffer
}

func NewWavDecoder() *WavDecoder { return &WavDecoder{} }

func (d *WavDecoder) Prepare(ctx context.Context, handle engine.SourceHandle, pctx *engine.PipelineContext) (engine.StreamSpec, error) {
	fh, ok := handle.(*fileHandle)
	if !ok {
		return engine.StreamSpec{}, errors.New(nil).
			Component(componentTestDecoder).
			Category(errors.CategoryValidation).
			Context("detail", "handle not produced by FileSource").
			Build()
	}

	f, err := os.Open(fh.path)
	if err != nil {
		return engine.StreamSpec{}, errors.New(nil).
			Component(componentTestDecoder).
			Category(errors.CategoryFileIO).
			Context("path", fh.path).
			Build()
	}

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return engine.StreamSpec{}, errors.New(nil).
			Component(componentTestDecoder).
			Category(errors.CategoryValidation).
			Context("path", fh.path).
			Context("detail", "not a valid WAV file").
			Build()
	}
	dec.ReadInfo()

	spec := engine.StreamSpec{
		SampleRate: dec.SampleRate,
		Channels:   uint16(dec.NumChans),
	}
	if err := spec.Validate(); err != nil {
		f.Close()
		return engine.StreamSpec{}, err
	}

	d.file = f
	d.decoder = dec
	d.spec = spec
	d.chunkBuf = &audio.IntBuffer{
		Format: &audio.Format{SampleRate: int(dec.SampleRate), NumChannels: int(dec.NumChans)},
		Data:   make([]int, engine.GatedConsumerChunkSamples*int(dec.NumChans)),
	}
	return spec, nil
}

func (d *WavDecoder) NextBlock(ctx context.Context, out *engine.AudioBlock) (engine.StageStatus, error) {
	n, err := d.decoder.PCMBuffer(d.chunkBuf)
	if err != nil && err != io.EOF {
		return engine.StatusFatal, &engine.StageError{Detail: "wav decode failed", Cause: err}
	}
	if n == 0 {
		return engine.StatusEof, nil
	}

	out.Channels = d.spec.Channels
	if cap(out.Samples) < n {
		out.Samples = make([]float32, n)
	} else {
		out.Samples = out.Samples[:n]
	}
	bitDepth := d.decoder.BitDepth
	if bitDepth == 0 {
		bitDepth = 16
	}
	maxVal := float32(int(1) << (bitDepth - 1))
	for i := 0; i < n; i++ {
		out.Samples[i] = float32(d.chunkBuf.Data[i]) / maxVal
	}
	return engine.StatusOk, nil
}

func (d *WavDecoder) CurrentGaplessTrimSpec() engine.GaplessTrimSpec { return engine.GaplessTrimSpec{} }

func (d *WavDecoder) EstimatedRemainingFrames() (uint64, bool) { return 0, false }

func (d *WavDecoder) Flush(ctx context.Context) error { return nil }

func (d *WavDecoder) Stop(ctx context.Context) error {
	if d.file != nil {
		return d.file.Close()
	}
	return nil
}
