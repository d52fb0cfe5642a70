// Package opuswriter implements the Ogg/Opus archive writer of spec.md
// §4.7: incoming float32 PCM is reframed into fixed 20ms frames, encoded
// with libopus, and muxed into an Ogg container one packet per page.
package opuswriter

import (
	"bufio"
	"fmt"
	"os"

	"gopkg.in/hraban/opus.v2"

	"github.com/brianwynne/audyn/internal/audynerr"
	"github.com/brianwynne/audyn/internal/sink"
)

const frameDurationMs = 20

// opusPreSkip is the pre-skip sample count (at 48 kHz) written into the
// OpusHead page, per spec.md §6: the standard priming delay most Opus
// encoders report regardless of the input sample rate.
const opusPreSkip = 312

// granuleRateHz is the Ogg Opus spec's fixed granule-position clock: it
// is always expressed in 48 kHz samples regardless of the stream's
// actual encoding sample rate.
const granuleRateHz = 48000

// granulePerFrame is the granule position increment for one 20ms frame.
const granulePerFrame = granuleRateHz * frameDurationMs / 1000

// maxFifoSeconds bounds the reframing FIFO at 10s of audio per spec.md
// §4.7, so an encoder that falls behind doesn't grow the buffer without
// limit.
const maxFifoSeconds = 10

// opusEncoder is the subset of *opus.Encoder the writer depends on,
// narrowed so tests can substitute a fake and avoid linking libopus.
type opusEncoder interface {
	EncodeFloat32(pcm []float32, data []byte) (int, error)
}

// supportedSampleRates lists the sample rates libopus accepts directly;
// anything else must be resampled upstream before reaching this writer.
var supportedSampleRates = map[int]bool{
	8000: true, 12000: true, 16000: true, 24000: true, 48000: true,
}

// Writer streams float32 PCM into an Ogg/Opus file. Not safe for
// concurrent use: the worker is its single-threaded caller.
type Writer struct {
	f   *os.File
	w   *bufio.Writer
	mux *oggMuxer
	enc opusEncoder

	sampleRate   int
	channels     int
	frameSamples int // per channel, per 20ms frame

	fifo []float32 // interleaved PCM pending encode, FIFO order

	opusBuf []byte

	framesWritten uint64
	bytesWritten  uint64
	fifoOverflows uint64

	fifoCap int // samples (interleaved), the hard ceiling on len(fifo)

	closed bool
}

var _ sink.Sink = (*Writer)(nil)

// Open creates (truncating) path, writes the Ogg/Opus header pages, and
// returns a Writer ready to accept PCM.
func Open(path string, sampleRate, channels int) (*Writer, error) {
	if !supportedSampleRates[sampleRate] {
		return nil, fmt.Errorf("opuswriter: sample rate %d not supported by libopus: %w", sampleRate, audynerr.ErrConfigInvalid)
	}
	if channels < 1 || channels > 2 {
		return nil, fmt.Errorf("opuswriter: opus encoding supports 1 or 2 channels, got %d: %w", channels, audynerr.ErrConfigInvalid)
	}

	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("opuswriter: create encoder: %w", audynerr.ErrConfigInvalid)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("opuswriter: create %s: %w", path, audynerr.ErrIoFailure)
	}

	w := &Writer{
		f:            f,
		w:            bufio.NewWriterSize(f, 64*1024),
		sampleRate:   sampleRate,
		channels:     channels,
		frameSamples: sampleRate * frameDurationMs / 1000,
		enc:          enc,
		opusBuf:      make([]byte, 4000), // generous upper bound for a 20ms Opus packet
		fifoCap:      maxFifoSeconds * sampleRate * channels,
	}
	w.mux = newOggMuxer(w.w, streamSerial(path))

	if err := w.mux.writeHeaders(uint32(sampleRate), uint8(channels), opusPreSkip); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// openWithEncoder is Open with the encoder substituted, for tests that
// exercise FIFO reframing and Ogg muxing without linking libopus.
func openWithEncoder(path string, sampleRate, channels int, enc opusEncoder) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("opuswriter: create %s: %w", path, audynerr.ErrIoFailure)
	}
	w := &Writer{
		f:            f,
		w:            bufio.NewWriterSize(f, 64*1024),
		sampleRate:   sampleRate,
		channels:     channels,
		frameSamples: sampleRate * frameDurationMs / 1000,
		enc:          enc,
		opusBuf:      make([]byte, 4000),
		fifoCap:      maxFifoSeconds * sampleRate * channels,
	}
	w.mux = newOggMuxer(w.w, streamSerial(path))
	if err := w.mux.writeHeaders(uint32(sampleRate), uint8(channels), opusPreSkip); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// streamSerial derives a pseudo-random-looking but deterministic Ogg
// stream serial from the output path, so re-opening the same archive slot
// twice in tests is reproducible.
func streamSerial(path string) uint32 {
	var h uint32 = 2166136261 // FNV-1a offset basis
	for i := 0; i < len(path); i++ {
		h ^= uint32(path[i])
		h *= 16777619
	}
	return h
}

// Write appends validFrames sample-frames of interleaved float32 PCM to
// the internal FIFO and encodes every complete 20ms frame it accumulates.
func (w *Writer) Write(pcm []float32, validFrames int) error {
	if w.closed {
		return fmt.Errorf("opuswriter: write after close: %w", audynerr.ErrIoFailure)
	}
	if validFrames < 0 || w.channels <= 0 || validFrames > (1<<62)/w.channels {
		return fmt.Errorf("opuswriter: frames*channels overflow (frames=%d, channels=%d): %w", validFrames, w.channels, audynerr.ErrFormatLimit)
	}
	samples := validFrames * w.channels
	if len(w.fifo)+samples > w.fifoCap {
		w.fifoOverflows++
		return fmt.Errorf("opuswriter: fifo overflow, %d buffered samples exceeds %ds cap: %w", len(w.fifo), maxFifoSeconds, audynerr.ErrFormatLimit)
	}
	w.fifo = append(w.fifo, pcm[:samples]...)

	frameLen := w.frameSamples * w.channels
	for len(w.fifo) >= frameLen {
		if err := w.encodeAndMux(w.fifo[:frameLen]); err != nil {
			return err
		}
		w.fifo = w.fifo[frameLen:]
	}
	return nil
}

func (w *Writer) encodeAndMux(frame []float32) error {
	n, err := w.enc.EncodeFloat32(frame, w.opusBuf)
	if err != nil {
		return fmt.Errorf("opuswriter: encode frame: %w", audynerr.ErrIoFailure)
	}
	packet := w.opusBuf[:n]
	if err := w.mux.writePacket(packet, granulePerFrame); err != nil {
		return err
	}
	w.framesWritten++
	w.bytesWritten += uint64(n)
	return nil
}

// Flush pushes buffered bytes to the OS. Partial frames remaining in the
// FIFO are not flushed mid-stream: Opus packets must encode a full frame.
func (w *Writer) Flush() error {
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("opuswriter: flush: %w", audynerr.ErrIoFailure)
	}
	return nil
}

// Close pads and encodes any trailing partial frame with silence, writes
// the end-of-stream page, and closes the file. Safe to call once; a
// second call is a no-op.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	frameLen := w.frameSamples * w.channels
	if len(w.fifo) > 0 {
		padded := make([]float32, frameLen)
		copy(padded, w.fifo)
		if err := w.encodeAndMux(padded); err != nil {
			w.f.Close()
			return err
		}
		w.fifo = nil
	}

	if err := w.mux.writeEOS(); err != nil {
		w.f.Close()
		return err
	}
	if err := w.w.Flush(); err != nil {
		w.f.Close()
		return fmt.Errorf("opuswriter: final flush: %w", audynerr.ErrIoFailure)
	}
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("opuswriter: close: %w", audynerr.ErrIoFailure)
	}
	return nil
}

// Stats reports cumulative Opus packets and bytes written.
func (w *Writer) Stats() sink.Stats {
	return sink.Stats{FramesWritten: w.framesWritten, BytesWritten: w.bytesWritten, FifoOverflows: w.fifoOverflows}
}
