// Package wavwriter implements the streaming PCM16 RIFF/WAVE writer of
// spec.md §4.6: a 44-byte header with placeholder sizes written at open,
// patched by seeking back at close.
package wavwriter

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/brianwynne/audyn/internal/audynerr"
	"github.com/brianwynne/audyn/internal/sink"
)

const (
	headerSize    = 44
	maxUint32     = math.MaxUint32
	chunkSamples  = 4096 // bounded per-call conversion buffer, per spec.md §4.6
)

// syncer is the subset of *os.File Flush/Close need to honor fsync,
// narrowed so tests can substitute a fake that reports a Sync failure
// without relying on OS-specific fd tricks.
type syncer interface {
	Sync() error
}

// Writer streams PCM16 audio to a RIFF/WAVE file. Not safe for concurrent
// use: the worker is its single-threaded caller, per spec.md §4.6.
type Writer struct {
	f     *os.File
	w     *bufio.Writer
	sync  syncer
	fsync bool

	sampleRate int
	channels   int

	dataBytes uint64
	scratch   [chunkSamples]int16

	closed bool
}

var _ sink.Sink = (*Writer)(nil)

// Open creates (truncating) path and writes the 44-byte header with
// placeholder sizes. sampleRate and channels are validated per spec.md
// §4.6/§4.4's RTP receiver ranges.
func Open(path string, sampleRate, channels int, fsyncEnabled bool) (*Writer, error) {
	if sampleRate < 1 || sampleRate > 384000 {
		return nil, fmt.Errorf("wavwriter: sample rate %d out of range [1, 384000]: %w", sampleRate, audynerr.ErrConfigInvalid)
	}
	if channels < 1 || channels > 32 {
		return nil, fmt.Errorf("wavwriter: channel count %d out of range [1, 32]: %w", channels, audynerr.ErrConfigInvalid)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("wavwriter: create %s: %w", path, audynerr.ErrIoFailure)
	}

	wr := &Writer{
		f:          f,
		w:          bufio.NewWriterSize(f, 64*1024),
		sync:       f,
		fsync:      fsyncEnabled,
		sampleRate: sampleRate,
		channels:   channels,
	}
	if err := wr.writeHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return wr, nil
}

func (w *Writer) writeHeader() error {
	var hdr [headerSize]byte
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], 0) // placeholder RIFF size
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16) // fmt chunk size
	binary.LittleEndian.PutUint16(hdr[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(hdr[22:24], uint16(w.channels))
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(w.sampleRate))
	byteRate := uint32(w.sampleRate * w.channels * 2)
	binary.LittleEndian.PutUint32(hdr[28:32], byteRate)
	blockAlign := uint16(w.channels * 2)
	binary.LittleEndian.PutUint16(hdr[32:34], blockAlign)
	binary.LittleEndian.PutUint16(hdr[34:36], 16) // bits per sample
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], 0) // placeholder data size

	if _, err := w.w.Write(hdr[:]); err != nil {
		return fmt.Errorf("wavwriter: write header: %w", audynerr.ErrIoFailure)
	}
	return nil
}

// Write converts validFrames sample-frames of interleaved float32 PCM to
// little-endian PCM16 and appends them to the data chunk, processing in
// bounded chunks through the Writer's fixed-size scratch buffer.
func (w *Writer) Write(pcm []float32, validFrames int) error {
	if w.closed {
		return fmt.Errorf("wavwriter: write after close: %w", audynerr.ErrIoFailure)
	}
	total := validFrames * w.channels
	newSize := w.dataBytes + uint64(total)*2
	if newSize > maxUint32-36 {
		return fmt.Errorf("wavwriter: data chunk would exceed 4 GiB RIFF ceiling: %w", audynerr.ErrFormatLimit)
	}

	for off := 0; off < total; off += chunkSamples {
		n := total - off
		if n > chunkSamples {
			n = chunkSamples
		}
		for i := 0; i < n; i++ {
			w.scratch[i] = floatToPCM16(pcm[off+i])
		}
		for i := 0; i < n; i++ {
			var b [2]byte
			binary.LittleEndian.PutUint16(b[:], uint16(w.scratch[i]))
			if _, err := w.w.Write(b[:]); err != nil {
				return fmt.Errorf("wavwriter: write samples: %w", audynerr.ErrIoFailure)
			}
		}
	}
	w.dataBytes += uint64(total) * 2
	return nil
}

// floatToPCM16 converts a float32 sample in [-1, 1] to PCM16 by clamping,
// scaling by 32767, truncating toward zero, and clamping the result to the
// int16 range — per spec.md §4.6.
func floatToPCM16(x float32) int16 {
	if x > 1 {
		x = 1
	} else if x < -1 {
		x = -1
	}
	v := int32(x * 32767) // truncates toward zero
	if v > math.MaxInt16 {
		v = math.MaxInt16
	} else if v < math.MinInt16 {
		v = math.MinInt16
	}
	return int16(v)
}

// Flush pushes buffered bytes to the OS, and to stable storage if fsync
// was requested at Open.
func (w *Writer) Flush() error {
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("wavwriter: flush: %w", audynerr.ErrIoFailure)
	}
	if w.fsync {
		if err := w.sync.Sync(); err != nil {
			return fmt.Errorf("wavwriter: fsync: %w", audynerr.ErrIoFailure)
		}
	}
	return nil
}

// Close flushes, patches the RIFF and data chunk sizes, and closes the
// file. Safe to call once; a second call is a no-op.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.Flush(); err != nil {
		w.f.Close()
		return err
	}
	if w.dataBytes > maxUint32-36 {
		w.f.Close()
		return fmt.Errorf("wavwriter: data size %d exceeds u32: %w", w.dataBytes, audynerr.ErrFormatLimit)
	}

	riffSize := uint32(36 + w.dataBytes)
	dataSize := uint32(w.dataBytes)

	if err := w.patchUint32(4, riffSize); err != nil {
		w.f.Close()
		return err
	}
	if err := w.patchUint32(40, dataSize); err != nil {
		w.f.Close()
		return err
	}

	if w.fsync {
		if err := w.sync.Sync(); err != nil {
			w.f.Close()
			return fmt.Errorf("wavwriter: fsync on close: %w", audynerr.ErrIoFailure)
		}
	}
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("wavwriter: close: %w", audynerr.ErrIoFailure)
	}
	return nil
}

func (w *Writer) patchUint32(offset int64, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	if _, err := w.f.WriteAt(b[:], offset); err != nil {
		return fmt.Errorf("wavwriter: patch header at %d: %w", offset, audynerr.ErrIoFailure)
	}
	return nil
}

// Stats reports cumulative bytes written to the data chunk.
func (w *Writer) Stats() sink.Stats {
	return sink.Stats{BytesWritten: w.dataBytes}
}
