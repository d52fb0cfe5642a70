// Package localsource declares the interface a local sound-card capture
// fallback would implement. Audyn's primary input is AES67 multicast;
// local capture (e.g. via PortAudio, as the teacher's client used for
// microphone input) is out of scope for this engine and is not
// implemented here — only the seam is, so a future capture backend can
// be wired in without touching internal/worker.
package localsource

import "context"

// Source produces frames of interleaved float32 PCM the same shape the
// RTP receiver produces, so the worker can consume either without caring
// which fed the queue.
type Source interface {
	// ReadInto fills buf with up to len(buf)/channels sample-frames and
	// returns how many frames were actually captured.
	ReadInto(ctx context.Context, buf []float32) (frames int, err error)

	// Close releases the underlying audio device.
	Close() error
}
