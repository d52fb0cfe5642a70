// Package sink defines the polymorphic writer capability the worker depends
// on, per spec.md §9: "the writer abstraction is polymorphic over
// {open, write, flush, close, stats}; variants are {WavPcm16, OpusOgg}.
// Worker code should depend only on that capability, not on concrete
// types."
package sink

// Stats is the subset of writer-internal counters worth surfacing to the
// worker and the rotation ledger at close.
type Stats struct {
	FramesWritten uint64
	BytesWritten  uint64
	FifoOverflows uint64 // opuswriter only; always 0 for wavwriter
}

// Sink is implemented by wavwriter.Writer and opuswriter.Writer.
type Sink interface {
	// Write accepts interleaved float32 PCM for validFrames sample-frames
	// (validFrames <= len(pcm)/channels). channels is fixed at Open.
	Write(pcm []float32, validFrames int) error

	// Flush pushes buffered data to the OS; if fsync was requested at
	// Open, it also flushes to stable storage.
	Flush() error

	// Close finalizes the file (patching headers, writing trailing Ogg
	// pages, etc.) and releases the underlying file handle.
	Close() error

	// Stats reports the sink's cumulative counters.
	Stats() Stats
}
