// Package audynerr classifies the error kinds of spec.md §7 as sentinel
// errors so callers can distinguish fatal startup failures from locally
// recovered, merely-counted conditions with errors.Is.
package audynerr

import "errors"

// Kind sentinels. Wrap one of these with fmt.Errorf("...: %w", Kind...) at
// the point a failure is detected; callers classify with errors.Is.
var (
	// ErrConfigInvalid: bad sample rate, channel count, layout, bitrate,
	// channel window, etc. Fatal to startup.
	ErrConfigInvalid = errors.New("config invalid")

	// ErrIoFailure: file open/write/seek/fsync failure. Fatal to the
	// worker, which records it as its last error and moves to Stopped.
	ErrIoFailure = errors.New("io failure")

	// ErrFormatLimit: WAV 4 GiB ceiling exceeded, Opus FIFO overflow, or an
	// RTP payload size matching neither L16 nor L24. Fatal for WAV/Opus
	// writers; locally recovered (drop + count) for RTP payload mismatch.
	ErrFormatLimit = errors.New("format limit exceeded")

	// ErrNetworkFailure: socket/bind/multicast-join failure. Fatal at
	// startup; transient recv errors are retried, not wrapped in this.
	ErrNetworkFailure = errors.New("network failure")

	// ErrBackPressure: pool empty or queue full. Never fatal, only counted.
	ErrBackPressure = errors.New("back pressure")

	// ErrTimingAnomaly: RTP sample-delta overflow forcing a PTP epoch
	// reset, or an unhealthy PTP clock. Reported, not fatal.
	ErrTimingAnomaly = errors.New("timing anomaly")
)
