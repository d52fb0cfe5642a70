package rtp

import "sync/atomic"

// Counters are the receiver's lifetime statistics, readable at any time
// from any goroutine, per spec.md §4.4.
type Counters struct {
	PacketsRx              atomic.Uint64
	PacketsDropped         atomic.Uint64
	Discontinuities        atomic.Uint64
	FramesPushed           atomic.Uint64
	FramesDroppedPoolEmpty atomic.Uint64
	FramesDroppedQueueFull atomic.Uint64
}

// Snapshot is a point-in-time copy of Counters suitable for logging or
// exporting to Prometheus.
type Snapshot struct {
	PacketsRx              uint64
	PacketsDropped         uint64
	Discontinuities        uint64
	FramesPushed           uint64
	FramesDroppedPoolEmpty uint64
	FramesDroppedQueueFull uint64
}

// Load takes a consistent-enough snapshot of the counters. Individual
// fields may be read with a torn view relative to each other since each
// is updated independently, which matches spec.md §4.4's framing of them
// as independently-readable atomics.
func (c *Counters) Load() Snapshot {
	return Snapshot{
		PacketsRx:              c.PacketsRx.Load(),
		PacketsDropped:         c.PacketsDropped.Load(),
		Discontinuities:        c.Discontinuities.Load(),
		FramesPushed:           c.FramesPushed.Load(),
		FramesDroppedPoolEmpty: c.FramesDroppedPoolEmpty.Load(),
		FramesDroppedQueueFull: c.FramesDroppedQueueFull.Load(),
	}
}
