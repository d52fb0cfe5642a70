// Package frame implements the fixed-capacity, allocation-free audio frame
// pool. Frames are float32 PCM buffers, interleaved by channel, with stable
// identity for the lifetime of the pool (their handle is their index into
// the pool's backing arena — never a pointer reused from a general-purpose
// allocator).
package frame

import "sync/atomic"

// Handle identifies a frame owned by a Pool. It is the frame's arena index,
// not a pointer — stable for the pool's lifetime per the data model's
// identity requirement.
type Handle int32

// NoHandle is returned by Acquire when the pool is empty.
const NoHandle Handle = -1

// Frame is one buffer of Samples sample-frames by Channels channels of
// interleaved float32 PCM in [-1, +1]. Channels and Samples are immutable
// after pool creation; ValidFrames is producer-set per use and must be
// <= Samples.
type Frame struct {
	Data        []float32
	Channels    int
	Samples     int
	ValidFrames int
}

// Pool owns N pre-allocated Frames and an SPSC free-list of their handles.
// Acquire is called only by the producer (the RTP receiver); Release is
// called only by the consumer (the worker).
//
// The free-list is a bounded ring of exactly N handles addressed by two
// monotonically increasing counters: head (next slot Release will write)
// and tail (next slot Acquire will read). Only the consumer ever advances
// head; only the producer ever advances tail. Neither side ever writes a
// slot the other side might still be reading, so no CAS or lock is needed —
// this is the per-side-ring variant spec.md §4.1 allows in place of the
// simpler (and subtly harder to get right) atomic-decrement stack.
type Pool struct {
	frames   []Frame
	free     []Handle
	capacity uint64
	head     atomic.Uint64
	tail     atomic.Uint64
}

// New creates a pool of capacity frames, each channels x samplesPerFrame.
func New(capacity, channels, samplesPerFrame int) *Pool {
	if capacity <= 0 || channels <= 0 || samplesPerFrame <= 0 {
		panic("frame: capacity, channels, and samplesPerFrame must be positive")
	}

	p := &Pool{
		frames:   make([]Frame, capacity),
		free:     make([]Handle, capacity),
		capacity: uint64(capacity),
	}
	for i := 0; i < capacity; i++ {
		p.frames[i] = Frame{
			Data:     make([]float32, channels*samplesPerFrame),
			Channels: channels,
			Samples:  samplesPerFrame,
		}
		p.free[i] = Handle(i)
	}
	// All N handles start in the free-list: head is one full lap ahead of tail.
	p.head.Store(uint64(capacity))
	return p
}

// Capacity returns the fixed pool size N.
func (p *Pool) Capacity() int { return int(p.capacity) }

// Acquire returns a free frame handle, or NoHandle if the pool is empty.
// Constant-time, non-blocking, allocation-free; safe to call only from the
// single producer.
func (p *Pool) Acquire() Handle {
	tail := p.tail.Load()
	head := p.head.Load()
	if tail == head {
		return NoHandle
	}
	h := p.free[tail%p.capacity]
	p.tail.Store(tail + 1)
	return h
}

// Release returns a handle to the free-list. Safe to call only from the
// single consumer. Releasing a handle not previously returned by Acquire,
// or double-releasing one, is a caller bug and corrupts the free-list
// silently in a release build.
func (p *Pool) Release(h Handle) {
	head := p.head.Load()
	p.free[head%p.capacity] = h
	p.head.Store(head + 1)
}

// Frame returns the frame backing handle h. The returned pointer is stable
// for the pool's lifetime.
func (p *Pool) Frame(h Handle) *Frame {
	return &p.frames[h]
}

// FreeCount returns the number of frames currently available for Acquire.
// For diagnostics only; may be stale the instant it is read under
// concurrent use.
func (p *Pool) FreeCount() int {
	return int(p.head.Load() - p.tail.Load())
}
