// Package queue implements the bounded SPSC frame queue that connects the
// RTP receiver (producer) to the worker (consumer). It moves frame.Handle
// values only — it never constructs or destructs a frame.
package queue

import (
	"sync/atomic"

	"github.com/brianwynne/audyn/internal/frame"
)

// Queue is a bounded single-producer/single-consumer ring of frame handles.
// Push is called only by the receiver; Pop only by the worker. head is
// advanced only by Push, tail only by Pop — the classic Lamport SPSC queue,
// wait-free and allocation-free on both sides.
type Queue struct {
	buf      []frame.Handle
	capacity uint64
	head     atomic.Uint64 // next slot Push will write
	tail     atomic.Uint64 // next slot Pop will read
}

// New creates a queue with room for capacity handles.
func New(capacity int) *Queue {
	if capacity <= 0 {
		panic("queue: capacity must be positive")
	}
	return &Queue{
		buf:      make([]frame.Handle, capacity),
		capacity: uint64(capacity),
	}
}

// Capacity returns the fixed ring capacity Q.
func (q *Queue) Capacity() int { return int(q.capacity) }

// Push appends h to the queue. Returns false if the queue is full; the
// caller (receiver) is responsible for releasing the frame back to the pool
// in that case. Publishes with release semantics: a Pop that observes the
// updated head also observes the write to buf.
func (q *Queue) Push(h frame.Handle) bool {
	head := q.head.Load()
	tail := q.tail.Load()
	if head-tail >= q.capacity {
		return false
	}
	q.buf[head%q.capacity] = h
	q.head.Store(head + 1)
	return true
}

// Pop removes and returns the oldest handle, or frame.NoHandle if the queue
// is empty. Acquires: a Pop that observes a Push's updated head also
// observes that Push's write to buf.
func (q *Queue) Pop() (frame.Handle, bool) {
	tail := q.tail.Load()
	head := q.head.Load()
	if tail == head {
		return frame.NoHandle, false
	}
	h := q.buf[tail%q.capacity]
	q.tail.Store(tail + 1)
	return h, true
}

// Size returns the number of handles currently queued. Diagnostic only.
func (q *Queue) Size() int {
	return int(q.head.Load() - q.tail.Load())
}
