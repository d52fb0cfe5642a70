// Package worker implements the archive worker state machine of spec.md
// §4.8: it owns the current writer, rotates it on policy boundaries, and
// synthesizes silence through input stalls.
package worker

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/brianwynne/audyn/internal/archive"
	"github.com/brianwynne/audyn/internal/frame"
	"github.com/brianwynne/audyn/internal/queue"
	"github.com/brianwynne/audyn/internal/sink"
)

// State is one of the five worker lifecycle states of spec.md §4.8.
type State int

const (
	StateOpening State = iota
	StateWriting
	StateRotating
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateWriting:
		return "writing"
	case StateRotating:
		return "rotating"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	popPollInterval  = time.Millisecond
	silenceThreshold = 50 * time.Millisecond
)

// SinkOpener creates the concrete writer (WAV or Opus) for path, given the
// worker's fixed sample rate and channel count.
type SinkOpener func(path string, sampleRate, channels int) (sink.Sink, error)

// NowFunc returns the current time in nanoseconds, abstracted so the
// worker can be driven by the PTP clock or a fake in tests.
type NowFunc func() uint64

// Worker owns the current writer and drains the frame queue. Run is
// intended to execute on a single dedicated goroutine.
type Worker struct {
	pool       *frame.Pool
	queue      *queue.Queue
	policy     *archive.Policy
	openSink   SinkOpener
	now        NowFunc
	sampleRate int
	channels   int
	frameCap   int // samples per frame, for silence synthesis

	logger *log.Logger

	mu       sync.Mutex
	state    State
	lastErr  error
	current  sink.Sink
	silence  []float32
}

// New constructs a Worker. frameCap is the frame pool's samples-per-frame
// capacity, used to size synthesized silence frames.
func New(pool *frame.Pool, q *queue.Queue, policy *archive.Policy, openSink SinkOpener, now NowFunc, sampleRate, channels, frameCap int, logger *log.Logger) *Worker {
	return &Worker{
		pool:       pool,
		queue:      q,
		policy:     policy,
		openSink:   openSink,
		now:        now,
		sampleRate: sampleRate,
		channels:   channels,
		frameCap:   frameCap,
		logger:     logger,
		state:      StateOpening,
		silence:    make([]float32, frameCap*channels),
	}
}

// State reports the worker's current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// LastError reports the fatal error that drove the worker to Stopped, if
// any.
func (w *Worker) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

func (w *Worker) fail(err error) {
	w.mu.Lock()
	w.lastErr = err
	w.state = StateStopped
	w.mu.Unlock()
	if w.logger != nil {
		w.logger.Error("worker stopped on fatal error", "err", err)
	}
}

// Run executes the state machine until stop is closed, then drains the
// queue and closes the final writer. Exit status should reflect whether
// LastError is non-nil after Run returns.
func (w *Worker) Run(stop <-chan struct{}) {
	if err := w.open(); err != nil {
		w.fail(fmt.Errorf("open initial archive file: %w", err))
		return
	}
	w.setState(StateWriting)

	stalledSince := time.Time{}

	for {
		select {
		case <-stop:
			w.setState(StateDraining)
			w.drain()
			return
		default:
		}

		if w.policy.ShouldRotate(w.now()) {
			w.setState(StateRotating)
			if err := w.rotate(); err != nil {
				w.fail(fmt.Errorf("rotate archive file: %w", err))
				return
			}
			w.setState(StateWriting)
		}

		h, ok := w.queue.Pop()
		if !ok {
			if stalledSince.IsZero() {
				stalledSince = time.Now()
			} else if time.Since(stalledSince) >= silenceThreshold {
				if err := w.writeCurrent(w.silence, w.frameCap); err != nil {
					w.fail(err)
					return
				}
			}
			time.Sleep(popPollInterval)
			continue
		}
		stalledSince = time.Time{}

		fr := w.pool.Frame(h)
		if err := w.writeCurrent(fr.Data, fr.ValidFrames); err != nil {
			w.pool.Release(h)
			w.fail(err)
			return
		}
		w.pool.Release(h)
	}
}

func (w *Worker) writeCurrent(pcm []float32, validFrames int) error {
	w.mu.Lock()
	cur := w.current
	w.mu.Unlock()
	if err := cur.Write(pcm, validFrames); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// open opens the very first archive file, per the Opening -> Writing
// transition.
func (w *Worker) open() error {
	path, err := w.policy.NextPath(w.now())
	if err != nil {
		return err
	}
	s, err := w.openSink(path, w.sampleRate, w.channels)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.current = s
	w.mu.Unlock()
	w.policy.Advance()
	if w.logger != nil {
		w.logger.Info("opened archive file", "path", path)
	}
	return nil
}

// rotate closes the current writer, opens the next one, and advances the
// policy. Close-then-open, per spec.md §4.8: frames popped during the gap
// are written to the new file once it is open, losing none.
func (w *Worker) rotate() error {
	w.mu.Lock()
	cur := w.current
	w.mu.Unlock()

	if err := cur.Close(); err != nil {
		return fmt.Errorf("close rotating writer: %w", err)
	}

	path, err := w.policy.NextPath(w.now())
	if err != nil {
		return err
	}
	s, err := w.openSink(path, w.sampleRate, w.channels)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.current = s
	w.mu.Unlock()
	w.policy.Advance()
	if w.logger != nil {
		w.logger.Info("rotated archive file", "path", path)
	}
	return nil
}

// drain empties the queue and closes the final writer, per the
// Draining -> Stopped transition.
func (w *Worker) drain() {
	for {
		h, ok := w.queue.Pop()
		if !ok {
			break
		}
		fr := w.pool.Frame(h)
		if err := w.writeCurrent(fr.Data, fr.ValidFrames); err != nil {
			w.pool.Release(h)
			w.fail(err)
			return
		}
		w.pool.Release(h)
	}

	w.mu.Lock()
	cur := w.current
	w.mu.Unlock()
	if err := cur.Close(); err != nil {
		w.fail(fmt.Errorf("close final writer: %w", err))
		return
	}
	w.setState(StateStopped)
}
