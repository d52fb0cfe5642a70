package worker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brianwynne/audyn/internal/archive"
	"github.com/brianwynne/audyn/internal/frame"
	"github.com/brianwynne/audyn/internal/queue"
	"github.com/brianwynne/audyn/internal/sink"
)

type fakeSink struct {
	mu      sync.Mutex
	writes  [][]float32
	valid   []int
	closed  bool
	failAt  int // Write call index (1-based) that should error; 0 = never
	calls   int
}

func (f *fakeSink) Write(pcm []float32, validFrames int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failAt != 0 && f.calls == f.failAt {
		return assert.AnError
	}
	cp := make([]float32, len(pcm))
	copy(cp, pcm)
	f.writes = append(f.writes, cp)
	f.valid = append(f.valid, validFrames)
	return nil
}
func (f *fakeSink) Flush() error { return nil }
func (f *fakeSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
func (f *fakeSink) Stats() sink.Stats { return sink.Stats{} }

func newTestWorker(t *testing.T, opener SinkOpener, nowNs *uint64) (*Worker, *frame.Pool, *queue.Queue) {
	t.Helper()
	pool := frame.New(8, 2, 48)
	q := queue.New(8)
	policy, err := archive.New(archive.Config{Root: t.TempDir(), Suffix: "wav", Layout: archive.LayoutFlat, PeriodSec: 0})
	require.NoError(t, err)

	now := func() uint64 { return *nowNs }
	w := New(pool, q, policy, opener, now, 48000, 2, 48, nil)
	return w, pool, q
}

func pushFrame(t *testing.T, pool *frame.Pool, q *queue.Queue, fill float32) {
	t.Helper()
	h := pool.Acquire()
	require.NotEqual(t, frame.NoHandle, h)
	fr := pool.Frame(h)
	for i := range fr.Data {
		fr.Data[i] = fill
	}
	fr.ValidFrames = 48
	require.True(t, q.Push(h))
}

func TestWorkerWritesPoppedFramesInOrder(t *testing.T) {
	var nowNs uint64 = 1000
	var opened []string
	fs := &fakeSink{}
	opener := func(path string, sampleRate, channels int) (sink.Sink, error) {
		opened = append(opened, path)
		return fs, nil
	}
	w, pool, q := newTestWorker(t, opener, &nowNs)

	pushFrame(t, pool, q, 0.5)
	pushFrame(t, pool, q, 0.25)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() { w.Run(stop); close(done) }()

	// Let the two frames drain, then stop.
	time.Sleep(20 * time.Millisecond)
	close(stop)
	<-done

	assert.Equal(t, StateStopped, w.State())
	assert.NoError(t, w.LastError())
	assert.True(t, fs.closed)
	assert.Len(t, opened, 1)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.GreaterOrEqual(t, len(fs.writes), 2)
	assert.Equal(t, float32(0.5), fs.writes[0][0])
	assert.Equal(t, float32(0.25), fs.writes[1][0])
}

func TestWorkerSynthesizesSilenceAfterStall(t *testing.T) {
	var nowNs uint64 = 1000
	fs := &fakeSink{}
	opener := func(path string, sampleRate, channels int) (sink.Sink, error) { return fs, nil }
	w, _, _ := newTestWorker(t, opener, &nowNs)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() { w.Run(stop); close(done) }()

	time.Sleep(80 * time.Millisecond) // past the 50ms silence threshold
	close(stop)
	<-done

	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.NotEmpty(t, fs.writes)
	for _, v := range fs.writes[0] {
		assert.Equal(t, float32(0), v, "synthesized silence must be all zeros")
	}
}

func TestWorkerFatalWriteErrorStopsWithLastError(t *testing.T) {
	var nowNs uint64 = 1000
	fs := &fakeSink{failAt: 1}
	opener := func(path string, sampleRate, channels int) (sink.Sink, error) { return fs, nil }
	w, pool, q := newTestWorker(t, opener, &nowNs)
	pushFrame(t, pool, q, 0.1)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() { w.Run(stop); close(done) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after fatal write error")
	}

	assert.Equal(t, StateStopped, w.State())
	assert.Error(t, w.LastError())
}

func TestWorkerRotatesOnPolicyBoundary(t *testing.T) {
	var nowNs uint64 = 0
	var mu sync.Mutex
	var opened []string
	fs1 := &fakeSink{}
	fs2 := &fakeSink{}
	calls := 0
	opener := func(path string, sampleRate, channels int) (sink.Sink, error) {
		mu.Lock()
		opened = append(opened, path)
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			return fs1, nil
		}
		return fs2, nil
	}

	pool := frame.New(8, 2, 48)
	q := queue.New(8)
	policy, err := archive.New(archive.Config{Root: t.TempDir(), Suffix: "wav", Layout: archive.LayoutFlat, PeriodSec: 1})
	require.NoError(t, err)
	now := func() uint64 {
		mu.Lock()
		defer mu.Unlock()
		return nowNs
	}
	w := New(pool, q, policy, opener, now, 48000, 2, 48, nil)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() { w.Run(stop); close(done) }()

	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	nowNs = 2_000_000_000 // 2 seconds later: past the 1s period boundary
	mu.Unlock()

	time.Sleep(20 * time.Millisecond)
	close(stop)
	<-done

	assert.True(t, fs1.closed)
	assert.True(t, fs2.closed)
	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, len(opened), 2, "worker must have opened a second file after the rotation boundary")
}
