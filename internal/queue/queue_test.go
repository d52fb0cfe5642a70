package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brianwynne/audyn/internal/frame"
)

func TestPushPopFIFOOrder(t *testing.T) {
	q := New(4)
	require.True(t, q.Push(frame.Handle(1)))
	require.True(t, q.Push(frame.Handle(2)))
	require.True(t, q.Push(frame.Handle(3)))

	h, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, frame.Handle(1), h)

	h, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, frame.Handle(2), h)

	h, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, frame.Handle(3), h)

	_, ok = q.Pop()
	assert.False(t, ok, "pop on empty queue must report absence, not block")
}

func TestPushFailsWhenFull(t *testing.T) {
	q := New(2)
	require.True(t, q.Push(frame.Handle(1)))
	require.True(t, q.Push(frame.Handle(2)))
	assert.False(t, q.Push(frame.Handle(3)), "push on full queue must return false")
	assert.Equal(t, 2, q.Size())
}

func TestConcurrentSPSCPreservesOrder(t *testing.T) {
	const n = 200000
	q := New(64)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			for !q.Push(frame.Handle(i)) {
			}
		}
	}()

	var got []frame.Handle
	go func() {
		defer wg.Done()
		for len(got) < n {
			if h, ok := q.Pop(); ok {
				got = append(got, h)
			}
		}
	}()

	wg.Wait()
	require.Len(t, got, n)
	for i, h := range got {
		require.Equal(t, frame.Handle(i), h, "frames must be delivered in push order")
	}
}
