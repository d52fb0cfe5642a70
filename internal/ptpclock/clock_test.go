package ptpclock

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/brianwynne/audyn/internal/audynerr"
)

// fakeSource is a deterministic, manually-advanced time source for tests.
type fakeSource struct {
	t time.Time
}

func (f *fakeSource) now() (time.Time, error) { return f.t, nil }

func newTestClock(start time.Time) (*Clock, *fakeSource) {
	src := &fakeSource{t: start}
	return newWithSource(ModeSoftware, src), src
}

func TestSetRTPEpochIdempotent(t *testing.T) {
	c, _ := newTestClock(time.Now())
	c.SetRTPEpoch(1000, 5_000_000_000, 48000)
	c.SetRTPEpoch(2000, 9_000_000_000, 48000) // same sample rate: no-op

	ns, err := c.RTPToNs(1000, 48000)
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000_000_000), ns)
}

func TestRTPToNsBasicConversion(t *testing.T) {
	c, _ := newTestClock(time.Now())
	c.SetRTPEpoch(0, 1_000_000_000, 48000)

	// One second of samples at 48kHz should be exactly 1s later.
	ns, err := c.RTPToNs(48000, 48000)
	require.NoError(t, err)
	assert.Equal(t, uint64(2_000_000_000), ns)
}

func TestRTPToNsSampleRateMismatch(t *testing.T) {
	c, _ := newTestClock(time.Now())
	c.SetRTPEpoch(0, 1_000_000_000, 48000)

	_, err := c.RTPToNs(100, 44100)
	require.Error(t, err)
	assert.True(t, errors.Is(err, audynerr.ErrConfigInvalid))
}

func TestRTPToNsWraparound(t *testing.T) {
	c, _ := newTestClock(time.Now())
	c.SetRTPEpoch(0, 1_000_000_000, 48000)

	before, err := c.RTPToNs(0xFFFFFF00, 48000)
	require.NoError(t, err)

	after, err := c.RTPToNs(0x00000100, 48000)
	require.NoError(t, err)

	assert.Greater(t, after, before, "timestamp after a 32-bit wrap must be later than before it")
}

func TestRTPToNsExtremeDeltaResetsEpoch(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c, src := newTestClock(now)
	c.SetRTPEpoch(1000, uint64(now.UnixNano()), 48000)

	// ~100 hours of samples at 48kHz, comfortably over the 53-hour bound.
	// That is more than a 32-bit RTP timestamp can span, so the wraps that
	// would have been observed on the way there are recorded directly and
	// the query passes the low 32 bits of the extended target.
	const hugeDeltaSamples = uint64(100 * 3600 * 48000)
	target := uint64(1000) + hugeDeltaSamples
	c.mu.Lock()
	c.e.wraparoundCount = target >> 32
	c.mu.Unlock()
	src.t = now.Add(100 * time.Hour)

	ns, err := c.RTPToNs(uint32(target), 48000)
	require.Error(t, err)
	assert.True(t, errors.Is(err, audynerr.ErrTimingAnomaly))
	assert.Equal(t, uint64(src.t.UnixNano()), ns, "on overflow the clock must report now(), not a wrapped value")
}

func TestHealthy(t *testing.T) {
	none := New(ModeNone)
	assert.True(t, none.Healthy())

	stale, _ := newTestClock(time.Unix(0, 0))
	assert.False(t, stale.Healthy(), "a clock reading before the sanity lower bound is unhealthy")

	fresh, _ := newTestClock(time.Now())
	assert.True(t, fresh.Healthy())
}

// TestRTPToNsMonotoneExceptOnReset is the property-based round-trip
// invariant of spec.md §8: for any rtp_ts and a constant sample rate,
// rtp_to_ns is strictly monotone in the 64-bit extended RTP timestamp,
// except at epoch-reset events.
func TestRTPToNsMonotoneExceptOnReset(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		sampleRate := uint32(48000)
		c, _ := newTestClock(time.Unix(1_700_000_000, 0))
		c.SetRTPEpoch(0, uint64(time.Unix(1_700_000_000, 0).UnixNano()), sampleRate)

		steps := rapid.SliceOfN(rapid.Uint32Range(1, 47999), 1, 20).Draw(rt, "steps")

		var prev uint64
		var prevTS uint32
		first := true
		for _, step := range steps {
			prevTS += step
			ns, err := c.RTPToNs(prevTS, sampleRate)
			if err != nil {
				// Epoch reset: not required to be monotone relative to prev.
				first = true
				continue
			}
			if !first {
				if ns <= prev {
					rt.Fatalf("rtp_to_ns not monotone: prev=%d now=%d", prev, ns)
				}
			}
			prev = ns
			first = false
		}
	})
}
