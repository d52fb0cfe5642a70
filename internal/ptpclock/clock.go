// Package ptpclock abstracts over host-monotonic ("none"), kernel-disciplined
// realtime ("software"), and PTP-hardware-clock ("hardware") time sources, and maps
// RTP sample-count timestamps onto that clock's absolute nanoseconds.
package ptpclock

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/brianwynne/audyn/internal/audynerr"
)

// Mode selects the underlying time source.
type Mode int

const (
	// ModeNone falls back to the host monotonic clock.
	ModeNone Mode = iota
	// ModeSoftware assumes the kernel's realtime clock is disciplined by
	// an external PTP daemon (e.g. ptp4l + phc2sys).
	ModeSoftware
	// ModeHardware reads a PTP Hardware Clock device directly.
	ModeHardware
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeSoftware:
		return "software"
	case ModeHardware:
		return "hardware"
	default:
		return "unknown"
	}
}

// source is the minimal time-reading capability a Mode needs. The default
// implementation reads the appropriate OS clock; tests substitute a fake.
type source interface {
	now() (time.Time, error)
}

// epoch is the immutable snapshot of RTP<->PTP correlation state, matching
// spec.md §3's PTP epoch tuple plus wraparound bookkeeping. It is replaced
// wholesale under Clock.mu rather than mutated field-by-field, so a reader
// that copies it out never observes a torn update.
type epoch struct {
	set        bool
	rtpTS      uint32
	ptpNs      uint64
	sampleRate uint32

	lastRTP         uint32 // most recent rtp_ts observed, for wraparound detection
	wraparoundCount uint64 // cumulative wraps observed across the whole session
	wrapAtEpoch     uint64 // value of wraparoundCount at the moment this epoch was (re)established
}

// Clock is safe for concurrent use from any goroutine; all epoch and
// wraparound state is guarded by a single mutex, and now() itself holds no
// lock beyond the underlying clock read (spec.md §4.3 "Thread safety").
type Clock struct {
	mode Mode
	src  source

	mu sync.Mutex
	e  epoch
}

// New creates a Clock in the given mode using the host OS clocks. Hardware
// mode callers should use NewHardware (clock_linux.go) instead, which wires
// up the PHC device reader.
func New(mode Mode) *Clock {
	return &Clock{mode: mode, src: osSource{mode: mode}}
}

// newWithSource is used by tests and by NewHardware to inject a clock
// reader without depending on a real PHC device or wall-clock time.
func newWithSource(mode Mode, src source) *Clock {
	return &Clock{mode: mode, src: src}
}

// Mode reports the clock's configured time source.
func (c *Clock) Mode() Mode { return c.mode }

// NowNs returns the current time of the selected clock in nanoseconds since
// its epoch. Returns 0 on a read failure (e.g. a hardware clock that has
// gone away); callers treat that as "unhealthy", not as a valid timestamp.
func (c *Clock) NowNs() uint64 {
	t, err := c.src.now()
	if err != nil {
		return 0
	}
	return uint64(t.UnixNano())
}

// SetRTPEpoch establishes the RTP<->PTP correlation point. Idempotent: a
// second call with the same sampleRate while an epoch is already set is a
// no-op, matching spec.md §3's "set once per capture session" lifecycle.
func (c *Clock) SetRTPEpoch(rtpTS uint32, ptpNs uint64, sampleRate uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.e.set && c.e.sampleRate == sampleRate {
		return
	}
	c.e = epoch{
		set:         true,
		rtpTS:       rtpTS,
		ptpNs:       ptpNs,
		sampleRate:  sampleRate,
		lastRTP:     rtpTS,
		wrapAtEpoch: c.e.wraparoundCount,
	}
}

// maxSampleDelta is the largest |sample_delta| the ns conversion will
// attempt to multiply by 1e9 before it would overflow an int64 nanosecond
// duration: INT64_MAX / 1e9, ~53.7 hours' worth of samples at 48 kHz.
const maxSampleDelta = math.MaxInt64 / int64(time.Second)

// RTPToNs converts an RTP timestamp into absolute nanoseconds on this
// clock, per the eight-step algorithm of spec.md §4.3. Returns an error
// wrapping audynerr.ErrConfigInvalid on a sample-rate mismatch with the
// established epoch, or audynerr.ErrTimingAnomaly when the delta overflows
// and the epoch had to be reset.
func (c *Clock) RTPToNs(rtpTS uint32, sampleRate uint32) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.e.set {
		// No reference point yet: seed one from this packet and the
		// current clock, and report the current time.
		now := c.nowLocked()
		c.e = epoch{set: true, rtpTS: rtpTS, ptpNs: now, sampleRate: sampleRate, lastRTP: rtpTS}
		return now, nil
	}
	// Invariant from here on: c.e.set is true and wrapAtEpoch reflects the
	// wraparoundCount value captured when this epoch was (re)established.

	if sampleRate != c.e.sampleRate {
		return 0, fmt.Errorf("ptpclock: sample rate %d does not match epoch sample rate %d: %w",
			sampleRate, c.e.sampleRate, audynerr.ErrConfigInvalid)
	}

	// Step 2: detect 32-bit wraparound.
	if rtpTS < c.e.lastRTP && c.e.lastRTP-rtpTS > (1<<31) {
		c.e.wraparoundCount++
	}
	c.e.lastRTP = rtpTS

	// Step 4: extend both timestamps to 64 bits. The current sample uses
	// the cumulative wrap count observed so far; the epoch uses whatever
	// that count was the instant the epoch was captured, so the two
	// extended values live in the same 64-bit numbering.
	extended := extendRTP(rtpTS, c.e.wraparoundCount)
	extendedEpoch := extendRTP(c.e.rtpTS, c.e.wrapAtEpoch)

	// Step 5: signed sample delta.
	sampleDelta := int64(extended) - int64(extendedEpoch)

	// Step 6: reset epoch on overflow rather than risk garbage timestamps.
	if sampleDelta > maxSampleDelta || sampleDelta < -maxSampleDelta {
		now := c.nowLocked()
		c.e = epoch{
			set: true, rtpTS: rtpTS, ptpNs: now, sampleRate: sampleRate, lastRTP: rtpTS,
			wraparoundCount: c.e.wraparoundCount, wrapAtEpoch: c.e.wraparoundCount,
		}
		return now, fmt.Errorf("ptpclock: rtp sample delta exceeds safe range, epoch reset: %w", audynerr.ErrTimingAnomaly)
	}

	// Step 7-8.
	nsDelta := sampleDelta * int64(time.Second) / int64(sampleRate)
	abs := int64(c.e.ptpNs) + nsDelta
	if abs < 0 {
		return 0, fmt.Errorf("ptpclock: computed negative absolute time: %w", audynerr.ErrTimingAnomaly)
	}
	return uint64(abs), nil
}

func (c *Clock) nowLocked() uint64 {
	t, err := c.src.now()
	if err != nil {
		return 0
	}
	return uint64(t.UnixNano())
}

// extendRTP extends a 32-bit RTP timestamp to 64 bits given how many times
// it has wrapped since capture began.
func extendRTP(rtpTS uint32, wraps uint64) uint64 {
	return wraps<<32 | uint64(rtpTS)
}

// WraparoundCount reports how many times the 32-bit RTP timestamp has
// wrapped since the epoch was first established, for metrics export.
func (c *Clock) WraparoundCount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.e.wraparoundCount
}

// Healthy reports whether the clock's underlying time source looks usable.
// ModeNone is always healthy. ModeSoftware/ModeHardware require a
// successful read that is also after a sane lower bound, indicating the
// clock has actually been set at least once.
func (c *Clock) Healthy() bool {
	if c.mode == ModeNone {
		return true
	}
	t, err := c.src.now()
	if err != nil {
		return false
	}
	return t.After(sanityLowerBound)
}

// sanityLowerBound is the "reasonable wall-clock lower bound" of spec.md
// §4.3's health predicate: Jan 1 2020 UTC.
var sanityLowerBound = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)
