// Package archive implements the rotation policy of spec.md §4.5: deciding
// when a new archive file is due and generating its wall-clock-aligned path.
package archive

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// ClockSource selects the time zone/epoch used to compute period
// boundaries and render paths.
type ClockSource int

const (
	ClockLocaltime ClockSource = iota
	ClockUTC
	ClockPTPTAI
)

// ParseClockSource converts a CLI clock name into a ClockSource.
func ParseClockSource(s string) (ClockSource, error) {
	switch s {
	case "localtime":
		return ClockLocaltime, nil
	case "utc":
		return ClockUTC, nil
	case "ptp", "ptp_tai":
		return ClockPTPTAI, nil
	default:
		return 0, fmt.Errorf("archive: unknown clock source %q", s)
	}
}

// Config is the archive policy's static configuration, set at creation and
// never mutated.
type Config struct {
	Root         string
	Suffix       string // "wav" or "opus"
	Layout       Layout
	CustomFormat string // strftime pattern, required when Layout == LayoutCustom
	PeriodSec    int64  // 0 disables rotation after the initial open
	ClockSource  ClockSource
	CreateDirs   bool
}

// Policy tracks runtime rotation state. ShouldRotate/NextPath/Advance are
// not safe for concurrent use — the worker is their only caller, and
// always from the same goroutine. Rotations is the exception: it's backed
// by an atomic so a metrics-sync goroutine can read it concurrently.
type Policy struct {
	cfg Config

	initialized        bool
	currentPeriodStart uint64 // ns
	nextBoundary       uint64 // ns; math.MaxUint64 means "never" (period_sec == 0)
	rotations          atomic.Uint64
}

// New validates cfg and returns a Policy. Custom layout requires a
// non-empty CustomFormat; period must be within [0, 31536000] seconds per
// spec.md §6.
func New(cfg Config) (*Policy, error) {
	if cfg.Layout == LayoutCustom && cfg.CustomFormat == "" {
		return nil, fmt.Errorf("archive: --archive-format is required when layout=custom")
	}
	if cfg.PeriodSec < 0 || cfg.PeriodSec > 31_536_000 {
		return nil, fmt.Errorf("archive: period %d out of range [0, 31536000]", cfg.PeriodSec)
	}
	if cfg.Suffix != "wav" && cfg.Suffix != "opus" {
		return nil, fmt.Errorf("archive: suffix must be wav or opus, got %q", cfg.Suffix)
	}
	return &Policy{cfg: cfg}, nil
}

// ShouldRotate reports whether a new file must be opened: true on the very
// first call, and whenever rotation is enabled and now has reached the
// next boundary.
func (p *Policy) ShouldRotate(nowNs uint64) bool {
	if !p.initialized {
		return true
	}
	if p.cfg.PeriodSec == 0 {
		return false
	}
	return nowNs >= p.nextBoundary
}

// NextPath computes the wall-clock-aligned period start for nowNs and
// renders the archive path for it. Calling NextPath repeatedly without an
// intervening Advance yields the same path (spec.md §8's idempotence
// property), since it is a pure function of nowNs and the static config.
func (p *Policy) NextPath(nowNs uint64) (string, error) {
	t := p.location(nowNs)

	var periodStart time.Time
	if p.cfg.PeriodSec > 0 {
		periodStart = alignToPeriod(t, p.cfg.PeriodSec)
	} else {
		periodStart = t
	}

	renderTime := periodStart
	if p.cfg.Layout == LayoutAccurate {
		renderTime = t // accurate uses the precise call time, not the period start
	}

	path, err := renderPath(p.cfg.Layout, p.cfg.Root, p.cfg.Suffix, p.cfg.CustomFormat, renderTime)
	if err != nil {
		return "", err
	}

	p.currentPeriodStart = uint64(periodStart.UnixNano())

	if p.cfg.CreateDirs {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", fmt.Errorf("archive: create directories for %s: %w", path, err)
		}
	}
	return path, nil
}

// Advance is called by the worker after successfully opening the file
// NextPath returned. It marks the policy initialized, bumps the rotation
// count, and schedules the next boundary.
func (p *Policy) Advance() {
	p.initialized = true
	p.rotations.Add(1)
	if p.cfg.PeriodSec == 0 {
		p.nextBoundary = math.MaxUint64
		return
	}
	p.nextBoundary = p.currentPeriodStart + uint64(p.cfg.PeriodSec)*uint64(time.Second)
}

// Rotations returns the number of Advance calls, i.e. archive files opened
// including the first, for diagnostics and the rotation ledger.
func (p *Policy) Rotations() uint64 { return p.rotations.Load() }

// location converts nowNs to a time.Time in the configured clock's zone.
// ptp_tai formats the PTP clock's nanosecond value through a UTC calendar
// conversion without applying the TAI-UTC leap-second offset — spec.md §9
// flags this as a possibly-intentional defect in the original and directs
// a reimplementation to pick one behavior and document it; Audyn documents
// TAI seconds-of-day rather than applying the (variable, table-driven)
// offset, so ptp_tai filenames are TAI calendar dates, not UTC ones.
func (p *Policy) location(nowNs uint64) time.Time {
	t := time.Unix(0, int64(nowNs))
	switch p.cfg.ClockSource {
	case ClockUTC, ClockPTPTAI:
		return t.UTC()
	default:
		return t.Local()
	}
}

// alignToPeriod rounds t down to the start of its periodSec-second period
// within the calendar day, per spec.md §4.5: period_index =
// seconds_since_midnight / period_sec; period start is period_index *
// period_sec seconds past midnight in the same zone as t.
func alignToPeriod(t time.Time, periodSec int64) time.Time {
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	secondsSinceMidnight := int64(t.Sub(midnight).Seconds())
	periodIndex := secondsSinceMidnight / periodSec
	return midnight.Add(time.Duration(periodIndex*periodSec) * time.Second)
}
