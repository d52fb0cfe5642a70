package ptpclock

import (
	"time"

	"golang.org/x/sys/unix"
)

// osSource reads CLOCK_MONOTONIC (ModeNone) or CLOCK_REALTIME (ModeSoftware,
// assumed disciplined by an external PTP daemon) via clock_gettime.
// Hardware-clock reading lives in clock_linux.go, which opens a PHC device
// and derives its dynamic clock id.
type osSource struct {
	mode Mode
}

func (s osSource) now() (time.Time, error) {
	id := unix.CLOCK_MONOTONIC
	if s.mode == ModeSoftware {
		id = unix.CLOCK_REALTIME
	}
	var ts unix.Timespec
	if err := unix.ClockGettime(id, &ts); err != nil {
		return time.Time{}, err
	}
	return time.Unix(ts.Sec, int64(ts.Nsec)), nil
}
