//go:build linux

package ptpclock

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// NewHardware opens the PTP Hardware Clock character device at devicePath
// (e.g. "/dev/ptp0") and returns a Clock that reads it via clock_gettime
// against the device's dynamic clock id — the standard Linux technique
// (documented in linuxptp/testptp.c and the kernel's
// Documentation/driver-api/ptp.rst) of deriving a clockid_t from an open fd:
// CLOCKFD_TO_CLOCKID(fd) = ((~fd) << 3) | 3.
func NewHardware(devicePath string) (*Clock, error) {
	f, err := os.OpenFile(devicePath, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("ptpclock: open %s: %w", devicePath, err)
	}
	src := &phcSource{f: f, clockID: fdToClockID(int(f.Fd()))}
	return newWithSource(ModeHardware, src), nil
}

// fdToClockID implements the kernel's FD_TO_CLOCKID macro.
func fdToClockID(fd int) int32 {
	return int32((^fd)<<3 | 3)
}

// phcSource reads a PHC device's time via clock_gettime(clockID, ...).
type phcSource struct {
	f       *os.File
	clockID int32
}

func (s *phcSource) now() (time.Time, error) {
	var ts unix.Timespec
	if err := unix.ClockGettime(int(s.clockID), &ts); err != nil {
		return time.Time{}, fmt.Errorf("ptpclock: phc read: %w", err)
	}
	return time.Unix(ts.Sec, int64(ts.Nsec)), nil
}

func (s *phcSource) close() error {
	return s.f.Close()
}

// NewHardwareFromInterface resolves the PTP Hardware Clock associated with
// a network interface (the same lookup `ethtool -T <iface>` performs) and
// opens it the same way NewHardware does.
func NewHardwareFromInterface(ifaceName string) (*Clock, error) {
	idx, err := interfacePHCIndex(ifaceName)
	if err != nil {
		return nil, err
	}
	if idx < 0 {
		return nil, fmt.Errorf("ptpclock: interface %s has no PTP hardware clock", ifaceName)
	}
	return NewHardware(fmt.Sprintf("/dev/ptp%d", idx))
}

// interfacePHCIndex discovers the PHC index (e.g. 0 for /dev/ptp0)
// associated with a network interface by issuing an ETHTOOL_GET_TS_INFO
// ioctl (SIOCETHTOOL), the same mechanism `ethtool -T <iface>` uses. Returns
// -1 if the driver reports no PHC.
func interfacePHCIndex(ifaceName string) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return -1, fmt.Errorf("ptpclock: socket: %w", err)
	}
	defer unix.Close(fd)

	var ifr ifreqEthtoolTSInfo
	copy(ifr.name[:], ifaceName)
	ifr.data.cmd = ethtoolGetTSInfo

	if err := ioctlEthtool(fd, &ifr); err != nil {
		return -1, fmt.Errorf("ptpclock: ETHTOOL_GET_TS_INFO on %s: %w", ifaceName, err)
	}
	return int(ifr.data.phcIndex), nil
}
