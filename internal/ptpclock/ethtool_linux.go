//go:build linux

package ptpclock

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// ethtoolGetTSInfo is ETHTOOL_GET_TS_INFO from <linux/ethtool.h>.
const ethtoolGetTSInfo = 0x00000041

// siocEthtool is SIOCETHTOOL from <linux/sockios.h>.
const siocEthtool = 0x8946

// ethtoolTSInfo mirrors struct ethtool_ts_info, field-for-field, the same
// raw-struct-overlay technique used elsewhere in the pack for kernel ABI
// structs (see other_examples' Linux tcp_info overlay).
type ethtoolTSInfo struct {
	cmd            uint32
	soTimestamping uint32
	phcIndex       int32
	txTypes        uint32
	txReserved     [3]uint32
	rxFilters      uint32
	rxReserved     [3]uint32
}

// ifreqEthtoolTSInfo pairs a 16-byte interface name with the ethtool
// command struct held inline; ioctlEthtool builds the kernel-shaped ifreq
// (name followed by a pointer to the command struct) from it.
type ifreqEthtoolTSInfo struct {
	name [unix.IFNAMSIZ]byte
	data ethtoolTSInfo
}

// ioctlEthtool performs the SIOCETHTOOL ioctl with ifr.data.cmd already
// populated (e.g. ethtoolGetTSInfo); the kernel fills in the rest of
// ifr.data in place.
func ioctlEthtool(fd int, ifr *ifreqEthtoolTSInfo) error {
	// struct ifreq's second member is a union whose ethtool arm is a
	// pointer to the command struct, not the struct embedded inline — so
	// we build the real kernel-shaped ifreq here and point it at ifr.data.
	type kernelIfreq struct {
		name [unix.IFNAMSIZ]byte
		data unsafe.Pointer
	}
	kifr := kernelIfreq{data: unsafe.Pointer(&ifr.data)}
	copy(kifr.name[:], ifr.name[:])

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(siocEthtool), uintptr(unsafe.Pointer(&kifr)))
	if errno != 0 {
		return errno
	}
	return nil
}
