//go:build linux

package rtp

import (
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// Linux kernel timestamping flags (linux/net_tstamp.h), mirrored here the
// way ethtool_linux.go mirrors ethtool_ts_info: these aren't always
// exposed as named constants in x/sys/unix.
const (
	sofTimestampingRxHardware = 1 << 2
	sofTimestampingRxSoftware = 1 << 3
	sofTimestampingSoftware   = 1 << 4
	sofTimestampingRawHardware = 1 << 6
)

// enableTimestamping requests hardware or software receive timestamping
// on conn per spec.md §4.4 step 2. A kernel refusal is not fatal: the
// receiver falls back to reading the PTP clock at processing time.
func enableTimestamping(conn *net.UDPConn, hardware bool) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}

	flags := sofTimestampingRxSoftware | sofTimestampingSoftware
	if hardware {
		flags = sofTimestampingRxHardware | sofTimestampingRawHardware
	}

	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_TIMESTAMPING, flags)
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	return sockErr
}

// extractTimestamp parses a SCM_TIMESTAMPING control message out of oob,
// returning the hardware timestamp if present, else the software one.
// Returns false when oob carries no usable timestamp, in which case the
// caller falls back to the PTP clock's own now().
func extractTimestamp(oob []byte) (time.Time, bool) {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return time.Time{}, false
	}
	for _, m := range msgs {
		if m.Header.Level != unix.SOL_SOCKET || m.Header.Type != unix.SO_TIMESTAMPING {
			continue
		}
		// struct scm_timestamping has three timespecs: software, deprecated
		// legacy hw-transformed, and raw hardware. Each is 16 bytes on
		// 64-bit Linux (two int64 fields).
		if len(m.Data) < 16*3 {
			continue
		}
		if ts, ok := nonZeroTimespec(m.Data[32:48]); ok { // raw hardware
			return ts, true
		}
		if ts, ok := nonZeroTimespec(m.Data[0:16]); ok { // software
			return ts, true
		}
	}
	return time.Time{}, false
}

func nonZeroTimespec(b []byte) (time.Time, bool) {
	sec := int64(le64(b[0:8]))
	nsec := int64(le64(b[8:16]))
	if sec == 0 && nsec == 0 {
		return time.Time{}, false
	}
	return time.Unix(sec, nsec), true
}

func le64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
