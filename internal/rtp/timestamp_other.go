//go:build !linux

package rtp

import (
	"net"
	"time"
)

// enableTimestamping is a no-op outside Linux; the receiver falls back to
// reading the PTP clock at processing time, per spec.md §4.4 step 2.
func enableTimestamping(conn *net.UDPConn, hardware bool) error {
	return nil
}

func extractTimestamp(oob []byte) (time.Time, bool) {
	return time.Time{}, false
}
