package rtp

import (
	"context"
	"fmt"
	"net"
	"syscall"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"github.com/brianwynne/audyn/internal/audynerr"
)

const recvTimeout = 100 * time.Millisecond

// openSocket binds a UDP socket for the receiver per spec.md §4.4 steps
// 1 and 3: SO_REUSEADDR, the configured receive buffer, INADDR_ANY:port,
// and an IP_ADD_MEMBERSHIP join when source_ip is multicast.
func openSocket(cfg *Config) (*net.UDPConn, error) {
	var ctrlErr error
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			err := c.Control(func(fd uintptr) {
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
					ctrlErr = fmt.Errorf("set SO_REUSEADDR: %w", err)
				}
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}

	conn, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("rtp: listen on port %d: %w", cfg.Port, audynerr.ErrNetworkFailure)
	}
	udpConn := conn.(*net.UDPConn)

	if cfg.SocketRcvBuf > 0 {
		if err := udpConn.SetReadBuffer(cfg.SocketRcvBuf); err != nil {
			udpConn.Close()
			return nil, fmt.Errorf("rtp: set receive buffer to %d: %w", cfg.SocketRcvBuf, audynerr.ErrNetworkFailure)
		}
	}

	if cfg.IsMulticast() {
		groupAddr := &net.UDPAddr{IP: net.ParseIP(cfg.SourceIP)}
		iface, err := resolveBindInterface(cfg.BindInterface)
		if err != nil {
			udpConn.Close()
			return nil, err
		}
		p := ipv4.NewPacketConn(udpConn)
		if err := p.JoinGroup(iface, groupAddr); err != nil {
			udpConn.Close()
			return nil, fmt.Errorf("rtp: join multicast group %s: %w", cfg.SourceIP, audynerr.ErrNetworkFailure)
		}
	}

	return udpConn, nil
}

// resolveBindInterface looks up the named interface, or returns nil (the
// kernel then joins on INADDR_ANY's default route interface) when none
// was configured.
func resolveBindInterface(name string) (*net.Interface, error) {
	if name == "" {
		return nil, nil
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("rtp: bind_interface %q: %w", name, audynerr.ErrConfigInvalid)
	}
	return iface, nil
}
