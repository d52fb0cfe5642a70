// Package rtp implements the AES67 RTP/PCM receiver of spec.md §4.4: it
// owns the UDP socket, parses RTP headers, infers the PCM encoding,
// converts samples into pooled frames, and pushes them onto the frame
// queue for the worker to drain.
package rtp

import (
	"fmt"
	"net"
	"time"

	"github.com/brianwynne/audyn/internal/audynerr"
	"github.com/brianwynne/audyn/internal/frame"
	"github.com/brianwynne/audyn/internal/ptpclock"
	"github.com/brianwynne/audyn/internal/queue"
)

// Receiver owns the UDP socket and runs the packet loop. Counters are
// safe to read from any goroutine while Run is executing.
type Receiver struct {
	cfg      Config
	clock    *ptpclock.Clock
	pool     *frame.Pool
	queue    *queue.Queue
	Counters Counters

	conn *net.UDPConn
	seq  sequenceTracker

	readBuf [2048]byte
	oobBuf  [256]byte
}

// New validates cfg and constructs a Receiver. Open must be called before
// Run.
func New(cfg Config, clock *ptpclock.Clock, pool *frame.Pool, q *queue.Queue) (*Receiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Receiver{cfg: cfg, clock: clock, pool: pool, queue: q}, nil
}

// Open binds the socket and requests receive timestamping per spec.md
// §4.4 steps 1-3.
func (r *Receiver) Open() error {
	conn, err := openSocket(&r.cfg)
	if err != nil {
		return err
	}
	r.conn = conn

	if r.clock != nil {
		hardware := r.clock.Mode() == ptpclock.ModeHardware
		if r.clock.Mode() != ptpclock.ModeNone {
			_ = enableTimestamping(conn, hardware) // kernel refusal degrades silently, per spec
		}
	}
	return nil
}

// Close releases the socket.
func (r *Receiver) Close() error {
	if r.conn == nil {
		return nil
	}
	if err := r.conn.Close(); err != nil {
		return fmt.Errorf("rtp: close socket: %w", audynerr.ErrNetworkFailure)
	}
	return nil
}

// Run executes the packet loop until stop is closed. Each iteration
// applies a short read deadline so the loop observes shutdown promptly,
// per spec.md §4.4's cooperative-stop requirement.
func (r *Receiver) Run(stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		if err := r.conn.SetReadDeadline(time.Now().Add(recvTimeout)); err != nil {
			return fmt.Errorf("rtp: set read deadline: %w", audynerr.ErrNetworkFailure)
		}

		n, oobN, _, _, err := r.conn.ReadMsgUDP(r.readBuf[:], r.oobBuf[:])
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-stop:
				return nil
			default:
			}
			return fmt.Errorf("rtp: read datagram: %w", audynerr.ErrNetworkFailure)
		}

		arrival := r.arrivalTime(r.oobBuf[:oobN])
		r.handlePacket(r.readBuf[:n], arrival)
	}
}

// arrivalTime resolves the packet arrival timestamp: hardware preferred,
// software next, the PTP clock's own now() as the last resort.
func (r *Receiver) arrivalTime(oob []byte) uint64 {
	if ts, ok := extractTimestamp(oob); ok {
		return uint64(ts.UnixNano())
	}
	if r.clock != nil {
		return r.clock.NowNs()
	}
	return uint64(time.Now().UnixNano())
}

func (r *Receiver) handlePacket(data []byte, arrivalNs uint64) {
	r.Counters.PacketsRx.Add(1)

	pkt, ok := parsePacket(data, r.cfg.PayloadType)
	if !ok {
		r.Counters.PacketsDropped.Add(1)
		return
	}

	if r.clock != nil && arrivalNs != 0 {
		r.clock.SetRTPEpoch(pkt.timestamp, arrivalNs, uint32(r.cfg.SampleRate))
	}

	if !r.seq.observe(pkt.sequence) {
		r.Counters.Discontinuities.Add(1)
	}

	streamChannels := r.cfg.EffectiveStreamChannels()
	f := classifyFormat(len(pkt.payload), streamChannels, r.cfg.SamplesPerPacket)
	if f == formatUnknown {
		r.Counters.PacketsDropped.Add(1)
		return
	}

	h := r.pool.Acquire()
	if h == frame.NoHandle {
		r.Counters.FramesDroppedPoolEmpty.Add(1)
		return
	}
	fr := r.pool.Frame(h)

	if err := fillFrame(fr, pkt.payload, f, &r.cfg); err != nil {
		r.pool.Release(h)
		r.Counters.PacketsDropped.Add(1)
		return
	}

	if !r.queue.Push(h) {
		r.pool.Release(h)
		r.Counters.FramesDroppedQueueFull.Add(1)
		return
	}
	r.Counters.FramesPushed.Add(1)
}
