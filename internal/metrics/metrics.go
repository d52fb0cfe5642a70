// Package metrics exposes the receiver's and worker's counters as
// Prometheus gauges/counters over a small echo HTTP server, independent
// of the (out-of-scope) control-plane API.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the counters spec.md §4.4/§4.8 track, exported with the
// "audyn_" namespace.
type Registry struct {
	PacketsRx              prometheus.Counter
	PacketsDropped         prometheus.Counter
	Discontinuities        prometheus.Counter
	FramesPushed           prometheus.Counter
	FramesDroppedPoolEmpty prometheus.Counter
	FramesDroppedQueueFull prometheus.Counter
	Rotations              prometheus.Counter
	FifoOverflows          prometheus.Counter
	WraparoundCount        prometheus.Counter
	WorkerState            *prometheus.GaugeVec

	reg *prometheus.Registry

	// last holds the most recently synced cumulative values, so Sync can
	// translate the snapshot counters it's given (which only ever grow)
	// into the Add() deltas a prometheus.Counter requires.
	last struct {
		packetsRx, packetsDropped, discontinuities                      uint64
		framesPushed, framesDroppedPoolEmpty, framesDroppedQueueFull     uint64
		rotations, fifoOverflows, wraparoundCount                       uint64
	}
}

// NewRegistry constructs and registers the metric set.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		PacketsRx: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audyn_packets_received_total", Help: "RTP datagrams received.",
		}),
		PacketsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audyn_packets_dropped_total", Help: "RTP datagrams dropped at parse or format-classification time.",
		}),
		Discontinuities: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audyn_sequence_discontinuities_total", Help: "RTP sequence number gaps observed.",
		}),
		FramesPushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audyn_frames_pushed_total", Help: "Frames pushed onto the worker queue.",
		}),
		FramesDroppedPoolEmpty: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audyn_frames_dropped_pool_empty_total", Help: "Packets dropped because the frame pool was exhausted.",
		}),
		FramesDroppedQueueFull: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audyn_frames_dropped_queue_full_total", Help: "Frames dropped because the worker queue was full.",
		}),
		Rotations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audyn_archive_rotations_total", Help: "Archive file rotations completed.",
		}),
		FifoOverflows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audyn_opus_fifo_overflows_total", Help: "Opus writer reframing FIFO overflows.",
		}),
		WraparoundCount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audyn_rtp_wraparound_total", Help: "32-bit RTP timestamp wraparounds observed by the PTP clock.",
		}),
		WorkerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "audyn_worker_state", Help: "1 for the worker's current lifecycle state, 0 otherwise.",
		}, []string{"state"}),
		reg: reg,
	}

	reg.MustRegister(
		r.PacketsRx, r.PacketsDropped, r.Discontinuities,
		r.FramesPushed, r.FramesDroppedPoolEmpty, r.FramesDroppedQueueFull,
		r.Rotations, r.FifoOverflows, r.WraparoundCount, r.WorkerState,
	)
	return r
}

// Snapshot is the set of cumulative counters Sync reconciles against the
// registry; it mirrors rtp.Snapshot (from rtp.Counters.Load) plus the counters that live
// outside the receiver (opus FIFO overflows, rotations, RTP wraparounds).
type Snapshot struct {
	PacketsRx              uint64
	PacketsDropped         uint64
	Discontinuities        uint64
	FramesPushed           uint64
	FramesDroppedPoolEmpty uint64
	FramesDroppedQueueFull uint64
	Rotations              uint64
	FifoOverflows          uint64
	WraparoundCount        uint64
}

// addDelta advances a monotonic prometheus.Counter from last to cur,
// tolerating cur < last (e.g. a counter that was reset) by treating it as
// no movement rather than panicking on a negative Add.
func addDelta(c prometheus.Counter, last *uint64, cur uint64) {
	if cur > *last {
		c.Add(float64(cur - *last))
	}
	*last = cur
}

// Sync reconciles the registry's counters against the latest cumulative
// snapshot from the receiver, worker, and PTP clock. Safe to call
// repeatedly (e.g. from a periodic goroutine); each call only adds the
// delta since the previous call.
func (r *Registry) Sync(snap Snapshot, state string) {
	addDelta(r.PacketsRx, &r.last.packetsRx, snap.PacketsRx)
	addDelta(r.PacketsDropped, &r.last.packetsDropped, snap.PacketsDropped)
	addDelta(r.Discontinuities, &r.last.discontinuities, snap.Discontinuities)
	addDelta(r.FramesPushed, &r.last.framesPushed, snap.FramesPushed)
	addDelta(r.FramesDroppedPoolEmpty, &r.last.framesDroppedPoolEmpty, snap.FramesDroppedPoolEmpty)
	addDelta(r.FramesDroppedQueueFull, &r.last.framesDroppedQueueFull, snap.FramesDroppedQueueFull)
	addDelta(r.Rotations, &r.last.rotations, snap.Rotations)
	addDelta(r.FifoOverflows, &r.last.fifoOverflows, snap.FifoOverflows)
	addDelta(r.WraparoundCount, &r.last.wraparoundCount, snap.WraparoundCount)

	for _, s := range []string{"opening", "writing", "rotating", "draining", "stopped"} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		r.WorkerState.WithLabelValues(s).Set(v)
	}
}

// Server serves /metrics and /healthz on addr.
type Server struct {
	echo *echo.Echo
	addr string
}

// NewServer builds the echo app. healthy is polled on every /healthz
// request rather than cached, so it reflects the worker's live state.
func NewServer(addr string, reg *Registry, healthy func() bool) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg.reg, promhttp.HandlerOpts{})))
	e.GET("/healthz", func(c echo.Context) error {
		if healthy == nil || healthy() {
			return c.String(http.StatusOK, "ok")
		}
		return c.String(http.StatusServiceUnavailable, "unhealthy")
	})

	return &Server{echo: e, addr: addr}
}

// Start runs the HTTP server in the background; call Shutdown to stop it.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(s.addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	shutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.echo.Shutdown(shutCtx)
}
