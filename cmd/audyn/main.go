// Command audyn is a professional AES67 audio capture and archival
// engine: it ingests RTP/PCM, timestamps arrivals against a PTP clock,
// and writes rotating WAV or Ogg/Opus archive files.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/brianwynne/audyn/internal/archive"
	"github.com/brianwynne/audyn/internal/config"
	"github.com/brianwynne/audyn/internal/frame"
	"github.com/brianwynne/audyn/internal/ledger"
	"github.com/brianwynne/audyn/internal/logging"
	"github.com/brianwynne/audyn/internal/metrics"
	"github.com/brianwynne/audyn/internal/opuswriter"
	"github.com/brianwynne/audyn/internal/ptpclock"
	"github.com/brianwynne/audyn/internal/queue"
	"github.com/brianwynne/audyn/internal/rtp"
	"github.com/brianwynne/audyn/internal/sink"
	"github.com/brianwynne/audyn/internal/wavwriter"
	"github.com/brianwynne/audyn/internal/worker"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "status" {
		os.Exit(runStatus(os.Args[2:]))
	}
	os.Exit(run(os.Args[1:]))
}

// runStatus implements "audyn status --db <path>": a read-only report of
// the most recent rotations recorded in the ledger, for operators checking
// on a running or previously run capture without touching its process.
func runStatus(args []string) int {
	fs := pflag.NewFlagSet("audyn status", pflag.ContinueOnError)
	dbPath := fs.String("db", "", "path to the rotation ledger database")
	limit := fs.Int("limit", 20, "number of most recent rotations to show")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "audyn status: --db is required")
		return 2
	}

	led, err := ledger.Open(*dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer led.Close()

	entries, err := led.Recent(context.Background(), *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	for _, e := range entries {
		status := "open"
		if e.ClosedAtUnix != 0 {
			status = "closed"
		}
		fmt.Printf("%d\t%s\t%s\topened=%s\tclosed_at=%d\tbytes=%d\tframes=%d\n",
			e.ID, e.Path, status,
			time.Unix(e.OpenedAtUnix, 0).Format(time.RFC3339),
			e.ClosedAtUnix, e.BytesWritten, e.FramesWritten)
	}
	return 0
}

func run(args []string) int {
	cfg, err := config.Parse(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	logger := logging.New(logging.Options{Verbose: cfg.Verbose, Quiet: cfg.Quiet, Syslog: cfg.Syslog})

	clock, err := buildClock(cfg)
	if err != nil {
		logger.Error("construct PTP clock", "err", err)
		return 1
	}

	pool := frame.New(cfg.PoolFrames, cfg.Channels, cfg.FrameSamples)
	q := queue.New(cfg.QueueCapacity)

	policy, err := buildPolicy(cfg)
	if err != nil {
		logger.Error("construct archive policy", "err", err)
		return 1
	}

	var led *ledger.Ledger
	if cfg.LedgerPath != "" {
		led, err = ledger.Open(cfg.LedgerPath)
		if err != nil {
			logger.Error("open rotation ledger", "err", err)
			return 1
		}
		defer led.Close()
	}

	reg := metrics.NewRegistry()
	var fifoOverflows atomic.Uint64
	var metricsSrv *metrics.Server
	var wk *worker.Worker

	opener := sinkOpener(cfg.ArchiveSuffix, led, &fifoOverflows, logger)
	// Only the ptp archive clock reads the PTP clock; localtime and utc are
	// wall-clock times rendered in their zones.
	archiveNow := func() uint64 { return uint64(time.Now().UnixNano()) }
	if cfg.ArchiveClock == archive.ClockPTPTAI {
		archiveNow = func() uint64 { return clock.NowNs() }
	}
	wk = worker.New(pool, q, policy, opener, archiveNow,
		cfg.SampleRate, cfg.Channels, cfg.FrameSamples, logger)

	if cfg.MetricsAddr != "" {
		metricsSrv = metrics.NewServer(cfg.MetricsAddr, reg, func() bool {
			return wk.State() != worker.StateStopped
		})
		metricsSrv.Start()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(ctx)
		}()
	}

	receiver, err := rtp.New(rtp.Config{
		SourceIP:         cfg.SourceIP,
		Port:             cfg.Port,
		PayloadType:      cfg.PayloadType,
		SampleRate:       cfg.SampleRate,
		Channels:         cfg.Channels,
		SamplesPerPacket: cfg.SamplesPerPacket,
		StreamChannels:   cfg.StreamChannels,
		ChannelOffset:    cfg.ChannelOffset,
		SocketRcvBuf:     cfg.RcvBuf,
	}, clock, pool, q)
	if err != nil {
		logger.Error("construct RTP receiver", "err", err)
		return 1
	}
	if err := receiver.Open(); err != nil {
		logger.Error("open RTP socket", "err", err)
		return 1
	}
	defer receiver.Close()

	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, os.Interrupt, syscall.SIGTERM)

	receiverStop := make(chan struct{})
	workerStop := make(chan struct{})

	receiverDone := make(chan error, 1)
	go func() { receiverDone <- receiver.Run(receiverStop) }()

	workerDone := make(chan struct{})
	go func() { wk.Run(workerStop); close(workerDone) }()

	metricsStop := make(chan struct{})
	if cfg.MetricsAddr != "" {
		go syncMetrics(reg, &receiver.Counters, policy, clock, wk, &fifoOverflows, metricsStop)
	}
	defer close(metricsStop)

	select {
	case <-stopSignal:
		logger.Info("shutdown requested")
		close(receiverStop)
		<-receiverDone
	case err := <-receiverDone:
		if err != nil {
			logger.Error("receiver stopped unexpectedly", "err", err)
		}
	}

	close(workerStop)
	<-workerDone

	logCounters(logger, &receiver.Counters)

	if err := wk.LastError(); err != nil {
		logger.Error("worker exited with error", "err", err)
		return 1
	}
	return 0
}

func buildClock(cfg *config.Config) (*ptpclock.Clock, error) {
	switch cfg.PTPMode() {
	case ptpclock.ModeHardware:
		if cfg.PTPDevice != "" {
			return ptpclock.NewHardware(cfg.PTPDevice)
		}
		return ptpclock.NewHardwareFromInterface(cfg.PTPInterface)
	case ptpclock.ModeSoftware:
		return ptpclock.New(ptpclock.ModeSoftware), nil
	default:
		return ptpclock.New(ptpclock.ModeNone), nil
	}
}

// singleFileLayout turns an exact output path into a strftime pattern
// with no time fields, so the archive policy always resolves to the
// same path and never rotates (PeriodSec 0 on top of that).
func singleFileLayout(path string) (root, pattern string) {
	return filepath.Dir(path), filepath.Base(path)
}

func buildPolicy(cfg *config.Config) (*archive.Policy, error) {
	if cfg.SingleFile != "" {
		root, pattern := singleFileLayout(cfg.SingleFile)
		return archive.New(archive.Config{
			Root:         root,
			Suffix:       cfg.ArchiveSuffix,
			Layout:       archive.LayoutCustom,
			CustomFormat: pattern,
			PeriodSec:    0,
			CreateDirs:   true,
		})
	}
	return archive.New(archive.Config{
		Root:         cfg.ArchiveRoot,
		Suffix:       cfg.ArchiveSuffix,
		Layout:       cfg.ArchiveLayout,
		CustomFormat: cfg.ArchiveFormat,
		PeriodSec:    cfg.ArchivePeriod,
		ClockSource:  cfg.ArchiveClock,
		CreateDirs:   true,
	})
}

// sinkOpener builds a worker.SinkOpener that opens the configured writer
// format, records its lifetime in the ledger when one is configured, and
// folds its closing FIFO-overflow count into fifoOverflows for metrics.
func sinkOpener(suffix string, led *ledger.Ledger, fifoOverflows *atomic.Uint64, logger *log.Logger) worker.SinkOpener {
	return func(path string, sampleRate, channels int) (sink.Sink, error) {
		var s sink.Sink
		var err error
		switch suffix {
		case "opus":
			s, err = opuswriter.Open(path, sampleRate, channels)
		default:
			s, err = wavwriter.Open(path, sampleRate, channels, false)
		}
		if err != nil {
			return nil, err
		}

		ts := &trackingSink{Sink: s, fifoOverflows: fifoOverflows, logger: logger}
		if led != nil {
			id, ledErr := led.RecordOpen(context.Background(), path, time.Now())
			if ledErr != nil {
				logger.Error("record ledger rotation open", "err", ledErr)
			} else {
				ts.led, ts.id = led, id
			}
		}
		return ts, nil
	}
}

// trackingSink decorates a sink.Sink so its Close also records the
// rotation's closing statistics in the ledger (when configured) and
// accumulates the sink's lifetime FIFO overflows into the shared process
// counter the metrics sync loop reads.
type trackingSink struct {
	sink.Sink
	led           *ledger.Ledger
	id            int64
	fifoOverflows *atomic.Uint64
	logger        *log.Logger
}

func (s *trackingSink) Close() error {
	err := s.Sink.Close()
	stats := s.Sink.Stats()
	if s.fifoOverflows != nil && stats.FifoOverflows > 0 {
		s.fifoOverflows.Add(stats.FifoOverflows)
	}
	if s.led != nil {
		if ledErr := s.led.RecordClose(context.Background(), s.id, time.Now(), stats.BytesWritten, stats.FramesWritten); ledErr != nil {
			s.logger.Error("record ledger rotation close", "err", ledErr)
		}
	}
	return err
}

// syncMetrics periodically reconciles the Prometheus registry against the
// live receiver counters, archive rotation count, PTP wraparound count, the
// cumulative opus FIFO overflow total, and the worker's current state,
// until stop is closed. The underlying counters (rtp.Counters,
// archive.Policy.Rotations, ptpclock.Clock.WraparoundCount) are updated at
// their own source; this loop is the only thing that ever reads them into
// the otherwise-inert Registry built in NewRegistry.
func syncMetrics(reg *metrics.Registry, rtpCounters *rtp.Counters, policy *archive.Policy, clock *ptpclock.Clock, wk *worker.Worker, fifoOverflows *atomic.Uint64, stop <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			snap := rtpCounters.Load()
			reg.Sync(metrics.Snapshot{
				PacketsRx:              snap.PacketsRx,
				PacketsDropped:         snap.PacketsDropped,
				Discontinuities:        snap.Discontinuities,
				FramesPushed:           snap.FramesPushed,
				FramesDroppedPoolEmpty: snap.FramesDroppedPoolEmpty,
				FramesDroppedQueueFull: snap.FramesDroppedQueueFull,
				Rotations:              policy.Rotations(),
				FifoOverflows:          fifoOverflows.Load(),
				WraparoundCount:        clock.WraparoundCount(),
			}, wk.State().String())
		}
	}
}

func logCounters(logger *log.Logger, c *rtp.Counters) {
	snap := c.Load()
	logger.Info("receiver counters",
		"packets_rx", snap.PacketsRx,
		"packets_dropped", snap.PacketsDropped,
		"discontinuities", snap.Discontinuities,
		"frames_pushed", snap.FramesPushed,
		"frames_dropped_pool_empty", snap.FramesDroppedPoolEmpty,
		"frames_dropped_queue_full", snap.FramesDroppedQueueFull,
	)
}
