// Package config parses the command-line surface of spec.md §6 with
// spf13/pflag, the way the teacher stack's CLI tools do, with an optional
// YAML overlay for fields better kept in a file than retyped on a shell
// line.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/brianwynne/audyn/internal/archive"
	"github.com/brianwynne/audyn/internal/audynerr"
	"github.com/brianwynne/audyn/internal/ptpclock"
)

// Config is the fully resolved, validated set of settings the rest of
// the program is built from.
type Config struct {
	// Archive
	ArchiveRoot   string
	ArchiveLayout archive.Layout
	ArchiveFormat string
	ArchiveSuffix string
	ArchivePeriod int64
	ArchiveClock  archive.ClockSource
	SingleFile    string // -o: mutually exclusive with ArchiveRoot

	// AES67 source
	SourceIP         string
	Port             int
	PayloadType      uint8
	SamplesPerPacket int
	StreamChannels   int
	ChannelOffset    int
	RcvBuf           int
	SampleRate       int
	Channels         int

	// PTP
	PTPDevice    string
	PTPInterface string
	PTPSoftware  bool

	// Opus
	Bitrate    int
	VBR        bool
	Complexity int

	// Sizing
	QueueCapacity int
	PoolFrames    int
	FrameSamples  int

	// Ambient
	Verbose      bool
	Quiet        bool
	Syslog       bool
	MetricsAddr  string
	LedgerPath   string
	ConfigFile   string
}

// yamlOverlay mirrors the subset of Config fields worth setting from a
// file; zero values are left for the CLI flag (or its default) to win.
type yamlOverlay struct {
	ArchiveRoot   string `yaml:"archive_root"`
	ArchiveLayout string `yaml:"archive_layout"`
	ArchiveFormat string `yaml:"archive_format"`
	ArchiveSuffix string `yaml:"archive_suffix"`
	ArchivePeriod int64  `yaml:"archive_period"`
	ArchiveClock  string `yaml:"archive_clock"`
	SourceIP      string `yaml:"source_ip"`
	Port          int    `yaml:"port"`
	MetricsAddr   string `yaml:"metrics_addr"`
	LedgerPath    string `yaml:"ledger_path"`
}

// Parse builds a Config from args (excluding argv[0]), applies a YAML
// overlay if --config names a file, validates mutual exclusions, and
// returns the fully resolved Config.
func Parse(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("audyn", pflag.ContinueOnError)

	archiveRoot := fs.String("archive-root", "", "root directory for archives")
	archiveLayout := fs.String("archive-layout", "flat", "flat|hierarchy|combo|dailydir|accurate|custom")
	archiveFormat := fs.String("archive-format", "", "strftime pattern, required when layout=custom")
	archiveSuffix := fs.String("archive-suffix", "wav", "wav|opus")
	archivePeriod := fs.Int64("archive-period", 3600, "rotation period in seconds; 0 disables rotation")
	archiveClock := fs.String("archive-clock", "localtime", "localtime|utc|ptp")
	singleFile := fs.StringP("output", "o", "", "single-file mode (mutually exclusive with --archive-root)")

	sourceIP := fs.StringP("source", "m", "", "AES67 source multicast/unicast IPv4 address")
	port := fs.IntP("port", "p", 5004, "AES67 source UDP port")
	payloadType := fs.Int("pt", 96, "RTP payload type to accept")
	spp := fs.Int("spp", 48, "samples per packet")
	streamChannels := fs.Int("stream-channels", 0, "channels present in the stream (0 = --channels)")
	channelOffset := fs.Int("channel-offset", 0, "first selected channel within the stream")
	rcvbuf := fs.Int("rcvbuf", 0, "socket receive buffer size in bytes")
	sampleRate := fs.IntP("rate", "r", 48000, "sample rate in Hz")
	channels := fs.IntP("channels", "c", 2, "output channel count")

	ptpDevice := fs.String("ptp-device", "", "PTP hardware clock device path, e.g. /dev/ptp0")
	ptpInterface := fs.String("ptp-interface", "", "network interface to resolve a PTP hardware clock from")
	ptpSoftware := fs.Bool("ptp-software", false, "use the kernel's disciplined realtime clock instead of a PHC")

	bitrate := fs.Int("bitrate", 64000, "Opus target bitrate in bits/sec, 6000..510000; range-checked only, the Opus writer does not apply it")
	vbr := fs.Bool("vbr", true, "variable bitrate Opus encoding; recorded only, the Opus writer does not apply it")
	cbr := fs.Bool("cbr", false, "constant bitrate Opus encoding (overrides --vbr); recorded only, the Opus writer does not apply it")
	complexity := fs.Int("complexity", 10, "Opus encoder complexity, 0..10; range-checked only, the Opus writer does not apply it")

	queueCap := fs.IntP("queue-capacity", "Q", 64, "frame queue capacity")
	poolFrames := fs.IntP("pool-frames", "P", 128, "frame pool capacity")
	frameSamples := fs.IntP("frame-samples", "F", 960, "samples per pooled frame")

	verbose := fs.BoolP("verbose", "v", false, "debug-level logging")
	quiet := fs.BoolP("quiet", "q", false, "error-level logging only")
	syslogOut := fs.Bool("syslog", false, "also log to the host syslog daemon")
	metricsAddr := fs.String("metrics-addr", "", "address to serve /metrics and /healthz on; empty disables it")
	ledgerPath := fs.String("ledger", "", "path to the SQLite rotation ledger; empty disables it")
	configFile := fs.String("config", "", "optional YAML file overlaying these flags")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("config: parse flags: %w", audynerr.ErrConfigInvalid)
	}

	cfg := &Config{
		ArchiveRoot:      *archiveRoot,
		ArchiveFormat:    *archiveFormat,
		ArchiveSuffix:    *archiveSuffix,
		ArchivePeriod:    *archivePeriod,
		SingleFile:       *singleFile,
		SourceIP:         *sourceIP,
		Port:             *port,
		PayloadType:      uint8(*payloadType),
		SamplesPerPacket: *spp,
		StreamChannels:   *streamChannels,
		ChannelOffset:    *channelOffset,
		RcvBuf:           *rcvbuf,
		SampleRate:       *sampleRate,
		Channels:         *channels,
		PTPDevice:        *ptpDevice,
		PTPInterface:     *ptpInterface,
		PTPSoftware:      *ptpSoftware,
		Bitrate:          *bitrate,
		VBR:              *vbr && !*cbr,
		Complexity:       *complexity,
		QueueCapacity:    *queueCap,
		PoolFrames:       *poolFrames,
		FrameSamples:     *frameSamples,
		Verbose:          *verbose,
		Quiet:            *quiet,
		Syslog:           *syslogOut,
		MetricsAddr:      *metricsAddr,
		LedgerPath:       *ledgerPath,
		ConfigFile:       *configFile,
	}

	layout, err := archive.ParseLayout(*archiveLayout)
	if err != nil {
		return nil, err
	}
	cfg.ArchiveLayout = layout

	clock, err := archive.ParseClockSource(*archiveClock)
	if err != nil {
		return nil, err
	}
	cfg.ArchiveClock = clock

	if cfg.ConfigFile != "" {
		if err := applyYAMLOverlay(cfg, cfg.ConfigFile, fs); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyYAMLOverlay fills in fields from the YAML file at path, without
// overriding anything the CLI already set to a non-zero value.
func applyYAMLOverlay(cfg *Config, path string, fs *pflag.FlagSet) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, audynerr.ErrConfigInvalid)
	}
	var ov yamlOverlay
	if err := yaml.Unmarshal(data, &ov); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, audynerr.ErrConfigInvalid)
	}

	if cfg.ArchiveRoot == "" && ov.ArchiveRoot != "" {
		cfg.ArchiveRoot = ov.ArchiveRoot
	}
	if ov.ArchiveLayout != "" && !fs.Changed("archive-layout") {
		if layout, err := archive.ParseLayout(ov.ArchiveLayout); err == nil {
			cfg.ArchiveLayout = layout
		}
	}
	if cfg.ArchiveFormat == "" && ov.ArchiveFormat != "" {
		cfg.ArchiveFormat = ov.ArchiveFormat
	}
	if ov.ArchiveSuffix != "" && !fs.Changed("archive-suffix") {
		cfg.ArchiveSuffix = ov.ArchiveSuffix
	}
	if ov.ArchivePeriod != 0 && !fs.Changed("archive-period") {
		cfg.ArchivePeriod = ov.ArchivePeriod
	}
	if ov.ArchiveClock != "" && !fs.Changed("archive-clock") {
		if clock, err := archive.ParseClockSource(ov.ArchiveClock); err == nil {
			cfg.ArchiveClock = clock
		}
	}
	if cfg.SourceIP == "" && ov.SourceIP != "" {
		cfg.SourceIP = ov.SourceIP
	}
	if ov.Port != 0 && !fs.Changed("port") {
		cfg.Port = ov.Port
	}
	if cfg.MetricsAddr == "" && ov.MetricsAddr != "" {
		cfg.MetricsAddr = ov.MetricsAddr
	}
	if cfg.LedgerPath == "" && ov.LedgerPath != "" {
		cfg.LedgerPath = ov.LedgerPath
	}
	return nil
}

// validate enforces spec.md §6's mutual exclusions and the PHC mode
// selection rules.
func (c *Config) validate() error {
	if (c.SingleFile == "") == (c.ArchiveRoot == "") {
		return fmt.Errorf("config: exactly one of -o and --archive-root is required: %w", audynerr.ErrConfigInvalid)
	}

	ptpModes := 0
	if c.PTPDevice != "" {
		ptpModes++
	}
	if c.PTPInterface != "" {
		ptpModes++
	}
	if c.PTPSoftware {
		ptpModes++
	}
	if ptpModes > 1 {
		return fmt.Errorf("config: at most one of --ptp-device, --ptp-interface, --ptp-software may be set: %w", audynerr.ErrConfigInvalid)
	}
	if ptpModes > 0 && c.SourceIP == "" {
		return fmt.Errorf("config: PTP options require an AES67 source (-m): %w", audynerr.ErrConfigInvalid)
	}

	if c.Bitrate < 6000 || c.Bitrate > 510000 {
		return fmt.Errorf("config: bitrate %d out of range [6000, 510000]: %w", c.Bitrate, audynerr.ErrConfigInvalid)
	}
	if c.Complexity < 0 || c.Complexity > 10 {
		return fmt.Errorf("config: complexity %d out of range [0, 10]: %w", c.Complexity, audynerr.ErrConfigInvalid)
	}
	return nil
}

// PTPMode resolves the PTP clock mode the receiver should use.
func (c *Config) PTPMode() ptpclock.Mode {
	switch {
	case c.PTPDevice != "" || c.PTPInterface != "":
		return ptpclock.ModeHardware
	case c.PTPSoftware:
		return ptpclock.ModeSoftware
	default:
		return ptpclock.ModeNone
	}
}
