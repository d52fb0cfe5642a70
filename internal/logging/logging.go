// Package logging configures the process-wide structured logger. Format
// and verbosity match spec.md §6's "[ISO-8601 local time] [LEVEL]
// message" convention, built on charmbracelet/log the way a CLI tool in
// this stack would wire it.
package logging

import (
	"fmt"
	"io"
	"log/syslog"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// Options configures New.
type Options struct {
	Verbose bool // -v: debug level
	Quiet   bool // -q: errors only
	Syslog  bool // --syslog: mirror to the local syslog daemon
}

// New builds the process logger. On any syslog dial failure it logs a
// warning to stderr and continues without syslog, since archival must not
// depend on a local syslog daemon being reachable.
func New(opts Options) *log.Logger {
	writer := io.Writer(os.Stderr)

	logger := log.NewWithOptions(writer, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "2006-01-02T15:04:05.000Z07:00",
		Level:           levelFor(opts),
	})

	if opts.Syslog {
		sw, err := syslog.New(syslog.LOG_DAEMON|syslog.LOG_INFO, "audyn")
		if err != nil {
			logger.Warn("syslog unavailable, continuing with stderr only", "err", err)
		} else {
			logger.SetOutput(io.MultiWriter(writer, sw))
		}
	}

	return logger
}

func levelFor(opts Options) log.Level {
	switch {
	case opts.Quiet:
		return log.ErrorLevel
	case opts.Verbose:
		return log.DebugLevel
	default:
		return log.InfoLevel
	}
}

// FormatNow renders the current local time the way spec.md §6's log line
// prefix expects, for components that emit raw text lines instead of
// going through the structured logger.
func FormatNow() string {
	return fmt.Sprintf("[%s]", time.Now().Local().Format("2006-01-02T15:04:05.000Z07:00"))
}
