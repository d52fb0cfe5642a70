package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brianwynne/audyn/internal/archive"
)

func TestParseMinimalSingleFileMode(t *testing.T) {
	cfg, err := Parse([]string{"-o", "/tmp/out.wav"})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/out.wav", cfg.SingleFile)
	assert.Equal(t, "", cfg.ArchiveRoot)
}

func TestParseRequiresExactlyOneOutputMode(t *testing.T) {
	_, err := Parse([]string{})
	assert.Error(t, err, "neither -o nor --archive-root set")

	_, err = Parse([]string{"-o", "/tmp/out.wav", "--archive-root", "/tmp/arch"})
	assert.Error(t, err, "both -o and --archive-root set")
}

func TestParseRejectsMultiplePTPModes(t *testing.T) {
	_, err := Parse([]string{"--archive-root", "/tmp", "--ptp-software", "--ptp-device", "/dev/ptp0"})
	assert.Error(t, err)
}

func TestParsePTPRequiresSource(t *testing.T) {
	_, err := Parse([]string{"--archive-root", "/tmp", "--ptp-software"})
	assert.Error(t, err)

	cfg, err := Parse([]string{"--archive-root", "/tmp", "--ptp-software", "-m", "239.1.2.3"})
	require.NoError(t, err)
	assert.True(t, cfg.PTPSoftware)
}

func TestParseResolvesArchiveLayoutAndClock(t *testing.T) {
	cfg, err := Parse([]string{"--archive-root", "/tmp", "--archive-layout", "dailydir", "--archive-clock", "utc"})
	require.NoError(t, err)
	assert.Equal(t, archive.LayoutDailyDir, cfg.ArchiveLayout)
	assert.Equal(t, archive.ClockUTC, cfg.ArchiveClock)
}

func TestCBROverridesVBR(t *testing.T) {
	cfg, err := Parse([]string{"--archive-root", "/tmp", "--cbr"})
	require.NoError(t, err)
	assert.False(t, cfg.VBR)
}

func TestBitrateRangeValidation(t *testing.T) {
	_, err := Parse([]string{"--archive-root", "/tmp", "--bitrate", "1000"})
	assert.Error(t, err)
}

func TestYAMLOverlayFillsUnsetFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audyn.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
archive_root: /data/audyn
source_ip: 239.5.5.5
port: 6004
`), 0o644))

	cfg, err := Parse([]string{"--config", path})
	require.NoError(t, err)
	assert.Equal(t, "/data/audyn", cfg.ArchiveRoot)
	assert.Equal(t, "239.5.5.5", cfg.SourceIP)
	assert.Equal(t, 6004, cfg.Port)
}

func TestCLIFlagsWinOverYAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audyn.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
archive_root: /data/from-yaml
`), 0o644))

	cfg, err := Parse([]string{"--archive-root", "/data/from-cli", "--config", path})
	require.NoError(t, err)
	assert.Equal(t, "/data/from-cli", cfg.ArchiveRoot)
}
