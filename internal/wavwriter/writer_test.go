package wavwriter

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestOpenRejectsInvalidFormat(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(filepath.Join(dir, "a.wav"), 0, 2, false)
	assert.Error(t, err)
	_, err = Open(filepath.Join(dir, "b.wav"), 48000, 0, false)
	assert.Error(t, err)
	_, err = Open(filepath.Join(dir, "c.wav"), 48000, 33, false)
	assert.Error(t, err)
}

// TestEndToEndScenario reproduces spec.md §8's worked scenario 1: 2
// channels at 48000 Hz, 1 second of audio (48000 frames), expecting a
// 192044-byte file with RIFF size 192036 and data size 192000
// (48000 frames * 2 channels * 2 bytes = 192000 data bytes).
func TestEndToEndScenario(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rec.wav")

	w, err := Open(path, 48000, 2, false)
	require.NoError(t, err)

	const frames = 48000
	pcm := make([]float32, frames*2)
	require.NoError(t, w.Write(pcm, frames))
	require.NoError(t, w.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(192044), info.Size())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	riffSize := binary.LittleEndian.Uint32(data[4:8])
	dataSize := binary.LittleEndian.Uint32(data[40:44])
	assert.Equal(t, uint32(192036), riffSize)
	assert.Equal(t, uint32(192000), dataSize)
}

func TestSampleClamping(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clamp.wav")

	w, err := Open(path, 48000, 1, false)
	require.NoError(t, err)
	require.NoError(t, w.Write([]float32{2.0, -2.0, 0.0}, 3))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	samples := data[headerSize:]
	require.Len(t, samples, 6)

	assert.Equal(t, int16(32767), int16(binary.LittleEndian.Uint16(samples[0:2])))
	assert.Equal(t, int16(-32767), int16(binary.LittleEndian.Uint16(samples[2:4])))
	assert.Equal(t, int16(0), int16(binary.LittleEndian.Uint16(samples[4:6])))
}

// failingSyncer always reports a Sync failure, standing in for a real
// fsync(2) error without needing OS-specific fd tricks.
type failingSyncer struct{}

func (failingSyncer) Sync() error { return assert.AnError }

// TestFsyncDisabledSkipsSync checks that Close honors fsync=false by never
// calling Sync at all: swapping in a syncer that always errors must not
// surface that error unless fsync was requested.
func TestFsyncDisabledSkipsSync(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "nosync.wav")
	w, err := Open(path, 48000, 1, false)
	require.NoError(t, err)
	w.sync = failingSyncer{}
	require.NoError(t, w.Write([]float32{0.1}, 1))
	assert.NoError(t, w.Close(), "fsync=false must not call Sync, so a failing syncer must not surface an error")

	path2 := filepath.Join(dir, "sync.wav")
	w2, err := Open(path2, 48000, 1, true)
	require.NoError(t, err)
	w2.sync = failingSyncer{}
	require.NoError(t, w2.Write([]float32{0.1}, 1))
	assert.Error(t, w2.Close(), "fsync=true must call Sync, so a failing syncer must surface an error")
}

func TestWriteAfterCloseFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "late.wav")

	w, err := Open(path, 48000, 1, false)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	err = w.Write([]float32{0.1}, 1)
	assert.Error(t, err)
	assert.NoError(t, w.Close(), "second Close must be a no-op, not an error")
}

// TestHeaderSizesAlwaysMatchDataWritten checks the header-patching
// round-trip property of spec.md §8: for any sequence of Write calls, the
// final RIFF and data chunk sizes on disk reflect exactly the bytes
// written.
func TestHeaderSizesAlwaysMatchDataWritten(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		channels := rapid.IntRange(1, 8).Draw(rt, "channels")
		writes := rapid.IntRange(0, 10).Draw(rt, "writes")

		dir := t.TempDir()
		path := filepath.Join(dir, "prop.wav")
		w, err := Open(path, 48000, channels, false)
		require.NoError(t, err)

		var totalFrames int
		for i := 0; i < writes; i++ {
			frames := rapid.IntRange(0, 64).Draw(rt, "frames")
			pcm := make([]float32, frames*channels)
			require.NoError(t, w.Write(pcm, frames))
			totalFrames += frames
		}
		require.NoError(t, w.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		wantDataSize := uint32(totalFrames * channels * 2)
		riffSize := binary.LittleEndian.Uint32(data[4:8])
		dataSize := binary.LittleEndian.Uint32(data[40:44])
		assert.Equal(t, wantDataSize, dataSize)
		assert.Equal(t, wantDataSize+36, riffSize)
		assert.Equal(t, int64(headerSize)+int64(wantDataSize), int64(len(data)))
	})
}
