package opuswriter

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEncoder stands in for libopus: it "encodes" every frame into the same
// 4-byte packet and records each input length, so tests can assert on
// framing and muxing without linking the real codec.
type fakeEncoder struct {
	calls int
	sizes []int
}

func (f *fakeEncoder) EncodeFloat32(pcm []float32, data []byte) (int, error) {
	f.calls++
	f.sizes = append(f.sizes, len(pcm))
	n := copy(data, []byte{0xDE, 0xAD, 0xBE, 0xEF})
	return n, nil
}

func readOggPages(t *testing.T, path string) []struct {
	granule    uint64
	headerType byte
	payloadLen int
} {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var pages []struct {
		granule    uint64
		headerType byte
		payloadLen int
	}
	off := 0
	for off < len(data) {
		require.Equal(t, "OggS", string(data[off:off+4]))
		headerType := data[off+5]
		granule := binary.LittleEndian.Uint64(data[off+6 : off+14])
		nSeg := int(data[off+26])
		segTable := data[off+27 : off+27+nSeg]
		payloadLen := 0
		for _, s := range segTable {
			payloadLen += int(s)
		}
		pages = append(pages, struct {
			granule    uint64
			headerType byte
			payloadLen int
		}{granule, headerType, payloadLen})
		off += 27 + nSeg + payloadLen
	}
	return pages
}

func TestHeaderPagesWritten(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rec.opus")
	enc := &fakeEncoder{}
	w, err := openWithEncoder(path, 48000, 2, enc)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	pages := readOggPages(t, path)
	require.GreaterOrEqual(t, len(pages), 3) // OpusHead, OpusTags, EOS
	assert.Equal(t, byte(2), pages[0].headerType, "first page must carry the BOS flag")
	assert.Equal(t, byte(4), pages[len(pages)-1].headerType, "last page must carry the EOS flag")
}

func TestReframingTo20msFrames(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rec.opus")
	enc := &fakeEncoder{}
	w, err := openWithEncoder(path, 48000, 2, enc)
	require.NoError(t, err)

	// 48000 Hz * 20ms = 960 samples/channel/frame; write 2.5 frames worth.
	frames := 960*2 + 480
	pcm := make([]float32, frames*2)
	require.NoError(t, w.Write(pcm, frames))

	assert.Equal(t, 2, enc.calls, "exactly two complete 20ms frames should have been encoded before Close")
	for _, n := range enc.sizes {
		assert.Equal(t, 960*2, n, "each encoded frame must be exactly 20ms of interleaved PCM")
	}

	require.NoError(t, w.Close())
	assert.Equal(t, 3, enc.calls, "the trailing partial frame must be padded with silence and encoded at Close")
}

func TestGranulePositionAdvancesByFrameSamples(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rec.opus")
	enc := &fakeEncoder{}
	w, err := openWithEncoder(path, 48000, 1, enc)
	require.NoError(t, err)

	pcm := make([]float32, 960*3)
	require.NoError(t, w.Write(pcm, 960*3))
	require.NoError(t, w.Close())

	pages := readOggPages(t, path)
	// pages: OpusHead(0), OpusTags(1), packet pages(2..4), EOS(5)
	require.Len(t, pages, 6)
	// Granule position starts at -opusPreSkip per spec.md §4.7 and advances
	// by 960 (20ms at 48kHz) per packet.
	assert.Equal(t, uint64(960-opusPreSkip), pages[2].granule)
	assert.Equal(t, uint64(1920-opusPreSkip), pages[3].granule)
	assert.Equal(t, uint64(2880-opusPreSkip), pages[4].granule)
}

func TestWriteAfterCloseFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "late.opus")
	enc := &fakeEncoder{}
	w, err := openWithEncoder(path, 48000, 1, enc)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	err = w.Write([]float32{0.1}, 1)
	assert.Error(t, err)
	assert.NoError(t, w.Close(), "second Close must be a no-op")
}

func TestOpenRejectsUnsupportedSampleRate(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(filepath.Join(dir, "bad.opus"), 44100, 2)
	assert.Error(t, err, "44100 Hz is not a native Opus sample rate")
}

func TestOpenRejectsTooManyChannels(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(filepath.Join(dir, "bad.opus"), 48000, 6)
	assert.Error(t, err)
}
