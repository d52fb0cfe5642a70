package opuswriter

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/brianwynne/audyn/internal/audynerr"
)

// oggMuxer writes Opus packets into an Ogg container per RFC 7845. Ported
// from the channel recorder's Ogg writer, generalized to the configured
// sample rate and channel count instead of a fixed mono 48 kHz mix.
type oggMuxer struct {
	w         io.Writer
	serial    uint32
	pageSeqNo uint32
	granule   int64 // signed: starts at -preSkip per spec.md §4.7
}

func newOggMuxer(w io.Writer, serial uint32) *oggMuxer {
	return &oggMuxer{w: w, serial: serial}
}

// writeHeaders emits the mandatory OpusHead and OpusTags pages.
func (o *oggMuxer) writeHeaders(sampleRate uint32, channels uint8, preSkip uint16) error {
	head := make([]byte, 19)
	copy(head[0:8], "OpusHead")
	head[8] = 1 // version
	head[9] = channels
	binary.LittleEndian.PutUint16(head[10:12], preSkip)
	binary.LittleEndian.PutUint32(head[12:16], sampleRate)
	binary.LittleEndian.PutUint16(head[16:18], 0) // output gain
	head[18] = 0                                  // channel mapping family

	o.granule = -int64(preSkip)

	if err := o.writePage(head, 0, 2); err != nil { // 2 = beginning of stream
		return err
	}

	const vendor = "audyn"
	const comment = "ENCODER=Audyn"
	tags := make([]byte, 8+4+len(vendor)+4+4+len(comment))
	off := 0
	copy(tags[off:off+8], "OpusTags")
	off += 8
	binary.LittleEndian.PutUint32(tags[off:off+4], uint32(len(vendor)))
	off += 4
	copy(tags[off:off+len(vendor)], vendor)
	off += len(vendor)
	binary.LittleEndian.PutUint32(tags[off:off+4], 1) // one user comment
	off += 4
	binary.LittleEndian.PutUint32(tags[off:off+4], uint32(len(comment)))
	off += 4
	copy(tags[off:off+len(comment)], comment)

	return o.writePage(tags, 0, 0)
}

// writePacket writes a single Opus packet as one Ogg page, advancing the
// granule position by frameSamples, the packet's duration in 48 kHz
// samples (granulePerFrame for a 20ms frame at any encoding rate).
func (o *oggMuxer) writePacket(packet []byte, frameSamples uint64) error {
	o.granule += int64(frameSamples)
	return o.writePage(packet, o.granule, 0)
}

// writeEOS writes the terminal empty page with the end-of-stream flag.
func (o *oggMuxer) writeEOS() error {
	return o.writePage(nil, o.granule, 4)
}

// writePage writes a single Ogg page. headerType: 0=normal, 2=BOS, 4=EOS.
// granulePos is signed (the pre-skip priming period starts negative) but
// written to the wire as the unsigned 64-bit field the Ogg format defines.
func (o *oggMuxer) writePage(payload []byte, granulePos int64, headerType byte) error {
	segments := len(payload) / 255
	if len(payload)%255 != 0 || len(payload) == 0 {
		segments++
	}

	segTable := make([]byte, segments)
	remaining := len(payload)
	for i := 0; i < segments; i++ {
		if remaining >= 255 {
			segTable[i] = 255
			remaining -= 255
		} else {
			segTable[i] = byte(remaining)
			remaining = 0
		}
	}

	header := make([]byte, 27+len(segTable))
	copy(header[0:4], "OggS")
	header[4] = 0 // version
	header[5] = headerType
	binary.LittleEndian.PutUint64(header[6:14], uint64(granulePos))
	binary.LittleEndian.PutUint32(header[14:18], o.serial)
	binary.LittleEndian.PutUint32(header[18:22], o.pageSeqNo)
	header[26] = byte(len(segTable))
	copy(header[27:], segTable)

	crc := oggCRC(header, payload)
	binary.LittleEndian.PutUint32(header[22:26], crc)

	o.pageSeqNo++

	if _, err := o.w.Write(header); err != nil {
		return fmt.Errorf("opuswriter: write ogg page header: %w", audynerr.ErrIoFailure)
	}
	if len(payload) > 0 {
		if _, err := o.w.Write(payload); err != nil {
			return fmt.Errorf("opuswriter: write ogg page payload: %w", audynerr.ErrIoFailure)
		}
	}
	return nil
}

// oggCRC computes the Ogg CRC-32: the unreflected form of polynomial
// 0x04C11DB7 over header (with the checksum field zeroed) and payload.
func oggCRC(header, payload []byte) uint32 {
	var crc uint32
	for _, b := range header {
		crc = (crc << 8) ^ oggCRCTable[byte(crc>>24)^b]
	}
	for _, b := range payload {
		crc = (crc << 8) ^ oggCRCTable[byte(crc>>24)^b]
	}
	return crc
}

var oggCRCTable = func() [256]uint32 {
	const poly = 0x04C11DB7
	var table [256]uint32
	for i := range table {
		r := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if r&0x80000000 != 0 {
				r = (r << 1) ^ poly
			} else {
				r <<= 1
			}
		}
		table[i] = r
	}
	return table
}()
