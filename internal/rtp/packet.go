package rtp

import (
	"fmt"

	pionrtp "github.com/pion/rtp"

	"github.com/brianwynne/audyn/internal/frame"
)

// format identifies the inferred PCM sample encoding of a packet's
// payload, per spec.md §4.4.
type format int

const (
	formatUnknown format = iota
	formatL16
	formatL24
)

// classifyFormat infers the PCM encoding from the payload length alone,
// per spec.md §4.4: E16 = stream_channels * samples_per_packet * 2, E24 =
// stream_channels * samples_per_packet * 3.
func classifyFormat(payloadLen, streamChannels, samplesPerPacket int) format {
	e16 := streamChannels * samplesPerPacket * 2
	e24 := streamChannels * samplesPerPacket * 3
	switch payloadLen {
	case e16:
		return formatL16
	case e24:
		return formatL24
	default:
		return formatUnknown
	}
}

// parsedPacket is the subset of an RTP packet the receiver loop needs
// after header parsing.
type parsedPacket struct {
	sequence  uint16
	timestamp uint32
	payload   []byte
}

// parsePacket validates and parses one RTP datagram per spec.md §4.4:
// reject on length < 12, version != 2, or payload-type mismatch. Header
// extension, CSRC, and padding handling are delegated to pion/rtp, which
// implements the same RFC 3550 layout the spec describes byte-for-byte.
func parsePacket(data []byte, wantPT uint8) (parsedPacket, bool) {
	if len(data) < 12 {
		return parsedPacket{}, false
	}

	var pkt pionrtp.Packet
	if err := pkt.Unmarshal(data); err != nil {
		return parsedPacket{}, false
	}
	if pkt.Version != 2 {
		return parsedPacket{}, false
	}
	if pkt.PayloadType != wantPT {
		return parsedPacket{}, false
	}

	return parsedPacket{
		sequence:  pkt.SequenceNumber,
		timestamp: pkt.Timestamp,
		payload:   pkt.Payload,
	}, true
}

// fillFrame converts payload (in the given format) into fr's float32
// buffer, selecting the configured channel window, per spec.md §4.4's
// channel selection and conversion algorithm. It returns an error if fr's
// shape disagrees with cfg.
func fillFrame(fr *frame.Frame, payload []byte, f format, cfg *Config) error {
	if fr.Channels != cfg.Channels {
		return fmt.Errorf("rtp: frame has %d channels, want %d", fr.Channels, cfg.Channels)
	}
	if cfg.SamplesPerPacket > fr.Samples {
		return fmt.Errorf("rtp: frame capacity %d samples too small for %d samples_per_packet", fr.Samples, cfg.SamplesPerPacket)
	}

	streamChannels := cfg.EffectiveStreamChannels()
	bytesPerSample := 2
	if f == formatL24 {
		bytesPerSample = 3
	}

	for i := 0; i < cfg.SamplesPerPacket; i++ {
		for c := 0; c < cfg.Channels; c++ {
			inIdx := (i*streamChannels + cfg.ChannelOffset + c) * bytesPerSample
			outIdx := i*cfg.Channels + c

			var v float32
			switch f {
			case formatL16:
				sample := int16(uint16(payload[inIdx])<<8 | uint16(payload[inIdx+1]))
				v = float32(sample) / 32768.0
			case formatL24:
				raw := int32(payload[inIdx])<<16 | int32(payload[inIdx+1])<<8 | int32(payload[inIdx+2])
				if raw&0x800000 != 0 {
					raw |= ^int32(0xFFFFFF) // sign-extend
				}
				v = float32(raw) / 8388608.0
			}
			fr.Data[outIdx] = v
		}
	}
	fr.ValidFrames = cfg.SamplesPerPacket
	return nil
}

// sequenceTracker maintains the expected-sequence state of spec.md §4.4:
// on the first packet it seeds expected_seq; thereafter a mismatch
// increments discontinuities and resynchronizes. expected_seq advances
// modulo 2^16.
type sequenceTracker struct {
	have     bool
	expected uint16
}

// observe reports whether seq matched the expected sequence number (true
// on the very first observation) and advances the tracker.
func (s *sequenceTracker) observe(seq uint16) bool {
	if !s.have {
		s.have = true
		s.expected = seq + 1
		return true
	}
	matched := seq == s.expected
	s.expected = seq + 1
	return matched
}
