package rtp

import (
	"fmt"
	"net"

	"github.com/brianwynne/audyn/internal/audynerr"
)

// Config is the RTP receiver's static configuration, validated once at
// startup, per spec.md §4.4's configuration table.
type Config struct {
	SourceIP          string
	Port              int
	PayloadType       uint8
	SampleRate        int
	Channels          int
	SamplesPerPacket  int
	StreamChannels    int // 0 means "= Channels"
	ChannelOffset     int
	SocketRcvBuf      int
	BindInterface     string
}

// Validate checks every field against spec.md §4.4's ranges and derives
// the effective stream channel count.
func (c *Config) Validate() error {
	if net.ParseIP(c.SourceIP).To4() == nil {
		return fmt.Errorf("rtp: source_ip %q is not a valid IPv4 literal: %w", c.SourceIP, audynerr.ErrConfigInvalid)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("rtp: port %d out of range [1, 65535]: %w", c.Port, audynerr.ErrConfigInvalid)
	}
	if c.PayloadType > 127 {
		return fmt.Errorf("rtp: payload_type %d out of range [0, 127]: %w", c.PayloadType, audynerr.ErrConfigInvalid)
	}
	if c.SampleRate < 1 || c.SampleRate > 384000 {
		return fmt.Errorf("rtp: sample_rate %d out of range [1, 384000]: %w", c.SampleRate, audynerr.ErrConfigInvalid)
	}
	if c.Channels < 1 || c.Channels > 32 {
		return fmt.Errorf("rtp: channels %d out of range [1, 32]: %w", c.Channels, audynerr.ErrConfigInvalid)
	}
	if c.SamplesPerPacket < 1 || c.SamplesPerPacket > 1024 {
		return fmt.Errorf("rtp: samples_per_packet %d out of range [1, 1024]: %w", c.SamplesPerPacket, audynerr.ErrConfigInvalid)
	}

	streamChannels := c.StreamChannels
	if streamChannels == 0 {
		streamChannels = c.Channels
	}
	if streamChannels < c.ChannelOffset+c.Channels {
		return fmt.Errorf("rtp: stream_channels %d must be >= channel_offset %d + channels %d: %w",
			streamChannels, c.ChannelOffset, c.Channels, audynerr.ErrConfigInvalid)
	}
	if c.ChannelOffset < 0 || c.ChannelOffset > streamChannels-c.Channels {
		return fmt.Errorf("rtp: channel_offset %d out of range [0, %d]: %w",
			c.ChannelOffset, streamChannels-c.Channels, audynerr.ErrConfigInvalid)
	}
	return nil
}

// EffectiveStreamChannels returns StreamChannels with the "0 means
// Channels" default resolved.
func (c *Config) EffectiveStreamChannels() int {
	if c.StreamChannels == 0 {
		return c.Channels
	}
	return c.StreamChannels
}

// IsMulticast reports whether SourceIP falls in 224.0.0.0/4.
func (c *Config) IsMulticast() bool {
	ip := net.ParseIP(c.SourceIP).To4()
	return ip != nil && ip[0] >= 224 && ip[0] <= 239
}
