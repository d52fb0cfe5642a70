package rtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() Config {
	return Config{
		SourceIP:         "239.1.2.3",
		Port:             5004,
		PayloadType:      97,
		SampleRate:       48000,
		Channels:         2,
		SamplesPerPacket: 48,
	}
}

func TestValidateAcceptsGoodConfig(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadSourceIP(t *testing.T) {
	cfg := validConfig()
	cfg.SourceIP = "not-an-ip"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsOutOfRangePort(t *testing.T) {
	cfg := validConfig()
	cfg.Port = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsChannelOffsetOverflow(t *testing.T) {
	cfg := validConfig()
	cfg.StreamChannels = 4
	cfg.ChannelOffset = 3 // 3+2 > 4
	assert.Error(t, cfg.Validate())
}

func TestIsMulticastDetectsClassD(t *testing.T) {
	cfg := validConfig()
	assert.True(t, cfg.IsMulticast())

	cfg.SourceIP = "192.168.1.5"
	assert.False(t, cfg.IsMulticast())
}

func TestEffectiveStreamChannelsDefaultsToChannels(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, cfg.Channels, cfg.EffectiveStreamChannels())

	cfg.StreamChannels = 6
	assert.Equal(t, 6, cfg.EffectiveStreamChannels())
}
