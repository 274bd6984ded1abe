package rtcmedia

import (
	"testing"

	"github.com/LingByte/kvs-agent/pkg/webrtc/constants"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecCapability(t *testing.T) {
	tests := []struct {
		name     string
		codec    string
		mime     string
		kind     webrtc.RTPCodecType
		clock    uint32
		hasError bool
	}{
		{"opus", constants.CodecOPUS, webrtc.MimeTypeOpus, webrtc.RTPCodecTypeAudio, 48000, false},
		{"pcmu", constants.CodecPCMU, webrtc.MimeTypePCMU, webrtc.RTPCodecTypeAudio, 8000, false},
		{"pcma upper", "PCMA", webrtc.MimeTypePCMA, webrtc.RTPCodecTypeAudio, 8000, false},
		{"g722", constants.CodecG722, webrtc.MimeTypeG722, webrtc.RTPCodecTypeAudio, 8000, false},
		{"h264", constants.CodecH264, webrtc.MimeTypeH264, webrtc.RTPCodecTypeVideo, 90000, false},
		{"vp8", constants.CodecVP8, webrtc.MimeTypeVP8, webrtc.RTPCodecTypeVideo, 90000, false},
		{"vp9", constants.CodecVP9, webrtc.MimeTypeVP9, webrtc.RTPCodecTypeVideo, 90000, false},
		{"unknown", "av1x", "", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			capability, kind, err := CodecCapability(tt.codec)
			if tt.hasError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.mime, capability.MimeType)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.clock, capability.ClockRate)
		})
	}
}

func TestGetMediaEngine(t *testing.T) {
	m, err := GetMediaEngine()
	require.NoError(t, err)
	assert.NotNil(t, m)
}

func TestNegotiatedCodecs(t *testing.T) {
	sdp := "v=0\r\n" +
		"o=- 1 1 IN IP4 127.0.0.1\r\n" +
		"s=-\r\n" +
		"t=0 0\r\n" +
		"m=audio 9 UDP/TLS/RTP/SAVPF 111 0\r\n" +
		"c=IN IP4 0.0.0.0\r\n" +
		"a=rtpmap:111 opus/48000/2\r\n" +
		"a=rtpmap:0 PCMU/8000\r\n" +
		"m=video 9 UDP/TLS/RTP/SAVPF 125\r\n" +
		"c=IN IP4 0.0.0.0\r\n" +
		"a=rtpmap:125 H264/90000\r\n"

	codecs, err := NegotiatedCodecs(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"audio": "opus", "video": "h264"}, codecs)

	_, err = NegotiatedCodecs(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "garbage"})
	assert.Error(t, err)
}
