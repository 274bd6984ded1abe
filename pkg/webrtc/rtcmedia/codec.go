package rtcmedia

import (
	"fmt"
	"strings"

	"github.com/LingByte/kvs-agent/pkg/webrtc/constants"
	"github.com/pion/webrtc/v3"
)

// codecEntry 编解码器描述
type codecEntry struct {
	params webrtc.RTPCodecParameters
	kind   webrtc.RTPCodecType
}

var videoRTCPFeedback = []webrtc.RTCPFeedback{
	{Type: "goog-remb"},
	{Type: "ccm", Parameter: "fir"},
	{Type: "nack"},
	{Type: "nack", Parameter: "pli"},
}

// registration order is preference order inside each kind
var codecTable = []struct {
	name  string
	entry codecEntry
}{
	{constants.CodecOPUS, codecEntry{webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2, SDPFmtpLine: "minptime=10;useinbandfec=1"},
		PayloadType:        111,
	}, webrtc.RTPCodecTypeAudio}},
	{constants.CodecG722, codecEntry{webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeG722, ClockRate: 8000},
		PayloadType:        9,
	}, webrtc.RTPCodecTypeAudio}},
	{constants.CodecPCMU, codecEntry{webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: 8000},
		PayloadType:        0,
	}, webrtc.RTPCodecTypeAudio}},
	{constants.CodecPCMA, codecEntry{webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMA, ClockRate: 8000},
		PayloadType:        8,
	}, webrtc.RTPCodecTypeAudio}},
	{constants.CodecH264, codecEntry{webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:     webrtc.MimeTypeH264,
			ClockRate:    90000,
			SDPFmtpLine:  "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
			RTCPFeedback: videoRTCPFeedback,
		},
		PayloadType: 125,
	}, webrtc.RTPCodecTypeVideo}},
	{constants.CodecVP8, codecEntry{webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000, RTCPFeedback: videoRTCPFeedback},
		PayloadType:        96,
	}, webrtc.RTPCodecTypeVideo}},
	{constants.CodecVP9, codecEntry{webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP9, ClockRate: 90000, SDPFmtpLine: "profile-id=0", RTCPFeedback: videoRTCPFeedback},
		PayloadType:        98,
	}, webrtc.RTPCodecTypeVideo}},
}

func lookupCodec(name string) (codecEntry, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, c := range codecTable {
		if c.name == name {
			return c.entry, true
		}
	}
	return codecEntry{}, false
}

// CodecCapability 根据编解码器名称获取能力描述
func CodecCapability(name string) (webrtc.RTPCodecCapability, webrtc.RTPCodecType, error) {
	c, ok := lookupCodec(name)
	if !ok {
		return webrtc.RTPCodecCapability{}, 0, fmt.Errorf("unsupported codec %q", name)
	}
	return c.params.RTPCodecCapability, c.kind, nil
}

// GetMediaEngine 获取媒体引擎配置
func GetMediaEngine() (*webrtc.MediaEngine, error) {
	m := &webrtc.MediaEngine{}
	for _, c := range codecTable {
		if err := m.RegisterCodec(c.entry.params, c.entry.kind); err != nil {
			return nil, fmt.Errorf("register %s: %w", c.name, err)
		}
	}
	return m, nil
}

// NegotiatedCodecs lists the first codec of every media section in desc,
// keyed by media kind ("audio", "video").
func NegotiatedCodecs(desc webrtc.SessionDescription) (map[string]string, error) {
	parsed, err := desc.Unmarshal()
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal session description: %w", err)
	}

	out := make(map[string]string)
	for _, m := range parsed.MediaDescriptions {
		if len(m.MediaName.Formats) == 0 {
			continue
		}
		pt := m.MediaName.Formats[0]
		for _, attr := range m.Attributes {
			if attr.Key != "rtpmap" || !strings.HasPrefix(attr.Value, pt+" ") {
				continue
			}
			// "<pt> <name>/<rate>[/<channels>]"
			enc := strings.SplitN(strings.TrimPrefix(attr.Value, pt+" "), "/", 2)[0]
			out[m.MediaName.Media] = strings.ToLower(enc)
			break
		}
	}
	return out, nil
}
