package config

import (
	"fmt"
	"time"

	"github.com/LingByte/kvs-agent/pkg/webrtc/constants"
	"github.com/pion/webrtc/v3"
)

// WebRTCOption WebRTC Config options
type WebRTCOption struct {
	ICEServers []webrtc.ICEServer `json:"iceServers"` // fallback ICE servers when the channel returns none
	StreamID   string             `json:"streamId"`   // stream ID
	ICETimeout time.Duration      `json:"iceTimeout"` // ICE failed timeout
	VideoCodec string             `json:"videoCodec"`
	AudioCodec string             `json:"audioCodec"`
	Width      int                `json:"width"`
	Height     int                `json:"height"`
	ForceTURN  bool               `json:"forceTurn"` // relay-only ICE policy
}

func DefaultWebRTCOption() *WebRTCOption {
	return &WebRTCOption{
		StreamID:   constants.DefaultStreamID,
		ICETimeout: constants.DefaultICETimeout,
		VideoCodec: constants.DefaultVideoCodec,
		AudioCodec: constants.DefaultAudioCodec,
		Width:      constants.DefaultVideoWidth,
		Height:     constants.DefaultVideoHeight,
	}
}

// KVSStunServer is the regional STUN endpoint KVS advertises next to its TURN list.
func KVSStunServer(region string) webrtc.ICEServer {
	return webrtc.ICEServer{URLs: []string{fmt.Sprintf(constants.KVSStunURLFormat, region)}}
}

// GetStreamID get stream ID
func (wts *WebRTCOption) GetStreamID() string {
	if wts.StreamID == "" {
		return constants.DefaultStreamID
	}
	return wts.StreamID
}

// GetICETimeout get ICE timeout
func (wts *WebRTCOption) GetICETimeout() time.Duration {
	if wts.ICETimeout <= 0 {
		return constants.DefaultICETimeout
	}
	return wts.ICETimeout
}

// String config to string
func (wts WebRTCOption) String() string {
	return fmt.Sprintf("WebRTCOption{ICEServers: %d, StreamID: %s, ICETimeout: %v, Video: %s %dx%d, Audio: %s, ForceTURN: %t}",
		len(wts.ICEServers), wts.StreamID, wts.ICETimeout, wts.VideoCodec, wts.Width, wts.Height, wts.AudioCodec, wts.ForceTURN)
}
