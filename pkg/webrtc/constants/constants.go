package constants

import (
	"time"
)

const (
	DefaultICETimeout = 10 * time.Second
	DefaultStreamID   = "kvs-agent"
	DefaultVideoCodec = CodecH264
	DefaultAudioCodec = CodecOPUS
)

const (
	CodecPCMU = "pcmu"
	CodecPCMA = "pcma"
	CodecG722 = "g722"
	CodecOPUS = "opus"
	// 视频编解码器
	CodecH264 = "h264"
	CodecVP8  = "vp8"
	CodecVP9  = "vp9"
)

const (
	DefaultVideoWidth  = 1280
	DefaultVideoHeight = 720
)

// KVS publishes a regional STUN endpoint next to the TURN list.
const KVSStunURLFormat = "stun:stun.kinesisvideo.%s.amazonaws.com:443"
