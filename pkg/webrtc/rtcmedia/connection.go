package rtcmedia

import (
	"fmt"
	"sync"
	"time"

	"github.com/LingByte/kvs-agent/pkg/logger"
	"github.com/LingByte/kvs-agent/pkg/utils"
	"github.com/LingByte/kvs-agent/pkg/webrtc/agent"
	"github.com/LingByte/kvs-agent/pkg/webrtc/rtcmedia/config"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const iceKeepAlive = 2 * time.Second

// Factory builds pion peer connections sharing one API (codecs, interceptors, settings).
type Factory struct {
	api *webrtc.API
	opt config.WebRTCOption
	log *zap.Logger
}

// NewFactory 创建连接工厂
func NewFactory(opt *config.WebRTCOption, log *zap.Logger) (*Factory, error) {
	if opt == nil {
		opt = config.DefaultWebRTCOption()
	}
	if log == nil {
		log = logger.Named("rtc")
	}

	m, err := GetMediaEngine()
	if err != nil {
		return nil, err
	}
	// NACK, RTCP reports, TWCC
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	settings := webrtc.SettingEngine{LoggerFactory: logger.NewPionLoggerFactory(log)}
	timeout := opt.GetICETimeout()
	settings.SetICETimeouts(timeout/2, timeout, iceKeepAlive)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(settings),
	)
	return &Factory{api: api, opt: *opt, log: log}, nil
}

// Create implements agent.PeerConnectionFactory.
func (f *Factory) Create(iceServers []webrtc.ICEServer) (agent.PeerConnection, error) {
	cfg := webrtc.Configuration{ICEServers: iceServers}
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = f.opt.ICEServers
	}
	if f.opt.ForceTURN {
		cfg.ICETransportPolicy = webrtc.ICETransportPolicyRelay
	}

	pc, err := f.api.NewPeerConnection(cfg)
	if err != nil {
		f.log.Error("Failed to create peer connection", zap.Error(err))
		return nil, err
	}
	return newConnection(pc, f.log), nil
}

// Connection adapts *webrtc.PeerConnection to agent.PeerConnection.
type Connection struct {
	pc  *webrtc.PeerConnection
	log *zap.Logger

	mu          sync.Mutex
	receiveOnly bool
}

func newConnection(pc *webrtc.PeerConnection, log *zap.Logger) *Connection {
	return &Connection{pc: pc, log: log}
}

// AddTrack 添加轨道
func (c *Connection) AddTrack(track webrtc.TrackLocal) error {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return err
	}
	// RTCP must be read for the interceptors to see NACKs and reports
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

// CreateOffer 创建Offer. Receive options add recvonly transceivers once.
func (c *Connection) CreateOffer(opts agent.OfferOptions) (webrtc.SessionDescription, error) {
	c.mu.Lock()
	if !c.receiveOnly {
		c.receiveOnly = true
		var kinds []webrtc.RTPCodecType
		if opts.ReceiveVideo {
			kinds = append(kinds, webrtc.RTPCodecTypeVideo)
		}
		if opts.ReceiveAudio {
			kinds = append(kinds, webrtc.RTPCodecTypeAudio)
		}
		for _, kind := range kinds {
			if _, err := c.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
				c.mu.Unlock()
				return webrtc.SessionDescription{}, fmt.Errorf("add %s transceiver: %w", kind, err)
			}
		}
	}
	c.mu.Unlock()
	return c.pc.CreateOffer(nil)
}

// CreateAnswer 创建Answer
func (c *Connection) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

// SetLocalDescription 设置本地描述; starts candidate gathering.
func (c *Connection) SetLocalDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(desc)
}

// SetRemoteDescription 设置远程描述
func (c *Connection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return err
	}
	fields := []zap.Field{
		zap.String("type", desc.Type.String()),
		zap.Int("candidates", len(utils.ExtractCandidates(desc.SDP))),
	}
	if codecs, err := NegotiatedCodecs(desc); err == nil {
		fields = append(fields, zap.Any("codecs", codecs))
	}
	c.log.Debug("remote description applied", fields...)
	return nil
}

func (c *Connection) LocalDescription() *webrtc.SessionDescription {
	return c.pc.LocalDescription()
}

// AddICECandidate 添加ICE候选者
func (c *Connection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(candidate)
}

// OnICECandidate reports gathered candidates in wire form; nil ends gathering.
func (c *Connection) OnICECandidate(f func(*webrtc.ICECandidateInit)) {
	c.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			f(nil)
			return
		}
		init := candidate.ToJSON()
		f(&init)
	})
}

func (c *Connection) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	c.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.log.Debug("Connection state changed", zap.String("state", state.String()))
		f(state)
	})
}

// OnTrack 设置轨道回调
func (c *Connection) OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	c.pc.OnTrack(f)
}

// Close 关闭连接
func (c *Connection) Close() error {
	return c.pc.Close()
}

// State 获取连接状态
func (c *Connection) State() webrtc.PeerConnectionState {
	return c.pc.ConnectionState()
}
