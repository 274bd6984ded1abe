package rtcmedia_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/LingByte/kvs-agent/pkg/protocol"
	"github.com/LingByte/kvs-agent/pkg/webrtc/agent"
	"github.com/LingByte/kvs-agent/pkg/webrtc/rtcmedia"
	"github.com/LingByte/kvs-agent/pkg/webrtc/rtcmedia/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// pipe is one end of an in-memory signaling channel. Messages are stamped
// with the sender id the far end would see from the service.
type pipe struct {
	mu       sync.Mutex
	events   agent.TransportEvents
	peer     *pipe
	senderID string
}

func newPipePair(viewerID string) (master, viewer *pipe) {
	master = &pipe{}
	viewer = &pipe{senderID: viewerID}
	master.peer, viewer.peer = viewer, master
	return master, viewer
}

func (p *pipe) SetEvents(e agent.TransportEvents) {
	p.mu.Lock()
	p.events = e
	p.mu.Unlock()
}

func (p *pipe) Open(_ context.Context) error {
	p.mu.Lock()
	onOpen := p.events.OnOpen
	p.mu.Unlock()
	if onOpen != nil {
		onOpen()
	}
	return nil
}

func (p *pipe) Send(msg protocol.SignalingMessage) error {
	var out protocol.SignalingMessage
	switch msg.Kind() {
	case protocol.KindOffer:
		d, _ := msg.Description()
		out = protocol.NewOffer(p.senderID, d)
	case protocol.KindAnswer:
		d, _ := msg.Description()
		out = protocol.NewAnswer(p.senderID, d)
	default:
		c, _ := msg.Candidate()
		out = protocol.NewICECandidate(p.senderID, c)
	}

	p.peer.mu.Lock()
	onMessage := p.peer.events.OnMessage
	p.peer.mu.Unlock()
	if onMessage != nil {
		onMessage(out)
	}
	return nil
}

func (p *pipe) Close() error { return nil }

func TestMasterViewerNegotiation(t *testing.T) {
	opt := config.DefaultWebRTCOption()
	opt.ICETimeout = 5 * time.Second

	newAgent := func(name string) *agent.Agent {
		f, err := rtcmedia.NewFactory(opt, zap.NewNop())
		require.NoError(t, err)
		return agent.New(agent.Options{Factory: f, Logger: zap.NewNop().Named(name)})
	}
	masterAgent, viewerAgent := newAgent("master"), newAgent("viewer")
	masterEnd, viewerEnd := newPipePair("viewer-test1")

	stream, err := rtcmedia.NewCapturer(opt, zap.NewNop()).Acquire(context.Background(), agent.MediaConstraints{Audio: true, Video: true})
	require.NoError(t, err)

	master, err := masterAgent.StartSession(context.Background(), agent.StartOptions{Role: agent.RoleMaster, Stream: stream, Transport: masterEnd})
	require.NoError(t, err)
	defer masterAgent.Stop()

	viewer, err := viewerAgent.StartSession(context.Background(), agent.StartOptions{Role: agent.RoleViewer, Transport: viewerEnd})
	require.NoError(t, err)
	defer viewerAgent.Stop()

	negotiated := func(s *agent.Session, key string, want ...agent.EntryState) bool {
		e, ok := s.Registry().Get(key)
		if !ok {
			return false
		}
		state := e.State()
		for _, w := range want {
			if state == w {
				return true
			}
		}
		return false
	}

	assert.Eventually(t, func() bool {
		return negotiated(master, "viewer-test1", agent.StateAnswerSent, agent.StateConnected) &&
			negotiated(viewer, agent.MasterPeerID, agent.StateAnswerReceived, agent.StateConnected)
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, master.Registry().Len())
	assert.True(t, master.Info().HasMedia)
	assert.False(t, viewer.Info().HasMedia)
}
