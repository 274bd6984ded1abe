package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/LingByte/kvs-agent/pkg/protocol"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// fakeConn is an in-memory PeerConnection that mimics pion's ordering rules.
type fakeConn struct {
	id int

	mu             sync.Mutex
	tracks         []webrtc.TrackLocal
	offerOpts      []OfferOptions
	local          *webrtc.SessionDescription
	remote         *webrtc.SessionDescription
	candidates     []webrtc.ICECandidateInit
	closed         int
	failSetRemote  error
	failRemoteFor  string // fail SetRemoteDescription when the sdp contains this
	failClose      error
	failOffer      error
	failAnswer     error
	emitOnSetLocal *webrtc.ICECandidateInit

	onCandidate func(*webrtc.ICECandidateInit)
	onState     func(webrtc.PeerConnectionState)
	onTrack     func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
}

func (c *fakeConn) AddTrack(track webrtc.TrackLocal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks = append(c.tracks, track)
	return nil
}

func (c *fakeConn) CreateOffer(opts OfferOptions) (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed > 0 {
		return webrtc.SessionDescription{}, errors.New("connection closed")
	}
	if c.failOffer != nil {
		return webrtc.SessionDescription{}, c.failOffer
	}
	c.offerOpts = append(c.offerOpts, opts)
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("v=0 offer-%d", c.id)}, nil
}

func (c *fakeConn) CreateAnswer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAnswer != nil {
		return webrtc.SessionDescription{}, c.failAnswer
	}
	if c.remote == nil {
		return webrtc.SessionDescription{}, errors.New("no remote description")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("v=0 answer-%d", c.id)}, nil
}

func (c *fakeConn) SetLocalDescription(desc webrtc.SessionDescription) error {
	c.mu.Lock()
	c.local = &desc
	emit := c.emitOnSetLocal
	cb := c.onCandidate
	c.mu.Unlock()
	if emit != nil && cb != nil {
		cb(emit)
	}
	return nil
}

func (c *fakeConn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSetRemote != nil {
		return c.failSetRemote
	}
	if c.failRemoteFor != "" && strings.Contains(desc.SDP, c.failRemoteFor) {
		return fmt.Errorf("rejected sdp %q", desc.SDP)
	}
	c.remote = &desc
	return nil
}

func (c *fakeConn) LocalDescription() *webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

func (c *fakeConn) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remote == nil {
		return errors.New("remote description not set")
	}
	c.candidates = append(c.candidates, candidate)
	return nil
}

func (c *fakeConn) OnICECandidate(f func(*webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onCandidate = f
	c.mu.Unlock()
}

func (c *fakeConn) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	c.onState = f
	c.mu.Unlock()
}

func (c *fakeConn) OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	c.mu.Lock()
	c.onTrack = f
	c.mu.Unlock()
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return c.failClose
}

func (c *fakeConn) emitState(state webrtc.PeerConnectionState) {
	c.mu.Lock()
	cb := c.onState
	c.mu.Unlock()
	cb(state)
}

func (c *fakeConn) emitCandidate(candidate webrtc.ICECandidateInit) {
	c.mu.Lock()
	cb := c.onCandidate
	c.mu.Unlock()
	cb(&candidate)
}

func (c *fakeConn) appliedCandidates() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.candidates))
	for _, cand := range c.candidates {
		out = append(out, cand.Candidate)
	}
	return out
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeFactory struct {
	mu      sync.Mutex
	conns   []*fakeConn
	prepare func(n int, c *fakeConn)
	err     error
}

func (f *fakeFactory) Create(_ []webrtc.ICEServer) (PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c := &fakeConn{id: len(f.conns) + 1}
	if f.prepare != nil {
		f.prepare(len(f.conns), c)
	}
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *fakeFactory) created() []*fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeConn(nil), f.conns...)
}

type fakeTransport struct {
	mu      sync.Mutex
	events  TransportEvents
	sent    []protocol.SignalingMessage
	openErr error
	sendErr error
	opened  int
	closed  int
}

func (t *fakeTransport) SetEvents(events TransportEvents) {
	t.mu.Lock()
	t.events = events
	t.mu.Unlock()
}

func (t *fakeTransport) Open(_ context.Context) error {
	t.mu.Lock()
	if t.openErr != nil {
		t.mu.Unlock()
		return t.openErr
	}
	t.opened++
	onOpen := t.events.OnOpen
	t.mu.Unlock()
	if onOpen != nil {
		onOpen()
	}
	return nil
}

func (t *fakeTransport) Send(msg protocol.SignalingMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent = append(t.sent, msg)
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed++
	return nil
}

func (t *fakeTransport) deliver(msg protocol.SignalingMessage) {
	t.mu.Lock()
	onMessage := t.events.OnMessage
	t.mu.Unlock()
	onMessage(msg)
}

func (t *fakeTransport) fail(err error) {
	t.mu.Lock()
	onError := t.events.OnError
	t.mu.Unlock()
	onError(err)
}

func (t *fakeTransport) messages() []protocol.SignalingMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]protocol.SignalingMessage(nil), t.sent...)
}

func (t *fakeTransport) messagesOf(kind protocol.MessageKind) []protocol.SignalingMessage {
	var out []protocol.SignalingMessage
	for _, m := range t.messages() {
		if m.Kind() == kind {
			out = append(out, m)
		}
	}
	return out
}

type fakeStream struct {
	mu      sync.Mutex
	tracks  []webrtc.TrackLocal
	stopped int
}

func newFakeStream(t *testing.T) *fakeStream {
	t.Helper()
	video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264}, "video", "test-stream")
	require.NoError(t, err)
	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "test-stream")
	require.NoError(t, err)
	return &fakeStream{tracks: []webrtc.TrackLocal{video, audio}}
}

func (s *fakeStream) ID() string                  { return "test-stream" }
func (s *fakeStream) Tracks() []webrtc.TrackLocal { return s.tracks }
func (s *fakeStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped++
	return nil
}

func (s *fakeStream) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type fakeCapturer struct {
	stream *fakeStream
	err    error
	calls  int
}

func (c *fakeCapturer) Acquire(_ context.Context, _ MediaConstraints) (MediaStream, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.stream, nil
}

type fakeConnector struct {
	transport *fakeTransport
	err       error
	calls     int
}

func (c *fakeConnector) Connect(_ context.Context, _ Role, _ CredentialBundle) (SignalingTransport, []webrtc.ICEServer, error) {
	c.calls++
	if c.err != nil {
		return nil, nil, c.err
	}
	return c.transport, []webrtc.ICEServer{{URLs: []string{"stun:stun.example.org:3478"}}}, nil
}

type harness struct {
	agent     *Agent
	factory   *fakeFactory
	transport *fakeTransport
	logs      *observer.ObservedLogs
}

func newHarness(t *testing.T, mutate ...func(o *Options)) *harness {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	h := &harness{
		factory:   &fakeFactory{},
		transport: &fakeTransport{},
		logs:      logs,
	}
	opts := Options{Factory: h.factory, Logger: zap.New(core)}
	for _, m := range mutate {
		m(&opts)
	}
	h.agent = New(opts)
	return h
}

func (h *harness) start(t *testing.T, role Role, stream MediaStream) *Session {
	t.Helper()
	s, err := h.agent.StartSession(context.Background(), StartOptions{Role: role, Stream: stream, Transport: h.transport})
	require.NoError(t, err)
	s.flush()
	return s
}

func offerFrom(remoteID string) protocol.SignalingMessage {
	return protocol.NewOffer(remoteID, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 remote-offer-" + remoteID})
}

func answerFrom(remoteID string) protocol.SignalingMessage {
	return protocol.NewAnswer(remoteID, webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 remote-answer-" + remoteID})
}

func candidateFrom(remoteID, candidate string) protocol.SignalingMessage {
	return protocol.NewICECandidate(remoteID, webrtc.ICECandidateInit{Candidate: candidate})
}

func entryState(t *testing.T, s *Session, remoteID string) EntryState {
	t.Helper()
	e, ok := s.Registry().Get(remoteID)
	require.True(t, ok, "no entry for %s", remoteID)
	return e.State()
}
