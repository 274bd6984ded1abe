package agent

import (
	"context"

	"github.com/LingByte/kvs-agent/pkg/protocol"
	"github.com/pion/webrtc/v3"
)

// TransportEvents are the callbacks a SignalingTransport reports through.
type TransportEvents struct {
	OnOpen    func()
	OnClose   func()
	OnError   func(err error)
	OnMessage func(msg protocol.SignalingMessage)
}

// SignalingTransport relays setup messages between peers.
// Send must be safe for concurrent use. OnOpen may fire before Open returns.
type SignalingTransport interface {
	SetEvents(events TransportEvents)
	Open(ctx context.Context) error
	Send(msg protocol.SignalingMessage) error
	Close() error
}

// OfferOptions asks the connection to negotiate receive-only media.
type OfferOptions struct {
	ReceiveAudio bool
	ReceiveVideo bool
}

// PeerConnection is the subset of a WebRTC peer connection the orchestrator drives.
type PeerConnection interface {
	AddTrack(track webrtc.TrackLocal) error
	CreateOffer(opts OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	OnICECandidate(f func(candidate *webrtc.ICECandidateInit))
	OnConnectionStateChange(f func(state webrtc.PeerConnectionState))
	OnTrack(f func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))
	Close() error
}

type PeerConnectionFactory interface {
	Create(iceServers []webrtc.ICEServer) (PeerConnection, error)
}

// MediaStream is a set of local tracks owned by a session.
type MediaStream interface {
	ID() string
	Tracks() []webrtc.TrackLocal
	Stop() error
}

type MediaConstraints struct {
	Audio  bool
	Video  bool
	Width  int
	Height int
}

type MediaCapturer interface {
	Acquire(ctx context.Context, constraints MediaConstraints) (MediaStream, error)
}

// Connector resolves a channel and returns an unopened transport plus the ICE servers to use.
type Connector interface {
	Connect(ctx context.Context, role Role, bundle CredentialBundle) (SignalingTransport, []webrtc.ICEServer, error)
}
