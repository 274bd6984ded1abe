package protocol

import (
	"fmt"

	"github.com/pion/webrtc/v3"
)

// MessageKind enumerates the signaling messages exchanged between master and viewers.
type MessageKind int

const (
	KindOffer MessageKind = iota + 1
	KindAnswer
	KindICECandidate
)

func (k MessageKind) String() string {
	switch k {
	case KindOffer:
		return "OFFER"
	case KindAnswer:
		return "ANSWER"
	case KindICECandidate:
		return "ICE_CANDIDATE"
	default:
		return fmt.Sprintf("MessageKind(%d)", int(k))
	}
}

// SignalingMessage is a closed variant: build it with NewOffer, NewAnswer or
// NewICECandidate. An empty RemoteID means broadcast (master offers) or, on
// the viewer side, "the master".
type SignalingMessage struct {
	kind        MessageKind
	RemoteID    string
	description *webrtc.SessionDescription
	candidate   *webrtc.ICECandidateInit
}

func NewOffer(remoteID string, desc webrtc.SessionDescription) SignalingMessage {
	return SignalingMessage{kind: KindOffer, RemoteID: remoteID, description: &desc}
}

func NewAnswer(remoteID string, desc webrtc.SessionDescription) SignalingMessage {
	return SignalingMessage{kind: KindAnswer, RemoteID: remoteID, description: &desc}
}

func NewICECandidate(remoteID string, candidate webrtc.ICECandidateInit) SignalingMessage {
	return SignalingMessage{kind: KindICECandidate, RemoteID: remoteID, candidate: &candidate}
}

func (m SignalingMessage) Kind() MessageKind { return m.kind }

// Description returns the session description of an offer or answer.
func (m SignalingMessage) Description() (webrtc.SessionDescription, bool) {
	if m.description == nil {
		return webrtc.SessionDescription{}, false
	}
	return *m.description, true
}

// Candidate returns the ICE candidate of an ICE_CANDIDATE message.
func (m SignalingMessage) Candidate() (webrtc.ICECandidateInit, bool) {
	if m.candidate == nil {
		return webrtc.ICECandidateInit{}, false
	}
	return *m.candidate, true
}

func (m SignalingMessage) IsBroadcast() bool { return m.RemoteID == "" }

// Validate rejects messages whose payload does not match their kind.
func (m SignalingMessage) Validate() error {
	switch m.kind {
	case KindOffer, KindAnswer:
		if m.description == nil || m.candidate != nil {
			return fmt.Errorf("%s requires a session description", m.kind)
		}
		if m.description.SDP == "" {
			return fmt.Errorf("%s has an empty sdp", m.kind)
		}
	case KindICECandidate:
		if m.candidate == nil || m.description != nil {
			return fmt.Errorf("%s requires a candidate", m.kind)
		}
	default:
		return fmt.Errorf("unknown message kind %d", int(m.kind))
	}
	return nil
}

func (m SignalingMessage) String() string {
	if m.RemoteID == "" {
		return m.kind.String()
	}
	return m.kind.String() + "(" + m.RemoteID + ")"
}

// SDPMessage is the JSON shape of a session description payload.
type SDPMessage struct {
	Type string `json:"type"` // "offer" or "answer"
	SDP  string `json:"sdp"`
}

// ICECandidateMessage is the JSON shape of an ICE candidate payload.
type ICECandidateMessage struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func FromSessionDescription(desc webrtc.SessionDescription) SDPMessage {
	return SDPMessage{Type: desc.Type.String(), SDP: desc.SDP}
}

func (s SDPMessage) SessionDescription() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(s.Type), SDP: s.SDP}
}

func FromICECandidateInit(c webrtc.ICECandidateInit) ICECandidateMessage {
	return ICECandidateMessage{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func (c ICECandidateMessage) ICECandidateInit() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}
