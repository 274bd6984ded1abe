package kvs

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/LingByte/kvs-agent/pkg/protocol"
	"github.com/bytedance/sonic"
	"github.com/pion/webrtc/v3"
)

// Actions sent to the service and message types received from it.
const (
	ActionSDPOffer     = "SDP_OFFER"
	ActionSDPAnswer    = "SDP_ANSWER"
	ActionICECandidate = "ICE_CANDIDATE"

	TypeStatusResponse     = "STATUS_RESPONSE"
	TypeGoAway             = "GO_AWAY"
	TypeReconnectICEServer = "RECONNECT_ICE_SERVER"
)

type outboundEnvelope struct {
	Action            string `json:"action"`
	MessagePayload    string `json:"messagePayload"`
	RecipientClientID string `json:"recipientClientId"`
}

type inboundEnvelope struct {
	MessageType    string          `json:"messageType"`
	MessagePayload string          `json:"messagePayload"`
	SenderClientID string          `json:"senderClientId"`
	StatusResponse *StatusResponse `json:"statusResponse,omitempty"`
}

// StatusResponse is the service's report about a message it rejected.
type StatusResponse struct {
	CorrelationID string `json:"correlationId"`
	ErrorType     string `json:"errorType"`
	StatusCode    string `json:"statusCode"`
	Description   string `json:"description"`
}

// ServiceEvent is an inbound frame that is not peer signaling. It is an
// error so the transport can surface it through OnError.
type ServiceEvent struct {
	Type   string
	Status *StatusResponse
}

func (e *ServiceEvent) Error() string {
	if e.Status != nil {
		return fmt.Sprintf("kvs %s: %s %s %s", e.Type, e.Status.StatusCode, e.Status.ErrorType, e.Status.Description)
	}
	return "kvs " + e.Type
}

// EncodeMessage renders msg as the service expects it: JSON payload, base64
// encoded, wrapped in an action envelope addressed to msg.RemoteID.
func EncodeMessage(msg protocol.SignalingMessage) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	var (
		action  string
		payload interface{}
	)
	switch msg.Kind() {
	case protocol.KindOffer, protocol.KindAnswer:
		desc, _ := msg.Description()
		action = ActionSDPAnswer
		if msg.Kind() == protocol.KindOffer {
			action = ActionSDPOffer
		}
		payload = protocol.FromSessionDescription(desc)
	case protocol.KindICECandidate:
		c, _ := msg.Candidate()
		action = ActionICECandidate
		payload = protocol.FromICECandidateInit(c)
	}

	raw, err := sonic.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msg.Kind(), err)
	}
	return sonic.Marshal(outboundEnvelope{
		Action:            action,
		MessagePayload:    base64.StdEncoding.EncodeToString(raw),
		RecipientClientID: msg.RemoteID,
	})
}

// DecodeMessage parses one inbound frame. Frames that carry no peer
// signaling come back as a *ServiceEvent error.
func DecodeMessage(data []byte) (protocol.SignalingMessage, error) {
	var env inboundEnvelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return protocol.SignalingMessage{}, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.MessageType {
	case TypeStatusResponse, TypeGoAway, TypeReconnectICEServer:
		return protocol.SignalingMessage{}, &ServiceEvent{Type: env.MessageType, Status: env.StatusResponse}
	case ActionSDPOffer, ActionSDPAnswer:
		raw, err := decodePayload(env.MessagePayload)
		if err != nil {
			return protocol.SignalingMessage{}, err
		}
		desc := decodeSessionDescription(raw)
		if env.MessageType == ActionSDPOffer {
			desc.Type = webrtc.SDPTypeOffer
			return protocol.NewOffer(env.SenderClientID, desc), nil
		}
		desc.Type = webrtc.SDPTypeAnswer
		return protocol.NewAnswer(env.SenderClientID, desc), nil
	case ActionICECandidate:
		raw, err := decodePayload(env.MessagePayload)
		if err != nil {
			return protocol.SignalingMessage{}, err
		}
		var c protocol.ICECandidateMessage
		if err := sonic.Unmarshal(raw, &c); err != nil {
			return protocol.SignalingMessage{}, fmt.Errorf("decode candidate: %w", err)
		}
		return protocol.NewICECandidate(env.SenderClientID, c.ICECandidateInit()), nil
	}
	return protocol.SignalingMessage{}, fmt.Errorf("unsupported message type %q", env.MessageType)
}

func decodePayload(s string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		if raw, err = base64.RawStdEncoding.DecodeString(s); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
	}
	return raw, nil
}

// decodeSessionDescription accepts {"type","sdp"} JSON or a bare SDP body.
func decodeSessionDescription(raw []byte) webrtc.SessionDescription {
	var m protocol.SDPMessage
	if err := sonic.Unmarshal(raw, &m); err == nil && m.SDP != "" {
		return m.SessionDescription()
	}
	return webrtc.SessionDescription{SDP: strings.TrimSpace(string(raw))}
}
