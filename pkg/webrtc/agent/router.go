package agent

import (
	"github.com/LingByte/kvs-agent/pkg/metrics"
	"github.com/LingByte/kvs-agent/pkg/protocol"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Router turns inbound signaling messages into orchestrator calls. Messages
// for the same remote id are handled strictly in arrival order.
type Router struct {
	role     Role
	registry *Registry
	orch     *Orchestrator
	tasks    *dispatcher
	log      *zap.Logger
	metrics  *metrics.Metrics
}

func newRouter(role Role, registry *Registry, orch *Orchestrator, tasks *dispatcher, log *zap.Logger, m *metrics.Metrics) *Router {
	return &Router{role: role, registry: registry, orch: orch, tasks: tasks, log: log, metrics: m}
}

func (r *Router) OnOffer(desc webrtc.SessionDescription, senderID string) {
	r.Dispatch(protocol.NewOffer(senderID, desc))
}

func (r *Router) OnAnswer(desc webrtc.SessionDescription, senderID string) {
	r.Dispatch(protocol.NewAnswer(senderID, desc))
}

func (r *Router) OnIceCandidate(c webrtc.ICECandidateInit, senderID string) {
	r.Dispatch(protocol.NewICECandidate(senderID, c))
}

// Dispatch queues msg behind earlier messages for the same peer.
func (r *Router) Dispatch(msg protocol.SignalingMessage) {
	if err := msg.Validate(); err != nil {
		r.log.Warn("dropping malformed signaling message", zap.Error(err))
		return
	}
	r.metrics.MessageReceived(msg.Kind().String())

	var task func()
	switch msg.Kind() {
	case protocol.KindOffer:
		desc, _ := msg.Description()
		task = func() { r.orch.HandleOffer(msg.RemoteID, desc) }
	case protocol.KindAnswer:
		desc, _ := msg.Description()
		task = func() { r.routeAnswer(msg, desc) }
	case protocol.KindICECandidate:
		c, _ := msg.Candidate()
		task = func() { r.routeCandidate(msg, c) }
	default:
		r.log.Warn("dropping unsupported signaling message", zap.String("kind", msg.Kind().String()))
		return
	}

	if !r.tasks.Submit(r.key(msg), task) {
		r.log.Debug("session closing; message discarded", zap.String("kind", msg.Kind().String()))
	}
}

func (r *Router) key(msg protocol.SignalingMessage) string {
	if r.role == RoleViewer {
		return MasterPeerID
	}
	return msg.RemoteID
}

func (r *Router) routeAnswer(msg protocol.SignalingMessage, desc webrtc.SessionDescription) {
	e, ok := r.registry.Get(r.key(msg))
	if !ok {
		e, ok = r.orch.BindBroadcast(msg.RemoteID)
	}
	if !ok {
		r.unknownPeer(msg)
		return
	}
	r.orch.HandleAnswer(e, desc)
}

func (r *Router) routeCandidate(msg protocol.SignalingMessage, c webrtc.ICECandidateInit) {
	e, ok := r.registry.Get(r.key(msg))
	if !ok {
		r.unknownPeer(msg)
		return
	}
	r.orch.HandleICECandidate(e, c)
}

// unknownPeer drops msg; the peer may have been torn down already.
func (r *Router) unknownPeer(msg protocol.SignalingMessage) {
	r.metrics.UnknownPeer()
	r.log.Warn("dropping message for unknown peer",
		zap.String("kind", msg.Kind().String()),
		zap.String("remote_id", msg.RemoteID),
		zap.Bool("recently_closed", r.registry.RecentlyClosed(r.key(msg))))
}
