package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kvs_agent"

// Metrics groups the agent's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	SessionsActive      prometheus.Gauge
	PeerEntries         *prometheus.GaugeVec
	StateTransitions    *prometheus.CounterVec
	SignalingMessages   *prometheus.CounterVec
	UnknownPeerWarnings prometheus.Counter
	NegotiationFailures prometheus.Counter
	TransportErrors     prometheus.Counter
	RemoteRTPBytes      *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "1 while a signaling session is running.",
		}),
		PeerEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peer_entries",
			Help:      "Connection entries by lifecycle state.",
		}, []string{"state"}),
		StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Connection entry state transitions.",
		}, []string{"from", "to"}),
		SignalingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signaling_messages_total",
			Help:      "Signaling messages by direction and kind.",
		}, []string{"direction", "kind"}),
		UnknownPeerWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unknown_peer_warnings_total",
			Help:      "Answers or candidates dropped because no entry matched.",
		}),
		NegotiationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "negotiation_failures_total",
			Help:      "Offer/answer or description failures that moved an entry to FAILED.",
		}),
		TransportErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_errors_total",
			Help:      "Errors reported by the signaling transport.",
		}),
		RemoteRTPBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_rtp_bytes_total",
			Help:      "RTP payload bytes received on remote tracks.",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.SessionsActive,
			m.PeerEntries,
			m.StateTransitions,
			m.SignalingMessages,
			m.UnknownPeerWarnings,
			m.NegotiationFailures,
			m.TransportErrors,
			m.RemoteRTPBytes,
		)
	}
	return m
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsActive.Set(1)
}

func (m *Metrics) SessionStopped() {
	if m == nil {
		return
	}
	m.SessionsActive.Set(0)
	m.PeerEntries.Reset()
}

// EntryCreated counts a new entry in its initial state.
func (m *Metrics) EntryCreated(state string) {
	if m == nil {
		return
	}
	m.PeerEntries.WithLabelValues(state).Inc()
}

// EntryRemoved drops an entry that left the registry in state.
func (m *Metrics) EntryRemoved(state string) {
	if m == nil {
		return
	}
	m.PeerEntries.WithLabelValues(state).Dec()
}

func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(from, to).Inc()
	m.PeerEntries.WithLabelValues(from).Dec()
	m.PeerEntries.WithLabelValues(to).Inc()
}

func (m *Metrics) MessageSent(kind string) {
	if m == nil {
		return
	}
	m.SignalingMessages.WithLabelValues("out", kind).Inc()
}

func (m *Metrics) MessageReceived(kind string) {
	if m == nil {
		return
	}
	m.SignalingMessages.WithLabelValues("in", kind).Inc()
}

func (m *Metrics) UnknownPeer() {
	if m == nil {
		return
	}
	m.UnknownPeerWarnings.Inc()
}

func (m *Metrics) NegotiationFailed() {
	if m == nil {
		return
	}
	m.NegotiationFailures.Inc()
}

func (m *Metrics) TransportError() {
	if m == nil {
		return
	}
	m.TransportErrors.Inc()
}

func (m *Metrics) RTPBytes(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RemoteRTPBytes.WithLabelValues(kind).Add(float64(n))
}
