package agent

import (
	"time"

	apperrors "github.com/LingByte/kvs-agent/pkg/errors"
	"github.com/LingByte/kvs-agent/pkg/metrics"
	"github.com/LingByte/kvs-agent/pkg/protocol"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Orchestrator runs the master and viewer negotiation protocols. Handlers
// are invoked by the router, one at a time per remote id.
type Orchestrator struct {
	role      Role
	broadcast bool
	retry     time.Duration
	registry  *Registry
	transport SignalingTransport
	tasks     *dispatcher
	log       *zap.Logger
	metrics   *metrics.Metrics
}

type orchestratorConfig struct {
	role      Role
	broadcast bool
	retry     time.Duration
	registry  *Registry
	transport SignalingTransport
	tasks     *dispatcher
	log       *zap.Logger
	metrics   *metrics.Metrics
}

func newOrchestrator(cfg orchestratorConfig) *Orchestrator {
	return &Orchestrator{
		role:      cfg.role,
		broadcast: cfg.broadcast,
		retry:     cfg.retry,
		registry:  cfg.registry,
		transport: cfg.transport,
		tasks:     cfg.tasks,
		log:       cfg.log,
		metrics:   cfg.metrics,
	}
}

// openKey is the dispatcher key for the role's initial action.
func (o *Orchestrator) openKey() string {
	if o.role == RoleViewer {
		return MasterPeerID
	}
	return BroadcastPeerID
}

// OnTransportOpen performs the role's initial action.
func (o *Orchestrator) OnTransportOpen() {
	switch o.role {
	case RoleMaster:
		if !o.broadcast {
			o.log.Info("signaling open; waiting for viewer offers")
			return
		}
		o.sendBroadcastOffer()
	case RoleViewer:
		o.startViewer()
	}
}

// startViewer creates the single viewer entry and offers to receive audio and video.
func (o *Orchestrator) startViewer() {
	e, _, err := o.registry.GetOrCreate(MasterPeerID)
	if err != nil {
		o.log.Error("create viewer connection", zap.Error(err))
		return
	}
	e.lock()
	defer e.unlock()

	if st := e.State(); st != StateNew {
		o.log.Warn("viewer connection already negotiating", zap.String("state", st.String()))
		return
	}
	o.offer(e, "", OfferOptions{ReceiveAudio: true, ReceiveVideo: true})
}

// sendBroadcastOffer offers from a template connection that is not yet bound to a viewer.
func (o *Orchestrator) sendBroadcastOffer() {
	e, created, err := o.registry.GetOrCreate(BroadcastPeerID)
	if err != nil {
		o.log.Error("create broadcast connection", zap.Error(err))
		return
	}
	e.lock()
	defer e.unlock()

	if !created && e.State() != StateNew {
		o.log.Debug("broadcast offer already outstanding")
		return
	}
	o.offer(e, "", OfferOptions{})
}

// onEntryFailed schedules a fresh broadcast template when the outstanding
// one fails, so later viewers still find an offer.
func (o *Orchestrator) onEntryFailed(e *Entry) {
	if o.role != RoleMaster || !o.broadcast || e.RemoteID() != BroadcastPeerID {
		return
	}
	o.log.Warn("broadcast template failed; re-arming", zap.Duration("after", o.retry))
	time.AfterFunc(o.retry, func() {
		o.tasks.Submit(BroadcastPeerID, o.rearmBroadcast)
	})
}

// rearmBroadcast replaces a FAILED template with a new offer.
func (o *Orchestrator) rearmBroadcast() {
	tmpl, ok := o.registry.Get(BroadcastPeerID)
	if !ok || tmpl.State() != StateFailed {
		return
	}
	o.registry.Remove(BroadcastPeerID)
	o.sendBroadcastOffer()
}

// offer runs createOffer/setLocalDescription/send for e. Caller holds e's lock.
func (o *Orchestrator) offer(e *Entry, recipient string, opts OfferOptions) {
	conn := e.Connection()
	desc, err := conn.CreateOffer(opts)
	if err != nil {
		o.fail(e, "create offer", err)
		return
	}
	if err := conn.SetLocalDescription(desc); err != nil {
		o.fail(e, "set local offer", err)
		return
	}
	if local := conn.LocalDescription(); local != nil {
		desc = *local
	}
	if err := o.send(protocol.NewOffer(recipient, desc)); err != nil {
		o.fail(e, "send offer", err)
		return
	}
	o.flushLocalCandidates(e)
	e.transition(StateOfferSent)
}

// HandleOffer answers an offer from remoteID. Both roles accept offers.
func (o *Orchestrator) HandleOffer(remoteID string, desc webrtc.SessionDescription) {
	key, recipient := remoteID, remoteID
	if o.role == RoleViewer {
		key, recipient = MasterPeerID, ""
	} else if remoteID == "" {
		o.log.Warn("dropping offer without sender id")
		return
	}

	e, created, err := o.registry.GetOrCreate(key)
	if err != nil {
		o.log.Error("create connection for offer", zap.String("remote_id", key), zap.Error(err))
		return
	}
	if !created && e.State() != StateNew {
		// a fresh offer from a known peer restarts it; one entry per id
		o.log.Info("peer re-offered; replacing connection",
			zap.String("remote_id", key), zap.String("state", e.State().String()))
		if e, err = o.registry.Replace(key); err != nil {
			o.log.Error("replace connection", zap.String("remote_id", key), zap.Error(err))
			return
		}
	}

	e.lock()
	defer e.unlock()

	if e.State() == StateClosed {
		return
	}
	if !o.applyRemote(e, desc, "set remote offer") {
		return
	}
	e.transition(StateOfferReceived)

	conn := e.Connection()
	answer, err := conn.CreateAnswer()
	if err != nil {
		o.fail(e, "create answer", err)
		return
	}
	if err := conn.SetLocalDescription(answer); err != nil {
		o.fail(e, "set local answer", err)
		return
	}
	if local := conn.LocalDescription(); local != nil {
		answer = *local
	}
	if err := o.send(protocol.NewAnswer(recipient, answer)); err != nil {
		o.fail(e, "send answer", err)
		return
	}
	o.flushLocalCandidates(e)
	e.transition(StateAnswerSent)
}

// HandleAnswer applies an answer to an entry that sent an offer.
func (o *Orchestrator) HandleAnswer(e *Entry, desc webrtc.SessionDescription) {
	e.lock()
	defer e.unlock()

	if st := e.State(); st != StateOfferSent {
		o.log.Warn("ignoring answer in unexpected state",
			zap.String("remote_id", e.RemoteID()), zap.String("state", st.String()))
		return
	}
	if !o.applyRemote(e, desc, "set remote answer") {
		return
	}
	e.transition(StateAnswerReceived)
}

// BindBroadcast hands the outstanding template connection to remoteID and
// queues a fresh template for later viewers.
func (o *Orchestrator) BindBroadcast(remoteID string) (*Entry, bool) {
	if o.role != RoleMaster || !o.broadcast || remoteID == "" {
		return nil, false
	}
	tmpl, ok := o.registry.Get(BroadcastPeerID)
	if !ok {
		return nil, false
	}
	tmpl.lock()
	if tmpl.State() != StateOfferSent {
		tmpl.unlock()
		return nil, false
	}
	e, err := o.registry.Bind(BroadcastPeerID, remoteID)
	tmpl.unlock()
	if err != nil {
		o.log.Warn("bind broadcast connection", zap.String("remote_id", remoteID), zap.Error(err))
		return nil, false
	}
	o.tasks.Submit(BroadcastPeerID, o.sendBroadcastOffer)
	return e, true
}

// HandleICECandidate applies or buffers a remote candidate.
func (o *Orchestrator) HandleICECandidate(e *Entry, c webrtc.ICECandidateInit) {
	e.lock()
	defer e.unlock()

	if e.State() == StateClosed {
		return
	}
	if e.bufferCandidate(c) {
		o.log.Debug("buffering candidate until remote description is set", zap.String("remote_id", e.RemoteID()))
		return
	}
	o.addCandidate(e, c)
}

// applyRemote sets the remote description and flushes buffered candidates in
// arrival order. Caller holds e's lock.
func (o *Orchestrator) applyRemote(e *Entry, desc webrtc.SessionDescription, op string) bool {
	if err := e.Connection().SetRemoteDescription(desc); err != nil {
		o.fail(e, op, err)
		return false
	}
	for _, c := range e.remoteDescriptionApplied() {
		o.addCandidate(e, c)
	}
	return true
}

func (o *Orchestrator) addCandidate(e *Entry, c webrtc.ICECandidateInit) {
	if err := e.Connection().AddICECandidate(c); err != nil {
		o.log.Warn("add ice candidate", zap.String("remote_id", e.RemoteID()), zap.Error(err))
	}
}

// OnLocalCandidate forwards a gathered candidate, tagged with the remote id
// for master entries that are bound to a viewer.
func (o *Orchestrator) OnLocalCandidate(e *Entry, c webrtc.ICECandidateInit) {
	if e.queueLocalCandidate(c) {
		return
	}
	o.sendCandidate(e, c)
}

func (o *Orchestrator) flushLocalCandidates(e *Entry) {
	for _, c := range e.localDescriptionSent() {
		o.sendCandidate(e, c)
	}
}

func (o *Orchestrator) sendCandidate(e *Entry, c webrtc.ICECandidateInit) {
	if e.State() == StateClosed {
		return
	}
	if err := o.send(protocol.NewICECandidate(o.recipient(e), c)); err != nil {
		o.log.Warn("send ice candidate", zap.String("remote_id", e.RemoteID()), zap.Error(err))
	}
}

func (o *Orchestrator) recipient(e *Entry) string {
	if o.role == RoleViewer {
		return ""
	}
	id := e.RemoteID()
	if id == BroadcastPeerID {
		return ""
	}
	return id
}

func (o *Orchestrator) send(msg protocol.SignalingMessage) error {
	if err := o.transport.Send(msg); err != nil {
		return apperrors.NewAppErrorf(apperrors.ErrCodeTransportError, "send %s", msg.Kind()).WithCause(err)
	}
	o.metrics.MessageSent(msg.Kind().String())
	o.log.Debug("signaling message sent", zap.String("kind", msg.Kind().String()), zap.String("recipient", msg.RemoteID))
	return nil
}

// fail marks one entry FAILED; other entries are untouched.
func (o *Orchestrator) fail(e *Entry, op string, cause error) {
	if e.State() == StateClosed {
		o.log.Debug("entry closed during negotiation", zap.String("remote_id", e.RemoteID()), zap.String("op", op))
		return
	}
	err := apperrors.NewAppErrorf(apperrors.ErrCodeNegotiationFailed, "%s", op).
		WithDetails("remote_id", e.RemoteID()).
		WithCause(cause)
	e.setError(err)
	if _, ok := e.transition(StateFailed); ok {
		o.metrics.NegotiationFailed()
	}
	if rerr := e.release(); rerr != nil {
		o.log.Debug("release failed connection", zap.String("remote_id", e.RemoteID()), zap.Error(rerr))
	}
	o.log.Error("negotiation failed", zap.String("remote_id", e.RemoteID()), zap.String("op", op), zap.Error(cause))
}
