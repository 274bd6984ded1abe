package agent

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
)

// EntryInfo is a point-in-time view of an entry.
type EntryInfo struct {
	RemoteID          string     `json:"remoteId"`
	State             EntryState `json:"state"`
	PendingCandidates int        `json:"pendingCandidates"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
	LastError         string     `json:"lastError,omitempty"`
}

// Entry owns one peer connection and its negotiation state.
//
// opMu serializes description work (offer/answer/candidate handling) for the
// entry. Everything else is guarded by mu, which is never held across calls
// into the connection or the transport.
type Entry struct {
	conn PeerConnection

	opMu sync.Mutex

	mu               sync.RWMutex
	remoteID         string
	state            EntryState
	connectedEarly   bool
	remoteDescSet    bool
	pending          []webrtc.ICECandidateInit
	descriptionSent  bool
	outbound         []webrtc.ICECandidateInit
	createdAt        time.Time
	updatedAt        time.Time
	lastError        string
	releaseOnce      sync.Once
	releaseErr       error
	notifyTransition func(e *Entry, from, to EntryState)
}

func newEntry(remoteID string, conn PeerConnection, notify func(e *Entry, from, to EntryState)) *Entry {
	now := time.Now()
	return &Entry{
		conn:             conn,
		remoteID:         remoteID,
		state:            StateNew,
		createdAt:        now,
		updatedAt:        now,
		notifyTransition: notify,
	}
}

func (e *Entry) RemoteID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.remoteID
}

func (e *Entry) State() EntryState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Connection exposes the underlying handle; callers must not close it.
func (e *Entry) Connection() PeerConnection {
	return e.conn
}

func (e *Entry) Info() EntryInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return EntryInfo{
		RemoteID:          e.remoteID,
		State:             e.state,
		PendingCandidates: len(e.pending),
		CreatedAt:         e.createdAt,
		UpdatedAt:         e.updatedAt,
		LastError:         e.lastError,
	}
}

func (e *Entry) lock()   { e.opMu.Lock() }
func (e *Entry) unlock() { e.opMu.Unlock() }

func (e *Entry) setRemoteID(id string) {
	e.mu.Lock()
	e.remoteID = id
	e.mu.Unlock()
}

// transition moves the entry along the lifecycle, returning false for illegal edges.
func (e *Entry) transition(to EntryState) (EntryState, bool) {
	e.mu.Lock()
	from := e.state
	if !from.CanTransition(to) {
		e.mu.Unlock()
		return from, false
	}
	e.state = to
	e.updatedAt = time.Now()
	promote := e.connectedEarly && (to == StateAnswerSent || to == StateAnswerReceived)
	if promote {
		e.connectedEarly = false
	}
	notify := e.notifyTransition
	e.mu.Unlock()

	if notify != nil {
		notify(e, from, to)
	}
	if promote {
		e.transition(StateConnected)
	}
	return from, true
}

// markConnected applies a transport "connected" report. A report that races
// ahead of the answer bookkeeping is held until the answer transition lands.
func (e *Entry) markConnected() bool {
	e.mu.Lock()
	if e.state.negotiating() {
		e.connectedEarly = true
		e.mu.Unlock()
		return false
	}
	e.mu.Unlock()
	_, ok := e.transition(StateConnected)
	return ok
}

func (e *Entry) setError(err error) {
	if err == nil {
		return
	}
	e.mu.Lock()
	e.lastError = err.Error()
	e.mu.Unlock()
}

// bufferCandidate queues c while no remote description is set. It returns
// false when the candidate should be applied right away.
func (e *Entry) bufferCandidate(c webrtc.ICECandidateInit) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.remoteDescSet {
		return false
	}
	e.pending = append(e.pending, c)
	return true
}

// remoteDescriptionApplied marks the remote description set and hands back
// the buffered candidates in arrival order.
func (e *Entry) remoteDescriptionApplied() []webrtc.ICECandidateInit {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.remoteDescSet = true
	pending := e.pending
	e.pending = nil
	return pending
}

func (e *Entry) hasRemoteDescription() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.remoteDescSet
}

// queueLocalCandidate holds locally gathered candidates until our own
// description has gone out, so the remote never sees a candidate first.
func (e *Entry) queueLocalCandidate(c webrtc.ICECandidateInit) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.descriptionSent {
		return false
	}
	e.outbound = append(e.outbound, c)
	return true
}

func (e *Entry) localDescriptionSent() []webrtc.ICECandidateInit {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.descriptionSent = true
	out := e.outbound
	e.outbound = nil
	return out
}

// release closes the connection handle exactly once.
func (e *Entry) release() error {
	e.releaseOnce.Do(func() {
		if e.conn != nil {
			e.releaseErr = e.conn.Close()
		}
	})
	return e.releaseErr
}

// close moves the entry to CLOSED and releases its handle. Only the call
// that performs the move reports a release error; repeats return nil.
func (e *Entry) close() error {
	if _, ok := e.transition(StateClosed); !ok {
		return nil
	}
	return e.release()
}

func (e *Entry) idleSince() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.updatedAt
}
