package agent

import (
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "github.com/LingByte/kvs-agent/pkg/errors"
	"github.com/LingByte/kvs-agent/pkg/metrics"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const defaultTombstones = 256

// RegistryOptions configures a Registry. Callbacks run on the connection's
// goroutines and must not block.
type RegistryOptions struct {
	Role             Role
	Factory          PeerConnectionFactory
	ICEServers       []webrtc.ICEServer
	Logger           *zap.Logger
	Metrics          *metrics.Metrics
	OnLocalCandidate func(e *Entry, candidate webrtc.ICECandidateInit)
	OnTransition     func(e *Entry, from, to EntryState)
	OnTrack          func(remoteID string, track *webrtc.TrackRemote)
	Tombstones       int
}

// Registry maps remote ids to connection entries. At most one entry exists per id.
type Registry struct {
	opts RegistryOptions
	log  *zap.Logger

	mu         sync.RWMutex
	entries    map[string]*Entry
	stream     MediaStream
	closed     bool
	tombstones *lru.Cache[string, time.Time]
}

func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	size := opts.Tombstones
	if size <= 0 {
		size = defaultTombstones
	}
	tombstones, _ := lru.New[string, time.Time](size)
	return &Registry{
		opts:       opts,
		log:        opts.Logger,
		entries:    make(map[string]*Entry),
		tombstones: tombstones,
	}
}

// SetStream attaches the local stream used for entries created from now on.
func (r *Registry) SetStream(stream MediaStream) {
	r.mu.Lock()
	r.stream = stream
	r.mu.Unlock()
}

// GetOrCreate returns the entry for remoteID, creating it in NEW if absent.
func (r *Registry) GetOrCreate(remoteID string) (*Entry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, false, apperrors.NewAppError(apperrors.ErrCodeRegistryClosed, "connection registry closed")
	}
	if e, ok := r.entries[remoteID]; ok {
		return e, false, nil
	}
	e, err := r.createLocked(remoteID)
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

// Get looks an entry up without creating one.
func (r *Registry) Get(remoteID string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[remoteID]
	return e, ok
}

// Replace closes any existing entry for remoteID and creates a fresh one.
func (r *Registry) Replace(remoteID string) (*Entry, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, apperrors.NewAppError(apperrors.ErrCodeRegistryClosed, "connection registry closed")
	}
	old, hadOld := r.entries[remoteID]
	if hadOld {
		delete(r.entries, remoteID)
	}
	e, err := r.createLocked(remoteID)
	r.mu.Unlock()

	if hadOld {
		r.drop(old)
	}
	return e, err
}

// Bind re-keys the entry stored under from to the id to.
func (r *Registry) Bind(from, to string) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[from]
	if !ok {
		return nil, apperrors.NewAppErrorf(apperrors.ErrCodeUnknownPeer, "no entry for %q", from)
	}
	if _, taken := r.entries[to]; taken {
		return nil, apperrors.NewAppErrorf(apperrors.ErrCodeConflict, "entry for %q already exists", to)
	}
	delete(r.entries, from)
	e.setRemoteID(to)
	r.entries[to] = e
	r.log.Info("template connection bound", zap.String("remote_id", to))
	return e, nil
}

// Remove closes and forgets the entry, remembering the id as recently closed.
func (r *Registry) Remove(remoteID string) bool {
	r.mu.Lock()
	e, ok := r.entries[remoteID]
	if ok {
		delete(r.entries, remoteID)
	}
	r.mu.Unlock()

	if ok {
		r.drop(e)
	}
	return ok
}

// CloseAll moves every entry to CLOSED and releases its handle. Calling it
// again is harmless; entries stay visible in their CLOSED state.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	r.closed = true
	entries := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	var firstErr error
	for _, e := range entries {
		if err := e.close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", e.RemoteID(), err)
		}
	}
	return firstErr
}

// Reap removes FAILED entries that have been idle for at least grace.
func (r *Registry) Reap(grace time.Duration) []string {
	cutoff := time.Now().Add(-grace)

	r.mu.Lock()
	var reaped []*Entry
	for id, e := range r.entries {
		if e.State() != StateFailed || e.idleSince().After(cutoff) {
			continue
		}
		delete(r.entries, id)
		reaped = append(reaped, e)
	}
	r.mu.Unlock()

	removed := make([]string, 0, len(reaped))
	for _, e := range reaped {
		r.drop(e)
		removed = append(removed, e.RemoteID())
	}
	sort.Strings(removed)
	return removed
}

// RecentlyClosed reports whether remoteID was removed from this registry.
func (r *Registry) RecentlyClosed(remoteID string) bool {
	return r.tombstones.Contains(remoteID)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Entries returns a snapshot sorted by remote id.
func (r *Registry) Entries() []EntryInfo {
	r.mu.RLock()
	out := make([]EntryInfo, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Info())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].RemoteID < out[j].RemoteID })
	return out
}

func (r *Registry) createLocked(remoteID string) (*Entry, error) {
	conn, err := r.opts.Factory.Create(r.opts.ICEServers)
	if err != nil {
		return nil, apperrors.NewAppErrorf(apperrors.ErrCodeNegotiationFailed, "create peer connection for %q", remoteID).WithCause(err)
	}

	e := newEntry(remoteID, conn, r.opts.OnTransition)

	if r.opts.Role == RoleMaster {
		if r.stream == nil {
			r.log.Warn("no local media attached; peer will receive no tracks", zap.String("remote_id", remoteID))
		} else {
			for _, track := range r.stream.Tracks() {
				if err := conn.AddTrack(track); err != nil {
					_ = conn.Close()
					return nil, apperrors.NewAppErrorf(apperrors.ErrCodeNegotiationFailed, "attach %s track for %q", track.Kind(), remoteID).WithCause(err)
				}
			}
		}
	}

	conn.OnICECandidate(func(c *webrtc.ICECandidateInit) {
		// nil marks end of gathering
		if c == nil || r.opts.OnLocalCandidate == nil {
			return
		}
		r.opts.OnLocalCandidate(e, *c)
	})
	conn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		r.onConnectionState(e, state)
	})
	conn.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		r.log.Info("remote track received",
			zap.String("remote_id", e.RemoteID()),
			zap.String("kind", track.Kind().String()),
			zap.String("codec", track.Codec().MimeType))
		if r.opts.OnTrack != nil {
			r.opts.OnTrack(e.RemoteID(), track)
		}
	})

	r.entries[remoteID] = e
	r.opts.Metrics.EntryCreated(StateNew.String())
	r.log.Debug("connection entry created", zap.String("remote_id", remoteID))
	return e, nil
}

// drop closes an entry that has already been unlinked from the map.
func (r *Registry) drop(e *Entry) {
	id := e.RemoteID()
	if err := e.close(); err != nil {
		r.log.Warn("close connection failed", zap.String("remote_id", id), zap.Error(err))
	}
	r.opts.Metrics.EntryRemoved(StateClosed.String())
	r.tombstones.Add(id, time.Now())
}

// onConnectionState maps transport reports onto the entry lifecycle. It
// never sends signaling messages.
func (r *Registry) onConnectionState(e *Entry, state webrtc.PeerConnectionState) {
	switch state {
	case webrtc.PeerConnectionStateConnected:
		e.markConnected()
	case webrtc.PeerConnectionStateFailed:
		if _, ok := e.transition(StateFailed); ok {
			e.setError(fmt.Errorf("peer connection failed"))
			if err := e.release(); err != nil {
				r.log.Debug("release failed connection", zap.String("remote_id", e.RemoteID()), zap.Error(err))
			}
		}
	case webrtc.PeerConnectionStateDisconnected:
		r.log.Warn("peer connection disconnected", zap.String("remote_id", e.RemoteID()))
	}
}
