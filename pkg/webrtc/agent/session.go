package agent

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/LingByte/kvs-agent/pkg/errors"
	"github.com/LingByte/kvs-agent/pkg/metrics"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// SessionInfo is a snapshot of a running session.
type SessionInfo struct {
	ID        string      `json:"id"`
	Role      Role        `json:"role"`
	StartedAt time.Time   `json:"startedAt"`
	HasMedia  bool        `json:"hasMedia"`
	Peers     []EntryInfo `json:"peers"`
}

// Session owns one transport, one registry and, for a master, the local stream.
type Session struct {
	id        string
	role      Role
	startedAt time.Time
	transport SignalingTransport
	registry  *Registry
	router    *Router
	orch      *Orchestrator
	tasks     *dispatcher
	log       *zap.Logger
	metrics   *metrics.Metrics

	mu        sync.Mutex
	stream    MediaStream
	closed    bool
	closeOnce sync.Once
}

type sessionConfig struct {
	role          Role
	stream        MediaStream
	transport     SignalingTransport
	factory       PeerConnectionFactory
	iceServers    []webrtc.ICEServer
	broadcast     bool
	retry         time.Duration
	log           *zap.Logger
	metrics       *metrics.Metrics
	onTrack       func(remoteID string, track *webrtc.TrackRemote)
	onStateChange func(remoteID string, from, to EntryState)
}

func newSession(cfg sessionConfig) *Session {
	id := uuid.NewString()
	log := cfg.log.With(zap.String("session_id", id), zap.String("role", cfg.role.String()))

	s := &Session{
		id:        id,
		role:      cfg.role,
		startedAt: time.Now(),
		transport: cfg.transport,
		stream:    cfg.stream,
		tasks:     newDispatcher(),
		log:       log,
		metrics:   cfg.metrics,
	}

	s.registry = NewRegistry(RegistryOptions{
		Role:       cfg.role,
		Factory:    cfg.factory,
		ICEServers: cfg.iceServers,
		Logger:     log,
		Metrics:    cfg.metrics,
		OnLocalCandidate: func(e *Entry, c webrtc.ICECandidateInit) {
			s.orch.OnLocalCandidate(e, c)
		},
		OnTransition: func(e *Entry, from, to EntryState) {
			s.onTransition(e, from, to, cfg.onStateChange)
		},
		OnTrack: cfg.onTrack,
	})
	if cfg.role == RoleMaster {
		s.registry.SetStream(cfg.stream)
	}

	s.orch = newOrchestrator(orchestratorConfig{
		role:      cfg.role,
		broadcast: cfg.broadcast,
		retry:     cfg.retry,
		registry:  s.registry,
		transport: cfg.transport,
		tasks:     s.tasks,
		log:       log,
		metrics:   cfg.metrics,
	})
	s.router = newRouter(cfg.role, s.registry, s.orch, s.tasks, log, cfg.metrics)
	return s
}

func (s *Session) ID() string          { return s.id }
func (s *Session) Role() Role          { return s.role }
func (s *Session) Registry() *Registry { return s.registry }
func (s *Session) Router() *Router     { return s.router }

func (s *Session) onTransition(e *Entry, from, to EntryState, observer func(string, EntryState, EntryState)) {
	s.metrics.Transition(from.String(), to.String())
	fields := []zap.Field{
		zap.String("remote_id", e.RemoteID()),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	}
	if to == StateFailed {
		s.log.Error("peer state changed", fields...)
		s.orch.onEntryFailed(e)
	} else {
		s.log.Info("peer state changed", fields...)
	}
	if observer != nil {
		observer(e.RemoteID(), from, to)
	}
}

// open wires transport events and opens the transport.
func (s *Session) open(ctx context.Context) error {
	s.transport.SetEvents(TransportEvents{
		OnOpen: func() {
			s.log.Info("signaling channel open")
			s.tasks.Submit(s.orch.openKey(), s.orch.OnTransportOpen)
		},
		OnClose: func() {
			s.log.Warn("signaling channel closed")
		},
		OnError: func(err error) {
			s.metrics.TransportError()
			s.log.Error("signaling transport error", zap.Error(apperrors.WrapError(apperrors.ErrCodeTransportError, err)))
		},
		OnMessage: s.router.Dispatch,
	})

	if err := s.transport.Open(ctx); err != nil {
		return apperrors.NewAppError(apperrors.ErrCodeTransportOpen, "open signaling transport").WithCause(err)
	}
	return nil
}

// attachStream hands a late stream to a master session.
func (s *Session) attachStream(stream MediaStream) error {
	if s.role != RoleMaster {
		return apperrors.NewAppError(apperrors.ErrCodeInvalidRole, "only a master sends local media")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return apperrors.NewAppError(apperrors.ErrCodeNotActive, "session stopped")
	}
	if s.stream != nil {
		return apperrors.NewAppError(apperrors.ErrCodeConflict, "local media already attached")
	}
	s.stream = stream
	s.registry.SetStream(stream)
	s.log.Info("local media attached", zap.String("stream_id", stream.ID()))
	return nil
}

// close tears the session down. Each step runs even if an earlier one fails;
// failures are logged, not returned.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		stream := s.stream
		s.stream = nil
		s.mu.Unlock()

		s.tasks.Close()

		var errs error
		if stream != nil {
			if err := stream.Stop(); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
		if err := s.registry.CloseAll(); err != nil {
			errs = multierr.Append(errs, err)
		}
		if err := s.transport.Close(); err != nil {
			errs = multierr.Append(errs, err)
		}

		if errs != nil {
			for _, err := range multierr.Errors(errs) {
				s.log.Warn("error during session stop", zap.Error(err))
			}
		}
		s.log.Info("session stopped", zap.Duration("uptime", time.Since(s.startedAt)))
	})
}

// flush waits until no signaling work is queued or running.
func (s *Session) flush() {
	s.tasks.Flush()
}

func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	hasMedia := s.stream != nil
	s.mu.Unlock()
	return SessionInfo{
		ID:        s.id,
		Role:      s.role,
		StartedAt: s.startedAt,
		HasMedia:  hasMedia,
		Peers:     s.registry.Entries(),
	}
}
