package agent

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/LingByte/kvs-agent/pkg/errors"
	"github.com/LingByte/kvs-agent/pkg/logger"
	"github.com/LingByte/kvs-agent/pkg/metrics"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// DefaultBroadcastRetry is the delay before a failed broadcast template is replaced.
const DefaultBroadcastRetry = 2 * time.Second

// Options configures an Agent.
type Options struct {
	Factory   PeerConnectionFactory
	Capturer  MediaCapturer
	Connector Connector
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	// Status, when set, receives every log record of the agent at its level.
	Status *StatusStream
	// BroadcastOffer makes a master offer to all viewers on open instead of waiting.
	BroadcastOffer bool
	// BroadcastRetry is how long a failed broadcast template waits before a
	// new one is offered. Defaults to DefaultBroadcastRetry.
	BroadcastRetry time.Duration
	Constraints    MediaConstraints
	OnTrack        func(remoteID string, track *webrtc.TrackRemote)
	OnStateChange  func(remoteID string, from, to EntryState)
}

// StartOptions starts a session from already-built collaborators.
type StartOptions struct {
	Role       Role
	Stream     MediaStream
	Transport  SignalingTransport
	ICEServers []webrtc.ICEServer
}

// Status is what the agent reports about itself.
type Status struct {
	Active  bool         `json:"active"`
	Session *SessionInfo `json:"session,omitempty"`
}

// Agent guards the single session a process may run.
type Agent struct {
	opts Options
	log  *zap.Logger

	lifecycle sync.Mutex // serializes Start and Stop

	mu     sync.RWMutex
	active *Session
}

func New(opts Options) *Agent {
	base := opts.Logger
	if base == nil {
		base = logger.Named("agent")
	}
	if opts.Status != nil {
		base = logger.WithCores(base, opts.Status)
	}
	if opts.BroadcastRetry <= 0 {
		opts.BroadcastRetry = DefaultBroadcastRetry
	}
	return &Agent{opts: opts, log: base}
}

// Start resolves the channel described by bundle and starts a session as role.
// A master acquires local media first; a viewer never does.
func (a *Agent) Start(ctx context.Context, role Role, bundle CredentialBundle) (*Session, error) {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	if a.current() != nil {
		return nil, a.alreadyActive()
	}
	if !role.Valid() {
		return nil, apperrors.NewAppErrorf(apperrors.ErrCodeInvalidRole, "unknown role %q", role)
	}
	if err := bundle.Validate(); err != nil {
		a.log.Error("invalid credential bundle", zap.Error(err))
		return nil, err
	}
	if a.opts.Connector == nil {
		return nil, apperrors.NewAppError(apperrors.ErrCodeInvalidConfig, "no signaling connector configured")
	}

	var stream MediaStream
	if role == RoleMaster && a.opts.Capturer != nil {
		s, err := a.opts.Capturer.Acquire(ctx, a.opts.Constraints)
		if err != nil {
			appErr := apperrors.NewAppError(apperrors.ErrCodeMediaAcquisition, "acquire local media").WithCause(err)
			a.log.Error("start failed", zap.Error(appErr))
			return nil, appErr
		}
		stream = s
	}

	transport, iceServers, err := a.opts.Connector.Connect(ctx, role, bundle)
	if err != nil {
		a.releaseStream(stream)
		if !apperrors.IsAppError(err) {
			err = apperrors.NewAppError(apperrors.ErrCodeTransportOpen, "connect signaling channel").WithCause(err)
		}
		a.log.Error("start failed", zap.Error(err), zap.String("channel", bundle.ChannelName))
		return nil, err
	}

	return a.startLocked(ctx, StartOptions{Role: role, Stream: stream, Transport: transport, ICEServers: iceServers})
}

// StartSession starts a session with a caller-supplied transport and optional stream.
func (a *Agent) StartSession(ctx context.Context, opts StartOptions) (*Session, error) {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	return a.startLocked(ctx, opts)
}

func (a *Agent) startLocked(ctx context.Context, opts StartOptions) (*Session, error) {
	if a.current() != nil {
		return nil, a.alreadyActive()
	}
	if !opts.Role.Valid() {
		return nil, apperrors.NewAppErrorf(apperrors.ErrCodeInvalidRole, "unknown role %q", opts.Role)
	}
	if opts.Transport == nil {
		return nil, apperrors.NewAppError(apperrors.ErrCodeInvalidConfig, "signaling transport is required")
	}
	if a.opts.Factory == nil {
		return nil, apperrors.NewAppError(apperrors.ErrCodeInvalidConfig, "peer connection factory is required")
	}
	if opts.Role == RoleViewer && opts.Stream != nil {
		a.log.Warn("viewer does not send local media; releasing stream")
		a.releaseStream(opts.Stream)
		opts.Stream = nil
	}

	s := newSession(sessionConfig{
		role:          opts.Role,
		stream:        opts.Stream,
		transport:     opts.Transport,
		factory:       a.opts.Factory,
		iceServers:    opts.ICEServers,
		broadcast:     a.opts.BroadcastOffer,
		retry:         a.opts.BroadcastRetry,
		log:           a.log,
		metrics:       a.opts.Metrics,
		onTrack:       a.opts.OnTrack,
		onStateChange: a.opts.OnStateChange,
	})

	// visible before Open so that an early OnOpen finds an active session
	a.setActive(s)
	if err := s.open(ctx); err != nil {
		a.setActive(nil)
		s.close()
		a.log.Error("start failed", zap.Error(err))
		return nil, err
	}

	a.opts.Metrics.SessionStarted()
	a.log.Info("session started", zap.String("session_id", s.ID()), zap.String("role", s.Role().String()))
	return s, nil
}

// Stop tears the active session down. Without one it does nothing.
func (a *Agent) Stop() {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	s := a.current()
	if s == nil {
		a.log.Debug("stop ignored: no active session")
		return
	}
	a.setActive(nil)
	s.close()
	a.opts.Metrics.SessionStopped()
}

// AttachMedia gives a master started without media its local stream.
func (a *Agent) AttachMedia(stream MediaStream) error {
	s := a.current()
	if s == nil {
		return apperrors.NewAppError(apperrors.ErrCodeNotActive, "no active session")
	}
	return s.attachStream(stream)
}

// Reap removes long-failed entries from the active session.
func (a *Agent) Reap(grace time.Duration) []string {
	s := a.current()
	if s == nil {
		return nil
	}
	removed := s.registry.Reap(grace)
	if len(removed) > 0 {
		a.log.Info("reaped failed peers", zap.Strings("remote_ids", removed))
	}
	return removed
}

func (a *Agent) Active() bool {
	return a.current() != nil
}

// Session returns the active session or nil.
func (a *Agent) Session() *Session {
	return a.current()
}

func (a *Agent) Status() Status {
	s := a.current()
	if s == nil {
		return Status{}
	}
	info := s.Info()
	return Status{Active: true, Session: &info}
}

// Logger is the agent's logger, including the status stream tee.
func (a *Agent) Logger() *zap.Logger {
	return a.log
}

func (a *Agent) current() *Session {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.active
}

func (a *Agent) setActive(s *Session) {
	a.mu.Lock()
	a.active = s
	a.mu.Unlock()
}

func (a *Agent) alreadyActive() error {
	err := apperrors.NewAppError(apperrors.ErrCodeAlreadyActive, "a session is already active")
	a.log.Warn("start rejected", zap.Error(err))
	return err
}

func (a *Agent) releaseStream(stream MediaStream) {
	if stream == nil {
		return
	}
	if err := stream.Stop(); err != nil {
		a.log.Warn("release local media", zap.Error(err))
	}
}
