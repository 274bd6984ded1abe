package api

import (
	"context"
	"io"
	"net/http"
	"time"

	apperrors "github.com/LingByte/kvs-agent/pkg/errors"
	"github.com/LingByte/kvs-agent/pkg/webrtc/agent"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	startTimeout   = 30 * time.Second
	eventsBuffer   = 64
	eventsBackfill = 20
)

// Controller is the part of the agent the HTTP surface drives.
type Controller interface {
	Start(ctx context.Context, role agent.Role, bundle agent.CredentialBundle) (*agent.Session, error)
	Stop()
	Status() agent.Status
}

type Options struct {
	Agent    Controller
	Status   *agent.StatusStream
	Gatherer prometheus.Gatherer
	// Defaults fills fields a start request leaves empty.
	Defaults StartRequest
	Logger   *zap.Logger
	Debug    bool
}

// StartRequest POST /api/session/start body
type StartRequest struct {
	Role            string `json:"role"`
	Region          string `json:"region"`
	ChannelName     string `json:"channelName"`
	ClientID        string `json:"clientId"`
	AccessKeyID     string `json:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey"`
	SessionToken    string `json:"sessionToken"`
}

// merge keeps req's non-empty fields. Keys travel as a pair so a request
// never mixes its access key with a default secret.
func (req StartRequest) merge(def StartRequest) StartRequest {
	out := def
	if req.Role != "" {
		out.Role = req.Role
	}
	if req.Region != "" {
		out.Region = req.Region
	}
	if req.ChannelName != "" {
		out.ChannelName = req.ChannelName
	}
	if req.ClientID != "" {
		out.ClientID = req.ClientID
	}
	if req.AccessKeyID != "" || req.SecretAccessKey != "" {
		out.AccessKeyID, out.SecretAccessKey, out.SessionToken = req.AccessKeyID, req.SecretAccessKey, req.SessionToken
	}
	return out
}

func (req StartRequest) bundle() agent.CredentialBundle {
	return agent.CredentialBundle{
		AccessKeyID:     req.AccessKeyID,
		SecretAccessKey: req.SecretAccessKey,
		SessionToken:    req.SessionToken,
		Region:          req.Region,
		ChannelName:     req.ChannelName,
		ClientID:        req.ClientID,
	}
}

type handlers struct {
	opts Options
	log  *zap.Logger
}

// NewRouter builds the status and control API.
func NewRouter(opts Options) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if !opts.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false

	h := &handlers{opts: opts, log: opts.Logger}

	r.GET("/healthz", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api")
	api.GET("/status", h.status)
	api.GET("/peers", h.peers)
	api.POST("/session/start", h.start)
	api.POST("/session/stop", h.stop)
	api.GET("/events", h.events)
	return r
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "active": h.opts.Agent.Status().Active})
}

func (h *handlers) status(c *gin.Context) {
	c.JSON(http.StatusOK, h.opts.Agent.Status())
}

// GET /api/peers lists the connection entries of the active session
func (h *handlers) peers(c *gin.Context) {
	st := h.opts.Agent.Status()
	if st.Session == nil {
		c.JSON(http.StatusOK, gin.H{"peers": []agent.EntryInfo{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": st.Session.ID, "peers": st.Session.Peers})
}

func (h *handlers) start(c *gin.Context) {
	var req StartRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.fail(c, apperrors.NewAppError(apperrors.ErrCodeInvalidInput, "invalid start request").WithCause(err))
			return
		}
	}
	req = req.merge(h.opts.Defaults)

	role, err := agent.ParseRole(req.Role)
	if err != nil {
		h.fail(c, err)
		return
	}

	// the session outlives this request
	ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
	defer cancel()
	if _, err := h.opts.Agent.Start(ctx, role, req.bundle()); err != nil {
		h.fail(c, err)
		return
	}
	h.log.Info("session started via api", zap.Any("bundle", req.bundle().Redacted()))
	c.JSON(http.StatusCreated, h.opts.Agent.Status())
}

func (h *handlers) stop(c *gin.Context) {
	h.opts.Agent.Stop()
	c.JSON(http.StatusOK, h.opts.Agent.Status())
}

// GET /api/events streams status events as SSE
func (h *handlers) events(c *gin.Context) {
	if h.opts.Status == nil {
		h.fail(c, apperrors.NewAppError(apperrors.ErrCodeNotFound, "status stream disabled"))
		return
	}
	ch, cancel := h.opts.Status.Subscribe(eventsBuffer)
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	for _, ev := range h.opts.Status.Recent(eventsBackfill) {
		c.SSEvent("status", ev)
	}
	c.Writer.Flush()

	done := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-done:
			return false
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("status", ev)
			return true
		}
	})
}

func (h *handlers) fail(c *gin.Context, err error) {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		appErr = apperrors.WrapError(apperrors.ErrCodeInternal, err)
	}
	status := apperrors.StatusCode(appErr)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	} else {
		h.log.Warn("request rejected", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": appErr})
}
