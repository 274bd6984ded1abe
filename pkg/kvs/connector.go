package kvs

import (
	"context"
	"sync"
	"time"

	"github.com/LingByte/kvs-agent/pkg/constants"
	apperrors "github.com/LingByte/kvs-agent/pkg/errors"
	"github.com/LingByte/kvs-agent/pkg/utils"
	"github.com/LingByte/kvs-agent/pkg/webrtc/agent"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// LoadAWSConfig builds an SDK config from the bundle. Without static keys
// the default credential chain applies.
func LoadAWSConfig(ctx context.Context, b agent.CredentialBundle) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(b.Region)}
	if b.HasStaticKeys() {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(b.AccessKeyID, b.SecretAccessKey, b.SessionToken)))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

// Connector resolves a channel and hands back an unopened signaling client.
// It implements agent.Connector.
type Connector struct {
	PingPeriod time.Duration
	Dialer     *websocket.Dialer
	Logger     *zap.Logger

	// overridable for tests
	LoadConfig  func(ctx context.Context, b agent.CredentialBundle) (aws.Config, error)
	NewResolver func(cfg aws.Config, log *zap.Logger) *Resolver
	Now         func() time.Time

	mu        sync.Mutex
	resolvers map[string]*Resolver
}

func NewConnector(pingPeriod time.Duration, log *zap.Logger) *Connector {
	return &Connector{PingPeriod: pingPeriod, Logger: log}
}

func (c *Connector) Connect(ctx context.Context, role agent.Role, b agent.CredentialBundle) (agent.SignalingTransport, []webrtc.ICEServer, error) {
	log := c.Logger
	if log == nil {
		log = zap.NewNop()
	}
	loadConfig := c.LoadConfig
	if loadConfig == nil {
		loadConfig = LoadAWSConfig
	}
	now := c.Now
	if now == nil {
		now = time.Now
	}

	cfg, err := loadConfig(ctx, b)
	if err != nil {
		return nil, nil, apperrors.NewAppError(apperrors.ErrCodeInvalidConfig, "load AWS config").WithCause(err)
	}
	resolver := c.resolverFor(b, cfg, log)

	ep, err := resolver.Endpoints(ctx, b.ChannelName, role)
	if err != nil {
		return nil, nil, err
	}

	clientID := ""
	if role == agent.RoleViewer {
		clientID = b.ClientID
		if clientID == "" {
			if clientID, err = utils.NewClientID(constants.ViewerIDPrefix); err != nil {
				return nil, nil, apperrors.WrapError(apperrors.ErrCodeInternal, err)
			}
		}
	}

	iceServers, err := resolver.ICEServers(ctx, ep, clientID)
	if err != nil {
		return nil, nil, err
	}

	transport := NewSignalingClient(ClientOptions{
		PingPeriod: c.PingPeriod,
		Dialer:     c.Dialer,
		Logger:     log.With(zap.String("channel", b.ChannelName)),
		OnServiceEvent: func(se *ServiceEvent) {
			if se.Type != TypeReconnectICEServer {
				return
			}
			// TURN credentials are about to rotate; the next Connect refetches
			resolver.Invalidate()
			log.Info("ice server config invalidated", zap.String("channel", b.ChannelName))
		},
		URL: func(ctx context.Context) (string, error) {
			creds, err := cfg.Credentials.Retrieve(ctx)
			if err != nil {
				return "", apperrors.NewAppError(apperrors.ErrCodeInvalidConfig, "retrieve AWS credentials").WithCause(err)
			}
			return PresignURL(ctx, creds, ep.WSS, ep.ChannelARN, clientID, cfg.Region, now())
		},
	})

	log.Info("signaling channel ready",
		zap.String("channel", b.ChannelName),
		zap.String("role", role.String()),
		zap.String("client_id", clientID),
		zap.Int("ice_servers", len(iceServers)))
	return transport, iceServers, nil
}

// resolverFor keeps one resolver (and its cache) per region and identity.
func (c *Connector) resolverFor(b agent.CredentialBundle, cfg aws.Config, log *zap.Logger) *Resolver {
	key := b.Region + "/" + b.AccessKeyID
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.resolvers[key]; ok {
		return r
	}
	newResolver := c.NewResolver
	if newResolver == nil {
		newResolver = NewAWSResolver
	}
	if c.resolvers == nil {
		c.resolvers = make(map[string]*Resolver)
	}
	r := newResolver(cfg, log)
	c.resolvers[key] = r
	return r
}
