package kvs

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/LingByte/kvs-agent/pkg/errors"
	"github.com/LingByte/kvs-agent/pkg/webrtc/agent"
	"github.com/LingByte/kvs-agent/pkg/webrtc/rtcmedia/config"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesisvideo"
	kvtypes "github.com/aws/aws-sdk-go-v2/service/kinesisvideo/types"
	"github.com/aws/aws-sdk-go-v2/service/kinesisvideosignaling"
	"github.com/patrickmn/go-cache"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	endpointTTL = 10 * time.Minute
	// TURN credentials are handed out for a few minutes; renew before they lapse
	iceMinTTL    = 30 * time.Second
	iceTTLMargin = 30 * time.Second
)

// ChannelAPI is the control-plane subset the resolver needs.
type ChannelAPI interface {
	DescribeSignalingChannel(ctx context.Context, in *kinesisvideo.DescribeSignalingChannelInput, optFns ...func(*kinesisvideo.Options)) (*kinesisvideo.DescribeSignalingChannelOutput, error)
	GetSignalingChannelEndpoint(ctx context.Context, in *kinesisvideo.GetSignalingChannelEndpointInput, optFns ...func(*kinesisvideo.Options)) (*kinesisvideo.GetSignalingChannelEndpointOutput, error)
}

// ICEConfigAPI is served from the channel's HTTPS endpoint.
type ICEConfigAPI interface {
	GetIceServerConfig(ctx context.Context, in *kinesisvideosignaling.GetIceServerConfigInput, optFns ...func(*kinesisvideosignaling.Options)) (*kinesisvideosignaling.GetIceServerConfigOutput, error)
}

// Endpoints locates a signaling channel for one role.
type Endpoints struct {
	ChannelARN string
	WSS        string
	HTTPS      string
}

// Resolver turns a channel name into endpoints and ICE servers, caching both.
type Resolver struct {
	region   string
	channels ChannelAPI
	ice      func(httpsEndpoint string) ICEConfigAPI
	cache    *cache.Cache
	group    singleflight.Group
	log      *zap.Logger
}

func NewResolver(region string, channels ChannelAPI, ice func(httpsEndpoint string) ICEConfigAPI, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{
		region:   region,
		channels: channels,
		ice:      ice,
		cache:    cache.New(endpointTTL, endpointTTL),
		log:      log,
	}
}

// NewAWSResolver wires the resolver to the real service clients.
func NewAWSResolver(cfg aws.Config, log *zap.Logger) *Resolver {
	return NewResolver(cfg.Region, kinesisvideo.NewFromConfig(cfg), func(endpoint string) ICEConfigAPI {
		return kinesisvideosignaling.NewFromConfig(cfg, func(o *kinesisvideosignaling.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}, log)
}

// Endpoints resolves the channel ARN and the role's WSS and HTTPS endpoints.
func (r *Resolver) Endpoints(ctx context.Context, channelName string, role agent.Role) (Endpoints, error) {
	key := "endpoints/" + channelName + "/" + role.String()
	if v, ok := r.cache.Get(key); ok {
		return v.(Endpoints), nil
	}

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		ep, err := r.lookupEndpoints(ctx, channelName, role)
		if err != nil {
			return nil, err
		}
		r.cache.SetDefault(key, ep)
		return ep, nil
	})
	if err != nil {
		return Endpoints{}, err
	}
	return v.(Endpoints), nil
}

func (r *Resolver) lookupEndpoints(ctx context.Context, channelName string, role agent.Role) (Endpoints, error) {
	described, err := r.channels.DescribeSignalingChannel(ctx, &kinesisvideo.DescribeSignalingChannelInput{
		ChannelName: aws.String(channelName),
	})
	if err != nil {
		return Endpoints{}, lookupError("describe signaling channel %q", channelName, err)
	}
	if described.ChannelInfo == nil || aws.ToString(described.ChannelInfo.ChannelARN) == "" {
		return Endpoints{}, apperrors.NewAppErrorf(apperrors.ErrCodeChannelLookup, "channel %q has no ARN", channelName)
	}
	ep := Endpoints{ChannelARN: aws.ToString(described.ChannelInfo.ChannelARN)}

	channelRole := kvtypes.ChannelRoleMaster
	if role == agent.RoleViewer {
		channelRole = kvtypes.ChannelRoleViewer
	}
	out, err := r.channels.GetSignalingChannelEndpoint(ctx, &kinesisvideo.GetSignalingChannelEndpointInput{
		ChannelARN: aws.String(ep.ChannelARN),
		SingleMasterChannelEndpointConfiguration: &kvtypes.SingleMasterChannelEndpointConfiguration{
			Protocols: []kvtypes.ChannelProtocol{kvtypes.ChannelProtocolWss, kvtypes.ChannelProtocolHttps},
			Role:      channelRole,
		},
	})
	if err != nil {
		return Endpoints{}, lookupError("get endpoints for %q", channelName, err)
	}
	for _, item := range out.ResourceEndpointList {
		switch item.Protocol {
		case kvtypes.ChannelProtocolWss:
			ep.WSS = aws.ToString(item.ResourceEndpoint)
		case kvtypes.ChannelProtocolHttps:
			ep.HTTPS = aws.ToString(item.ResourceEndpoint)
		}
	}
	if ep.WSS == "" || ep.HTTPS == "" {
		return Endpoints{}, apperrors.NewAppErrorf(apperrors.ErrCodeChannelLookup, "channel %q is missing a WSS or HTTPS endpoint", channelName)
	}

	r.log.Info("signaling channel resolved",
		zap.String("channel", channelName),
		zap.String("channel_arn", ep.ChannelARN),
		zap.String("role", role.String()),
		zap.String("wss", ep.WSS))
	return ep, nil
}

// ICEServers returns the regional STUN server followed by the channel's TURN servers.
func (r *Resolver) ICEServers(ctx context.Context, ep Endpoints, clientID string) ([]webrtc.ICEServer, error) {
	key := "ice/" + ep.ChannelARN + "/" + clientID
	if v, ok := r.cache.Get(key); ok {
		return v.([]webrtc.ICEServer), nil
	}

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		in := &kinesisvideosignaling.GetIceServerConfigInput{ChannelARN: aws.String(ep.ChannelARN)}
		if clientID != "" {
			in.ClientId = aws.String(clientID)
		}
		out, err := r.ice(ep.HTTPS).GetIceServerConfig(ctx, in)
		if err != nil {
			return nil, lookupError("get ICE server config for %q", ep.ChannelARN, err)
		}

		servers := []webrtc.ICEServer{config.KVSStunServer(r.region)}
		ttl := time.Duration(0)
		for _, s := range out.IceServerList {
			servers = append(servers, webrtc.ICEServer{
				URLs:           s.Uris,
				Username:       aws.ToString(s.Username),
				Credential:     aws.ToString(s.Password),
				CredentialType: webrtc.ICECredentialTypePassword,
			})
			if s.Ttl != nil {
				if t := time.Duration(*s.Ttl) * time.Second; ttl == 0 || t < ttl {
					ttl = t
				}
			}
		}
		if ttl -= iceTTLMargin; ttl >= iceMinTTL {
			r.cache.Set(key, servers, ttl)
		}
		r.log.Debug("ICE servers resolved", zap.Int("turn_servers", len(out.IceServerList)))
		return servers, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]webrtc.ICEServer), nil
}

// Invalidate drops cached endpoints and ICE servers. The Connector calls it
// when the service sends RECONNECT_ICE_SERVER.
func (r *Resolver) Invalidate() {
	r.cache.Flush()
}

func lookupError(format, subject string, err error) error {
	if apperrors.IsAppError(err) {
		return err
	}
	return apperrors.NewAppError(apperrors.ErrCodeChannelLookup, fmt.Sprintf(format, subject)).WithCause(err)
}
