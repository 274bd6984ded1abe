package kvs

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	apperrors "github.com/LingByte/kvs-agent/pkg/errors"
	"github.com/LingByte/kvs-agent/pkg/protocol"
	"github.com/LingByte/kvs-agent/pkg/utils"
	"github.com/LingByte/kvs-agent/pkg/webrtc/agent"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 5 * time.Second

// URLFunc returns a freshly signed connect URL.
type URLFunc func(ctx context.Context) (string, error)

// SignalingClient is the websocket leg of a signaling channel. It implements
// agent.SignalingTransport.
type SignalingClient struct {
	url            URLFunc
	dialer         *websocket.Dialer
	pingPeriod     time.Duration
	onServiceEvent func(*ServiceEvent)
	log            *zap.Logger

	mu      sync.Mutex
	events  agent.TransportEvents
	conn    *websocket.Conn
	closing bool
	done    chan struct{}
	wg      sync.WaitGroup

	writeMu sync.Mutex
}

type ClientOptions struct {
	URL        URLFunc
	Dialer     *websocket.Dialer
	PingPeriod time.Duration
	// OnServiceEvent sees STATUS_RESPONSE, GO_AWAY and RECONNECT_ICE_SERVER
	// before they are reported through OnError.
	OnServiceEvent func(*ServiceEvent)
	Logger         *zap.Logger
}

func NewSignalingClient(opts ClientOptions) *SignalingClient {
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &SignalingClient{
		url:            opts.URL,
		dialer:         opts.Dialer,
		pingPeriod:     opts.PingPeriod,
		onServiceEvent: opts.OnServiceEvent,
		log:            opts.Logger,
		done:           make(chan struct{}),
	}
}

func (c *SignalingClient) SetEvents(events agent.TransportEvents) {
	c.mu.Lock()
	c.events = events
	c.mu.Unlock()
}

// Open dials the channel and starts the read (and ping) loops.
func (c *SignalingClient) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return errors.New("signaling client closed")
	}
	if c.conn != nil {
		c.mu.Unlock()
		return errors.New("signaling client already open")
	}
	c.mu.Unlock()

	target, err := c.url(ctx)
	if err != nil {
		return err
	}
	conn, resp, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			c.log.Error("signaling handshake rejected", zap.Int("status", resp.StatusCode))
		}
		return err
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		_ = conn.Close()
		return errors.New("signaling client closed")
	}
	c.conn = conn
	events := c.events
	c.mu.Unlock()

	c.wg.Add(1)
	go c.readLoop(conn)
	if c.pingPeriod > 0 {
		c.wg.Add(1)
		go c.pingLoop(conn)
	}

	if events.OnOpen != nil {
		events.OnOpen()
	}
	return nil
}

// Send writes one message. Writes are serialized; gorilla allows one writer.
func (c *SignalingClient) Send(msg protocol.SignalingMessage) error {
	data, err := EncodeMessage(msg)
	if err != nil {
		return apperrors.NewAppError(apperrors.ErrCodeInvalidMessage, "encode signaling message").WithCause(err)
	}

	c.mu.Lock()
	conn := c.conn
	closing := c.closing
	c.mu.Unlock()
	if conn == nil || closing {
		return apperrors.NewAppError(apperrors.ErrCodeTransportError, "signaling channel is not open")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Close ends the connection and waits for the loops. It does not raise OnClose.
func (c *SignalingClient) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	conn := c.conn
	close(c.done)
	c.mu.Unlock()

	var err error
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		c.writeMu.Unlock()
		err = conn.Close()
	}
	c.wg.Wait()
	return err
}

func (c *SignalingClient) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

func (c *SignalingClient) currentEvents() agent.TransportEvents {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events
}

func (c *SignalingClient) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.isClosing() {
				return
			}
			events := c.currentEvents()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && events.OnError != nil {
				events.OnError(err)
			}
			if events.OnClose != nil {
				events.OnClose()
			}
			return
		}

		// the service sends empty frames as keep-alives
		if len(bytes.TrimSpace(data)) == 0 {
			continue
		}
		msg, err := DecodeMessage(data)
		if err != nil {
			var se *ServiceEvent
			if errors.As(err, &se) {
				if c.onServiceEvent != nil {
					c.onServiceEvent(se)
				}
				if events := c.currentEvents(); events.OnError != nil {
					events.OnError(se)
				}
				continue
			}
			c.log.Warn("dropping undecodable signaling frame",
				zap.Error(err),
				zap.Int("bytes", len(data)),
				zap.String("frame", utils.Preview(string(data), 64)))
			continue
		}
		if events := c.currentEvents(); events.OnMessage != nil {
			events.OnMessage(msg)
		}
	}
}

func (c *SignalingClient) pingLoop(conn *websocket.Conn) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				c.log.Debug("signaling ping failed", zap.Error(err))
				return
			}
		}
	}
}
