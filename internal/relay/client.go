// Package relay is the sending side of the backend channel: the task API uses
// it to push a notification to a user's live notification connection.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/flowboard/hub/pkg/protocol"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("relay client closed")

// Notifier sends a notification to one user. message is an envelope-shaped
// object forwarded verbatim, or a string the hub wraps into a system
// envelope. Delivery is best effort: a nil error does not mean the user was
// connected.
type Notifier interface {
	SendNotificationToUser(ctx context.Context, userID string, message any) error
}

// Client keeps one outbound WebSocket to the hub's backend channel. The
// connection is dialed on first use and redialed once when a write fails.
type Client struct {
	url       string
	key       string
	dialer    *websocket.Dialer
	writeWait time.Duration
	logger    *zap.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewClient creates a relay client for the hub at hubURL (ws:// or wss://)
// authenticating with key.
func NewClient(hubURL, key string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		url:       hubURL,
		key:       key,
		dialer:    websocket.DefaultDialer,
		writeWait: 10 * time.Second,
		logger:    logger.Named("relay"),
	}
}

// SendNotificationToUser implements Notifier.
func (c *Client) SendNotificationToUser(ctx context.Context, userID string, message any) error {
	frame, err := protocol.NewRelayFrame(userID, message)
	if err != nil {
		return err
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal relay frame: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	err = c.writeLocked(ctx, data)
	if err == nil {
		return nil
	}
	c.logger.Warn("relay write failed, redialing", zap.Error(err))

	c.dropLocked(c.conn)
	return c.writeLocked(ctx, data)
}

func (c *Client) writeLocked(ctx context.Context, data []byte) error {
	if c.conn == nil {
		conn, err := c.dial(ctx)
		if err != nil {
			return err
		}
		c.conn = conn
		go c.readLoop(conn)
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return nil, fmt.Errorf("parse hub url: %w", err)
	}
	params := &protocol.ConnectParams{Channel: protocol.ChannelBackend, Session: c.key}
	u.RawQuery = params.Query().Encode()

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial hub: %w", err)
	}
	c.logger.Info("relay connected", zap.String("url", c.url))
	return conn, nil
}

// readLoop consumes frames so control frames are answered and a server close
// is noticed. The hub never sends data on this channel.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code == protocol.CodeInvalidRelayKey {
				c.logger.Error("hub refused relay key")
			} else {
				c.logger.Debug("relay connection closed", zap.Error(err))
			}

			c.mu.Lock()
			c.dropLocked(conn)
			c.mu.Unlock()
			return
		}
	}
}

// dropLocked forgets conn if it is still the current connection.
func (c *Client) dropLocked(conn *websocket.Conn) {
	if conn == nil {
		return
	}
	conn.Close()
	if c.conn == conn {
		c.conn = nil
	}
}

// Close closes the connection. Further sends return ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.conn == nil {
		return nil
	}

	conn := c.conn
	c.conn = nil
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeWait))
	return conn.Close()
}
