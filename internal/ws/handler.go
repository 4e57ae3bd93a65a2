package ws

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/flowboard/hub/internal/model"
	"github.com/flowboard/hub/pkg/protocol"
)

// frameFunc handles one inbound frame from an accepted client.
type frameFunc func(c *Client, data []byte)

// Handler upgrades HTTP requests and runs the per-connection protocol.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *zap.Logger

	sendBuffer     int
	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
	maxMessageSize int64
}

// NewHandler creates a new WebSocket handler for hub.
func NewHandler(hub *Hub, config Config, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.SendBuffer <= 0 {
		config.SendBuffer = DefaultSendBuffer
	}
	if config.SendBuffer < MinSendBuffer {
		config.SendBuffer = MinSendBuffer
	}
	if config.WriteWait <= 0 {
		config.WriteWait = DefaultWriteWait
	}
	if config.PongWait < 0 {
		config.PongWait = 0
	}

	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(config.AllowedOrigins),
		},
		logger:         logger.Named("ws"),
		sendBuffer:     config.SendBuffer,
		writeWait:      config.WriteWait,
		pongWait:       config.PongWait,
		pingPeriod:     (config.PongWait * 9) / 10,
		maxMessageSize: config.MaxMessageSize,
	}
}

// NormalizeOrigin reduces an origin or allow-list entry to its lowercased
// scheme://host form. It reports false when the value has no scheme or host.
func NormalizeOrigin(origin string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme + "://" + u.Host), true
}

// OriginAllowed builds the origin check shared by the upgrader and the HTTP
// CORS middleware. An empty list or a "*" entry allows everything; a missing
// Origin header is always allowed.
func OriginAllowed(allowed []string) func(origin string) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(string) bool { return true }
		}
		if n, ok := NormalizeOrigin(o); ok {
			set[n] = struct{}{}
		}
	}
	if len(allowed) == 0 {
		return func(string) bool { return true }
	}

	return func(origin string) bool {
		if origin == "" {
			return true
		}
		n, ok := NormalizeOrigin(origin)
		if !ok {
			return false
		}
		_, ok = set[n]
		return ok
	}
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	allow := OriginAllowed(allowed)
	return func(r *http.Request) bool {
		return allow(r.Header.Get("Origin"))
	}
}

// ServeHTTP upgrades the request and blocks until the connection is done.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.HandleConnection(w, r); err != nil {
		h.logger.Debug("upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
	}
}

// HandleConnection upgrades the HTTP connection and serves it until either
// side closes. Parameter, credential and membership failures are reported as
// close frames after the upgrade; only an upgrade failure returns an error.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	h.serve(r.Context(), conn, r.URL.Query())
	return nil
}

func (h *Handler) serve(ctx context.Context, conn *websocket.Conn, query url.Values) {
	params, err := protocol.ParseConnectParams(query)
	if err != nil {
		h.logger.Info("rejecting connection", zap.Error(err))
		h.reject(conn, protocol.CodeInvalidParams, protocol.ReasonInvalidParams, RejectInvalidParams)
		return
	}

	switch params.Channel {
	case protocol.ChannelBackend:
		h.serveBackend(conn, params)
	case protocol.ChannelNotification:
		h.serveNotification(ctx, conn, params)
	case protocol.ChannelChatroom:
		h.serveChatroom(ctx, conn, params)
	}
}

func (h *Handler) serveBackend(conn *websocket.Conn, params *protocol.ConnectParams) {
	if !h.hub.CheckRelayKey(params.Session) {
		h.logger.Warn("rejecting relay connection with invalid key", zap.String("remote", conn.RemoteAddr().String()))
		h.reject(conn, protocol.CodeInvalidRelayKey, "", RejectInvalidRelayKey)
		return
	}

	c := NewClient(conn, protocol.ChannelBackend, nil, "", h.sendBuffer)
	h.logger.Info("relay connected", zap.String("conn_id", c.ID()))
	h.run(c, nil, h.handleRelayFrame, func() {
		h.logger.Info("relay disconnected", zap.String("conn_id", c.ID()))
	})
}

func (h *Handler) serveNotification(ctx context.Context, conn *websocket.Conn, params *protocol.ConnectParams) {
	user, ok := h.authenticate(ctx, conn, params.Session)
	if !ok {
		return
	}

	c := NewClient(conn, protocol.ChannelNotification, user, "", h.sendBuffer)
	if old := h.hub.notifications.Register(user.ID, c); old != nil {
		h.logger.Info("notification connection replaced",
			zap.String("user_id", user.ID),
			zap.String("old_conn_id", old.ID()),
			zap.String("conn_id", c.ID()),
		)
	}

	h.run(c, nil, nil, func() {
		h.hub.notifications.Unregister(user.ID, c)
	})
}

func (h *Handler) serveChatroom(ctx context.Context, conn *websocket.Conn, params *protocol.ConnectParams) {
	user, ok := h.authenticate(ctx, conn, params.Session)
	if !ok {
		return
	}

	member, err := h.hub.members.IsMember(ctx, params.Chatroom, user.ID)
	if err != nil {
		h.logger.Error("membership check failed",
			zap.String("room", params.Chatroom),
			zap.String("user_id", user.ID),
			zap.Error(err),
		)
		h.reject(conn, websocket.CloseInternalServerErr, "", RejectInternal)
		return
	}
	if !member {
		h.logger.Info("rejecting non-member",
			zap.String("room", params.Chatroom),
			zap.String("user_id", user.ID),
		)
		h.reject(conn, protocol.CodeForbidden, protocol.ReasonForbidden, RejectForbidden)
		return
	}

	c := NewClient(conn, protocol.ChannelChatroom, user, params.Chatroom, h.sendBuffer)
	h.run(c, h.hub.joinRoom, h.hub.chat, func() {
		h.hub.leaveRoom(c)
	})
}

// authenticate resolves the session token, closing conn on failure.
func (h *Handler) authenticate(ctx context.Context, conn *websocket.Conn, token string) (*model.User, bool) {
	user, err := h.hub.auth.Authenticate(ctx, token)
	switch {
	case err == nil:
		return user, true
	case errors.Is(err, model.ErrUnauthorized):
		h.logger.Info("rejecting connection with invalid session", zap.Error(err))
		h.reject(conn, protocol.CodeAuthFailed, protocol.ReasonAuthFailed, RejectAuthFailed)
	default:
		h.logger.Error("session lookup failed", zap.Error(err))
		h.reject(conn, websocket.CloseInternalServerErr, "", RejectInternal)
	}
	return nil, false
}

func (h *Handler) handleRelayFrame(_ *Client, data []byte) {
	delivered, err := h.hub.Relay(data)
	if err != nil {
		h.logger.Warn("dropping malformed relay frame", zap.Error(err))
		return
	}
	if !delivered {
		h.logger.Debug("relay frame had no live recipient")
	}
}

// reject sends a close frame and drops the connection before any client
// state exists for it.
func (h *Handler) reject(conn *websocket.Conn, code int, reason, label string) {
	h.hub.metrics.Rejections.WithLabelValues(label).Inc()

	msg := websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.writeWait)); err != nil {
		h.logger.Debug("failed to write close frame", zap.Error(err))
	}
	conn.Close()
}

// run pumps c until the peer goes away, then runs onClose. onOpen runs once
// the write pump is draining. onFrame may be nil to discard inbound frames.
func (h *Handler) run(c *Client, onOpen func(*Client), onFrame frameFunc, onClose func()) {
	h.hub.track(c)
	go h.writePump(c)

	if onOpen != nil {
		onOpen(c)
	}

	h.readPump(c, onFrame)

	c.Close()
	if onClose != nil {
		onClose()
	}
	h.hub.untrack(c)
}

// readPump reads frames from the connection until it fails or closes.
func (h *Handler) readPump(c *Client, onFrame frameFunc) {
	conn := c.Conn()
	if h.maxMessageSize > 0 {
		conn.SetReadLimit(h.maxMessageSize)
	}
	if h.pongWait > 0 {
		conn.SetReadDeadline(time.Now().Add(h.pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(h.pongWait))
			return nil
		})
	}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read error", zap.String("conn_id", c.ID()), zap.Error(err))
			}
			return
		}

		if onFrame != nil {
			onFrame(c, message)
		}
	}
}

// closeMessage is the close frame for a client whose send channel was closed.
// Evicted slow consumers are told to come back later.
func closeMessage(c *Client) []byte {
	if c.Evicted() {
		return websocket.FormatCloseMessage(protocol.CodeSlowConsumer, protocol.ReasonSlowConsumer)
	}
	return websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
}

// writePump writes queued messages to the connection and sends pings.
func (h *Handler) writePump(c *Client) {
	conn := c.Conn()

	var tick <-chan time.Time
	if h.pingPeriod > 0 {
		ticker := time.NewTicker(h.pingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer func() {
		c.markClosed()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.SendChan():
			conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, closeMessage(c))
				return
			}

			// One envelope per frame so the peer can JSON.parse each one
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-tick:
			conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
