package ws

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/flowboard/hub/internal/model"
	"github.com/flowboard/hub/pkg/protocol"
)

const (
	// DefaultSendBuffer is the per-client outbound queue length.
	DefaultSendBuffer = 256

	// MinSendBuffer holds a joiner's welcome and its own joined envelope.
	MinSendBuffer = 2

	// DefaultWriteWait is the time allowed to write a message to the peer.
	DefaultWriteWait = 10 * time.Second

	// DefaultPongWait is the time allowed to read the next pong message from
	// the peer.
	DefaultPongWait = 60 * time.Second
)

// Authenticator resolves a session token to a user. Failures that mean "the
// token is not good" must match model.ErrUnauthorized.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.User, error)
}

// MembershipChecker answers whether a user may join a workspace chatroom.
type MembershipChecker interface {
	IsMember(ctx context.Context, workspaceID, userID string) (bool, error)
}

// Config holds the hub's connection settings.
type Config struct {
	SendBuffer int
	WriteWait  time.Duration
	// PongWait of zero disables keepalive pings.
	PongWait time.Duration
	// MaxMessageSize of zero leaves inbound frames unbounded.
	MaxMessageSize int64

	// AllowedOrigins restricts the upgrade Origin header; empty allows all.
	AllowedOrigins []string
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		SendBuffer: DefaultSendBuffer,
		WriteWait:  DefaultWriteWait,
		PongWait:   DefaultPongWait,
	}
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Rooms         []RoomStats `json:"rooms"`
	Notifications int         `json:"notifications"`
	Connections   int         `json:"connections"`
}

// Hub owns the live connection state of one process: the chatroom table,
// the notification registry and the relay credential. It is created once and
// shared by every connection handler.
type Hub struct {
	auth    Authenticator
	members MembershipChecker

	rooms         *RoomManager
	notifications *NotificationRegistry

	relayKey atomic.Pointer[string]

	mu      sync.Mutex
	clients map[*Client]struct{}

	metrics *Metrics
	logger  *zap.Logger
}

// NewHub creates a new hub. relayKey is the shared secret the backend channel
// must present; an empty key refuses every relay connection. metrics and
// logger may be nil.
func NewHub(auth Authenticator, members MembershipChecker, relayKey string, metrics *Metrics, logger *zap.Logger) *Hub {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	h := &Hub{
		auth:          auth,
		members:       members,
		rooms:         NewRoomManager(metrics.Rooms),
		notifications: NewNotificationRegistry(),
		clients:       make(map[*Client]struct{}),
		metrics:       metrics,
		logger:        logger.Named("hub"),
	}
	h.SetRelayKey(relayKey)
	return h
}

// Rooms returns the chatroom table.
func (h *Hub) Rooms() *RoomManager {
	return h.rooms
}

// Notifications returns the notification registry.
func (h *Hub) Notifications() *NotificationRegistry {
	return h.notifications
}

// Metrics returns the hub's collectors.
func (h *Hub) Metrics() *Metrics {
	return h.metrics
}

// SetRelayKey replaces the relay credential. Connections already accepted on
// the backend channel are not affected.
func (h *Hub) SetRelayKey(key string) {
	h.relayKey.Store(&key)
}

// CheckRelayKey compares key to the configured relay credential in constant
// time.
func (h *Hub) CheckRelayKey(key string) bool {
	want := h.relayKey.Load()
	if want == nil || *want == "" || key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(*want)) == 1
}

// Deliver sends payload to userID's notification connection. It returns false
// when the user has no open notification connection.
func (h *Hub) Deliver(userID string, payload []byte) bool {
	c := h.notifications.Lookup(userID)
	if c == nil || !c.Send(payload) {
		h.metrics.RelayFrames.WithLabelValues(RelayAbsent).Inc()
		h.logger.Debug("notification recipient not connected", zap.String("user_id", userID))
		return false
	}

	h.metrics.RelayFrames.WithLabelValues(RelayDelivered).Inc()
	return true
}

// Relay parses a raw relay frame and delivers it. Malformed frames return an
// error matching protocol.ErrInvalidRelayFrame and are counted.
func (h *Hub) Relay(data []byte) (bool, error) {
	frame, err := protocol.ParseRelayFrame(data)
	if err != nil {
		h.metrics.RelayFrames.WithLabelValues(RelayMalformed).Inc()
		return false, err
	}
	return h.RelayFrame(frame)
}

// RelayFrame delivers an already decoded relay frame.
func (h *Hub) RelayFrame(frame *protocol.RelayFrame) (bool, error) {
	payload, err := frame.Payload()
	if err != nil {
		h.metrics.RelayFrames.WithLabelValues(RelayMalformed).Inc()
		return false, err
	}
	return h.Deliver(frame.UserID, payload), nil
}

// joinRoom adds c to its room, welcomes it and announces it to the room,
// itself included.
func (h *Hub) joinRoom(c *Client) {
	room := c.Room()
	name := c.DisplayName()

	// Not yet a member, so nothing can be queued ahead of the welcome.
	h.sendEnvelope(c, protocol.Welcome(room, name))
	if err := h.rooms.JoinAndBroadcast(room, c, protocol.Joined(name)); err != nil {
		h.logger.Error("failed to encode envelope", zap.String("room", room), zap.Error(err))
	} else {
		h.metrics.Broadcasts.Inc()
	}

	h.logger.Info("chatroom member joined",
		zap.String("room", room),
		zap.String("user_id", c.UserID()),
		zap.String("conn_id", c.ID()),
	)
}

// leaveRoom removes c from its room and announces the departure if anyone is
// left to hear it.
func (h *Hub) leaveRoom(c *Client) {
	room := c.Room()
	remaining, err := h.rooms.LeaveAndBroadcast(room, c, protocol.Left(c.DisplayName()))
	if err != nil {
		h.logger.Error("failed to encode envelope", zap.String("room", room), zap.Error(err))
	} else if remaining > 0 {
		h.metrics.Broadcasts.Inc()
	}

	h.logger.Info("chatroom member left",
		zap.String("room", room),
		zap.String("user_id", c.UserID()),
		zap.Int("remaining", remaining),
	)
}

// chat broadcasts a member's frame to its room.
func (h *Hub) chat(c *Client, data []byte) {
	h.broadcast(c.Room(), protocol.ChatMessage(c.DisplayName(), string(data)))
}

func (h *Hub) broadcast(room string, env protocol.Envelope) {
	if _, err := h.rooms.Broadcast(room, env); err != nil {
		h.logger.Error("failed to encode envelope", zap.String("room", room), zap.Error(err))
		return
	}
	h.metrics.Broadcasts.Inc()
}

func (h *Hub) sendEnvelope(c *Client, env protocol.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("failed to encode envelope", zap.Error(err))
		return
	}
	c.Send(data)
}

func (h *Hub) track(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.metrics.Connections.WithLabelValues(string(c.Role())).Inc()
}

func (h *Hub) untrack(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		h.metrics.Connections.WithLabelValues(string(c.Role())).Dec()
	}
}

// Stats returns a snapshot of rooms and connections.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	conns := len(h.clients)
	h.mu.Unlock()

	return Stats{
		Rooms:         h.rooms.Snapshot(),
		Notifications: h.notifications.Len(),
		Connections:   conns,
	}
}

// Close closes every tracked connection. Each connection's write pump sends
// a close frame and its handler runs the normal departure path.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	h.logger.Info("hub closed", zap.Int("connections", len(clients)))
}
