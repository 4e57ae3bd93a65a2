package ws

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/flowboard/hub/internal/model"
	"github.com/flowboard/hub/pkg/protocol"
)

// State is the liveness of a client connection.
type State int32

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Client represents one accepted WebSocket connection.
type Client struct {
	id   string
	conn *websocket.Conn
	role protocol.ChannelKind
	user *model.User
	room string

	send       chan []byte
	mu         sync.Mutex
	state      State
	sendClosed bool
	evicted    bool
}

// NewClient creates a new client in the open state. user is nil for the
// backend relay; room is only set for chatroom clients.
func NewClient(conn *websocket.Conn, role protocol.ChannelKind, user *model.User, room string, sendBuffer int) *Client {
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	return &Client{
		id:   uuid.NewString(),
		conn: conn,
		role: role,
		user: user,
		room: room,
		send: make(chan []byte, sendBuffer),
	}
}

// Send queues data for the client. It returns false without queueing when
// the client is not open. A full buffer closes the client.
func (c *Client) Send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateOpen || c.sendClosed {
		return false
	}

	select {
	case c.send <- data:
		return true
	default:
		// Buffer full, close the client
		c.evicted = true
		c.closeLocked()
		return false
	}
}

// Close moves an open client to closing and stops accepting sends. The write
// pump drains what is queued, sends a close frame and marks it closed.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.state == StateOpen {
		c.state = StateClosing
	}
	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
}

// markClosed records that the underlying connection is gone.
func (c *Client) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateClosed
}

// State returns the current liveness state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Evicted reports whether the client was closed because its send buffer
// filled up.
func (c *Client) Evicted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evicted
}

// IsOpen returns true if the client accepts sends.
func (c *Client) IsOpen() bool {
	return c.State() == StateOpen
}

// ID returns the connection id used in logs.
func (c *Client) ID() string {
	return c.id
}

// Role returns the channel kind the client speaks.
func (c *Client) Role() protocol.ChannelKind {
	return c.role
}

// User returns the authenticated user, or nil for the backend relay.
func (c *Client) User() *model.User {
	return c.user
}

// UserID returns the authenticated user id, or "" for the backend relay.
func (c *Client) UserID() string {
	if c.user == nil {
		return ""
	}
	return c.user.ID
}

// DisplayName returns the user's display name, falling back to the user id
// when the name is empty.
func (c *Client) DisplayName() string {
	if c.user == nil {
		return ""
	}
	if c.user.Name == "" {
		return c.user.ID
	}
	return c.user.Name
}

// Room returns the chatroom name, or "" for other roles.
func (c *Client) Room() string {
	return c.room
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// SendChan returns the send channel for the client.
func (c *Client) SendChan() <-chan []byte {
	return c.send
}
