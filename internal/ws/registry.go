package ws

import "sync"

// NotificationRegistry maps a user to their single live notification
// connection.
type NotificationRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewNotificationRegistry creates an empty registry.
func NewNotificationRegistry() *NotificationRegistry {
	return &NotificationRegistry{
		clients: make(map[string]*Client),
	}
}

// Register makes c the notification connection for userID. A previous
// connection for the same user is dropped from the table but left open.
func (r *NotificationRegistry) Register(userID string, c *Client) (replaced *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	replaced = r.clients[userID]
	if replaced == c {
		replaced = nil
	}
	r.clients[userID] = c
	return replaced
}

// Unregister removes userID's entry only if it still points at c, so a late
// close of an orphaned connection cannot evict a newer one.
func (r *NotificationRegistry) Unregister(userID string, c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.clients[userID] != c {
		return false
	}
	delete(r.clients, userID)
	return true
}

// Lookup returns the current notification connection for userID, or nil.
func (r *NotificationRegistry) Lookup(userID string) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients[userID]
}

// Len returns the number of users with a registered connection.
func (r *NotificationRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
