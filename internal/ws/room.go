package ws

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flowboard/hub/pkg/protocol"
)

// Room is a named set of chatroom clients, one per workspace.
type Room struct {
	name    string
	members map[*Client]struct{}
}

// Name returns the room name (the workspace id).
func (r *Room) Name() string {
	return r.name
}

// RoomManager owns the room table. A single mutex guards the table and every
// member set, and broadcasts enqueue while holding it, so all members of a
// room observe broadcasts in the same order.
type RoomManager struct {
	mu    sync.Mutex
	rooms map[string]*Room

	// gauge tracks the number of live rooms; may be nil.
	gauge prometheus.Gauge
}

// NewRoomManager creates an empty room table. gauge may be nil.
func NewRoomManager(gauge prometheus.Gauge) *RoomManager {
	return &RoomManager{
		rooms: make(map[string]*Room),
		gauge: gauge,
	}
}

// Join adds c to the named room, creating the room on first join.
func (m *RoomManager) Join(name string, c *Client) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.joinLocked(name, c)
}

func (m *RoomManager) joinLocked(name string, c *Client) *Room {
	room, ok := m.rooms[name]
	if !ok {
		room = &Room{name: name, members: make(map[*Client]struct{})}
		m.rooms[name] = room
		m.updateGaugeLocked()
	}
	room.members[c] = struct{}{}
	return room
}

// Leave removes c from the named room and returns how many members remain.
// The room is deleted in the same critical section when it becomes empty.
func (m *RoomManager) Leave(name string, c *Client) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, remaining := m.leaveLocked(name, c)
	return remaining
}

func (m *RoomManager) leaveLocked(name string, c *Client) (*Room, int) {
	room, ok := m.rooms[name]
	if !ok {
		return nil, 0
	}
	delete(room.members, c)

	remaining := len(room.members)
	if remaining == 0 {
		delete(m.rooms, name)
		m.updateGaugeLocked()
	}
	return room, remaining
}

// JoinAndBroadcast adds c to the named room and sends env to every member,
// c included, without releasing the lock in between.
func (m *RoomManager) JoinAndBroadcast(name string, c *Client, env protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sendLocked(m.joinLocked(name, c), data)
	return nil
}

// LeaveAndBroadcast removes c from the named room and, if members remain,
// sends env to them in the same critical section. A room emptied by the
// leave is deleted and nothing is sent.
func (m *RoomManager) LeaveAndBroadcast(name string, c *Client, env protocol.Envelope) (int, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	room, remaining := m.leaveLocked(name, c)
	if remaining > 0 {
		m.sendLocked(room, data)
	}
	return remaining, nil
}

// Broadcast sends env to every open member of the named room and returns how
// many members it was queued for. Members that are closing or closed are
// skipped. Broadcasting to an absent room is a no-op.
func (m *RoomManager) Broadcast(name string, env protocol.Envelope) (int, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return 0, err
	}
	return m.BroadcastRaw(name, data), nil
}

// BroadcastRaw is Broadcast for an already encoded payload.
func (m *RoomManager) BroadcastRaw(name string, data []byte) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[name]
	if !ok {
		return 0
	}
	return m.sendLocked(room, data)
}

func (m *RoomManager) sendLocked(room *Room, data []byte) int {
	sent := 0
	for c := range room.members {
		if c.Send(data) {
			sent++
		}
	}
	return sent
}

// Exists reports whether the named room is live.
func (m *RoomManager) Exists(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rooms[name]
	return ok
}

// MemberCount returns the number of members in the named room.
func (m *RoomManager) MemberCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if room, ok := m.rooms[name]; ok {
		return len(room.members)
	}
	return 0
}

// Len returns the number of live rooms.
func (m *RoomManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// RoomStats is a point-in-time view of one room.
type RoomStats struct {
	Name    string `json:"name"`
	Members int    `json:"members"`
}

// Snapshot returns the live rooms sorted by name.
func (m *RoomManager) Snapshot() []RoomStats {
	m.mu.Lock()
	stats := make([]RoomStats, 0, len(m.rooms))
	for name, room := range m.rooms {
		stats = append(stats, RoomStats{Name: name, Members: len(room.members)})
	}
	m.mu.Unlock()

	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

func (m *RoomManager) updateGaugeLocked() {
	if m.gauge != nil {
		m.gauge.Set(float64(len(m.rooms)))
	}
}
