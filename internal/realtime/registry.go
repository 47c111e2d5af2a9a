package realtime

import (
	"sort"
	"sync"
)

// Conn is a registered delivery handle for one client connection.
type Conn interface {
	ID() string
	UserID() string
	// Send queues data without blocking. It reports false when the frame was dropped.
	Send(data []byte) bool
}

// Stats summarizes the registry.
type Stats struct {
	ConnectedUsers int `json:"connectedUsers"`
	Connections    int `json:"connections"`
}

// Registry maps users to their open connections. A user may hold several.
type Registry struct {
	mu    sync.RWMutex
	users map[string]map[string]Conn
	total int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{users: make(map[string]map[string]Conn)}
}

// Register adds conn. It reports whether conn is the user's first connection.
func (r *Registry) Register(conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.users[conn.UserID()]
	if !ok {
		conns = make(map[string]Conn)
		r.users[conn.UserID()] = conns
	}

	if _, exists := conns[conn.ID()]; !exists {
		r.total++
	}
	conns[conn.ID()] = conn

	return !ok
}

// Unregister removes this specific connection and leaves the user's others
// in place. It reports whether the user has no connections left.
func (r *Registry) Unregister(conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.users[conn.UserID()]
	if !ok {
		return true
	}

	if _, exists := conns[conn.ID()]; exists {
		delete(conns, conn.ID())
		r.total--
	}

	if len(conns) == 0 {
		delete(r.users, conn.UserID())
		return true
	}

	return false
}

// Connections returns a snapshot of the user's connections.
func (r *Registry) Connections(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.users[userID]
	out := make([]Conn, 0, len(conns))
	for _, conn := range conns {
		out = append(out, conn)
	}

	return out
}

// Connection returns one connection of the user.
func (r *Registry) Connection(userID, connID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.users[userID][connID]

	return conn, ok
}

// IsConnected reports whether the user has at least one connection.
func (r *Registry) IsConnected(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.users[userID]) > 0
}

// UserIDs returns the connected users in order.
func (r *Registry) UserIDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)

	return ids
}

// Stats returns the current counts.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Stats{ConnectedUsers: len(r.users), Connections: r.total}
}
