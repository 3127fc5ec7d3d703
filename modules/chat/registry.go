package chat

import (
	"fmt"
	"sort"

	domain "github.com/example/presence-chat/domain/chat"
)

// Registry maps live connections to the presence of their user.
// It is not safe for concurrent use; the Engine owns it.
type Registry struct {
	entries map[string]domain.Presence // connectionID -> presence
}

// NewRegistry creates an empty presence registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]domain.Presence)}
}

// Register records a new connection with status "on".
func (r *Registry) Register(connID string, userID int64, userName string) (domain.Presence, error) {
	if existing, ok := r.entries[connID]; ok {
		return existing, fmt.Errorf("%w: %s", ErrAlreadyRegistered, connID)
	}
	p := domain.Presence{
		UserID:   userID,
		UserName: userName,
		Status:   domain.StatusOn,
		IsIdle:   false,
	}
	r.entries[connID] = p
	return p, nil
}

// Unregister removes a connection and returns its prior presence.
func (r *Registry) Unregister(connID string) (domain.Presence, bool) {
	p, ok := r.entries[connID]
	if ok {
		delete(r.entries, connID)
	}
	return p, ok
}

// Get returns the presence of a connection.
func (r *Registry) Get(connID string) (domain.Presence, bool) {
	p, ok := r.entries[connID]
	return p, ok
}

// SetAll replaces the whole table. Last writer wins.
func (r *Registry) SetAll(table map[string]domain.Presence) {
	entries := make(map[string]domain.Presence, len(table))
	for connID, p := range table {
		entries[connID] = p
	}
	r.entries = entries
}

// Snapshot returns a copy of the table.
func (r *Registry) Snapshot() map[string]domain.Presence {
	out := make(map[string]domain.Presence, len(r.entries))
	for connID, p := range r.entries {
		out[connID] = p
	}
	return out
}

// ConnectionsOf returns the sorted connection ids of a user.
func (r *Registry) ConnectionsOf(userID int64) []string {
	var conns []string
	for connID, p := range r.entries {
		if p.UserID == userID {
			conns = append(conns, connID)
		}
	}
	sort.Strings(conns)
	return conns
}

// Online reports whether the user has at least one live connection.
func (r *Registry) Online(userID int64) bool {
	for _, p := range r.entries {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// OnlineUsers returns the set of user ids with a live connection.
func (r *Registry) OnlineUsers() map[int64]struct{} {
	online := make(map[int64]struct{}, len(r.entries))
	for _, p := range r.entries {
		online[p.UserID] = struct{}{}
	}
	return online
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	return len(r.entries)
}
