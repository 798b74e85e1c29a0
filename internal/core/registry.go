package core

import (
	"slices"
	"sync"
)

// RegistryHooks observe presence transitions. They run while the registry lock
// is held, so they must not block and must not call back into the Registry.
type RegistryHooks struct {
	// OnRegister runs for every new connection. first reports whether the user
	// just came online; online is the snapshot including the new connection and
	// peers lists every other registered connection.
	OnRegister func(conn *Conn, first bool, online []string, peers []*Conn)
	// OnUnregister runs when a registered connection is removed. last reports
	// whether the user just went offline; peers lists the remaining connections.
	OnUnregister func(conn *Conn, last bool, peers []*Conn)
}

// Registry maps users to their live connections. It is the single source of
// truth for presence.
type Registry struct {
	mu     sync.Mutex
	byUser map[string]map[string]*Conn
	byID   map[string]*Conn
	hooks  RegistryHooks
}

// NewRegistry creates an empty registry.
func NewRegistry(hooks RegistryHooks) *Registry {
	return &Registry{
		byUser: make(map[string]map[string]*Conn),
		byID:   make(map[string]*Conn),
		hooks:  hooks,
	}
}

// Register adds conn. Registering the same connection twice is a no-op.
func (r *Registry) Register(conn *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[conn.ID]; exists {
		return
	}

	conns, ok := r.byUser[conn.UserID]
	if !ok {
		conns = make(map[string]*Conn)
		r.byUser[conn.UserID] = conns
	}
	conns[conn.ID] = conn
	r.byID[conn.ID] = conn

	if r.hooks.OnRegister != nil {
		r.hooks.OnRegister(conn, len(conns) == 1, r.snapshotLocked(), r.peersLocked(conn))
	}
}

// Unregister removes exactly the entry for conn. Unknown connections are ignored.
func (r *Registry) Unregister(conn *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[conn.ID]; !exists {
		return
	}
	delete(r.byID, conn.ID)

	last := false
	if conns, ok := r.byUser[conn.UserID]; ok {
		delete(conns, conn.ID)
		if len(conns) == 0 {
			delete(r.byUser, conn.UserID)
			last = true
		}
	}

	if r.hooks.OnUnregister != nil {
		r.hooks.OnUnregister(conn, last, r.peersLocked(conn))
	}
}

// ConnectionsFor returns the live connections of userID; empty means offline.
func (r *Registry) ConnectionsFor(userID string) []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := r.byUser[userID]
	out := make([]*Conn, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// IsOnline reports whether userID has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byUser[userID]) > 0
}

// Snapshot returns the sorted ids of all online users.
func (r *Registry) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

func (r *Registry) snapshotLocked() []string {
	ids := make([]string, 0, len(r.byUser))
	for id := range r.byUser {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (r *Registry) peersLocked(except *Conn) []*Conn {
	peers := make([]*Conn, 0, len(r.byID))
	for id, c := range r.byID {
		if id != except.ID {
			peers = append(peers, c)
		}
	}
	return peers
}
