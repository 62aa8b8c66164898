package server

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ascii-chat/ascii-chat/internal/logging"
	"github.com/ascii-chat/ascii-chat/internal/mixer"
)

var log = logging.L("server")

// Registry is the read-mostly client_id -> Client map. Readers (every
// mixer tick) take the read lock; writers (join/leave) take the write
// lock.
type Registry struct {
	mu       sync.RWMutex
	clients  map[uint32]*Client
	nextID   atomic.Uint32
	closed   bool
}

// NewRegistry creates an empty registry. client_id allocation starts at 1
// so 0 can be reserved as "no client" in wire headers.
func NewRegistry() *Registry {
	r := &Registry{clients: make(map[uint32]*Client)}
	r.nextID.Store(0)
	return r
}

// AllocateID returns a client_id never before issued by this registry,
// never reused within a running server process even across evictions.
func (r *Registry) AllocateID() uint32 {
	return r.nextID.Add(1)
}

// Insert adds a client under the write lock. Returns false if the registry
// is already shut down.
func (r *Registry) Insert(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.clients[c.ClientID()] = c
	return true
}

// Remove deletes a client_id from the registry, returning the removed
// record (or nil if absent).
func (r *Registry) Remove(clientID uint32) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.clients[clientID]
	delete(r.clients, clientID)
	return c
}

// Get returns the client for an id, or nil.
func (r *Registry) Get(clientID uint32) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients[clientID]
}

// Snapshot returns all clients ordered by JoinedAt, the stable order the
// video mixer assigns tiles in. The mixer must only hold the read lock for
// the duration of this copy, never across I/O.
func (r *Registry) Snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt().Before(out[j].JoinedAt()) })
	return out
}

// Peers adapts Snapshot to mixer.PeerSource, so the video and audio
// mixers can enumerate sources/recipients without importing this
// package's concrete Client type.
func (r *Registry) Peers() []mixer.Peer {
	clients := r.Snapshot()
	out := make([]mixer.Peer, len(clients))
	for i, c := range clients {
		out[i] = c
	}
	return out
}

// Count returns the number of currently registered clients.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Shutdown marks the registry closed (no further inserts) and returns a
// snapshot of every client so the caller can evict them.
func (r *Registry) Shutdown() []*Client {
	r.mu.Lock()
	r.closed = true
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	r.clients = make(map[uint32]*Client)
	r.mu.Unlock()
	return out
}
