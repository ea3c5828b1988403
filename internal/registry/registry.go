// Package registry tracks the connected sessions and fans lines out to them.
package registry

import (
	"errors"
	"sync"
)

// DefaultCapacity is the default maximum number of concurrent sessions.
const DefaultCapacity = 64

var (
	// ErrFull is returned by Register when the registry is at capacity.
	ErrFull = errors.New("registry full")
	// ErrDuplicate is returned by Register when the id is already present.
	ErrDuplicate = errors.New("session already registered")
)

// Peer is the registry's non-owning view of a session.
type Peer interface {
	ID() string
	RemoteAddr() string
	// Send hands one line to the peer. It must be safe for concurrent use
	// and must not block on the network.
	Send(line string) error
}

// Registry is a bounded set of live peers keyed by id. It has its own lock,
// separate from the train state, and never holds it during network I/O.
type Registry struct {
	mu       sync.RWMutex
	capacity int
	peers    map[string]Peer
}

// New returns an empty registry holding at most capacity peers.
func New(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{
		capacity: capacity,
		peers:    make(map[string]Peer, capacity),
	}
}

// Register adds p.
func (r *Registry) Register(p Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[p.ID()]; ok {
		return ErrDuplicate
	}
	if len(r.peers) >= r.capacity {
		return ErrFull
	}
	r.peers[p.ID()] = p
	return nil
}

// Unregister removes the peer with id. It reports whether an entry was
// removed; a second call for the same id is a no-op.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[id]; !ok {
		return false
	}
	delete(r.peers, id)
	return true
}

// Len reports the number of registered peers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Capacity reports the maximum number of peers.
func (r *Registry) Capacity() int {
	return r.capacity
}

// ForEach calls fn once per peer registered at the time of the call, in no
// particular order. fn runs without the registry lock held, so it may block
// on I/O or call back into the registry.
func (r *Registry) ForEach(fn func(Peer)) {
	for _, p := range r.snapshot() {
		fn(p)
	}
}

func (r *Registry) snapshot() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peers := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	return peers
}
