package fleet

import (
	"sync"

	"github.com/vanities/hytale-server-manager-sub001/internal/adapter"
	"github.com/vanities/hytale-server-manager-sub001/internal/domain"
)

// BuildFunc constructs the adapter for one server record.
type BuildFunc func(srv *domain.Server) (adapter.Adapter, error)

// Registry is the cache of live adapters, one per currently-referenced
// server. It is owned by the orchestrator and handed to whoever needs it;
// there is no package-level instance.
type Registry struct {
	mu       sync.Mutex
	adapters map[string]adapter.Adapter
	build    BuildFunc
}

func NewRegistry(build BuildFunc) *Registry {
	return &Registry{
		adapters: make(map[string]adapter.Adapter),
		build:    build,
	}
}

// Get returns the cached adapter for the server, building one on first
// access.
func (r *Registry) Get(srv *domain.Server) (adapter.Adapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ad, ok := r.adapters[srv.ID]; ok {
		return ad, nil
	}
	ad, err := r.build(srv)
	if err != nil {
		return nil, err
	}
	r.adapters[srv.ID] = ad
	return ad, nil
}

// Peek returns the cached adapter or nil, never building one.
func (r *Registry) Peek(serverID string) adapter.Adapter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.adapters[serverID]
}

// Remove discards the cached adapter so the next access builds a fresh one.
func (r *Registry) Remove(serverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.adapters, serverID)
}

// All returns a snapshot of the cached adapters keyed by server id.
func (r *Registry) All() map[string]adapter.Adapter {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]adapter.Adapter, len(r.adapters))
	for id, ad := range r.adapters {
		out[id] = ad
	}
	return out
}
