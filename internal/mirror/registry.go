package mirror

import (
	"sync"
)

// Registry maps remote URLs to mirrors. Disabled mirrors are never stored.
// Iteration follows registration order so substring matching over the
// registry is deterministic.
type Registry struct {
	mu      sync.RWMutex
	mirrors map[string]Mirror
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		mirrors: make(map[string]Mirror),
	}
}

// Register upserts m keyed by its remote URL. Disabled mirrors and mirrors
// without a remote URL are ignored. It reports whether m was stored.
func (r *Registry) Register(m Mirror) bool {
	if !m.Enabled {
		return false
	}
	key := m.Key()
	if key == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.mirrors[key]; !exists {
		r.order = append(r.order, key)
	}
	r.mirrors[key] = m
	return true
}

// Remove deletes the mirror registered under remoteURL and reports whether
// an entry existed.
func (r *Registry) Remove(remoteURL string) bool {
	key := Key(remoteURL)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.mirrors[key]; !ok {
		return false
	}
	delete(r.mirrors, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Lookup returns the mirror registered under remoteURL.
func (r *Registry) Lookup(remoteURL string) (Mirror, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.mirrors[Key(remoteURL)]
	return m, ok
}

// List returns a copy of the registered mirrors in registration order.
func (r *Registry) List() []Mirror {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Mirror, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.mirrors[k])
	}
	return out
}

// Len returns the number of registered mirrors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.mirrors)
}

// Clear removes every mirror.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mirrors = make(map[string]Mirror)
	r.order = nil
}
