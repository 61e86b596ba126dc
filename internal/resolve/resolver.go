// Package resolve is the asset-resolution boundary. A Resolver owns the one
// identifier transform consulted for every resource location it resolves.
package resolve

import (
	"sync/atomic"
)

// Location identifies a stored resource. Two equal Location values denote
// the same logical resource, so a Location can be used as a cache key.
type Location struct {
	PrimaryKey string `json:"primary_key"`
	InternalID string `json:"internal_id"`
	ProviderID string `json:"provider_id,omitempty"`
}

// TransformFunc rewrites a location's internal identifier.
type TransformFunc func(Location) string

// Resolver applies the installed transform to resource locations.
// It is safe for concurrent use.
type Resolver struct {
	transform atomic.Pointer[TransformFunc]
}

// New creates a Resolver with no transform installed.
func New() *Resolver {
	return &Resolver{}
}

// SetIDTransform installs fn; a nil fn removes the current transform.
func (r *Resolver) SetIDTransform(fn TransformFunc) {
	if fn == nil {
		r.transform.Store(nil)
		return
	}
	r.transform.Store(&fn)
}

// Installed reports whether a transform is installed.
func (r *Resolver) Installed() bool {
	return r.transform.Load() != nil
}

// Resolve returns the identifier to load loc from.
func (r *Resolver) Resolve(loc Location) string {
	fn := r.transform.Load()
	if fn == nil {
		return loc.InternalID
	}
	return (*fn)(loc)
}

// ResolveAll resolves every location in order.
func (r *Resolver) ResolveAll(locs []Location) []string {
	out := make([]string, len(locs))
	for i, loc := range locs {
		out[i] = r.Resolve(loc)
	}
	return out
}
