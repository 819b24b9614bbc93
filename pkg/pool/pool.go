// Package pool implements the session-attached interning pool ("DataPool",
// §3 DATA MODEL "Interning pool") and the RepositoryCache attachment point
// it composes onto (§4.11, supplemented per SPEC_FULL §3). Maven's original
// DataPool holds weak references so entries die with their last external
// reference; a bounded LRU is the practical Go stand-in (§9 Open Questions),
// grounded on github.com/hashicorp/golang-lru/v2.
package pool

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCapacity = 4096

// ObjectPool interns values of type T by key so repeated collection of the
// same coordinate reuses one value rather than allocating a duplicate
// (invariant 5: "intern(x) == x in value").
type ObjectPool[T any] struct {
	cache *lru.Cache[string, T]
}

// NewObjectPool returns an ObjectPool bounded to capacity entries (<=0 uses
// the package default).
func NewObjectPool[T any](capacity int) *ObjectPool[T] {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	c, _ := lru.New[string, T](capacity)
	return &ObjectPool[T]{cache: c}
}

// Intern returns the pooled value for key, storing v as the pooled value if
// key was not already present.
func (p *ObjectPool[T]) Intern(key string, v T) T {
	if existing, ok := p.cache.Get(key); ok {
		return existing
	}
	p.cache.Add(key, v)
	return v
}

// Get returns the pooled value for key without inserting one.
func (p *ObjectPool[T]) Get(key string) (T, bool) {
	return p.cache.Get(key)
}

// Put unconditionally stores v under key, overwriting any previous value —
// used by the graph-sharing node pool where a reused node may be mutated in
// place (shrunk repository set) and must replace its prior pool entry.
func (p *ObjectPool[T]) Put(key string, v T) {
	p.cache.Add(key, v)
}
