// Package registry holds the reference data shared by every stage: the
// origins that produce work and the owners that receive it.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Namespace selects one of the registry's key spaces
type Namespace string

const (
	// Origins holds origin (patient) metadata keyed by origin id
	Origins Namespace = "origins"
	// Owners holds owner (doctor) metadata keyed by owner id
	Owners Namespace = "owners"
)

// ErrUnknownNamespace indicates a namespace the registry does not hold
var ErrUnknownNamespace = errors.New("unknown namespace")

// Registry is a concurrent map of maps. Readers run in parallel and a
// writer excludes everyone.
type Registry struct {
	mu     sync.RWMutex
	spaces map[Namespace]map[string]string
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		spaces: map[Namespace]map[string]string{
			Origins: make(map[string]string),
			Owners:  make(map[string]string),
		},
	}
}

// Put stores value under key, replacing any previous value
func (r *Registry) Put(ns Namespace, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	space, ok := r.spaces[ns]
	if !ok {
		return fmt.Errorf("registry put %s/%s: %w", ns, key, ErrUnknownNamespace)
	}
	space[key] = value
	return nil
}

// Get returns the value under key. An absent key reports false, which is
// distinct from a present key holding "".
func (r *Registry) Get(ns Namespace, key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	value, ok := r.spaces[ns][key]
	return value, ok
}

// Len returns the number of keys in ns
func (r *Registry) Len(ns Namespace) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.spaces[ns])
}

// Keys returns the sorted keys of ns
func (r *Registry) Keys(ns Namespace) []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.spaces[ns]))
	for k := range r.spaces[ns] {
		keys = append(keys, k)
	}
	r.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

// AddOrigin records origin metadata
func (r *Registry) AddOrigin(id, info string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spaces[Origins][id] = info
}

// AddOwner records owner metadata
func (r *Registry) AddOwner(id, info string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spaces[Owners][id] = info
}

// GetOrigin looks up origin metadata
func (r *Registry) GetOrigin(id string) (string, bool) {
	return r.Get(Origins, id)
}

// GetOwner looks up owner metadata
func (r *Registry) GetOwner(id string) (string, bool) {
	return r.Get(Owners, id)
}
