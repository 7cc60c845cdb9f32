// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Registry is the global, process-wide mapping from object identifier to
// (object type, current generation, reference count). It is the single
// source of truth for capability liveness: revoke bumps a generation here
// and every outstanding token sharing that object ID and an older
// generation fails validation — no derivation tree is ever walked.

package kobject

import (
	"errors"
	"sync"
)

// Errors returned by Registry operations.
var (
	ErrNotFound = errors.New("kobject: object not found")
)

type metadata struct {
	objType    Type
	generation uint32
	refCount   uint32
}

// Registry is the object-type + generation-epoch table. Lookups take the
// read side of the lock; Register, Revoke, and reference-count transitions
// to zero take the write side (lock hierarchy level 0, see
// internal/proctable.OrderedRWMutex and original_source/kernel/src/sync.rs).
type Registry struct {
	mu      sync.RWMutex
	objects map[ID]*metadata
}

// NewRegistry creates an empty object registry.
func NewRegistry() *Registry {
	return &Registry{
		objects: make(map[ID]*metadata),
	}
}

// Register allocates a fresh identifier, stores (type, generation=1,
// ref_count=1), and returns the identifier. Always succeeds.
func (r *Registry) Register(t Type) ID {
	id := newID(t)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objects[id] = &metadata{objType: t, generation: 1, refCount: 1}
	return id
}

// Lookup returns the object type and current generation for id.
func (r *Registry) Lookup(id ID) (Type, uint32, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.objects[id]
	if !ok {
		return Unknown, 0, ErrNotFound
	}
	return m.objType, m.generation, nil
}

// Generation returns only the current generation for id, or 0 and
// ErrNotFound if the object does not exist.
func (r *Registry) Generation(id ID) (uint32, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.objects[id]
	if !ok {
		return 0, ErrNotFound
	}
	return m.generation, nil
}

// Revoke atomically bumps the generation recorded for id. After this
// returns, every token bearing the prior generation fails validation,
// including every capability derived from it (derivation preserves the
// parent's generation, §4.3).
func (r *Registry) Revoke(id ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.objects[id]
	if !ok {
		return ErrNotFound
	}
	m.generation++
	return nil
}

// Acquire increments the reference count for id.
func (r *Registry) Acquire(id ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.objects[id]
	if !ok {
		return ErrNotFound
	}
	m.refCount++
	return nil
}

// Release decrements the reference count for id, removing the entry when
// it reaches zero.
func (r *Registry) Release(id ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.objects[id]
	if !ok {
		return ErrNotFound
	}
	m.refCount--
	if m.refCount == 0 {
		delete(r.objects, id)
	}
	return nil
}

// Count returns the number of live objects, for metrics/debug probes.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.objects)
}
