// Package registry implements the global enclave registry from spec
// §5[EXPANSION]: a lock-guarded `(id → Entry)` map plus a free-list ID
// allocator over [0x1000, 0xffff). internal/monitor's Simulated backend
// uses the allocator half to mint synthetic eids; internal/enclave uses
// the map half to register/unregister/look up live enclaves.
//
// Grounded on the teacher's msi.Msivecs_t: same lock/defer/panic-on-
// double-free shape, generalized from a fixed 8-vector bitmap to a
// slice-backed stack covering the full [0x1000, 0xffff) ID space.
package registry

import "sync"

const (
	minID = 0x1000
	maxID = 0xffff // exclusive
)

// Entry is anything the registry can hold: just enough to key it by ID.
// internal/enclave.Enclave implements this; registry never imports
// internal/enclave, avoiding an import cycle with internal/monitor.
type Entry interface {
	ID() uint16
}

// Registry is the process-wide `(id → Entry)` map plus ID free-list.
type Registry struct {
	mu      sync.RWMutex
	entries map[uint16]Entry
	free    []uint16 // stack of freed IDs, reused before next is advanced
	used    map[uint16]bool
	next    uint16
}

// New builds an empty registry with the full [0x1000, 0xffff) ID space
// available.
func New() *Registry {
	return &Registry{
		entries: make(map[uint16]Entry),
		used:    make(map[uint16]bool),
		next:    minID,
	}
}

// Alloc reserves the next available ID, preferring a freed ID over a
// fresh one, matching Msi_alloc's "take whatever is available" policy.
// Reports false if the ID space is exhausted.
func (r *Registry) Alloc() (uint16, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n := len(r.free); n > 0 {
		id := r.free[n-1]
		r.free = r.free[:n-1]
		r.used[id] = true
		return id, true
	}
	if r.next >= maxID {
		return 0, false
	}
	id := r.next
	r.next++
	r.used[id] = true
	return id, true
}

// Free releases id back to the pool. Panics on a double free, matching
// Msi_free's contract.
func (r *Registry) Free(id uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.used[id] {
		panic("registry: double free of enclave id")
	}
	delete(r.used, id)
	r.free = append(r.free, id)
}

// Register adds e under id. Panics if id is already registered (an
// enclave must Alloc a fresh id before Register, never reuse a live one).
func (r *Registry) Register(id uint16, e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[id]; exists {
		panic("registry: double registration of enclave id")
	}
	r.entries[id] = e
}

// Unregister removes id from the live map (the ID itself is freed
// separately via Free).
func (r *Registry) Unregister(id uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Lookup returns the live entry registered under id, if any.
func (r *Registry) Lookup(id uint16) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// Len reports the number of live registered entries (diagnostics/tests).
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
