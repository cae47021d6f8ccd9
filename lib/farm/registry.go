package farm

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// entry is the worker-local view of one outstanding request.
type entry struct {
	request         *Request
	received        time.Time // when this worker first saw the request
	latest          *Result   // latest known result revision, nil until acknowledged
	cancelRequested bool
	cancel          context.CancelFunc // set while the workflow is executing
}

// registry is the guarded outstanding-request table. Every access runs under
// one mutex; callbacks passed to Set and ForEach execute inside the critical
// section and must never block or call back into the registry.
type registry struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*entry
}

func newRegistry() *registry {
	return &registry{entries: make(map[uuid.UUID]*entry)}
}

// Get returns a copy of the entry for the request id.
func (r *registry) Get(id uuid.UUID) (entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return entry{}, false
	}
	return *e, true
}

// Set upserts the entry for the request id, applying mutate under the lock.
func (r *registry) Set(id uuid.UUID, mutate func(*entry)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		e = &entry{}
		r.entries[id] = e
	}
	mutate(e)
}

// ForEach visits every entry under the lock until fn returns false.
func (r *registry) ForEach(fn func(id uuid.UUID, e *entry) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.entries {
		if !fn(id, e) {
			return
		}
	}
}

// Len returns the number of outstanding entries. Entries live for the
// process lifetime, there is no eviction.
func (r *registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
