// Package registry tracks live call sessions by provider stream id.
package registry

import (
	"context"
	"sync"
)

// Entry is a registered call session. Cancel tears the session down; it is
// used when the process drains.
type Entry interface {
	Cancel()
}

// Registry is a concurrency-safe map from stream id to live session. The last
// Add for an id wins; the replaced entry is canceled.
type Registry struct {
	mu      sync.Mutex
	entries map[string]Entry
	wg      sync.WaitGroup
}

func New() *Registry {
	return &Registry{
		entries: make(map[string]Entry),
	}
}

func (r *Registry) Add(id string, e Entry) {
	if r == nil || e == nil {
		return
	}
	r.mu.Lock()
	if r.entries == nil {
		r.entries = make(map[string]Entry)
	}
	prev, replaced := r.entries[id]
	if !replaced {
		r.wg.Add(1)
	}
	r.entries[id] = e
	r.mu.Unlock()

	if replaced && prev != e {
		prev.Cancel()
	}
}

func (r *Registry) Get(id string) (Entry, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return e, ok
}

// Remove deletes id. Removing an absent id is a no-op.
func (r *Registry) Remove(id string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return
	}
	delete(r.entries, id)
	r.wg.Done()
}

// RemoveEntry deletes id only while it still maps to e, so a session tearing
// down never evicts a newer registration for the same stream.
func (r *Registry) RemoveEntry(id string, e Entry) bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.entries[id]
	if !ok || cur != e {
		return false
	}
	delete(r.entries, id)
	r.wg.Done()
	return true
}

func (r *Registry) Count() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) CancelAll() (canceled int) {
	if r == nil {
		return 0
	}

	r.mu.Lock()
	entries := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	for _, e := range entries {
		e.Cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until the registry is empty or ctx is done.
func (r *Registry) Wait(ctx context.Context) bool {
	if r == nil {
		return true
	}
	if ctx == nil {
		r.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
