// Package pubsub provides a subscriber registry with unsubscribe handles.
package pubsub

import (
	"sort"
	"sync"
)

// Registry holds callbacks for one event channel. Publish dispatches to a
// snapshot, so callbacks may subscribe or unsubscribe while being invoked.
type Registry[T any] struct {
	mu   sync.RWMutex
	next uint64
	subs map[uint64]func(T)
}

// NewRegistry creates an empty registry
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{subs: make(map[uint64]func(T))}
}

// Subscribe registers cb and returns a function that removes it.
// Calling the returned function more than once is harmless.
func (r *Registry[T]) Subscribe(cb func(T)) (unsubscribe func()) {
	if cb == nil {
		return func() {}
	}

	r.mu.Lock()
	r.next++
	id := r.next
	r.subs[id] = cb
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
		})
	}
}

// Publish delivers v to every subscriber registered at the time of the call
func (r *Registry[T]) Publish(v T) {
	for _, cb := range r.snapshot() {
		cb(v)
	}
}

// Len returns the number of live subscriptions
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

func (r *Registry[T]) snapshot() []func(T) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.subs) == 0 {
		return nil
	}

	ids := make([]uint64, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	// subscription order keeps dispatch stable for tests and logs
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	cbs := make([]func(T), len(ids))
	for i, id := range ids {
		cbs[i] = r.subs[id]
	}
	return cbs
}
