package frontier

import "sync"

// registry maps session ids to per-session state, creating it on first use.
type registry[T any] struct {
	mu      sync.Mutex
	items   map[string]T
	newItem func(sessionID string) T
}

func newRegistry[T any](newItem func(string) T) *registry[T] {
	return &registry[T]{
		items:   make(map[string]T),
		newItem: newItem,
	}
}

// get returns the state for sessionID, creating it if absent.
func (r *registry[T]) get(sessionID string) T {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[sessionID]
	if !ok {
		item = r.newItem(sessionID)
		r.items[sessionID] = item
	}
	return item
}

// lookup returns the state for sessionID without creating it.
func (r *registry[T]) lookup(sessionID string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[sessionID]
	return item, ok
}

// remove drops sessionID and returns its state, if any.
func (r *registry[T]) remove(sessionID string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[sessionID]
	delete(r.items, sessionID)
	return item, ok
}

// rename moves the state of from to to. It returns false when from is
// unknown or to is already taken.
func (r *registry[T]) rename(from, to string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	item, ok := r.items[from]
	if !ok {
		return zero, false
	}
	if _, taken := r.items[to]; taken {
		return zero, false
	}
	delete(r.items, from)
	r.items[to] = item
	return item, true
}

// clear removes every session.
func (r *registry[T]) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.items)
}

// len returns the number of sessions.
func (r *registry[T]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}
