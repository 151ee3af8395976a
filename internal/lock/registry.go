package lock

import "sync"

// registry tracks the locks this instance holds or is acquiring. Its mutex
// only guards the maps; callers talk to the backend without holding it.
type registry[T any] struct {
	mu      sync.Mutex
	held    map[string]T
	pending map[string]struct{}
}

func newRegistry[T any]() *registry[T] {
	return &registry[T]{
		held:    make(map[string]T),
		pending: make(map[string]struct{}),
	}
}

// reserve claims name for one acquisition. It fails while name is held or
// another acquisition of it is in flight.
func (r *registry[T]) reserve(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.held[name]; ok {
		return false
	}
	if _, ok := r.pending[name]; ok {
		return false
	}
	r.pending[name] = struct{}{}
	return true
}

// settle ends a reservation, recording v as held when acquired.
func (r *registry[T]) settle(name string, v T, acquired bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.pending, name)
	if acquired {
		r.held[name] = v
	}
}

func (r *registry[T]) get(name string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.held[name]
	return v, ok
}

// take removes and returns a held lock.
func (r *registry[T]) take(name string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.held[name]
	delete(r.held, name)
	return v, ok
}

// drop forgets name if it still maps to a value accepted by same.
func (r *registry[T]) drop(name string, same func(T) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.held[name]; ok && same(v) {
		delete(r.held, name)
	}
}

func (r *registry[T]) takeAll() map[string]T {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := r.held
	r.held = make(map[string]T)
	return all
}
