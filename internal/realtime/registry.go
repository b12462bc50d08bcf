package realtime

import (
	"sync"

	"github.com/prperemyshlev/chatsync/internal/domain"
)

type registration[T any] struct {
	id uint64
	fn func(T)
}

// Registry maps event names to ordered handler lists
type Registry[T any] struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[domain.Event][]registration[T]
}

// NewRegistry creates an empty registry
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{handlers: make(map[domain.Event][]registration[T])}
}

// On registers fn for event and returns its disposer. Disposing more than once is a no-op.
func (r *Registry[T]) On(event domain.Event, fn func(T)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.handlers[event] = append(r.handlers[event], registration[T]{id: id, fn: fn})

	return func() { r.off(event, id) }
}

func (r *Registry[T]) off(event domain.Event, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	regs := r.handlers[event]
	for i, reg := range regs {
		if reg.id == id {
			next := make([]registration[T], 0, len(regs)-1)
			next = append(next, regs[:i]...)
			next = append(next, regs[i+1:]...)
			if len(next) == 0 {
				delete(r.handlers, event)
			} else {
				r.handlers[event] = next
			}
			return
		}
	}
}

// Handlers returns a snapshot of the handlers for event in registration order
func (r *Registry[T]) Handlers(event domain.Event) []func(T) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	regs := r.handlers[event]
	out := make([]func(T), len(regs))
	for i, reg := range regs {
		out[i] = reg.fn
	}
	return out
}

// Count returns the number of handlers registered for event
func (r *Registry[T]) Count(event domain.Event) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[event])
}
