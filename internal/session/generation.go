package session

import (
	"sync"
	"sync/atomic"
)

// Generation counts session lifetimes. Every login and logout advances it;
// an asynchronous result is applied only if the generation it captured is still current.
type Generation struct {
	mu sync.Mutex
	n  atomic.Uint64
}

// NewGeneration creates a counter starting at zero
func NewGeneration() *Generation {
	return &Generation{}
}

// Current returns the current generation
func (g *Generation) Current() uint64 {
	return g.n.Load()
}

// Advance starts a new generation and returns it. It waits for a running Guard.
func (g *Generation) Advance() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n.Add(1)
}

// Valid reports whether gen is still the current generation
func (g *Generation) Valid(gen uint64) bool {
	return g.n.Load() == gen
}

// Guard runs fn only while gen is current and reports whether it ran.
// The generation cannot advance until fn returns, so fn must not call Advance.
func (g *Generation) Guard(gen uint64, fn func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.n.Load() != gen {
		return false
	}
	fn()
	return true
}
