// Package circuit provides a resilience.CircuitBreaker per module name,
// enabled for calls whose `with` clause sets circuit_breaker: true.
package circuit

import (
	"sync"

	"github.com/kbukum/flowforge/resilience"
)

// Registry holds one resilience.CircuitBreaker per module FQN, created
// lazily with resilience.DefaultCircuitBreakerConfig on first use.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*resilience.CircuitBreaker
}

// New creates an empty circuit breaker registry.
func New() *Registry {
	return &Registry{breakers: make(map[string]*resilience.CircuitBreaker)}
}

// Run executes fn through module's circuit breaker, returning
// resilience.ErrCircuitOpen without calling fn if the breaker is open.
func (r *Registry) Run(module string, fn func() error) error {
	return r.breakerFor(module).Execute(fn)
}

func (r *Registry) breakerFor(module string) *resilience.CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[module]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[module]; ok {
		return cb
	}
	cb = resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig(module))
	r.breakers[module] = cb
	return cb
}

// State reports a module's current circuit state for diagnostics.
func (r *Registry) State(module string) resilience.State {
	r.mu.RLock()
	cb, ok := r.breakers[module]
	r.mu.RUnlock()
	if !ok {
		return resilience.StateClosed
	}
	return cb.State()
}
