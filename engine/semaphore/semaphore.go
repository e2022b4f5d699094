// Package semaphore provides a named concurrency permit pool per module,
// built directly on resilience.Bulkhead.
package semaphore

import (
	"context"
	"sync"

	"github.com/kbukum/flowforge/resilience"
)

// defaultCapacity is used for modules with no `concurrency` option —
// effectively unbounded within the scope of a single pipeline execution.
const defaultCapacity = 1 << 16

// Registry holds one resilience.Bulkhead per module FQN, sized by that
// module's `concurrency` option (or defaultCapacity if unset).
type Registry struct {
	mu         sync.RWMutex
	bulkheads  map[string]*resilience.Bulkhead
	capacities map[string]int
}

// New creates an empty semaphore registry.
func New() *Registry {
	return &Registry{
		bulkheads:  make(map[string]*resilience.Bulkhead),
		capacities: make(map[string]int),
	}
}

// Run acquires a permit for module (blocking, FIFO, until ctx is done),
// runs fn, and releases the permit on every exit path including a panic
// recovered by the caller, a context cancellation, or fn's own error.
func (r *Registry) Run(ctx context.Context, module string, concurrency int, fn func() error) error {
	b := r.bulkheadFor(module, concurrency)
	return b.Execute(ctx, fn)
}

func (r *Registry) bulkheadFor(module string, concurrency int) *resilience.Bulkhead {
	capacity := concurrency
	if capacity <= 0 {
		capacity = defaultCapacity
	}

	r.mu.RLock()
	b, ok := r.bulkheads[module]
	sameCapacity := r.capacities[module] == capacity
	r.mu.RUnlock()
	if ok && sameCapacity {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.bulkheads[module]; ok && r.capacities[module] == capacity {
		return b
	}
	b = resilience.NewBulkhead(resilience.BulkheadConfig{
		Name:          module,
		MaxConcurrent: capacity,
	})
	r.bulkheads[module] = b
	r.capacities[module] = capacity
	return b
}

// InUse reports how many permits for module are currently held.
func (r *Registry) InUse(module string) int {
	r.mu.RLock()
	b, ok := r.bulkheads[module]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	return b.InUse()
}
