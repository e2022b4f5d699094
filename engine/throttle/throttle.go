// Package throttle provides a token-bucket throttle per module name, built
// directly on resilience.RateLimiter.
package throttle

import (
	"context"
	"sync"

	"github.com/kbukum/flowforge/resilience"
)

// Rate is a parsed `count/duration` throttle option.
type Rate struct {
	Count   int
	Seconds float64
}

// Registry holds one resilience.RateLimiter per module FQN, created
// lazily on first use. Fine-grained per-key locking: the registry lock
// only protects the map itself, never a limiter's own token state.
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]*resilience.RateLimiter
}

// New creates an empty throttle registry.
func New() *Registry {
	return &Registry{limiters: make(map[string]*resilience.RateLimiter)}
}

// Wait blocks the caller until a token for the given module is available,
// or the context is cancelled. rate is the module's declared `throttle`
// option; calling Wait for a module with no configured rate is a no-op.
func (r *Registry) Wait(ctx context.Context, module string, rate Rate) error {
	if rate.Count <= 0 || rate.Seconds <= 0 {
		return nil
	}
	limiter := r.limiterFor(module, rate)
	return limiter.Wait(ctx)
}

func (r *Registry) limiterFor(module string, rate Rate) *resilience.RateLimiter {
	r.mu.RLock()
	l, ok := r.limiters[module]
	r.mu.RUnlock()
	if ok {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[module]; ok {
		return l
	}
	l = resilience.NewRateLimiter(resilience.RateLimiterConfig{
		Name:  module,
		Rate:  float64(rate.Count) / rate.Seconds,
		Burst: rate.Count,
	})
	r.limiters[module] = l
	return l
}

// Reset drops a module's limiter, so the next Wait call reconfigures it
// from the current rate. Without a Reset, Wait keeps using the limiter
// created on the module's first call, whatever rate later calls pass.
func (r *Registry) Reset(module string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.limiters, module)
}
