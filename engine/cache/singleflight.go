package cache

import (
	"sync"

	"github.com/kbukum/flowforge/value"
)

// Group collapses concurrent calls for the same key into a single
// execution, regardless of which Backend is in use — a cache-miss race is
// possible against any backend, not just the in-process one. There is no
// singleflight package anywhere in the example corpus (no example repo
// depends on golang.org/x/sync), so this is hand-rolled on sync.Mutex, the
// same primitive resilience.RateLimiter and resilience.Bulkhead build on.
type Group struct {
	mu    sync.Mutex
	calls map[string]*call
}

type call struct {
	done chan struct{}
	val  value.Value
	err  error
}

// NewGroup creates an empty single-flight group.
func NewGroup() *Group {
	return &Group{calls: make(map[string]*call)}
}

// Do runs fn for key unless a call for key is already in flight, in which
// case it waits for that call and returns its result. Exactly one
// execution of fn happens per set of overlapping callers for the same key.
func (g *Group) Do(key string, fn func() (value.Value, error)) (value.Value, error) {
	g.mu.Lock()
	if c, ok := g.calls[key]; ok {
		g.mu.Unlock()
		<-c.done
		return c.val, c.err
	}
	c := &call{done: make(chan struct{})}
	g.calls[key] = c
	g.mu.Unlock()

	c.val, c.err = fn()
	close(c.done)

	g.mu.Lock()
	delete(g.calls, key)
	g.mu.Unlock()
	return c.val, c.err
}
