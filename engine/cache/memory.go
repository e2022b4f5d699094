package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/kbukum/flowforge/logger"
	"github.com/kbukum/flowforge/value"
)

func init() {
	RegisterFactory("memory", newMemoryBackend)
}

type memoryEntry struct {
	key      string
	module   string
	value    value.Value
	expires  time.Time // zero means no expiration
	hasTTL   bool
	element  *list.Element
}

// memoryBackend is an in-process TTL+LRU cache. It does not collapse
// concurrent misses itself; Group does that in front of any backend.
type memoryBackend struct {
	mu       sync.Mutex
	entries  map[string]*memoryEntry
	order    *list.List // front = most recently used
	capacity int
	log      *logger.Logger

	hits, misses, evictions int64

	stopSweep chan struct{}
}

func newMemoryBackend(cfg Config, log *logger.Logger) (Backend, error) {
	b := &memoryBackend{
		entries:  make(map[string]*memoryEntry),
		order:    list.New(),
		capacity: cfg.Capacity,
		log:      log,
	}
	if cfg.SweepInterval > 0 {
		b.stopSweep = make(chan struct{})
		go b.sweepLoop(cfg.SweepInterval)
	}
	return b, nil
}

func (b *memoryBackend) sweepLoop(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			b.sweepExpired()
		case <-b.stopSweep:
			return
		}
	}
}

func (b *memoryBackend) sweepExpired() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	for key, e := range b.entries {
		if e.hasTTL && now.After(e.expires) {
			b.removeLocked(key)
		}
	}
}

func (b *memoryBackend) Lookup(ctx context.Context, key string) (value.Value, bool, error) {
	b.mu.Lock()
	e, ok := b.entries[key]
	if ok && e.hasTTL && time.Now().After(e.expires) {
		b.removeLocked(key)
		ok = false
	}
	if ok {
		b.order.MoveToFront(e.element)
		b.hits++
		v := e.value
		b.mu.Unlock()
		return v, true, nil
	}
	b.misses++
	b.mu.Unlock()
	return nil, false, nil
}

func (b *memoryBackend) Put(ctx context.Context, key string, v value.Value, ttl time.Duration) error {
	module := moduleFromKey(key)
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.entries[key]; ok {
		b.order.MoveToFront(existing.element)
		existing.value = v
		existing.module = module
		if ttl > 0 {
			existing.hasTTL = true
			existing.expires = time.Now().Add(ttl)
		} else {
			existing.hasTTL = false
		}
		return nil
	}

	e := &memoryEntry{key: key, module: module, value: v}
	if ttl > 0 {
		e.hasTTL = true
		e.expires = time.Now().Add(ttl)
	}
	e.element = b.order.PushFront(key)
	b.entries[key] = e

	if b.capacity > 0 {
		for len(b.entries) > b.capacity {
			back := b.order.Back()
			if back == nil {
				break
			}
			b.removeLocked(back.Value.(string))
			b.evictions++
		}
	}
	return nil
}

func (b *memoryBackend) Invalidate(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(key)
	return nil
}

func (b *memoryBackend) InvalidateByModule(ctx context.Context, module string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, e := range b.entries {
		if e.module == module {
			b.removeLocked(key)
		}
	}
	return nil
}

// removeLocked requires b.mu to already be held.
func (b *memoryBackend) removeLocked(key string) {
	e, ok := b.entries[key]
	if !ok {
		return
	}
	b.order.Remove(e.element)
	delete(b.entries, key)
}

func (b *memoryBackend) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Hits:      b.hits,
		Misses:    b.misses,
		Evictions: b.evictions,
		Size:      len(b.entries),
		HitRate:   computeHitRate(b.hits, b.misses),
	}
}

func (b *memoryBackend) Close() error {
	if b.stopSweep != nil {
		close(b.stopSweep)
	}
	return nil
}

// moduleFromKey recovers the module FQN Key encoded into a cache key, for
// InvalidateByModule bookkeeping.
func moduleFromKey(key string) string {
	if i := strings.Index(key, "@"); i >= 0 {
		return key[:i]
	}
	return key
}
