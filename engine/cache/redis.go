package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kbukum/flowforge/logger"
	redisclient "github.com/kbukum/flowforge/redis"
	"github.com/kbukum/flowforge/value"
)

func init() {
	RegisterFactory("redis", newRedisBackend)
}

// RedisBackendConfig carries the redis.Config plus cache-specific fields.
type RedisBackendConfig struct {
	redisclient.Config `mapstructure:",squash"`
}

// envelope is the JSON document stored per key: the value and the type
// needed to decode it back, since a Redis-backed cache can be read by a
// process other than the one that wrote it.
type envelope struct {
	Module string `json:"module"`
	Type   any    `json:"type"`
	Value  any    `json:"value"`
}

// redisBackend stores cache entries in Redis, wrapping the teacher's
// redis.Client the same way redis.TypedStore does (JSON-serialized, with a
// key prefix), rather than reimplementing connection handling.
type redisBackend struct {
	client    *redisclient.Client
	keyPrefix string
	log       *logger.Logger

	mu               sync.Mutex
	hits, misses     int64
	evictions        int64

	// moduleIndex tracks which keys belong to which module, for
	// InvalidateByModule — Redis has no native "invalidate by prefix of
	// value" primitive, so the index is maintained client-side.
	moduleIndex map[string]map[string]struct{}
}

func newRedisBackend(cfg Config, log *logger.Logger) (Backend, error) {
	client, err := redisclient.New(cfg.Redis.Config, log)
	if err != nil {
		return nil, fmt.Errorf("cache: redis backend: %w", err)
	}
	return &redisBackend{
		client:      client,
		keyPrefix:   cfg.KeyPrefix,
		log:         log,
		moduleIndex: make(map[string]map[string]struct{}),
	}, nil
}

func (b *redisBackend) fullKey(key string) string {
	if b.keyPrefix == "" {
		return key
	}
	return b.keyPrefix + ":" + key
}

func (b *redisBackend) Lookup(ctx context.Context, key string) (value.Value, bool, error) {
	raw, err := b.client.Get(ctx, b.fullKey(key))
	if err != nil {
		if isRedisNil(err) {
			b.mu.Lock()
			b.misses++
			b.mu.Unlock()
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache: redis lookup %q: %w", key, err)
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, false, fmt.Errorf("cache: redis decode %q: %w", key, err)
	}
	t, err := DecodeType(env.Type)
	if err != nil {
		return nil, false, err
	}
	v, err := value.DecodeJSON(env.Value, t, key)
	if err != nil {
		return nil, false, err
	}

	b.mu.Lock()
	b.hits++
	b.mu.Unlock()
	return v, true, nil
}

func (b *redisBackend) Put(ctx context.Context, key string, v value.Value, ttl time.Duration) error {
	module := moduleFromKey(key)
	enc, err := value.EncodeJSON(v)
	if err != nil {
		return fmt.Errorf("cache: redis encode %q: %w", key, err)
	}
	env := envelope{Module: module, Type: EncodeType(v.Type()), Value: enc}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("cache: redis marshal %q: %w", key, err)
	}
	if err := b.client.Set(ctx, b.fullKey(key), string(data), ttl); err != nil {
		return fmt.Errorf("cache: redis put %q: %w", key, err)
	}

	b.mu.Lock()
	if b.moduleIndex[module] == nil {
		b.moduleIndex[module] = make(map[string]struct{})
	}
	b.moduleIndex[module][key] = struct{}{}
	b.mu.Unlock()
	return nil
}

func (b *redisBackend) Invalidate(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, b.fullKey(key)); err != nil {
		return fmt.Errorf("cache: redis invalidate %q: %w", key, err)
	}
	module := moduleFromKey(key)
	b.mu.Lock()
	delete(b.moduleIndex[module], key)
	b.evictions++
	b.mu.Unlock()
	return nil
}

func (b *redisBackend) InvalidateByModule(ctx context.Context, module string) error {
	b.mu.Lock()
	keys := make([]string, 0, len(b.moduleIndex[module]))
	for k := range b.moduleIndex[module] {
		keys = append(keys, k)
	}
	b.mu.Unlock()

	fullKeys := make([]string, len(keys))
	for i, k := range keys {
		fullKeys[i] = b.fullKey(k)
	}
	if len(fullKeys) > 0 {
		if err := b.client.Del(ctx, fullKeys...); err != nil {
			return fmt.Errorf("cache: redis invalidate module %q: %w", module, err)
		}
	}

	b.mu.Lock()
	b.evictions += int64(len(keys))
	delete(b.moduleIndex, module)
	b.mu.Unlock()
	return nil
}

func (b *redisBackend) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	size := 0
	for _, keys := range b.moduleIndex {
		size += len(keys)
	}
	return Stats{
		Hits:      b.hits,
		Misses:    b.misses,
		Evictions: b.evictions,
		Size:      size,
		HitRate:   computeHitRate(b.hits, b.misses),
	}
}

func (b *redisBackend) Close() error {
	return b.client.Close()
}

func isRedisNil(err error) bool {
	return strings.Contains(err.Error(), "redis: nil")
}
