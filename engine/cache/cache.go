// Package cache provides the module-call result cache: a pluggable backend
// registry (memory, redis) keyed on (module FQN, canonical input hash,
// version), with single-flight collapsing of concurrent misses for the
// same key.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/kbukum/flowforge/logger"
	"github.com/kbukum/flowforge/value"
)

// Backend stores and retrieves cached module results.
type Backend interface {
	Lookup(ctx context.Context, key string) (value.Value, bool, error)
	Put(ctx context.Context, key string, v value.Value, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
	InvalidateByModule(ctx context.Context, module string) error
	Stats() Stats
	Close() error
}

// Stats summarizes a backend's hit/miss behavior at a point in time.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
	HitRate   float64
}

func computeHitRate(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Config configures a cache backend. Provider selects the registered
// backend factory; the remaining fields are interpreted per-backend.
type Config struct {
	Provider string `mapstructure:"provider"`

	// Capacity bounds the memory backend's LRU size. Zero means unbounded.
	Capacity int `mapstructure:"capacity"`

	// SweepInterval controls how often the memory backend scans for
	// expired entries between accesses. Zero disables the periodic sweep
	// (expired entries are still evicted lazily on access).
	SweepInterval time.Duration `mapstructure:"sweep_interval"`

	// KeyPrefix namespaces keys for shared backends such as Redis.
	KeyPrefix string `mapstructure:"key_prefix"`

	Redis RedisBackendConfig `mapstructure:"redis"`
}

// ApplyDefaults fills unset fields with the memory backend.
func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = "memory"
	}
}

// Factory builds a Backend from Config.
type Factory func(cfg Config, log *logger.Logger) (Backend, error)

var factories = make(map[string]Factory)

// RegisterFactory registers a cache backend factory under name. Backend
// implementation packages call this from an init function, mirroring
// storage.RegisterFactory.
func RegisterFactory(name string, f Factory) {
	factories[name] = f
}

// New builds the Backend named by cfg.Provider, falling back to the memory
// backend with a warning if the named provider was never registered.
func New(cfg Config, log *logger.Logger) (Backend, error) {
	cfg.ApplyDefaults()
	l := log.WithComponent("cache")

	f, ok := factories[cfg.Provider]
	if !ok {
		l.Warn("unknown cache provider, falling back to memory", map[string]interface{}{"provider": cfg.Provider})
		f, ok = factories["memory"]
		if !ok {
			return nil, fmt.Errorf("cache: no memory backend registered")
		}
	}
	return f(cfg, l)
}

// Key builds the canonical cache key for a module call: the module's fully
// qualified name, the canonical hash of its resolved input values, and the
// version of interest. Two calls with the same module, equal inputs (field
// order does not matter — fields are sorted before hashing) and the same
// version produce the same key.
func Key(moduleFQN string, inputs map[string]value.Value, version string) (string, error) {
	h, err := hashInputs(inputs)
	if err != nil {
		return "", err
	}
	return moduleFQN + "@" + version + ":" + h, nil
}

// hashInputs canonicalizes a module's resolved argument record by sorting
// field names before encoding, the same principle compile.StructuralHash
// uses for sorting slots: map iteration order must never leak into a hash.
func hashInputs(inputs map[string]value.Value) (string, error) {
	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		enc, err := value.EncodeJSON(inputs[name])
		if err != nil {
			return "", fmt.Errorf("cache: hashing input %q: %w", name, err)
		}
		fmt.Fprintf(h, "%s=%v|", name, enc)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
