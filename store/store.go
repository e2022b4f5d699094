// Package store is the pipeline store: a content-addressed key-value store
// of compiled pipeline images, keyed by structural hash, with a mutable
// name-to-hash alias table layered on top for human-readable references and
// rollback. It follows the same pluggable-backend registry shape as
// engine/cache and storage.New (memory default, filesystem and S3-backed
// implementations registered from their own init functions).
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kbukum/flowforge/logger"
	"github.com/kbukum/flowforge/semtype"
)

// ErrNotFound is returned when a ref (hash or alias) has no matching image.
var ErrNotFound = errors.New("store: not found")

// ErrAliasInUse is returned by Delete when a hash is still referenced by an
// alias other than the one being deleted through.
var ErrAliasInUse = errors.New("store: hash still referenced by an alias")

// Image is a compiled, content-addressed pipeline: the source text plus
// the metadata the store and its consumers need without recompiling.
type Image struct {
	StructuralHash string
	SyntacticHash  string
	Source         string
	Aliases        []string
	CompiledAt     time.Time
	InputSchema    map[string]semtype.SemType
	OutputSchema   map[string]semtype.SemType
	ModuleRefs     []string
}

// VersionEntry is one entry in an alias's rollback history.
type VersionEntry struct {
	Version        int
	StructuralHash string
	Timestamp      time.Time
	Active         bool
}

// Backend implements the pipeline store's put/get/list/delete/alias_put/
// versions/rollback contract against a concrete persistence medium.
type Backend interface {
	// Put inserts image if its structural hash is not already present.
	// Idempotent: an existing entry wins over the new one.
	Put(ctx context.Context, img Image) error

	// Get resolves ref — a 64-char hex hash, a "sha256:<hash>" form, or an
	// alias name — to its Image.
	Get(ctx context.Context, ref string) (Image, error)

	// List returns every stored image.
	List(ctx context.Context) ([]Image, error)

	// Delete removes the image at ref. It refuses if any alias other than
	// ref itself still points at the same hash.
	Delete(ctx context.Context, ref string) error

	// AliasPut atomically repoints name at structuralHash, retaining the
	// previous target in the alias's version history for rollback.
	AliasPut(ctx context.Context, name, structuralHash string) error

	// Versions returns name's rollback history, oldest first.
	Versions(ctx context.Context, name string) ([]VersionEntry, error)

	// Rollback repoints name at a prior hash from its version history. A
	// zero version rolls back to the immediately preceding one.
	Rollback(ctx context.Context, name string, version int) error

	Close() error
}

// Config configures a store backend. Provider selects the registered
// backend factory; the remaining fields are interpreted per-backend.
type Config struct {
	Provider string `mapstructure:"provider"`

	// BasePath is the root directory for the local filesystem backend.
	BasePath string `mapstructure:"base_path"`

	// Bucket, Region, Endpoint, AccessKey, SecretKey configure the s3
	// backend.
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`

	// Prefix namespaces keys within the chosen backend.
	Prefix string `mapstructure:"prefix"`
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

// RegisterFactory registers a store backend factory under name. Backend
// implementation files call this from an init function, mirroring
// storage.RegisterFactory and cache.RegisterFactory.
func RegisterFactory(name string, f Factory) {
	factories[name] = f
}

// New builds the Backend named by cfg.Provider, falling back to the memory
// backend with a warning if the named provider was never registered.
func New(cfg Config, log *logger.Logger) (Backend, error) {
	cfg.ApplyDefaults()
	l := log.WithComponent("store")

	f, ok := factories[cfg.Provider]
	if !ok {
		l.Warn("unknown store provider, falling back to memory", map[string]interface{}{"provider": cfg.Provider})
		f, ok = factories["memory"]
		if !ok {
			return nil, fmt.Errorf("store: no memory backend registered")
		}
	}
	return f(cfg, l)
}
