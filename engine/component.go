package engine

import (
	"context"
	"fmt"

	"github.com/kbukum/flowforge/component"
	"github.com/kbukum/flowforge/engine/cache"
	"github.com/kbukum/flowforge/engine/scheduler"
	"github.com/kbukum/flowforge/engine/suspend"
	"github.com/kbukum/flowforge/logger"
	"github.com/kbukum/flowforge/module"
	"github.com/kbukum/flowforge/storage"
	_ "github.com/kbukum/flowforge/storage/local"
	_ "github.com/kbukum/flowforge/storage/s3"
	"github.com/kbukum/flowforge/store"
)

// Component wraps Engine and everything it's built from — the cache
// backend, the scheduler, the pipeline store, and the suspension store —
// as a single component.Component, so an embedding bootstrap.App starts
// and stops the whole runtime in one registration instead of five.
type Component struct {
	cfg      Config
	registry *module.Registry
	log      *logger.Logger

	cacheBackend cache.Backend
	sched        *scheduler.Scheduler
	images       store.Backend
	suspendStore *suspend.Store
	engine       *Engine
}

// NewComponent builds a Component from config and an already-populated
// module registry (callers register their modules before Start, the same
// way the pipeline language has no way to discover modules on its own).
func NewComponent(cfg Config, registry *module.Registry, log *logger.Logger) *Component {
	return &Component{
		cfg:      cfg,
		registry: registry,
		log:      log.WithComponent("engine"),
	}
}

var _ component.Component = (*Component)(nil)
var _ component.Describable = (*Component)(nil)

func (c *Component) Name() string { return "engine" }

// Engine returns the constructed Engine, or nil before Start.
func (c *Component) Engine() *Engine { return c.engine }

// Start wires every subsystem Engine needs, in dependency order: cache
// and scheduler have no dependencies of their own, the pipeline store and
// suspension store each need a storage.Storage backend, and Engine itself
// is assembled last from the finished pieces.
func (c *Component) Start(_ context.Context) error {
	cacheBackend, err := cache.New(c.cfg.Cache, c.log)
	if err != nil {
		return fmt.Errorf("engine component: cache: %w", err)
	}
	c.cacheBackend = cacheBackend

	c.sched = scheduler.New(c.cfg.Scheduler, "flowforge_engine")

	images, err := store.New(c.cfg.Store, c.log)
	if err != nil {
		return fmt.Errorf("engine component: pipeline store: %w", err)
	}
	c.images = images

	suspendBackend, err := storage.New(c.cfg.Suspend, nil, c.log)
	if err != nil {
		return fmt.Errorf("engine component: suspend storage: %w", err)
	}
	c.suspendStore = suspend.New(suspendBackend)

	c.engine = New(c.registry, c.cacheBackend, c.sched, c.images, c.suspendStore, c.log)
	return nil
}

// Stop closes the cache backend and the pipeline store. It does not close
// the scheduler or the suspension store's storage backend.
func (c *Component) Stop(_ context.Context) error {
	var firstErr error
	if c.cacheBackend != nil {
		if err := c.cacheBackend.Close(); err != nil {
			firstErr = fmt.Errorf("engine component: closing cache: %w", err)
		}
	}
	if c.images != nil {
		if err := c.images.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("engine component: closing pipeline store: %w", err)
		}
	}
	return firstErr
}

func (c *Component) Health(_ context.Context) component.ComponentHealth {
	if c.engine == nil {
		return component.ComponentHealth{
			Name:    c.Name(),
			Status:  component.StatusUnhealthy,
			Message: "engine not started",
		}
	}
	return component.ComponentHealth{Name: c.Name(), Status: component.StatusHealthy}
}

func (c *Component) Describe() component.Description {
	return component.Description{
		Name:    "Engine",
		Type:    "engine",
		Details: fmt.Sprintf("cache=%s store=%s scheduler_bounded=%t", c.cfg.Cache.Provider, c.cfg.Store.Provider, c.cfg.Scheduler.Bounded),
	}
}
