package engine

import (
	"fmt"

	"github.com/kbukum/flowforge/engine/cache"
	"github.com/kbukum/flowforge/engine/scheduler"
	"github.com/kbukum/flowforge/storage"
	"github.com/kbukum/flowforge/store"
)

// Config collects the sub-configs for every pluggable subsystem Engine
// depends on. It is meant to be embedded into a larger service config
// alongside config.ServiceConfig, loaded by the same config.Loader that
// decodes redis.Config or storage.Config today.
type Config struct {
	Cache     cache.Config     `yaml:"cache" mapstructure:"cache"`
	Scheduler scheduler.Config `yaml:"scheduler" mapstructure:"scheduler"`
	Store     store.Config     `yaml:"store" mapstructure:"store"`
	Suspend   storage.Config   `yaml:"suspend" mapstructure:"suspend"`
}

// ApplyDefaults fills unset fields across every sub-config.
func (c *Config) ApplyDefaults() {
	c.Cache.ApplyDefaults()
	c.Scheduler.ApplyDefaults()
	c.Store.ApplyDefaults()
	c.Suspend.ApplyDefaults()
}

// Validate checks every sub-config that exposes one. cache.Config and
// scheduler.Config are self-correcting (ApplyDefaults alone makes them
// usable), so only Suspend's storage.Config carries real validation.
func (c *Config) Validate() error {
	if err := c.Suspend.Validate(); err != nil {
		return fmt.Errorf("engine: suspend storage config: %w", err)
	}
	return nil
}
