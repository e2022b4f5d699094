package store

import (
	"github.com/kbukum/flowforge/logger"
	"github.com/kbukum/flowforge/storage/local"
)

func init() {
	RegisterFactory("local", newLocalBackend)
}

func newLocalBackend(cfg Config, _ *logger.Logger) (Backend, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = local.DefaultBasePath + "/pipelines"
	}
	backend, err := local.NewStorage(basePath)
	if err != nil {
		return nil, err
	}
	return newStorageBackend(backend, cfg.Prefix), nil
}
