package store

import (
	"context"
	"fmt"

	"github.com/kbukum/flowforge/logger"
	"github.com/kbukum/flowforge/storage/s3"
)

func init() {
	RegisterFactory("s3", newS3Backend)
}

func newS3Backend(cfg Config, _ *logger.Logger) (Backend, error) {
	c := &s3.Config{
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("store: s3 backend: %w", err)
	}
	backend, err := s3.NewStorage(context.Background(), c)
	if err != nil {
		return nil, fmt.Errorf("store: s3 backend: %w", err)
	}
	return newStorageBackend(backend, cfg.Prefix), nil
}
