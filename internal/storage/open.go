package storage

import (
	"context"
	"fmt"

	"github.com/branchd-dev/cookiesync/internal/config"
)

// Open creates the backend selected by cfg
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "", "file":
		path := cfg.Path
		if path == "" {
			var err error
			if path, err = DefaultFilePath(); err != nil {
				return nil, err
			}
		}
		return NewFile(path), nil
	case "sqlite":
		return NewSQLite(cfg.Path)
	case "redis":
		return NewRedis(ctx, cfg.RedisAddress, cfg.RedisPrefix)
	case "keyring":
		return NewKeyring(""), nil
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}
