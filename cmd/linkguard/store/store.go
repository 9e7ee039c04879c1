// Package store selects the decision snapshot backend.
package store

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/HatiCode/linkguard/cmd/linkguard/config"
	"github.com/HatiCode/linkguard/pkg/storage"
)

// New creates the storage backend named by cfg.Storage. Both backends expire
// snapshots after cfg.RedisTTL.
func New(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Storage {
	case "redis":
		logger.Info("initializing redis storage",
			"addr", cfg.RedisAddr,
			"db", cfg.RedisDB,
			"ttl", cfg.RedisTTL,
		)
		s, err := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL)
		if err != nil {
			return nil, fmt.Errorf("redis storage: %w", err)
		}
		return s, nil

	case "memory":
		logger.Info("initializing in-memory storage", "ttl", cfg.RedisTTL)
		if cfg.RedisTTL <= 0 {
			return storage.NewMemoryStore(), nil
		}
		return storage.NewMemoryStoreWithTTL(cfg.RedisTTL, cleanupInterval(cfg.RedisTTL)), nil

	default:
		return nil, fmt.Errorf("invalid storage backend %q", cfg.Storage)
	}
}

func cleanupInterval(ttl time.Duration) time.Duration {
	return max(ttl/4, time.Second)
}
