package database

import (
	"context"

	"github.com/classbank/economy/internal/config"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// InitRedis connects the quote cache. It returns nil when Redis is disabled
// or unreachable; callers then run without a cache.
func InitRedis(ctx context.Context, cfg config.RedisConfig) *redis.Client {
	if !cfg.Enabled {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		logrus.WithError(err).Warn("Redis connection failed, continuing without Redis")
		rdb.Close()
		return nil
	}

	logrus.WithField("addr", cfg.Addr()).Info("Redis connection established")
	return rdb
}
