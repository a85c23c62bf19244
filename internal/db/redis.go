package db

import (
	"time"

	"backend-triptrack/internal/config"

	"github.com/redis/go-redis/v9"
)

// maxRedisRetries bounds the per-command retry budget; once exhausted the
// failure surfaces to the caller as a store error.
const maxRedisRetries = 3

func ConnectRedis(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}

	return redis.NewClient(&redis.Options{
		Addr:            cfg.RedisAddr,
		Password:        cfg.RedisPassword,
		MaxRetries:      maxRedisRetries,
		MinRetryBackoff: 100 * time.Millisecond,
		MaxRetryBackoff: 5 * time.Second,
	})
}
