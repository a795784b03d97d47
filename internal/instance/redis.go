package instance

import (
	"github.com/redis/go-redis/v9"

	"github.com/slackcore/runtime/internal/config"
)

func newRedisClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: cfg.EventBuffer.RedisAddr,
		DB:   cfg.EventBuffer.RedisDB,
	})
}
