package redis

import (
	"context"
	"fmt"
	"time"

	"live-broadcast-demo/backend/pkg/config"

	"github.com/redis/go-redis/v9"
)

// NewClient connects to redis using application configuration and
// verifies the connection before returning it. The session store and
// connection registry share one client.
func NewClient(cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}
