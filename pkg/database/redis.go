package database

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"fuzzdeck/config"
)

type RedisParams struct {
	fx.In

	Config *config.AppConfig
	Logger *zap.Logger
}

// NewRedisClient builds the optional live-status client. Returns nil when
// REDIS_URL is unset.
func NewRedisClient(p RedisParams) (*redis.Client, error) {
	if p.Config.RedisURL == "" {
		p.Logger.Debug("no REDIS_URL set, status mirror disabled")
		return nil, nil
	}

	options, err := redis.ParseURL(p.Config.RedisURL)
	if err != nil {
		p.Logger.Error("invalid REDIS_URL", zap.Error(err))
		return nil, err
	}
	client := redis.NewClient(options)

	// Test the connection
	if err := client.Ping(context.Background()).Err(); err != nil {
		p.Logger.Error("failed to reach redis", zap.Error(err))
		return nil, err
	}

	p.Logger.Debug("redis client created successfully")
	return client, nil
}
