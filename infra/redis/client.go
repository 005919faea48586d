package redis

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/loopfund/community-live/config"
)

var Module = fx.Module("redis",
	fx.Provide(NewClient),
)

// NewClient builds the shared Redis client. The connection is verified on
// start only when a component that needs Redis is enabled.
func NewClient(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) goredis.UniversalClient {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	required := cfg.Store.Driver == "redis"
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if !required {
				return nil
			}
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
			}
			logger.Info("REDIS_CONNECTED", "addr", cfg.Redis.Addr, "db", cfg.Redis.DB)
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client
}
