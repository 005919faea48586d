package store

import (
	"log/slog"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/loopfund/community-live/config"
	"github.com/loopfund/community-live/internal/adapter/store/memory"
	"github.com/loopfund/community-live/internal/adapter/store/redisstore"
	"github.com/loopfund/community-live/internal/adapter/store/resilient"
	"github.com/loopfund/community-live/internal/service"
)

// Module provides the durable store selected by store.driver. The Redis
// store is wrapped with retries and a circuit breaker.
var Module = fx.Module("store",
	fx.Provide(
		func(cfg *config.Config, client redis.UniversalClient, logger *slog.Logger) service.Store {
			if cfg.Store.Driver != "redis" {
				logger.Warn("STORE_IN_MEMORY: state is lost on restart")
				return memory.New()
			}
			return resilient.New(
				redisstore.New(client, cfg.Redis.Prefix),
				resilient.Config{
					Retries:            cfg.Store.Retries,
					RetryBackoff:       cfg.Store.RetryBackoff,
					OpTimeout:          cfg.Store.OpTimeout,
					BreakerMaxRequests: cfg.Breaker.MaxRequests,
					BreakerInterval:    cfg.Breaker.Interval,
					BreakerTimeout:     cfg.Breaker.Timeout,
					FailureThreshold:   cfg.Breaker.FailureThreshold,
				},
				logger.With("component", "store"),
			)
		},
	),
)
