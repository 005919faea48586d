package presence

import (
	"github.com/loopfund/community-live/config"
	"github.com/loopfund/community-live/internal/domain/registry"
	"github.com/loopfund/community-live/internal/service"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

// Module provides the presence tracker and the online-users lookup. Without
// Redis-backed presence the hub's local view answers lookups.
var Module = fx.Module("presence",
	fx.Provide(
		func(cfg *config.Config, client redis.UniversalClient) registry.PresenceTracker {
			if !cfg.Presence.Enabled || cfg.Store.Driver != "redis" {
				return Noop{}
			}
			return NewTracker(client, cfg.Redis.Prefix)
		},
		func(cfg *config.Config, client redis.UniversalClient, hub *registry.Hub) service.OnlineLister {
			if !cfg.Presence.Enabled || cfg.Store.Driver != "redis" {
				return hub
			}
			return NewTracker(client, cfg.Redis.Prefix)
		},
	),
)
