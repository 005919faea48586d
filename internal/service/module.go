package service

import (
	"log/slog"

	"github.com/loopfund/community-live/config"
	"github.com/loopfund/community-live/internal/domain/registry"
	"go.uber.org/fx"
)

var Module = fx.Module(
	"service",

	fx.Provide(
		// Domain services
		fx.Annotate(
			NewRoomAccess,
			fx.As(new(registry.Membership)),
		),
		func(cfg *config.Config, store Store, fanout *registry.Broadcaster, exporter Exporter, logger *slog.Logger) *Gateway {
			return NewGateway(store, fanout, exporter, GatewayConfig{
				Limits: Limits{
					MaxMessageLength: cfg.Gateway.MaxMessageLength,
					MaxPostLength:    cfg.Gateway.MaxPostLength,
					MaxTitleLength:   cfg.Gateway.MaxTitleLength,
					MaxCommentLength: cfg.Gateway.MaxCommentLength,
					MaxTags:          cfg.Gateway.MaxTags,
				},
				IdempotencyCacheSize: cfg.Gateway.IdempotencyCacheSize,
				TypingWindow:         cfg.Gateway.TypingWindow,
			}, logger.With("component", "gateway"))
		},
		// [DECORATION_LAYER] Intercept the gateway to add cross-cutting concerns
		func(gw *Gateway, logger *slog.Logger) Applier {
			return NewGatewayMiddleware(gw, logger.With("component", "gateway"))
		},
		fx.Annotate(
			func(cfg *config.Config, hub registry.Hubber, gw *Gateway, applier Applier, store Store, online OnlineLister, logger *slog.Logger) *LiveService {
				return NewLiveService(hub, gw, applier, store, online, cfg.Gateway.SnapshotLimit, logger.With("component", "live"))
			},
			fx.As(new(Deliverer)),
		),
	),
)
