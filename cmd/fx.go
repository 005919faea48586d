package cmd

import (
	"log/slog"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/loopfund/community-live/config"
	"github.com/loopfund/community-live/infra/auth"
	infrapubsub "github.com/loopfund/community-live/infra/pubsub"
	infraredis "github.com/loopfund/community-live/infra/redis"
	httpsrv "github.com/loopfund/community-live/infra/server/http"
	"github.com/loopfund/community-live/infra/tracing"
	"github.com/loopfund/community-live/internal/adapter/presence"
	pubsubadapter "github.com/loopfund/community-live/internal/adapter/pubsub"
	"github.com/loopfund/community-live/internal/adapter/store"
	"github.com/loopfund/community-live/internal/domain/registry"
	"github.com/loopfund/community-live/internal/handler"
	amqpdi "github.com/loopfund/community-live/internal/handler/amqp"
	"github.com/loopfund/community-live/internal/service"
)

func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With("component", "fx")}
		}),
		tracing.Module,
		infraredis.Module,
		infrapubsub.Module,
		auth.Module,
		store.Module,
		presence.Module,
		pubsubadapter.Module,
		service.Module,
		registry.Module,
		handler.Module,
		httpsrv.Module,
		amqpdi.Module,
	)
}
