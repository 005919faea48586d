package handler

import (
	"go.uber.org/fx"

	httpsrv "github.com/loopfund/community-live/infra/server/http"
	"github.com/loopfund/community-live/internal/handler/lp"
	"github.com/loopfund/community-live/internal/handler/rest"
	"github.com/loopfund/community-live/internal/handler/ws"
)

// Module registers every HTTP transport on the shared router.
var Module = fx.Module("http-handlers",
	fx.Provide(
		httpsrv.AsRoute(ws.NewWSHandler),
		httpsrv.AsRoute(lp.NewLPHandler),
		httpsrv.AsRoute(rest.NewRESTHandler),
	),
)
