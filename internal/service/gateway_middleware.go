package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/loopfund/community-live/internal/domain/event"
	"github.com/loopfund/community-live/internal/domain/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/loopfund/community-live/internal/service"

// GatewayMiddleware implements [DECORATOR_PATTERN] to add observability
// to the mutation path without touching business logic.
type GatewayMiddleware struct {
	Next   Applier
	Logger *slog.Logger
	Tracer trace.Tracer
}

// NewGatewayMiddleware wraps next with a span and outcome logging.
func NewGatewayMiddleware(next Applier, logger *slog.Logger) Applier {
	return &GatewayMiddleware{
		Next:   next,
		Logger: logger,
		Tracer: otel.Tracer(tracerName),
	}
}

func (m *GatewayMiddleware) Apply(ctx context.Context, mut model.Mutation) (*event.Canonical, error) {
	start := time.Now()

	ctx, span := m.Tracer.Start(ctx, "gateway.apply", trace.WithAttributes(
		attribute.String("mutation.kind", string(mut.Kind)),
		attribute.String("room.id", mut.RoomID),
	))
	defer span.End()

	// [EXECUTION]
	ev, err := m.Next.Apply(ctx, mut)
	duration := time.Since(start)

	// [OBSERVABILITY]
	switch {
	case errors.Is(err, ErrCoalesced):
		span.SetAttributes(attribute.Bool("typing.coalesced", true))
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, model.ErrorCode(err))

		log := m.Logger.Debug
		if model.ErrorCode(err) == model.CodeInternal || model.Retryable(err) {
			log = m.Logger.Warn
		}
		log("MUTATION_REJECTED",
			"kind", mut.Kind,
			"room_id", mut.RoomID,
			"actor_id", mut.ActorID,
			"code", model.ErrorCode(err),
			"err", err,
			"duration_ms", duration.Milliseconds(),
		)
	default:
		span.SetAttributes(
			attribute.Int64("room.seq", int64(ev.Seq)),
			attribute.Bool("mutation.replayed", ev.Replayed()),
		)
		m.Logger.Debug("MUTATION_APPLIED",
			"kind", mut.Kind,
			"room_id", mut.RoomID,
			"seq", ev.Seq,
			"replayed", ev.Replayed(),
			"duration_ms", duration.Milliseconds(),
		)
	}
	return ev, err
}
