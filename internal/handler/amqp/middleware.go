package amqp

import (
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loopfund/community-live/internal/adapter/pubsub"
)

const tracerName = "github.com/loopfund/community-live/internal/handler/amqp"

// [CONSUMER_SPAN]
// Opens one span per delivery attempt, tagged with the room and the node
// that committed the event.
func TracingMiddleware(h message.HandlerFunc) message.HandlerFunc {
	tracer := otel.Tracer(tracerName)
	return func(msg *message.Message) ([]*message.Message, error) {
		ctx, span := tracer.Start(msg.Context(), "amqp.consume "+message.HandlerNameFromCtx(msg.Context()),
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("messaging.message.id", msg.UUID),
				attribute.String("live.room_id", msg.Metadata.Get(pubsub.RoomIDMetadataKey)),
				attribute.String("live.origin_node", msg.Metadata.Get(pubsub.NodeIDMetadataKey)),
			))
		defer span.End()

		msg.SetContext(ctx)
		msgs, err := h(msg)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return msgs, err
	}
}

// [LOGGING_MIDDLEWARE]
// Logs every attempt with its room position; nacks are logged at warn.
func LoggingMiddleware(logger *slog.Logger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			start := time.Now()
			msgs, err := h(msg)

			attrs := []any{
				"handler", message.HandlerNameFromCtx(msg.Context()),
				"msg_id", msg.UUID,
				"room_id", msg.Metadata.Get(pubsub.RoomIDMetadataKey),
				"seq", msg.Metadata.Get(pubsub.SeqMetadataKey),
				"origin_node", msg.Metadata.Get(pubsub.NodeIDMetadataKey),
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if err != nil {
				logger.Warn("MESSAGE_NACKED", append(attrs, "err", err)...)
				return msgs, err
			}
			logger.Debug("MESSAGE_ACKED", attrs...)
			return msgs, nil
		}
	}
}

// [RETRY_MIDDLEWARE]
// Only retryable failures reach this point (see Bind); they are store
// outages, so the schedule backs off to the breaker timeout range.
func NewRetryMiddleware(logger *slog.Logger) middleware.Retry {
	return middleware.Retry{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
		OnRetryHook: func(retryNum int, delay time.Duration) {
			logger.Info("MESSAGE_RETRY", "attempt", retryNum, "delay_ms", delay.Milliseconds())
		},
	}
}
