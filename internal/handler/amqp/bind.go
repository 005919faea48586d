package amqp

import (
	"context"
	"encoding/json"
	"runtime/debug"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/loopfund/community-live/internal/adapter/pubsub"
	"github.com/loopfund/community-live/internal/domain/model"
)

// DomainHandler processes one decoded record.
type DomainHandler[T any] func(ctx context.Context, msg *message.Message, payload *T) error

// Bind adapts fn to a watermill handler. It owns the ack policy: only
// retryable errors (store outages) are returned to the router and nacked;
// every other outcome is final and the message is acked.
func Bind[T any](h *MessageHandler, fn DomainHandler[T]) message.NoPublishHandlerFunc {
	return func(msg *message.Message) (err error) {
		handler := message.HandlerNameFromCtx(msg.Context())

		// [PANIC_RECOVERY] A bad record must not take the consumer down.
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("HANDLER_PANIC",
					"handler", handler,
					"msg_id", msg.UUID,
					"panic", r,
					"stack", string(debug.Stack()))
				err = nil
			}
		}()

		payload := new(T)
		if jsonErr := json.Unmarshal(msg.Payload, payload); jsonErr != nil {
			// ACK: a record that cannot be decoded now never will be.
			h.logger.Error("RECORD_UNDECODABLE", "handler", handler, "msg_id", msg.UUID, "err", jsonErr)
			return nil
		}

		err = fn(msg.Context(), msg, payload)
		switch {
		case err == nil:
			return nil
		case model.Retryable(err):
			return err
		default:
			h.logger.Warn("RECORD_DROPPED",
				"handler", handler,
				"msg_id", msg.UUID,
				"room_id", msg.Metadata.Get(pubsub.RoomIDMetadataKey),
				"code", model.ErrorCode(err),
				"err", err)
			return nil
		}
	}
}
