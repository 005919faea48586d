package dto

import (
	"encoding/json"

	"github.com/google/uuid"
)

// [RABBIT_V1] CANONICAL EVENT EXPORTED BY A PEER NODE
type EventV1 struct {
	ID             uuid.UUID       `json:"id"`
	Kind           string          `json:"kind"`
	RoomID         string          `json:"room_id"`
	RoomKind       string          `json:"room_kind"`
	Seq            uint64          `json:"seq"`
	ActorID        string          `json:"actor_id"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	OccurredAt     int64           `json:"occurred_at"`
	Payload        json.RawMessage `json:"payload"`
}
