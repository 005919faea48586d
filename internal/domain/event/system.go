package event

import (
	"time"

	"github.com/google/uuid"
	"github.com/loopfund/community-live/internal/domain/model"
)

// [GUARD] Ensure compliance with the Eventer interface.
var _ Eventer = (*SystemEvent)(nil)

// SystemEvent is a generic envelope for internal signals and domain notifications.
type SystemEvent struct {
	id         string
	roomID     string
	seq        uint64
	kind       EventKind
	priority   EventPriority
	occurredAt int64
	payload    any
	cache      wireCache
}

// [INTERFACE_IMPLEMENTATION]
func (e *SystemEvent) GetID() string              { return e.id }
func (e *SystemEvent) GetKind() EventKind         { return e.kind }
func (e *SystemEvent) GetRoomID() string          { return e.roomID }
func (e *SystemEvent) GetSeq() uint64             { return e.seq }
func (e *SystemEvent) GetPriority() EventPriority { return e.priority }
func (e *SystemEvent) GetOccurredAt() int64       { return e.occurredAt }
func (e *SystemEvent) GetPayload() any            { return e.payload }
func (e *SystemEvent) GetIdempotencyKey() string  { return "" }
func (e *SystemEvent) GetOriginConnID() uuid.UUID { return uuid.Nil }
func (e *SystemEvent) GetCached() any             { return e.cache.get() }
func (e *SystemEvent) SetCached(v any)            { e.cache.set(v) }

// NewSystemEvent is a universal factory for creating any signal.
func NewSystemEvent(roomID string, seq uint64, kind EventKind, priority EventPriority, payload any) *SystemEvent {
	return &SystemEvent{
		id:         uuid.NewString(),
		roomID:     roomID,
		seq:        seq,
		kind:       kind,
		priority:   priority,
		occurredAt: time.Now().UnixMilli(),
		payload:    payload,
	}
}

func NewConnectedEvent(connID uuid.UUID, userID string) *SystemEvent {
	return NewSystemEvent("", 0, Connected, PriorityNormal, &model.ConnectedPayload{
		Ok:            true,
		ConnectionID:  connID.String(),
		UserID:        userID,
		ServerVersion: model.ServerVersion,
	})
}

func NewDisconnectedEvent(reason, code string) *SystemEvent {
	return NewSystemEvent("", 0, Disconnected, PriorityHigh, &model.DisconnectedPayload{
		Reason: reason,
		Code:   code,
	})
}

// NewResyncMarker replaces dropped history for roomID in a connection's queue.
func NewResyncMarker(roomID, reason string) *SystemEvent {
	return NewSystemEvent(roomID, 0, ResyncRequired, PriorityHigh, &model.ResyncPayload{Reason: reason})
}

func NewPresenceEvent(roomID, userID string, online bool) *SystemEvent {
	return NewSystemEvent(roomID, 0, PresenceChanged, PriorityLow, &model.PresencePayload{
		UserID: userID,
		Online: online,
	})
}

func NewRoomDeletedEvent(roomID string) *SystemEvent {
	return NewSystemEvent(roomID, 0, RoomDeleted, PriorityHigh, &model.RoomDeletedPayload{RoomID: roomID})
}

// NewSnapshotEvent wraps a room snapshot for delivery through the outbound queue.
func NewSnapshotEvent(snap *model.Snapshot) *SystemEvent {
	return NewSystemEvent(snap.RoomID, snap.Seq, Snapshot, PriorityHigh, snap)
}

func NewSubscribedEvent(roomID string) *SystemEvent {
	return NewSystemEvent(roomID, 0, Subscribed, PriorityNormal, &model.SubscriptionPayload{RoomID: roomID})
}

func NewUnsubscribedEvent(roomID string) *SystemEvent {
	return NewSystemEvent(roomID, 0, Unsubscribed, PriorityNormal, &model.SubscriptionPayload{RoomID: roomID})
}

// NewFailureEvent answers a rejected frame. It is sent to the originating
// connection only.
func NewFailureEvent(roomID string, err error, idempotencyKey string) *SystemEvent {
	code, msg := model.ErrorCode(err), err.Error()
	if code == model.CodeInternal {
		msg = "internal error"
	}
	return NewSystemEvent(roomID, 0, Failure, PriorityNormal, &model.FailurePayload{
		Code:           code,
		Message:        msg,
		IdempotencyKey: idempotencyKey,
		Retryable:      model.Retryable(err),
	})
}
