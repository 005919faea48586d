// Package protocol defines the JSON frames exchanged between live clients
// and the hub. It is shared by the server transports and pkg/liveclient.
package protocol

import (
	"encoding/json"
)

// Kind names both inbound requests and outbound events.
type Kind string

// Inbound kinds.
const (
	SendMessage   Kind = "send_message"
	EditMessage   Kind = "edit_message"
	DeleteMessage Kind = "delete_message"
	ToggleLike    Kind = "toggle_like"
	AddComment    Kind = "add_comment"
	Typing        Kind = "typing"
	CreatePost    Kind = "create_post"
	RecordView    Kind = "record_view"

	Subscribe   Kind = "subscribe"
	Unsubscribe Kind = "unsubscribe"
	Resync      Kind = "resync"
)

// Outbound kinds.
const (
	Connected      Kind = "connected"
	Disconnected   Kind = "disconnected"
	Subscribed     Kind = "subscribed"
	Unsubscribed   Kind = "unsubscribed"
	SnapshotKind   Kind = "snapshot"
	Failure        Kind = "error"
	ResyncRequired Kind = "resync_required"
	RoomDeleted    Kind = "room_deleted"

	PresenceChanged Kind = "presence_changed"
	TypingState     Kind = "typing_state"

	MessageCreated Kind = "message_created"
	MessageEdited  Kind = "message_edited"
	MessageDeleted Kind = "message_deleted"
	PostCreated    Kind = "post_created"
	LikeToggled    Kind = "like_toggled"
	CommentAdded   Kind = "comment_added"
	ViewRecorded   Kind = "view_recorded"
)

// Sequenced reports whether events of kind k advance the room sequence.
func (k Kind) Sequenced() bool {
	switch k {
	case MessageCreated, MessageEdited, MessageDeleted, PostCreated,
		LikeToggled, CommentAdded, ViewRecorded:
		return true
	}
	return false
}

// IsMutation reports whether an inbound frame of kind k is applied through
// the gateway.
func (k Kind) IsMutation() bool {
	switch k {
	case SendMessage, EditMessage, DeleteMessage, ToggleLike, AddComment,
		Typing, CreatePost, RecordView:
		return true
	}
	return false
}

// Inbound is a client frame.
type Inbound struct {
	Kind           Kind            `json:"kind"`
	RoomID         string          `json:"room_id,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// Event is a server frame. IdempotencyKey is present only on the copy
// delivered to the connection that issued the mutation.
type Event struct {
	ID             string          `json:"id"`
	Kind           Kind            `json:"kind"`
	RoomID         string          `json:"room_id,omitempty"`
	Seq            uint64          `json:"seq"`
	ActorID        string          `json:"actor_id,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Replayed       bool            `json:"replayed,omitempty"`
	OccurredAt     int64           `json:"occurred_at"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// Decode unmarshals the event payload into v.
func (e *Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

// Batch is the long-poll response body.
type Batch struct {
	Events []Event `json:"events"`
}

// MutationPayload is the body of every mutation frame. Fields not used by a
// kind are ignored.
type MutationPayload struct {
	MessageID string         `json:"message_id,omitempty"`
	Type      string         `json:"type,omitempty"`
	Body      string         `json:"body,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Title     string         `json:"title,omitempty"`
	Content   string         `json:"content,omitempty"`
	Tags      []string       `json:"tags,omitempty"`
	Target    *Target        `json:"target,omitempty"`
	Typing    bool           `json:"typing,omitempty"`
}

// NewInbound builds a frame with an encoded payload.
func NewInbound(kind Kind, roomID, key string, payload any) (Inbound, error) {
	in := Inbound{Kind: kind, RoomID: roomID, IdempotencyKey: key}
	if payload == nil {
		return in, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return in, err
	}
	in.Payload = raw
	return in, nil
}
