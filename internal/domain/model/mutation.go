package model

import "github.com/google/uuid"

type MutationKind string

const (
	MutationSendMessage   MutationKind = "send_message"
	MutationEditMessage   MutationKind = "edit_message"
	MutationDeleteMessage MutationKind = "delete_message"
	MutationToggleLike    MutationKind = "toggle_like"
	MutationAddComment    MutationKind = "add_comment"
	MutationTyping        MutationKind = "typing"
	MutationCreatePost    MutationKind = "create_post"
	MutationRecordView    MutationKind = "record_view"
)

// Sequenced reports whether applying the mutation advances the room sequence.
func (k MutationKind) Sequenced() bool {
	return k != MutationTyping
}

func (k MutationKind) Valid() bool {
	switch k {
	case MutationSendMessage, MutationEditMessage, MutationDeleteMessage,
		MutationToggleLike, MutationAddComment, MutationTyping,
		MutationCreatePost, MutationRecordView:
		return true
	}
	return false
}

// Mutation is a client intent addressed to one room.
type Mutation struct {
	Kind           MutationKind
	RoomID         string
	ActorID        string
	IdempotencyKey string
	// OriginConnID identifies the connection that issued the mutation, if any.
	// Events carry it so the idempotency key is echoed only to that connection.
	OriginConnID uuid.UUID
	Payload      MutationPayload
}

// MutationPayload is the union of fields used by the mutation kinds.
type MutationPayload struct {
	MessageID uuid.UUID      `json:"message_id,omitzero"`
	Type      MessageType    `json:"type,omitempty"`
	Body      string         `json:"body,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Title     string         `json:"title,omitempty"`
	Content   string         `json:"content,omitempty"`
	Tags      []string       `json:"tags,omitempty"`
	Target    TargetRef      `json:"target,omitzero"`
	Typing    bool           `json:"typing,omitempty"`
}
