package model

// ServerVersion is reported in the connected handshake. Set at build time.
var ServerVersion = "0.0.0"

// ConnectedPayload is sent to the client once its connection is registered.
type ConnectedPayload struct {
	Ok            bool   `json:"ok"`
	ConnectionID  string `json:"connection_id"`
	UserID        string `json:"user_id"`
	ServerVersion string `json:"server_version"`
}

// DisconnectedPayload represents the notification sent before the server closes the stream.
type DisconnectedPayload struct {
	Reason string `json:"reason"`
	Code   string `json:"code,omitempty"` // Optional: "SHUTDOWN", "EVICTED", "TIMEOUT"
}

type TypingPayload struct {
	UserID string     `json:"user_id"`
	Typing bool       `json:"typing"`
	Target *TargetRef `json:"target,omitempty"`
}

// PresencePayload signals that a user came online in, or left, a room.
type PresencePayload struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

// ResyncPayload tells the client its view of a room is stale.
type ResyncPayload struct {
	Reason string `json:"reason"`
}

type RoomDeletedPayload struct {
	RoomID string `json:"room_id"`
}

// CommentPayload carries the new comment and the target's comment counter.
type CommentPayload struct {
	Comment  *Comment `json:"comment"`
	Comments int      `json:"comments"`
}

type ViewPayload struct {
	Target TargetRef `json:"target"`
	Views  int       `json:"views"`
}

type SubscriptionPayload struct {
	RoomID string `json:"room_id"`
}

// FailurePayload reports a rejected client frame to its sender only.
type FailurePayload struct {
	Code           string `json:"code"`
	Message        string `json:"message"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	Retryable      bool   `json:"retryable,omitempty"`
}
