package protocol

// Target addresses a post or a message.
type Target struct {
	Kind string `json:"kind"` // "post" | "message"
	ID   string `json:"id"`
}

func (t Target) Key() string { return t.Kind + ":" + t.ID }

type Message struct {
	ID        string         `json:"id"`
	RoomID    string         `json:"room_id"`
	AuthorID  string         `json:"author_id"`
	Type      string         `json:"type"`
	Body      string         `json:"body"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt int64          `json:"created_at"`
	UpdatedAt int64          `json:"updated_at,omitempty"`
	Edited    bool           `json:"edited"`
	Deleted   bool           `json:"deleted"`
	Seq       uint64         `json:"seq"`
	ClientKey string         `json:"client_key,omitempty"`
}

type Post struct {
	ID        string   `json:"id"`
	RoomID    string   `json:"room_id"`
	AuthorID  string   `json:"author_id"`
	Title     string   `json:"title,omitempty"`
	Content   string   `json:"content"`
	Tags      []string `json:"tags,omitempty"`
	CreatedAt int64    `json:"created_at"`
	Seq       uint64   `json:"seq"`
	ClientKey string   `json:"client_key,omitempty"`
}

type Comment struct {
	ID        string `json:"id"`
	Target    Target `json:"target"`
	AuthorID  string `json:"author_id"`
	Body      string `json:"body"`
	CreatedAt int64  `json:"created_at"`
	Seq       uint64 `json:"seq"`
	ClientKey string `json:"client_key,omitempty"`
}

type Engagement struct {
	Target   Target   `json:"target"`
	Likes    int      `json:"likes"`
	Comments int      `json:"comments"`
	Views    int      `json:"views"`
	LikedBy  []string `json:"liked_by,omitempty"`
}

// Snapshot is the room state at head Seq.
type Snapshot struct {
	RoomID     string       `json:"room_id"`
	Kind       string       `json:"kind"`
	Seq        uint64       `json:"seq"`
	Messages   []Message    `json:"messages,omitempty"`
	Posts      []Post       `json:"posts,omitempty"`
	Engagement []Engagement `json:"engagement,omitempty"`
	Comments   []Comment    `json:"comments,omitempty"` // newest per target, by seq
	Online     []string     `json:"online,omitempty"`
}

type LikePayload struct {
	Target Target `json:"target"`
	Liked  bool   `json:"liked"`
	Likes  int    `json:"likes"`
}

type CommentPayload struct {
	Comment  Comment `json:"comment"`
	Comments int     `json:"comments"`
}

type ViewPayload struct {
	Target Target `json:"target"`
	Views  int    `json:"views"`
}

type TypingPayload struct {
	UserID string  `json:"user_id"`
	Typing bool    `json:"typing"`
	Target *Target `json:"target,omitempty"`
}

type PresencePayload struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

type ConnectedPayload struct {
	Ok            bool   `json:"ok"`
	ConnectionID  string `json:"connection_id"`
	UserID        string `json:"user_id"`
	ServerVersion string `json:"server_version"`
}

type DisconnectedPayload struct {
	Reason string `json:"reason"`
	Code   string `json:"code,omitempty"`
}

type ResyncPayload struct {
	Reason string `json:"reason"`
}

type RoomPayload struct {
	RoomID string `json:"room_id"`
}

// ErrorPayload answers a rejected frame.
type ErrorPayload struct {
	Code           string `json:"code"`
	Message        string `json:"message"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	Retryable      bool   `json:"retryable,omitempty"`
}

// Wire error codes.
const (
	CodeNotAuthorized    = "not_authorized"
	CodeForbidden        = "forbidden"
	CodeInvalidPayload   = "invalid_payload"
	CodeNotFound         = "not_found"
	CodeStoreUnavailable = "store_unavailable"
	CodeDeliveryDropped  = "delivery_dropped"
	CodeInternal         = "internal"
)
