package marshaller

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/loopfund/community-live/internal/domain/model"
	"github.com/loopfund/community-live/pkg/protocol"
)

// mapPayload converts domain payloads into their wire shape. Payloads with
// no wire counterpart pass through unchanged.
func mapPayload(p any) any {
	switch v := p.(type) {
	case *model.Message:
		return MapMessage(v)
	case *model.Post:
		return MapPost(v)
	case *model.LikeResult:
		return &protocol.LikePayload{Target: MapTarget(v.Target), Liked: v.Liked, Likes: v.Likes}
	case *model.CommentPayload:
		return &protocol.CommentPayload{Comment: mapComment(v.Comment), Comments: v.Comments}
	case *model.ViewPayload:
		return &protocol.ViewPayload{Target: MapTarget(v.Target), Views: v.Views}
	case *model.TypingPayload:
		out := &protocol.TypingPayload{UserID: v.UserID, Typing: v.Typing}
		if v.Target != nil {
			t := MapTarget(*v.Target)
			out.Target = &t
		}
		return out
	case *model.Snapshot:
		return MapSnapshot(v)
	case *model.PresencePayload:
		return &protocol.PresencePayload{UserID: v.UserID, Online: v.Online}
	case *model.ConnectedPayload:
		return &protocol.ConnectedPayload{
			Ok:            v.Ok,
			ConnectionID:  v.ConnectionID,
			UserID:        v.UserID,
			ServerVersion: v.ServerVersion,
		}
	case *model.DisconnectedPayload:
		return &protocol.DisconnectedPayload{Reason: v.Reason, Code: v.Code}
	case *model.ResyncPayload:
		return &protocol.ResyncPayload{Reason: v.Reason}
	case *model.RoomDeletedPayload:
		return &protocol.RoomPayload{RoomID: v.RoomID}
	case *model.SubscriptionPayload:
		return &protocol.RoomPayload{RoomID: v.RoomID}
	case *model.FailurePayload:
		return &protocol.ErrorPayload{
			Code:           v.Code,
			Message:        v.Message,
			IdempotencyKey: v.IdempotencyKey,
			Retryable:      v.Retryable,
		}
	default:
		return p
	}
}

func MapTarget(t model.TargetRef) protocol.Target {
	return protocol.Target{Kind: string(t.Kind), ID: t.ID.String()}
}

func MapMessage(m *model.Message) protocol.Message {
	return protocol.Message{
		ID:        m.ID.String(),
		RoomID:    m.RoomID,
		AuthorID:  m.AuthorID,
		Type:      string(m.Type),
		Body:      m.Body,
		Metadata:  m.Metadata,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
		Edited:    m.Edited,
		Deleted:   m.Deleted,
		Seq:       m.Seq,
		ClientKey: m.ClientKey,
	}
}

func MapPost(p *model.Post) protocol.Post {
	return protocol.Post{
		ID:        p.ID.String(),
		RoomID:    p.RoomID,
		AuthorID:  p.AuthorID,
		Title:     p.Title,
		Content:   p.Content,
		Tags:      p.Tags,
		CreatedAt: p.CreatedAt,
		Seq:       p.Seq,
		ClientKey: p.ClientKey,
	}
}

func mapComment(c *model.Comment) protocol.Comment {
	if c == nil {
		return protocol.Comment{}
	}
	return protocol.Comment{
		ID:        c.ID.String(),
		Target:    MapTarget(c.Target),
		AuthorID:  c.AuthorID,
		Body:      c.Body,
		CreatedAt: c.CreatedAt,
		Seq:       c.Seq,
		ClientKey: c.ClientKey,
	}
}

// MapSnapshot converts a room snapshot for REST responses and snapshot frames.
func MapSnapshot(s *model.Snapshot) protocol.Snapshot {
	out := protocol.Snapshot{
		RoomID: s.RoomID,
		Kind:   string(s.Kind),
		Seq:    s.Seq,
		Online: s.Online,
	}
	for _, m := range s.Messages {
		out.Messages = append(out.Messages, MapMessage(m))
	}
	for _, p := range s.Posts {
		out.Posts = append(out.Posts, MapPost(p))
	}
	for _, e := range s.Engagement {
		out.Engagement = append(out.Engagement, protocol.Engagement{
			Target:   MapTarget(e.Target),
			Likes:    e.Likes,
			Comments: e.Comments,
			Views:    e.Views,
			LikedBy:  e.LikedBy,
		})
	}
	for _, c := range s.Comments {
		out.Comments = append(out.Comments, mapComment(c))
	}
	return out
}

// ToMutation decodes a client mutation frame.
func ToMutation(in protocol.Inbound, actorID string, connID uuid.UUID) (model.Mutation, error) {
	m := model.Mutation{
		Kind:           model.MutationKind(in.Kind),
		RoomID:         in.RoomID,
		ActorID:        actorID,
		IdempotencyKey: in.IdempotencyKey,
		OriginConnID:   connID,
	}
	if !m.Kind.Valid() {
		return m, invalidf("unknown mutation kind %q", in.Kind)
	}
	if in.RoomID == "" {
		return m, invalidf("room_id is required")
	}

	var p protocol.MutationPayload
	if len(in.Payload) > 0 {
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			return m, invalidf("payload: %v", err)
		}
	}

	m.Payload = model.MutationPayload{
		Type:     model.MessageType(p.Type),
		Body:     p.Body,
		Metadata: p.Metadata,
		Title:    p.Title,
		Content:  p.Content,
		Tags:     p.Tags,
		Typing:   p.Typing,
	}
	if p.MessageID != "" {
		id, err := uuid.Parse(p.MessageID)
		if err != nil {
			return m, invalidf("message_id: %v", err)
		}
		m.Payload.MessageID = id
	}
	if p.Target != nil {
		id, err := uuid.Parse(p.Target.ID)
		if err != nil {
			return m, invalidf("target.id: %v", err)
		}
		m.Payload.Target = model.TargetRef{Kind: model.TargetKind(p.Target.Kind), ID: id}
	}
	return m, nil
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", model.ErrInvalidPayload, fmt.Sprintf(format, args...))
}
