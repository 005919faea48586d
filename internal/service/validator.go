package service

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/loopfund/community-live/internal/domain/model"
)

const maxIdempotencyKeyLength = 128

// Limits bound user-supplied content.
type Limits struct {
	MaxMessageLength int
	MaxPostLength    int
	MaxTitleLength   int
	MaxCommentLength int
	MaxTags          int
}

func DefaultLimits() Limits {
	return Limits{
		MaxMessageLength: 4000,
		MaxPostLength:    2000,
		MaxTitleLength:   200,
		MaxCommentLength: 1000,
		MaxTags:          10,
	}
}

type validator struct {
	limits Limits
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", model.ErrInvalidPayload, fmt.Sprintf(format, args...))
}

// validate checks m against the room it targets and normalizes text fields in place.
func (v validator) validate(room *model.Room, m *model.Mutation) error {
	if !m.Kind.Valid() {
		return invalid("unknown mutation kind %q", m.Kind)
	}
	if m.Kind.Sequenced() && m.IdempotencyKey == "" {
		return invalid("idempotency key is required")
	}
	if len(m.IdempotencyKey) > maxIdempotencyKeyLength {
		return invalid("idempotency key longer than %d bytes", maxIdempotencyKeyLength)
	}

	p := &m.Payload
	switch m.Kind {
	case model.MutationSendMessage:
		if !room.AllowsChat() {
			return invalid("room %s does not accept chat messages", room.ID)
		}
		if p.Type == "" {
			p.Type = model.MessageText
		}
		switch p.Type {
		case model.MessageText:
		case model.MessageContribution:
			if amount, ok := positiveAmount(p.Metadata["amount"]); !ok {
				return invalid("contribution amount %v must be positive", amount)
			}
		default:
			return invalid("message type %q cannot be sent", p.Type)
		}
		return v.text(&p.Body, "body", v.limits.MaxMessageLength)

	case model.MutationEditMessage:
		if p.MessageID == uuid.Nil {
			return invalid("message_id is required")
		}
		return v.text(&p.Body, "body", v.limits.MaxMessageLength)

	case model.MutationDeleteMessage:
		if p.MessageID == uuid.Nil {
			return invalid("message_id is required")
		}

	case model.MutationToggleLike, model.MutationRecordView:
		if !p.Target.Valid() {
			return invalid("target is invalid")
		}

	case model.MutationAddComment:
		if !p.Target.Valid() {
			return invalid("target is invalid")
		}
		return v.text(&p.Body, "body", v.limits.MaxCommentLength)

	case model.MutationCreatePost:
		if !room.AllowsPosts() {
			return invalid("room %s does not accept posts", room.ID)
		}
		p.Title = strings.TrimSpace(p.Title)
		if utf8.RuneCountInString(p.Title) > v.limits.MaxTitleLength {
			return invalid("title longer than %d characters", v.limits.MaxTitleLength)
		}
		if len(p.Tags) > v.limits.MaxTags {
			return invalid("more than %d tags", v.limits.MaxTags)
		}
		tags := p.Tags[:0]
		for _, t := range p.Tags {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
		p.Tags = tags
		return v.text(&p.Content, "content", v.limits.MaxPostLength)

	case model.MutationTyping:
		if p.Target != (model.TargetRef{}) && !p.Target.Valid() {
			return invalid("target is invalid")
		}
	}
	return nil
}

func (v validator) text(s *string, field string, limit int) error {
	*s = strings.TrimSpace(*s)
	if *s == "" {
		return invalid("%s is empty", field)
	}
	if n := utf8.RuneCountInString(*s); n > limit {
		return invalid("%s has %d characters, limit is %d", field, n, limit)
	}
	return nil
}

func positiveAmount(v any) (float64, bool) {
	var f float64
	switch a := v.(type) {
	case float64:
		f = a
	case float32:
		f = float64(a)
	case int:
		f = float64(a)
	case int64:
		f = float64(a)
	case json.Number:
		var err error
		if f, err = a.Float64(); err != nil {
			return 0, false
		}
	default:
		return 0, false
	}
	return f, f > 0
}
