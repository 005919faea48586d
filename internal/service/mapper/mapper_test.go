package mapper

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/loopfund/community-live/internal/domain/event"
	"github.com/loopfund/community-live/internal/domain/model"
	"github.com/loopfund/community-live/internal/service/dto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContributionToMutation(t *testing.T) {
	t.Run("generated body", func(t *testing.T) {
		m, err := ContributionToMutation(&dto.ContributionV1{
			ContributionID: "c-9",
			GroupID:        "g1",
			UserID:         "alice",
			Amount:         12.5,
			Currency:       " eur ",
			OccurredAt:     "2026-01-02T03:04:05Z",
		})
		require.NoError(t, err)

		assert.Equal(t, model.MutationSendMessage, m.Kind)
		assert.Equal(t, "g1", m.RoomID)
		assert.Equal(t, "alice", m.ActorID)
		assert.Equal(t, "contribution:c-9", m.IdempotencyKey)
		assert.Equal(t, model.MessageContribution, m.Payload.Type)
		assert.Equal(t, "Contributed 12.50 EUR", m.Payload.Body)
		assert.Equal(t, "EUR", m.Payload.Metadata["currency"])
		assert.Equal(t, "c-9", m.Payload.Metadata["contribution_id"])
	})

	t.Run("note wins over generated body", func(t *testing.T) {
		m, err := ContributionToMutation(&dto.ContributionV1{
			ContributionID: "c-10", GroupID: "g1", UserID: "alice", Amount: 5, Currency: "usd", Note: "  for the trip ",
		})
		require.NoError(t, err)
		assert.Equal(t, "for the trip", m.Payload.Body)
	})

	missing := []struct {
		name string
		in   dto.ContributionV1
	}{
		{name: "contribution id", in: dto.ContributionV1{GroupID: "g1", UserID: "alice"}},
		{name: "group id", in: dto.ContributionV1{ContributionID: "c", UserID: "alice"}},
		{name: "user id", in: dto.ContributionV1{ContributionID: "c", GroupID: "g1"}},
	}
	for _, tt := range missing {
		t.Run("missing "+tt.name, func(t *testing.T) {
			_, err := ContributionToMutation(&tt.in)
			assert.ErrorIs(t, err, model.ErrInvalidPayload)
		})
	}
}

func TestEventV1ToCanonical(t *testing.T) {
	valid := dto.EventV1{
		ID:             uuid.New(),
		Kind:           string(event.LikeToggled),
		RoomID:         "feed",
		RoomKind:       string(model.RoomPublicFeed),
		Seq:            12,
		ActorID:        "bob",
		IdempotencyKey: "k",
		OccurredAt:     1700000000000,
		Payload:        json.RawMessage(`{"liked":true}`),
	}

	ev, err := EventV1ToCanonical(&valid)
	require.NoError(t, err)
	assert.Equal(t, valid.ID, ev.ID)
	assert.Equal(t, event.LikeToggled, ev.Kind)
	assert.Equal(t, model.RoomPublicFeed, ev.RoomKind)
	assert.Equal(t, uint64(12), ev.Seq)
	assert.Equal(t, "k", ev.IdempotencyKey)
	assert.Equal(t, json.RawMessage(`{"liked":true}`), ev.Payload)

	tests := []struct {
		name   string
		mutate func(*dto.EventV1)
	}{
		{name: "typing is local only", mutate: func(e *dto.EventV1) { e.Kind = string(event.TypingState) }},
		{name: "unknown kind", mutate: func(e *dto.EventV1) { e.Kind = "shout" }},
		{name: "no room", mutate: func(e *dto.EventV1) { e.RoomID = "" }},
		{name: "zero seq", mutate: func(e *dto.EventV1) { e.Seq = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid
			tt.mutate(&e)
			_, err := EventV1ToCanonical(&e)
			assert.ErrorIs(t, err, model.ErrInvalidPayload)
		})
	}
}
