package mapper

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/loopfund/community-live/internal/domain/model"
	"github.com/loopfund/community-live/internal/service/dto"
)

// ContributionToMutation turns a recorded contribution into the chat message
// announcing it. The contribution ID doubles as the idempotency key, so a
// redelivered record never produces a second message.
func ContributionToMutation(raw *dto.ContributionV1) (model.Mutation, error) {
	if raw.ContributionID == "" || raw.GroupID == "" || raw.UserID == "" {
		return model.Mutation{}, fmt.Errorf("%w: contribution, group and user ids are required", model.ErrInvalidPayload)
	}

	currency := strings.ToUpper(strings.TrimSpace(raw.Currency))
	body := strings.TrimSpace(raw.Note)
	if body == "" {
		body = fmt.Sprintf("Contributed %s %s", strconv.FormatFloat(raw.Amount, 'f', 2, 64), currency)
	}

	return model.Mutation{
		Kind:           model.MutationSendMessage,
		RoomID:         raw.GroupID,
		ActorID:        raw.UserID,
		IdempotencyKey: "contribution:" + raw.ContributionID,
		Payload: model.MutationPayload{
			Type: model.MessageContribution,
			Body: body,
			Metadata: map[string]any{
				"amount":          raw.Amount,
				"currency":        currency,
				"contribution_id": raw.ContributionID,
				"occurred_at":     raw.OccurredAt,
			},
		},
	}, nil
}
