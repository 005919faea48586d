package dto

// [RABBIT_V1] CONTRIBUTION RECORD PUBLISHED BY THE SAVINGS SERVICE
type ContributionV1 struct {
	ContributionID string  `json:"contribution_id"`
	GroupID        string  `json:"group_id"`
	UserID         string  `json:"user_id"`
	DisplayName    string  `json:"display_name,omitempty"`
	Amount         float64 `json:"amount"`
	Currency       string  `json:"currency"`
	Note           string  `json:"note,omitempty"`
	OccurredAt     string  `json:"occurred_at"`
}
