package model

import (
	"fmt"

	"github.com/google/uuid"
)

type TargetKind string

const (
	TargetPost    TargetKind = "post"
	TargetMessage TargetKind = "message"
)

// TargetRef addresses a post or a message that engagement applies to.
type TargetRef struct {
	Kind TargetKind `json:"kind"`
	ID   uuid.UUID  `json:"id"`
}

func (t TargetRef) String() string {
	return fmt.Sprintf("%s:%s", t.Kind, t.ID)
}

func (t TargetRef) Valid() bool {
	return (t.Kind == TargetPost || t.Kind == TargetMessage) && t.ID != uuid.Nil
}

// Engagement aggregates counters for one target.
type Engagement struct {
	Target   TargetRef `json:"target"`
	Likes    int       `json:"likes"`
	Comments int       `json:"comments"`
	Views    int       `json:"views"`
	LikedBy  []string  `json:"liked_by,omitempty"`
}

// LikeResult is the authoritative outcome of a like check-and-set.
type LikeResult struct {
	Target TargetRef `json:"target"`
	Liked  bool      `json:"liked"`
	Likes  int       `json:"likes"`
}
