package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/loopfund/community-live/internal/domain/model"
)

// Store is the durable state behind the gateway.
//
// Every write that takes a seq persists the change and advances the room's
// durable head to seq in one atomic step. A write whose seq is not exactly
// head+1 is rejected with model.ErrSeqConflict, unless it repeats the last
// write applied to the same entity at the same seq. Such a retry succeeds
// without applying anything twice and returns the current state.
type Store interface {
	GetRoom(ctx context.Context, roomID string) (*model.Room, error)
	SaveRoom(ctx context.Context, room *model.Room) error
	DeleteRoom(ctx context.Context, roomID string) error
	IsMember(ctx context.Context, roomID, userID string) (bool, error)
	HeadSeq(ctx context.Context, roomID string) (uint64, error)

	CreateMessage(ctx context.Context, msg *model.Message) error
	GetMessage(ctx context.Context, roomID string, id uuid.UUID) (*model.Message, error)
	UpdateMessage(ctx context.Context, msg *model.Message, seq uint64) error
	ListMessages(ctx context.Context, roomID string, limit int) ([]*model.Message, error)

	CreatePost(ctx context.Context, post *model.Post) error
	GetPost(ctx context.Context, roomID string, id uuid.UUID) (*model.Post, error)
	ListPosts(ctx context.Context, roomID string, limit int) ([]*model.Post, error)

	AddComment(ctx context.Context, c *model.Comment) (int, error)
	ListComments(ctx context.Context, roomID string, targets []model.TargetRef, limit int) ([]*model.Comment, error)
	ToggleLike(ctx context.Context, roomID string, target model.TargetRef, userID string, seq uint64) (model.LikeResult, error)
	RecordView(ctx context.Context, roomID string, target model.TargetRef, seq uint64) (int, error)
	Engagement(ctx context.Context, roomID string, targets []model.TargetRef) ([]*model.Engagement, error)
}

// IdentityProvider verifies a session token and returns the user it belongs to.
type IdentityProvider interface {
	Verify(ctx context.Context, token string) (userID string, err error)
}

// OnlineLister reports the users currently online in a room across nodes.
type OnlineLister interface {
	OnlineUsers(ctx context.Context, roomID string) ([]string, error)
}
