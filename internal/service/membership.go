package service

import (
	"context"
	"errors"

	"github.com/loopfund/community-live/internal/domain/model"
	"github.com/loopfund/community-live/internal/domain/registry"
)

var _ registry.Membership = (*RoomAccess)(nil)

// RoomAccess answers whether a user may read or write a room.
// Public feeds admit every verified user; other rooms require membership.
type RoomAccess struct {
	store Store
}

func NewRoomAccess(store Store) *RoomAccess {
	return &RoomAccess{store: store}
}

// Authorize loads the room and checks that userID belongs to it.
func (a *RoomAccess) Authorize(ctx context.Context, roomID, userID string) (*model.Room, error) {
	room, err := a.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, storeErr(err)
	}
	if room.IsOpen() || room.HasMember(userID) {
		return room, nil
	}
	ok, err := a.store.IsMember(ctx, roomID, userID)
	if err != nil {
		return nil, storeErr(err)
	}
	if !ok {
		return nil, model.ErrNotAuthorized
	}
	return room, nil
}

// CanJoin implements registry.Membership. A missing room denies access.
func (a *RoomAccess) CanJoin(ctx context.Context, userID, roomID string) (bool, error) {
	_, err := a.Authorize(ctx, roomID, userID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, model.ErrNotAuthorized), errors.Is(err, model.ErrRoomNotFound), errors.Is(err, model.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}
