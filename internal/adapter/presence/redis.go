// Package presence mirrors per-room online users into Redis so every node
// answers the same "who is online" question.
package presence

import (
	"context"
	"fmt"
	"slices"

	"github.com/loopfund/community-live/internal/domain/registry"
	"github.com/loopfund/community-live/internal/service"
	"github.com/redis/go-redis/v9"
)

var (
	_ registry.PresenceTracker = (*Tracker)(nil)
	_ service.OnlineLister     = (*Tracker)(nil)
)

// leaveScript decrements a user's connection count and drops the user at zero.
var leaveScript = redis.NewScript(`
local n = redis.call('HINCRBY', KEYS[1], ARGV[1], -1)
if n <= 0 then
	redis.call('HDEL', KEYS[1], ARGV[1])
end
return n
`)

// Tracker keeps room:{id}:online as a hash of user -> live node subscriptions.
type Tracker struct {
	client redis.UniversalClient
	prefix string
}

func NewTracker(client redis.UniversalClient, prefix string) *Tracker {
	return &Tracker{client: client, prefix: prefix}
}

func (t *Tracker) key(roomID string) string {
	return t.prefix + "room:{" + roomID + "}:online"
}

func (t *Tracker) Online(ctx context.Context, roomID, userID string) error {
	if err := t.client.HIncrBy(ctx, t.key(roomID), userID, 1).Err(); err != nil {
		return fmt.Errorf("mark %s online in %s: %w", userID, roomID, err)
	}
	return nil
}

func (t *Tracker) Offline(ctx context.Context, roomID, userID string) error {
	if err := leaveScript.Run(ctx, t.client, []string{t.key(roomID)}, userID).Err(); err != nil {
		return fmt.Errorf("mark %s offline in %s: %w", userID, roomID, err)
	}
	return nil
}

func (t *Tracker) OnlineUsers(ctx context.Context, roomID string) ([]string, error) {
	users, err := t.client.HKeys(ctx, t.key(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("online users of %s: %w", roomID, err)
	}
	slices.Sort(users)
	return users, nil
}

// Noop is used when presence mirroring is disabled.
type Noop struct{}

func (Noop) Online(context.Context, string, string) error  { return nil }
func (Noop) Offline(context.Context, string, string) error { return nil }
