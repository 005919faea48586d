package redisstore

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/loopfund/community-live/internal/domain/model"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupStore requires a Redis at LIVE_TEST_REDIS_ADDR (default localhost:6379).
func setupStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("LIVE_TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Redis not available at %s: %v", addr, err)
	}

	prefix := "live-test:" + uuid.NewString() + ":"
	t.Cleanup(func() {
		iter := client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
		_ = client.Close()
	})

	s := New(client, prefix)
	require.NoError(t, s.SaveRoom(ctx, &model.Room{ID: "r1", Kind: model.RoomPublicFeed, Members: []string{"alice"}}))
	return s
}

func TestStore_Rooms(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	room, err := s.GetRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, model.RoomPublicFeed, room.Kind)

	ok, err := s.IsMember(ctx, "r1", "alice")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.IsMember(ctx, "r1", "bob")
	require.NoError(t, err)
	assert.False(t, ok)

	head, err := s.HeadSeq(ctx, "r1")
	require.NoError(t, err)
	assert.Zero(t, head)

	_, err = s.GetRoom(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrRoomNotFound)
}

func TestStore_Messages(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	msg := &model.Message{ID: uuid.New(), RoomID: "r1", AuthorID: "alice", Type: model.MessageText, Body: "hi", Seq: 1}
	require.NoError(t, s.CreateMessage(ctx, msg))

	t.Run("retry of a landed create is a no-op", func(t *testing.T) {
		require.NoError(t, s.CreateMessage(ctx, msg))
		head, err := s.HeadSeq(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, uint64(1), head)
	})

	t.Run("gap is rejected", func(t *testing.T) {
		other := &model.Message{ID: uuid.New(), RoomID: "r1", AuthorID: "alice", Body: "x", Seq: 5}
		assert.ErrorIs(t, s.CreateMessage(ctx, other), model.ErrSeqConflict)
	})

	t.Run("update", func(t *testing.T) {
		edited := msg.Clone()
		edited.Body = "hello"
		edited.Edited = true
		require.NoError(t, s.UpdateMessage(ctx, edited, 2))
		require.NoError(t, s.UpdateMessage(ctx, edited, 2), "retried update is a no-op")

		got, err := s.GetMessage(ctx, "r1", msg.ID)
		require.NoError(t, err)
		assert.Equal(t, "hello", got.Body)
		assert.True(t, got.Edited)
	})

	t.Run("update unknown", func(t *testing.T) {
		ghost := &model.Message{ID: uuid.New(), RoomID: "r1"}
		assert.ErrorIs(t, s.UpdateMessage(ctx, ghost, 3), model.ErrNotFound)
	})

	list, err := s.ListMessages(ctx, "r1", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, msg.ID, list[0].ID)
}

func TestStore_Engagement(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	post := &model.Post{ID: uuid.New(), RoomID: "r1", AuthorID: "alice", Content: "week one", Seq: 1}
	require.NoError(t, s.CreatePost(ctx, post))
	target := model.TargetRef{Kind: model.TargetPost, ID: post.ID}

	res, err := s.ToggleLike(ctx, "r1", target, "bob", 2)
	require.NoError(t, err)
	assert.Equal(t, model.LikeResult{Target: target, Liked: true, Likes: 1}, res)

	res, err = s.ToggleLike(ctx, "r1", target, "bob", 2)
	require.NoError(t, err)
	assert.True(t, res.Liked, "replayed seq must not flip")

	n, err := s.AddComment(ctx, &model.Comment{ID: uuid.New(), RoomID: "r1", Target: target, AuthorID: "bob", Body: "nice", Seq: 3})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	views, err := s.RecordView(ctx, "r1", target, 4)
	require.NoError(t, err)
	assert.Equal(t, 1, views)

	t.Run("stale seq from another write conflicts", func(t *testing.T) {
		_, err := s.ToggleLike(ctx, "r1", target, "carol", 2)
		assert.ErrorIs(t, err, model.ErrSeqConflict)
		_, err = s.ToggleLike(ctx, "r1", target, "bob", 3)
		assert.ErrorIs(t, err, model.ErrSeqConflict)
		_, err = s.RecordView(ctx, "r1", target, 3)
		assert.ErrorIs(t, err, model.ErrSeqConflict)

		views, err := s.RecordView(ctx, "r1", target, 4)
		require.NoError(t, err)
		assert.Equal(t, 1, views, "repeated view seq is not counted twice")
	})

	comments, err := s.ListComments(ctx, "r1", []model.TargetRef{target}, 10)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "nice", comments[0].Body)
	assert.Equal(t, uint64(3), comments[0].Seq)

	eng, err := s.Engagement(ctx, "r1", []model.TargetRef{target})
	require.NoError(t, err)
	require.Len(t, eng, 1)
	assert.Equal(t, &model.Engagement{Target: target, Likes: 1, Comments: 1, Views: 1, LikedBy: []string{"bob"}}, eng[0])

	posts, err := s.ListPosts(ctx, "r1", 0)
	require.NoError(t, err)
	require.Len(t, posts, 1)

	require.NoError(t, s.DeleteRoom(ctx, "r1"))
	_, err = s.GetPost(ctx, "r1", post.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
	head, err := s.HeadSeq(ctx, "r1")
	require.NoError(t, err)
	assert.Zero(t, head)
}
