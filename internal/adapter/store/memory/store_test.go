package memory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/loopfund/community-live/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s := New()
	require.NoError(t, s.SaveRoom(context.Background(), &model.Room{ID: "r1", Kind: model.RoomGroupChat, Members: []string{"alice"}}))
	return s
}

func message(seq uint64, body string) *model.Message {
	return &model.Message{ID: uuid.New(), RoomID: "r1", AuthorID: "alice", Type: model.MessageText, Body: body, Seq: seq}
}

func TestStore_Rooms(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	room, err := s.GetRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, model.RoomGroupChat, room.Kind)

	// Callers cannot mutate stored state through returned values.
	room.Members[0] = "mallory"
	ok, err := s.IsMember(ctx, "r1", "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.CreateMessage(ctx, message(1, "hi")))
	require.NoError(t, s.SaveRoom(ctx, &model.Room{ID: "r1", Kind: model.RoomGroupChat, Members: []string{"alice", "bob"}}))
	head, err := s.HeadSeq(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), head, "saving a room keeps its head")

	require.NoError(t, s.DeleteRoom(ctx, "r1"))
	_, err = s.GetRoom(ctx, "r1")
	assert.ErrorIs(t, err, model.ErrRoomNotFound)
	assert.ErrorIs(t, s.DeleteRoom(ctx, "r1"), model.ErrRoomNotFound)
}

func TestStore_SequencedWrites(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	m1 := message(1, "one")
	require.NoError(t, s.CreateMessage(ctx, m1))

	t.Run("seq must follow head", func(t *testing.T) {
		assert.ErrorIs(t, s.CreateMessage(ctx, message(3, "skip")), model.ErrSeqConflict)
		assert.ErrorIs(t, s.CreateMessage(ctx, message(1, "again")), model.ErrSeqConflict)
	})

	t.Run("update advances head", func(t *testing.T) {
		edited := m1.Clone()
		edited.Body = "uno"
		require.NoError(t, s.UpdateMessage(ctx, edited, 2))

		got, err := s.GetMessage(ctx, "r1", m1.ID)
		require.NoError(t, err)
		assert.Equal(t, "uno", got.Body)
		assert.Equal(t, uint64(1), got.Seq, "update keeps the creation seq")
	})

	t.Run("unknown message", func(t *testing.T) {
		_, err := s.GetMessage(ctx, "r1", uuid.New())
		assert.ErrorIs(t, err, model.ErrNotFound)
		assert.ErrorIs(t, s.UpdateMessage(ctx, message(3, "x"), 3), model.ErrNotFound)
	})

	head, err := s.HeadSeq(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), head)
}

func TestStore_ListLimits(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, s.CreateMessage(ctx, message(i, "m")))
	}

	all, err := s.ListMessages(ctx, "r1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	last, err := s.ListMessages(ctx, "r1", 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, uint64(4), last[0].Seq)
	assert.Equal(t, uint64(5), last[1].Seq)
}

func TestStore_Engagement(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	post := &model.Post{ID: uuid.New(), RoomID: "r1", AuthorID: "alice", Content: "c", Seq: 1, Tags: []string{"a"}}
	require.NoError(t, s.CreatePost(ctx, post))
	target := model.TargetRef{Kind: model.TargetPost, ID: post.ID}

	res, err := s.ToggleLike(ctx, "r1", target, "bob", 2)
	require.NoError(t, err)
	assert.Equal(t, model.LikeResult{Target: target, Liked: true, Likes: 1}, res)

	t.Run("replayed seq does not flip", func(t *testing.T) {
		res, err := s.ToggleLike(ctx, "r1", target, "bob", 2)
		require.NoError(t, err)
		assert.True(t, res.Liked)
		assert.Equal(t, 1, res.Likes)
	})

	res, err = s.ToggleLike(ctx, "r1", target, "carol", 3)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Likes)

	n, err := s.AddComment(ctx, &model.Comment{ID: uuid.New(), RoomID: "r1", Target: target, AuthorID: "bob", Body: "nice", Seq: 4})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	views, err := s.RecordView(ctx, "r1", target, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, views)
	views, err = s.RecordView(ctx, "r1", target, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, views)

	other := model.TargetRef{Kind: model.TargetPost, ID: uuid.New()}
	eng, err := s.Engagement(ctx, "r1", []model.TargetRef{target, other})
	require.NoError(t, err)
	require.Len(t, eng, 2)
	assert.Equal(t, &model.Engagement{Target: target, Likes: 2, Comments: 1, Views: 1, LikedBy: []string{"bob", "carol"}}, eng[0])
	assert.Equal(t, &model.Engagement{Target: other}, eng[1])

	posts, err := s.ListPosts(ctx, "r1", 10)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	posts[0].Tags[0] = "changed"
	stored, err := s.GetPost(ctx, "r1", post.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, stored.Tags)
}

func TestStore_RetriedWrites(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	m1 := message(1, "one")
	require.NoError(t, s.CreateMessage(ctx, m1))
	post := &model.Post{ID: uuid.New(), RoomID: "r1", AuthorID: "alice", Content: "c", Seq: 2}
	require.NoError(t, s.CreatePost(ctx, post))
	edited := m1.Clone()
	edited.Body = "uno"
	require.NoError(t, s.UpdateMessage(ctx, edited, 3))
	target := model.TargetRef{Kind: model.TargetPost, ID: post.ID}
	comment := &model.Comment{ID: uuid.New(), RoomID: "r1", Target: target, AuthorID: "alice", Body: "hi", Seq: 4}
	_, err := s.AddComment(ctx, comment)
	require.NoError(t, err)
	_, err = s.ToggleLike(ctx, "r1", target, "alice", 5)
	require.NoError(t, err)
	_, err = s.RecordView(ctx, "r1", target, 6)
	require.NoError(t, err)

	t.Run("same write at same seq is accepted", func(t *testing.T) {
		assert.NoError(t, s.CreateMessage(ctx, m1))
		assert.NoError(t, s.CreatePost(ctx, post))
		assert.NoError(t, s.UpdateMessage(ctx, edited, 3))

		n, err := s.AddComment(ctx, comment)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		res, err := s.ToggleLike(ctx, "r1", target, "alice", 5)
		require.NoError(t, err)
		assert.Equal(t, model.LikeResult{Target: target, Liked: true, Likes: 1}, res)

		views, err := s.RecordView(ctx, "r1", target, 6)
		require.NoError(t, err)
		assert.Equal(t, 1, views)
	})

	tests := []struct {
		name  string
		write func() error
	}{
		{"update at an old seq", func() error {
			return s.UpdateMessage(ctx, m1.Clone(), 2)
		}},
		{"new comment at an old seq", func() error {
			_, err := s.AddComment(ctx, &model.Comment{ID: uuid.New(), RoomID: "r1", Target: target, AuthorID: "bob", Body: "x", Seq: 4})
			return err
		}},
		{"like of another user at an old seq", func() error {
			_, err := s.ToggleLike(ctx, "r1", target, "carol", 5)
			return err
		}},
		{"like of the same user at another old seq", func() error {
			_, err := s.ToggleLike(ctx, "r1", target, "alice", 4)
			return err
		}},
		{"view at an old seq", func() error {
			_, err := s.RecordView(ctx, "r1", target, 5)
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.write(), model.ErrSeqConflict)
		})
	}

	eng, err := s.Engagement(ctx, "r1", []model.TargetRef{target})
	require.NoError(t, err)
	assert.Equal(t, &model.Engagement{Target: target, Likes: 1, Comments: 1, Views: 1, LikedBy: []string{"alice"}}, eng[0])
	head, err := s.HeadSeq(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, uint64(6), head)
}

func TestStore_ListComments(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	p1 := model.TargetRef{Kind: model.TargetPost, ID: uuid.New()}
	p2 := model.TargetRef{Kind: model.TargetPost, ID: uuid.New()}
	for i, target := range []model.TargetRef{p1, p2, p1, p1} {
		_, err := s.AddComment(ctx, &model.Comment{ID: uuid.New(), RoomID: "r1", Target: target, AuthorID: "alice", Body: "c", Seq: uint64(i + 1)})
		require.NoError(t, err)
	}

	all, err := s.ListComments(ctx, "r1", []model.TargetRef{p1, p2}, 0)
	require.NoError(t, err)
	seqs := make([]uint64, 0, len(all))
	for _, c := range all {
		seqs = append(seqs, c.Seq)
	}
	assert.Equal(t, []uint64{1, 2, 3, 4}, seqs)

	latest, err := s.ListComments(ctx, "r1", []model.TargetRef{p1}, 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, uint64(3), latest[0].Seq)
	assert.Equal(t, uint64(4), latest[1].Seq)

	none, err := s.ListComments(ctx, "r1", []model.TargetRef{{Kind: model.TargetMessage, ID: uuid.New()}}, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}
