// Package redisstore keeps room state in Redis. Every key of a room shares the
// {roomID} hash tag so the sequencing scripts stay single-slot on a cluster.
package redisstore

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loopfund/community-live/internal/domain/model"
	"github.com/loopfund/community-live/internal/service"
	"github.com/redis/go-redis/v9"
)

var _ service.Store = (*Store)(nil)

const seqConflict = "SEQ_CONFLICT"

// createScript appends an entity to a room at the next seq. Re-running it
// for an entity that already landed is a no-op.
// KEYS: head, entity hash, order zset. ARGV: seq, id, json.
var createScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[2], ARGV[2]) == 1 then
	return 1
end
local head = tonumber(redis.call('GET', KEYS[1]) or '0')
if head + 1 ~= tonumber(ARGV[1]) then
	return redis.error_reply('SEQ_CONFLICT')
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[2], ARGV[2], ARGV[3])
redis.call('ZADD', KEYS[3], ARGV[1], ARGV[2])
return 1
`)

// updateScript replaces an existing entity at the next seq. A retry whose
// payload already landed is a no-op.
// KEYS: head, entity hash. ARGV: seq, id, json.
var updateScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[2], ARGV[2]) == 0 then
	return redis.error_reply('NOT_FOUND')
end
local head = tonumber(redis.call('GET', KEYS[1]) or '0')
local seq = tonumber(ARGV[1])
if seq <= head and redis.call('HGET', KEYS[2], ARGV[2]) == ARGV[3] then
	return 1
end
if head + 1 ~= seq then
	return redis.error_reply('SEQ_CONFLICT')
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[2], ARGV[2], ARGV[3])
return 1
`)

// commentScript appends a comment and returns the target's comment count.
// A retried append of the same comment returns the count unchanged.
// KEYS: head, comment list. ARGV: seq, json.
var commentScript = redis.NewScript(`
local head = tonumber(redis.call('GET', KEYS[1]) or '0')
local seq = tonumber(ARGV[1])
if seq <= head and redis.call('LINDEX', KEYS[2], -1) == ARGV[2] then
	return redis.call('LLEN', KEYS[2])
end
if head + 1 ~= seq then
	return redis.error_reply('SEQ_CONFLICT')
end
redis.call('SET', KEYS[1], ARGV[1])
return redis.call('RPUSH', KEYS[2], ARGV[2])
`)

// likeScript is the authoritative check-and-set for a like. Repeating the
// last applied toggle (same seq, same user) returns the current state without
// flipping.
// KEYS: head, likes set, last toggle. ARGV: seq, user.
var likeScript = redis.NewScript(`
local head = tonumber(redis.call('GET', KEYS[1]) or '0')
local seq = tonumber(ARGV[1])
local mark = ARGV[1] .. ':' .. ARGV[2]
if seq <= head and redis.call('GET', KEYS[3]) == mark then
	return {redis.call('SISMEMBER', KEYS[2], ARGV[2]), redis.call('SCARD', KEYS[2])}
end
if head + 1 ~= seq then
	return redis.error_reply('SEQ_CONFLICT')
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SET', KEYS[3], mark)
local liked = 1
if redis.call('SISMEMBER', KEYS[2], ARGV[2]) == 1 then
	redis.call('SREM', KEYS[2], ARGV[2])
	liked = 0
else
	redis.call('SADD', KEYS[2], ARGV[2])
end
return {liked, redis.call('SCARD', KEYS[2])}
`)

// viewScript increments a view counter. Repeating the last applied seq
// returns the counter unchanged.
// KEYS: head, counter, last seq. ARGV: seq.
var viewScript = redis.NewScript(`
local head = tonumber(redis.call('GET', KEYS[1]) or '0')
local seq = tonumber(ARGV[1])
if seq <= head and redis.call('GET', KEYS[3]) == ARGV[1] then
	return tonumber(redis.call('GET', KEYS[2]) or '0')
end
if head + 1 ~= seq then
	return redis.error_reply('SEQ_CONFLICT')
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SET', KEYS[3], ARGV[1])
return redis.call('INCR', KEYS[2])
`)

type Store struct {
	client redis.UniversalClient
	prefix string
}

func New(client redis.UniversalClient, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

// [KEYS] {prefix}room:{roomID}[:suffix]
func (s *Store) key(roomID string, parts ...string) string {
	k := s.prefix + "room:{" + roomID + "}"
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

type storedRoom struct {
	ID        string         `json:"id"`
	Kind      model.RoomKind `json:"kind"`
	CreatedAt int64          `json:"created_at"`
}

func mapScriptErr(err error, what string) error {
	if err == nil {
		return nil
	}
	switch {
	case strings.HasPrefix(err.Error(), seqConflict):
		return fmt.Errorf("%s: %w", what, model.ErrSeqConflict)
	case strings.HasPrefix(err.Error(), "NOT_FOUND"):
		return fmt.Errorf("%s: %w", what, model.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func (s *Store) GetRoom(ctx context.Context, roomID string) (*model.Room, error) {
	raw, err := s.client.Get(ctx, s.key(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("room %s: %w", roomID, model.ErrRoomNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get room %s: %w", roomID, err)
	}
	var sr storedRoom
	if err := json.Unmarshal(raw, &sr); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", roomID, err)
	}
	// Members stay in Redis; access checks go through IsMember.
	return &model.Room{ID: sr.ID, Kind: sr.Kind, CreatedAt: time.UnixMilli(sr.CreatedAt).UTC()}, nil
}

func (s *Store) SaveRoom(ctx context.Context, room *model.Room) error {
	raw, err := json.Marshal(storedRoom{ID: room.ID, Kind: room.Kind, CreatedAt: room.CreatedAt.UnixMilli()})
	if err != nil {
		return err
	}
	members := s.key(room.ID, "members")
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(room.ID), raw, 0)
		pipe.Del(ctx, members)
		if len(room.Members) > 0 {
			args := make([]any, len(room.Members))
			for i, m := range room.Members {
				args[i] = m
			}
			pipe.SAdd(ctx, members, args...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save room %s: %w", room.ID, err)
	}
	return nil
}

// DeleteRoom unlinks the room and every key under its hash tag.
func (s *Store) DeleteRoom(ctx context.Context, roomID string) error {
	n, err := s.client.Unlink(ctx, s.key(roomID)).Result()
	if err != nil {
		return fmt.Errorf("delete room %s: %w", roomID, err)
	}
	if n == 0 {
		return fmt.Errorf("room %s: %w", roomID, model.ErrRoomNotFound)
	}

	iter := s.client.Scan(ctx, 0, s.key(roomID, "*"), 200).Iterator()
	batch := make([]string, 0, 200)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := s.client.Unlink(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("delete room %s keys: %w", roomID, err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan room %s keys: %w", roomID, err)
	}
	if len(batch) > 0 {
		if err := s.client.Unlink(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("delete room %s keys: %w", roomID, err)
		}
	}
	return nil
}

func (s *Store) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.key(roomID, "members"), userID).Result()
	if err != nil {
		return false, fmt.Errorf("membership of %s in room %s: %w", userID, roomID, err)
	}
	return ok, nil
}

func (s *Store) HeadSeq(ctx context.Context, roomID string) (uint64, error) {
	v, err := s.client.Get(ctx, s.key(roomID, "head")).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("head of room %s: %w", roomID, err)
	}
	return v, nil
}

func (s *Store) CreateMessage(ctx context.Context, msg *model.Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	keys := []string{s.key(msg.RoomID, "head"), s.key(msg.RoomID, "messages"), s.key(msg.RoomID, "messages", "order")}
	err = createScript.Run(ctx, s.client, keys, msg.Seq, msg.ID.String(), raw).Err()
	return mapScriptErr(err, "create message "+msg.ID.String())
}

func (s *Store) GetMessage(ctx context.Context, roomID string, id uuid.UUID) (*model.Message, error) {
	raw, err := s.client.HGet(ctx, s.key(roomID, "messages"), id.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("message %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}
	msg := new(model.Message)
	if err := json.Unmarshal(raw, msg); err != nil {
		return nil, fmt.Errorf("decode message %s: %w", id, err)
	}
	return msg, nil
}

func (s *Store) UpdateMessage(ctx context.Context, msg *model.Message, seq uint64) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	keys := []string{s.key(msg.RoomID, "head"), s.key(msg.RoomID, "messages")}
	err = updateScript.Run(ctx, s.client, keys, seq, msg.ID.String(), raw).Err()
	return mapScriptErr(err, "update message "+msg.ID.String())
}

func (s *Store) ListMessages(ctx context.Context, roomID string, limit int) ([]*model.Message, error) {
	raws, err := s.latest(ctx, roomID, "messages", limit)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Message, 0, len(raws))
	for _, raw := range raws {
		msg := new(model.Message)
		if err := json.Unmarshal([]byte(raw), msg); err != nil {
			return nil, fmt.Errorf("decode message in room %s: %w", roomID, err)
		}
		out = append(out, msg)
	}
	return out, nil
}

func (s *Store) CreatePost(ctx context.Context, post *model.Post) error {
	raw, err := json.Marshal(post)
	if err != nil {
		return err
	}
	keys := []string{s.key(post.RoomID, "head"), s.key(post.RoomID, "posts"), s.key(post.RoomID, "posts", "order")}
	err = createScript.Run(ctx, s.client, keys, post.Seq, post.ID.String(), raw).Err()
	return mapScriptErr(err, "create post "+post.ID.String())
}

func (s *Store) GetPost(ctx context.Context, roomID string, id uuid.UUID) (*model.Post, error) {
	raw, err := s.client.HGet(ctx, s.key(roomID, "posts"), id.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("post %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get post %s: %w", id, err)
	}
	post := new(model.Post)
	if err := json.Unmarshal(raw, post); err != nil {
		return nil, fmt.Errorf("decode post %s: %w", id, err)
	}
	return post, nil
}

func (s *Store) ListPosts(ctx context.Context, roomID string, limit int) ([]*model.Post, error) {
	raws, err := s.latest(ctx, roomID, "posts", limit)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Post, 0, len(raws))
	for _, raw := range raws {
		post := new(model.Post)
		if err := json.Unmarshal([]byte(raw), post); err != nil {
			return nil, fmt.Errorf("decode post in room %s: %w", roomID, err)
		}
		out = append(out, post)
	}
	return out, nil
}

// latest returns the JSON of the newest limit entities of kind, oldest first.
func (s *Store) latest(ctx context.Context, roomID, kind string, limit int) ([]string, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := s.client.ZRevRange(ctx, s.key(roomID, kind, "order"), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s of room %s: %w", kind, roomID, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	slices.Reverse(ids)

	vals, err := s.client.HMGet(ctx, s.key(roomID, kind), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("load %s of room %s: %w", kind, roomID, err)
	}
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if str, ok := v.(string); ok {
			out = append(out, str)
		}
	}
	return out, nil
}

func (s *Store) AddComment(ctx context.Context, c *model.Comment) (int, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return 0, err
	}
	keys := []string{s.key(c.RoomID, "head"), s.key(c.RoomID, "comments", c.Target.String())}
	n, err := commentScript.Run(ctx, s.client, keys, c.Seq, raw).Int()
	if err != nil {
		return 0, mapScriptErr(err, "add comment on "+c.Target.String())
	}
	return n, nil
}

func (s *Store) ToggleLike(ctx context.Context, roomID string, target model.TargetRef, userID string, seq uint64) (model.LikeResult, error) {
	keys := []string{s.key(roomID, "head"), s.key(roomID, "likes", target.String()), s.key(roomID, "likes", target.String(), "last")}
	res, err := likeScript.Run(ctx, s.client, keys, seq, userID).Int64Slice()
	if err != nil {
		return model.LikeResult{}, mapScriptErr(err, "toggle like on "+target.String())
	}
	if len(res) != 2 {
		return model.LikeResult{}, fmt.Errorf("toggle like on %s: unexpected reply %v", target, res)
	}
	return model.LikeResult{Target: target, Liked: res[0] == 1, Likes: int(res[1])}, nil
}

func (s *Store) RecordView(ctx context.Context, roomID string, target model.TargetRef, seq uint64) (int, error) {
	keys := []string{s.key(roomID, "head"), s.key(roomID, "views", target.String()), s.key(roomID, "views", target.String(), "last")}
	n, err := viewScript.Run(ctx, s.client, keys, seq).Int()
	if err != nil {
		return 0, mapScriptErr(err, "record view on "+target.String())
	}
	return n, nil
}

func (s *Store) Engagement(ctx context.Context, roomID string, targets []model.TargetRef) ([]*model.Engagement, error) {
	type reads struct {
		likes    *redis.StringSliceCmd
		comments *redis.IntCmd
		views    *redis.StringCmd
	}
	cmds := make([]reads, len(targets))

	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, t := range targets {
			cmds[i] = reads{
				likes:    pipe.SMembers(ctx, s.key(roomID, "likes", t.String())),
				comments: pipe.LLen(ctx, s.key(roomID, "comments", t.String())),
				views:    pipe.Get(ctx, s.key(roomID, "views", t.String())),
			}
		}
		return nil
	})
	// A missing view counter surfaces as redis.Nil on its command only.
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("engagement of room %s: %w", roomID, err)
	}

	out := make([]*model.Engagement, 0, len(targets))
	for i, t := range targets {
		liked := cmds[i].likes.Val()
		slices.Sort(liked)
		views, _ := strconv.Atoi(cmds[i].views.Val())
		eg := &model.Engagement{
			Target:   t,
			Likes:    len(liked),
			Comments: int(cmds[i].comments.Val()),
			Views:    views,
		}
		if len(liked) > 0 {
			eg.LikedBy = liked
		}
		out = append(out, eg)
	}
	return out, nil
}

// ListComments returns up to limit of the newest comments of every target,
// ordered by seq.
func (s *Store) ListComments(ctx context.Context, roomID string, targets []model.TargetRef, limit int) ([]*model.Comment, error) {
	if len(targets) == 0 {
		return nil, nil
	}
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	cmds := make([]*redis.StringSliceCmd, len(targets))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, t := range targets {
			cmds[i] = pipe.LRange(ctx, s.key(roomID, "comments", t.String()), start, -1)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("comments of room %s: %w", roomID, err)
	}

	var out []*model.Comment
	for _, cmd := range cmds {
		for _, raw := range cmd.Val() {
			c := new(model.Comment)
			if err := json.Unmarshal([]byte(raw), c); err != nil {
				return nil, fmt.Errorf("decode comment in room %s: %w", roomID, err)
			}
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b *model.Comment) int { return cmp.Compare(a.Seq, b.Seq) })
	return out, nil
}
