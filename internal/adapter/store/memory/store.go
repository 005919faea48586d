// Package memory is a process-local Store used for development and tests.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/loopfund/community-live/internal/domain/model"
	"github.com/loopfund/community-live/internal/service"
)

var _ service.Store = (*Store)(nil)

type engagement struct {
	likes    map[string]struct{}
	comments []*model.Comment
	views    int

	// Last applied like and view writes, so that a retried call is told
	// apart from a call made with a stale head.
	likeSeq  uint64
	likeUser string
	viewSeq  uint64
}

type roomData struct {
	room *model.Room
	head uint64

	messages []*model.Message
	msgIndex map[uuid.UUID]int
	edits    map[uuid.UUID]uint64 // seq of the last update of each message
	posts    []*model.Post
	postIdx  map[uuid.UUID]int
	targets  map[model.TargetRef]*engagement
}

type Store struct {
	mu    sync.RWMutex
	rooms map[string]*roomData
}

func New() *Store {
	return &Store{rooms: make(map[string]*roomData)}
}

func (s *Store) room(roomID string) (*roomData, error) {
	rd, ok := s.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("room %s: %w", roomID, model.ErrRoomNotFound)
	}
	return rd, nil
}

// advance moves the head to seq, which must directly follow it.
func (rd *roomData) advance(seq uint64) error {
	if seq != rd.head+1 {
		return fmt.Errorf("room %s at %d, write for %d: %w", rd.room.ID, rd.head, seq, model.ErrSeqConflict)
	}
	rd.head = seq
	return nil
}

func (rd *roomData) target(t model.TargetRef) *engagement {
	e, ok := rd.targets[t]
	if !ok {
		e = &engagement{likes: make(map[string]struct{})}
		rd.targets[t] = e
	}
	return e
}

func (s *Store) GetRoom(_ context.Context, roomID string) (*model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rd, err := s.room(roomID)
	if err != nil {
		return nil, err
	}
	r := *rd.room
	r.Members = slices.Clone(rd.room.Members)
	return &r, nil
}

// SaveRoom upserts the room definition. Content and head of an existing room are kept.
func (s *Store) SaveRoom(_ context.Context, room *model.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := *room
	r.Members = slices.Clone(room.Members)
	if rd, ok := s.rooms[room.ID]; ok {
		rd.room = &r
		return nil
	}
	s.rooms[room.ID] = &roomData{
		room:     &r,
		msgIndex: make(map[uuid.UUID]int),
		edits:    make(map[uuid.UUID]uint64),
		postIdx:  make(map[uuid.UUID]int),
		targets:  make(map[model.TargetRef]*engagement),
	}
	return nil
}

func (s *Store) DeleteRoom(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.room(roomID); err != nil {
		return err
	}
	delete(s.rooms, roomID)
	return nil
}

func (s *Store) IsMember(_ context.Context, roomID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rd, err := s.room(roomID)
	if err != nil {
		return false, err
	}
	return rd.room.HasMember(userID), nil
}

func (s *Store) HeadSeq(_ context.Context, roomID string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rd, err := s.room(roomID)
	if err != nil {
		return 0, err
	}
	return rd.head, nil
}

func (s *Store) CreateMessage(_ context.Context, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rd, err := s.room(msg.RoomID)
	if err != nil {
		return err
	}
	if i, ok := rd.msgIndex[msg.ID]; ok && rd.messages[i].Seq == msg.Seq {
		return nil
	}
	if err := rd.advance(msg.Seq); err != nil {
		return err
	}
	rd.msgIndex[msg.ID] = len(rd.messages)
	rd.messages = append(rd.messages, msg.Clone())
	return nil
}

func (s *Store) GetMessage(_ context.Context, roomID string, id uuid.UUID) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rd, err := s.room(roomID)
	if err != nil {
		return nil, err
	}
	i, ok := rd.msgIndex[id]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", id, model.ErrNotFound)
	}
	return rd.messages[i].Clone(), nil
}

func (s *Store) UpdateMessage(_ context.Context, msg *model.Message, seq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rd, err := s.room(msg.RoomID)
	if err != nil {
		return err
	}
	i, ok := rd.msgIndex[msg.ID]
	if !ok {
		return fmt.Errorf("message %s: %w", msg.ID, model.ErrNotFound)
	}
	if rd.edits[msg.ID] == seq {
		return nil
	}
	if err := rd.advance(seq); err != nil {
		return err
	}
	rd.edits[msg.ID] = seq
	rd.messages[i] = msg.Clone()
	return nil
}

func (s *Store) ListMessages(_ context.Context, roomID string, limit int) ([]*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rd, err := s.room(roomID)
	if err != nil {
		return nil, err
	}
	from := 0
	if limit > 0 && len(rd.messages) > limit {
		from = len(rd.messages) - limit
	}
	out := make([]*model.Message, 0, len(rd.messages)-from)
	for _, m := range rd.messages[from:] {
		out = append(out, m.Clone())
	}
	return out, nil
}

func (s *Store) CreatePost(_ context.Context, post *model.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rd, err := s.room(post.RoomID)
	if err != nil {
		return err
	}
	if i, ok := rd.postIdx[post.ID]; ok && rd.posts[i].Seq == post.Seq {
		return nil
	}
	if err := rd.advance(post.Seq); err != nil {
		return err
	}
	rd.postIdx[post.ID] = len(rd.posts)
	rd.posts = append(rd.posts, post.Clone())
	return nil
}

func (s *Store) GetPost(_ context.Context, roomID string, id uuid.UUID) (*model.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rd, err := s.room(roomID)
	if err != nil {
		return nil, err
	}
	i, ok := rd.postIdx[id]
	if !ok {
		return nil, fmt.Errorf("post %s: %w", id, model.ErrNotFound)
	}
	return rd.posts[i].Clone(), nil
}

func (s *Store) ListPosts(_ context.Context, roomID string, limit int) ([]*model.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rd, err := s.room(roomID)
	if err != nil {
		return nil, err
	}
	from := 0
	if limit > 0 && len(rd.posts) > limit {
		from = len(rd.posts) - limit
	}
	out := make([]*model.Post, 0, len(rd.posts)-from)
	for _, p := range rd.posts[from:] {
		out = append(out, p.Clone())
	}
	return out, nil
}

func (s *Store) AddComment(_ context.Context, c *model.Comment) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rd, err := s.room(c.RoomID)
	if err != nil {
		return 0, err
	}
	e := rd.target(c.Target)
	if n := len(e.comments); n > 0 && e.comments[n-1].ID == c.ID && e.comments[n-1].Seq == c.Seq {
		return n, nil
	}
	if err := rd.advance(c.Seq); err != nil {
		return 0, err
	}
	cc := *c
	e.comments = append(e.comments, &cc)
	return len(e.comments), nil
}

// ToggleLike flips userID's like on target. Repeating the last applied
// toggle of the same user at the same seq returns the current state without
// flipping again. Any other seq that does not follow the head conflicts.
func (s *Store) ToggleLike(_ context.Context, roomID string, target model.TargetRef, userID string, seq uint64) (model.LikeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rd, err := s.room(roomID)
	if err != nil {
		return model.LikeResult{}, err
	}
	e := rd.target(target)
	if seq <= rd.head && e.likeSeq == seq && e.likeUser == userID {
		_, liked := e.likes[userID]
		return model.LikeResult{Target: target, Liked: liked, Likes: len(e.likes)}, nil
	}
	if err := rd.advance(seq); err != nil {
		return model.LikeResult{}, err
	}
	e.likeSeq, e.likeUser = seq, userID

	_, liked := e.likes[userID]
	if liked {
		delete(e.likes, userID)
	} else {
		e.likes[userID] = struct{}{}
	}
	return model.LikeResult{Target: target, Liked: !liked, Likes: len(e.likes)}, nil
}

func (s *Store) RecordView(_ context.Context, roomID string, target model.TargetRef, seq uint64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rd, err := s.room(roomID)
	if err != nil {
		return 0, err
	}
	e := rd.target(target)
	if seq <= rd.head && e.viewSeq == seq {
		return e.views, nil
	}
	if err := rd.advance(seq); err != nil {
		return 0, err
	}
	e.viewSeq = seq
	e.views++
	return e.views, nil
}

func (s *Store) Engagement(_ context.Context, roomID string, targets []model.TargetRef) ([]*model.Engagement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rd, err := s.room(roomID)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Engagement, 0, len(targets))
	for _, t := range targets {
		eg := &model.Engagement{Target: t}
		if e, ok := rd.targets[t]; ok {
			eg.Likes = len(e.likes)
			eg.Comments = len(e.comments)
			eg.Views = e.views
			for uid := range e.likes {
				eg.LikedBy = append(eg.LikedBy, uid)
			}
			slices.Sort(eg.LikedBy)
		}
		out = append(out, eg)
	}
	return out, nil
}

// ListComments returns up to limit of the newest comments of every target,
// ordered by seq.
func (s *Store) ListComments(_ context.Context, roomID string, targets []model.TargetRef, limit int) ([]*model.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rd, err := s.room(roomID)
	if err != nil {
		return nil, err
	}
	var out []*model.Comment
	for _, t := range targets {
		e, ok := rd.targets[t]
		if !ok {
			continue
		}
		from := 0
		if limit > 0 && len(e.comments) > limit {
			from = len(e.comments) - limit
		}
		for _, c := range e.comments[from:] {
			cc := *c
			out = append(out, &cc)
		}
	}
	slices.SortFunc(out, func(a, b *model.Comment) int { return cmp.Compare(a.Seq, b.Seq) })
	return out, nil
}
