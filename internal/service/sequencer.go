package service

import (
	"context"
	"fmt"
	"sync"
)

// roomSeq is the critical section of one room. Holding mu serializes every
// sequenced mutation of the room together with its local emission.
type roomSeq struct {
	mu     sync.Mutex
	head   uint64
	loaded bool
}

func (r *roomSeq) next() uint64 { return r.head + 1 }

// commit advances the head after the store accepted the write for seq.
func (r *roomSeq) commit(seq uint64) { r.head = seq }

// invalidate forces the head to be reloaded from the store. Used when the
// outcome of a write is unknown.
func (r *roomSeq) invalidate() { r.loaded = false }

func (r *roomSeq) release() { r.mu.Unlock() }

type sequencer struct {
	store Store

	mu    sync.Mutex
	rooms map[string]*roomSeq
}

func newSequencer(store Store) *sequencer {
	return &sequencer{store: store, rooms: make(map[string]*roomSeq)}
}

// acquire locks the room and makes sure its head is known. The caller must
// release the returned state.
func (s *sequencer) acquire(ctx context.Context, roomID string) (*roomSeq, error) {
	s.mu.Lock()
	rs, ok := s.rooms[roomID]
	if !ok {
		rs = &roomSeq{}
		s.rooms[roomID] = rs
	}
	s.mu.Unlock()

	rs.mu.Lock()
	if rs.loaded {
		return rs, nil
	}
	head, err := s.store.HeadSeq(ctx, roomID)
	if err != nil {
		rs.mu.Unlock()
		return nil, fmt.Errorf("load head seq of room %s: %w", roomID, err)
	}
	rs.head, rs.loaded = head, true
	return rs, nil
}

// reload refreshes the head of a room the caller holds. Another node may
// have advanced it since it was cached.
func (s *sequencer) reload(ctx context.Context, roomID string, rs *roomSeq) error {
	head, err := s.store.HeadSeq(ctx, roomID)
	if err != nil {
		rs.loaded = false
		return fmt.Errorf("reload head seq of room %s: %w", roomID, err)
	}
	rs.head, rs.loaded = head, true
	return nil
}

// forget drops the room's state after the room is deleted.
func (s *sequencer) forget(roomID string) {
	s.mu.Lock()
	delete(s.rooms, roomID)
	s.mu.Unlock()
}
