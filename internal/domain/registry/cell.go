/*
Package registry tracks live connections and fans canonical events out to them.

Key Architectural Concepts:
  - Room Cells: every room with at least one subscriber is represented by an
    isolated cell holding the room's subscriber set. Delivery to a room only
    touches that cell's lock.
  - Decoupling & Backpressure: every connection owns a bounded outbound queue.
    Pushing never blocks; a full queue sheds its oldest event and records a
    resync marker, so a slow consumer cannot stall the rest of the room.
  - Computational Efficiency: events carry a cache slot so the transport
    encodes them once per broadcast, not once per subscriber.
  - Concurrency Management: lock-free lookups via sync.Map on the read path,
    a single registry mutex on the (rare) write path.
*/
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loopfund/community-live/internal/domain/event"
)

// Delivery summarizes one fan-out pass.
type Delivery struct {
	Delivered int
	Dropped   int
}

// roomCell implements [ISOLATED_DELIVERY] for a single room.
type roomCell struct {
	// [IDENTITY]
	roomID string

	// [SESSIONS]
	// Subscribed connections, plus a per-user connection count used for presence.
	sessions map[uuid.UUID]Connector
	users    map[string]int

	// [CONCURRENCY_CONTROL]
	// RWMutex is chosen because read-heavy delivery operations outnumber
	// subscription changes.
	mu sync.RWMutex

	// lastActivityAt records the last time the cell was touched.
	lastActivityAt time.Time
}

func newRoomCell(roomID string) *roomCell {
	return &roomCell{
		roomID:         roomID,
		sessions:       make(map[uuid.UUID]Connector),
		users:          make(map[string]int),
		lastActivityAt: time.Now(),
	}
}

// attach adds conn and reports whether it is the user's first connection in the room.
func (c *roomCell) attach(conn Connector) (firstForUser, added bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastActivityAt = time.Now()
	if _, ok := c.sessions[conn.GetID()]; ok {
		return false, false
	}
	c.sessions[conn.GetID()] = conn
	c.users[conn.GetUserID()]++
	return c.users[conn.GetUserID()] == 1, true
}

// detach removes connID and reports whether its user has no connection left
// in the room, and whether the room is now empty.
func (c *roomCell) detach(connID uuid.UUID) (lastForUser, empty bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastActivityAt = time.Now()
	conn, ok := c.sessions[connID]
	if !ok {
		return false, len(c.sessions) == 0
	}
	delete(c.sessions, connID)

	uid := conn.GetUserID()
	c.users[uid]--
	if c.users[uid] <= 0 {
		delete(c.users, uid)
		lastForUser = true
	}
	return lastForUser, len(c.sessions) == 0
}

// IsIdle returns true if the room has no subscribers and hasn't been touched lately.
func (c *roomCell) IsIdle(timeout time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions) == 0 && time.Since(c.lastActivityAt) > timeout
}

func (c *roomCell) subscriberIDs() []uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	return ids
}

func (c *roomCell) connectors() []Connector {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Connector, 0, len(c.sessions))
	for _, conn := range c.sessions {
		out = append(out, conn)
	}
	return out
}

func (c *roomCell) userIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.users))
	for uid := range c.users {
		out = append(out, uid)
	}
	return out
}

func (c *roomCell) counts() (sessions, users int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions), len(c.users)
}

// deliver pushes ev to every subscriber. A rejected send on one connection
// never affects the others.
func (c *roomCell) deliver(ev event.Eventer) Delivery {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var d Delivery
	for _, conn := range c.sessions {
		if conn.Send(ev) {
			d.Delivered++
		} else {
			d.Dropped++
		}
	}
	return d
}
