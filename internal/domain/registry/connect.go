package registry

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/loopfund/community-live/internal/domain/event"
)

// Interface guard
var _ Connector = (*connect)(nil)

// [CONNECTOR] THE INTERFACE FOR EXTERNAL LAYERS (REGISTRY/HUB)
// This allows mocking and decoupling from the concrete implementation
type Connector interface {
	GetID() uuid.UUID
	GetUserID() string
	GetMetadata() ConnectMetadata
	Send(ev event.Eventer) bool // Non-blocking send with drop-oldest backpressure
	Ready() <-chan struct{}     // Signalled whenever the outbound queue becomes non-empty
	Drain(max int) []event.Eventer
	Done() <-chan struct{}
	Dropped() uint64
	Close() // Terminate connection and release resources
}

// [METADATA] EXPORTED FOR TRANSPORT AND ANALYTICS LAYERS
type ConnectMetadata struct {
	Transport string
	Platform  string
	RemoteIP  string
	UserAgent string
}

// [CONNECT] CONCRETE IMPLEMENTATION (UNEXPORTED TO FORCE INTERFACE USAGE)
type connect struct {
	id        uuid.UUID
	userID    string
	metadata  ConnectMetadata
	createdAt time.Time
	ctx       context.Context
	cancelFn  context.CancelFunc

	// [OUTBOUND_QUEUE]
	// FIFO of pending events. Capacity bounds data events only; resync markers
	// are bounded by the number of rooms and never evicted.
	mu       sync.Mutex
	queue    []event.Eventer
	data     int
	capacity int
	markers  map[string]struct{}
	closed   bool
	readyCh  chan struct{}

	closeOnce      sync.Once    // [PROTECTION]
	lastActivityAt atomic.Int64 // [ATOMIC_FIELD]
	droppedCount   atomic.Uint64
}

// NewConnector creates the outbound side of one live channel.
func NewConnector(ctx context.Context, userID string, bufferSize int, meta ConnectMetadata) Connector {
	if bufferSize <= 0 {
		bufferSize = DefaultOutboundBuffer
	}
	childCtx, cancel := context.WithCancel(ctx)

	c := &connect{
		id:        uuid.New(),
		userID:    userID,
		metadata:  meta,
		createdAt: time.Now(),
		ctx:       childCtx,
		cancelFn:  cancel,
		queue:     make([]event.Eventer, 0, bufferSize),
		capacity:  bufferSize,
		markers:   make(map[string]struct{}),
		readyCh:   make(chan struct{}, 1),
	}
	c.lastActivityAt.Store(time.Now().UnixNano())
	return c
}

// --- IMPLEMENTATION OF CONNECTOR INTERFACE ---

func (c *connect) GetID() uuid.UUID             { return c.id }
func (c *connect) GetUserID() string            { return c.userID }
func (c *connect) GetMetadata() ConnectMetadata { return c.metadata }
func (c *connect) Ready() <-chan struct{}       { return c.readyCh }
func (c *connect) Done() <-chan struct{}        { return c.ctx.Done() }
func (c *connect) Dropped() uint64              { return c.droppedCount.Load() }

// Send enqueues ev without blocking. It returns false when the connection is
// gone or ev was shed.
func (c *connect) Send(ev event.Eventer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	// 1. [LIFECYCLE_GATE] Immediately abort if the underlying transport is already dead.
	if c.closed || c.ctx.Err() != nil {
		return false
	}

	if ev.GetKind() == event.ResyncRequired {
		c.pushMarker(len(c.queue), ev)
		return true
	}

	// 2. [PRIMARY_DELIVERY]
	if c.data < c.capacity {
		c.queue = append(c.queue, ev)
		c.data++
		c.signal()
		return true
	}

	// 3. [BACKPRESSURE_THRESHOLD]
	return c.handleBackpressure(ev)
}

// handleBackpressure makes room for ev by dropping the oldest data event.
// A dropped sequenced event is replaced in place by a resync marker for its
// room so the client refetches instead of silently losing history.
func (c *connect) handleBackpressure(ev event.Eventer) bool {
	// Ephemeral signals never evict history.
	if ev.GetPriority() <= event.PriorityLow {
		c.droppedCount.Add(1)
		return false
	}

	for i, old := range c.queue {
		if old.GetKind() == event.ResyncRequired {
			continue
		}
		c.droppedCount.Add(1)
		c.data--

		roomID := old.GetRoomID()
		if _, pending := c.markers[roomID]; !pending && event.CarriesState(old) {
			c.queue[i] = event.NewResyncMarker(roomID, "outbound_buffer_overflow")
			c.markers[roomID] = struct{}{}
		} else {
			c.queue = slices.Delete(c.queue, i, i+1)
		}
		break
	}

	c.queue = append(c.queue, ev)
	c.data++
	c.signal()
	return true
}

func (c *connect) pushMarker(at int, ev event.Eventer) {
	if _, pending := c.markers[ev.GetRoomID()]; pending {
		return
	}
	c.markers[ev.GetRoomID()] = struct{}{}
	c.queue = slices.Insert(c.queue, at, ev)
	c.signal()
}

func (c *connect) signal() {
	select {
	case c.readyCh <- struct{}{}:
	default:
	}
}

// Drain removes up to max events from the head of the queue.
func (c *connect) Drain(max int) []event.Eventer {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) == 0 {
		return nil
	}
	n := len(c.queue)
	if max > 0 && n > max {
		n = max
	}

	out := make([]event.Eventer, n)
	copy(out, c.queue[:n])
	c.queue = slices.Delete(c.queue, 0, n)

	for _, ev := range out {
		if ev.GetKind() == event.ResyncRequired {
			delete(c.markers, ev.GetRoomID())
			continue
		}
		c.data--
	}
	if len(c.queue) > 0 {
		c.signal()
	}
	c.lastActivityAt.Store(time.Now().UnixNano())
	return out
}

// Close terminates the session. Safe to call concurrently and repeatedly.
func (c *connect) Close() {
	// [IDEMPOTENCY_SHIELD]
	// Ensures the teardown logic runs exactly once even when the hub (shutdown),
	// the room (deletion) and the transport handler (defer) race each other.
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.queue = nil
		c.data = 0
		clear(c.markers)
		c.mu.Unlock()

		// [SIGNAL_ABORT] Wakes transport pumps blocked on Done().
		c.cancelFn()
	})
}
