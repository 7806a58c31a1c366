package shelfsync

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// EventType identifies a status event.
type EventType string

const (
	EventSyncStatusChanged EventType = "sync_status_changed"
	EventConflictDetected  EventType = "conflict_detected"
	EventConflictResolved  EventType = "conflict_resolved"
	EventOperationFailed   EventType = "operation_failed"
	EventConnectivity      EventType = "connectivity_changed"
)

// Event is a status notification delivered to subscribers.
type Event struct {
	Type      EventType
	Timestamp time.Time

	// Status is set on EventSyncStatusChanged
	Status *SyncStatus

	// Conflict is set on conflict events
	Conflict *DataConflict

	// Operation is set on EventOperationFailed
	Operation *FailedOperation

	// Online is set on EventConnectivity
	Online bool
}

// Subscription is one listener's feed of events. Delivery is best-effort;
// events are dropped for subscribers whose buffers are full.
type Subscription struct {
	ID string

	ch     chan Event
	done   chan struct{}
	closed bool
	mu     sync.Mutex
}

// C returns the event channel.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Close terminates the subscription.
func (s *Subscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}

// StatusHub fans status events out to subscribers.
type StatusHub struct {
	mu      sync.RWMutex
	subs    map[string]*Subscription
	nextID  atomic.Uint64
	dropped atomic.Uint64
}

// NewStatusHub creates an empty hub.
func NewStatusHub() *StatusHub {
	return &StatusHub{
		subs: make(map[string]*Subscription),
	}
}

// Subscribe registers a listener with the given buffer size.
func (h *StatusHub) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 16
	}
	sub := &Subscription{
		ID:   fmt.Sprintf("sub-%d", h.nextID.Add(1)),
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.subs[sub.ID] = sub
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes and closes a subscription.
func (h *StatusHub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	h.mu.Unlock()
	if ok {
		sub.Close()
	}
}

// Publish delivers an event to every live subscriber without blocking.
func (h *StatusHub) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		sub.mu.Lock()
		if sub.closed {
			sub.mu.Unlock()
			continue
		}
		select {
		case sub.ch <- event:
		case <-sub.done:
		default:
			h.dropped.Add(1)
		}
		sub.mu.Unlock()
	}
}

// Dropped returns the count of events discarded due to full buffers.
func (h *StatusHub) Dropped() uint64 {
	return h.dropped.Load()
}

// SubscriberCount returns the number of live subscriptions.
func (h *StatusHub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
