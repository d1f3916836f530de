package billing

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types published for dashboard subscribers.
const (
	EventCharged    = "charged"
	EventPaused     = "paused"
	EventAutoPaused = "auto_paused"
	EventUnpaused   = "unpaused"
	EventRefunded   = "refunded"
	EventCreated    = "created"
	EventDeleted    = "deleted"
)

// Event is a billing state change visible to the server owner.
type Event struct {
	Type          string     `json:"type"`
	UserID        uuid.UUID  `json:"user_id"`
	ServerID      uuid.UUID  `json:"server_id"`
	Coins         int64      `json:"coins,omitempty"`
	NextBillingAt *time.Time `json:"next_billing_at,omitempty"`
	Message       string     `json:"message,omitempty"`
	At            time.Time  `json:"at"`
}

// EventPublisher receives billing events. Publish must not block.
type EventPublisher interface {
	Publish(event Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(Event) {}

const subscriberBuffer = 32

// Hub fans events out to per-user subscribers. Slow subscribers drop events
// rather than block billing.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uuid.UUID]map[chan Event]struct{}
	closed bool
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[uuid.UUID]map[chan Event]struct{}),
	}
}

// Subscribe returns a channel of events for userID and a function that
// unsubscribes and closes it.
func (h *Hub) Subscribe(userID uuid.UUID) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(ch)
		return ch, func() {}
	}
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[chan Event]struct{})
	}
	h.subs[userID][ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[userID][ch]; !ok {
				return
			}
			delete(h.subs[userID], ch)
			if len(h.subs[userID]) == 0 {
				delete(h.subs, userID)
			}
			close(ch)
		})
	}
}

// Publish delivers event to every subscriber of event.UserID.
func (h *Hub) Publish(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs[event.UserID] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close closes all subscriber channels. Later subscriptions receive a closed
// channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for userID, chans := range h.subs {
		for ch := range chans {
			close(ch)
		}
		delete(h.subs, userID)
	}
}
