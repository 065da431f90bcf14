// Package events provides the structured marketplace event log. Every
// committed state transition emits exactly one event; failed operations emit
// nothing. Events are kept in a ring buffer and fanned out to subscribers
// such as the database syncer.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType classifies a marketplace event.
type EventType string

const (
	EventMarketplaceInitialized EventType = "marketplace.initialized"
	EventPropertyListed         EventType = "property.listed"
	EventPropertyUpdated        EventType = "property.updated"
	EventOfferCreated           EventType = "offer.created"
	EventOfferAccepted          EventType = "offer.accepted"
	EventOfferRejected          EventType = "offer.rejected"
	EventOfferExpired           EventType = "offer.expired"
	EventPropertySold           EventType = "property.sold"
	EventFeesWithdrawn          EventType = "fees.withdrawn"
)

// Event records one committed state transition. Unused fields stay zero and
// are omitted from the JSON encoding.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	Marketplace string `json:"marketplace,omitempty"`
	Property    string `json:"property,omitempty"`
	Offer       string `json:"offer,omitempty"`
	Escrow      string `json:"escrow,omitempty"`

	Authority string `json:"authority,omitempty"`
	Owner     string `json:"owner,omitempty"`
	Buyer     string `json:"buyer,omitempty"`
	Seller    string `json:"seller,omitempty"`

	Amount uint64 `json:"amount,omitempty"`
	Fee    uint64 `json:"fee,omitempty"`
	Price  uint64 `json:"price,omitempty"`
}

// String returns the JSON encoding of the event.
func (e Event) String() string {
	data, _ := json.Marshal(e)
	return string(data)
}

// Handler processes events as they are logged.
type Handler func(Event)

// Filter decides whether a subscriber sees an event.
type Filter func(Event) bool

// Logger is the event log interface the services publish to.
type Logger interface {
	// Log records an event.
	Log(event Event)

	// Subscribe registers a handler for all events. The returned function
	// unsubscribes it.
	Subscribe(handler Handler) func()

	// SubscribeFiltered registers a handler behind a filter.
	SubscribeFiltered(filter Filter, handler Handler) func()

	// Recent returns the most recent n events, newest first.
	Recent(n int) []Event

	// RecentByType returns the most recent n events of one type.
	RecentByType(eventType EventType, n int) []Event

	// RecentByProperty returns the most recent n events touching a property.
	RecentByProperty(propertyKey string, n int) []Event
}

// RingBuffer is a thread-safe circular event log.
type RingBuffer struct {
	mu       sync.RWMutex
	events   []Event
	size     int
	head     int
	count    int
	handlers []handlerEntry
	nextID   int64
}

type handlerEntry struct {
	id      int64
	filter  Filter
	handler Handler
}

// NewRingBuffer creates an event log holding the most recent size events.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1000
	}
	return &RingBuffer{
		events: make([]Event, size),
		size:   size,
	}
}

// Log adds an event to the buffer and notifies subscribers. Handlers run
// outside the lock, in subscription order.
func (rb *RingBuffer) Log(event Event) {
	rb.mu.Lock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	rb.events[rb.head] = event
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}

	handlers := make([]handlerEntry, len(rb.handlers))
	copy(handlers, rb.handlers)
	rb.mu.Unlock()

	for _, h := range handlers {
		if h.filter == nil || h.filter(event) {
			h.handler(event)
		}
	}
}

// Subscribe registers a handler for all events.
func (rb *RingBuffer) Subscribe(handler Handler) func() {
	return rb.SubscribeFiltered(nil, handler)
}

// SubscribeFiltered registers a handler behind a filter.
func (rb *RingBuffer) SubscribeFiltered(filter Filter, handler Handler) func() {
	rb.mu.Lock()
	id := rb.nextID
	rb.nextID++
	rb.handlers = append(rb.handlers, handlerEntry{
		id:      id,
		filter:  filter,
		handler: handler,
	})
	rb.mu.Unlock()

	return func() {
		rb.mu.Lock()
		defer rb.mu.Unlock()
		for i, h := range rb.handlers {
			if h.id == id {
				rb.handlers = append(rb.handlers[:i], rb.handlers[i+1:]...)
				return
			}
		}
	}
}

// Recent returns the most recent n events, newest first.
func (rb *RingBuffer) Recent(n int) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || rb.count == 0 {
		return nil
	}
	if n > rb.count {
		n = rb.count
	}

	result := make([]Event, n)
	for i := 0; i < n; i++ {
		idx := (rb.head - 1 - i + rb.size) % rb.size
		result[i] = rb.events[idx]
	}
	return result
}

// RecentByType returns the most recent n events of one type, newest first.
func (rb *RingBuffer) RecentByType(eventType EventType, n int) []Event {
	return rb.recentMatching(n, func(e Event) bool { return e.Type == eventType })
}

// RecentByProperty returns the most recent n events touching a property.
func (rb *RingBuffer) RecentByProperty(propertyKey string, n int) []Event {
	return rb.recentMatching(n, func(e Event) bool { return e.Property == propertyKey })
}

func (rb *RingBuffer) recentMatching(n int, match func(Event) bool) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || rb.count == 0 {
		return nil
	}

	var result []Event
	for i := 0; i < rb.count && len(result) < n; i++ {
		idx := (rb.head - 1 - i + rb.size) % rb.size
		if match(rb.events[idx]) {
			result = append(result, rb.events[idx])
		}
	}
	return result
}

// Count returns the number of buffered events.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// NoOpLogger discards all events.
type NoOpLogger struct{}

func (NoOpLogger) Log(Event)                                {}
func (NoOpLogger) Subscribe(Handler) func()                 { return func() {} }
func (NoOpLogger) SubscribeFiltered(Filter, Handler) func() { return func() {} }
func (NoOpLogger) Recent(int) []Event                       { return nil }
func (NoOpLogger) RecentByType(EventType, int) []Event      { return nil }
func (NoOpLogger) RecentByProperty(string, int) []Event     { return nil }
