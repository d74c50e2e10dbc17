// Package events is the in-process pub/sub spine between the router and the
// observers that must not slow it down (analytics, metrics, streaming
// dashboards). Publishing never blocks; slow subscribers lose events.
package events

import (
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// EventType identifies the kind of event.
type EventType string

const (
	EventRouteSuccess  EventType = "route_success"
	EventRouteError    EventType = "route_error"
	EventRouteFallback EventType = "route_fallback"
	EventBreakerChange EventType = "breaker_state_change"
	EventSourceSynced  EventType = "source_synced"
	EventSourceFailed  EventType = "source_failed"
	EventModelCreated  EventType = "model_created"
	EventBudgetAlert   EventType = "budget_threshold"
)

// Event is a single gateway event published on the bus.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// Routing fields (populated for route events).
	RequestID        string  `json:"request_id,omitempty"`
	ClientID         string  `json:"client_id,omitempty"`
	Profile          string  `json:"profile,omitempty"`
	ModelID          int64   `json:"model_id,omitempty"`
	ModelName        string  `json:"model_name,omitempty"`
	Fallback         bool    `json:"fallback,omitempty"`
	LatencyMS        float64 `json:"latency_ms,omitempty"`
	PromptTokens     int64   `json:"prompt_tokens,omitempty"`
	CompletionTokens int64   `json:"completion_tokens,omitempty"`
	EstimatedCost    float64 `json:"estimated_cost,omitempty"`
	ErrorClass       string  `json:"error_class,omitempty"`
	ErrorMsg         string  `json:"error_msg,omitempty"`

	// Breaker fields (populated for breaker_state_change).
	OldState string `json:"old_state,omitempty"`
	NewState string `json:"new_state,omitempty"`

	// Source fields (populated for source events).
	Source          string `json:"source,omitempty"`
	MetricsRecorded int    `json:"metrics_recorded,omitempty"`

	// Budget fields (populated for budget_threshold).
	Window    string  `json:"window,omitempty"`
	SpentUSD  float64 `json:"spent_usd,omitempty"`
	LimitUSD  float64 `json:"limit_usd,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
}

// JSON returns the event as a JSON byte slice.
func (e *Event) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Subscriber receives events on a channel.
type Subscriber struct {
	C    chan Event
	done chan struct{}
}

// Done is closed when the subscriber is removed from the bus.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Bus is an in-memory pub/sub event bus.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*Subscriber]struct{}
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[*Subscriber]struct{}),
	}
}

// Subscribe creates a new subscriber with a buffered channel.
func (b *Bus) Subscribe(bufSize int) *Subscriber {
	if bufSize <= 0 {
		bufSize = 64
	}
	s := &Subscriber{
		C:    make(chan Event, bufSize),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.subscribers[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Unsubscribe removes a subscriber and closes its done channel.
func (b *Bus) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	_, ok := b.subscribers[s]
	delete(b.subscribers, s)
	b.mu.Unlock()
	if ok {
		close(s.done)
	}
}

// Publish sends an event to all subscribers (non-blocking).
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subscribers {
		select {
		case s.C <- e:
		default:
			// Drop event if subscriber is slow (back-pressure).
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
