package events

import (
	"encoding/json"
	"sync"
	"time"
)

// EventType identifies the kind of event.
type EventType string

const (
	EventRouteDecision       EventType = "route_decision"
	EventLearningRecorded    EventType = "learning_recorded"
	EventExperimentCreated   EventType = "experiment_created"
	EventExperimentStarted   EventType = "experiment_started"
	EventExperimentPaused    EventType = "experiment_paused"
	EventExperimentResumed   EventType = "experiment_resumed"
	EventExperimentStopped   EventType = "experiment_stopped"
	EventExperimentCompleted EventType = "experiment_completed"
	EventExperimentAnalyzed  EventType = "experiment_analyzed"
	EventExperimentDeleted   EventType = "experiment_deleted"
)

// Event is a single routing or experiment event published on the bus.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// Routing fields (populated for route/learning events).
	ProviderID string  `json:"provider_id,omitempty"`
	ModelID    string  `json:"model_id,omitempty"`
	Goal       string  `json:"goal,omitempty"`
	CostUSD    float64 `json:"cost_usd,omitempty"`
	LatencyMs  float64 `json:"latency_ms,omitempty"`
	Quality    float64 `json:"quality,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Fallback   bool    `json:"fallback,omitempty"`

	// Experiment fields (populated for experiment events).
	ExperimentID   string `json:"experiment_id,omitempty"`
	Variant        string `json:"variant,omitempty"`
	Recommendation string `json:"recommendation,omitempty"`
	Reason         string `json:"reason,omitempty"`
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

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	delete(b.subscribers, s)
	b.mu.Unlock()
	close(s.done)
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
