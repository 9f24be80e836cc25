// Package webhook ingests partner event notifications: it authenticates the
// raw request body with an HMAC signature, records the event, routes it to a
// registered handler with bounded retries, and publishes every processed
// event to the durable queue.
package webhook

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an ingested event. completed, failed and
// unhandled are terminal.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusUnhandled  Status = "unhandled"
)

// Event is one received webhook notification.
type Event struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	EventType  string    `json:"event_type"`
	Payload    []byte    `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
	Status     Status    `json:"status"`
	RetryCount int       `json:"retry_count"`
	LastError  string    `json:"last_error,omitempty"`
}

// NewEvent builds a pending event with a fresh id.
func NewEvent(source, eventType string, payload []byte) *Event {
	return &Event{
		ID:         uuid.New().String(),
		Source:     source,
		EventType:  eventType,
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
		Status:     StatusPending,
	}
}

// EventStore persists events through their lifecycle.
type EventStore interface {
	Create(ctx context.Context, evt *Event) error
	Update(ctx context.Context, evt *Event) error
	GetByID(ctx context.Context, id string) (*Event, error)
	ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*Event, int, error)
}

// InMemoryEventStore is a thread-safe in-memory implementation of EventStore,
// suitable for development and testing.
type InMemoryEventStore struct {
	mu     sync.RWMutex
	events map[string]*Event
	order  []string
}

func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{events: make(map[string]*Event)}
}

func (s *InMemoryEventStore) Create(_ context.Context, evt *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.events[evt.ID]; exists {
		return fmt.Errorf("event %q already exists", evt.ID)
	}
	cp := *evt
	s.events[evt.ID] = &cp
	s.order = append(s.order, evt.ID)
	return nil
}

func (s *InMemoryEventStore) Update(_ context.Context, evt *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.events[evt.ID]; !exists {
		return fmt.Errorf("event %q not found", evt.ID)
	}
	cp := *evt
	s.events[evt.ID] = &cp
	return nil
}

func (s *InMemoryEventStore) GetByID(_ context.Context, id string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	evt, ok := s.events[id]
	if !ok {
		return nil, fmt.Errorf("event %q not found", id)
	}
	cp := *evt
	return &cp, nil
}

func (s *InMemoryEventStore) ListByStatus(_ context.Context, status Status, limit, offset int) ([]*Event, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*Event
	for _, id := range s.order {
		if evt := s.events[id]; evt.Status == status {
			cp := *evt
			matched = append(matched, &cp)
		}
	}
	total := len(matched)
	if offset > total {
		offset = total
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total, nil
}
