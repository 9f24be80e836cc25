// Package sync coordinates bidirectional resource synchronization between the
// platform and its partners: per-partner state with persisted cursors, a pure
// conflict resolver, and an orchestrator enforcing at most one active sync
// per partner.
package sync

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Status is a partner's sync health state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusError   Status = "error"
)

// Direction selects which way a sync attempt moves data.
type Direction string

const (
	DirectionInbound       Direction = "inbound"
	DirectionOutbound      Direction = "outbound"
	DirectionBidirectional Direction = "bidirectional"
)

// State is the per-partner sync record. Exactly one exists per partner; the
// orchestrator is its only writer.
type State struct {
	PartnerID           string     `json:"partner_id"`
	LastInboundCursor   string     `json:"last_inbound_cursor,omitempty"`
	LastOutboundCursor  string     `json:"last_outbound_cursor,omitempty"`
	LastInboundSyncAt   *time.Time `json:"last_inbound_sync_at,omitempty"`
	LastOutboundSyncAt  *time.Time `json:"last_outbound_sync_at,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastError           string     `json:"last_error,omitempty"`
	Status              Status     `json:"status"`
}

// Result summarizes one sync attempt in one direction. Immutable once built.
type Result struct {
	PartnerID   string    `json:"partner_id"`
	Direction   Direction `json:"direction"`
	Processed   int       `json:"processed"`
	Created     int       `json:"created"`
	Updated     int       `json:"updated"`
	Failed      int       `json:"failed"`
	Unsupported int       `json:"unsupported"`
	Conflicts   int       `json:"conflicts"`
	DurationMs  int64     `json:"duration_ms"`
	Error       string    `json:"error,omitempty"`
}

// Store persists per-partner sync state.
type Store interface {
	// Get returns the partner's state, creating an idle record on first use.
	Get(ctx context.Context, partnerID string) (*State, error)
	Save(ctx context.Context, state *State) error
}

// InMemoryStore is a thread-safe in-memory Store, suitable for development
// and testing.
type InMemoryStore struct {
	mu     sync.RWMutex
	states map[string]*State
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{states: make(map[string]*State)}
}

func (s *InMemoryStore) Get(_ context.Context, partnerID string) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[partnerID]
	if !ok {
		st = &State{PartnerID: partnerID, Status: StatusIdle}
		s.states[partnerID] = st
	}
	cp := *st
	return &cp, nil
}

func (s *InMemoryStore) Save(_ context.Context, state *State) error {
	if state.PartnerID == "" {
		return fmt.Errorf("sync state missing partner id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *state
	s.states[state.PartnerID] = &cp
	return nil
}
