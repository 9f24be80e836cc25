package sync

import (
	"context"
	"sync"

	"github.com/ihep/integration-gateway/internal/canonical"
)

// LocalStore is the platform-side resource collaborator the orchestrator
// merges pulled resources into. Keys are canonical Resource.Key values.
type LocalStore interface {
	Get(ctx context.Context, key string) (canonical.Resource, bool, error)
	Upsert(ctx context.Context, res canonical.Resource) error
	// FlagConflict records a manual-strategy pair for human review.
	FlagConflict(ctx context.Context, decision Decision) error
}

// Outbox supplies the local resources pending outbound push.
type Outbox interface {
	Pending(ctx context.Context, partnerID string, types []canonical.ResourceType) ([]canonical.Resource, error)
	MarkDelivered(ctx context.Context, partnerID string, res canonical.Resource) error
}

// InMemoryLocalStore is a thread-safe in-memory LocalStore.
type InMemoryLocalStore struct {
	mu        sync.RWMutex
	resources map[string]canonical.Resource
	conflicts []Decision
}

func NewInMemoryLocalStore() *InMemoryLocalStore {
	return &InMemoryLocalStore{resources: make(map[string]canonical.Resource)}
}

func (s *InMemoryLocalStore) Get(_ context.Context, key string) (canonical.Resource, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.resources[key]
	return res, ok, nil
}

func (s *InMemoryLocalStore) Upsert(_ context.Context, res canonical.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[res.Key()] = res
	return nil
}

func (s *InMemoryLocalStore) FlagConflict(_ context.Context, decision Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts = append(s.conflicts, decision)
	return nil
}

// Conflicts returns the flagged pairs recorded so far.
func (s *InMemoryLocalStore) Conflicts() []Decision {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Decision, len(s.conflicts))
	copy(out, s.conflicts)
	return out
}

// InMemoryOutbox is a thread-safe in-memory Outbox.
type InMemoryOutbox struct {
	mu      sync.Mutex
	pending map[string][]canonical.Resource
}

func NewInMemoryOutbox() *InMemoryOutbox {
	return &InMemoryOutbox{pending: make(map[string][]canonical.Resource)}
}

// Enqueue adds a resource to a partner's pending set.
func (o *InMemoryOutbox) Enqueue(partnerID string, res canonical.Resource) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending[partnerID] = append(o.pending[partnerID], res)
}

func (o *InMemoryOutbox) Pending(_ context.Context, partnerID string, types []canonical.ResourceType) ([]canonical.Resource, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []canonical.Resource
	for _, res := range o.pending[partnerID] {
		if len(types) == 0 || containsType(types, res.Type) {
			out = append(out, res)
		}
	}
	return out, nil
}

func (o *InMemoryOutbox) MarkDelivered(_ context.Context, partnerID string, res canonical.Resource) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	list := o.pending[partnerID]
	for i, r := range list {
		if r.Key() == res.Key() {
			o.pending[partnerID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	return nil
}

func containsType(types []canonical.ResourceType, t canonical.ResourceType) bool {
	for _, v := range types {
		if v == t {
			return true
		}
	}
	return false
}
