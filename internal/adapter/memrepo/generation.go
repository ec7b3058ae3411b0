// Package memrepo provides in-process store implementations with per-key
// atomic upsert, used by tests and when the service runs without external
// backing stores.
package memrepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"server/internal/domain"
)

// GenerationStore implements domain.GenerationStore over a locked map.
type GenerationStore struct {
	mu       sync.Mutex
	requests map[string]*domain.GenerationRequest
}

// NewGenerationStore creates an empty in-memory generation store.
func NewGenerationStore() *GenerationStore {
	return &GenerationStore{requests: make(map[string]*domain.GenerationRequest)}
}

// Create inserts a new request record.
func (s *GenerationStore) Create(ctx context.Context, req *domain.GenerationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *req
	s.requests[req.ID] = &cp
	return nil
}

// Get returns a copy of the stored request.
func (s *GenerationStore) Get(ctx context.Context, id string) (*domain.GenerationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *req
	return &cp, nil
}

// Update applies fn under the store lock so concurrent writers for the same
// id never interleave. The write is dropped when fn errors.
func (s *GenerationStore) Update(ctx context.Context, id string, fn func(*domain.GenerationRequest) error) (*domain.GenerationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *req
	if err := fn(&cp); err != nil {
		return nil, err
	}
	cp.UpdatedAt = time.Now()
	s.requests[id] = &cp
	out := cp
	return &out, nil
}

// ListInFlight returns non-terminal request ids, oldest first.
func (s *GenerationStore) ListInFlight(ctx context.Context, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var inflight []*domain.GenerationRequest
	for _, req := range s.requests {
		if !req.State.Terminal() {
			inflight = append(inflight, req)
		}
	}
	sort.Slice(inflight, func(i, j int) bool {
		return inflight[i].CreatedAt.Before(inflight[j].CreatedAt)
	})
	ids := make([]string, 0, len(inflight))
	for _, req := range inflight {
		if limit > 0 && len(ids) >= limit {
			break
		}
		ids = append(ids, req.ID)
	}
	return ids, nil
}

// CountByState returns request counts grouped by state.
func (s *GenerationStore) CountByState(ctx context.Context) (map[domain.State]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[domain.State]int64)
	for _, req := range s.requests {
		counts[req.State]++
	}
	return counts, nil
}

var _ domain.GenerationStore = (*GenerationStore)(nil)
