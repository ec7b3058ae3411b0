package memrepo

import (
	"context"
	"sync"
	"time"

	"server/internal/domain"
)

// CallbackStore implements domain.CallbackStore over a locked map with an
// optional per-record TTL. A zero TTL keeps records forever.
type CallbackStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	records map[string]*domain.CallbackRecord
}

// NewCallbackStore creates an in-memory callback store.
func NewCallbackStore(ttl time.Duration) *CallbackStore {
	return &CallbackStore{ttl: ttl, records: make(map[string]*domain.CallbackRecord)}
}

// Upsert stores the record, replacing any prior record for the same
// correlation id.
func (s *CallbackStore) Upsert(ctx context.Context, rec *domain.CallbackRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	cp.Payload = append([]byte(nil), rec.Payload...)
	s.records[rec.CorrelationID] = &cp
	return nil
}

// Get returns the stored record. A record past its TTL reads as
// domain.ErrNotFound, indistinguishable from "not yet arrived".
func (s *CallbackStore) Get(ctx context.Context, correlationID string) (*domain.CallbackRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[correlationID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if s.ttl > 0 && time.Since(rec.ReceivedAt) > s.ttl {
		delete(s.records, correlationID)
		return nil, domain.ErrNotFound
	}
	cp := *rec
	cp.Payload = append([]byte(nil), rec.Payload...)
	return &cp, nil
}

var _ domain.CallbackStore = (*CallbackStore)(nil)
