package memrepo

import (
	"context"
	"sync"

	"server/internal/domain"
)

// IntentStore implements domain.IntentStore over a locked map.
type IntentStore struct {
	mu      sync.Mutex
	intents map[string]*domain.PaymentIntent
}

// NewIntentStore creates an empty in-memory intent store.
func NewIntentStore() *IntentStore {
	return &IntentStore{intents: make(map[string]*domain.PaymentIntent)}
}

// Create inserts a new payment intent.
func (s *IntentStore) Create(ctx context.Context, intent *domain.PaymentIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *intent
	s.intents[intent.ID] = &cp
	return nil
}

// Get returns a copy of the stored intent.
func (s *IntentStore) Get(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	intent, ok := s.intents[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *intent
	return &cp, nil
}

// Update applies fn atomically per key.
func (s *IntentStore) Update(ctx context.Context, id string, fn func(*domain.PaymentIntent) error) (*domain.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	intent, ok := s.intents[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *intent
	if err := fn(&cp); err != nil {
		return nil, err
	}
	s.intents[id] = &cp
	out := cp
	return &out, nil
}

var _ domain.IntentStore = (*IntentStore)(nil)
