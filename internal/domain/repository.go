package domain

import "context"

// GenerationStore persists generation requests keyed by id. Update applies
// fn under per-key mutual exclusion; the write is skipped when fn returns an
// error, and the error is propagated. Implementations must never let two
// concurrent Updates interleave on the same id.
type GenerationStore interface {
	Create(ctx context.Context, req *GenerationRequest) error
	Get(ctx context.Context, id string) (*GenerationRequest, error)
	Update(ctx context.Context, id string, fn func(*GenerationRequest) error) (*GenerationRequest, error)
	// ListInFlight returns ids of requests in a non-terminal state, oldest
	// first, capped at limit.
	ListInFlight(ctx context.Context, limit int) ([]string, error)
	CountByState(ctx context.Context) (map[State]int64, error)
}

// IntentStore persists payment intents keyed by id.
type IntentStore interface {
	Create(ctx context.Context, intent *PaymentIntent) error
	Get(ctx context.Context, id string) (*PaymentIntent, error)
	Update(ctx context.Context, id string, fn func(*PaymentIntent) error) (*PaymentIntent, error)
}

// CallbackStore persists provider callback records keyed by correlation id.
// Upsert is atomic per key; Get returns ErrNotFound for unknown or expired
// ids, which callers must treat as "not yet arrived".
type CallbackStore interface {
	Upsert(ctx context.Context, rec *CallbackRecord) error
	Get(ctx context.Context, correlationID string) (*CallbackRecord, error)
}
