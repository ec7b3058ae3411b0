package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"server/internal/domain"
)

// IntentRepositoryPG implements domain.IntentStore.
type IntentRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewIntentRepository creates an intent store backed by PostgreSQL.
func NewIntentRepository(pool *pgxpool.Pool) *IntentRepositoryPG {
	return &IntentRepositoryPG{pool: pool}
}

const intentColumns = `id, generation_id, amount, currency, status, payment_url, created_at, expires_at, settled_at`

// Create inserts a new payment intent.
func (r *IntentRepositoryPG) Create(ctx context.Context, intent *domain.PaymentIntent) error {
	query := `
INSERT INTO payment_intents (` + intentColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
`
	_, err := r.pool.Exec(ctx, query,
		intent.ID,
		intent.GenerationID,
		intent.Amount.String(),
		intent.Currency,
		string(intent.Status),
		intent.PaymentURL,
		intent.CreatedAt,
		intent.ExpiresAt,
		nullableTime(intent.SettledAt),
	)
	return err
}

// Get fetches an intent by id.
func (r *IntentRepositoryPG) Get(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	query := `
SELECT ` + intentColumns + `
FROM payment_intents
WHERE id = $1;
`
	return scanIntent(r.pool.QueryRow(ctx, query, id))
}

// Update applies fn under a row lock.
func (r *IntentRepositoryPG) Update(ctx context.Context, id string, fn func(*domain.PaymentIntent) error) (*domain.PaymentIntent, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
SELECT ` + intentColumns + `
FROM payment_intents
WHERE id = $1
FOR UPDATE;
`
	intent, err := scanIntent(tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if err := fn(intent); err != nil {
		return nil, err
	}

	update := `
UPDATE payment_intents
SET status = $2,
    settled_at = $3
WHERE id = $1;
`
	if _, err := tx.Exec(ctx, update, intent.ID, string(intent.Status), nullableTime(intent.SettledAt)); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return intent, nil
}

func scanIntent(row pgx.Row) (*domain.PaymentIntent, error) {
	var intent domain.PaymentIntent
	var amount, status string
	var settledAt *time.Time
	if err := row.Scan(
		&intent.ID,
		&intent.GenerationID,
		&amount,
		&intent.Currency,
		&status,
		&intent.PaymentURL,
		&intent.CreatedAt,
		&intent.ExpiresAt,
		&settledAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse intent amount: %w", err)
	}
	intent.Amount = parsed
	intent.Status = domain.IntentStatus(status)
	if settledAt != nil {
		intent.SettledAt = *settledAt
	}
	return &intent, nil
}

var _ domain.IntentStore = (*IntentRepositoryPG)(nil)
