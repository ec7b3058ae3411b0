package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// GenerationRepositoryPG implements domain.GenerationStore.
type GenerationRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewGenerationRepository creates a generation store backed by PostgreSQL.
func NewGenerationRepository(pool *pgxpool.Pool) *GenerationRepositoryPG {
	return &GenerationRepositoryPG{pool: pool}
}

const generationColumns = `id, model_id, prompt, modality, state, payment_id, correlation_id, result_url, failure_kind, failure_detail, country, dispatch_attempts, next_dispatch_at, created_at, updated_at`

// Create inserts a new generation request record.
func (r *GenerationRepositoryPG) Create(ctx context.Context, req *domain.GenerationRequest) error {
	query := `
INSERT INTO generation_requests (` + generationColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15);
`
	_, err := r.pool.Exec(ctx, query,
		req.ID,
		req.ModelID,
		req.Prompt,
		string(req.Modality),
		string(req.State),
		nullableText(req.PaymentID),
		nullableText(req.CorrelationID),
		nullableText(req.ResultURL),
		nullableText(string(req.FailureKind)),
		nullableText(req.FailureDetail),
		nullableText(req.Country),
		req.DispatchAttempts,
		nullableTime(req.NextDispatchAt),
		req.CreatedAt,
		req.UpdatedAt,
	)
	return err
}

// Get fetches a request by id.
func (r *GenerationRepositoryPG) Get(ctx context.Context, id string) (*domain.GenerationRequest, error) {
	query := `
SELECT ` + generationColumns + `
FROM generation_requests
WHERE id = $1;
`
	return scanGeneration(r.pool.QueryRow(ctx, query, id))
}

// Update applies fn inside a transaction holding a row lock so concurrent
// writers for the same id serialize.
func (r *GenerationRepositoryPG) Update(ctx context.Context, id string, fn func(*domain.GenerationRequest) error) (*domain.GenerationRequest, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
SELECT ` + generationColumns + `
FROM generation_requests
WHERE id = $1
FOR UPDATE;
`
	req, err := scanGeneration(tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if err := fn(req); err != nil {
		return nil, err
	}
	req.UpdatedAt = time.Now()

	update := `
UPDATE generation_requests
SET state = $2,
    payment_id = $3,
    correlation_id = $4,
    result_url = $5,
    failure_kind = $6,
    failure_detail = $7,
    dispatch_attempts = $8,
    next_dispatch_at = $9,
    updated_at = $10
WHERE id = $1;
`
	if _, err := tx.Exec(ctx, update,
		req.ID,
		string(req.State),
		nullableText(req.PaymentID),
		nullableText(req.CorrelationID),
		nullableText(req.ResultURL),
		nullableText(string(req.FailureKind)),
		nullableText(req.FailureDetail),
		req.DispatchAttempts,
		nullableTime(req.NextDispatchAt),
		req.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return req, nil
}

// ListInFlight returns non-terminal request ids, oldest first.
func (r *GenerationRepositoryPG) ListInFlight(ctx context.Context, limit int) ([]string, error) {
	query := `
SELECT id
FROM generation_requests
WHERE state NOT IN ('COMPLETED', 'FAILED')
ORDER BY created_at
LIMIT $1;
`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountByState returns request counts grouped by state.
func (r *GenerationRepositoryPG) CountByState(ctx context.Context) (map[domain.State]int64, error) {
	query := `
SELECT state, count(*)
FROM generation_requests
GROUP BY state;
`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[domain.State]int64)
	for rows.Next() {
		var state string
		var n int64
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[domain.State(state)] = n
	}
	return counts, rows.Err()
}

func scanGeneration(row pgx.Row) (*domain.GenerationRequest, error) {
	var req domain.GenerationRequest
	var modality, state string
	var paymentID, correlationID, resultURL, failureKind, failureDetail, country *string
	var nextDispatchAt *time.Time
	if err := row.Scan(
		&req.ID,
		&req.ModelID,
		&req.Prompt,
		&modality,
		&state,
		&paymentID,
		&correlationID,
		&resultURL,
		&failureKind,
		&failureDetail,
		&country,
		&req.DispatchAttempts,
		&nextDispatchAt,
		&req.CreatedAt,
		&req.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	req.Modality = domain.Modality(modality)
	req.State = domain.State(state)
	req.PaymentID = deref(paymentID)
	req.CorrelationID = deref(correlationID)
	req.ResultURL = deref(resultURL)
	req.FailureKind = domain.FailureKind(deref(failureKind))
	req.FailureDetail = deref(failureDetail)
	req.Country = deref(country)
	if nextDispatchAt != nil {
		req.NextDispatchAt = *nextDispatchAt
	}
	return &req, nil
}

func nullableText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var _ domain.GenerationStore = (*GenerationRepositoryPG)(nil)
