package memrepo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"server/internal/domain"
)

func TestGenerationStoreRoundTrip(t *testing.T) {
	store := NewGenerationStore()
	ctx := context.Background()

	req := &domain.GenerationRequest{
		ID:        "gen-1",
		ModelID:   "flux-pro",
		Prompt:    "a lighthouse",
		State:     domain.StateCreated,
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.Create(ctx, req))

	got, err := store.Get(ctx, "gen-1")
	require.NoError(t, err)
	assert.Equal(t, "flux-pro", got.ModelID)

	// Mutating the returned copy must not leak into the store.
	got.State = domain.StateCompleted
	again, err := store.Get(ctx, "gen-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateCreated, again.State)
}

func TestGenerationStoreGetMissing(t *testing.T) {
	store := NewGenerationStore()
	_, err := store.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGenerationStoreUpdate(t *testing.T) {
	store := NewGenerationStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &domain.GenerationRequest{ID: "gen-1", State: domain.StateCreated}))

	updated, err := store.Update(ctx, "gen-1", func(r *domain.GenerationRequest) error {
		r.State = domain.StateDispatching
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StateDispatching, updated.State)
	assert.False(t, updated.UpdatedAt.IsZero())
}

func TestGenerationStoreUpdateErrorDropsWrite(t *testing.T) {
	store := NewGenerationStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &domain.GenerationRequest{ID: "gen-1", State: domain.StateCreated}))

	boom := errors.New("reject")
	_, err := store.Update(ctx, "gen-1", func(r *domain.GenerationRequest) error {
		r.State = domain.StateCompleted
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := store.Get(ctx, "gen-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateCreated, got.State)
}

func TestGenerationStoreListInFlight(t *testing.T) {
	store := NewGenerationStore()
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, store.Create(ctx, &domain.GenerationRequest{ID: "newest", State: domain.StateDispatching, CreatedAt: base.Add(2 * time.Second)}))
	require.NoError(t, store.Create(ctx, &domain.GenerationRequest{ID: "oldest", State: domain.StateAwaitingResult, CreatedAt: base}))
	require.NoError(t, store.Create(ctx, &domain.GenerationRequest{ID: "done", State: domain.StateCompleted, CreatedAt: base.Add(time.Second)}))

	ids, err := store.ListInFlight(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"oldest", "newest"}, ids)

	ids, err = store.ListInFlight(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"oldest"}, ids)
}

func TestGenerationStoreCountByState(t *testing.T) {
	store := NewGenerationStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &domain.GenerationRequest{ID: "a", State: domain.StateCompleted}))
	require.NoError(t, store.Create(ctx, &domain.GenerationRequest{ID: "b", State: domain.StateCompleted}))
	require.NoError(t, store.Create(ctx, &domain.GenerationRequest{ID: "c", State: domain.StateFailed}))

	counts, err := store.CountByState(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[domain.StateCompleted])
	assert.Equal(t, int64(1), counts[domain.StateFailed])
}

func TestCallbackStoreTTL(t *testing.T) {
	store := NewCallbackStore(50 * time.Millisecond)
	ctx := context.Background()

	rec := &domain.CallbackRecord{CorrelationID: "pred-1", Status: "succeeded", ReceivedAt: time.Now()}
	require.NoError(t, store.Upsert(ctx, rec))

	got, err := store.Get(ctx, "pred-1")
	require.NoError(t, err)
	assert.Equal(t, "succeeded", got.Status)

	time.Sleep(80 * time.Millisecond)

	_, err = store.Get(ctx, "pred-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
