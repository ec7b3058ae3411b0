// Package redisrepo stores provider callback records in Redis. Each record
// lives under its own key with a TTL, which bounds memory for callbacks that
// never get claimed; after expiry a lookup miss is indistinguishable from
// "not yet arrived", so callers must lean on the request state machine.
package redisrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"server/internal/domain"
)

const keyPrefix = "callback:"

// CallbackStore implements domain.CallbackStore over Redis.
type CallbackStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCallbackStore connects to Redis using the given URL
// (redis://[:password@]host:port/db). TTL defaults to 24h.
func NewCallbackStore(ctx context.Context, url string, ttl time.Duration) (*CallbackStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CallbackStore{client: client, ttl: ttl}, nil
}

// Upsert stores the record under its correlation id, refreshing the TTL.
// Redis SET is atomic per key, which serializes concurrent writers.
func (s *CallbackStore) Upsert(ctx context.Context, rec *domain.CallbackRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis: encode callback record: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+rec.CorrelationID, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis: store callback record: %w", err)
	}
	return nil
}

// Get fetches the record for the given correlation id.
func (s *CallbackStore) Get(ctx context.Context, correlationID string) (*domain.CallbackRecord, error) {
	raw, err := s.client.Get(ctx, keyPrefix+correlationID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: load callback record: %w", err)
	}
	var rec domain.CallbackRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("redis: decode callback record: %w", err)
	}
	return &rec, nil
}

// Close releases the underlying client.
func (s *CallbackStore) Close() error {
	return s.client.Close()
}

var _ domain.CallbackStore = (*CallbackStore)(nil)
