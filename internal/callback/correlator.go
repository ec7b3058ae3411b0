// Package callback receives asynchronous provider completion notifications
// and makes them retrievable by correlation id for the polling side.
package callback

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
)

// ErrMalformed indicates a payload that decodes as JSON but carries no
// usable correlation id. Such callbacks are acknowledged toward the provider
// and dropped without touching any request state.
var ErrMalformed = errors.New("callback: payload missing correlation id")

// Correlator stores provider callbacks keyed by correlation id. A repeated
// callback for the same id (progress update, then final result) refreshes
// the stored record; last write wins by receipt time.
type Correlator struct {
	store  domain.CallbackStore
	logger zerolog.Logger
	now    func() time.Time
}

// NewCorrelator wires a correlator over the given store.
func NewCorrelator(store domain.CallbackStore, logger zerolog.Logger) *Correlator {
	return &Correlator{store: store, logger: logger, now: time.Now}
}

// Record parses the raw provider payload and upserts it. Orphan callbacks
// whose correlation id matches no in-flight request are stored all the same;
// the join happens later from the polling side.
func (c *Correlator) Record(ctx context.Context, payload []byte) (*domain.CallbackRecord, error) {
	rec, err := Parse(payload)
	if err != nil {
		return nil, err
	}
	rec.ReceivedAt = c.now()
	if err := c.store.Upsert(ctx, rec); err != nil {
		return nil, err
	}
	c.logger.Info().
		Str("correlation_id", rec.CorrelationID).
		Str("status", rec.Status).
		Bool("has_result", rec.ResultURL != "").
		Msg("callback recorded")
	return rec, nil
}

// Lookup returns the stored record for the given correlation id, or
// domain.ErrNotFound when none has arrived (or it already expired).
func (c *Correlator) Lookup(ctx context.Context, correlationID string) (*domain.CallbackRecord, error) {
	return c.store.Get(ctx, correlationID)
}

// Parse extracts the correlation id, status, and result reference from a raw
// provider payload. Providers are not consistent about field names, so a
// small set of spellings is accepted for each.
func Parse(payload []byte) (*domain.CallbackRecord, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, err
	}
	rec := &domain.CallbackRecord{Payload: append(json.RawMessage(nil), payload...)}
	rec.CorrelationID = firstString(fields, "correlation_id", "correlationId", "task_id", "prediction_id", "id")
	if rec.CorrelationID == "" {
		return nil, ErrMalformed
	}
	rec.Status = normalizeStatus(firstString(fields, "status", "state"))
	rec.ResultURL = firstString(fields, "result", "result_url", "output", "url")
	rec.Error = firstString(fields, "error", "detail", "failure_reason")
	return rec, nil
}

func firstString(fields map[string]json.RawMessage, keys ...string) string {
	for _, key := range keys {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func normalizeStatus(status string) string {
	switch strings.ToLower(status) {
	case "done", "succeeded", "success", "completed":
		return "succeeded"
	case "failed", "error":
		return "failed"
	case "canceled", "cancelled":
		return "canceled"
	default:
		return strings.ToLower(status)
	}
}
