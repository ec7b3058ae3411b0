package domain

import (
	"encoding/json"
	"time"
)

// CallbackRecord stores one provider completion notification keyed by the
// provider's correlation id. A duplicate callback for the same id refreshes
// the record (idempotent upsert, last write wins by receipt time). Records
// are kept even when the correlation id matches no in-flight request, so
// orphan callbacks stay inspectable.
type CallbackRecord struct {
	CorrelationID string          `json:"correlation_id"`
	Payload       json.RawMessage `json:"payload"`
	Status        string          `json:"status"`
	ResultURL     string          `json:"result_url"`
	Error         string          `json:"error"`
	ReceivedAt    time.Time       `json:"received_at"`
}

// Failed reports whether the provider's own status field indicates a
// provider-side failure.
func (c *CallbackRecord) Failed() bool {
	switch c.Status {
	case "failed", "error", "canceled", "cancelled":
		return true
	}
	return false
}
