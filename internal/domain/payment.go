package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// IntentStatus enumerates payment intent lifecycle states.
type IntentStatus string

const (
	IntentPending IntentStatus = "PENDING"
	IntentSettled IntentStatus = "SETTLED"
	IntentExpired IntentStatus = "EXPIRED"
)

// PaymentIntent represents a requested-but-not-yet-confirmed payment. An
// intent is one-to-one with a generation request at creation time, but a
// request may acquire a fresh intent after the prior one expires.
type PaymentIntent struct {
	ID           string
	GenerationID string
	Amount       decimal.Decimal
	Currency     string
	Status       IntentStatus
	PaymentURL   string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	SettledAt    time.Time
}

// ExpiredAt reports whether the intent is past its expiry window at t
// without having settled.
func (p *PaymentIntent) ExpiredAt(t time.Time) bool {
	return p.Status == IntentPending && t.After(p.ExpiresAt)
}
