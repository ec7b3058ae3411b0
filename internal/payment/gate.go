// Package payment implements the pay-before-compute gate: it issues payment
// intents priced from the catalog, renders 402-style challenges, and checks
// settlement against the external facilitator.
package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"server/internal/domain"
)

// Evaluation is the outcome of a gate check for a new generation request.
type Evaluation struct {
	Required  bool
	Intent    *domain.PaymentIntent
	Challenge *Challenge
}

// GateOptions wires the gate's dependencies and policy knobs.
type GateOptions struct {
	Client   SettlementClient
	Intents  domain.IntentStore
	Policy   ExemptionPolicy
	Currency string
	TTL      time.Duration
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Gate enforces the payment requirement for generation requests.
type Gate struct {
	client   SettlementClient
	intents  domain.IntentStore
	policy   ExemptionPolicy
	currency string
	ttl      time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

// NewGate constructs a gate. Currency defaults to USDC and the intent TTL to
// fifteen minutes.
func NewGate(opts GateOptions) *Gate {
	policy := opts.Policy
	if policy == nil {
		policy = NoExemptions{}
	}
	currency := opts.Currency
	if currency == "" {
		currency = "USDC"
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Gate{
		client:   opts.Client,
		intents:  opts.Intents,
		policy:   policy,
		currency: currency,
		ttl:      ttl,
		logger:   opts.Logger,
		now:      now,
	}
}

// Evaluate decides whether the generation must pay before dispatch. When
// payment is required it creates a fresh pending intent priced exactly from
// the catalog descriptor and registers it with the facilitator.
func (g *Gate) Evaluate(ctx context.Context, generationID string, model domain.ModelDescriptor) (*Evaluation, error) {
	if reason, ok := g.policy.Exempt(model.ID); ok {
		g.logger.Info().
			Str("generation_id", generationID).
			Str("model", model.ID).
			Str("reason", reason).
			Msg("payment: exempt by policy")
		return &Evaluation{Required: false}, nil
	}

	now := g.now()
	intent := &domain.PaymentIntent{
		ID:           uuid.NewString(),
		GenerationID: generationID,
		Amount:       model.Price,
		Currency:     g.currency,
		Status:       domain.IntentPending,
		CreatedAt:    now,
		ExpiresAt:    now.Add(g.ttl),
	}
	paymentURL, err := g.client.CreateIntent(ctx, CreateIntentRequest{
		PaymentID: intent.ID,
		Amount:    intent.Amount,
		Currency:  intent.Currency,
		Reference: generationID,
		ExpiresAt: intent.ExpiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	intent.PaymentURL = paymentURL
	if err := g.intents.Create(ctx, intent); err != nil {
		return nil, fmt.Errorf("store payment intent: %w", err)
	}
	return &Evaluation{
		Required: true,
		Intent:   intent,
		Challenge: &Challenge{
			PaymentID:  intent.ID,
			Amount:     intent.Amount,
			Currency:   intent.Currency,
			PaymentURL: intent.PaymentURL,
		},
	}, nil
}

// Confirm checks settlement for the given intent. It is idempotent: an
// already-settled intent reports settled without touching the facilitator.
// Facilitator errors are reported as "not settled yet", never as a hard
// failure; once the expiry window passes the intent transitions to EXPIRED
// and a fresh Evaluate is required.
func (g *Gate) Confirm(ctx context.Context, paymentID string) (bool, error) {
	intent, err := g.intents.Get(ctx, paymentID)
	if err != nil {
		return false, err
	}
	switch intent.Status {
	case domain.IntentSettled:
		return true, nil
	case domain.IntentExpired:
		return false, nil
	}

	now := g.now()
	if intent.ExpiredAt(now) {
		_, err := g.intents.Update(ctx, paymentID, func(p *domain.PaymentIntent) error {
			if p.Status == domain.IntentPending {
				p.Status = domain.IntentExpired
			}
			return nil
		})
		return false, err
	}

	settled, err := g.client.IntentSettled(ctx, paymentID)
	if err != nil {
		g.logger.Warn().Err(err).Str("payment_id", paymentID).Msg("payment: settlement check failed")
		return false, nil
	}
	if !settled {
		return false, nil
	}
	updated, err := g.intents.Update(ctx, paymentID, func(p *domain.PaymentIntent) error {
		if p.Status == domain.IntentPending {
			p.Status = domain.IntentSettled
			p.SettledAt = now
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return updated.Status == domain.IntentSettled, nil
}

// Intent returns the stored intent for the given id.
func (g *Gate) Intent(ctx context.Context, paymentID string) (*domain.PaymentIntent, error) {
	return g.intents.Get(ctx, paymentID)
}
