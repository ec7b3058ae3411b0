// Package generation owns the request state machine:
//
//	CREATED -> AWAITING_PAYMENT -> DISPATCHING -> AWAITING_RESULT -> COMPLETED
//
// with FAILED as the terminal error state. Transitions are driven lazily on
// read (CheckStatus) and by the worker sweep; there is no per-request
// background goroutine.
package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"server/internal/callback"
	"server/internal/catalog"
	"server/internal/domain"
	"server/internal/payment"
)

// errStateChanged aborts a guarded store update when another writer moved
// the request first.
var errStateChanged = errors.New("state changed concurrently")

// Options wires the orchestrator's collaborators.
type Options struct {
	Catalog    *catalog.Catalog
	Gate       *payment.Gate
	Dispatcher *Dispatcher
	Requests   domain.GenerationStore
	Correlator *callback.Correlator
	// ResultTTL bounds how long a request may sit in AWAITING_RESULT before
	// it fails with result_timeout. Zero disables the bound.
	ResultTTL  time.Duration
	SweepLimit int
	Logger     zerolog.Logger
	Now        func() time.Time
}

// Orchestrator composes catalog, gate, dispatcher, and correlator into the
// end-to-end request lifecycle.
type Orchestrator struct {
	catalog    *catalog.Catalog
	gate       *payment.Gate
	dispatcher *Dispatcher
	requests   domain.GenerationStore
	correlator *callback.Correlator
	resultTTL  time.Duration
	sweepLimit int
	logger     zerolog.Logger
	now        func() time.Time
	advancing  singleflight.Group
}

// NewOrchestrator constructs an orchestrator.
func NewOrchestrator(opts Options) *Orchestrator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	sweepLimit := opts.SweepLimit
	if sweepLimit <= 0 {
		sweepLimit = 256
	}
	return &Orchestrator{
		catalog:    opts.Catalog,
		gate:       opts.Gate,
		dispatcher: opts.Dispatcher,
		requests:   opts.Requests,
		correlator: opts.Correlator,
		resultTTL:  opts.ResultTTL,
		sweepLimit: sweepLimit,
		logger:     opts.Logger,
		now:        now,
	}
}

// StartInput carries the client's inputs for a new generation.
type StartInput struct {
	ModelID string
	Prompt  string
	Country string
}

// StartResult is the synchronous outcome of Start. Challenge is non-nil
// exactly when payment is required.
type StartResult struct {
	Request   *domain.GenerationRequest
	Challenge *payment.Challenge
}

// Start creates a new generation request. An unknown model id yields a
// request already in FAILED(unknown_model) and never creates a payment
// intent; a payable model yields AWAITING_PAYMENT plus a 402 challenge; an
// exempt model goes straight to dispatch.
func (o *Orchestrator) Start(ctx context.Context, in StartInput) (*StartResult, error) {
	now := o.now()
	req := &domain.GenerationRequest{
		ID:        uuid.NewString(),
		ModelID:   in.ModelID,
		Prompt:    in.Prompt,
		State:     domain.StateCreated,
		Country:   in.Country,
		CreatedAt: now,
		UpdatedAt: now,
	}

	model, err := o.catalog.PriceOf(in.ModelID)
	if errors.Is(err, domain.ErrNotFound) {
		req.Fail(domain.FailureUnknownModel, fmt.Sprintf("model %q is not in the catalog", in.ModelID))
		if err := o.requests.Create(ctx, req); err != nil {
			return nil, err
		}
		return &StartResult{Request: req}, nil
	}
	if err != nil {
		return nil, err
	}
	req.Modality = model.Modality

	eval, err := o.gate.Evaluate(ctx, req.ID, model)
	if err != nil {
		return nil, err
	}
	if eval.Required {
		req.State = domain.StateAwaitingPayment
		req.PaymentID = eval.Intent.ID
		if err := o.requests.Create(ctx, req); err != nil {
			return nil, err
		}
		return &StartResult{Request: req, Challenge: eval.Challenge}, nil
	}

	req.State = domain.StateDispatching
	if err := o.requests.Create(ctx, req); err != nil {
		return nil, err
	}
	advanced, err := o.advance(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return &StartResult{Request: advanced}, nil
}

// CheckStatus returns the current request state, driving any pending lazy
// transitions first. It is the only call a polling client repeats.
func (o *Orchestrator) CheckStatus(ctx context.Context, id string) (*domain.GenerationRequest, error) {
	return o.advance(ctx, id)
}

// ConfirmPayment checks settlement for the intent and, when settled,
// advances the linked generation toward dispatch. Safe to call repeatedly.
func (o *Orchestrator) ConfirmPayment(ctx context.Context, paymentID string) (bool, *domain.GenerationRequest, error) {
	settled, err := o.gate.Confirm(ctx, paymentID)
	if err != nil {
		return false, nil, err
	}
	intent, err := o.gate.Intent(ctx, paymentID)
	if err != nil {
		return false, nil, err
	}
	req, err := o.advance(ctx, intent.GenerationID)
	if errors.Is(err, domain.ErrNotFound) {
		return settled, nil, nil
	}
	if err != nil {
		return settled, nil, err
	}
	return settled, req, nil
}

// Retry creates a brand-new request for a generation that failed with
// dispatch_exhausted, reusing the already-settled payment intent. Terminal
// records are never mutated in place, which keeps the correlation-id to
// request mapping unambiguous.
func (o *Orchestrator) Retry(ctx context.Context, id string) (*domain.GenerationRequest, error) {
	prior, err := o.requests.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if prior.State != domain.StateFailed || prior.FailureKind != domain.FailureDispatchExhausted {
		return nil, domain.ErrNotRetryable
	}
	if prior.PaymentID != "" {
		intent, err := o.gate.Intent(ctx, prior.PaymentID)
		if err != nil {
			return nil, err
		}
		if intent.Status != domain.IntentSettled {
			return nil, domain.ErrNotRetryable
		}
	}

	now := o.now()
	fresh := &domain.GenerationRequest{
		ID:        uuid.NewString(),
		ModelID:   prior.ModelID,
		Prompt:    prior.Prompt,
		Modality:  prior.Modality,
		State:     domain.StateDispatching,
		PaymentID: prior.PaymentID,
		Country:   prior.Country,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.requests.Create(ctx, fresh); err != nil {
		return nil, err
	}
	o.logger.Info().
		Str("generation_id", fresh.ID).
		Str("prior_id", prior.ID).
		Msg("generation: manual retry")
	return o.advance(ctx, fresh.ID)
}

// Sweep advances every in-flight request once. The worker runs this on a
// ticker so payment expiry, dispatch retries, and result timeouts fire even
// when nobody polls.
func (o *Orchestrator) Sweep(ctx context.Context) error {
	ids, err := o.requests.ListInFlight(ctx, o.sweepLimit)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := o.advance(ctx, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
			o.logger.Error().Err(err).Str("generation_id", id).Msg("generation: sweep advance failed")
		}
	}
	return nil
}

// advance drives lazy transitions for one request. Concurrent calls for the
// same id collapse into a single execution so the provider is never asked
// twice for the same attempt from this process.
func (o *Orchestrator) advance(ctx context.Context, id string) (*domain.GenerationRequest, error) {
	v, err, _ := o.advancing.Do(id, func() (any, error) {
		return o.advanceLoop(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.GenerationRequest), nil
}

func (o *Orchestrator) advanceLoop(ctx context.Context, id string) (*domain.GenerationRequest, error) {
	for range [4]struct{}{} {
		req, err := o.requests.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		var progressed bool
		switch req.State {
		case domain.StateAwaitingPayment:
			progressed, err = o.advanceAwaitingPayment(ctx, req)
		case domain.StateDispatching:
			progressed, err = o.advanceDispatching(ctx, req)
		case domain.StateAwaitingResult:
			progressed, err = o.advanceAwaitingResult(ctx, req)
		default:
			return req, nil
		}
		if err != nil {
			return nil, err
		}
		if !progressed {
			return req, nil
		}
	}
	return o.requests.Get(ctx, id)
}

func (o *Orchestrator) advanceAwaitingPayment(ctx context.Context, req *domain.GenerationRequest) (bool, error) {
	settled, err := o.gate.Confirm(ctx, req.PaymentID)
	if err != nil {
		return false, err
	}
	if settled {
		return o.transition(ctx, req.ID, domain.StateAwaitingPayment, func(r *domain.GenerationRequest) {
			r.State = domain.StateDispatching
		})
	}
	intent, err := o.gate.Intent(ctx, req.PaymentID)
	if err != nil {
		return false, err
	}
	if intent.Status == domain.IntentExpired {
		return o.transition(ctx, req.ID, domain.StateAwaitingPayment, func(r *domain.GenerationRequest) {
			r.Fail(domain.FailurePaymentExpired, "payment intent expired before settlement")
		})
	}
	return false, nil
}

func (o *Orchestrator) advanceDispatching(ctx context.Context, req *domain.GenerationRequest) (bool, error) {
	now := o.now()
	if req.NextDispatchAt.After(now) {
		return false, nil
	}
	model, err := o.catalog.PriceOf(req.ModelID)
	if err != nil {
		return false, err
	}

	correlationID, submitErr := o.dispatcher.Submit(ctx, req, model)
	if submitErr != nil {
		attempts := req.DispatchAttempts + 1
		o.logger.Warn().Err(submitErr).
			Str("generation_id", req.ID).
			Int("attempt", attempts).
			Msg("generation: dispatch failed")
		if o.dispatcher.Exhausted(attempts) {
			return o.transition(ctx, req.ID, domain.StateDispatching, func(r *domain.GenerationRequest) {
				r.DispatchAttempts = attempts
				r.Fail(domain.FailureDispatchExhausted,
					fmt.Sprintf("provider rejected dispatch %d times", attempts))
			})
		}
		return o.transition(ctx, req.ID, domain.StateDispatching, func(r *domain.GenerationRequest) {
			r.DispatchAttempts = attempts
			r.NextDispatchAt = now.Add(o.dispatcher.Delay(attempts))
		})
	}

	return o.transition(ctx, req.ID, domain.StateDispatching, func(r *domain.GenerationRequest) {
		r.State = domain.StateAwaitingResult
		r.CorrelationID = correlationID
		r.DispatchAttempts = req.DispatchAttempts + 1
	})
}

func (o *Orchestrator) advanceAwaitingResult(ctx context.Context, req *domain.GenerationRequest) (bool, error) {
	rec, err := o.correlator.Lookup(ctx, req.CorrelationID)
	if errors.Is(err, domain.ErrNotFound) {
		if o.resultTTL > 0 && o.now().Sub(req.UpdatedAt) > o.resultTTL {
			return o.transition(ctx, req.ID, domain.StateAwaitingResult, func(r *domain.GenerationRequest) {
				r.Fail(domain.FailureResultTimeout, "no provider callback within the result window")
			})
		}
		return false, nil
	}
	if err != nil {
		o.logger.Warn().Err(err).Str("correlation_id", req.CorrelationID).Msg("generation: callback lookup failed")
		return false, nil
	}
	if rec.Failed() {
		detail := rec.Error
		if detail == "" {
			detail = "provider reported status " + rec.Status
		}
		return o.transition(ctx, req.ID, domain.StateAwaitingResult, func(r *domain.GenerationRequest) {
			r.Fail(domain.FailureProviderFailed, detail)
		})
	}
	if rec.ResultURL != "" {
		return o.transition(ctx, req.ID, domain.StateAwaitingResult, func(r *domain.GenerationRequest) {
			r.State = domain.StateCompleted
			r.ResultURL = rec.ResultURL
		})
	}
	return false, nil
}

// transition applies mutate only when the request is still in from; a
// concurrent writer winning the race counts as progress so the advance loop
// re-reads instead of clobbering.
func (o *Orchestrator) transition(ctx context.Context, id string, from domain.State, mutate func(*domain.GenerationRequest)) (bool, error) {
	_, err := o.requests.Update(ctx, id, func(r *domain.GenerationRequest) error {
		if r.State != from {
			return errStateChanged
		}
		mutate(r)
		return nil
	})
	if errors.Is(err, errStateChanged) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
