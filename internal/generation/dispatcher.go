package generation

import (
	"context"
	"time"

	"server/internal/domain"
	"server/internal/providers/replicate"
)

// Submitter is the outbound contract toward the generation provider.
// *replicate.Client satisfies it.
type Submitter interface {
	Submit(ctx context.Context, job replicate.Job) (string, error)
}

// Dispatcher submits priced, paid requests to the provider and owns the
// retry budget for transient dispatch failures.
type Dispatcher struct {
	submitter   Submitter
	maxAttempts int
	backoff     time.Duration
}

// NewDispatcher wires a dispatcher. maxAttempts defaults to 3 and the base
// backoff to 2s; backoff doubles per failed attempt.
func NewDispatcher(submitter Submitter, maxAttempts int, backoff time.Duration) *Dispatcher {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if backoff < 0 {
		backoff = 2 * time.Second
	}
	return &Dispatcher{submitter: submitter, maxAttempts: maxAttempts, backoff: backoff}
}

// Submit sends one job and returns the provider's correlation id verbatim.
func (d *Dispatcher) Submit(ctx context.Context, req *domain.GenerationRequest, model domain.ModelDescriptor) (string, error) {
	return d.submitter.Submit(ctx, replicate.Job{
		Model:     model.ID,
		Provider:  model.Provider,
		Prompt:    req.Prompt,
		Modality:  model.Modality,
		Reference: req.ID,
	})
}

// Exhausted reports whether the attempt count has reached the retry ceiling.
func (d *Dispatcher) Exhausted(attempts int) bool {
	return attempts >= d.maxAttempts
}

// Delay returns the backoff to wait before the given (1-based) retry.
func (d *Dispatcher) Delay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return d.backoff << (attempts - 1)
}

// MaxAttempts returns the configured retry ceiling.
func (d *Dispatcher) MaxAttempts() int {
	return d.maxAttempts
}
