package domain

import "time"

// State enumerates the generation request lifecycle states.
type State string

const (
	StateCreated         State = "CREATED"
	StateAwaitingPayment State = "AWAITING_PAYMENT"
	StateDispatching     State = "DISPATCHING"
	StateAwaitingResult  State = "AWAITING_RESULT"
	StateCompleted       State = "COMPLETED"
	StateFailed          State = "FAILED"
)

// Terminal reports whether no transition may leave the state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// FailureKind is the stable machine-readable tag attached to failed requests.
type FailureKind string

const (
	FailureUnknownModel      FailureKind = "unknown_model"
	FailurePaymentExpired    FailureKind = "payment_expired"
	FailureDispatchExhausted FailureKind = "dispatch_exhausted"
	FailureProviderFailed    FailureKind = "provider_failed"
	FailureResultTimeout     FailureKind = "result_timeout"
)

// GenerationRequest is the mutable record for one user job. The orchestrator
// owns it exclusively; stores only provide per-key atomic read-modify-write.
type GenerationRequest struct {
	ID            string
	ModelID       string
	Prompt        string
	Modality      Modality
	State         State
	PaymentID     string
	CorrelationID string
	ResultURL     string
	FailureKind   FailureKind
	FailureDetail string
	Country       string

	DispatchAttempts int
	NextDispatchAt   time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Fail moves the request into the terminal FAILED state.
func (g *GenerationRequest) Fail(kind FailureKind, detail string) {
	g.State = StateFailed
	g.FailureKind = kind
	g.FailureDetail = detail
}
