package generation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"server/internal/adapter/memrepo"
	"server/internal/callback"
	"server/internal/catalog"
	"server/internal/domain"
	"server/internal/payment"
	"server/internal/providers/replicate"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Now()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type stubSettlement struct {
	mu      sync.Mutex
	settled bool
	creates int
}

func (s *stubSettlement) CreateIntent(ctx context.Context, req payment.CreateIntentRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates++
	return "https://pay.test/" + req.PaymentID, nil
}

func (s *stubSettlement) IntentSettled(ctx context.Context, paymentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settled, nil
}

func (s *stubSettlement) settle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settled = true
}

// recordingSubmitter fails its first N submissions, then hands out
// sequential prediction ids.
type recordingSubmitter struct {
	mu       sync.Mutex
	failures int
	submits  int
}

func (s *recordingSubmitter) submit(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submits++
	if s.submits <= s.failures {
		return "", errors.New("provider unavailable")
	}
	return fmt.Sprintf("pred-%d", s.submits), nil
}

func (s *recordingSubmitter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submits
}

type testEnv struct {
	clock      *fakeClock
	settle     *stubSettlement
	submitter  *recordingSubmitter
	requests   *memrepo.GenerationStore
	intents    *memrepo.IntentStore
	correlator *callback.Correlator
	orch       *Orchestrator
}

type envConfig struct {
	exemptModels []string
	intentTTL    time.Duration
	resultTTL    time.Duration
	maxAttempts  int
	failures     int
}

func newTestEnv(t *testing.T, cfg envConfig) *testEnv {
	t.Helper()
	clock := newFakeClock()
	settle := &stubSettlement{}
	submitter := &recordingSubmitter{failures: cfg.failures}
	requests := memrepo.NewGenerationStore()
	intents := memrepo.NewIntentStore()
	correlator := callback.NewCorrelator(memrepo.NewCallbackStore(0), zerolog.Nop())

	ttl := cfg.intentTTL
	if ttl == 0 {
		ttl = 15 * time.Minute
	}
	gate := payment.NewGate(payment.GateOptions{
		Client:   settle,
		Intents:  intents,
		Policy:   payment.NewModelAllowlist(cfg.exemptModels),
		TTL:      ttl,
		Logger:   zerolog.Nop(),
		Now:      clock.Now,
	})

	maxAttempts := cfg.maxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	dispatcher := NewDispatcher(submitterAdapter{submitter}, maxAttempts, 0)

	orch := NewOrchestrator(Options{
		Catalog:    catalog.Default(),
		Gate:       gate,
		Dispatcher: dispatcher,
		Requests:   requests,
		Correlator: correlator,
		ResultTTL:  cfg.resultTTL,
		Logger:     zerolog.Nop(),
		Now:        clock.Now,
	})

	return &testEnv{
		clock:      clock,
		settle:     settle,
		submitter:  submitter,
		requests:   requests,
		intents:    intents,
		correlator: correlator,
		orch:       orch,
	}
}

type submitterAdapter struct {
	s *recordingSubmitter
}

func (a submitterAdapter) Submit(ctx context.Context, job replicate.Job) (string, error) {
	return a.s.submit(ctx)
}

func TestStartUnknownModel(t *testing.T) {
	env := newTestEnv(t, envConfig{})

	res, err := env.orch.Start(context.Background(), StartInput{ModelID: "nope", Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, res.Request.State)
	assert.Equal(t, domain.FailureUnknownModel, res.Request.FailureKind)
	assert.Nil(t, res.Challenge)
	assert.Empty(t, res.Request.PaymentID)
	assert.Zero(t, env.settle.creates)

	// The failed record is still pollable.
	req, err := env.orch.CheckStatus(context.Background(), res.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, req.State)
}

func TestStartRequiresPayment(t *testing.T) {
	env := newTestEnv(t, envConfig{})

	res, err := env.orch.Start(context.Background(), StartInput{ModelID: "sora", Prompt: "a whale"})
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingPayment, res.Request.State)
	require.NotNil(t, res.Challenge)
	assert.True(t, res.Challenge.Amount.Equal(decimal.RequireFromString("0.50")))
	assert.Equal(t, res.Request.PaymentID, res.Challenge.PaymentID)
	assert.Zero(t, env.submitter.count())
}

func TestHappyPathPaymentToCompletion(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	ctx := context.Background()

	res, err := env.orch.Start(ctx, StartInput{ModelID: "flux-pro", Prompt: "a lighthouse"})
	require.NoError(t, err)
	require.Equal(t, domain.StateAwaitingPayment, res.Request.State)

	// Polling before payment changes nothing.
	req, err := env.orch.CheckStatus(ctx, res.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingPayment, req.State)

	env.settle.settle()

	settled, req, err := env.orch.ConfirmPayment(ctx, res.Request.PaymentID)
	require.NoError(t, err)
	assert.True(t, settled)
	require.NotNil(t, req)
	assert.Equal(t, domain.StateAwaitingResult, req.State)
	assert.NotEmpty(t, req.CorrelationID)
	assert.Equal(t, 1, env.submitter.count())

	// Callback arrives out of band.
	payload := fmt.Sprintf(`{"correlation_id":%q,"status":"succeeded","result":"https://cdn.test/out.png"}`, req.CorrelationID)
	_, err = env.correlator.Record(ctx, []byte(payload))
	require.NoError(t, err)

	req, err = env.orch.CheckStatus(ctx, res.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, req.State)
	assert.Equal(t, "https://cdn.test/out.png", req.ResultURL)

	// No double dispatch on further polls.
	req, err = env.orch.CheckStatus(ctx, res.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, req.State)
	assert.Equal(t, 1, env.submitter.count())
}

func TestConfirmPaymentIdempotent(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	ctx := context.Background()

	res, err := env.orch.Start(ctx, StartInput{ModelID: "flux-pro", Prompt: "x"})
	require.NoError(t, err)
	env.settle.settle()

	for range [3]struct{}{} {
		settled, _, err := env.orch.ConfirmPayment(ctx, res.Request.PaymentID)
		require.NoError(t, err)
		assert.True(t, settled)
	}
	assert.Equal(t, 1, env.submitter.count())
}

func TestPaymentExpiry(t *testing.T) {
	env := newTestEnv(t, envConfig{intentTTL: time.Minute})
	ctx := context.Background()

	res, err := env.orch.Start(ctx, StartInput{ModelID: "sora", Prompt: "x"})
	require.NoError(t, err)

	env.clock.Advance(2 * time.Minute)

	req, err := env.orch.CheckStatus(ctx, res.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, req.State)
	assert.Equal(t, domain.FailurePaymentExpired, req.FailureKind)

	// Settlement after expiry does not resurrect the request.
	env.settle.settle()
	req, err = env.orch.CheckStatus(ctx, res.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, req.State)
	assert.Zero(t, env.submitter.count())
}

func TestExemptModelDispatchesImmediately(t *testing.T) {
	env := newTestEnv(t, envConfig{exemptModels: []string{"sdxl"}})

	res, err := env.orch.Start(context.Background(), StartInput{ModelID: "sdxl", Prompt: "x"})
	require.NoError(t, err)
	assert.Nil(t, res.Challenge)
	assert.Equal(t, domain.StateAwaitingResult, res.Request.State)
	assert.Empty(t, res.Request.PaymentID)
	assert.Equal(t, 1, env.submitter.count())
	assert.Zero(t, env.settle.creates)
}

func TestDispatchExhaustion(t *testing.T) {
	env := newTestEnv(t, envConfig{exemptModels: []string{"sdxl"}, maxAttempts: 3, failures: 100})
	ctx := context.Background()

	res, err := env.orch.Start(ctx, StartInput{ModelID: "sdxl", Prompt: "x"})
	require.NoError(t, err)

	req, err := env.orch.CheckStatus(ctx, res.Request.ID)
	require.NoError(t, err)
	for req.State == domain.StateDispatching {
		req, err = env.orch.CheckStatus(ctx, res.Request.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, domain.StateFailed, req.State)
	assert.Equal(t, domain.FailureDispatchExhausted, req.FailureKind)
	assert.Equal(t, 3, env.submitter.count())
	assert.Equal(t, 3, req.DispatchAttempts)
}

func TestRetryAfterExhaustion(t *testing.T) {
	env := newTestEnv(t, envConfig{maxAttempts: 2, failures: 2})
	ctx := context.Background()

	res, err := env.orch.Start(ctx, StartInput{ModelID: "flux-pro", Prompt: "x"})
	require.NoError(t, err)
	env.settle.settle()

	_, req, err := env.orch.ConfirmPayment(ctx, res.Request.PaymentID)
	require.NoError(t, err)
	for req.State == domain.StateDispatching {
		req, err = env.orch.CheckStatus(ctx, res.Request.ID)
		require.NoError(t, err)
	}
	require.Equal(t, domain.StateFailed, req.State)
	require.Equal(t, domain.FailureDispatchExhausted, req.FailureKind)

	fresh, err := env.orch.Retry(ctx, res.Request.ID)
	require.NoError(t, err)
	assert.NotEqual(t, res.Request.ID, fresh.ID)
	assert.Equal(t, res.Request.PaymentID, fresh.PaymentID)
	assert.Equal(t, domain.StateAwaitingResult, fresh.State)

	// The failed record stays failed.
	prior, err := env.orch.CheckStatus(ctx, res.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, prior.State)
}

func TestRetryRejectsNonExhaustedFailures(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	ctx := context.Background()

	res, err := env.orch.Start(ctx, StartInput{ModelID: "nope", Prompt: "x"})
	require.NoError(t, err)

	_, err = env.orch.Retry(ctx, res.Request.ID)
	assert.ErrorIs(t, err, domain.ErrNotRetryable)
}

func TestRetryRejectsInFlight(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	ctx := context.Background()

	res, err := env.orch.Start(ctx, StartInput{ModelID: "sora", Prompt: "x"})
	require.NoError(t, err)

	_, err = env.orch.Retry(ctx, res.Request.ID)
	assert.ErrorIs(t, err, domain.ErrNotRetryable)
}

func TestProviderFailureCallback(t *testing.T) {
	env := newTestEnv(t, envConfig{exemptModels: []string{"sdxl"}})
	ctx := context.Background()

	res, err := env.orch.Start(ctx, StartInput{ModelID: "sdxl", Prompt: "x"})
	require.NoError(t, err)
	require.Equal(t, domain.StateAwaitingResult, res.Request.State)

	payload := fmt.Sprintf(`{"correlation_id":%q,"status":"failed","error":"content policy"}`, res.Request.CorrelationID)
	_, err = env.correlator.Record(ctx, []byte(payload))
	require.NoError(t, err)

	req, err := env.orch.CheckStatus(ctx, res.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, req.State)
	assert.Equal(t, domain.FailureProviderFailed, req.FailureKind)
	assert.Equal(t, "content policy", req.FailureDetail)
}

func TestTerminalStateIsMonotonic(t *testing.T) {
	env := newTestEnv(t, envConfig{exemptModels: []string{"sdxl"}})
	ctx := context.Background()

	res, err := env.orch.Start(ctx, StartInput{ModelID: "sdxl", Prompt: "x"})
	require.NoError(t, err)

	ok := fmt.Sprintf(`{"correlation_id":%q,"status":"succeeded","result":"https://cdn.test/a.png"}`, res.Request.CorrelationID)
	_, err = env.correlator.Record(ctx, []byte(ok))
	require.NoError(t, err)

	req, err := env.orch.CheckStatus(ctx, res.Request.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StateCompleted, req.State)

	// A contradictory late callback must not demote the terminal state.
	bad := fmt.Sprintf(`{"correlation_id":%q,"status":"failed","error":"late failure"}`, res.Request.CorrelationID)
	_, err = env.correlator.Record(ctx, []byte(bad))
	require.NoError(t, err)

	req, err = env.orch.CheckStatus(ctx, res.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, req.State)
	assert.Equal(t, "https://cdn.test/a.png", req.ResultURL)
}

func TestResultTimeout(t *testing.T) {
	env := newTestEnv(t, envConfig{exemptModels: []string{"sdxl"}, resultTTL: time.Minute})
	ctx := context.Background()

	res, err := env.orch.Start(ctx, StartInput{ModelID: "sdxl", Prompt: "x"})
	require.NoError(t, err)
	require.Equal(t, domain.StateAwaitingResult, res.Request.State)

	env.clock.Advance(2 * time.Minute)

	req, err := env.orch.CheckStatus(ctx, res.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, req.State)
	assert.Equal(t, domain.FailureResultTimeout, req.FailureKind)
}

func TestSweepAdvancesWithoutPolling(t *testing.T) {
	env := newTestEnv(t, envConfig{exemptModels: []string{"sdxl"}})
	ctx := context.Background()

	res, err := env.orch.Start(ctx, StartInput{ModelID: "sdxl", Prompt: "x"})
	require.NoError(t, err)

	payload := fmt.Sprintf(`{"correlation_id":%q,"status":"succeeded","result":"https://cdn.test/a.png"}`, res.Request.CorrelationID)
	_, err = env.correlator.Record(ctx, []byte(payload))
	require.NoError(t, err)

	require.NoError(t, env.orch.Sweep(ctx))

	req, err := env.requests.Get(ctx, res.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, req.State)
}

func TestConcurrentPollsSingleDispatch(t *testing.T) {
	env := newTestEnv(t, envConfig{exemptModels: []string{"sdxl"}})
	ctx := context.Background()

	res, err := env.orch.Start(ctx, StartInput{ModelID: "sdxl", Prompt: "x"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range [8]struct{}{} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = env.orch.CheckStatus(ctx, res.Request.ID)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, env.submitter.count())
}
