package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("payment: api key is required")

// SettlementClient is the outbound contract toward the payment facilitator.
type SettlementClient interface {
	// CreateIntent registers a payment intent with the facilitator and
	// returns the URL the client must follow to complete payment.
	CreateIntent(ctx context.Context, req CreateIntentRequest) (string, error)
	// IntentSettled reports whether the facilitator has observed settlement
	// for the given intent id.
	IntentSettled(ctx context.Context, paymentID string) (bool, error)
}

// CreateIntentRequest carries the fields the facilitator needs to open an
// intent under an id we generated.
type CreateIntentRequest struct {
	PaymentID string
	Amount    decimal.Decimal
	Currency  string
	Reference string
	ExpiresAt time.Time
}

// Options configures the facilitator HTTP client.
type Options struct {
	BaseURL        string
	APIKey         string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the payment facilitator API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient constructs a facilitator client with sane defaults.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     strings.TrimSpace(opts.APIKey),
		httpClient: httpClient,
	}
}

type createIntentPayload struct {
	ID        string `json:"id"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Reference string `json:"reference,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

type createIntentResponse struct {
	ID         string `json:"id"`
	PaymentURL string `json:"payment_url"`
	Message    string `json:"message"`
}

type intentStatusResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// CreateIntent implements SettlementClient.
func (c *Client) CreateIntent(ctx context.Context, req CreateIntentRequest) (string, error) {
	if c.apiKey == "" {
		return "", ErrMissingAPIKey
	}
	payload := createIntentPayload{
		ID:        req.PaymentID,
		Amount:    req.Amount.String(),
		Currency:  req.Currency,
		Reference: req.Reference,
	}
	if !req.ExpiresAt.IsZero() {
		payload.ExpiresAt = req.ExpiresAt.UTC().Format(time.RFC3339)
	}
	var decoded createIntentResponse
	if err := c.do(ctx, http.MethodPost, "/v1/intents", payload, &decoded); err != nil {
		return "", err
	}
	if decoded.PaymentURL == "" {
		return "", errors.New("payment: facilitator returned no payment url")
	}
	return decoded.PaymentURL, nil
}

// IntentSettled implements SettlementClient.
func (c *Client) IntentSettled(ctx context.Context, paymentID string) (bool, error) {
	if c.apiKey == "" {
		return false, ErrMissingAPIKey
	}
	var decoded intentStatusResponse
	if err := c.do(ctx, http.MethodGet, "/v1/intents/"+paymentID, nil, &decoded); err != nil {
		return false, err
	}
	switch strings.ToLower(decoded.Status) {
	case "settled", "succeeded", "paid":
		return true, nil
	}
	return false, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("payment: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("payment: build request: %w", err)
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("payment: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("payment: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var detail struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Message != "" {
			return fmt.Errorf("payment: facilitator: %s (status %d)", detail.Message, resp.StatusCode)
		}
		return fmt.Errorf("payment: facilitator status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("payment: decode response: %w", err)
		}
	}
	return nil
}

var _ SettlementClient = (*Client)(nil)
