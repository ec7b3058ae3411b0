// Package replicate submits generation jobs to the asynchronous prediction
// API. The provider assigns every accepted job an opaque prediction id and
// later reports completion to the configured webhook; that id is the only
// join key between a submission and its callback, so it is always returned
// verbatim and never invented locally.
package replicate

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

	"github.com/rs/zerolog"

	"server/internal/domain"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("replicate: api key is required")

// Options configures the prediction client.
type Options struct {
	APIKey         string
	BaseURL        string
	WebhookURL     string
	HTTPClient     *http.Client
	Logger         *zerolog.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the prediction API.
type Client struct {
	apiKey     string
	baseURL    string
	webhookURL string
	httpClient *http.Client
	logger     *zerolog.Logger
}

// Job captures the inputs for one generation submission.
type Job struct {
	Model     string
	Provider  string
	Prompt    string
	Modality  domain.Modality
	Reference string
}

type predictionRequest struct {
	Model    string            `json:"model"`
	Input    predictionInput   `json:"input"`
	Webhook  string            `json:"webhook,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type predictionInput struct {
	Prompt   string `json:"prompt"`
	Modality string `json:"modality,omitempty"`
}

type predictionResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Detail string `json:"detail"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.replicate.com"
	}
	var logger *zerolog.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		logger = &discard
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		webhookURL: strings.TrimSpace(opts.WebhookURL),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// Submit sends one job to the provider and returns the provider's
// correlation id.
func (c *Client) Submit(ctx context.Context, job Job) (string, error) {
	if !c.HasCredentials() {
		return "", ErrMissingAPIKey
	}
	prompt := strings.TrimSpace(job.Prompt)
	if prompt == "" {
		return "", errors.New("replicate: prompt is required")
	}
	model := job.Model
	if job.Provider != "" {
		model = job.Provider + "/" + job.Model
	}
	payload := predictionRequest{
		Model: model,
		Input: predictionInput{
			Prompt:   prompt,
			Modality: string(job.Modality),
		},
		Webhook: c.webhookURL,
	}
	if job.Reference != "" {
		payload.Metadata = map[string]string{"reference": job.Reference}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("replicate: encode request: %w", err)
	}
	endpoint := c.baseURL + "/v1/predictions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("replicate: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("replicate: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("replicate: read response: %w", err)
	}
	var decoded predictionResponse
	if resp.StatusCode >= 300 {
		if err := json.Unmarshal(raw, &decoded); err == nil && decoded.Detail != "" {
			return "", fmt.Errorf("replicate: %s (status %d)", decoded.Detail, resp.StatusCode)
		}
		return "", fmt.Errorf("replicate: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("replicate: decode response: %w", err)
	}
	if decoded.ID == "" {
		return "", errors.New("replicate: response missing prediction id")
	}
	c.logger.Debug().
		Str("model", model).
		Str("prediction_id", decoded.ID).
		Str("reference", job.Reference).
		Msg("replicate: job submitted")
	return decoded.ID, nil
}
