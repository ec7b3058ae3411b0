package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
	"server/internal/generation"
	"server/internal/middleware"
)

type createGenerationRequest struct {
	ModelID string `json:"model_id"`
	Prompt  string `json:"prompt"`
}

type generationView struct {
	ID            string    `json:"id"`
	ModelID       string    `json:"model_id"`
	Modality      string    `json:"modality,omitempty"`
	State         string    `json:"state"`
	PaymentID     string    `json:"payment_id,omitempty"`
	ResultURL     string    `json:"result_url,omitempty"`
	FailureKind   string    `json:"failure_kind,omitempty"`
	FailureDetail string    `json:"failure_detail,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func viewGeneration(req *domain.GenerationRequest) generationView {
	return generationView{
		ID:            req.ID,
		ModelID:       req.ModelID,
		Modality:      string(req.Modality),
		State:         string(req.State),
		PaymentID:     req.PaymentID,
		ResultURL:     req.ResultURL,
		FailureKind:   string(req.FailureKind),
		FailureDetail: req.FailureDetail,
		CreatedAt:     req.CreatedAt,
		UpdatedAt:     req.UpdatedAt,
	}
}

// CreateGeneration starts a new generation request. Payable models answer
// 402 with an x402 challenge; exempt models dispatch immediately.
func (a *App) CreateGeneration(w http.ResponseWriter, r *http.Request) {
	var payload createGenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	payload.ModelID = strings.TrimSpace(payload.ModelID)
	payload.Prompt = strings.TrimSpace(payload.Prompt)
	if payload.ModelID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "model_id required")
		return
	}
	if payload.Prompt == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "prompt required")
		return
	}

	res, err := a.Orchestrator.Start(r.Context(), generation.StartInput{
		ModelID: payload.ModelID,
		Prompt:  payload.Prompt,
		Country: middleware.CountryFromContext(r.Context()),
	})
	if err != nil {
		a.Logger.Error().Err(err).Msg("http: start generation failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to start generation")
		return
	}

	if res.Request.State == domain.StateFailed && res.Request.FailureKind == domain.FailureUnknownModel {
		a.json(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      "unknown_model",
			"message":    res.Request.FailureDetail,
			"generation": viewGeneration(res.Request),
		})
		return
	}

	if res.Challenge != nil {
		w.Header().Set("WWW-Authenticate", res.Challenge.Header())
		a.json(w, http.StatusPaymentRequired, map[string]any{
			"generation_id": res.Request.ID,
			"payment_id":    res.Challenge.PaymentID,
			"amount":        res.Challenge.Amount,
			"currency":      res.Challenge.Currency,
			"payment_url":   res.Challenge.PaymentURL,
		})
		return
	}

	a.json(w, http.StatusCreated, viewGeneration(res.Request))
}

// GetGeneration returns the current request state, driving pending lazy
// transitions first. Polling this endpoint is the client's status loop.
func (a *App) GetGeneration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "id required")
		return
	}
	req, err := a.Orchestrator.CheckStatus(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		a.error(w, http.StatusNotFound, "not_found", "generation not found")
		return
	}
	if err != nil {
		a.Logger.Error().Err(err).Str("generation_id", id).Msg("http: check status failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load generation")
		return
	}
	a.json(w, http.StatusOK, viewGeneration(req))
}

// RetryGeneration re-dispatches a generation that exhausted its dispatch
// budget, reusing the settled payment. The retry is a brand-new request.
func (a *App) RetryGeneration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "id required")
		return
	}
	req, err := a.Orchestrator.Retry(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		a.error(w, http.StatusNotFound, "not_found", "generation not found")
		return
	}
	if errors.Is(err, domain.ErrNotRetryable) {
		a.error(w, http.StatusConflict, "not_retryable", "generation is not retryable")
		return
	}
	if err != nil {
		a.Logger.Error().Err(err).Str("generation_id", id).Msg("http: retry failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to retry generation")
		return
	}
	a.json(w, http.StatusCreated, viewGeneration(req))
}
