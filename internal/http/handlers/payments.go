package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
)

// ConfirmPayment reports settlement for a payment intent and, when settled,
// pushes the linked generation toward dispatch. Safe to call repeatedly.
func (a *App) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "id")
	if paymentID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "payment id required")
		return
	}
	settled, req, err := a.Orchestrator.ConfirmPayment(r.Context(), paymentID)
	if errors.Is(err, domain.ErrNotFound) {
		a.error(w, http.StatusNotFound, "not_found", "payment intent not found")
		return
	}
	if err != nil {
		a.Logger.Error().Err(err).Str("payment_id", paymentID).Msg("http: confirm payment failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to confirm payment")
		return
	}
	body := map[string]any{"payment_id": paymentID, "settled": settled}
	if req != nil {
		body["generation"] = viewGeneration(req)
	}
	a.json(w, http.StatusOK, body)
}
