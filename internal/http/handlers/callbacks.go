package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"server/internal/callback"
	"server/internal/domain"
)

// ProviderCallback ingests an asynchronous completion notification from the
// generation provider. A payload that is JSON but lacks a correlation id is
// acknowledged and dropped so the provider stops retrying; a body that is
// not JSON at all is a transport fault and answers 500.
func (a *App) ProviderCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to read callback body")
		return
	}
	rec, err := a.Correlator.Record(r.Context(), body)
	if errors.Is(err, callback.ErrMalformed) {
		a.Logger.Warn().Msg("http: callback without correlation id dropped")
		a.json(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		a.error(w, http.StatusInternalServerError, "internal", "callback body is not valid JSON")
		return
	}
	if err != nil {
		a.Logger.Error().Err(err).Msg("http: record callback failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to record callback")
		return
	}
	a.json(w, http.StatusOK, map[string]string{
		"status":         "accepted",
		"correlation_id": rec.CorrelationID,
	})
}

// LookupCallback is an operator endpoint that returns the raw stored record
// for a correlation id, mainly for debugging orphaned callbacks.
func (a *App) LookupCallback(w http.ResponseWriter, r *http.Request) {
	correlationID := r.URL.Query().Get("correlation_id")
	if correlationID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "correlation_id required")
		return
	}
	rec, err := a.Correlator.Lookup(r.Context(), correlationID)
	if errors.Is(err, domain.ErrNotFound) {
		a.error(w, http.StatusNotFound, "not_found", "no callback recorded")
		return
	}
	if err != nil {
		a.Logger.Error().Err(err).Str("correlation_id", correlationID).Msg("http: callback lookup failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load callback")
		return
	}
	a.json(w, http.StatusOK, rec)
}
