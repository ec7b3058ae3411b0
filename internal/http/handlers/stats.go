package handlers

import (
	"net/http"

	"server/internal/domain"
)

// StatsSummary reports request counts per lifecycle state for operators.
func (a *App) StatsSummary(w http.ResponseWriter, r *http.Request) {
	counts, err := a.Requests.CountByState(r.Context())
	if err != nil {
		a.Logger.Error().Err(err).Msg("http: load stats failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load stats")
		return
	}
	var total, inFlight int64
	byState := make(map[string]int64, len(counts))
	for state, n := range counts {
		byState[string(state)] = n
		total += n
		if !state.Terminal() {
			inFlight += n
		}
	}
	a.json(w, http.StatusOK, map[string]any{
		"total":     total,
		"in_flight": inFlight,
		"completed": counts[domain.StateCompleted],
		"failed":    counts[domain.StateFailed],
		"by_state":  byState,
	})
}
