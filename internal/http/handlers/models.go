package handlers

import (
	"net/http"

	"github.com/shopspring/decimal"
)

type modelView struct {
	ID          string          `json:"id"`
	DisplayName string          `json:"display_name"`
	Provider    string          `json:"provider"`
	Price       decimal.Decimal `json:"price"`
	Currency    string          `json:"currency"`
	Modality    string          `json:"modality"`
}

// ListModels returns the priced model catalog in registration order.
func (a *App) ListModels(w http.ResponseWriter, r *http.Request) {
	models := a.Catalog.List()
	views := make([]modelView, 0, len(models))
	for _, m := range models {
		views = append(views, modelView{
			ID:          m.ID,
			DisplayName: m.DisplayName,
			Provider:    m.Provider,
			Price:       m.Price,
			Currency:    a.Currency,
			Modality:    string(m.Modality),
		})
	}
	a.json(w, http.StatusOK, map[string]any{"models": views})
}
