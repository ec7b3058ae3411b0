package handlers

import (
	"encoding/json"
	"net/http"

	"server/internal/callback"
	"server/internal/catalog"
	"server/internal/domain"
	"server/internal/generation"
	"server/internal/infra"
)

type App struct {
	Logger       infra.Logger
	Orchestrator *generation.Orchestrator
	Correlator   *callback.Correlator
	Catalog      *catalog.Catalog
	Requests     domain.GenerationStore
	Currency     string
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]string{"error": errCode, "message": message})
}
