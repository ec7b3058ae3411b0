// Package catalog holds the static model pricing table. It is the single
// source of truth for per-generation prices so the payment gate and the
// dispatcher can never disagree on the amount charged.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"server/internal/domain"
)

// Catalog is an immutable model id -> descriptor lookup table.
type Catalog struct {
	models map[string]domain.ModelDescriptor
	order  []string
}

// New builds a catalog from the given descriptors. Ids must be unique and
// every price positive.
func New(models []domain.ModelDescriptor) (*Catalog, error) {
	c := &Catalog{models: make(map[string]domain.ModelDescriptor, len(models))}
	for _, m := range models {
		if err := m.Validate(); err != nil {
			return nil, err
		}
		if _, exists := c.models[m.ID]; exists {
			return nil, fmt.Errorf("catalog: duplicate model id %q", m.ID)
		}
		c.models[m.ID] = m
		c.order = append(c.order, m.ID)
	}
	return c, nil
}

// Default returns the built-in catalog shipped with the service.
func Default() *Catalog {
	c, err := New([]domain.ModelDescriptor{
		{ID: "sora", DisplayName: "Sora", Provider: "openai", Price: decimal.RequireFromString("0.50"), Modality: domain.ModalityVideo},
		{ID: "kling-v2", DisplayName: "Kling 2.0", Provider: "kuaishou", Price: decimal.RequireFromString("0.35"), Modality: domain.ModalityVideo},
		{ID: "flux-pro", DisplayName: "FLUX Pro", Provider: "black-forest-labs", Price: decimal.RequireFromString("0.05"), Modality: domain.ModalityImage},
		{ID: "sdxl", DisplayName: "Stable Diffusion XL", Provider: "stability-ai", Price: decimal.RequireFromString("0.02"), Modality: domain.ModalityImage},
	})
	if err != nil {
		panic(err)
	}
	return c
}

// LoadFile reads a JSON array of model descriptors from path. An empty path
// yields the default catalog.
func LoadFile(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	var models []domain.ModelDescriptor
	if err := json.Unmarshal(raw, &models); err != nil {
		return nil, fmt.Errorf("catalog: decode %s: %w", path, err)
	}
	return New(models)
}

// PriceOf resolves a model id. It returns domain.ErrNotFound when the id is
// absent; there is no other failure mode.
func (c *Catalog) PriceOf(modelID string) (domain.ModelDescriptor, error) {
	m, ok := c.models[modelID]
	if !ok {
		return domain.ModelDescriptor{}, domain.ErrNotFound
	}
	return m, nil
}

// List returns all descriptors in registration order.
func (c *Catalog) List() []domain.ModelDescriptor {
	out := make([]domain.ModelDescriptor, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.models[id])
	}
	return out
}
