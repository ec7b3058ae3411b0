package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Modality enumerates the output media types a model can produce.
type Modality string

const (
	ModalityImage Modality = "image"
	ModalityVideo Modality = "video"
)

// ModelDescriptor describes one generation model offered to clients.
// Descriptors are loaded at process start and read-only afterwards.
type ModelDescriptor struct {
	ID          string          `json:"id"`
	DisplayName string          `json:"display_name"`
	Provider    string          `json:"provider"`
	Price       decimal.Decimal `json:"price"`
	Modality    Modality        `json:"modality"`
}

// Validate checks the catalog invariants for a single descriptor.
func (m ModelDescriptor) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("model descriptor: id is required")
	}
	if !m.Price.IsPositive() {
		return fmt.Errorf("model %q: price must be positive", m.ID)
	}
	switch m.Modality {
	case ModalityImage, ModalityVideo:
	default:
		return fmt.Errorf("model %q: unsupported modality %q", m.ID, m.Modality)
	}
	return nil
}
