package products

import (
	"errors"
	"fmt"
	"strings"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
)

// ErrValidation wraps any rejected product payload.
var ErrValidation = errors.New("products: validation failed")

func (s *Service) validate(p Product) error {
	if strings.TrimSpace(p.Code) == "" {
		return fmt.Errorf("%w: product code is required", ErrValidation)
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: product name is required", ErrValidation)
	}
	if !p.CostingMethod.Valid() {
		return fmt.Errorf("%w: unknown costing method", ErrValidation)
	}
	if p.MinimumStock.IsNegative() {
		return fmt.Errorf("%w: minimum stock must be >= 0", ErrValidation)
	}
	return nil
}

// costingMethod normalizes the wire value; empty selects the default policy.
func costingMethod(raw string) inventory.CostingMethod {
	if raw == "" {
		return inventory.CostingWeightedAverage
	}
	return inventory.CostingMethod(strings.ToUpper(raw))
}
