package products

import (
	"context"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
)

// CostingLookup adapts the product repository to the inventory engine's
// product port. It is a pure lookup with no dependency on inventory state, so
// it can be wired before the inventory service exists.
type CostingLookup struct {
	repo Repository
}

// NewCostingLookup builds CostingLookup.
func NewCostingLookup(repo Repository) *CostingLookup {
	return &CostingLookup{repo: repo}
}

// CostingInfo returns the costing configuration for a product.
func (l *CostingLookup) CostingInfo(ctx context.Context, productID int64) (inventory.ProductInfo, error) {
	p, err := l.repo.Get(ctx, productID)
	if err != nil {
		return inventory.ProductInfo{}, err
	}
	return inventory.ProductInfo{
		ID:            p.ID,
		CostingMethod: p.CostingMethod,
		MinimumStock:  p.MinimumStock,
	}, nil
}

var _ inventory.ProductPort = (*CostingLookup)(nil)
