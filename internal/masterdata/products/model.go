package products

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
)

// Product represents a product entity. CostingMethod drives how the inventory
// engine values this product's movements; MinimumStock is an optional reorder
// threshold.
type Product struct {
	ID            int64                   `json:"id"`
	Code          string                  `json:"code"`
	Name          string                  `json:"name"`
	UnitID        int64                   `json:"unit_id"`
	CostingMethod inventory.CostingMethod `json:"costing_method"`
	MinimumStock  decimal.Decimal         `json:"minimum_stock"`
	IsActive      bool                    `json:"is_active"`
	CreatedAt     time.Time               `json:"created_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
}

// ListFilters narrows product listings.
type ListFilters struct {
	Search   string
	IsActive *bool
	Limit    int
	Offset   int
}
