package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// MovementPostedEvent represents a committed inventory movement ready for
// ledger integration.
type MovementPostedEvent struct {
	TransactionID  int64
	ProductID      int64
	Type           TransactionType
	Quantity       decimal.Decimal
	UnitCost       decimal.Decimal
	TotalCost      decimal.Decimal
	BalanceAfter   decimal.Decimal
	TotalCostAfter decimal.Decimal
	PostedAt       time.Time
}

// IntegrationHandler receives inventory events for financial integration.
type IntegrationHandler interface {
	HandleInventoryMovementPosted(ctx context.Context, evt MovementPostedEvent) error
}
