package production

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// OrderCompletedEvent announces a finished completion after its transaction
// committed. RefID also tags every inventory movement the completion posted.
type OrderCompletedEvent struct {
	OrderID            int64
	Number             string
	ProductID          int64
	Quantity           decimal.Decimal
	TotalComponentCost decimal.Decimal
	UnitCost           decimal.Decimal
	RefID              string
	CompletedAt        time.Time
	CompletedBy        int64
}

// IntegrationHandler consumes completion events. Failures are logged by the
// caller, never propagated: the completion has already committed.
type IntegrationHandler interface {
	HandleProductionOrderCompleted(ctx context.Context, event OrderCompletedEvent) error
}
