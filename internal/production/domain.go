package production

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus enumerates the production order lifecycle.
type OrderStatus string

const (
	StatusDraft      OrderStatus = "DRAFT"
	StatusInProgress OrderStatus = "IN_PROGRESS"
	StatusCompleted  OrderStatus = "COMPLETED"
	StatusCancelled  OrderStatus = "CANCELLED"
)

// BillOfMaterial is the recipe for one finished product: the batch size it
// produces and the ordered component lines consumed per batch.
type BillOfMaterial struct {
	ID             int64
	Code           string
	Name           string
	ProductID      int64
	OutputQuantity decimal.Decimal
	Lines          []BOMLine
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// BOMLine is one component requirement per batch. LineOrder values need not
// be contiguous; they define consumption order.
type BOMLine struct {
	ID          int64
	BOMID       int64
	ComponentID int64
	Quantity    decimal.Decimal
	LineOrder   int
}

// ProductionOrder is a work order instance for a BOM. Inventory is untouched
// until completion: start and cancel are pure status changes, so a cancelled
// order never needs consumption reversal.
type ProductionOrder struct {
	ID                 int64
	Number             string
	BOMID              int64
	ProductID          int64
	Quantity           decimal.Decimal
	Status             OrderStatus
	OrderDate          time.Time
	PlannedDate        time.Time
	StartedAt          *time.Time
	CompletedAt        *time.Time
	TotalComponentCost decimal.Decimal
	UnitCost           decimal.Decimal
	Note               string
	CreatedBy          int64
	CompletedBy        int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// StateError reports an action not legal for the order's current status.
type StateError struct {
	OrderID int64
	Status  OrderStatus
	Action  string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("production: cannot %s order %d in status %s", e.Action, e.OrderID, e.Status)
}

// ShortageError reports a component the completion could not cover. No
// consumption from the same completion remains applied.
type ShortageError struct {
	OrderID     int64
	ComponentID int64
	Requested   decimal.Decimal
	Available   decimal.Decimal
}

func (e *ShortageError) Error() string {
	return fmt.Sprintf("production: order %d short on component %d: requested %s, available %s",
		e.OrderID, e.ComponentID, e.Requested.String(), e.Available.String())
}

// ErrSelfReference rejects a BOM line whose component is the BOM's own output.
var ErrSelfReference = errors.New("production: BOM component cannot be its own output product")

// ErrInvalidOutputQuantity rejects a non-positive batch size.
var ErrInvalidOutputQuantity = errors.New("production: output quantity must be positive")

// ErrInvalidOrderQuantity rejects a non-positive order quantity.
var ErrInvalidOrderQuantity = errors.New("production: order quantity must be positive")

// ErrEmptyBOM rejects a BOM without component lines.
var ErrEmptyBOM = errors.New("production: BOM requires at least one line")

// ErrOrderNotFound indicates a missing production order.
var ErrOrderNotFound = errors.New("production: order not found")

// ErrBOMNotFound indicates a missing bill of material.
var ErrBOMNotFound = errors.New("production: bill of material not found")
