package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// CostingMethod selects the algorithm used to value stock movements.
type CostingMethod string

const (
	// CostingWeightedAverage values consumption at the running average cost.
	CostingWeightedAverage CostingMethod = "WEIGHTED_AVERAGE"
	// CostingFifo values consumption against purchase layers, oldest first.
	CostingFifo CostingMethod = "FIFO"
)

// Valid reports whether the method is a known costing method.
func (m CostingMethod) Valid() bool {
	return m == CostingWeightedAverage || m == CostingFifo
}

// TransactionType enumerates supported inventory movements. Direction is
// implied by the type; quantity on a transaction is always positive.
type TransactionType string

const (
	TransactionPurchase      TransactionType = "PURCHASE"
	TransactionSale          TransactionType = "SALE"
	TransactionAdjustmentIn  TransactionType = "ADJUSTMENT_IN"
	TransactionAdjustmentOut TransactionType = "ADJUSTMENT_OUT"
	TransactionProductionIn  TransactionType = "PRODUCTION_IN"
	TransactionProductionOut TransactionType = "PRODUCTION_OUT"
	TransactionTransferIn    TransactionType = "TRANSFER_IN"
	TransactionTransferOut   TransactionType = "TRANSFER_OUT"
)

// Inbound reports whether the type adds stock.
func (t TransactionType) Inbound() bool {
	switch t {
	case TransactionPurchase, TransactionAdjustmentIn, TransactionProductionIn, TransactionTransferIn:
		return true
	}
	return false
}

// Valid reports whether the type is one of the eight movement types.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionPurchase, TransactionSale, TransactionAdjustmentIn, TransactionAdjustmentOut,
		TransactionProductionIn, TransactionProductionOut, TransactionTransferIn, TransactionTransferOut:
		return true
	}
	return false
}

// Fixed decimal scales. Money amounts carry two fractional digits, unit and
// average costs four. Values in this package are non-negative, so shopspring's
// half-away-from-zero Round behaves as round-half-up.
const (
	MoneyScale = 2
	CostScale  = 4
)

// RoundMoney rounds an amount to the money scale.
func RoundMoney(d decimal.Decimal) decimal.Decimal { return d.Round(MoneyScale) }

// RoundCost rounds a unit cost to the cost scale.
func RoundCost(d decimal.Decimal) decimal.Decimal { return d.Round(CostScale) }

// Balance is the per-product stock aggregate. It is created lazily on the
// first movement for a product and never deleted, so the average-cost memory
// survives a zero balance.
type Balance struct {
	ProductID   int64
	Quantity    decimal.Decimal
	TotalCost   decimal.Decimal
	AverageCost decimal.Decimal
	UpdatedAt   time.Time
}

// refreshAverage recomputes the derived average cost. A zero quantity flushes
// cost residue so rounding drift cannot accumulate across stock-outs.
func (b *Balance) refreshAverage() {
	if b.Quantity.IsZero() {
		b.TotalCost = decimal.Zero
		b.AverageCost = decimal.Zero
		return
	}
	b.AverageCost = RoundCost(b.TotalCost.Div(b.Quantity))
}

// FifoLayer is one inbound receipt for a FIFO-costed product. Layers are
// consumed in (LayerDate, ID) order and are never deleted, only exhausted,
// preserving the full cost lineage.
type FifoLayer struct {
	ID                int64
	ProductID         int64
	LayerDate         time.Time
	OriginalQuantity  decimal.Decimal
	RemainingQuantity decimal.Decimal
	UnitCost          decimal.Decimal
	FullyConsumed     bool
	CreatedAt         time.Time
}

// Transaction is one append-only ledger entry. Corrections are modelled as new
// offsetting transactions, never edits; the journal link is the only field set
// after insertion.
type Transaction struct {
	ID             int64
	ProductID      int64
	Type           TransactionType
	Quantity       decimal.Decimal
	UnitCost       decimal.Decimal
	TotalCost      decimal.Decimal
	SellingPrice   decimal.NullDecimal
	BalanceAfter   decimal.Decimal
	TotalCostAfter decimal.Decimal
	JournalEntryID int64
	RefModule      string
	RefID          string
	Note           string
	PostedAt       time.Time
	CreatedBy      int64
	CreatedAt      time.Time
}

// TransactionFilter narrows ledger listings.
type TransactionFilter struct {
	ProductID int64
	Types     []TransactionType
	From      time.Time
	To        time.Time
	Limit     int
}

// ProductInfo is the slice of product masterdata the engine needs.
type ProductInfo struct {
	ID            int64
	CostingMethod CostingMethod
	MinimumStock  decimal.Decimal
}

// InsufficientStockError reports a consumption request exceeding available
// stock. The movement is rejected outright; the engine never creates negative
// inventory.
type InsufficientStockError struct {
	ProductID int64
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock for product %d: requested %s, available %s",
		e.ProductID, e.Requested.String(), e.Available.String())
}

// ErrInvalidQuantity indicates a non-positive quantity input.
var ErrInvalidQuantity = errors.New("inventory: quantity must be positive")

// ErrInvalidUnitCost indicates a negative unit cost input.
var ErrInvalidUnitCost = errors.New("inventory: unit cost must be >= 0")

// ErrInvalidTransactionType indicates an unknown movement type, or a type
// whose direction does not match the requested operation.
var ErrInvalidTransactionType = errors.New("inventory: invalid transaction type for operation")

// ErrUnknownCostingMethod indicates a product configured with a method the
// engine does not implement.
var ErrUnknownCostingMethod = errors.New("inventory: unknown costing method")

// ErrConcurrentModification indicates a lock or serialization conflict on the
// product aggregate. The caller retries the whole operation.
var ErrConcurrentModification = errors.New("inventory: concurrent modification, retry")
