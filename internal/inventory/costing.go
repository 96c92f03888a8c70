package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// costEngine is the per-policy strategy behind receive and consume. There are
// exactly two implementations; dispatch is a flat lookup in engineFor.
type costEngine interface {
	// receive adds qty at unitCost and returns the updated balance.
	receive(ctx context.Context, tx TxRepository, bal Balance, qty, unitCost decimal.Decimal, layerDate time.Time) (Balance, error)
	// consume removes qty and returns the updated balance plus the cost
	// removed, valued per the policy as it stood before this consumption.
	consume(ctx context.Context, tx TxRepository, bal Balance, qty decimal.Decimal) (Balance, decimal.Decimal, error)
}

func engineFor(method CostingMethod) (costEngine, error) {
	switch method {
	case CostingWeightedAverage:
		return averageCostEngine{}, nil
	case CostingFifo:
		return fifoCostEngine{}, nil
	}
	return nil, ErrUnknownCostingMethod
}

// averageCostEngine keeps a single running average per product.
type averageCostEngine struct{}

func (averageCostEngine) receive(_ context.Context, _ TxRepository, bal Balance, qty, unitCost decimal.Decimal, _ time.Time) (Balance, error) {
	bal.Quantity = bal.Quantity.Add(qty)
	bal.TotalCost = RoundMoney(bal.TotalCost.Add(qty.Mul(unitCost)))
	bal.refreshAverage()
	return bal, nil
}

func (averageCostEngine) consume(_ context.Context, _ TxRepository, bal Balance, qty decimal.Decimal) (Balance, decimal.Decimal, error) {
	if qty.GreaterThan(bal.Quantity) {
		return bal, decimal.Zero, &InsufficientStockError{ProductID: bal.ProductID, Requested: qty, Available: bal.Quantity}
	}
	// The rounded removal can exceed the stored total by a cent while stock
	// remains; clamp so the aggregate never goes negative.
	costRemoved := decimal.Min(RoundMoney(qty.Mul(bal.AverageCost)), bal.TotalCost)
	bal.Quantity = bal.Quantity.Sub(qty)
	bal.TotalCost = bal.TotalCost.Sub(costRemoved)
	bal.refreshAverage()
	return bal, costRemoved, nil
}

// fifoCostEngine values consumption against receipt layers in ascending
// (layer date, insertion) order. The balance aggregate is maintained
// identically to the average engine so it stays a valid fast read-model, but
// it never drives FIFO cost calculation.
type fifoCostEngine struct{}

func (fifoCostEngine) receive(ctx context.Context, tx TxRepository, bal Balance, qty, unitCost decimal.Decimal, layerDate time.Time) (Balance, error) {
	layer := FifoLayer{
		ProductID:         bal.ProductID,
		LayerDate:         layerDate,
		OriginalQuantity:  qty,
		RemainingQuantity: qty,
		UnitCost:          unitCost,
	}
	if _, err := tx.InsertLayer(ctx, layer); err != nil {
		return bal, err
	}
	bal.Quantity = bal.Quantity.Add(qty)
	bal.TotalCost = RoundMoney(bal.TotalCost.Add(qty.Mul(unitCost)))
	bal.refreshAverage()
	return bal, nil
}

func (fifoCostEngine) consume(ctx context.Context, tx TxRepository, bal Balance, qty decimal.Decimal) (Balance, decimal.Decimal, error) {
	layers, err := tx.ActiveLayersForUpdate(ctx, bal.ProductID)
	if err != nil {
		return bal, decimal.Zero, err
	}
	// Pre-flight availability check: either the full quantity is consumed or
	// no layer is touched.
	available := decimal.Zero
	for _, layer := range layers {
		available = available.Add(layer.RemainingQuantity)
	}
	if available.LessThan(qty) {
		return bal, decimal.Zero, &InsufficientStockError{ProductID: bal.ProductID, Requested: qty, Available: available}
	}

	outstanding := qty
	cost := decimal.Zero
	for i := range layers {
		if outstanding.IsZero() {
			break
		}
		layer := layers[i]
		take := decimal.Min(layer.RemainingQuantity, outstanding)
		cost = cost.Add(take.Mul(layer.UnitCost))
		layer.RemainingQuantity = layer.RemainingQuantity.Sub(take)
		layer.FullyConsumed = layer.RemainingQuantity.IsZero()
		if err := tx.UpdateLayer(ctx, layer); err != nil {
			return bal, decimal.Zero, err
		}
		outstanding = outstanding.Sub(take)
	}
	// Same rounding clamp as the average engine.
	costRemoved := decimal.Min(RoundMoney(cost), bal.TotalCost)

	bal.Quantity = bal.Quantity.Sub(qty)
	bal.TotalCost = bal.TotalCost.Sub(costRemoved)
	bal.refreshAverage()
	return bal, costRemoved, nil
}
