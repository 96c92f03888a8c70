package inventory

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// ReplayStore provides the reads a ledger replay needs.
type ReplayStore interface {
	ListAllTransactions(ctx context.Context) ([]Transaction, error)
	ListBalances(ctx context.Context) ([]Balance, error)
	ListLayers(ctx context.Context, productID int64, activeOnly bool) ([]FifoLayer, error)
}

// RebuiltState is the balance and layer state derived from the ledger alone.
type RebuiltState struct {
	Balances map[int64]Balance
	Layers   map[int64][]FifoLayer
}

// Mismatch describes one divergence between stored state and the ledger.
type Mismatch struct {
	ProductID int64
	Field     string
	Stored    string
	Rebuilt   string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("product %d %s: stored=%s rebuilt=%s", m.ProductID, m.Field, m.Stored, m.Rebuilt)
}

// Replayer rebuilds the derived read-models from the append-only transaction
// ledger. The ledger is the source of truth; balances and FIFO layers are
// materialized caches that must be reproducible from it.
type Replayer struct {
	store    ReplayStore
	products ProductPort
}

// NewReplayer builds Replayer.
func NewReplayer(store ReplayStore, products ProductPort) *Replayer {
	return &Replayer{store: store, products: products}
}

// Rebuild folds the full ledger from empty state using the same costing
// arithmetic the engine applies online.
func (r *Replayer) Rebuild(ctx context.Context) (RebuiltState, error) {
	txns, err := r.store.ListAllTransactions(ctx)
	if err != nil {
		return RebuiltState{}, err
	}
	state := RebuiltState{
		Balances: make(map[int64]Balance),
		Layers:   make(map[int64][]FifoLayer),
	}
	methods := make(map[int64]CostingMethod)
	for _, txn := range txns {
		method, ok := methods[txn.ProductID]
		if !ok {
			info, err := r.products.CostingInfo(ctx, txn.ProductID)
			if err != nil {
				return RebuiltState{}, fmt.Errorf("inventory: replay product %d: %w", txn.ProductID, err)
			}
			method = info.CostingMethod
			methods[txn.ProductID] = method
		}
		bal := state.Balances[txn.ProductID]
		bal.ProductID = txn.ProductID
		if txn.Type.Inbound() {
			bal.Quantity = bal.Quantity.Add(txn.Quantity)
			bal.TotalCost = RoundMoney(bal.TotalCost.Add(txn.Quantity.Mul(txn.UnitCost)))
			bal.refreshAverage()
			if method == CostingFifo {
				layers := append(state.Layers[txn.ProductID], FifoLayer{
					ProductID:         txn.ProductID,
					LayerDate:         txn.PostedAt,
					OriginalQuantity:  txn.Quantity,
					RemainingQuantity: txn.Quantity,
					UnitCost:          txn.UnitCost,
				})
				// A backdated receipt slots in before already-posted layers.
				// The stable sort keeps ledger order among equal dates, so
				// consumption order matches the online (layer date, id) walk.
				sort.SliceStable(layers, func(i, j int) bool {
					return layers[i].LayerDate.Before(layers[j].LayerDate)
				})
				state.Layers[txn.ProductID] = layers
			}
		} else {
			var costRemoved decimal.Decimal
			switch method {
			case CostingFifo:
				costRemoved, err = consumeRebuiltLayers(state.Layers[txn.ProductID], txn)
				if err != nil {
					return RebuiltState{}, err
				}
			default:
				costRemoved = RoundMoney(txn.Quantity.Mul(bal.AverageCost))
			}
			if txn.Quantity.GreaterThan(bal.Quantity) {
				return RebuiltState{}, fmt.Errorf("inventory: replay tx %d drives product %d negative", txn.ID, txn.ProductID)
			}
			// Same rounding clamp as the engines, keeping the fold bit-for-bit.
			costRemoved = decimal.Min(costRemoved, bal.TotalCost)
			bal.Quantity = bal.Quantity.Sub(txn.Quantity)
			bal.TotalCost = bal.TotalCost.Sub(costRemoved)
			bal.refreshAverage()
		}
		state.Balances[txn.ProductID] = bal
	}
	return state, nil
}

// consumeRebuiltLayers replays a FIFO consumption against the in-memory
// layers, which Rebuild keeps in (layer date, insertion) order.
func consumeRebuiltLayers(layers []FifoLayer, txn Transaction) (decimal.Decimal, error) {
	outstanding := txn.Quantity
	cost := decimal.Zero
	for i := range layers {
		if outstanding.IsZero() {
			break
		}
		if layers[i].FullyConsumed {
			continue
		}
		take := decimal.Min(layers[i].RemainingQuantity, outstanding)
		cost = cost.Add(take.Mul(layers[i].UnitCost))
		layers[i].RemainingQuantity = layers[i].RemainingQuantity.Sub(take)
		layers[i].FullyConsumed = layers[i].RemainingQuantity.IsZero()
		outstanding = outstanding.Sub(take)
	}
	if !outstanding.IsZero() {
		return decimal.Zero, fmt.Errorf("inventory: replay tx %d exceeds layer stock for product %d", txn.ID, txn.ProductID)
	}
	return RoundMoney(cost), nil
}

// Verify compares the stored balances and layers against a fresh rebuild and
// returns every divergence. An empty result means the materialized state is
// exactly derivable from the ledger.
func (r *Replayer) Verify(ctx context.Context) ([]Mismatch, error) {
	rebuilt, err := r.Rebuild(ctx)
	if err != nil {
		return nil, err
	}
	stored, err := r.store.ListBalances(ctx)
	if err != nil {
		return nil, err
	}
	var mismatches []Mismatch
	seen := make(map[int64]struct{}, len(stored))
	for _, bal := range stored {
		seen[bal.ProductID] = struct{}{}
		want := rebuilt.Balances[bal.ProductID]
		if !bal.Quantity.Equal(want.Quantity) {
			mismatches = append(mismatches, Mismatch{bal.ProductID, "quantity", bal.Quantity.String(), want.Quantity.String()})
		}
		if !bal.TotalCost.Equal(want.TotalCost) {
			mismatches = append(mismatches, Mismatch{bal.ProductID, "total_cost", bal.TotalCost.String(), want.TotalCost.String()})
		}
		info, err := r.products.CostingInfo(ctx, bal.ProductID)
		if err != nil {
			return nil, err
		}
		if info.CostingMethod != CostingFifo {
			continue
		}
		layers, err := r.store.ListLayers(ctx, bal.ProductID, false)
		if err != nil {
			return nil, err
		}
		wantLayers := rebuilt.Layers[bal.ProductID]
		if len(layers) != len(wantLayers) {
			mismatches = append(mismatches, Mismatch{bal.ProductID, "layer_count",
				fmt.Sprintf("%d", len(layers)), fmt.Sprintf("%d", len(wantLayers))})
			continue
		}
		for i, layer := range layers {
			if !layer.RemainingQuantity.Equal(wantLayers[i].RemainingQuantity) {
				mismatches = append(mismatches, Mismatch{bal.ProductID,
					fmt.Sprintf("layer[%d].remaining", i),
					layer.RemainingQuantity.String(), wantLayers[i].RemainingQuantity.String()})
			}
		}
	}
	for productID, want := range rebuilt.Balances {
		if _, ok := seen[productID]; ok {
			continue
		}
		mismatches = append(mismatches, Mismatch{productID, "quantity", "<missing>", want.Quantity.String()})
	}
	return mismatches, nil
}
