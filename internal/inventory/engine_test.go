package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func runEngine(t *testing.T, store *memoryStore, products ProductPort, fn func(ctx context.Context, engine *Engine, tx TxRepository) error) error {
	t.Helper()
	engine := NewEngine(products)
	return store.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		return fn(ctx, engine, tx)
	})
}

func TestWeightedAverageReceiveAndConsume(t *testing.T) {
	store := newMemoryStore()
	products := staticProducts{1: {ID: 1, CostingMethod: CostingWeightedAverage}}

	err := runEngine(t, store, products, func(ctx context.Context, engine *Engine, tx TxRepository) error {
		if _, err := engine.Receive(ctx, tx, ReceiveInput{ProductID: 1, Quantity: dec(t, "10"), UnitCost: dec(t, "10.00")}); err != nil {
			return err
		}
		_, err := engine.Receive(ctx, tx, ReceiveInput{ProductID: 1, Quantity: dec(t, "10"), UnitCost: dec(t, "20.00")})
		return err
	})
	require.NoError(t, err)

	bal, err := store.GetBalance(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, bal.Quantity.Equal(dec(t, "20")), "quantity %s", bal.Quantity)
	require.True(t, bal.TotalCost.Equal(dec(t, "300.00")), "total cost %s", bal.TotalCost)
	require.True(t, bal.AverageCost.Equal(dec(t, "15")), "average %s", bal.AverageCost)

	var txn Transaction
	err = runEngine(t, store, products, func(ctx context.Context, engine *Engine, tx TxRepository) error {
		var err error
		txn, err = engine.Consume(ctx, tx, ConsumeInput{ProductID: 1, Quantity: dec(t, "5")})
		return err
	})
	require.NoError(t, err)
	require.Equal(t, TransactionSale, txn.Type)
	require.True(t, txn.TotalCost.Equal(dec(t, "75.00")), "cost removed %s", txn.TotalCost)
	require.True(t, txn.UnitCost.Equal(dec(t, "15")), "unit cost %s", txn.UnitCost)
	require.True(t, txn.BalanceAfter.Equal(dec(t, "15")))
	require.True(t, txn.TotalCostAfter.Equal(dec(t, "225.00")))
}

func TestWeightedAverageResidueFlushedOnStockOut(t *testing.T) {
	store := newMemoryStore()
	products := staticProducts{1: {ID: 1, CostingMethod: CostingWeightedAverage}}

	// Mixed receipts whose rounded average times the full quantity lands
	// short of the stored total cost. The stock-out must still zero the
	// aggregate instead of carrying the residue forward.
	err := runEngine(t, store, products, func(ctx context.Context, engine *Engine, tx TxRepository) error {
		if _, err := engine.Receive(ctx, tx, ReceiveInput{ProductID: 1, Quantity: dec(t, "1"), UnitCost: dec(t, "10.00")}); err != nil {
			return err
		}
		_, err := engine.Receive(ctx, tx, ReceiveInput{ProductID: 1, Quantity: dec(t, "299"), UnitCost: dec(t, "0.0001")})
		return err
	})
	require.NoError(t, err)

	bal, err := store.GetBalance(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, bal.TotalCost.Equal(dec(t, "10.03")), "total cost %s", bal.TotalCost)
	require.True(t, bal.AverageCost.Equal(dec(t, "0.0334")), "average %s", bal.AverageCost)

	var txn Transaction
	err = runEngine(t, store, products, func(ctx context.Context, engine *Engine, tx TxRepository) error {
		var err error
		txn, err = engine.Consume(ctx, tx, ConsumeInput{ProductID: 1, Quantity: dec(t, "300")})
		return err
	})
	require.NoError(t, err)
	require.True(t, txn.TotalCost.Equal(dec(t, "10.02")), "cost removed %s", txn.TotalCost)

	bal, err = store.GetBalance(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, bal.Quantity.IsZero())
	require.True(t, bal.TotalCost.IsZero(), "residue not flushed: %s", bal.TotalCost)
	require.True(t, bal.AverageCost.IsZero())
}

func TestFifoConsumeSpansLayers(t *testing.T) {
	store := newMemoryStore()
	products := staticProducts{2: {ID: 2, CostingMethod: CostingFifo}}
	d1 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)

	err := runEngine(t, store, products, func(ctx context.Context, engine *Engine, tx TxRepository) error {
		if _, err := engine.Receive(ctx, tx, ReceiveInput{ProductID: 2, Quantity: dec(t, "10"), UnitCost: dec(t, "5.00"), Date: d1}); err != nil {
			return err
		}
		_, err := engine.Receive(ctx, tx, ReceiveInput{ProductID: 2, Quantity: dec(t, "10"), UnitCost: dec(t, "7.00"), Date: d2})
		return err
	})
	require.NoError(t, err)

	var txn Transaction
	err = runEngine(t, store, products, func(ctx context.Context, engine *Engine, tx TxRepository) error {
		var err error
		txn, err = engine.Consume(ctx, tx, ConsumeInput{ProductID: 2, Quantity: dec(t, "15")})
		return err
	})
	require.NoError(t, err)
	require.True(t, txn.TotalCost.Equal(dec(t, "85.00")), "cost removed %s", txn.TotalCost)
	require.True(t, txn.UnitCost.Equal(dec(t, "5.6667")), "blended unit cost %s", txn.UnitCost)

	layers, err := store.ListLayers(context.Background(), 2, false)
	require.NoError(t, err)
	require.Len(t, layers, 2)
	require.True(t, layers[0].FullyConsumed)
	require.True(t, layers[0].RemainingQuantity.IsZero())
	require.False(t, layers[1].FullyConsumed)
	require.True(t, layers[1].RemainingQuantity.Equal(dec(t, "5")))

	active, err := store.ListLayers(context.Background(), 2, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, layers[1].ID, active[0].ID)

	bal, err := store.GetBalance(context.Background(), 2)
	require.NoError(t, err)
	require.True(t, bal.Quantity.Equal(dec(t, "5")))
	require.True(t, bal.TotalCost.Equal(dec(t, "35.00")))
	require.True(t, bal.AverageCost.Equal(dec(t, "7")))
}

func TestFifoConsumesOldestLayerDateFirst(t *testing.T) {
	store := newMemoryStore()
	products := staticProducts{3: {ID: 3, CostingMethod: CostingFifo}}
	later := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)
	earlier := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	// The later-dated receipt is posted first. Consumption order follows the
	// layer date, not insertion order.
	err := runEngine(t, store, products, func(ctx context.Context, engine *Engine, tx TxRepository) error {
		if _, err := engine.Receive(ctx, tx, ReceiveInput{ProductID: 3, Quantity: dec(t, "4"), UnitCost: dec(t, "9.00"), Date: later}); err != nil {
			return err
		}
		_, err := engine.Receive(ctx, tx, ReceiveInput{ProductID: 3, Quantity: dec(t, "4"), UnitCost: dec(t, "3.00"), Date: earlier})
		return err
	})
	require.NoError(t, err)

	var txn Transaction
	err = runEngine(t, store, products, func(ctx context.Context, engine *Engine, tx TxRepository) error {
		var err error
		txn, err = engine.Consume(ctx, tx, ConsumeInput{ProductID: 3, Quantity: dec(t, "4")})
		return err
	})
	require.NoError(t, err)
	require.True(t, txn.TotalCost.Equal(dec(t, "12.00")), "expected earlier layer cost, got %s", txn.TotalCost)

	active, err := store.ListLayers(context.Background(), 3, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.True(t, active[0].UnitCost.Equal(dec(t, "9.00")))
}

func TestFifoInsufficientStockLeavesLayersUntouched(t *testing.T) {
	store := newMemoryStore()
	products := staticProducts{2: {ID: 2, CostingMethod: CostingFifo}}

	err := runEngine(t, store, products, func(ctx context.Context, engine *Engine, tx TxRepository) error {
		_, err := engine.Receive(ctx, tx, ReceiveInput{ProductID: 2, Quantity: dec(t, "8"), UnitCost: dec(t, "5.00")})
		return err
	})
	require.NoError(t, err)

	err = runEngine(t, store, products, func(ctx context.Context, engine *Engine, tx TxRepository) error {
		_, err := engine.Consume(ctx, tx, ConsumeInput{ProductID: 2, Quantity: dec(t, "9")})
		return err
	})
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, int64(2), insufficient.ProductID)
	require.True(t, insufficient.Requested.Equal(dec(t, "9")))
	require.True(t, insufficient.Available.Equal(dec(t, "8")))

	layers, err := store.ListLayers(context.Background(), 2, false)
	require.NoError(t, err)
	require.Len(t, layers, 1)
	require.True(t, layers[0].RemainingQuantity.Equal(dec(t, "8")))
}

func TestWeightedAverageInsufficientStock(t *testing.T) {
	store := newMemoryStore()
	products := staticProducts{1: {ID: 1, CostingMethod: CostingWeightedAverage}}

	err := runEngine(t, store, products, func(ctx context.Context, engine *Engine, tx TxRepository) error {
		_, err := engine.Consume(ctx, tx, ConsumeInput{ProductID: 1, Quantity: dec(t, "1")})
		return err
	})
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.True(t, insufficient.Available.IsZero())
}

func TestReceiveRoundsUnitCostBeforePosting(t *testing.T) {
	store := newMemoryStore()
	products := staticProducts{1: {ID: 1, CostingMethod: CostingWeightedAverage}}

	var txn Transaction
	err := runEngine(t, store, products, func(ctx context.Context, engine *Engine, tx TxRepository) error {
		var err error
		txn, err = engine.Receive(ctx, tx, ReceiveInput{ProductID: 1, Quantity: dec(t, "3"), UnitCost: dec(t, "1.23456")})
		return err
	})
	require.NoError(t, err)
	require.True(t, txn.UnitCost.Equal(dec(t, "1.2346")), "unit cost %s", txn.UnitCost)
	require.True(t, txn.TotalCost.Equal(dec(t, "3.70")), "total cost %s", txn.TotalCost)
}

func TestMovementValidation(t *testing.T) {
	store := newMemoryStore()
	products := staticProducts{1: {ID: 1, CostingMethod: CostingWeightedAverage}}

	cases := []struct {
		name string
		run  func(ctx context.Context, engine *Engine, tx TxRepository) error
		want error
	}{
		{
			name: "zero quantity receive",
			run: func(ctx context.Context, engine *Engine, tx TxRepository) error {
				_, err := engine.Receive(ctx, tx, ReceiveInput{ProductID: 1, Quantity: decimal.Zero, UnitCost: dec(t, "1")})
				return err
			},
			want: ErrInvalidQuantity,
		},
		{
			name: "negative unit cost",
			run: func(ctx context.Context, engine *Engine, tx TxRepository) error {
				_, err := engine.Receive(ctx, tx, ReceiveInput{ProductID: 1, Quantity: dec(t, "1"), UnitCost: dec(t, "-0.01")})
				return err
			},
			want: ErrInvalidUnitCost,
		},
		{
			name: "outbound type on receive",
			run: func(ctx context.Context, engine *Engine, tx TxRepository) error {
				_, err := engine.Receive(ctx, tx, ReceiveInput{ProductID: 1, Type: TransactionSale, Quantity: dec(t, "1"), UnitCost: dec(t, "1")})
				return err
			},
			want: ErrInvalidTransactionType,
		},
		{
			name: "inbound type on consume",
			run: func(ctx context.Context, engine *Engine, tx TxRepository) error {
				_, err := engine.Consume(ctx, tx, ConsumeInput{ProductID: 1, Type: TransactionPurchase, Quantity: dec(t, "1")})
				return err
			},
			want: ErrInvalidTransactionType,
		},
		{
			name: "zero quantity consume",
			run: func(ctx context.Context, engine *Engine, tx TxRepository) error {
				_, err := engine.Consume(ctx, tx, ConsumeInput{ProductID: 1, Quantity: decimal.Zero})
				return err
			},
			want: ErrInvalidQuantity,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := runEngine(t, store, products, tc.run)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestMovementRejectsMalformedRefID(t *testing.T) {
	store := newMemoryStore()
	products := staticProducts{1: {ID: 1, CostingMethod: CostingWeightedAverage}}

	err := runEngine(t, store, products, func(ctx context.Context, engine *Engine, tx TxRepository) error {
		_, err := engine.Receive(ctx, tx, ReceiveInput{ProductID: 1, Quantity: dec(t, "1"), UnitCost: dec(t, "1"), RefID: "not-a-uuid"})
		return err
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid ref id")
}

func TestUnknownCostingMethodRejected(t *testing.T) {
	store := newMemoryStore()
	products := staticProducts{1: {ID: 1, CostingMethod: CostingMethod("LIFO")}}

	err := runEngine(t, store, products, func(ctx context.Context, engine *Engine, tx TxRepository) error {
		_, err := engine.Receive(ctx, tx, ReceiveInput{ProductID: 1, Quantity: dec(t, "1"), UnitCost: dec(t, "1")})
		return err
	})
	require.ErrorIs(t, err, ErrUnknownCostingMethod)
}

func TestWeightedAverageConsumeClampsRoundedOvershoot(t *testing.T) {
	store := newMemoryStore()
	products := staticProducts{1: {ID: 1, CostingMethod: CostingWeightedAverage}}

	// Stored total is 0.01 but the rounded average times 150 is 0.02. A
	// partial consumption must not pull the total cost below zero.
	err := runEngine(t, store, products, func(ctx context.Context, engine *Engine, tx TxRepository) error {
		if _, err := engine.Receive(ctx, tx, ReceiveInput{ProductID: 1, Quantity: dec(t, "100"), UnitCost: dec(t, "0.0001")}); err != nil {
			return err
		}
		_, err := engine.Receive(ctx, tx, ReceiveInput{ProductID: 1, Quantity: dec(t, "100"), UnitCost: dec(t, "0")})
		return err
	})
	require.NoError(t, err)

	var txn Transaction
	err = runEngine(t, store, products, func(ctx context.Context, engine *Engine, tx TxRepository) error {
		var err error
		txn, err = engine.Consume(ctx, tx, ConsumeInput{ProductID: 1, Quantity: dec(t, "150")})
		return err
	})
	require.NoError(t, err)
	require.True(t, txn.TotalCost.Equal(dec(t, "0.01")), "cost removed %s", txn.TotalCost)

	bal, err := store.GetBalance(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, bal.Quantity.Equal(dec(t, "50")))
	require.False(t, bal.TotalCost.IsNegative(), "total cost went negative: %s", bal.TotalCost)
	require.True(t, bal.TotalCost.IsZero())
	require.False(t, bal.AverageCost.IsNegative(), "average went negative: %s", bal.AverageCost)
}

func TestFifoConsumeClampsRoundedOvershoot(t *testing.T) {
	store := newMemoryStore()
	products := staticProducts{2: {ID: 2, CostingMethod: CostingFifo}}
	day := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	// Two half consumptions of a 0.01 layer each round to 0.01; the second
	// must clamp to the remaining total instead of going to -0.01.
	err := runEngine(t, store, products, func(ctx context.Context, engine *Engine, tx TxRepository) error {
		_, err := engine.Receive(ctx, tx, ReceiveInput{ProductID: 2, Quantity: dec(t, "100"), UnitCost: dec(t, "0.0001"), Date: day})
		return err
	})
	require.NoError(t, err)

	err = runEngine(t, store, products, func(ctx context.Context, engine *Engine, tx TxRepository) error {
		if _, err := engine.Consume(ctx, tx, ConsumeInput{ProductID: 2, Quantity: dec(t, "50")}); err != nil {
			return err
		}
		_, err := engine.Consume(ctx, tx, ConsumeInput{ProductID: 2, Quantity: dec(t, "50")})
		return err
	})
	require.NoError(t, err)

	bal, err := store.GetBalance(context.Background(), 2)
	require.NoError(t, err)
	require.True(t, bal.Quantity.IsZero())
	require.False(t, bal.TotalCost.IsNegative(), "total cost went negative: %s", bal.TotalCost)
	require.True(t, bal.TotalCost.IsZero())
}

// lockRecorder traces the order balance row locks are taken in.
type lockRecorder struct {
	TxRepository
	locked []int64
}

func (r *lockRecorder) GetBalanceForUpdate(ctx context.Context, productID int64) (Balance, error) {
	r.locked = append(r.locked, productID)
	return r.TxRepository.GetBalanceForUpdate(ctx, productID)
}

func TestLockProductsAcquiresSortedUniqueLocks(t *testing.T) {
	store := newMemoryStore()
	engine := NewEngine(staticProducts{})

	var locked []int64
	err := store.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		rec := &lockRecorder{TxRepository: tx}
		if err := engine.LockProducts(ctx, rec, []int64{9, 2, 5, 2, 9, 1}); err != nil {
			return err
		}
		locked = rec.locked
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 5, 9}, locked)
}
