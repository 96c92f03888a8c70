package inventory

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type recordingAudit struct {
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type recordingIntegration struct {
	events []MovementPostedEvent
	err    error
}

func (h *recordingIntegration) HandleInventoryMovementPosted(_ context.Context, evt MovementPostedEvent) error {
	h.events = append(h.events, evt)
	return h.err
}

func newTestService(store *memoryStore, products ProductPort, audit AuditPort, integration IntegrationHandler) *Service {
	engine := NewEngine(products)
	logger := slog.New(slog.DiscardHandler)
	return NewService(store, engine, products, audit, nil, nil, integration, logger)
}

func TestServiceReceiveFansOut(t *testing.T) {
	store := newMemoryStore()
	products := staticProducts{1: {ID: 1, CostingMethod: CostingWeightedAverage}}
	audit := &recordingAudit{}
	integration := &recordingIntegration{}
	svc := newTestService(store, products, audit, integration)

	txn, err := svc.Receive(context.Background(), ReceiveInput{
		ProductID: 1, Quantity: dec(t, "4"), UnitCost: dec(t, "2.50"), ActorID: 7,
	})
	require.NoError(t, err)
	require.NotZero(t, txn.ID)

	require.Len(t, audit.logs, 1)
	require.Equal(t, "inventory:PURCHASE", audit.logs[0].Action)
	require.Equal(t, int64(7), audit.logs[0].ActorID)

	require.Len(t, integration.events, 1)
	require.Equal(t, txn.ID, integration.events[0].TransactionID)
	require.True(t, integration.events[0].TotalCost.Equal(dec(t, "10.00")))
}

func TestServiceConsumeIntegrationFailureDoesNotUndoMovement(t *testing.T) {
	store := newMemoryStore()
	products := staticProducts{1: {ID: 1, CostingMethod: CostingWeightedAverage}}
	integration := &recordingIntegration{err: errors.New("ledger offline")}
	svc := newTestService(store, products, nil, integration)

	_, err := svc.Receive(context.Background(), ReceiveInput{ProductID: 1, Quantity: dec(t, "10"), UnitCost: dec(t, "1.00")})
	require.NoError(t, err)

	txn, err := svc.Consume(context.Background(), ConsumeInput{ProductID: 1, Quantity: dec(t, "3")})
	require.NoError(t, err)
	require.NotZero(t, txn.ID)

	bal, err := svc.GetBalance(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, bal.Quantity.Equal(dec(t, "7")))
}

func TestServiceGetBalanceDefaultsToZero(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, staticProducts{}, nil, nil)

	bal, err := svc.GetBalance(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, int64(42), bal.ProductID)
	require.True(t, bal.Quantity.IsZero())
	require.True(t, bal.TotalCost.IsZero())
}

func TestMovementSessionCommitsAllMovements(t *testing.T) {
	store := newMemoryStore()
	products := staticProducts{
		1: {ID: 1, CostingMethod: CostingWeightedAverage},
		2: {ID: 2, CostingMethod: CostingWeightedAverage},
	}
	integration := &recordingIntegration{}
	svc := newTestService(store, products, nil, integration)

	_, err := svc.Receive(context.Background(), ReceiveInput{ProductID: 1, Quantity: dec(t, "5"), UnitCost: dec(t, "2.00")})
	require.NoError(t, err)
	integration.events = nil

	err = svc.WithMovementSession(context.Background(), []int64{2, 1}, func(ctx context.Context, session *MovementSession) error {
		if _, err := session.Consume(ctx, ConsumeInput{ProductID: 1, Type: TransactionProductionOut, Quantity: dec(t, "5")}); err != nil {
			return err
		}
		_, err := session.Receive(ctx, ReceiveInput{ProductID: 2, Type: TransactionProductionIn, Quantity: dec(t, "1"), UnitCost: dec(t, "10.00")})
		return err
	})
	require.NoError(t, err)

	// Both movements committed and both were finalized after the commit.
	require.Len(t, integration.events, 2)
	bal1, err := svc.GetBalance(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, bal1.Quantity.IsZero())
	bal2, err := svc.GetBalance(context.Background(), 2)
	require.NoError(t, err)
	require.True(t, bal2.Quantity.Equal(dec(t, "1")))
}

func TestMovementSessionRollsBackOnError(t *testing.T) {
	store := newMemoryStore()
	products := staticProducts{
		1: {ID: 1, CostingMethod: CostingWeightedAverage},
		2: {ID: 2, CostingMethod: CostingWeightedAverage},
	}
	integration := &recordingIntegration{}
	svc := newTestService(store, products, nil, integration)

	_, err := svc.Receive(context.Background(), ReceiveInput{ProductID: 1, Quantity: dec(t, "5"), UnitCost: dec(t, "2.00")})
	require.NoError(t, err)
	integration.events = nil

	boom := errors.New("component shortage")
	err = svc.WithMovementSession(context.Background(), []int64{1, 2}, func(ctx context.Context, session *MovementSession) error {
		if _, err := session.Consume(ctx, ConsumeInput{ProductID: 1, Type: TransactionProductionOut, Quantity: dec(t, "3")}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	// Nothing committed, nothing finalized.
	require.Empty(t, integration.events)
	bal, err := svc.GetBalance(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, bal.Quantity.Equal(dec(t, "5")), "consume leaked through rollback: %s", bal.Quantity)

	txns, err := svc.ListTransactions(context.Background(), TransactionFilter{ProductID: 1})
	require.NoError(t, err)
	require.Len(t, txns, 1)
}

func TestServiceLowStockWarning(t *testing.T) {
	store := newMemoryStore()
	products := staticProducts{1: {ID: 1, CostingMethod: CostingWeightedAverage, MinimumStock: dec(t, "10")}}
	svc := newTestService(store, products, nil, nil)

	_, err := svc.Receive(context.Background(), ReceiveInput{ProductID: 1, Quantity: dec(t, "12"), UnitCost: dec(t, "1.00")})
	require.NoError(t, err)

	// Drops the balance below the configured minimum. The warning is advisory
	// only, the movement must still post.
	txn, err := svc.Consume(context.Background(), ConsumeInput{ProductID: 1, Quantity: dec(t, "5")})
	require.NoError(t, err)
	require.True(t, txn.BalanceAfter.Equal(dec(t, "7")))
}

func TestServiceListLayersRequiresProduct(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, staticProducts{}, nil, nil)

	_, err := svc.ListLayers(context.Background(), 0, true)
	require.Error(t, err)
}
