package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/accounting/journals"
	"github.com/meridian-erp/meridian-erp/internal/accounting/mappings"
	"github.com/meridian-erp/meridian-erp/internal/accounting/shared"
	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/production"
)

type fakeLedger struct {
	posted []journals.PostingInput
	nextID int64
	err    error
}

func (l *fakeLedger) PostJournal(_ context.Context, input journals.PostingInput) (journals.JournalEntry, error) {
	if l.err != nil {
		return journals.JournalEntry{}, l.err
	}
	l.posted = append(l.posted, input)
	l.nextID++
	return journals.JournalEntry{ID: l.nextID, SourceModule: input.SourceModule, SourceID: input.SourceID}, nil
}

type fakeMappings map[string]int64

func (m fakeMappings) Get(_ context.Context, module, key string) (mappings.AccountMapping, error) {
	accountID, ok := m[key]
	if !ok {
		return mappings.AccountMapping{}, shared.ErrMappingNotFound
	}
	return mappings.AccountMapping{Module: module, Key: key, AccountID: accountID}, nil
}

type fakeLink struct {
	links map[int64]int64
}

func (l *fakeLink) LinkJournalEntry(_ context.Context, transactionID, journalEntryID int64) error {
	if l.links == nil {
		l.links = make(map[int64]int64)
	}
	l.links[transactionID] = journalEntryID
	return nil
}

func testMappings() fakeMappings {
	return fakeMappings{
		"inventory.asset":      10,
		"inventory.accrual":    20,
		"inventory.cogs":       30,
		"inventory.adjustment": 40,
		"inventory.wip":        50,
		"inventory.transit":    60,
		"inventory.variance":   70,
	}
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestInboundMovementDebitsAsset(t *testing.T) {
	ledger := &fakeLedger{}
	link := &fakeLink{}
	hooks := NewHooks(ledger, testMappings(), link)

	evt := inventory.MovementPostedEvent{
		TransactionID: 11,
		ProductID:     1,
		Type:          inventory.TransactionPurchase,
		Quantity:      dec(t, "4"),
		TotalCost:     dec(t, "10.00"),
		PostedAt:      time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, hooks.HandleInventoryMovementPosted(context.Background(), evt))

	require.Len(t, ledger.posted, 1)
	input := ledger.posted[0]
	require.Equal(t, "INVENTORY.MOVEMENT", input.SourceModule)
	require.Len(t, input.Lines, 2)
	require.Equal(t, int64(10), input.Lines[0].AccountID)
	require.True(t, input.Lines[0].Debit.Equal(dec(t, "10.00")))
	require.True(t, input.Lines[0].Credit.IsZero())
	require.Equal(t, int64(20), input.Lines[1].AccountID)
	require.True(t, input.Lines[1].Credit.Equal(dec(t, "10.00")))
	require.NoError(t, journals.PostingInput{
		SourceModule: input.SourceModule, SourceID: input.SourceID, Lines: input.Lines,
	}.Validate())

	require.Equal(t, map[int64]int64{11: 1}, link.links)
}

func TestOutboundMovementCreditsAsset(t *testing.T) {
	ledger := &fakeLedger{}
	hooks := NewHooks(ledger, testMappings(), nil)

	evt := inventory.MovementPostedEvent{
		TransactionID: 12,
		Type:          inventory.TransactionSale,
		Quantity:      dec(t, "3"),
		TotalCost:     dec(t, "7.50"),
		PostedAt:      time.Now(),
	}
	require.NoError(t, hooks.HandleInventoryMovementPosted(context.Background(), evt))

	require.Len(t, ledger.posted, 1)
	input := ledger.posted[0]
	require.True(t, input.Lines[0].Credit.Equal(dec(t, "7.50")), "asset must be credited")
	require.Equal(t, int64(30), input.Lines[1].AccountID)
	require.True(t, input.Lines[1].Debit.Equal(dec(t, "7.50")))
}

func TestMovementSourceIDIsDeterministic(t *testing.T) {
	ledger := &fakeLedger{}
	hooks := NewHooks(ledger, testMappings(), nil)

	evt := inventory.MovementPostedEvent{TransactionID: 99, Type: inventory.TransactionPurchase, TotalCost: dec(t, "1.00"), PostedAt: time.Now()}
	require.NoError(t, hooks.HandleInventoryMovementPosted(context.Background(), evt))
	require.NoError(t, hooks.HandleInventoryMovementPosted(context.Background(), evt))

	require.Len(t, ledger.posted, 2)
	require.Equal(t, ledger.posted[0].SourceID, ledger.posted[1].SourceID)
	require.NotEqual(t, uuid.Nil, ledger.posted[0].SourceID)
}

func TestZeroCostMovementSkipsPosting(t *testing.T) {
	ledger := &fakeLedger{}
	hooks := NewHooks(ledger, testMappings(), nil)

	evt := inventory.MovementPostedEvent{TransactionID: 13, Type: inventory.TransactionAdjustmentIn, TotalCost: decimal.Zero}
	require.NoError(t, hooks.HandleInventoryMovementPosted(context.Background(), evt))
	require.Empty(t, ledger.posted)
}

func TestAlreadyLinkedSourceIsNoOp(t *testing.T) {
	ledger := &fakeLedger{err: shared.ErrSourceAlreadyLinked}
	link := &fakeLink{}
	hooks := NewHooks(ledger, testMappings(), link)

	evt := inventory.MovementPostedEvent{TransactionID: 14, Type: inventory.TransactionPurchase, TotalCost: dec(t, "5.00")}
	require.NoError(t, hooks.HandleInventoryMovementPosted(context.Background(), evt))
	require.Empty(t, link.links)
}

func TestMissingMappingSurfaces(t *testing.T) {
	ledger := &fakeLedger{}
	hooks := NewHooks(ledger, fakeMappings{"inventory.asset": 10}, nil)

	evt := inventory.MovementPostedEvent{TransactionID: 15, Type: inventory.TransactionPurchase, TotalCost: dec(t, "5.00")}
	err := hooks.HandleInventoryMovementPosted(context.Background(), evt)
	require.ErrorIs(t, err, shared.ErrMappingNotFound)
	require.Empty(t, ledger.posted)
}

func TestCompletionPostsRoundingResidue(t *testing.T) {
	ledger := &fakeLedger{}
	hooks := NewHooks(ledger, testMappings(), nil)

	// Components cost 100.01, finished goods received at 10 x 10.0000. The
	// cent left on WIP moves to the variance account.
	evt := production.OrderCompletedEvent{
		OrderID:            5,
		Number:             "PO-1",
		Quantity:           dec(t, "10"),
		TotalComponentCost: dec(t, "100.01"),
		UnitCost:           dec(t, "10.0000"),
		CompletedAt:        time.Now(),
		CompletedBy:        3,
	}
	require.NoError(t, hooks.HandleProductionOrderCompleted(context.Background(), evt))

	require.Len(t, ledger.posted, 1)
	input := ledger.posted[0]
	require.Equal(t, "PRODUCTION.ORDER", input.SourceModule)
	require.Equal(t, int64(3), input.PostedBy)
	require.Len(t, input.Lines, 2)
	require.Equal(t, int64(50), input.Lines[0].AccountID)
	require.True(t, input.Lines[0].Credit.Equal(dec(t, "0.01")), "wip credit %s", input.Lines[0].Credit)
	require.Equal(t, int64(70), input.Lines[1].AccountID)
	require.True(t, input.Lines[1].Debit.Equal(dec(t, "0.01")))
}

func TestCompletionNegativeResidue(t *testing.T) {
	ledger := &fakeLedger{}
	hooks := NewHooks(ledger, testMappings(), nil)

	// Rounded receipt exceeds the component cost: WIP is overdrawn and gets
	// the debit back.
	evt := production.OrderCompletedEvent{
		OrderID:            6,
		Quantity:           dec(t, "3"),
		TotalComponentCost: dec(t, "9.99"),
		UnitCost:           dec(t, "3.3334"),
		CompletedAt:        time.Now(),
	}
	require.NoError(t, hooks.HandleProductionOrderCompleted(context.Background(), evt))

	require.Len(t, ledger.posted, 1)
	input := ledger.posted[0]
	require.True(t, input.Lines[0].Debit.Equal(dec(t, "0.01")), "wip debit %s", input.Lines[0].Debit)
	require.True(t, input.Lines[1].Credit.Equal(dec(t, "0.01")))
}

func TestCompletionWithoutResidueSkipsPosting(t *testing.T) {
	ledger := &fakeLedger{}
	hooks := NewHooks(ledger, testMappings(), nil)

	evt := production.OrderCompletedEvent{
		OrderID:            7,
		Quantity:           dec(t, "10"),
		TotalComponentCost: dec(t, "150.00"),
		UnitCost:           dec(t, "15.0000"),
	}
	require.NoError(t, hooks.HandleProductionOrderCompleted(context.Background(), evt))
	require.Empty(t, ledger.posted)
}
