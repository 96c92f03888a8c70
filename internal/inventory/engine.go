package inventory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProductPort resolves the costing configuration for a product.
type ProductPort interface {
	CostingInfo(ctx context.Context, productID int64) (ProductInfo, error)
}

// ReceiveInput describes an inbound movement.
type ReceiveInput struct {
	ProductID int64
	Type      TransactionType
	Quantity  decimal.Decimal
	UnitCost  decimal.Decimal
	Date      time.Time
	Note      string
	ActorID   int64
	RefModule string
	RefID     string
}

// ConsumeInput describes an outbound movement.
type ConsumeInput struct {
	ProductID    int64
	Type         TransactionType
	Quantity     decimal.Decimal
	SellingPrice decimal.NullDecimal
	Date         time.Time
	Note         string
	ActorID      int64
	RefModule    string
	RefID        string
}

// Engine applies costing-policy-dispatched movements against a transactional
// repository. It owns no transaction boundary of its own: callers run it
// inside a repository transaction so multi-product sequences (production
// completion) stay all-or-nothing.
type Engine struct {
	products ProductPort
}

// NewEngine builds Engine.
func NewEngine(products ProductPort) *Engine {
	return &Engine{products: products}
}

// LockProducts acquires the balance row locks for every given product in
// ascending product-ID order. Operations touching several products must lock
// through here first so two overlapping completions cannot deadlock.
func (e *Engine) LockProducts(ctx context.Context, tx TxRepository, productIDs []int64) error {
	ids := make([]int64, 0, len(productIDs))
	seen := make(map[int64]struct{}, len(productIDs))
	for _, id := range productIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if err := tx.EnsureBalance(ctx, id); err != nil {
			return err
		}
		if _, err := tx.GetBalanceForUpdate(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Receive posts an inbound movement and appends the ledger entry with
// post-mutation snapshots.
func (e *Engine) Receive(ctx context.Context, tx TxRepository, input ReceiveInput) (Transaction, error) {
	if input.Type == "" {
		input.Type = TransactionPurchase
	}
	if !input.Type.Valid() || !input.Type.Inbound() {
		return Transaction{}, ErrInvalidTransactionType
	}
	if input.ProductID == 0 {
		return Transaction{}, fmt.Errorf("inventory: product required")
	}
	if !input.Quantity.IsPositive() {
		return Transaction{}, ErrInvalidQuantity
	}
	if input.UnitCost.IsNegative() {
		return Transaction{}, ErrInvalidUnitCost
	}
	if err := validateRef(input.RefID); err != nil {
		return Transaction{}, err
	}

	// The cost scale is fixed before any arithmetic so a later ledger replay
	// reproduces the exact same balances.
	unitCost := RoundCost(input.UnitCost)

	info, err := e.products.CostingInfo(ctx, input.ProductID)
	if err != nil {
		return Transaction{}, err
	}
	eng, err := engineFor(info.CostingMethod)
	if err != nil {
		return Transaction{}, err
	}

	if err := tx.EnsureBalance(ctx, input.ProductID); err != nil {
		return Transaction{}, err
	}
	bal, err := tx.GetBalanceForUpdate(ctx, input.ProductID)
	if err != nil {
		return Transaction{}, err
	}

	postedAt := input.Date
	if postedAt.IsZero() {
		postedAt = time.Now().UTC()
	}
	newBal, err := eng.receive(ctx, tx, bal, input.Quantity, unitCost, postedAt)
	if err != nil {
		return Transaction{}, err
	}
	if err := tx.UpsertBalance(ctx, newBal); err != nil {
		return Transaction{}, err
	}

	txn := Transaction{
		ProductID:      input.ProductID,
		Type:           input.Type,
		Quantity:       input.Quantity,
		UnitCost:       unitCost,
		TotalCost:      RoundMoney(input.Quantity.Mul(unitCost)),
		BalanceAfter:   newBal.Quantity,
		TotalCostAfter: newBal.TotalCost,
		RefModule:      input.RefModule,
		RefID:          input.RefID,
		Note:           input.Note,
		PostedAt:       postedAt,
		CreatedBy:      input.ActorID,
	}
	txn.ID, err = tx.InsertTransaction(ctx, txn)
	if err != nil {
		return Transaction{}, err
	}
	return txn, nil
}

// Consume posts an outbound movement. The cost removed is determined by the
// product's costing policy; the ledger entry carries a single effective unit
// cost even when a FIFO consumption spans layers at different rates.
func (e *Engine) Consume(ctx context.Context, tx TxRepository, input ConsumeInput) (Transaction, error) {
	if input.Type == "" {
		input.Type = TransactionSale
	}
	if !input.Type.Valid() || input.Type.Inbound() {
		return Transaction{}, ErrInvalidTransactionType
	}
	if input.ProductID == 0 {
		return Transaction{}, fmt.Errorf("inventory: product required")
	}
	if !input.Quantity.IsPositive() {
		return Transaction{}, ErrInvalidQuantity
	}
	if err := validateRef(input.RefID); err != nil {
		return Transaction{}, err
	}

	info, err := e.products.CostingInfo(ctx, input.ProductID)
	if err != nil {
		return Transaction{}, err
	}
	eng, err := engineFor(info.CostingMethod)
	if err != nil {
		return Transaction{}, err
	}

	if err := tx.EnsureBalance(ctx, input.ProductID); err != nil {
		return Transaction{}, err
	}
	bal, err := tx.GetBalanceForUpdate(ctx, input.ProductID)
	if err != nil {
		return Transaction{}, err
	}

	newBal, costRemoved, err := eng.consume(ctx, tx, bal, input.Quantity)
	if err != nil {
		return Transaction{}, err
	}
	if err := tx.UpsertBalance(ctx, newBal); err != nil {
		return Transaction{}, err
	}

	postedAt := input.Date
	if postedAt.IsZero() {
		postedAt = time.Now().UTC()
	}
	txn := Transaction{
		ProductID:      input.ProductID,
		Type:           input.Type,
		Quantity:       input.Quantity,
		UnitCost:       RoundCost(costRemoved.Div(input.Quantity)),
		TotalCost:      costRemoved,
		SellingPrice:   input.SellingPrice,
		BalanceAfter:   newBal.Quantity,
		TotalCostAfter: newBal.TotalCost,
		RefModule:      input.RefModule,
		RefID:          input.RefID,
		Note:           input.Note,
		PostedAt:       postedAt,
		CreatedBy:      input.ActorID,
	}
	txn.ID, err = tx.InsertTransaction(ctx, txn)
	if err != nil {
		return Transaction{}, err
	}
	return txn, nil
}

func validateRef(refID string) error {
	if refID == "" {
		return nil
	}
	if _, err := uuid.Parse(refID); err != nil {
		return fmt.Errorf("inventory: invalid ref id: %w", err)
	}
	return nil
}
