// Package integration bridges operational stock events into the general
// ledger. Each committed movement becomes one balanced journal entry; a
// production completion additionally clears any work-in-process residue left
// by cost rounding.
package integration

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-erp/internal/accounting/journals"
	"github.com/meridian-erp/meridian-erp/internal/accounting/mappings"
	"github.com/meridian-erp/meridian-erp/internal/accounting/shared"
	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/production"
)

// Ledger exposes journal posting operations required by integrations.
type Ledger interface {
	PostJournal(ctx context.Context, input journals.PostingInput) (journals.JournalEntry, error)
}

// AccountMappingRepository provides mapping lookups.
type AccountMappingRepository interface {
	Get(ctx context.Context, module, key string) (mappings.AccountMapping, error)
}

// LedgerLink writes the posted journal entry id back onto the stock ledger row.
type LedgerLink interface {
	LinkJournalEntry(ctx context.Context, transactionID, journalEntryID int64) error
}

// Hooks wires domain events from operational modules into the general ledger.
type Hooks struct {
	ledger      Ledger
	mappingRepo AccountMappingRepository
	link        LedgerLink
}

// NewHooks constructs integration hooks. link may be nil.
func NewHooks(ledger Ledger, mappingRepo AccountMappingRepository, link LedgerLink) *Hooks {
	return &Hooks{ledger: ledger, mappingRepo: mappingRepo, link: link}
}

// offsetKeys maps each movement type to the account balancing the inventory
// asset side of the entry.
var offsetKeys = map[inventory.TransactionType]string{
	inventory.TransactionPurchase:      "inventory.accrual",
	inventory.TransactionSale:          "inventory.cogs",
	inventory.TransactionAdjustmentIn:  "inventory.adjustment",
	inventory.TransactionAdjustmentOut: "inventory.adjustment",
	inventory.TransactionProductionIn:  "inventory.wip",
	inventory.TransactionProductionOut: "inventory.wip",
	inventory.TransactionTransferIn:    "inventory.transit",
	inventory.TransactionTransferOut:   "inventory.transit",
}

func (h *Hooks) resolveAccount(ctx context.Context, key string) (int64, error) {
	mapping, err := h.mappingRepo.Get(ctx, "INVENTORY", key)
	if err != nil {
		return 0, err
	}
	return mapping.AccountID, nil
}

func (h *Hooks) post(ctx context.Context, input journals.PostingInput) (journals.JournalEntry, bool, error) {
	if input.SourceID == uuid.Nil {
		return journals.JournalEntry{}, false, errors.New("integration: source id required")
	}
	entry, err := h.ledger.PostJournal(ctx, input)
	if err != nil {
		if errors.Is(err, shared.ErrSourceAlreadyLinked) {
			return journals.JournalEntry{}, false, nil
		}
		return journals.JournalEntry{}, false, err
	}
	return entry, true, nil
}

// HandleInventoryMovementPosted posts the valuation entry for one committed
// movement: inbound debits the inventory asset, outbound credits it, with the
// type-specific offset on the other side. Amounts are the movement's total
// cost, already at money scale.
func (h *Hooks) HandleInventoryMovementPosted(ctx context.Context, evt inventory.MovementPostedEvent) error {
	if h == nil || h.ledger == nil || h.mappingRepo == nil {
		return nil
	}
	if evt.TotalCost.IsZero() {
		return nil
	}
	offsetKey, ok := offsetKeys[evt.Type]
	if !ok {
		return fmt.Errorf("integration: no account mapping key for movement type %s", evt.Type)
	}
	assetAccount, err := h.resolveAccount(ctx, "inventory.asset")
	if err != nil {
		return err
	}
	offsetAccount, err := h.resolveAccount(ctx, offsetKey)
	if err != nil {
		return err
	}

	assetLine := journals.PostingLineInput{AccountID: assetAccount}
	offsetLine := journals.PostingLineInput{AccountID: offsetAccount}
	if evt.Type.Inbound() {
		assetLine.Debit = evt.TotalCost
		offsetLine.Credit = evt.TotalCost
	} else {
		assetLine.Credit = evt.TotalCost
		offsetLine.Debit = evt.TotalCost
	}

	sourceID := uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("INVENTORY:%d", evt.TransactionID)))
	entry, posted, err := h.post(ctx, journals.PostingInput{
		Date:         evt.PostedAt,
		SourceModule: "INVENTORY.MOVEMENT",
		SourceID:     sourceID,
		Memo:         fmt.Sprintf("%s product %d qty %s", evt.Type, evt.ProductID, evt.Quantity.String()),
		Lines:        []journals.PostingLineInput{assetLine, offsetLine},
	})
	if err != nil || !posted {
		return err
	}
	if h.link != nil {
		return h.link.LinkJournalEntry(ctx, evt.TransactionID, entry.ID)
	}
	return nil
}

// HandleProductionOrderCompleted clears the work-in-process residue a
// completion leaves behind: components were credited out of inventory at
// their exact removed cost, finished goods were debited back in at the
// rounded unit cost, and the difference stays parked on WIP until this
// variance entry moves it out.
func (h *Hooks) HandleProductionOrderCompleted(ctx context.Context, evt production.OrderCompletedEvent) error {
	if h == nil || h.ledger == nil || h.mappingRepo == nil {
		return nil
	}
	received := inventory.RoundMoney(evt.Quantity.Mul(evt.UnitCost))
	residue := evt.TotalComponentCost.Sub(received).Round(2)
	if residue.IsZero() {
		return nil
	}
	wipAccount, err := h.resolveAccount(ctx, "inventory.wip")
	if err != nil {
		return err
	}
	varianceAccount, err := h.resolveAccount(ctx, "inventory.variance")
	if err != nil {
		return err
	}

	wipLine := journals.PostingLineInput{AccountID: wipAccount}
	varianceLine := journals.PostingLineInput{AccountID: varianceAccount}
	if residue.IsPositive() {
		varianceLine.Debit = residue
		wipLine.Credit = residue
	} else {
		wipLine.Debit = residue.Neg()
		varianceLine.Credit = residue.Neg()
	}

	sourceID := uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("PRODUCTION:%d", evt.OrderID)))
	_, _, err = h.post(ctx, journals.PostingInput{
		Date:         evt.CompletedAt,
		SourceModule: "PRODUCTION.ORDER",
		SourceID:     sourceID,
		Memo:         fmt.Sprintf("rounding variance for order %s", evt.Number),
		PostedBy:     evt.CompletedBy,
		Lines:        []journals.PostingLineInput{wipLine, varianceLine},
	})
	return err
}
