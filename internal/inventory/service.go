package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBalance(ctx context.Context, productID int64) (Balance, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)
	ListLayers(ctx context.Context, productID int64, activeOnly bool) ([]FifoLayer, error)
	LinkJournalEntry(ctx context.Context, transactionID, journalEntryID int64) error
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates inventory movements: one repository transaction per
// movement, engine dispatch by costing policy, ledger append, then post-commit
// cache invalidation and event fan-out.
type Service struct {
	repo        RepositoryPort
	engine      *Engine
	products    ProductPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	cache       *BalanceCache
	integration IntegrationHandler
	logger      *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, engine *Engine, products ProductPort, audit AuditPort, idem *shared.IdempotencyStore, cache *BalanceCache, integration IntegrationHandler, logger *slog.Logger) *Service {
	return &Service{repo: repo, engine: engine, products: products, audit: audit, idempotency: idem, cache: cache, integration: integration, logger: logger}
}

// SetIntegration registers the ledger bridge. Wired after construction
// because the bridge links posted journal entries back through this service.
func (s *Service) SetIntegration(handler IntegrationHandler) {
	s.integration = handler
}

// Receive posts a single inbound movement.
func (s *Service) Receive(ctx context.Context, input ReceiveInput) (Transaction, error) {
	key := fmt.Sprintf("%s:%s:%d", input.Type, input.RefID, input.ProductID)
	insertedKey := false
	if s.idempotency != nil && input.RefID != "" {
		if err := s.idempotency.CheckAndInsert(ctx, key, "inventory"); err != nil {
			return Transaction{}, err
		}
		insertedKey = true
	}
	var txn Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		txn, err = s.engine.Receive(ctx, tx, input)
		return err
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return Transaction{}, err
	}
	s.afterMovement(ctx, txn)
	return txn, nil
}

// Consume posts a single outbound movement. Fails with
// *InsufficientStockError when the requested quantity exceeds available stock.
func (s *Service) Consume(ctx context.Context, input ConsumeInput) (Transaction, error) {
	key := fmt.Sprintf("%s:%s:%d", input.Type, input.RefID, input.ProductID)
	insertedKey := false
	if s.idempotency != nil && input.RefID != "" {
		if err := s.idempotency.CheckAndInsert(ctx, key, "inventory"); err != nil {
			return Transaction{}, err
		}
		insertedKey = true
	}
	var txn Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		txn, err = s.engine.Consume(ctx, tx, input)
		return err
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return Transaction{}, err
	}
	s.afterMovement(ctx, txn)
	s.warnLowStock(ctx, txn)
	return txn, nil
}

// GetBalance returns the balance aggregate, zero-valued when the product has
// never moved. Reads go through the redis cache when one is configured;
// correctness never depends on it.
func (s *Service) GetBalance(ctx context.Context, productID int64) (Balance, error) {
	if productID <= 0 {
		return Balance{}, errors.New("inventory: product required")
	}
	if s.cache != nil {
		if bal, ok := s.cache.Get(ctx, productID); ok {
			return bal, nil
		}
	}
	bal, err := s.repo.GetBalance(ctx, productID)
	if err != nil {
		if errors.Is(err, ErrBalanceNotFound) {
			return Balance{ProductID: productID}, nil
		}
		return Balance{}, err
	}
	if s.cache != nil {
		s.cache.Set(ctx, bal)
	}
	return bal, nil
}

// ListTransactions lists ledger entries.
func (s *Service) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	return s.repo.ListTransactions(ctx, filter)
}

// ListLayers lists a product's FIFO layers in consumption order.
func (s *Service) ListLayers(ctx context.Context, productID int64, activeOnly bool) ([]FifoLayer, error) {
	if productID <= 0 {
		return nil, errors.New("inventory: product required")
	}
	return s.repo.ListLayers(ctx, productID, activeOnly)
}

// MovementSession exposes engine operations bound to one open repository
// transaction. Used by callers whose operation spans several products and must
// stay all-or-nothing, e.g. production order completion.
type MovementSession struct {
	svc    *Service
	tx     TxRepository
	posted []Transaction
}

// Receive posts an inbound movement inside the session transaction.
func (m *MovementSession) Receive(ctx context.Context, input ReceiveInput) (Transaction, error) {
	txn, err := m.svc.engine.Receive(ctx, m.tx, input)
	if err != nil {
		return Transaction{}, err
	}
	m.posted = append(m.posted, txn)
	return txn, nil
}

// Consume posts an outbound movement inside the session transaction.
func (m *MovementSession) Consume(ctx context.Context, input ConsumeInput) (Transaction, error) {
	txn, err := m.svc.engine.Consume(ctx, m.tx, input)
	if err != nil {
		return Transaction{}, err
	}
	m.posted = append(m.posted, txn)
	return txn, nil
}

// WithMovementSession runs fn inside one repository transaction after locking
// every given product's balance row in ascending product-ID order. Either all
// movements posted through the session commit, or none do.
func (s *Service) WithMovementSession(ctx context.Context, productIDs []int64, fn func(ctx context.Context, session *MovementSession) error) error {
	var posted []Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := s.engine.LockProducts(ctx, tx, productIDs); err != nil {
			return err
		}
		session := &MovementSession{svc: s, tx: tx}
		if err := fn(ctx, session); err != nil {
			return err
		}
		posted = session.posted
		return nil
	})
	if err != nil {
		return err
	}
	for _, txn := range posted {
		s.afterMovement(ctx, txn)
	}
	return nil
}

// MovementsCommitted finalizes movements another module posted inside its own
// transaction boundary: cache invalidation, audit, integration fan-out. Call
// only after that transaction committed.
func (s *Service) MovementsCommitted(ctx context.Context, txns []Transaction) {
	for _, txn := range txns {
		s.afterMovement(ctx, txn)
	}
}

// LinkJournalEntry stores the journal entry id posted for a ledger row.
func (s *Service) LinkJournalEntry(ctx context.Context, transactionID, journalEntryID int64) error {
	if transactionID <= 0 || journalEntryID <= 0 {
		return errors.New("inventory: transaction and journal entry required")
	}
	return s.repo.LinkJournalEntry(ctx, transactionID, journalEntryID)
}

func (s *Service) afterMovement(ctx context.Context, txn Transaction) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, txn.ProductID)
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  txn.CreatedBy,
			Action:   fmt.Sprintf("inventory:%s", txn.Type),
			Entity:   "inventory_tx",
			EntityID: fmt.Sprintf("%d", txn.ID),
			Meta: map[string]any{
				"product_id":  txn.ProductID,
				"qty":         txn.Quantity.String(),
				"unit_cost":   txn.UnitCost.String(),
				"total_cost":  txn.TotalCost.String(),
				"balance_qty": txn.BalanceAfter.String(),
			},
		})
	}
	if s.integration != nil {
		evt := MovementPostedEvent{
			TransactionID:  txn.ID,
			ProductID:      txn.ProductID,
			Type:           txn.Type,
			Quantity:       txn.Quantity,
			UnitCost:       txn.UnitCost,
			TotalCost:      txn.TotalCost,
			BalanceAfter:   txn.BalanceAfter,
			TotalCostAfter: txn.TotalCostAfter,
			PostedAt:       txn.PostedAt,
		}
		if err := s.integration.HandleInventoryMovementPosted(ctx, evt); err != nil && s.logger != nil {
			s.logger.Error("inventory movement integration failed",
				slog.Int64("transaction_id", txn.ID), slog.Any("error", err))
		}
	}
}

func (s *Service) warnLowStock(ctx context.Context, txn Transaction) {
	if s.logger == nil || s.products == nil {
		return
	}
	info, err := s.products.CostingInfo(ctx, txn.ProductID)
	if err != nil || !info.MinimumStock.IsPositive() {
		return
	}
	if txn.BalanceAfter.LessThan(info.MinimumStock) {
		s.logger.Warn("stock below minimum threshold",
			slog.Int64("product_id", txn.ProductID),
			slog.String("balance", txn.BalanceAfter.String()),
			slog.String("minimum", info.MinimumStock.String()))
	}
}
