package production

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
)

// RepositoryPort is the persistence surface the service needs.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	CreateBOM(ctx context.Context, bom BillOfMaterial) (BillOfMaterial, error)
	GetBOM(ctx context.Context, id int64) (BillOfMaterial, error)
	ListBOMs(ctx context.Context, limit int) ([]BillOfMaterial, error)
	CreateOrder(ctx context.Context, order ProductionOrder) (ProductionOrder, error)
	GetOrder(ctx context.Context, id int64) (ProductionOrder, error)
	ListOrders(ctx context.Context, status OrderStatus, limit int) ([]ProductionOrder, error)
	DeleteOrder(ctx context.Context, id int64) error
}

// MovementFinalizer receives the movements a completion posted, after the
// owning transaction committed.
type MovementFinalizer interface {
	MovementsCommitted(ctx context.Context, txns []inventory.Transaction)
}

// Service coordinates BOM management and the production order lifecycle.
type Service struct {
	repo        RepositoryPort
	engine      *inventory.Engine
	finalizer   MovementFinalizer
	integration IntegrationHandler
	logger      *slog.Logger
}

// NewService constructs Service. finalizer and integration may be nil.
func NewService(repo RepositoryPort, engine *inventory.Engine, finalizer MovementFinalizer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, engine: engine, finalizer: finalizer, logger: logger}
}

// SetIntegration registers the completion event consumer. Wired after
// construction because the accounting bridge depends on this service's
// downstream collaborators.
func (s *Service) SetIntegration(handler IntegrationHandler) {
	s.integration = handler
}

// CreateBOMInput describes a new bill of material.
type CreateBOMInput struct {
	Code           string
	Name           string
	ProductID      int64
	OutputQuantity decimal.Decimal
	Lines          []BOMLineInput
}

// BOMLineInput is one component requirement.
type BOMLineInput struct {
	ComponentID int64
	Quantity    decimal.Decimal
	LineOrder   int
}

// CreateBOM validates and stores a bill of material.
func (s *Service) CreateBOM(ctx context.Context, input CreateBOMInput) (BillOfMaterial, error) {
	if input.Code == "" || input.Name == "" {
		return BillOfMaterial{}, fmt.Errorf("production: code and name required")
	}
	if input.ProductID == 0 {
		return BillOfMaterial{}, fmt.Errorf("production: output product required")
	}
	if !input.OutputQuantity.IsPositive() {
		return BillOfMaterial{}, ErrInvalidOutputQuantity
	}
	if len(input.Lines) == 0 {
		return BillOfMaterial{}, ErrEmptyBOM
	}
	seen := make(map[int64]struct{}, len(input.Lines))
	lines := make([]BOMLine, 0, len(input.Lines))
	for i, line := range input.Lines {
		if line.ComponentID == 0 {
			return BillOfMaterial{}, fmt.Errorf("production: line %d: component required", i+1)
		}
		if line.ComponentID == input.ProductID {
			return BillOfMaterial{}, ErrSelfReference
		}
		if !line.Quantity.IsPositive() {
			return BillOfMaterial{}, fmt.Errorf("production: line %d: quantity must be positive", i+1)
		}
		if _, dup := seen[line.ComponentID]; dup {
			return BillOfMaterial{}, fmt.Errorf("production: line %d: duplicate component %d", i+1, line.ComponentID)
		}
		seen[line.ComponentID] = struct{}{}
		order := line.LineOrder
		if order == 0 {
			order = i + 1
		}
		lines = append(lines, BOMLine{ComponentID: line.ComponentID, Quantity: line.Quantity, LineOrder: order})
	}
	return s.repo.CreateBOM(ctx, BillOfMaterial{
		Code:           input.Code,
		Name:           input.Name,
		ProductID:      input.ProductID,
		OutputQuantity: input.OutputQuantity,
		Lines:          lines,
		IsActive:       true,
	})
}

// GetBOM loads a BOM with its lines.
func (s *Service) GetBOM(ctx context.Context, id int64) (BillOfMaterial, error) {
	return s.repo.GetBOM(ctx, id)
}

// ListBOMs lists BOM headers.
func (s *Service) ListBOMs(ctx context.Context, limit int) ([]BillOfMaterial, error) {
	return s.repo.ListBOMs(ctx, limit)
}

// CreateOrderInput describes a new production order.
type CreateOrderInput struct {
	Number      string
	BOMID       int64
	Quantity    decimal.Decimal
	OrderDate   time.Time
	PlannedDate time.Time
	Note        string
	ActorID     int64
}

// CreateOrder creates a draft order against an active BOM. The output product
// is denormalised from the BOM so later BOM edits cannot redirect the order.
func (s *Service) CreateOrder(ctx context.Context, input CreateOrderInput) (ProductionOrder, error) {
	if !input.Quantity.IsPositive() {
		return ProductionOrder{}, ErrInvalidOrderQuantity
	}
	bom, err := s.repo.GetBOM(ctx, input.BOMID)
	if err != nil {
		return ProductionOrder{}, err
	}
	if !bom.IsActive {
		return ProductionOrder{}, fmt.Errorf("production: BOM %s is inactive", bom.Code)
	}
	number := input.Number
	if number == "" {
		number = fmt.Sprintf("PO-%s", uuid.NewString()[:8])
	}
	orderDate := input.OrderDate
	if orderDate.IsZero() {
		orderDate = time.Now().UTC()
	}
	return s.repo.CreateOrder(ctx, ProductionOrder{
		Number:      number,
		BOMID:       bom.ID,
		ProductID:   bom.ProductID,
		Quantity:    input.Quantity,
		Status:      StatusDraft,
		OrderDate:   orderDate,
		PlannedDate: input.PlannedDate,
		Note:        input.Note,
		CreatedBy:   input.ActorID,
	})
}

// GetOrder loads one production order.
func (s *Service) GetOrder(ctx context.Context, id int64) (ProductionOrder, error) {
	return s.repo.GetOrder(ctx, id)
}

// ListOrders lists orders, optionally filtered by status.
func (s *Service) ListOrders(ctx context.Context, status OrderStatus, limit int) ([]ProductionOrder, error) {
	return s.repo.ListOrders(ctx, status, limit)
}

// Start moves a draft order to IN_PROGRESS. Inventory stays untouched.
func (s *Service) Start(ctx context.Context, orderID int64) (ProductionOrder, error) {
	var result ProductionOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != StatusDraft {
			return &StateError{OrderID: order.ID, Status: order.Status, Action: "start"}
		}
		now := time.Now().UTC()
		order.Status = StatusInProgress
		order.StartedAt = &now
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}
		result = order
		return nil
	})
	return result, err
}

// Cancel voids a draft or in-progress order. Completion is the only
// transition that touches stock, so no reversal is ever needed here.
func (s *Service) Cancel(ctx context.Context, orderID int64) (ProductionOrder, error) {
	var result ProductionOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != StatusDraft && order.Status != StatusInProgress {
			return &StateError{OrderID: order.ID, Status: order.Status, Action: "cancel"}
		}
		order.Status = StatusCancelled
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}
		result = order
		return nil
	})
	return result, err
}

// Delete removes a draft order.
func (s *Service) Delete(ctx context.Context, orderID int64) error {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status != StatusDraft {
		return &StateError{OrderID: order.ID, Status: order.Status, Action: "delete"}
	}
	return s.repo.DeleteOrder(ctx, orderID)
}

// Complete consumes the BOM components scaled to the order quantity and
// receives the finished goods at the actual blended cost, in one transaction.
// A shortage on any component aborts the whole completion.
func (s *Service) Complete(ctx context.Context, orderID int64, actorID int64) (ProductionOrder, error) {
	var (
		result ProductionOrder
		posted []inventory.Transaction
		event  OrderCompletedEvent
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		posted = posted[:0]
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != StatusInProgress {
			return &StateError{OrderID: order.ID, Status: order.Status, Action: "complete"}
		}
		bom, err := tx.GetBOM(ctx, order.BOMID)
		if err != nil {
			return err
		}
		if len(bom.Lines) == 0 {
			return ErrEmptyBOM
		}

		inv := tx.Inventory()
		productIDs := make([]int64, 0, len(bom.Lines)+1)
		for _, line := range bom.Lines {
			productIDs = append(productIDs, line.ComponentID)
		}
		productIDs = append(productIDs, order.ProductID)
		if err := s.engine.LockProducts(ctx, inv, productIDs); err != nil {
			return err
		}

		// Component requirements scale by produced batches; the per-line
		// requirement stays unrounded so costing sees the exact quantity.
		batches := order.Quantity.Div(bom.OutputQuantity)
		now := time.Now().UTC()
		refID := uuid.NewString()
		total := decimal.Zero
		for _, line := range bom.Lines {
			required := line.Quantity.Mul(batches)
			txn, err := s.engine.Consume(ctx, inv, inventory.ConsumeInput{
				ProductID: line.ComponentID,
				Type:      inventory.TransactionProductionOut,
				Quantity:  required,
				Date:      now,
				Note:      fmt.Sprintf("production order %s", order.Number),
				ActorID:   actorID,
				RefModule: "production",
				RefID:     refID,
			})
			if err != nil {
				var short *inventory.InsufficientStockError
				if errors.As(err, &short) {
					return &ShortageError{
						OrderID:     order.ID,
						ComponentID: short.ProductID,
						Requested:   short.Requested,
						Available:   short.Available,
					}
				}
				return err
			}
			total = total.Add(txn.TotalCost)
			posted = append(posted, txn)
		}

		unitCost := inventory.RoundCost(total.Div(order.Quantity))
		txn, err := s.engine.Receive(ctx, inv, inventory.ReceiveInput{
			ProductID: order.ProductID,
			Type:      inventory.TransactionProductionIn,
			Quantity:  order.Quantity,
			UnitCost:  unitCost,
			Date:      now,
			Note:      fmt.Sprintf("production order %s", order.Number),
			ActorID:   actorID,
			RefModule: "production",
			RefID:     refID,
		})
		if err != nil {
			return err
		}
		posted = append(posted, txn)

		order.Status = StatusCompleted
		order.CompletedAt = &now
		order.CompletedBy = actorID
		order.TotalComponentCost = total
		order.UnitCost = unitCost
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}
		result = order
		event = OrderCompletedEvent{
			OrderID:            order.ID,
			Number:             order.Number,
			ProductID:          order.ProductID,
			Quantity:           order.Quantity,
			TotalComponentCost: total,
			UnitCost:           unitCost,
			RefID:              refID,
			CompletedAt:        now,
			CompletedBy:        actorID,
		}
		return nil
	})
	if err != nil {
		return ProductionOrder{}, err
	}

	if s.finalizer != nil {
		s.finalizer.MovementsCommitted(ctx, posted)
	}
	if s.integration != nil {
		if err := s.integration.HandleProductionOrderCompleted(ctx, event); err != nil {
			s.logger.Error("production completion hook failed", "order_id", result.ID, "error", err)
		}
	}
	return result, nil
}
