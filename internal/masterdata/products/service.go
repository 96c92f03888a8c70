package products

import (
	"context"
	"errors"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
)

// BalancePort reads the current stock quantity for a product. Used to guard
// costing-method changes.
type BalancePort interface {
	GetBalance(ctx context.Context, productID int64) (inventory.Balance, error)
}

// ErrMethodChangeWithStock rejects switching the costing method while the
// product still carries inventory. The two policies value existing stock
// differently; migrating a non-zero balance between them is unsupported.
var ErrMethodChangeWithStock = errors.New("products: costing method change requires zero inventory balance")

type Service struct {
	repo     Repository
	balances BalancePort
}

func NewService(repo Repository, balances BalancePort) *Service {
	return &Service{repo: repo, balances: balances}
}

func (s *Service) List(ctx context.Context, filters ListFilters) ([]Product, int, error) {
	return s.repo.List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, id int64) (Product, error) {
	if id <= 0 {
		return Product{}, errors.New("invalid product ID")
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, product Product) (Product, error) {
	if product.CostingMethod == "" {
		product.CostingMethod = inventory.CostingWeightedAverage
	}
	if err := s.validate(product); err != nil {
		return Product{}, err
	}
	return s.repo.Create(ctx, product)
}

func (s *Service) Update(ctx context.Context, id int64, product Product) error {
	if id <= 0 {
		return errors.New("invalid product ID")
	}
	if err := s.validate(product); err != nil {
		return err
	}
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if current.CostingMethod != product.CostingMethod {
		if err := s.ensureZeroBalance(ctx, id); err != nil {
			return err
		}
	}
	return s.repo.Update(ctx, id, product)
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return errors.New("invalid product ID")
	}
	return s.repo.Delete(ctx, id)
}

func (s *Service) ensureZeroBalance(ctx context.Context, id int64) error {
	if s.balances == nil {
		return nil
	}
	bal, err := s.balances.GetBalance(ctx, id)
	if err != nil {
		return err
	}
	if !bal.Quantity.IsZero() {
		return ErrMethodChangeWithStock
	}
	return nil
}
