package products

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type memoryProductRepo struct {
	products map[int64]Product
	nextID   int64
}

func newMemoryProductRepo() *memoryProductRepo {
	return &memoryProductRepo{products: make(map[int64]Product)}
}

func (r *memoryProductRepo) List(_ context.Context, filters ListFilters) ([]Product, int, error) {
	var out []Product
	for _, p := range r.products {
		if filters.IsActive != nil && p.IsActive != *filters.IsActive {
			continue
		}
		out = append(out, p)
	}
	return out, len(out), nil
}

func (r *memoryProductRepo) Get(_ context.Context, id int64) (Product, error) {
	p, ok := r.products[id]
	if !ok {
		return Product{}, shared.ErrNotFound
	}
	return p, nil
}

func (r *memoryProductRepo) Create(_ context.Context, product Product) (Product, error) {
	r.nextID++
	product.ID = r.nextID
	r.products[product.ID] = product
	return product, nil
}

func (r *memoryProductRepo) Update(_ context.Context, id int64, product Product) error {
	if _, ok := r.products[id]; !ok {
		return shared.ErrNotFound
	}
	product.ID = id
	r.products[id] = product
	return nil
}

func (r *memoryProductRepo) Delete(_ context.Context, id int64) error {
	if _, ok := r.products[id]; !ok {
		return shared.ErrNotFound
	}
	delete(r.products, id)
	return nil
}

type staticBalances map[int64]inventory.Balance

func (b staticBalances) GetBalance(_ context.Context, productID int64) (inventory.Balance, error) {
	return b[productID], nil
}

func TestCreateDefaultsCostingMethod(t *testing.T) {
	svc := NewService(newMemoryProductRepo(), nil)

	p, err := svc.Create(context.Background(), Product{Code: "SKU-1", Name: "Widget"})
	require.NoError(t, err)
	require.Equal(t, inventory.CostingWeightedAverage, p.CostingMethod)
}

func TestCreateValidation(t *testing.T) {
	svc := NewService(newMemoryProductRepo(), nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, Product{Name: "no code"})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.Create(ctx, Product{Code: "SKU-1"})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.Create(ctx, Product{Code: "SKU-1", Name: "Widget", CostingMethod: "LIFO"})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.Create(ctx, Product{Code: "SKU-1", Name: "Widget", CostingMethod: inventory.CostingFifo,
		MinimumStock: decimal.NewFromInt(-1)})
	require.ErrorIs(t, err, ErrValidation)
}

func TestUpdateMethodChangeRequiresZeroBalance(t *testing.T) {
	repo := newMemoryProductRepo()
	balances := staticBalances{}
	svc := NewService(repo, balances)
	ctx := context.Background()

	p, err := svc.Create(ctx, Product{Code: "SKU-1", Name: "Widget", CostingMethod: inventory.CostingWeightedAverage})
	require.NoError(t, err)

	balances[p.ID] = inventory.Balance{ProductID: p.ID, Quantity: decimal.NewFromInt(5)}
	p.CostingMethod = inventory.CostingFifo
	err = svc.Update(ctx, p.ID, p)
	require.ErrorIs(t, err, ErrMethodChangeWithStock)

	// A zero balance unlocks the switch; the average-cost memory is moot and
	// future receipts start fresh layers.
	balances[p.ID] = inventory.Balance{ProductID: p.ID}
	require.NoError(t, svc.Update(ctx, p.ID, p))

	got, err := svc.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, inventory.CostingFifo, got.CostingMethod)
}

func TestUpdateWithoutMethodChangeSkipsBalanceCheck(t *testing.T) {
	repo := newMemoryProductRepo()
	balances := staticBalances{}
	svc := NewService(repo, balances)
	ctx := context.Background()

	p, err := svc.Create(ctx, Product{Code: "SKU-1", Name: "Widget"})
	require.NoError(t, err)
	balances[p.ID] = inventory.Balance{ProductID: p.ID, Quantity: decimal.NewFromInt(5)}

	p.Name = "Widget v2"
	require.NoError(t, svc.Update(ctx, p.ID, p))
}

func TestCostingMethodNormalisation(t *testing.T) {
	require.Equal(t, inventory.CostingWeightedAverage, costingMethod(""))
	require.Equal(t, inventory.CostingFifo, costingMethod("fifo"))
	require.Equal(t, inventory.CostingWeightedAverage, costingMethod("weighted_average"))
}
