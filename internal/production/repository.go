package production

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
)

// Repository persists BOMs and production orders in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations used by lifecycle
// transitions. Inventory returns the engine's store bound to the same
// transaction, so completion commits order state and stock movements
// atomically. GetBOM reads through the transaction so completion prices
// against the snapshot it locked.
type TxRepository interface {
	GetOrderForUpdate(ctx context.Context, id int64) (ProductionOrder, error)
	UpdateOrder(ctx context.Context, order ProductionOrder) error
	GetBOM(ctx context.Context, id int64) (BillOfMaterial, error)
	Inventory() inventory.TxRepository
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction. Lock and
// serialization conflicts surface as inventory.ErrConcurrentModification, the
// same retry signal movement callers already handle.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("production repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return translateConflict(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return translateConflict(err)
	}
	return nil
}

func translateConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return inventory.ErrConcurrentModification
		}
	}
	return err
}

const bomColumns = `id, code, name, product_id, output_qty, is_active, created_at, updated_at`
const orderColumns = `id, number, bom_id, product_id, quantity, status, order_date, COALESCE(planned_date, '0001-01-01'::timestamptz), started_at, completed_at, total_component_cost, unit_cost, note, created_by, COALESCE(completed_by, 0), created_at, updated_at`

// CreateBOM inserts a BOM header with its lines.
func (r *Repository) CreateBOM(ctx context.Context, bom BillOfMaterial) (BillOfMaterial, error) {
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `INSERT INTO bill_of_materials (code, name, product_id, output_qty, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW(),NOW()) RETURNING id, created_at, updated_at`,
			bom.Code, bom.Name, bom.ProductID, bom.OutputQuantity, bom.IsActive).
			Scan(&bom.ID, &bom.CreatedAt, &bom.UpdatedAt)
		if err != nil {
			return err
		}
		for i := range bom.Lines {
			bom.Lines[i].BOMID = bom.ID
			err := tx.QueryRow(ctx, `INSERT INTO bill_of_material_lines (bom_id, component_id, quantity, line_order)
VALUES ($1,$2,$3,$4) RETURNING id`,
				bom.ID, bom.Lines[i].ComponentID, bom.Lines[i].Quantity, bom.Lines[i].LineOrder).
				Scan(&bom.Lines[i].ID)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return BillOfMaterial{}, err
	}
	return bom, nil
}

// GetBOM loads a BOM with its lines in consumption order.
func (r *Repository) GetBOM(ctx context.Context, id int64) (BillOfMaterial, error) {
	return getBOM(ctx, r.pool, id)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func getBOM(ctx context.Context, q querier, id int64) (BillOfMaterial, error) {
	var bom BillOfMaterial
	err := q.QueryRow(ctx, `SELECT `+bomColumns+` FROM bill_of_materials WHERE id=$1`, id).
		Scan(&bom.ID, &bom.Code, &bom.Name, &bom.ProductID, &bom.OutputQuantity, &bom.IsActive, &bom.CreatedAt, &bom.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BillOfMaterial{}, ErrBOMNotFound
		}
		return BillOfMaterial{}, err
	}
	rows, err := q.Query(ctx, `SELECT id, bom_id, component_id, quantity, line_order
FROM bill_of_material_lines WHERE bom_id=$1 ORDER BY line_order ASC, id ASC`, id)
	if err != nil {
		return BillOfMaterial{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line BOMLine
		if err := rows.Scan(&line.ID, &line.BOMID, &line.ComponentID, &line.Quantity, &line.LineOrder); err != nil {
			return BillOfMaterial{}, err
		}
		bom.Lines = append(bom.Lines, line)
	}
	return bom, rows.Err()
}

// ListBOMs lists BOM headers.
func (r *Repository) ListBOMs(ctx context.Context, limit int) ([]BillOfMaterial, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT `+bomColumns+` FROM bill_of_materials ORDER BY code ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var boms []BillOfMaterial
	for rows.Next() {
		var bom BillOfMaterial
		if err := rows.Scan(&bom.ID, &bom.Code, &bom.Name, &bom.ProductID, &bom.OutputQuantity, &bom.IsActive, &bom.CreatedAt, &bom.UpdatedAt); err != nil {
			return nil, err
		}
		boms = append(boms, bom)
	}
	return boms, rows.Err()
}

// CreateOrder inserts a draft production order.
func (r *Repository) CreateOrder(ctx context.Context, order ProductionOrder) (ProductionOrder, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO production_orders
(number, bom_id, product_id, quantity, status, order_date, planned_date, total_component_cost, unit_cost, note, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,0,0,$8,$9,NOW(),NOW()) RETURNING id, created_at, updated_at`,
		order.Number, order.BOMID, order.ProductID, order.Quantity, string(order.Status),
		order.OrderDate, nullTime(order.PlannedDate), order.Note, order.CreatedBy).
		Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	return order, err
}

// GetOrder loads a production order.
func (r *Repository) GetOrder(ctx context.Context, id int64) (ProductionOrder, error) {
	order, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM production_orders WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ProductionOrder{}, ErrOrderNotFound
		}
		return ProductionOrder{}, err
	}
	return order, nil
}

// ListOrders lists orders, newest first, optionally filtered by status.
func (r *Repository) ListOrders(ctx context.Context, status OrderStatus, limit int) ([]ProductionOrder, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT `+orderColumns+` FROM production_orders
WHERE ($1 = '' OR status = $1) ORDER BY id DESC LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var orders []ProductionOrder
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// DeleteOrder removes an order row. The service only permits this in DRAFT.
func (r *Repository) DeleteOrder(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM production_orders WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *txRepository) GetOrderForUpdate(ctx context.Context, id int64) (ProductionOrder, error) {
	order, err := scanOrder(r.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM production_orders WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ProductionOrder{}, ErrOrderNotFound
		}
		return ProductionOrder{}, err
	}
	return order, nil
}

func (r *txRepository) UpdateOrder(ctx context.Context, order ProductionOrder) error {
	_, err := r.tx.Exec(ctx, `UPDATE production_orders SET status=$2, started_at=$3, completed_at=$4,
total_component_cost=$5, unit_cost=$6, completed_by=$7, updated_at=NOW() WHERE id=$1`,
		order.ID, string(order.Status), order.StartedAt, order.CompletedAt,
		order.TotalComponentCost, order.UnitCost, nullInt(order.CompletedBy))
	return err
}

func (r *txRepository) GetBOM(ctx context.Context, id int64) (BillOfMaterial, error) {
	return getBOM(ctx, r.tx, id)
}

func (r *txRepository) Inventory() inventory.TxRepository {
	return inventory.NewTxRepository(r.tx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (ProductionOrder, error) {
	var order ProductionOrder
	err := row.Scan(&order.ID, &order.Number, &order.BOMID, &order.ProductID, &order.Quantity, &order.Status,
		&order.OrderDate, &order.PlannedDate, &order.StartedAt, &order.CompletedAt,
		&order.TotalComponentCost, &order.UnitCost, &order.Note, &order.CreatedBy, &order.CompletedBy,
		&order.CreatedAt, &order.UpdatedAt)
	return order, err
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
