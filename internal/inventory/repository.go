package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations the engine runs against.
type TxRepository interface {
	EnsureBalance(ctx context.Context, productID int64) error
	GetBalanceForUpdate(ctx context.Context, productID int64) (Balance, error)
	UpsertBalance(ctx context.Context, balance Balance) error
	InsertLayer(ctx context.Context, layer FifoLayer) (int64, error)
	ActiveLayersForUpdate(ctx context.Context, productID int64) ([]FifoLayer, error)
	UpdateLayer(ctx context.Context, layer FifoLayer) error
	InsertTransaction(ctx context.Context, txn Transaction) (int64, error)
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository binds the engine's transactional operations to an existing
// pgx transaction. Modules whose operations must commit atomically with
// inventory movements (production completion) own the transaction and join
// the engine to it through here.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// ErrBalanceNotFound indicates a missing balance row.
var ErrBalanceNotFound = errors.New("inventory balance not found")

// WithTx executes the callback inside a repeatable-read transaction. Lock and
// serialization conflicts surface as ErrConcurrentModification so callers can
// retry the whole movement.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
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
			return ErrConcurrentModification
		}
	}
	return err
}

// GetBalance reads the balance aggregate without locking.
func (r *Repository) GetBalance(ctx context.Context, productID int64) (Balance, error) {
	var bal Balance
	err := r.pool.QueryRow(ctx, `SELECT product_id, quantity, total_cost, average_cost, updated_at
FROM inventory_balances WHERE product_id=$1`, productID).
		Scan(&bal.ProductID, &bal.Quantity, &bal.TotalCost, &bal.AverageCost, &bal.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{ProductID: productID}, ErrBalanceNotFound
		}
		return Balance{}, err
	}
	return bal, nil
}

// ListBalances returns every balance aggregate.
func (r *Repository) ListBalances(ctx context.Context) ([]Balance, error) {
	rows, err := r.pool.Query(ctx, `SELECT product_id, quantity, total_cost, average_cost, updated_at
FROM inventory_balances ORDER BY product_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var balances []Balance
	for rows.Next() {
		var bal Balance
		if err := rows.Scan(&bal.ProductID, &bal.Quantity, &bal.TotalCost, &bal.AverageCost, &bal.UpdatedAt); err != nil {
			return nil, err
		}
		balances = append(balances, bal)
	}
	return balances, rows.Err()
}

// ListLayers returns the FIFO layers for a product in consumption order.
// activeOnly skips exhausted layers.
func (r *Repository) ListLayers(ctx context.Context, productID int64, activeOnly bool) ([]FifoLayer, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, layer_date, original_qty, remaining_qty, unit_cost, fully_consumed, created_at
FROM inventory_fifo_layers WHERE product_id=$1 AND ($2 = FALSE OR fully_consumed = FALSE)
ORDER BY layer_date ASC, id ASC`, productID, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLayers(rows)
}

// ListTransactions lists ledger entries, oldest first.
func (r *Repository) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	types := make([]string, 0, len(filter.Types))
	for _, t := range filter.Types {
		types = append(types, string(t))
	}
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, tx_type, quantity, unit_cost, total_cost, selling_price,
balance_after, total_cost_after, COALESCE(journal_entry_id, 0), ref_module, COALESCE(ref_id::text, ''), note, posted_at, COALESCE(created_by, 0), created_at
FROM inventory_transactions
WHERE ($1 = 0 OR product_id = $1)
  AND (cardinality($2::text[]) = 0 OR tx_type = ANY($2))
  AND posted_at BETWEEN COALESCE($3, '-infinity') AND COALESCE($4, 'infinity')
ORDER BY id ASC
LIMIT $5`, filter.ProductID, types, nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// ListAllTransactions streams the full ledger in insertion order, the input to
// a replay.
func (r *Repository) ListAllTransactions(ctx context.Context) ([]Transaction, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, tx_type, quantity, unit_cost, total_cost, selling_price,
balance_after, total_cost_after, COALESCE(journal_entry_id, 0), ref_module, COALESCE(ref_id::text, ''), note, posted_at, COALESCE(created_by, 0), created_at
FROM inventory_transactions ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// LinkJournalEntry records the journal entry posted for a ledger row. The
// economic fields of a transaction stay immutable; only the link is set.
func (r *Repository) LinkJournalEntry(ctx context.Context, transactionID, journalEntryID int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE inventory_transactions SET journal_entry_id=$2 WHERE id=$1 AND journal_entry_id IS NULL`,
		transactionID, journalEntryID)
	return err
}

// RestoreState overwrites the materialized balances and FIFO layers with a
// ledger rebuild, in one serializable transaction. Layer rows get new ids;
// nothing else references them, and consumption order is preserved because
// rebuilt layers are reinserted in ledger order.
func (r *Repository) RestoreState(ctx context.Context, state RebuiltState) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM inventory_fifo_layers`); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM inventory_balances`); err != nil {
		return err
	}
	for _, bal := range state.Balances {
		if _, err := tx.Exec(ctx, `INSERT INTO inventory_balances (product_id, quantity, total_cost, average_cost, updated_at)
VALUES ($1, $2, $3, $4, NOW())`, bal.ProductID, bal.Quantity, bal.TotalCost, bal.AverageCost); err != nil {
			return err
		}
	}
	for _, layers := range state.Layers {
		for _, layer := range layers {
			if _, err := tx.Exec(ctx, `INSERT INTO inventory_fifo_layers (product_id, layer_date, original_qty, remaining_qty, unit_cost, fully_consumed, created_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
				layer.ProductID, layer.LayerDate, layer.OriginalQuantity, layer.RemainingQuantity, layer.UnitCost, layer.FullyConsumed); err != nil {
				return err
			}
		}
	}
	return tx.Commit(ctx)
}

func (r *txRepository) EnsureBalance(ctx context.Context, productID int64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_balances (product_id, quantity, total_cost, average_cost, updated_at)
VALUES ($1, 0, 0, 0, NOW()) ON CONFLICT (product_id) DO NOTHING`, productID)
	return err
}

func (r *txRepository) GetBalanceForUpdate(ctx context.Context, productID int64) (Balance, error) {
	var bal Balance
	err := r.tx.QueryRow(ctx, `SELECT product_id, quantity, total_cost, average_cost, updated_at
FROM inventory_balances WHERE product_id=$1 FOR UPDATE`, productID).
		Scan(&bal.ProductID, &bal.Quantity, &bal.TotalCost, &bal.AverageCost, &bal.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{ProductID: productID}, ErrBalanceNotFound
		}
		return Balance{}, err
	}
	return bal, nil
}

func (r *txRepository) UpsertBalance(ctx context.Context, balance Balance) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_balances (product_id, quantity, total_cost, average_cost, updated_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (product_id) DO UPDATE SET quantity=EXCLUDED.quantity, total_cost=EXCLUDED.total_cost, average_cost=EXCLUDED.average_cost, updated_at=NOW()`,
		balance.ProductID, balance.Quantity, balance.TotalCost, balance.AverageCost)
	return err
}

func (r *txRepository) InsertLayer(ctx context.Context, layer FifoLayer) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_fifo_layers (product_id, layer_date, original_qty, remaining_qty, unit_cost, fully_consumed, created_at)
VALUES ($1,$2,$3,$4,$5,false,NOW()) RETURNING id`,
		layer.ProductID, layer.LayerDate, layer.OriginalQuantity, layer.RemainingQuantity, layer.UnitCost).Scan(&id)
	return id, err
}

func (r *txRepository) ActiveLayersForUpdate(ctx context.Context, productID int64) ([]FifoLayer, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, product_id, layer_date, original_qty, remaining_qty, unit_cost, fully_consumed, created_at
FROM inventory_fifo_layers WHERE product_id=$1 AND NOT fully_consumed
ORDER BY layer_date ASC, id ASC FOR UPDATE`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLayers(rows)
}

func (r *txRepository) UpdateLayer(ctx context.Context, layer FifoLayer) error {
	_, err := r.tx.Exec(ctx, `UPDATE inventory_fifo_layers SET remaining_qty=$2, fully_consumed=$3 WHERE id=$1`,
		layer.ID, layer.RemainingQuantity, layer.FullyConsumed)
	return err
}

func (r *txRepository) InsertTransaction(ctx context.Context, txn Transaction) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_transactions
(product_id, tx_type, quantity, unit_cost, total_cost, selling_price, balance_after, total_cost_after, ref_module, ref_id, note, posted_at, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NOW()) RETURNING id`,
		txn.ProductID, string(txn.Type), txn.Quantity, txn.UnitCost, txn.TotalCost, txn.SellingPrice,
		txn.BalanceAfter, txn.TotalCostAfter, txn.RefModule, nullUUID(txn.RefID), txn.Note, txn.PostedAt, nullInt(txn.CreatedBy)).Scan(&id)
	return id, err
}

func scanLayers(rows pgx.Rows) ([]FifoLayer, error) {
	var layers []FifoLayer
	for rows.Next() {
		var layer FifoLayer
		if err := rows.Scan(&layer.ID, &layer.ProductID, &layer.LayerDate, &layer.OriginalQuantity,
			&layer.RemainingQuantity, &layer.UnitCost, &layer.FullyConsumed, &layer.CreatedAt); err != nil {
			return nil, err
		}
		layers = append(layers, layer)
	}
	return layers, rows.Err()
}

func scanTransactions(rows pgx.Rows) ([]Transaction, error) {
	var txns []Transaction
	for rows.Next() {
		var txn Transaction
		if err := rows.Scan(&txn.ID, &txn.ProductID, &txn.Type, &txn.Quantity, &txn.UnitCost, &txn.TotalCost,
			&txn.SellingPrice, &txn.BalanceAfter, &txn.TotalCostAfter, &txn.JournalEntryID, &txn.RefModule,
			&txn.RefID, &txn.Note, &txn.PostedAt, &txn.CreatedBy, &txn.CreatedAt); err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullUUID(value string) any {
	if value == "" {
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
