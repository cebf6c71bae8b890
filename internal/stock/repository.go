package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pos/meridian-pos/internal/platform/db"
)

// Repository persists stock records and the movement ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations used by the adjustment
// engine. Composed write paths (receiving, transfers, cycle counts) obtain a
// value bound to their own pgx.Tx via NewTxRepository so every nested
// adjustment shares one transaction.
type TxRepository interface {
	GetRecordForUpdate(ctx context.Context, variationID, branchID int64) (Record, error)
	GetRecord(ctx context.Context, variationID, branchID int64) (Record, error)
	UpsertRecord(ctx context.Context, rec Record) error
	InsertMovement(ctx context.Context, mv Movement) (int64, error)
	HasMovements(ctx context.Context, variationID, branchID int64) (bool, error)
	OpenLayersForUpdate(ctx context.Context, variationID, branchID int64) ([]Layer, error)
	SetLayerRemaining(ctx context.Context, movementID, remaining int64) error
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository wraps an open transaction in the stock transactional view.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("stock repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

// GetRecord reads a record without locking.
func (r *Repository) GetRecord(ctx context.Context, variationID, branchID int64) (Record, error) {
	var rec Record
	err := r.pool.QueryRow(ctx, `SELECT variation_id, branch_id, quantity, low_stock_threshold, updated_at
FROM stock_records WHERE variation_id=$1 AND branch_id=$2`, variationID, branchID).
		Scan(&rec.VariationID, &rec.BranchID, &rec.Quantity, &rec.LowStockThreshold, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	return rec, nil
}

// ListMovements returns ledger entries for a pair, newest first.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT id, variation_id, branch_id, quantity_change, reason, user_id, unit_cost, quantity_remaining, reference, created_at
FROM stock_movements
WHERE variation_id=$1 AND branch_id=$2
ORDER BY created_at DESC, id DESC
LIMIT $3 OFFSET $4`, filter.VariationID, filter.BranchID, limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	movements := []Movement{}
	for rows.Next() {
		var mv Movement
		if err := rows.Scan(&mv.ID, &mv.VariationID, &mv.BranchID, &mv.QuantityChange, &mv.Reason, &mv.UserID, &mv.UnitCost, &mv.QuantityRemaining, &mv.Reference, &mv.CreatedAt); err != nil {
			return nil, err
		}
		movements = append(movements, mv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func (r *txRepository) GetRecordForUpdate(ctx context.Context, variationID, branchID int64) (Record, error) {
	var rec Record
	err := r.tx.QueryRow(ctx, `SELECT variation_id, branch_id, quantity, low_stock_threshold, updated_at
FROM stock_records WHERE variation_id=$1 AND branch_id=$2 FOR UPDATE`, variationID, branchID).
		Scan(&rec.VariationID, &rec.BranchID, &rec.Quantity, &rec.LowStockThreshold, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	return rec, nil
}

func (r *txRepository) GetRecord(ctx context.Context, variationID, branchID int64) (Record, error) {
	var rec Record
	err := r.tx.QueryRow(ctx, `SELECT variation_id, branch_id, quantity, low_stock_threshold, updated_at
FROM stock_records WHERE variation_id=$1 AND branch_id=$2`, variationID, branchID).
		Scan(&rec.VariationID, &rec.BranchID, &rec.Quantity, &rec.LowStockThreshold, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	return rec, nil
}

func (r *txRepository) UpsertRecord(ctx context.Context, rec Record) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_records (variation_id, branch_id, quantity, low_stock_threshold, updated_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (variation_id, branch_id) DO UPDATE SET quantity=EXCLUDED.quantity, low_stock_threshold=EXCLUDED.low_stock_threshold, updated_at=NOW()`,
		rec.VariationID, rec.BranchID, rec.Quantity, rec.LowStockThreshold)
	return err
}

func (r *txRepository) InsertMovement(ctx context.Context, mv Movement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (variation_id, branch_id, quantity_change, reason, user_id, unit_cost, quantity_remaining, reference, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW()) RETURNING id`,
		mv.VariationID, mv.BranchID, mv.QuantityChange, string(mv.Reason), mv.UserID, mv.UnitCost, mv.QuantityRemaining, mv.Reference).Scan(&id)
	return id, err
}

func (r *txRepository) HasMovements(ctx context.Context, variationID, branchID int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stock_movements WHERE variation_id=$1 AND branch_id=$2)`, variationID, branchID).Scan(&exists)
	return exists, err
}

// OpenLayersForUpdate locks and returns unconsumed positive layers oldest
// first. Consumption order is the FIFO guarantee, so the sort here is load
// bearing.
func (r *txRepository) OpenLayersForUpdate(ctx context.Context, variationID, branchID int64) ([]Layer, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, quantity_remaining, unit_cost, created_at
FROM stock_movements
WHERE variation_id=$1 AND branch_id=$2 AND quantity_remaining > 0
ORDER BY created_at ASC, id ASC
FOR UPDATE`, variationID, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	layers := []Layer{}
	for rows.Next() {
		var layer Layer
		if err := rows.Scan(&layer.MovementID, &layer.Remaining, &layer.UnitCost, &layer.CreatedAt); err != nil {
			return nil, err
		}
		layers = append(layers, layer)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return layers, nil
}

func (r *txRepository) SetLayerRemaining(ctx context.Context, movementID, remaining int64) error {
	if remaining < 0 {
		return fmt.Errorf("stock: layer remaining must not be negative")
	}
	tag, err := r.tx.Exec(ctx, `UPDATE stock_movements SET quantity_remaining=$1 WHERE id=$2 AND quantity_remaining >= $1`, remaining, movementID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: layer %d cannot grow back", ErrLedgerCorrupted, movementID)
	}
	return nil
}
