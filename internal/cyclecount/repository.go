package cyclecount

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pos/meridian-pos/internal/platform/db"
	"github.com/meridian-pos/meridian-pos/internal/stock"
)

// TxRepository groups the statements the count workflow runs inside one
// transaction, with the stock ledger composed over the same connection.
type TxRepository interface {
	CreateCount(ctx context.Context, cc CycleCount) (int64, error)
	GetCountForUpdate(ctx context.Context, id int64) (CycleCount, error)
	GetItems(ctx context.Context, countID int64) ([]CycleCountItem, error)
	InsertItem(ctx context.Context, item CycleCountItem) (int64, error)
	DeleteItems(ctx context.Context, countID int64) error
	UpdateStatus(ctx context.Context, id int64, status Status) error
	SetCompleted(ctx context.Context, id int64, at time.Time) error
	Stock() stock.TxRepository
}

// Repository implements RepositoryPort on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns the pgx-backed repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const selectCount = `SELECT id, branch_id, status, counted_by, created_at, completed_at FROM cycle_counts`

// GetCount loads a count with its items, without locks.
func (r *Repository) GetCount(ctx context.Context, id int64) (CycleCount, []CycleCountItem, error) {
	cc, err := scanCount(r.pool.QueryRow(ctx, selectCount+` WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CycleCount{}, nil, fmt.Errorf("%w: cycle count %d", ErrNotFound, id)
		}
		return CycleCount{}, nil, err
	}
	rows, err := r.pool.Query(ctx, selectItems, id)
	if err != nil {
		return CycleCount{}, nil, err
	}
	items, err := collectItems(rows)
	if err != nil {
		return CycleCount{}, nil, err
	}
	return cc, items, nil
}

// ListCounts lists branch counts newest first.
func (r *Repository) ListCounts(ctx context.Context, branchID int64, limit int) ([]CycleCount, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, selectCount+` WHERE branch_id=$1 ORDER BY created_at DESC LIMIT $2`, branchID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CycleCount
	for rows.Next() {
		cc, err := scanCount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cc)
	}
	return out, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

const selectItems = `SELECT id, cycle_count_id, variation_id, counted_quantity, system_quantity, discrepancy FROM cycle_count_items WHERE cycle_count_id=$1 ORDER BY id`

func (t *txRepository) CreateCount(ctx context.Context, cc CycleCount) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO cycle_counts (branch_id, status, counted_by, created_at) VALUES ($1, $2, $3, NOW()) RETURNING id`,
		cc.BranchID, string(cc.Status), cc.CountedBy,
	).Scan(&id)
	return id, err
}

func (t *txRepository) GetCountForUpdate(ctx context.Context, id int64) (CycleCount, error) {
	cc, err := scanCount(t.tx.QueryRow(ctx, selectCount+` WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CycleCount{}, fmt.Errorf("%w: cycle count %d", ErrNotFound, id)
		}
		return CycleCount{}, err
	}
	return cc, nil
}

func (t *txRepository) GetItems(ctx context.Context, countID int64) ([]CycleCountItem, error) {
	rows, err := t.tx.Query(ctx, selectItems, countID)
	if err != nil {
		return nil, err
	}
	return collectItems(rows)
}

func (t *txRepository) InsertItem(ctx context.Context, item CycleCountItem) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO cycle_count_items (cycle_count_id, variation_id, counted_quantity, system_quantity, discrepancy)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		item.CycleCountID, item.VariationID, item.CountedQuantity, item.SystemQuantity, item.Discrepancy,
	).Scan(&id)
	return id, err
}

func (t *txRepository) DeleteItems(ctx context.Context, countID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM cycle_count_items WHERE cycle_count_id=$1`, countID)
	return err
}

func (t *txRepository) UpdateStatus(ctx context.Context, id int64, status Status) error {
	_, err := t.tx.Exec(ctx, `UPDATE cycle_counts SET status=$1 WHERE id=$2`, string(status), id)
	return err
}

func (t *txRepository) SetCompleted(ctx context.Context, id int64, at time.Time) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE cycle_counts SET status=$1, completed_at=$2 WHERE id=$3`,
		string(StatusCompleted), at, id,
	)
	return err
}

func (t *txRepository) Stock() stock.TxRepository {
	return stock.NewTxRepository(t.tx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCount(row rowScanner) (CycleCount, error) {
	var cc CycleCount
	var status string
	if err := row.Scan(&cc.ID, &cc.BranchID, &status, &cc.CountedBy, &cc.CreatedAt, &cc.CompletedAt); err != nil {
		return CycleCount{}, err
	}
	cc.Status = Status(status)
	return cc, nil
}

func collectItems(rows pgx.Rows) ([]CycleCountItem, error) {
	defer rows.Close()
	var items []CycleCountItem
	for rows.Next() {
		var item CycleCountItem
		if err := rows.Scan(&item.ID, &item.CycleCountID, &item.VariationID, &item.CountedQuantity, &item.SystemQuantity, &item.Discrepancy); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
