package transfer

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

// TxRepository groups the statements approval and rejection run inside one
// transaction, with the stock ledger composed over the same connection.
type TxRepository interface {
	CreateTransfer(ctx context.Context, tr Transfer) (int64, error)
	GetTransferForUpdate(ctx context.Context, id int64) (Transfer, error)
	Resolve(ctx context.Context, id int64, status Status, actorID int64, at time.Time) error
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

const selectTransfer = `SELECT id, number, variation_id, quantity, from_branch_id, to_branch_id, status, requested_by, created_at, resolved_by, resolved_at FROM stock_transfers`

// GetTransfer loads one transfer without locks.
func (r *Repository) GetTransfer(ctx context.Context, id int64) (Transfer, error) {
	tr, err := scanTransfer(r.pool.QueryRow(ctx, selectTransfer+` WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transfer{}, fmt.Errorf("%w: transfer %d", ErrNotFound, id)
		}
		return Transfer{}, err
	}
	return tr, nil
}

// ListTransfers lists transfers where the branch is source or destination.
func (r *Repository) ListTransfers(ctx context.Context, filter ListFilter) ([]Transfer, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := selectTransfer + ` WHERE (from_branch_id=$1 OR to_branch_id=$1)`
	args := []any{filter.BranchID}
	if filter.Status != "" {
		query += ` AND status=$2`
		args = append(args, string(filter.Status))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transfer
	for rows.Next() {
		tr, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (t *txRepository) CreateTransfer(ctx context.Context, tr Transfer) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO stock_transfers (number, variation_id, quantity, from_branch_id, to_branch_id, status, requested_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW()) RETURNING id`,
		tr.Number, tr.VariationID, tr.Quantity, tr.FromBranchID, tr.ToBranchID, string(tr.Status), tr.RequestedBy,
	).Scan(&id)
	return id, err
}

func (t *txRepository) GetTransferForUpdate(ctx context.Context, id int64) (Transfer, error) {
	tr, err := scanTransfer(t.tx.QueryRow(ctx, selectTransfer+` WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transfer{}, fmt.Errorf("%w: transfer %d", ErrNotFound, id)
		}
		return Transfer{}, err
	}
	return tr, nil
}

func (t *txRepository) Resolve(ctx context.Context, id int64, status Status, actorID int64, at time.Time) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE stock_transfers SET status=$1, resolved_by=$2, resolved_at=$3 WHERE id=$4`,
		string(status), actorID, at, id,
	)
	return err
}

func (t *txRepository) Stock() stock.TxRepository {
	return stock.NewTxRepository(t.tx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransfer(row rowScanner) (Transfer, error) {
	var tr Transfer
	var status string
	if err := row.Scan(&tr.ID, &tr.Number, &tr.VariationID, &tr.Quantity, &tr.FromBranchID, &tr.ToBranchID, &status, &tr.RequestedBy, &tr.CreatedAt, &tr.ResolvedBy, &tr.ResolvedAt); err != nil {
		return Transfer{}, err
	}
	tr.Status = Status(status)
	return tr, nil
}
