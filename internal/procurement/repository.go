package procurement

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

// TxRepository groups the statements ReceiveItems and the status
// transitions run inside one transaction. Stock() exposes the stock
// ledger over the same transaction so receipts and order updates
// commit or roll back together.
type TxRepository interface {
	CreateOrder(ctx context.Context, po PurchaseOrder) (int64, error)
	InsertItem(ctx context.Context, item OrderItem) error
	GetOrderForUpdate(ctx context.Context, id int64) (PurchaseOrder, error)
	GetOrderItems(ctx context.Context, orderID int64) ([]OrderItem, error)
	UpdateOrderStatus(ctx context.Context, id int64, status Status) error
	SetReceived(ctx context.Context, id, userID int64, at time.Time) error
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

// GetOrder loads an order and its lines without locks.
func (r *Repository) GetOrder(ctx context.Context, id int64) (PurchaseOrder, []OrderItem, error) {
	po, err := scanOrder(r.pool.QueryRow(ctx, selectOrder+` WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, nil, fmt.Errorf("%w: purchase order %d", ErrNotFound, id)
		}
		return PurchaseOrder{}, nil, err
	}
	items, err := queryItems(ctx, r.pool, id)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	return po, items, nil
}

// ListOrders lists branch orders newest first.
func (r *Repository) ListOrders(ctx context.Context, branchID int64, status Status, limit int) ([]PurchaseOrder, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := selectOrder + ` WHERE branch_id=$1`
	args := []any{branchID}
	if status != "" {
		query += ` AND status=$2`
		args = append(args, string(status))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var orders []PurchaseOrder
	for rows.Next() {
		po, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, po)
	}
	return orders, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

const selectOrder = `SELECT id, number, supplier_id, branch_id, status, created_by, created_at, received_at, received_by FROM purchase_orders`

func (t *txRepository) CreateOrder(ctx context.Context, po PurchaseOrder) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO purchase_orders (number, supplier_id, branch_id, status, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, NOW()) RETURNING id`,
		po.Number, po.SupplierID, po.BranchID, string(po.Status), po.CreatedBy,
	).Scan(&id)
	return id, err
}

func (t *txRepository) InsertItem(ctx context.Context, item OrderItem) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO purchase_order_items (order_id, variation_id, quantity, unit_price)
		 VALUES ($1, $2, $3, $4)`,
		item.OrderID, item.VariationID, item.Quantity, item.UnitPrice,
	)
	return err
}

func (t *txRepository) GetOrderForUpdate(ctx context.Context, id int64) (PurchaseOrder, error) {
	po, err := scanOrder(t.tx.QueryRow(ctx, selectOrder+` WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, fmt.Errorf("%w: purchase order %d", ErrNotFound, id)
		}
		return PurchaseOrder{}, err
	}
	return po, nil
}

func (t *txRepository) GetOrderItems(ctx context.Context, orderID int64) ([]OrderItem, error) {
	return queryItems(ctx, t.tx, orderID)
}

func (t *txRepository) UpdateOrderStatus(ctx context.Context, id int64, status Status) error {
	_, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET status=$1 WHERE id=$2`, string(status), id)
	return err
}

func (t *txRepository) SetReceived(ctx context.Context, id, userID int64, at time.Time) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE purchase_orders SET status=$1, received_at=$2, received_by=$3 WHERE id=$4`,
		string(StatusReceived), at, userID, id,
	)
	return err
}

func (t *txRepository) Stock() stock.TxRepository {
	return stock.NewTxRepository(t.tx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func scanOrder(row rowScanner) (PurchaseOrder, error) {
	var po PurchaseOrder
	var status string
	if err := row.Scan(&po.ID, &po.Number, &po.SupplierID, &po.BranchID, &status, &po.CreatedBy, &po.CreatedAt, &po.ReceivedAt, &po.ReceivedBy); err != nil {
		return PurchaseOrder{}, err
	}
	po.Status = Status(status)
	return po, nil
}

func queryItems(ctx context.Context, q querier, orderID int64) ([]OrderItem, error) {
	rows, err := q.Query(ctx,
		`SELECT id, order_id, variation_id, quantity, unit_price FROM purchase_order_items WHERE order_id=$1 ORDER BY id`,
		orderID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OrderItem
	for rows.Next() {
		var item OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.VariationID, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
