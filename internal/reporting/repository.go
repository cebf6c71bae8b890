package reporting

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository runs the read-only reporting aggregates. Everything here reads
// committed state only; no locks, no writes.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns the pgx-backed repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindDiscrepancies compares each record quantity against the summed ledger.
func (r *Repository) FindDiscrepancies(ctx context.Context, branchID int64) ([]DiscrepancyRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT sr.variation_id, sr.branch_id, pv.sku, p.name, pv.name,
		       sr.quantity, COALESCE(m.ledger_quantity, 0),
		       sr.quantity - COALESCE(m.ledger_quantity, 0)
		FROM stock_records sr
		JOIN product_variations pv ON pv.id = sr.variation_id
		JOIN products p ON p.id = pv.product_id
		LEFT JOIN (
			SELECT variation_id, branch_id, SUM(quantity_change) AS ledger_quantity
			FROM stock_movements
			GROUP BY variation_id, branch_id
		) m ON m.variation_id = sr.variation_id AND m.branch_id = sr.branch_id
		WHERE sr.branch_id = $1
		  AND sr.quantity <> COALESCE(m.ledger_quantity, 0)
		ORDER BY pv.sku`, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DiscrepancyRow
	for rows.Next() {
		var row DiscrepancyRow
		if err := rows.Scan(&row.VariationID, &row.BranchID, &row.SKU, &row.ProductName, &row.VariationName,
			&row.RecordQuantity, &row.LedgerQuantity, &row.Difference); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ListBelowThreshold returns pairs at or below their reorder point. Pairs
// with a zero threshold never qualify.
func (r *Repository) ListBelowThreshold(ctx context.Context, branchID int64) ([]ReorderCandidate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT sr.variation_id, pv.product_id, pv.sku, sr.branch_id, sr.quantity, sr.low_stock_threshold
		FROM stock_records sr
		JOIN product_variations pv ON pv.id = sr.variation_id
		WHERE sr.branch_id = $1
		  AND sr.low_stock_threshold > 0
		  AND sr.quantity <= sr.low_stock_threshold
		ORDER BY pv.sku`, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ReorderCandidate
	for rows.Next() {
		var c ReorderCandidate
		if err := rows.Scan(&c.VariationID, &c.ProductID, &c.SKU, &c.BranchID, &c.Quantity, &c.Threshold); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// StockValuation sums the open FIFO layers at their landed unit cost.
func (r *Repository) StockValuation(ctx context.Context, branchID int64) (Valuation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT sm.variation_id, pv.sku,
		       SUM(sm.quantity_remaining),
		       SUM(sm.quantity_remaining * sm.unit_cost)
		FROM stock_movements sm
		JOIN product_variations pv ON pv.id = sm.variation_id
		WHERE sm.branch_id = $1
		  AND sm.quantity_remaining > 0
		GROUP BY sm.variation_id, pv.sku
		ORDER BY pv.sku`, branchID)
	if err != nil {
		return Valuation{}, err
	}
	defer rows.Close()
	val := Valuation{BranchID: branchID, TotalValue: decimal.Zero}
	for rows.Next() {
		var line ValuationLine
		if err := rows.Scan(&line.VariationID, &line.SKU, &line.Quantity, &line.Value); err != nil {
			return Valuation{}, err
		}
		val.Lines = append(val.Lines, line)
		val.TotalValue = val.TotalValue.Add(line.Value)
	}
	return val, rows.Err()
}

// ListBranchIDs lists every branch holding stock records, for the scheduled
// reorder scan.
func (r *Repository) ListBranchIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT branch_id FROM stock_records ORDER BY branch_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
