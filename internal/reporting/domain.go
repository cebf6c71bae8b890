package reporting

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// DiscrepancyRow flags a (variation, branch) pair whose live record quantity
// disagrees with the sum of its ledger movements. With every mutation going
// through the adjustment engine this should never return rows; any hit is a
// sign of out-of-band writes.
type DiscrepancyRow struct {
	VariationID    int64  `json:"variation_id"`
	BranchID       int64  `json:"branch_id"`
	SKU            string `json:"sku"`
	ProductName    string `json:"product_name"`
	VariationName  string `json:"variation_name"`
	RecordQuantity int64  `json:"record_quantity"`
	LedgerQuantity int64  `json:"ledger_quantity"`
	Difference     int64  `json:"difference"`
}

// ReorderCandidate is a below-threshold pair before demand enrichment.
type ReorderCandidate struct {
	VariationID int64
	ProductID   int64
	SKU         string
	BranchID    int64
	Quantity    int64
	Threshold   int64
}

// ReorderSuggestion is a purchase proposal for one below-threshold pair.
type ReorderSuggestion struct {
	VariationID       int64   `json:"variation_id"`
	ProductID         int64   `json:"product_id"`
	SKU               string  `json:"sku"`
	BranchID          int64   `json:"branch_id"`
	CurrentQuantity   int64   `json:"current_quantity"`
	Threshold         int64   `json:"threshold"`
	PredictedDemand   float64 `json:"predicted_demand"`
	SuggestedQuantity int64   `json:"suggested_quantity"`
}

// ValuationLine is the FIFO value of one variation's open layers.
type ValuationLine struct {
	VariationID int64           `json:"variation_id"`
	SKU         string          `json:"sku"`
	Quantity    int64           `json:"quantity"`
	Value       decimal.Decimal `json:"value"`
}

// Valuation totals a branch's on-hand inventory at its layered FIFO cost.
type Valuation struct {
	BranchID   int64           `json:"branch_id"`
	TotalValue decimal.Decimal `json:"total_value"`
	Lines      []ValuationLine `json:"lines"`
}

// ErrValidation indicates invalid input.
var ErrValidation = fmt.Errorf("reporting: %w", shared.ErrValidation)
