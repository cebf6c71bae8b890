package stock

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// Reason classifies a ledger movement.
type Reason string

const (
	// ReasonReceived marks goods received against a purchase order.
	ReasonReceived Reason = "received"
	// ReasonDispatched marks outbound goods not tied to a sale.
	ReasonDispatched Reason = "dispatched"
	// ReasonSold marks goods sold at checkout.
	ReasonSold Reason = "sold"
	// ReasonReturned marks customer returns re-entering stock.
	ReasonReturned Reason = "returned"
	// ReasonTransferIn credits the destination branch of a transfer.
	ReasonTransferIn Reason = "transfer_in"
	// ReasonTransferOut debits the source branch of a transfer.
	ReasonTransferOut Reason = "transfer_out"
	// ReasonCountAdjustment reconciles a cycle-count discrepancy.
	ReasonCountAdjustment Reason = "count_adjustment"
	// ReasonOpeningBalance seeds a ledger for records migrated without history.
	ReasonOpeningBalance Reason = "opening_balance"
)

// Valid reports whether the reason is a known movement class.
func (r Reason) Valid() bool {
	switch r {
	case ReasonReceived, ReasonDispatched, ReasonSold, ReasonReturned,
		ReasonTransferIn, ReasonTransferOut, ReasonCountAdjustment, ReasonOpeningBalance:
		return true
	}
	return false
}

// RequiresCostBasis reports whether a positive movement with this reason must
// carry a unit cost. Transfer credits and count surpluses get their cost from
// the engine itself, not the caller.
func (r Reason) RequiresCostBasis() bool {
	switch r {
	case ReasonReceived, ReasonReturned:
		return true
	}
	return false
}

// Record tracks the live quantity for one (variation, branch) pair. Mutated
// exclusively by the adjustment engine under a row lock.
type Record struct {
	VariationID       int64
	BranchID          int64
	Quantity          int64
	LowStockThreshold int64
	UpdatedAt         time.Time
}

// Movement is one append-only ledger entry. A positive entry doubles as a
// FIFO cost layer: QuantityRemaining tracks how much of it later negative
// entries have not yet consumed. Entries are immutable except for
// QuantityRemaining, which only decreases.
type Movement struct {
	ID                int64
	VariationID       int64
	BranchID          int64
	QuantityChange    int64
	Reason            Reason
	UserID            *int64
	UnitCost          decimal.Decimal
	QuantityRemaining *int64
	Reference         string
	CreatedAt         time.Time
}

// Layer is the open-cost-layer view of a positive movement.
type Layer struct {
	MovementID int64
	Remaining  int64
	UnitCost   decimal.Decimal
	CreatedAt  time.Time
}

// AdjustmentInput describes one quantity change. UnitCost distinguishes an
// absent cost basis from a zero one, so free acquisitions book 0.00 layers.
type AdjustmentInput struct {
	VariationID    int64
	BranchID       int64
	QuantityChange int64
	Reason         Reason
	UserID         *int64
	UnitCost       decimal.NullDecimal
	Reference      string
}

// AdjustmentResult reports the committed state after one adjustment.
// ConsumedCost carries the FIFO value of a negative change so transfers can
// credit the destination at the cost actually taken from the source layers.
type AdjustmentResult struct {
	Record       Record
	Movement     Movement
	ConsumedCost decimal.Decimal
	LowStock     bool
}

// LowStockAlert is the payload dispatched when a quantity falls to or below
// its threshold.
type LowStockAlert struct {
	VariationID int64 `json:"variation_id"`
	BranchID    int64 `json:"branch_id"`
	Quantity    int64 `json:"quantity"`
	Threshold   int64 `json:"threshold"`
}

// OpeningBalanceInput seeds a synthetic cost layer for a pair whose quantity
// predates layer tracking.
type OpeningBalanceInput struct {
	VariationID int64
	BranchID    int64
	Quantity    int64
	UnitCost    decimal.Decimal
	UserID      *int64
}

// MovementFilter narrows ledger listings.
type MovementFilter struct {
	VariationID int64
	BranchID    int64
	Limit       int
	Offset      int
}

var (
	// ErrNotFound indicates a missing stock record.
	ErrNotFound = fmt.Errorf("stock: record %w", shared.ErrNotFound)
	// ErrValidation indicates rejected adjustment input.
	ErrValidation = fmt.Errorf("stock: %w", shared.ErrValidation)
	// ErrInsufficientStock indicates a decrease that would drive quantity negative.
	ErrInsufficientStock = fmt.Errorf("stock: %w", shared.ErrInsufficientStock)
	// ErrLedgerCorrupted indicates layer consumption could not satisfy a
	// decrease the running quantity allowed. Fatal; rolls back the transaction.
	ErrLedgerCorrupted = fmt.Errorf("stock: %w", shared.ErrLedgerCorrupted)
)
