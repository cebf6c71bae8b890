package procurement

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// Purchase order lifecycle statuses.
type Status string

const (
	StatusPending   Status = "pending"
	StatusOrdered   Status = "ordered"
	StatusReceived  Status = "received"
	StatusCancelled Status = "cancelled"
)

// PurchaseOrder domain model. Items are immutable once the order leaves
// pending; receiving reads them to drive the stock engine.
type PurchaseOrder struct {
	ID         int64
	Number     string
	SupplierID int64
	BranchID   int64
	Status     Status
	CreatedBy  int64
	CreatedAt  time.Time
	ReceivedAt *time.Time
	ReceivedBy *int64
}

// OrderItem represents one ordered line. UnitPrice is the authoritative cost
// basis for receipt: receiving never trusts a caller-supplied price.
type OrderItem struct {
	ID          int64
	OrderID     int64
	VariationID int64
	Quantity    int64
	UnitPrice   decimal.Decimal
}

var (
	// ErrNotFound indicates record missing.
	ErrNotFound = fmt.Errorf("procurement: order %w", shared.ErrNotFound)
	// ErrInvalidState occurs when action violates status workflow.
	ErrInvalidState = fmt.Errorf("procurement: %w", shared.ErrInvalidState)
	// ErrValidation indicates invalid input.
	ErrValidation = fmt.Errorf("procurement: %w", shared.ErrValidation)
)
