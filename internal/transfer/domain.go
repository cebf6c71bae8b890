package transfer

import (
	"fmt"
	"time"

	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// Transfer lifecycle statuses.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCompleted Status = "completed"
)

// Transfer moves quantity of one variation between branches. The stock
// mutation happens at approval, not at request: a pending transfer reserves
// nothing.
type Transfer struct {
	ID           int64
	Number       string
	VariationID  int64
	Quantity     int64
	FromBranchID int64
	ToBranchID   int64
	Status       Status
	RequestedBy  int64
	CreatedAt    time.Time
	ResolvedBy   *int64
	ResolvedAt   *time.Time
}

var (
	// ErrNotFound indicates record missing.
	ErrNotFound = fmt.Errorf("transfer: %w", shared.ErrNotFound)
	// ErrInvalidState occurs when action violates status workflow.
	ErrInvalidState = fmt.Errorf("transfer: %w", shared.ErrInvalidState)
	// ErrValidation indicates invalid input.
	ErrValidation = fmt.Errorf("transfer: %w", shared.ErrValidation)
)
