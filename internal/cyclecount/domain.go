package cyclecount

import (
	"fmt"
	"time"

	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// Cycle count lifecycle statuses.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// CycleCount is a physical recount of one branch's shelf stock. Items carry
// the system quantity snapshotted at capture time; completion reconciles the
// non-zero discrepancies into the ledger.
type CycleCount struct {
	ID          int64
	BranchID    int64
	Status      Status
	CountedBy   int64
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// CycleCountItem is one counted variation. Discrepancy is counted minus
// system, so a positive value means shelf surplus.
type CycleCountItem struct {
	ID              int64
	CycleCountID    int64
	VariationID     int64
	CountedQuantity int64
	SystemQuantity  int64
	Discrepancy     int64
}

var (
	// ErrNotFound indicates record missing.
	ErrNotFound = fmt.Errorf("cyclecount: %w", shared.ErrNotFound)
	// ErrInvalidState occurs when action violates status workflow.
	ErrInvalidState = fmt.Errorf("cyclecount: %w", shared.ErrInvalidState)
	// ErrValidation indicates invalid input.
	ErrValidation = fmt.Errorf("cyclecount: %w", shared.ErrValidation)
)
