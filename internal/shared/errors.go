package shared

import "errors"

// Error classes shared by every module. Module packages wrap these so
// handlers can map any domain failure to an HTTP status with errors.Is.
var (
	// ErrNotFound indicates the referenced record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed or rejected input.
	ErrValidation = errors.New("invalid input")
	// ErrInvalidState indicates an operation against the wrong lifecycle state.
	ErrInvalidState = errors.New("invalid state")
	// ErrInsufficientStock indicates a decrease that would drive a quantity negative.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrLedgerCorrupted indicates the running quantity and the cost-layer
	// ledger have diverged. Never auto-repaired; the transaction aborts.
	ErrLedgerCorrupted = errors.New("ledger corrupted")
)
