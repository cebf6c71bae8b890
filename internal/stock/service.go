package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRecord(ctx context.Context, variationID, branchID int64) (Record, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
}

// Notifier dispatches low-stock alerts. Delivery is best-effort: errors are
// logged by the service and never surfaced to callers.
type Notifier interface {
	LowStock(ctx context.Context, alert LowStockAlert) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ReportInvalidator drops cached report reads after a quantity mutation.
// Best-effort, like the notifier: stale-for-a-TTL beats a failed write.
type ReportInvalidator interface {
	InvalidateCache(ctx context.Context) error
}

// Service is the adjustment engine: the only code path that mutates a stock
// quantity. Every mutation runs under a row lock on the (variation, branch)
// record, keeps the movement ledger append-only, and settles FIFO cost
// layers on decreases.
type Service struct {
	repo     RepositoryPort
	notifier Notifier
	audit    AuditPort
	reports  ReportInvalidator
	logger   *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, notifier Notifier, audit AuditPort, reports ReportInvalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, notifier: notifier, audit: audit, reports: reports, logger: logger}
}

// Adjust applies one quantity change inside its own transaction.
func (s *Service) Adjust(ctx context.Context, input AdjustmentInput) (AdjustmentResult, error) {
	var res AdjustmentResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		res, err = s.ApplyAdjustment(ctx, tx, input)
		return err
	})
	if err != nil {
		return AdjustmentResult{}, err
	}
	s.DispatchLowStock(ctx, res)
	s.InvalidateReports(ctx)
	s.recordAudit(ctx, input, res)
	return res, nil
}

// Receive is shorthand for a positive "received" adjustment.
func (s *Service) Receive(ctx context.Context, variationID, branchID, quantity int64, unitCost decimal.Decimal, userID *int64) (AdjustmentResult, error) {
	if quantity <= 0 {
		return AdjustmentResult{}, fmt.Errorf("%w: receive quantity must be positive", ErrValidation)
	}
	return s.Adjust(ctx, AdjustmentInput{
		VariationID:    variationID,
		BranchID:       branchID,
		QuantityChange: quantity,
		Reason:         ReasonReceived,
		UserID:         userID,
		UnitCost:       decimal.NewNullDecimal(unitCost),
	})
}

// Dispatch is shorthand for a negative "dispatched" adjustment.
func (s *Service) Dispatch(ctx context.Context, variationID, branchID, quantity int64, userID *int64) (AdjustmentResult, error) {
	if quantity <= 0 {
		return AdjustmentResult{}, fmt.Errorf("%w: dispatch quantity must be positive", ErrValidation)
	}
	return s.Adjust(ctx, AdjustmentInput{
		VariationID:    variationID,
		BranchID:       branchID,
		QuantityChange: -quantity,
		Reason:         ReasonDispatched,
		UserID:         userID,
	})
}

// ApplyAdjustment runs the engine inside the caller's transaction. Purchase
// receiving, transfers and cycle counts compose several adjustments
// atomically through this entry point; they own the commit and must dispatch
// low-stock results themselves afterwards.
func (s *Service) ApplyAdjustment(ctx context.Context, tx TxRepository, input AdjustmentInput) (AdjustmentResult, error) {
	if input.VariationID == 0 || input.BranchID == 0 {
		return AdjustmentResult{}, fmt.Errorf("%w: variation and branch required", ErrValidation)
	}
	if input.QuantityChange == 0 {
		return AdjustmentResult{}, fmt.Errorf("%w: quantity change must be non-zero", ErrValidation)
	}
	if !input.Reason.Valid() {
		return AdjustmentResult{}, fmt.Errorf("%w: unknown reason %q", ErrValidation, input.Reason)
	}
	if input.UnitCost.Valid && input.UnitCost.Decimal.IsNegative() {
		return AdjustmentResult{}, fmt.Errorf("%w: unit cost must not be negative", ErrValidation)
	}
	if input.QuantityChange > 0 && input.Reason.RequiresCostBasis() && !input.UnitCost.Valid {
		return AdjustmentResult{}, fmt.Errorf("%w: reason %q requires a unit cost", ErrValidation, input.Reason)
	}

	rec, err := tx.GetRecordForUpdate(ctx, input.VariationID, input.BranchID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return AdjustmentResult{}, err
		}
		rec = Record{VariationID: input.VariationID, BranchID: input.BranchID}
	}

	newQty := rec.Quantity + input.QuantityChange
	if newQty < 0 {
		return AdjustmentResult{}, fmt.Errorf("%w: have %d, requested %d", ErrInsufficientStock, rec.Quantity, -input.QuantityChange)
	}

	rec.Quantity = newQty
	if err := tx.UpsertRecord(ctx, rec); err != nil {
		return AdjustmentResult{}, err
	}

	mv := Movement{
		VariationID:    input.VariationID,
		BranchID:       input.BranchID,
		QuantityChange: input.QuantityChange,
		Reason:         input.Reason,
		UserID:         input.UserID,
		Reference:      input.Reference,
	}
	if input.QuantityChange > 0 {
		remaining := input.QuantityChange
		mv.QuantityRemaining = &remaining
		mv.UnitCost = input.UnitCost.Decimal
	}
	id, err := tx.InsertMovement(ctx, mv)
	if err != nil {
		return AdjustmentResult{}, err
	}
	mv.ID = id

	consumed := decimal.Zero
	if input.QuantityChange < 0 {
		consumed, err = s.consumeLayers(ctx, tx, input.VariationID, input.BranchID, -input.QuantityChange)
		if err != nil {
			return AdjustmentResult{}, err
		}
	}

	return AdjustmentResult{
		Record:       rec,
		Movement:     mv,
		ConsumedCost: consumed,
		LowStock:     newQty <= rec.LowStockThreshold,
	}, nil
}

// consumeLayers settles a decrease against open layers oldest first. The
// running quantity already allowed the decrease, so running out of layers
// here means the two bookkeeping structures diverged.
func (s *Service) consumeLayers(ctx context.Context, tx TxRepository, variationID, branchID, quantity int64) (decimal.Decimal, error) {
	layers, err := tx.OpenLayersForUpdate(ctx, variationID, branchID)
	if err != nil {
		return decimal.Zero, err
	}
	remaining := quantity
	cost := decimal.Zero
	for _, layer := range layers {
		if remaining == 0 {
			break
		}
		take := min(remaining, layer.Remaining)
		if err := tx.SetLayerRemaining(ctx, layer.MovementID, layer.Remaining-take); err != nil {
			return decimal.Zero, err
		}
		cost = cost.Add(layer.UnitCost.Mul(decimal.NewFromInt(take)))
		remaining -= take
	}
	if remaining > 0 {
		return decimal.Zero, fmt.Errorf("%w: %d of %d units missing from cost layers for variation %d branch %d",
			ErrLedgerCorrupted, remaining, quantity, variationID, branchID)
	}
	return cost, nil
}

// SeedOpeningBalance creates a synthetic opening layer for a pair migrated
// without movement history. The record quantity is set to the seeded
// quantity, so ledger conservation holds from this point on. Refused once
// any movement exists for the pair.
func (s *Service) SeedOpeningBalance(ctx context.Context, input OpeningBalanceInput) (AdjustmentResult, error) {
	if input.VariationID == 0 || input.BranchID == 0 {
		return AdjustmentResult{}, fmt.Errorf("%w: variation and branch required", ErrValidation)
	}
	if input.Quantity <= 0 {
		return AdjustmentResult{}, fmt.Errorf("%w: opening quantity must be positive", ErrValidation)
	}
	if input.UnitCost.IsNegative() {
		return AdjustmentResult{}, fmt.Errorf("%w: unit cost must not be negative", ErrValidation)
	}
	var res AdjustmentResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rec, err := tx.GetRecordForUpdate(ctx, input.VariationID, input.BranchID)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				return err
			}
			rec = Record{VariationID: input.VariationID, BranchID: input.BranchID}
		}
		seeded, err := tx.HasMovements(ctx, input.VariationID, input.BranchID)
		if err != nil {
			return err
		}
		if seeded {
			return fmt.Errorf("%w: ledger already has movements for variation %d branch %d", ErrValidation, input.VariationID, input.BranchID)
		}
		rec.Quantity = input.Quantity
		if err := tx.UpsertRecord(ctx, rec); err != nil {
			return err
		}
		remaining := input.Quantity
		mv := Movement{
			VariationID:       input.VariationID,
			BranchID:          input.BranchID,
			QuantityChange:    input.Quantity,
			Reason:            ReasonOpeningBalance,
			UserID:            input.UserID,
			UnitCost:          input.UnitCost,
			QuantityRemaining: &remaining,
		}
		id, err := tx.InsertMovement(ctx, mv)
		if err != nil {
			return err
		}
		mv.ID = id
		res = AdjustmentResult{
			Record:   rec,
			Movement: mv,
			LowStock: rec.Quantity <= rec.LowStockThreshold,
		}
		return nil
	})
	if err != nil {
		return AdjustmentResult{}, err
	}
	s.DispatchLowStock(ctx, res)
	s.InvalidateReports(ctx)
	return res, nil
}

// SetLowStockThreshold updates the reorder point for a pair. Not a quantity
// mutation, but kept here so no other package touches stock records.
func (s *Service) SetLowStockThreshold(ctx context.Context, variationID, branchID, threshold int64, userID *int64) (Record, error) {
	if threshold < 0 {
		return Record{}, fmt.Errorf("%w: threshold must not be negative", ErrValidation)
	}
	var rec Record
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		rec, err = tx.GetRecordForUpdate(ctx, variationID, branchID)
		if err != nil {
			return err
		}
		rec.LowStockThreshold = threshold
		return tx.UpsertRecord(ctx, rec)
	})
	if err != nil {
		return Record{}, err
	}
	if s.audit != nil {
		actor := int64(0)
		if userID != nil {
			actor = *userID
		}
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor,
			Action:   "stock:threshold",
			Entity:   "stock_record",
			EntityID: fmt.Sprintf("%d:%d", variationID, branchID),
			Meta:     map[string]any{"threshold": threshold},
		})
	}
	return rec, nil
}

// GetRecord returns the live record for a pair.
func (s *Service) GetRecord(ctx context.Context, variationID, branchID int64) (Record, error) {
	if variationID == 0 || branchID == 0 {
		return Record{}, fmt.Errorf("%w: variation and branch required", ErrValidation)
	}
	return s.repo.GetRecord(ctx, variationID, branchID)
}

// GetMovements lists ledger entries for a pair, newest first.
func (s *Service) GetMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if filter.VariationID == 0 || filter.BranchID == 0 {
		return nil, fmt.Errorf("%w: variation and branch required", ErrValidation)
	}
	return s.repo.ListMovements(ctx, filter)
}

// DispatchLowStock enqueues an alert when the adjustment left the quantity
// at or below its threshold. Runs after commit; failures are logged and
// swallowed, never propagated to the stock mutation.
func (s *Service) DispatchLowStock(ctx context.Context, res AdjustmentResult) {
	if !res.LowStock || s.notifier == nil {
		return
	}
	alert := LowStockAlert{
		VariationID: res.Record.VariationID,
		BranchID:    res.Record.BranchID,
		Quantity:    res.Record.Quantity,
		Threshold:   res.Record.LowStockThreshold,
	}
	if err := s.notifier.LowStock(ctx, alert); err != nil {
		s.logger.Warn("low stock notification failed",
			slog.Int64("variation_id", alert.VariationID),
			slog.Int64("branch_id", alert.BranchID),
			slog.Any("error", err))
	}
}

// InvalidateReports bumps the report cache version so the next report read
// regenerates. Composed write paths call it once after their own commit.
// Failures are logged and swallowed; the cache TTL bounds the staleness.
func (s *Service) InvalidateReports(ctx context.Context) {
	if s.reports == nil {
		return
	}
	if err := s.reports.InvalidateCache(ctx); err != nil {
		s.logger.Warn("report cache invalidation failed", slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, input AdjustmentInput, res AdjustmentResult) {
	if s.audit == nil {
		return
	}
	actor := int64(0)
	if input.UserID != nil {
		actor = *input.UserID
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   fmt.Sprintf("stock:%s", input.Reason),
		Entity:   "stock_movement",
		EntityID: fmt.Sprintf("%d", res.Movement.ID),
		Meta: map[string]any{
			"variation_id": input.VariationID,
			"branch_id":    input.BranchID,
			"qty_change":   input.QuantityChange,
			"quantity":     res.Record.Quantity,
		},
	})
}
