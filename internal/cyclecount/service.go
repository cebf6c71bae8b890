package cyclecount

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/meridian-pos/meridian-pos/internal/shared"
	"github.com/meridian-pos/meridian-pos/internal/stock"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetCount(ctx context.Context, id int64) (CycleCount, []CycleCountItem, error)
	ListCounts(ctx context.Context, branchID int64, limit int) ([]CycleCount, error)
}

// StockPort exposes the adjustment engine entry points completion composes
// into its own transaction.
type StockPort interface {
	ApplyAdjustment(ctx context.Context, tx stock.TxRepository, input stock.AdjustmentInput) (stock.AdjustmentResult, error)
	DispatchLowStock(ctx context.Context, res stock.AdjustmentResult)
	InvalidateReports(ctx context.Context)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates the cycle count workflow.
type Service struct {
	repo  RepositoryPort
	stock StockPort
	audit AuditPort
}

// NewService constructs cyclecount service.
func NewService(repo RepositoryPort, stockPort StockPort, audit AuditPort) *Service {
	return &Service{repo: repo, stock: stockPort, audit: audit}
}

// ItemInput is one counted line from the floor.
type ItemInput struct {
	VariationID     int64
	CountedQuantity int64
}

// Create snapshots the current system quantity for each counted variation
// and persists the count as pending. A variation with no stock record counts
// from a system quantity of zero.
func (s *Service) Create(ctx context.Context, branchID, countedBy int64, items []ItemInput) (CycleCount, []CycleCountItem, error) {
	if branchID == 0 {
		return CycleCount{}, nil, fmt.Errorf("%w: branch required", ErrValidation)
	}
	if err := validateItems(items); err != nil {
		return CycleCount{}, nil, err
	}

	cc := CycleCount{BranchID: branchID, Status: StatusPending, CountedBy: countedBy}
	var out []CycleCountItem
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateCount(ctx, cc)
		if err != nil {
			return err
		}
		cc.ID = id
		out, err = s.insertItems(ctx, tx, id, branchID, items)
		return err
	})
	if err != nil {
		return CycleCount{}, nil, err
	}
	s.recordAudit(ctx, countedBy, "cyclecount:create", cc.ID, map[string]any{"branch_id": branchID, "lines": len(items)})
	return cc, out, nil
}

// ReplaceItems swaps the counted lines before completion. System quantities
// are re-snapshotted so the discrepancies reflect the ledger as of now.
func (s *Service) ReplaceItems(ctx context.Context, countID int64, items []ItemInput, actorID int64) ([]CycleCountItem, error) {
	if err := validateItems(items); err != nil {
		return nil, err
	}
	var out []CycleCountItem
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		cc, err := tx.GetCountForUpdate(ctx, countID)
		if err != nil {
			return err
		}
		if cc.Status != StatusPending && cc.Status != StatusInProgress {
			return fmt.Errorf("%w: count %d is %s", ErrInvalidState, countID, cc.Status)
		}
		if err := tx.DeleteItems(ctx, countID); err != nil {
			return err
		}
		out, err = s.insertItems(ctx, tx, countID, cc.BranchID, items)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actorID, "cyclecount:replace_items", countID, map[string]any{"lines": len(items)})
	return out, nil
}

// Start moves a pending count to in_progress.
func (s *Service) Start(ctx context.Context, countID, actorID int64) (CycleCount, error) {
	cc, err := s.transition(ctx, countID, []Status{StatusPending}, StatusInProgress)
	if err != nil {
		return CycleCount{}, err
	}
	s.recordAudit(ctx, actorID, "cyclecount:start", countID, nil)
	return cc, nil
}

// Cancel closes a count without touching the ledger.
func (s *Service) Cancel(ctx context.Context, countID, actorID int64) (CycleCount, error) {
	cc, err := s.transition(ctx, countID, []Status{StatusPending, StatusInProgress}, StatusCancelled)
	if err != nil {
		return CycleCount{}, err
	}
	s.recordAudit(ctx, actorID, "cyclecount:cancel", countID, nil)
	return cc, nil
}

// Complete reconciles every non-zero discrepancy into the ledger inside one
// transaction and marks the count completed. Surplus lines enter as
// zero-cost layers since a recount discovers no acquisition cost.
func (s *Service) Complete(ctx context.Context, countID, actorID int64) (CycleCount, error) {
	var cc CycleCount
	var results []stock.AdjustmentResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		cc, err = tx.GetCountForUpdate(ctx, countID)
		if err != nil {
			return err
		}
		if cc.Status != StatusPending && cc.Status != StatusInProgress {
			return fmt.Errorf("%w: count %d is %s", ErrInvalidState, countID, cc.Status)
		}
		items, err := tx.GetItems(ctx, countID)
		if err != nil {
			return err
		}
		for _, item := range items {
			if item.Discrepancy == 0 {
				continue
			}
			res, err := s.stock.ApplyAdjustment(ctx, tx.Stock(), stock.AdjustmentInput{
				VariationID:    item.VariationID,
				BranchID:       cc.BranchID,
				QuantityChange: item.Discrepancy,
				Reason:         stock.ReasonCountAdjustment,
				UserID:         &actorID,
				Reference:      fmt.Sprintf("CC-%d", countID),
			})
			if err != nil {
				// A shrinkage deeper than the live quantity means the shelf
				// and the ledger disagree beyond this count's snapshot.
				if errors.Is(err, shared.ErrInsufficientStock) {
					return fmt.Errorf("cyclecount: variation %d counted below available: %w", item.VariationID, err)
				}
				return err
			}
			results = append(results, res)
		}
		now := time.Now().UTC()
		if err := tx.SetCompleted(ctx, countID, now); err != nil {
			return err
		}
		cc.Status = StatusCompleted
		cc.CompletedAt = &now
		return nil
	})
	if err != nil {
		return CycleCount{}, err
	}
	for _, res := range results {
		s.stock.DispatchLowStock(ctx, res)
	}
	if len(results) > 0 {
		s.stock.InvalidateReports(ctx)
	}
	s.recordAudit(ctx, actorID, "cyclecount:complete", countID, map[string]any{"adjustments": len(results)})
	return cc, nil
}

// Get loads a count with its items.
func (s *Service) Get(ctx context.Context, countID int64) (CycleCount, []CycleCountItem, error) {
	return s.repo.GetCount(ctx, countID)
}

// List lists counts for a branch, newest first.
func (s *Service) List(ctx context.Context, branchID int64, limit int) ([]CycleCount, error) {
	if branchID == 0 {
		return nil, fmt.Errorf("%w: branch required", ErrValidation)
	}
	return s.repo.ListCounts(ctx, branchID, limit)
}

func (s *Service) insertItems(ctx context.Context, tx TxRepository, countID, branchID int64, items []ItemInput) ([]CycleCountItem, error) {
	out := make([]CycleCountItem, 0, len(items))
	for _, input := range items {
		system := int64(0)
		rec, err := tx.Stock().GetRecord(ctx, input.VariationID, branchID)
		if err == nil {
			system = rec.Quantity
		} else if !errors.Is(err, shared.ErrNotFound) {
			return nil, err
		}
		item := CycleCountItem{
			CycleCountID:    countID,
			VariationID:     input.VariationID,
			CountedQuantity: input.CountedQuantity,
			SystemQuantity:  system,
			Discrepancy:     input.CountedQuantity - system,
		}
		id, err := tx.InsertItem(ctx, item)
		if err != nil {
			return nil, err
		}
		item.ID = id
		out = append(out, item)
	}
	return out, nil
}

func (s *Service) transition(ctx context.Context, countID int64, from []Status, to Status) (CycleCount, error) {
	var cc CycleCount
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		cc, err = tx.GetCountForUpdate(ctx, countID)
		if err != nil {
			return err
		}
		allowed := false
		for _, status := range from {
			if cc.Status == status {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("%w: count %d is %s", ErrInvalidState, countID, cc.Status)
		}
		if err := tx.UpdateStatus(ctx, countID, to); err != nil {
			return err
		}
		cc.Status = to
		return nil
	})
	if err != nil {
		return CycleCount{}, err
	}
	return cc, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "cycle_count",
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
	})
}

func validateItems(items []ItemInput) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: minimal 1 counted line", ErrValidation)
	}
	seen := make(map[int64]struct{}, len(items))
	for _, item := range items {
		if item.VariationID == 0 {
			return fmt.Errorf("%w: variation required", ErrValidation)
		}
		if item.CountedQuantity < 0 {
			return fmt.Errorf("%w: counted quantity for variation %d must not be negative", ErrValidation, item.VariationID)
		}
		if _, dup := seen[item.VariationID]; dup {
			return fmt.Errorf("%w: variation %d counted twice", ErrValidation, item.VariationID)
		}
		seen[item.VariationID] = struct{}{}
	}
	return nil
}
