package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-pos/meridian-pos/internal/shared"
	"github.com/meridian-pos/meridian-pos/internal/stock"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetTransfer(ctx context.Context, id int64) (Transfer, error)
	ListTransfers(ctx context.Context, filter ListFilter) ([]Transfer, error)
}

// StockPort exposes the adjustment engine entry points approval composes
// into its own transaction.
type StockPort interface {
	ApplyAdjustment(ctx context.Context, tx stock.TxRepository, input stock.AdjustmentInput) (stock.AdjustmentResult, error)
	DispatchLowStock(ctx context.Context, res stock.AdjustmentResult)
	InvalidateReports(ctx context.Context)
	GetRecord(ctx context.Context, variationID, branchID int64) (stock.Record, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ListFilter narrows transfer listings.
type ListFilter struct {
	BranchID int64
	Status   Status
	Limit    int
}

// Service orchestrates the transfer workflow.
type Service struct {
	repo  RepositoryPort
	stock StockPort
	audit AuditPort
}

// NewService constructs transfer service.
func NewService(repo RepositoryPort, stockPort StockPort, audit AuditPort) *Service {
	return &Service{repo: repo, stock: stockPort, audit: audit}
}

// RequestInput describes a transfer request.
type RequestInput struct {
	VariationID  int64
	Quantity     int64
	FromBranchID int64
	ToBranchID   int64
	RequestedBy  int64
}

// Request records a pending transfer. The availability check here is
// advisory only; nothing is reserved until approval moves the stock.
func (s *Service) Request(ctx context.Context, input RequestInput) (Transfer, error) {
	if input.Quantity <= 0 {
		return Transfer{}, fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	if input.FromBranchID == input.ToBranchID {
		return Transfer{}, fmt.Errorf("%w: source and destination branches must differ", ErrValidation)
	}
	if input.VariationID == 0 || input.FromBranchID == 0 || input.ToBranchID == 0 {
		return Transfer{}, fmt.Errorf("%w: variation and both branches required", ErrValidation)
	}
	rec, err := s.stock.GetRecord(ctx, input.VariationID, input.FromBranchID)
	if err != nil {
		return Transfer{}, fmt.Errorf("%w: variation %d not stocked at branch %d", ErrValidation, input.VariationID, input.FromBranchID)
	}
	// Non-binding availability check. Stock may arrive before approval, so a
	// shortfall here is noted for the approver rather than refused.
	shortfall := rec.Quantity < input.Quantity

	tr := Transfer{
		Number:       fmt.Sprintf("TR-%s", uuid.NewString()),
		VariationID:  input.VariationID,
		Quantity:     input.Quantity,
		FromBranchID: input.FromBranchID,
		ToBranchID:   input.ToBranchID,
		Status:       StatusPending,
		RequestedBy:  input.RequestedBy,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateTransfer(ctx, tr)
		if err != nil {
			return err
		}
		tr.ID = id
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}
	meta := map[string]any{"number": tr.Number, "quantity": tr.Quantity}
	if shortfall {
		meta["available"] = rec.Quantity
	}
	s.recordAudit(ctx, input.RequestedBy, "transfer:request", tr.ID, meta)
	return tr, nil
}

// Approve executes the movement: a debit at the source and a credit at the
// destination, both in one transaction. The credit's unit cost is the
// weighted cost of the layers the debit consumed, so total inventory value
// is conserved across branches. Insufficient stock at the source rolls the
// whole approval back and the transfer stays pending.
func (s *Service) Approve(ctx context.Context, transferID, actorID int64) (Transfer, error) {
	var tr Transfer
	var results []stock.AdjustmentResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		tr, err = tx.GetTransferForUpdate(ctx, transferID)
		if err != nil {
			return err
		}
		if tr.Status != StatusPending {
			return fmt.Errorf("%w: transfer %s is %s", ErrInvalidState, tr.Number, tr.Status)
		}

		debit, err := s.stock.ApplyAdjustment(ctx, tx.Stock(), stock.AdjustmentInput{
			VariationID:    tr.VariationID,
			BranchID:       tr.FromBranchID,
			QuantityChange: -tr.Quantity,
			Reason:         stock.ReasonTransferOut,
			UserID:         &actorID,
			Reference:      tr.Number,
		})
		if err != nil {
			return err
		}
		credit, err := s.stock.ApplyAdjustment(ctx, tx.Stock(), stock.AdjustmentInput{
			VariationID:    tr.VariationID,
			BranchID:       tr.ToBranchID,
			QuantityChange: tr.Quantity,
			Reason:         stock.ReasonTransferIn,
			UserID:         &actorID,
			UnitCost:       decimal.NewNullDecimal(unitCostOf(debit.ConsumedCost, tr.Quantity)),
			Reference:      tr.Number,
		})
		if err != nil {
			return err
		}
		results = append(results, debit, credit)

		now := time.Now().UTC()
		if err := tx.Resolve(ctx, transferID, StatusCompleted, actorID, now); err != nil {
			return err
		}
		tr.Status = StatusCompleted
		tr.ResolvedBy = &actorID
		tr.ResolvedAt = &now
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}
	for _, res := range results {
		s.stock.DispatchLowStock(ctx, res)
	}
	s.stock.InvalidateReports(ctx)
	s.recordAudit(ctx, actorID, "transfer:approve", transferID, map[string]any{"number": tr.Number})
	return tr, nil
}

// Reject closes a pending transfer without touching the ledger.
func (s *Service) Reject(ctx context.Context, transferID, actorID int64) (Transfer, error) {
	var tr Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		tr, err = tx.GetTransferForUpdate(ctx, transferID)
		if err != nil {
			return err
		}
		if tr.Status != StatusPending {
			return fmt.Errorf("%w: transfer %s is %s", ErrInvalidState, tr.Number, tr.Status)
		}
		now := time.Now().UTC()
		if err := tx.Resolve(ctx, transferID, StatusRejected, actorID, now); err != nil {
			return err
		}
		tr.Status = StatusRejected
		tr.ResolvedBy = &actorID
		tr.ResolvedAt = &now
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}
	s.recordAudit(ctx, actorID, "transfer:reject", transferID, map[string]any{"number": tr.Number})
	return tr, nil
}

// Get loads a transfer.
func (s *Service) Get(ctx context.Context, transferID int64) (Transfer, error) {
	return s.repo.GetTransfer(ctx, transferID)
}

// List lists transfers touching a branch as source or destination.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Transfer, error) {
	if filter.BranchID == 0 {
		return nil, fmt.Errorf("%w: branch required", ErrValidation)
	}
	return s.repo.ListTransfers(ctx, filter)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "stock_transfer",
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
	})
}

func unitCostOf(total decimal.Decimal, quantity int64) decimal.Decimal {
	if quantity <= 0 {
		return decimal.Zero
	}
	return total.Div(decimal.NewFromInt(quantity))
}
