package procurement

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
	GetOrder(ctx context.Context, id int64) (PurchaseOrder, []OrderItem, error)
	ListOrders(ctx context.Context, branchID int64, status Status, limit int) ([]PurchaseOrder, error)
}

// StockPort exposes the adjustment engine entry points receiving composes
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

// Service orchestrates purchase order flows.
type Service struct {
	repo        RepositoryPort
	stock       StockPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, stockPort StockPort, audit AuditPort, idem *shared.IdempotencyStore) *Service {
	return &Service{repo: repo, stock: stockPort, audit: audit, idempotency: idem}
}

// CreateOrderInput describes creation payload.
type CreateOrderInput struct {
	Number     string
	SupplierID int64
	BranchID   int64
	CreatedBy  int64
	Items      []OrderItemInput
}

// OrderItemInput describes an ordered line.
type OrderItemInput struct {
	VariationID int64
	Quantity    int64
	UnitPrice   decimal.Decimal
}

// ReceiptItem describes one received line. Quantity may differ from the
// ordered quantity (short delivery); the cost never comes from here.
type ReceiptItem struct {
	VariationID int64
	Quantity    int64
}

// CreateOrder persists order header and lines in pending state.
func (s *Service) CreateOrder(ctx context.Context, input CreateOrderInput) (PurchaseOrder, error) {
	if input.SupplierID == 0 || input.BranchID == 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: supplier and branch required", ErrValidation)
	}
	if len(input.Items) == 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: minimal 1 line", ErrValidation)
	}
	if input.Number == "" {
		input.Number = generateNumber("PO")
	}
	po := PurchaseOrder{
		Number:     input.Number,
		SupplierID: input.SupplierID,
		BranchID:   input.BranchID,
		Status:     StatusPending,
		CreatedBy:  input.CreatedBy,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateOrder(ctx, po)
		if err != nil {
			return err
		}
		po.ID = id
		for _, line := range input.Items {
			if line.VariationID == 0 || line.Quantity <= 0 || line.UnitPrice.IsNegative() {
				return fmt.Errorf("%w: bad order line for variation %d", ErrValidation, line.VariationID)
			}
			if err := tx.InsertItem(ctx, OrderItem{
				OrderID:     id,
				VariationID: line.VariationID,
				Quantity:    line.Quantity,
				UnitPrice:   line.UnitPrice,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, input.CreatedBy, "procurement:create", po.ID, map[string]any{"number": po.Number})
	return po, nil
}

// MarkOrdered transitions a pending order to ordered, freezing its lines.
func (s *Service) MarkOrdered(ctx context.Context, orderID, actorID int64) (PurchaseOrder, error) {
	po, err := s.transition(ctx, orderID, []Status{StatusPending}, StatusOrdered)
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, actorID, "procurement:order", orderID, map[string]any{"number": po.Number})
	return po, nil
}

// Cancel cancels an order that has not been received.
func (s *Service) Cancel(ctx context.Context, orderID, actorID int64) (PurchaseOrder, error) {
	po, err := s.transition(ctx, orderID, []Status{StatusPending, StatusOrdered}, StatusCancelled)
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, actorID, "procurement:cancel", orderID, map[string]any{"number": po.Number})
	return po, nil
}

// ReceiveItems books the delivered lines into stock and flips the order to
// received. One transaction covers the order lock, every stock adjustment
// and the status flip: a failure on any line rolls everything back.
func (s *Service) ReceiveItems(ctx context.Context, orderID int64, items []ReceiptItem, userID int64) (PurchaseOrder, error) {
	if len(items) == 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: nothing to receive", ErrValidation)
	}

	current, _, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return PurchaseOrder{}, err
	}
	key := fmt.Sprintf("po:%s:receive", current.Number)
	insertedKey := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "procurement"); err != nil {
			return PurchaseOrder{}, err
		}
		insertedKey = true
	}

	var po PurchaseOrder
	var results []stock.AdjustmentResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		po, err = tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if po.Status != StatusOrdered {
			return fmt.Errorf("%w: order %s is %s, expected %s", ErrInvalidState, po.Number, po.Status, StatusOrdered)
		}
		lines, err := tx.GetOrderItems(ctx, orderID)
		if err != nil {
			return err
		}
		byVariation := make(map[int64]OrderItem, len(lines))
		for _, line := range lines {
			byVariation[line.VariationID] = line
		}
		for _, item := range items {
			line, ok := byVariation[item.VariationID]
			if !ok {
				return fmt.Errorf("%w: variation %d is not on order %s", ErrValidation, item.VariationID, po.Number)
			}
			if item.Quantity <= 0 {
				return fmt.Errorf("%w: receive quantity for variation %d must be positive", ErrValidation, item.VariationID)
			}
			res, err := s.stock.ApplyAdjustment(ctx, tx.Stock(), stock.AdjustmentInput{
				VariationID:    item.VariationID,
				BranchID:       po.BranchID,
				QuantityChange: item.Quantity,
				Reason:         stock.ReasonReceived,
				UserID:         &userID,
				// Cost basis is the original order line, never the payload.
				UnitCost:  decimal.NewNullDecimal(line.UnitPrice),
				Reference: po.Number,
			})
			if err != nil {
				return err
			}
			results = append(results, res)
		}
		now := time.Now().UTC()
		if err := tx.SetReceived(ctx, orderID, userID, now); err != nil {
			return err
		}
		po.Status = StatusReceived
		po.ReceivedAt = &now
		po.ReceivedBy = &userID
		return nil
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return PurchaseOrder{}, err
	}
	for _, res := range results {
		s.stock.DispatchLowStock(ctx, res)
	}
	if len(results) > 0 {
		s.stock.InvalidateReports(ctx)
	}
	s.recordAudit(ctx, userID, "procurement:receive", orderID, map[string]any{"number": po.Number, "lines": len(items)})
	return po, nil
}

// GetOrder loads an order with its lines.
func (s *Service) GetOrder(ctx context.Context, orderID int64) (PurchaseOrder, []OrderItem, error) {
	return s.repo.GetOrder(ctx, orderID)
}

// ListOrders lists orders for a branch, optionally filtered by status.
func (s *Service) ListOrders(ctx context.Context, branchID int64, status Status, limit int) ([]PurchaseOrder, error) {
	if branchID == 0 {
		return nil, fmt.Errorf("%w: branch required", ErrValidation)
	}
	return s.repo.ListOrders(ctx, branchID, status, limit)
}

func (s *Service) transition(ctx context.Context, orderID int64, from []Status, to Status) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		po, err = tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		allowed := false
		for _, status := range from {
			if po.Status == status {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("%w: order %s is %s", ErrInvalidState, po.Number, po.Status)
		}
		if err := tx.UpdateOrderStatus(ctx, orderID, to); err != nil {
			return err
		}
		po.Status = to
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "purchase_order",
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
	})
}

func generateNumber(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}
