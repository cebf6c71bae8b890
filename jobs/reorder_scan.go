package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-pos/meridian-pos/internal/reporting"
	"github.com/meridian-pos/meridian-pos/internal/stock"
)

// AlertEnqueuer enqueues low-stock alert deliveries. Satisfied by Client.
type AlertEnqueuer interface {
	EnqueueStockLowAlert(ctx context.Context, alert stock.LowStockAlert) (*asynq.TaskInfo, error)
}

// NewReorderScanHandler sweeps every branch for below-threshold stock and
// enqueues an alert per purchase suggestion. A branch whose forecast fails
// is skipped so one flaky product does not starve the rest of the scan. A
// nil enqueuer degrades to log-only.
func NewReorderScanHandler(svc *reporting.Service, enqueuer AlertEnqueuer, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ReorderScanPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		branches, err := svc.ListBranchIDs(ctx)
		if err != nil {
			return err
		}
		start := time.Now()
		total := 0
		for _, branchID := range branches {
			suggestions, err := svc.SuggestPurchaseOrders(ctx, branchID)
			if err != nil {
				logger.Warn("reorder scan branch failed",
					slog.Int64("branch_id", branchID),
					slog.Any("error", err))
				continue
			}
			for _, sug := range suggestions {
				logger.Info("reorder suggestion",
					slog.Int64("branch_id", sug.BranchID),
					slog.String("sku", sug.SKU),
					slog.Int64("current", sug.CurrentQuantity),
					slog.Int64("threshold", sug.Threshold),
					slog.Int64("suggested", sug.SuggestedQuantity))
				if enqueuer == nil {
					continue
				}
				alert := stock.LowStockAlert{
					VariationID: sug.VariationID,
					BranchID:    sug.BranchID,
					Quantity:    sug.CurrentQuantity,
					Threshold:   sug.Threshold,
				}
				if _, err := enqueuer.EnqueueStockLowAlert(ctx, alert); err != nil {
					logger.Warn("reorder alert enqueue failed",
						slog.Int64("variation_id", sug.VariationID),
						slog.Int64("branch_id", sug.BranchID),
						slog.Any("error", err))
				}
			}
			total += len(suggestions)
		}
		logger.Info("reorder scan finished",
			slog.Int("branches", len(branches)),
			slog.Int("suggestions", total),
			slog.Duration("took", time.Since(start)))
		return nil
	}
}
