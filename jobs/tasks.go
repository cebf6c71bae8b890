package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/meridian-pos/meridian-pos/internal/stock"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskStockLowAlert delivers a low-stock notification.
	TaskStockLowAlert = "stock:low_alert"
	// TaskReorderScan runs the scheduled reorder suggestion sweep.
	TaskReorderScan = "reporting:reorder_scan"
	// TaskIdempotencyCleanup prunes aged idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// StockLowAlertPayload carries one alert through the queue. AlertID makes
// webhook deliveries traceable across retries.
type StockLowAlertPayload struct {
	AlertID string              `json:"alert_id"`
	Alert   stock.LowStockAlert `json:"alert"`
	At      time.Time           `json:"at"`
}

// NewStockLowAlertTask constructs an Asynq task for one alert.
func NewStockLowAlertTask(alert stock.LowStockAlert) (*asynq.Task, error) {
	payload := StockLowAlertPayload{
		AlertID: uuid.NewString(),
		Alert:   alert,
		At:      time.Now().UTC(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockLowAlert, body, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

// ReorderScanPayload carries scheduling metadata.
type ReorderScanPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewReorderScanTask constructs the scheduled reorder scan task.
func NewReorderScanTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ReorderScanPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReorderScan, body, asynq.Queue(QueueDefault)), nil
}

// NewIdempotencyCleanupTask constructs the scheduled key cleanup task.
func NewIdempotencyCleanupTask() (*asynq.Task, error) {
	return asynq.NewTask(TaskIdempotencyCleanup, nil, asynq.Queue(QueueDefault)), nil
}
