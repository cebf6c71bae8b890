package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-pos/meridian-pos/internal/stock"
)

// QueueNotifier satisfies the stock notifier port by enqueueing delivery
// onto the worker. The stock mutation never waits on the webhook.
type QueueNotifier struct {
	client *Client
}

// NewQueueNotifier wraps a jobs client.
func NewQueueNotifier(client *Client) *QueueNotifier {
	return &QueueNotifier{client: client}
}

// LowStock enqueues an alert delivery task.
func (n *QueueNotifier) LowStock(ctx context.Context, alert stock.LowStockAlert) error {
	if n == nil || n.client == nil {
		return fmt.Errorf("jobs: notifier not configured")
	}
	_, err := n.client.EnqueueStockLowAlert(ctx, alert)
	return err
}

// WebhookSender posts alerts to the configured endpoint.
type WebhookSender struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewWebhookSender constructs a sender. An empty URL turns delivery into a
// logged no-op so development environments need no receiver.
func NewWebhookSender(url string, logger *slog.Logger) *WebhookSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookSender{
		url: url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Send delivers one payload.
func (s *WebhookSender) Send(ctx context.Context, payload StockLowAlertPayload) error {
	if s.url == "" {
		s.logger.Info("low stock alert (no webhook configured)",
			slog.String("alert_id", payload.AlertID),
			slog.Int64("variation_id", payload.Alert.VariationID),
			slog.Int64("branch_id", payload.Alert.BranchID),
			slog.Int64("quantity", payload.Alert.Quantity))
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// NewStockLowAlertHandler returns the asynq handler delivering alerts.
func NewStockLowAlertHandler(sender *WebhookSender, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload StockLowAlertPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if err := sender.Send(ctx, payload); err != nil {
			logger.Warn("low stock alert delivery failed",
				slog.String("alert_id", payload.AlertID),
				slog.Any("error", err))
			return err
		}
		return nil
	}
}
