package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-pos/meridian-pos/internal/stock"
)

func TestWebhookSenderPostsPayload(t *testing.T) {
	var got StockLowAlertPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sender := NewWebhookSender(srv.URL, slog.Default())
	err := sender.Send(context.Background(), StockLowAlertPayload{
		AlertID: "a-1",
		Alert:   stock.LowStockAlert{VariationID: 10, BranchID: 1, Quantity: 2, Threshold: 5},
	})
	require.NoError(t, err)
	assert.Equal(t, "a-1", got.AlertID)
	assert.Equal(t, int64(10), got.Alert.VariationID)
}

func TestWebhookSenderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sender := NewWebhookSender(srv.URL, slog.Default())
	err := sender.Send(context.Background(), StockLowAlertPayload{AlertID: "a-2"})
	require.Error(t, err)
}

func TestWebhookSenderNoURLIsNoop(t *testing.T) {
	sender := NewWebhookSender("", slog.Default())
	require.NoError(t, sender.Send(context.Background(), StockLowAlertPayload{AlertID: "a-3"}))
}

func TestStockLowAlertHandlerSkipsBadPayload(t *testing.T) {
	handler := NewStockLowAlertHandler(NewWebhookSender("", slog.Default()), slog.Default())
	err := handler(context.Background(), asynq.NewTask(TaskStockLowAlert, []byte("not json")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestNewStockLowAlertTaskRoundTrip(t *testing.T) {
	task, err := NewStockLowAlertTask(stock.LowStockAlert{VariationID: 10, BranchID: 1, Quantity: 2, Threshold: 5})
	require.NoError(t, err)
	require.Equal(t, TaskStockLowAlert, task.Type())

	var payload StockLowAlertPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.NotEmpty(t, payload.AlertID)
	assert.Equal(t, int64(5), payload.Alert.Threshold)
}
