package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// idempotencyRetention keeps receipt replay protection long enough to cover
// any realistic duplicate delivery window.
const idempotencyRetention = 30 * 24 * time.Hour

// NewIdempotencyCleanupHandler prunes aged idempotency keys.
func NewIdempotencyCleanupHandler(store *shared.IdempotencyStore, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		if err := store.Cleanup(ctx, idempotencyRetention); err != nil {
			logger.Warn("idempotency cleanup failed", slog.Any("error", err))
			return err
		}
		return nil
	}
}
