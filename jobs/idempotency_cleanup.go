package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/girderhq/girder/internal/shared"
)

// NewIdempotencyCleanupHandler returns the handler pruning idempotency keys
// older than the retention window.
func NewIdempotencyCleanupHandler(store *shared.IdempotencyStore, retention time.Duration, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		n, err := store.Cleanup(ctx, retention)
		if err != nil {
			logger.Error("idempotency cleanup", slog.Any("error", err))
			return err
		}
		logger.Info("idempotency cleanup complete", slog.Int64("removed", n))
		return nil
	}
}
