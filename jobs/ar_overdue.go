package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/girderhq/girder/internal/ar"
)

// NewAROverdueSweepHandler returns the handler flipping open invoices past
// their due date to overdue.
func NewAROverdueSweepHandler(svc *ar.Service, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		n, err := svc.MarkOverdue(ctx)
		if err != nil {
			logger.Error("overdue sweep", slog.Any("error", err))
			return err
		}
		logger.Info("overdue sweep complete", slog.Int64("invoices", n))
		return nil
	}
}
