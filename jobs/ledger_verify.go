package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/girderhq/girder/internal/recon"
)

// NewLedgerVerifyHandler returns the handler recomputing every company's
// balances and logging any drift. Drift is surfaced, never repaired.
func NewLedgerVerifyHandler(svc *recon.Service, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		reports, err := svc.VerifyAll(ctx)
		if err != nil {
			logger.Error("ledger verify", slog.Any("error", err))
			return err
		}
		for _, report := range reports {
			if report.Clean() {
				continue
			}
			logger.Error("ledger drift detected",
				slog.Int64("company_id", report.CompanyID),
				slog.Int("entities_drifted", len(report.Drifts)),
				slog.Int64("total_drift_minor", report.TotalDrift))
		}
		logger.Info("ledger verify complete", slog.Int("companies", len(reports)))
		return nil
	}
}
