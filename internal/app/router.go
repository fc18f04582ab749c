package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/girderhq/girder/internal/ap"
	"github.com/girderhq/girder/internal/ar"
	"github.com/girderhq/girder/internal/coa"
	"github.com/girderhq/girder/internal/journal"
	"github.com/girderhq/girder/internal/observability"
	"github.com/girderhq/girder/internal/platform/httpx"
	"github.com/girderhq/girder/internal/recon"
)

// VerifyEnqueuer schedules a full-ledger verification run on the worker.
type VerifyEnqueuer interface {
	EnqueueLedgerVerify(ctx context.Context) (string, error)
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	CoaHandler     *coa.Handler
	JournalHandler *journal.Handler
	APHandler      *ap.Handler
	ARHandler      *ar.Handler
	ReconHandler   *recon.Handler
	Metrics        *observability.Metrics
	Idempotency    IdempotencyPort
	Verify         VerifyEnqueuer
}

// NewRouter constructs the chi.Router with the ledger API.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(companyScopeMiddleware)
		if params.Idempotency != nil {
			r.Use(idempotencyMiddleware(params.Idempotency))
		}
		r.Route("/accounts", params.CoaHandler.MountRoutes)
		r.Route("/journal-entries", params.JournalHandler.MountRoutes)
		r.Route("/ap", params.APHandler.MountRoutes)
		r.Route("/ar", params.ARHandler.MountRoutes)
		r.Route("/reconciliation", func(r chi.Router) {
			params.ReconHandler.MountRoutes(r)
			if params.Verify != nil {
				r.Post("/verify-all", func(w http.ResponseWriter, req *http.Request) {
					taskID, err := params.Verify.EnqueueLedgerVerify(req.Context())
					if err != nil {
						params.Logger.Error("enqueue ledger verify", slog.Any("error", err))
						httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "could not schedule verification")
						return
					}
					httpx.JSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
				})
			}
		})
	})

	return r
}
