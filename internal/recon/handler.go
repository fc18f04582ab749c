package recon

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/girderhq/girder/internal/platform/httpx"
	"github.com/girderhq/girder/internal/shared"
)

// Handler exposes reconciliation over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes attaches reconciliation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/verify", h.Verify)
	r.Get("/trial-balance", h.TrialBalance)
}

type driftResponse struct {
	Entity        string `json:"entity"`
	ID            int64  `json:"id"`
	Number        string `json:"number"`
	CachedMinor   int64  `json:"cached_minor"`
	ComputedMinor int64  `json:"computed_minor"`
	DeltaMinor    int64  `json:"delta_minor"`
}

type reportResponse struct {
	CheckedAt       time.Time       `json:"checked_at"`
	Accounts        int             `json:"accounts"`
	Documents       int             `json:"documents"`
	Clean           bool            `json:"clean"`
	TotalDriftMinor int64           `json:"total_drift_minor"`
	Drifts          []driftResponse `json:"drifts,omitempty"`
}

func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	companyID, ok := shared.CompanyFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "company scope required")
		return
	}
	report, err := h.service.Verify(r.Context(), companyID)
	if err != nil {
		h.logger.Error("verify balances", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	resp := reportResponse{
		CheckedAt:       report.CheckedAt,
		Accounts:        report.Accounts,
		Documents:       report.Documents,
		Clean:           report.Clean(),
		TotalDriftMinor: report.TotalDrift,
	}
	for _, d := range report.Drifts {
		resp.Drifts = append(resp.Drifts, driftResponse{
			Entity:        d.Entity,
			ID:            d.ID,
			Number:        d.Number,
			CachedMinor:   d.Cached,
			ComputedMinor: d.Computed,
			DeltaMinor:    d.Delta,
		})
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) TrialBalance(w http.ResponseWriter, r *http.Request) {
	companyID, ok := shared.CompanyFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "company scope required")
		return
	}
	rows, err := h.service.TrialBalance(r.Context(), companyID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var debit, credit int64
	for _, row := range rows {
		debit += row.Debit
		credit += row.Credit
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"rows":               rows,
		"total_debit_minor":  debit,
		"total_credit_minor": credit,
		"balanced":           debit == credit,
	})
}
