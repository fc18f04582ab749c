package journal

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/girderhq/girder/internal/platform/httpx"
	"github.com/girderhq/girder/internal/shared"
)

const dateLayout = "2006-01-02"

// Handler exposes journal entries over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes attaches journal routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.UpdateDraft)
	r.Post("/{id}/post", h.Post)
	r.Post("/{id}/void", h.Void)
}

type lineRequest struct {
	AccountID   int64   `json:"account_id" validate:"required"`
	DebitMinor  int64   `json:"debit_minor" validate:"gte=0"`
	CreditMinor int64   `json:"credit_minor" validate:"gte=0"`
	JobID       *int64  `json:"job_id"`
	CostCode    *string `json:"cost_code"`
	VendorID    *int64  `json:"vendor_id"`
	ClientID    *int64  `json:"client_id"`
}

type lineResponse struct {
	ID          int64   `json:"id"`
	AccountID   int64   `json:"account_id"`
	DebitMinor  int64   `json:"debit_minor"`
	CreditMinor int64   `json:"credit_minor"`
	JobID       *int64  `json:"job_id,omitempty"`
	CostCode    *string `json:"cost_code,omitempty"`
	VendorID    *int64  `json:"vendor_id,omitempty"`
	ClientID    *int64  `json:"client_id,omitempty"`
}

type entryResponse struct {
	ID           int64          `json:"id"`
	Date         string         `json:"date"`
	Reference    string         `json:"reference,omitempty"`
	Memo         string         `json:"memo,omitempty"`
	Currency     string         `json:"currency"`
	SourceModule string         `json:"source_module"`
	SourceRef    string         `json:"source_ref"`
	Status       string         `json:"status"`
	ReversalOf   *int64         `json:"reversal_of,omitempty"`
	ReversedBy   *int64         `json:"reversed_by,omitempty"`
	PostedAt     *time.Time     `json:"posted_at,omitempty"`
	VoidedAt     *time.Time     `json:"voided_at,omitempty"`
	Lines        []lineResponse `json:"lines,omitempty"`
}

func toEntryResponse(e Entry) entryResponse {
	resp := entryResponse{
		ID:           e.ID,
		Date:         e.Date.Format(dateLayout),
		Reference:    e.Reference,
		Memo:         e.Memo,
		Currency:     e.Currency,
		SourceModule: string(e.Source.Module),
		SourceRef:    e.Source.Ref,
		Status:       string(e.Status),
		ReversalOf:   e.ReversalOf,
		ReversedBy:   e.ReversedBy,
		PostedAt:     e.PostedAt,
		VoidedAt:     e.VoidedAt,
	}
	for _, line := range e.Lines {
		resp.Lines = append(resp.Lines, lineResponse{
			ID:          line.ID,
			AccountID:   line.AccountID,
			DebitMinor:  line.Debit,
			CreditMinor: line.Credit,
			JobID:       line.JobID,
			CostCode:    line.CostCode,
			VendorID:    line.VendorID,
			ClientID:    line.ClientID,
		})
	}
	return resp
}

type createEntryRequest struct {
	Date           string        `json:"date" validate:"required"`
	Reference      string        `json:"reference"`
	Memo           string        `json:"memo"`
	Currency       string        `json:"currency" validate:"required,len=3"`
	IdempotencyKey string        `json:"idempotency_key" validate:"omitempty,uuid4"`
	Post           bool          `json:"post"`
	Lines          []lineRequest `json:"lines" validate:"required,min=2,dive"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	companyID, ok := shared.CompanyFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "company scope required")
		return
	}
	var req createEntryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "date must be YYYY-MM-DD")
		return
	}
	in := CreateInput{
		CompanyID: companyID,
		Date:      date,
		Reference: req.Reference,
		Memo:      req.Memo,
		Currency:  req.Currency,
		CreatedBy: shared.ActorFromContext(r.Context()),
		Lines:     toLineInputs(req.Lines),
	}
	if req.IdempotencyKey != "" {
		key, err := uuid.Parse(req.IdempotencyKey)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid idempotency key")
			return
		}
		in.IdempotencyKey = key
	}
	entry, err := h.service.Create(r.Context(), in, req.Post)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toEntryResponse(entry))
}

type updateDraftRequest struct {
	Date      string        `json:"date" validate:"required"`
	Reference string        `json:"reference"`
	Memo      string        `json:"memo"`
	Lines     []lineRequest `json:"lines" validate:"required,min=2,dive"`
}

func (h *Handler) UpdateDraft(w http.ResponseWriter, r *http.Request) {
	companyID, ok := shared.CompanyFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "company scope required")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid entry id")
		return
	}
	var req updateDraftRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "date must be YYYY-MM-DD")
		return
	}
	entry, err := h.service.UpdateDraft(r.Context(), UpdateDraftInput{
		CompanyID: companyID,
		EntryID:   id,
		Date:      date,
		Reference: req.Reference,
		Memo:      req.Memo,
		ActorID:   shared.ActorFromContext(r.Context()),
		Lines:     toLineInputs(req.Lines),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toEntryResponse(entry))
}

func (h *Handler) Post(w http.ResponseWriter, r *http.Request) {
	companyID, ok := shared.CompanyFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "company scope required")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid entry id")
		return
	}
	entry, err := h.service.Post(r.Context(), companyID, id, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toEntryResponse(entry))
}

type voidRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Void(w http.ResponseWriter, r *http.Request) {
	companyID, ok := shared.CompanyFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "company scope required")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid entry id")
		return
	}
	var req voidRequest
	if err := httpx.DecodeJSON(r, &req); err != nil && r.ContentLength > 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	original, reversal, err := h.service.Void(r.Context(), VoidInput{
		CompanyID: companyID,
		EntryID:   id,
		ActorID:   shared.ActorFromContext(r.Context()),
		Reason:    req.Reason,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"entry":    toEntryResponse(original),
		"reversal": toEntryResponse(reversal),
	})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	companyID, ok := shared.CompanyFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "company scope required")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid entry id")
		return
	}
	entry, err := h.service.Get(r.Context(), companyID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toEntryResponse(entry))
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	companyID, ok := shared.CompanyFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "company scope required")
		return
	}
	q := r.URL.Query()
	filter := ListFilter{
		Status: Status(q.Get("status")),
		Source: SourceModule(q.Get("source")),
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "from must be YYYY-MM-DD")
			return
		}
		filter.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "to must be YYYY-MM-DD")
			return
		}
		filter.To = t
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))
	entries, err := h.service.List(r.Context(), companyID, filter)
	if err != nil {
		h.logger.Error("list entries", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryResponse(e))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func toLineInputs(reqs []lineRequest) []LineInput {
	out := make([]LineInput, 0, len(reqs))
	for _, lr := range reqs {
		out = append(out, LineInput{
			AccountID: lr.AccountID,
			Debit:     lr.DebitMinor,
			Credit:    lr.CreditMinor,
			JobID:     lr.JobID,
			CostCode:  lr.CostCode,
			VendorID:  lr.VendorID,
			ClientID:  lr.ClientID,
		})
	}
	return out
}
