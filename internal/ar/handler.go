package ar

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/girderhq/girder/internal/money"
	"github.com/girderhq/girder/internal/platform/httpx"
	"github.com/girderhq/girder/internal/shared"
)

const dateLayout = "2006-01-02"

// Handler exposes the AR subledger over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes attaches AR routes under /ar.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/invoices", func(r chi.Router) {
		r.Get("/", h.ListInvoices)
		r.Post("/", h.CreateInvoice)
		r.Get("/{id}", h.GetInvoice)
		r.Post("/{id}/submit", h.SubmitInvoice)
		r.Post("/{id}/approve", h.ApproveInvoice)
		r.Post("/{id}/void", h.VoidInvoice)
	})
	r.Route("/receipts", func(r chi.Router) {
		r.Get("/", h.ListReceipts)
		r.Post("/", h.RecordReceipt)
		r.Get("/{id}", h.GetReceipt)
		r.Post("/{id}/clear", h.ClearReceipt)
		r.Post("/{id}/void", h.VoidReceipt)
	})
	r.Get("/aging", h.Aging)
}

type invoiceLineRequest struct {
	AccountID   int64   `json:"account_id"`
	AmountMinor int64   `json:"amount_minor" validate:"required,gt=0"`
	JobID       *int64  `json:"job_id"`
	CostCode    *string `json:"cost_code"`
	Description string  `json:"description"`
}

type invoiceLineResponse struct {
	ID          int64   `json:"id"`
	AccountID   int64   `json:"account_id"`
	AmountMinor int64   `json:"amount_minor"`
	JobID       *int64  `json:"job_id,omitempty"`
	CostCode    *string `json:"cost_code,omitempty"`
	Description string  `json:"description,omitempty"`
}

type invoiceResponse struct {
	ID              int64                 `json:"id"`
	ClientID        int64                 `json:"client_id"`
	Number          string                `json:"number"`
	Date            string                `json:"date"`
	DueDate         string                `json:"due_date"`
	Currency        string                `json:"currency"`
	AmountMinor     int64                 `json:"amount_minor"`
	AmountDisplay   string                `json:"amount_display"`
	BalanceDueMinor int64                 `json:"balance_due_minor"`
	Status          string                `json:"status"`
	Memo            string                `json:"memo,omitempty"`
	EntryID         *int64                `json:"entry_id,omitempty"`
	Lines           []invoiceLineResponse `json:"lines,omitempty"`
}

func toInvoiceResponse(inv Invoice) invoiceResponse {
	resp := invoiceResponse{
		ID:              inv.ID,
		ClientID:        inv.ClientID,
		Number:          inv.Number,
		Date:            inv.Date.Format(dateLayout),
		DueDate:         inv.DueDate.Format(dateLayout),
		Currency:        inv.Currency,
		AmountMinor:     inv.Amount,
		AmountDisplay:   money.Format(inv.Currency, inv.Amount),
		BalanceDueMinor: inv.BalanceDue,
		Status:          string(inv.Status),
		Memo:            inv.Memo,
		EntryID:         inv.EntryID,
	}
	for _, line := range inv.Lines {
		resp.Lines = append(resp.Lines, invoiceLineResponse{
			ID:          line.ID,
			AccountID:   line.AccountID,
			AmountMinor: line.Amount,
			JobID:       line.JobID,
			CostCode:    line.CostCode,
			Description: line.Description,
		})
	}
	return resp
}

type createInvoiceRequest struct {
	ClientID    int64                `json:"client_id" validate:"required"`
	Number      string               `json:"number" validate:"required"`
	Date        string               `json:"date" validate:"required"`
	DueDate     string               `json:"due_date" validate:"required"`
	Currency    string               `json:"currency" validate:"required,len=3"`
	AmountMinor int64                `json:"amount_minor" validate:"required,gt=0"`
	Memo        string               `json:"memo"`
	Lines       []invoiceLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	companyID, ok := shared.CompanyFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "company scope required")
		return
	}
	var req createInvoiceRequest
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
	due, err := time.Parse(dateLayout, req.DueDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "due_date must be YYYY-MM-DD")
		return
	}
	in := CreateInvoiceInput{
		CompanyID: companyID,
		ClientID:  req.ClientID,
		Number:    req.Number,
		Date:      date,
		DueDate:   due,
		Currency:  req.Currency,
		Amount:    req.AmountMinor,
		Memo:      req.Memo,
		ActorID:   shared.ActorFromContext(r.Context()),
	}
	for _, line := range req.Lines {
		in.Lines = append(in.Lines, InvoiceLineInput{
			AccountID:   line.AccountID,
			Amount:      line.AmountMinor,
			JobID:       line.JobID,
			CostCode:    line.CostCode,
			Description: line.Description,
		})
	}
	invoice, err := h.service.CreateInvoice(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toInvoiceResponse(invoice))
}

func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	companyID, id, ok := h.scope(w, r)
	if !ok {
		return
	}
	invoice, err := h.service.GetInvoice(r.Context(), companyID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toInvoiceResponse(invoice))
}

func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	companyID, ok := shared.CompanyFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "company scope required")
		return
	}
	q := r.URL.Query()
	filter := InvoiceFilter{Status: InvoiceStatus(q.Get("status"))}
	filter.ClientID, _ = strconv.ParseInt(q.Get("client_id"), 10, 64)
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))
	invoices, err := h.service.ListInvoices(r.Context(), companyID, filter)
	if err != nil {
		h.logger.Error("list invoices", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]invoiceResponse, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, toInvoiceResponse(inv))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) SubmitInvoice(w http.ResponseWriter, r *http.Request) {
	companyID, id, ok := h.scope(w, r)
	if !ok {
		return
	}
	invoice, err := h.service.SubmitInvoice(r.Context(), companyID, id, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toInvoiceResponse(invoice))
}

func (h *Handler) ApproveInvoice(w http.ResponseWriter, r *http.Request) {
	companyID, id, ok := h.scope(w, r)
	if !ok {
		return
	}
	invoice, err := h.service.ApproveInvoice(r.Context(), companyID, id, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toInvoiceResponse(invoice))
}

type voidRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) VoidInvoice(w http.ResponseWriter, r *http.Request) {
	companyID, id, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req voidRequest
	if err := httpx.DecodeJSON(r, &req); err != nil && r.ContentLength > 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	invoice, err := h.service.VoidInvoice(r.Context(), companyID, id, shared.ActorFromContext(r.Context()), req.Reason)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toInvoiceResponse(invoice))
}

type applicationRequest struct {
	InvoiceID   int64 `json:"invoice_id" validate:"required"`
	AmountMinor int64 `json:"amount_minor" validate:"required,gt=0"`
}

type recordReceiptRequest struct {
	ClientID       int64                `json:"client_id" validate:"required"`
	Date           string               `json:"date" validate:"required"`
	Currency       string               `json:"currency" validate:"required,len=3"`
	AmountMinor    int64                `json:"amount_minor" validate:"required,gt=0"`
	Method         string               `json:"method"`
	Reference      string               `json:"reference"`
	IdempotencyKey string               `json:"idempotency_key" validate:"omitempty,uuid4"`
	Applications   []applicationRequest `json:"applications" validate:"required,min=1,dive"`
}

type applicationResponse struct {
	ID          int64 `json:"id"`
	InvoiceID   int64 `json:"invoice_id"`
	AmountMinor int64 `json:"amount_minor"`
}

type receiptResponse struct {
	ID           int64                 `json:"id"`
	ClientID     int64                 `json:"client_id"`
	Date         string                `json:"date"`
	Currency      string                `json:"currency"`
	AmountMinor   int64                 `json:"amount_minor"`
	AmountDisplay string                `json:"amount_display"`
	AppliedMinor  int64                 `json:"applied_minor"`
	Method       string                `json:"method,omitempty"`
	Reference    string                `json:"reference,omitempty"`
	Status       string                `json:"status"`
	EntryID      *int64                `json:"entry_id,omitempty"`
	Applications []applicationResponse `json:"applications,omitempty"`
}

func toReceiptResponse(rc Receipt) receiptResponse {
	resp := receiptResponse{
		ID:           rc.ID,
		ClientID:     rc.ClientID,
		Date:         rc.Date.Format(dateLayout),
		Currency:      rc.Currency,
		AmountMinor:   rc.Amount,
		AmountDisplay: money.Format(rc.Currency, rc.Amount),
		AppliedMinor:  rc.Applied,
		Method:       rc.Method,
		Reference:    rc.Reference,
		Status:       string(rc.Status),
		EntryID:      rc.EntryID,
	}
	for _, app := range rc.Applications {
		resp.Applications = append(resp.Applications, applicationResponse{ID: app.ID, InvoiceID: app.InvoiceID, AmountMinor: app.Amount})
	}
	return resp
}

func (h *Handler) RecordReceipt(w http.ResponseWriter, r *http.Request) {
	companyID, ok := shared.CompanyFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "company scope required")
		return
	}
	var req recordReceiptRequest
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
	in := RecordReceiptInput{
		CompanyID: companyID,
		ClientID:  req.ClientID,
		Date:      date,
		Currency:  req.Currency,
		Amount:    req.AmountMinor,
		Method:    req.Method,
		Reference: req.Reference,
		ActorID:   shared.ActorFromContext(r.Context()),
	}
	if req.IdempotencyKey != "" {
		key, err := uuid.Parse(req.IdempotencyKey)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid idempotency key")
			return
		}
		in.IdempotencyKey = key
	}
	for _, app := range req.Applications {
		in.Applications = append(in.Applications, ApplicationInput{InvoiceID: app.InvoiceID, Amount: app.AmountMinor})
	}
	receipt, err := h.service.RecordReceipt(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toReceiptResponse(receipt))
}

func (h *Handler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	companyID, id, ok := h.scope(w, r)
	if !ok {
		return
	}
	receipt, err := h.service.GetReceipt(r.Context(), companyID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toReceiptResponse(receipt))
}

func (h *Handler) ListReceipts(w http.ResponseWriter, r *http.Request) {
	companyID, ok := shared.CompanyFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "company scope required")
		return
	}
	q := r.URL.Query()
	clientID, _ := strconv.ParseInt(q.Get("client_id"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	receipts, err := h.service.ListReceipts(r.Context(), companyID, clientID, limit, offset)
	if err != nil {
		h.logger.Error("list receipts", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]receiptResponse, 0, len(receipts))
	for _, rc := range receipts {
		out = append(out, toReceiptResponse(rc))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) ClearReceipt(w http.ResponseWriter, r *http.Request) {
	companyID, id, ok := h.scope(w, r)
	if !ok {
		return
	}
	receipt, err := h.service.ClearReceipt(r.Context(), companyID, id, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toReceiptResponse(receipt))
}

func (h *Handler) VoidReceipt(w http.ResponseWriter, r *http.Request) {
	companyID, id, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req voidRequest
	if err := httpx.DecodeJSON(r, &req); err != nil && r.ContentLength > 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	receipt, err := h.service.VoidReceipt(r.Context(), companyID, id, shared.ActorFromContext(r.Context()), req.Reason)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toReceiptResponse(receipt))
}

type agingRowResponse struct {
	ClientID int64 `json:"client_id"`
	Current  int64 `json:"current_minor"`
	Days30   int64 `json:"days_1_30_minor"`
	Days60   int64 `json:"days_31_60_minor"`
	Days90   int64 `json:"days_61_90_minor"`
	Over90   int64 `json:"over_90_minor"`
	Total    int64 `json:"total_minor"`
}

func (h *Handler) Aging(w http.ResponseWriter, r *http.Request) {
	companyID, ok := shared.CompanyFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "company scope required")
		return
	}
	var asOf time.Time
	if v := r.URL.Query().Get("as_of"); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "as_of must be YYYY-MM-DD")
			return
		}
		asOf = t
	}
	rows, err := h.service.Aging(r.Context(), companyID, asOf)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]agingRowResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, agingRowResponse{
			ClientID: row.ClientID,
			Current:  row.Current,
			Days30:   row.Days30,
			Days60:   row.Days60,
			Days90:   row.Days90,
			Over90:   row.Over90,
			Total:    row.Total,
		})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) scope(w http.ResponseWriter, r *http.Request) (companyID, id int64, ok bool) {
	companyID, ok = shared.CompanyFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "company scope required")
		return 0, 0, false
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return 0, 0, false
	}
	return companyID, id, true
}
