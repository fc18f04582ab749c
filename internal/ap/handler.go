package ap

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

// Handler exposes the AP subledger over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes attaches AP routes under /ap.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/bills", func(r chi.Router) {
		r.Get("/", h.ListBills)
		r.Post("/", h.CreateBill)
		r.Get("/{id}", h.GetBill)
		r.Post("/{id}/submit", h.SubmitBill)
		r.Post("/{id}/approve", h.ApproveBill)
		r.Post("/{id}/void", h.VoidBill)
	})
	r.Route("/payments", func(r chi.Router) {
		r.Get("/", h.ListPayments)
		r.Post("/", h.RecordPayment)
		r.Get("/{id}", h.GetPayment)
		r.Post("/{id}/clear", h.ClearPayment)
		r.Post("/{id}/void", h.VoidPayment)
	})
	r.Get("/aging", h.Aging)
}

type billLineRequest struct {
	AccountID   int64   `json:"account_id" validate:"required"`
	AmountMinor int64   `json:"amount_minor" validate:"required,gt=0"`
	JobID       *int64  `json:"job_id"`
	CostCode    *string `json:"cost_code"`
	Description string  `json:"description"`
}

type billLineResponse struct {
	ID          int64   `json:"id"`
	AccountID   int64   `json:"account_id"`
	AmountMinor int64   `json:"amount_minor"`
	JobID       *int64  `json:"job_id,omitempty"`
	CostCode    *string `json:"cost_code,omitempty"`
	Description string  `json:"description,omitempty"`
}

type billResponse struct {
	ID              int64              `json:"id"`
	VendorID        int64              `json:"vendor_id"`
	Number          string             `json:"number"`
	Date            string             `json:"date"`
	DueDate         string             `json:"due_date"`
	Currency        string             `json:"currency"`
	AmountMinor     int64              `json:"amount_minor"`
	AmountDisplay   string             `json:"amount_display"`
	BalanceDueMinor int64              `json:"balance_due_minor"`
	Status          string             `json:"status"`
	Memo            string             `json:"memo,omitempty"`
	EntryID         *int64             `json:"entry_id,omitempty"`
	Lines           []billLineResponse `json:"lines,omitempty"`
}

func toBillResponse(b Bill) billResponse {
	resp := billResponse{
		ID:              b.ID,
		VendorID:        b.VendorID,
		Number:          b.Number,
		Date:            b.Date.Format(dateLayout),
		DueDate:         b.DueDate.Format(dateLayout),
		Currency:        b.Currency,
		AmountMinor:     b.Amount,
		AmountDisplay:   money.Format(b.Currency, b.Amount),
		BalanceDueMinor: b.BalanceDue,
		Status:          string(b.Status),
		Memo:            b.Memo,
		EntryID:         b.EntryID,
	}
	for _, line := range b.Lines {
		resp.Lines = append(resp.Lines, billLineResponse{
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

type createBillRequest struct {
	VendorID    int64             `json:"vendor_id" validate:"required"`
	Number      string            `json:"number" validate:"required"`
	Date        string            `json:"date" validate:"required"`
	DueDate     string            `json:"due_date" validate:"required"`
	Currency    string            `json:"currency" validate:"required,len=3"`
	AmountMinor int64             `json:"amount_minor" validate:"required,gt=0"`
	Memo        string            `json:"memo"`
	Lines       []billLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) CreateBill(w http.ResponseWriter, r *http.Request) {
	companyID, ok := shared.CompanyFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "company scope required")
		return
	}
	var req createBillRequest
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
	in := CreateBillInput{
		CompanyID: companyID,
		VendorID:  req.VendorID,
		Number:    req.Number,
		Date:      date,
		DueDate:   due,
		Currency:  req.Currency,
		Amount:    req.AmountMinor,
		Memo:      req.Memo,
		ActorID:   shared.ActorFromContext(r.Context()),
	}
	for _, line := range req.Lines {
		in.Lines = append(in.Lines, BillLineInput{
			AccountID:   line.AccountID,
			Amount:      line.AmountMinor,
			JobID:       line.JobID,
			CostCode:    line.CostCode,
			Description: line.Description,
		})
	}
	bill, err := h.service.CreateBill(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toBillResponse(bill))
}

func (h *Handler) GetBill(w http.ResponseWriter, r *http.Request) {
	companyID, id, ok := h.scope(w, r)
	if !ok {
		return
	}
	bill, err := h.service.GetBill(r.Context(), companyID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBillResponse(bill))
}

func (h *Handler) ListBills(w http.ResponseWriter, r *http.Request) {
	companyID, ok := shared.CompanyFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "company scope required")
		return
	}
	q := r.URL.Query()
	filter := BillFilter{Status: BillStatus(q.Get("status"))}
	filter.VendorID, _ = strconv.ParseInt(q.Get("vendor_id"), 10, 64)
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))
	bills, err := h.service.ListBills(r.Context(), companyID, filter)
	if err != nil {
		h.logger.Error("list bills", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]billResponse, 0, len(bills))
	for _, b := range bills {
		out = append(out, toBillResponse(b))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) SubmitBill(w http.ResponseWriter, r *http.Request) {
	companyID, id, ok := h.scope(w, r)
	if !ok {
		return
	}
	bill, err := h.service.SubmitBill(r.Context(), companyID, id, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBillResponse(bill))
}

func (h *Handler) ApproveBill(w http.ResponseWriter, r *http.Request) {
	companyID, id, ok := h.scope(w, r)
	if !ok {
		return
	}
	bill, err := h.service.ApproveBill(r.Context(), companyID, id, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBillResponse(bill))
}

type voidRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) VoidBill(w http.ResponseWriter, r *http.Request) {
	companyID, id, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req voidRequest
	if err := httpx.DecodeJSON(r, &req); err != nil && r.ContentLength > 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	bill, err := h.service.VoidBill(r.Context(), companyID, id, shared.ActorFromContext(r.Context()), req.Reason)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBillResponse(bill))
}

type applicationRequest struct {
	BillID      int64 `json:"bill_id" validate:"required"`
	AmountMinor int64 `json:"amount_minor" validate:"required,gt=0"`
}

type recordPaymentRequest struct {
	VendorID       int64                `json:"vendor_id" validate:"required"`
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
	BillID      int64 `json:"bill_id"`
	AmountMinor int64 `json:"amount_minor"`
}

type paymentResponse struct {
	ID           int64                 `json:"id"`
	VendorID     int64                 `json:"vendor_id"`
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

func toPaymentResponse(p Payment) paymentResponse {
	resp := paymentResponse{
		ID:           p.ID,
		VendorID:     p.VendorID,
		Date:         p.Date.Format(dateLayout),
		Currency:      p.Currency,
		AmountMinor:   p.Amount,
		AmountDisplay: money.Format(p.Currency, p.Amount),
		AppliedMinor:  p.Applied,
		Method:       p.Method,
		Reference:    p.Reference,
		Status:       string(p.Status),
		EntryID:      p.EntryID,
	}
	for _, app := range p.Applications {
		resp.Applications = append(resp.Applications, applicationResponse{ID: app.ID, BillID: app.BillID, AmountMinor: app.Amount})
	}
	return resp
}

func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	companyID, ok := shared.CompanyFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "company scope required")
		return
	}
	var req recordPaymentRequest
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
	in := RecordPaymentInput{
		CompanyID: companyID,
		VendorID:  req.VendorID,
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
		in.Applications = append(in.Applications, ApplicationInput{BillID: app.BillID, Amount: app.AmountMinor})
	}
	payment, err := h.service.RecordPayment(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPaymentResponse(payment))
}

func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	companyID, id, ok := h.scope(w, r)
	if !ok {
		return
	}
	payment, err := h.service.GetPayment(r.Context(), companyID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPaymentResponse(payment))
}

func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	companyID, ok := shared.CompanyFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "company scope required")
		return
	}
	q := r.URL.Query()
	vendorID, _ := strconv.ParseInt(q.Get("vendor_id"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	payments, err := h.service.ListPayments(r.Context(), companyID, vendorID, limit, offset)
	if err != nil {
		h.logger.Error("list payments", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]paymentResponse, 0, len(payments))
	for _, p := range payments {
		out = append(out, toPaymentResponse(p))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) ClearPayment(w http.ResponseWriter, r *http.Request) {
	companyID, id, ok := h.scope(w, r)
	if !ok {
		return
	}
	payment, err := h.service.ClearPayment(r.Context(), companyID, id, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPaymentResponse(payment))
}

func (h *Handler) VoidPayment(w http.ResponseWriter, r *http.Request) {
	companyID, id, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req voidRequest
	if err := httpx.DecodeJSON(r, &req); err != nil && r.ContentLength > 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	payment, err := h.service.VoidPayment(r.Context(), companyID, id, shared.ActorFromContext(r.Context()), req.Reason)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPaymentResponse(payment))
}

type agingRowResponse struct {
	VendorID int64 `json:"vendor_id"`
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
			VendorID: row.VendorID,
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
