package coa

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/girderhq/girder/internal/platform/httpx"
	"github.com/girderhq/girder/internal/shared"
)

// Handler exposes the chart of accounts over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes attaches account routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/tree", h.Tree)
	r.Get("/{id}", h.Get)
	r.Patch("/{id}", h.Update)
	r.Post("/{id}/deactivate", h.Deactivate)
}

type accountResponse struct {
	ID            int64  `json:"id"`
	Number        string `json:"number"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	NormalBalance string `json:"normal_balance"`
	ParentID      *int64 `json:"parent_id,omitempty"`
	Active        bool   `json:"active"`
	System        bool   `json:"system"`
	BalanceMinor  *int64 `json:"balance_minor,omitempty"`
}

func toAccountResponse(a Account) accountResponse {
	return accountResponse{
		ID:            a.ID,
		Number:        a.Number,
		Name:          a.Name,
		Type:          string(a.Type),
		NormalBalance: string(a.NormalBalance),
		ParentID:      a.ParentID,
		Active:        a.Active,
		System:        a.System,
	}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	companyID, ok := shared.CompanyFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "company scope required")
		return
	}
	if r.URL.Query().Get("balances") == "true" {
		accounts, err := h.service.ListWithBalances(r.Context(), companyID)
		if err != nil {
			h.logger.Error("list accounts", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		out := make([]accountResponse, 0, len(accounts))
		for _, a := range accounts {
			resp := toAccountResponse(a.Account)
			balance := a.Balance
			resp.BalanceMinor = &balance
			out = append(out, resp)
		}
		httpx.JSON(w, http.StatusOK, out)
		return
	}
	accounts, err := h.service.List(r.Context(), companyID)
	if err != nil {
		h.logger.Error("list accounts", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, toAccountResponse(a))
	}
	httpx.JSON(w, http.StatusOK, out)
}

type treeNodeResponse struct {
	accountResponse
	RolledUpMinor int64              `json:"rolled_up_minor"`
	Children      []treeNodeResponse `json:"children,omitempty"`
}

func toTreeResponse(nodes []*TreeNode) []treeNodeResponse {
	out := make([]treeNodeResponse, 0, len(nodes))
	for _, n := range nodes {
		resp := toAccountResponse(n.Account)
		balance := n.Balance
		resp.BalanceMinor = &balance
		out = append(out, treeNodeResponse{
			accountResponse: resp,
			RolledUpMinor:   n.RolledUp,
			Children:        toTreeResponse(n.Children),
		})
	}
	return out
}

func (h *Handler) Tree(w http.ResponseWriter, r *http.Request) {
	companyID, ok := shared.CompanyFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "company scope required")
		return
	}
	nodes, err := h.service.Tree(r.Context(), companyID)
	if err != nil {
		h.logger.Error("account tree", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTreeResponse(nodes))
}

type createAccountRequest struct {
	Number        string `json:"number" validate:"required"`
	Name          string `json:"name" validate:"required"`
	Type          string `json:"type" validate:"required,oneof=asset liability equity revenue expense cogs"`
	NormalBalance string `json:"normal_balance" validate:"omitempty,oneof=debit credit"`
	ParentID      *int64 `json:"parent_id"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	companyID, ok := shared.CompanyFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "company scope required")
		return
	}
	var req createAccountRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	account, err := h.service.Create(r.Context(), CreateInput{
		CompanyID:     companyID,
		Number:        req.Number,
		Name:          req.Name,
		Type:          AccountType(req.Type),
		NormalBalance: NormalBalance(req.NormalBalance),
		ParentID:      req.ParentID,
		ActorID:       shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toAccountResponse(account))
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	companyID, ok := shared.CompanyFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "company scope required")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid account id")
		return
	}
	account, err := h.service.Get(r.Context(), companyID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAccountResponse(account))
}

type updateAccountRequest struct {
	Name        *string `json:"name"`
	Type        *string `json:"type" validate:"omitempty,oneof=asset liability equity revenue expense cogs"`
	ParentID    *int64  `json:"parent_id"`
	ClearParent bool    `json:"clear_parent"`
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	companyID, ok := shared.CompanyFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "company scope required")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid account id")
		return
	}
	var req updateAccountRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	in := UpdateInput{
		CompanyID:   companyID,
		ID:          id,
		Name:        req.Name,
		ParentID:    req.ParentID,
		ClearParent: req.ClearParent,
		ActorID:     shared.ActorFromContext(r.Context()),
	}
	if req.Type != nil {
		t := AccountType(*req.Type)
		in.Type = &t
	}
	account, err := h.service.Update(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAccountResponse(account))
}

func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	companyID, ok := shared.CompanyFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "company scope required")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid account id")
		return
	}
	if err := h.service.Deactivate(r.Context(), companyID, id, shared.ActorFromContext(r.Context())); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "inactive"})
}
