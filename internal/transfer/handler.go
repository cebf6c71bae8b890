package transfer

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-pos/meridian-pos/internal/platform/httpx"
)

// Handler wires HTTP endpoints for stock transfers.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs transfer handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers transfer routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.request)
	r.Get("/", h.list)
	r.Get("/{transferID}", h.get)
	r.Post("/{transferID}/approve", h.approve)
	r.Post("/{transferID}/reject", h.reject)
}

type requestBody struct {
	VariationID  int64 `json:"variation_id" validate:"required"`
	Quantity     int64 `json:"quantity" validate:"required,gt=0"`
	FromBranchID int64 `json:"from_branch_id" validate:"required"`
	ToBranchID   int64 `json:"to_branch_id" validate:"required"`
	UserID       int64 `json:"user_id" validate:"required"`
}

type transferResponse struct {
	ID           int64   `json:"id"`
	Number       string  `json:"number"`
	VariationID  int64   `json:"variation_id"`
	Quantity     int64   `json:"quantity"`
	FromBranchID int64   `json:"from_branch_id"`
	ToBranchID   int64   `json:"to_branch_id"`
	Status       string  `json:"status"`
	RequestedBy  int64   `json:"requested_by"`
	CreatedAt    string  `json:"created_at"`
	ResolvedBy   *int64  `json:"resolved_by,omitempty"`
	ResolvedAt   *string `json:"resolved_at,omitempty"`
}

func (h *Handler) request(w http.ResponseWriter, r *http.Request) {
	var req requestBody
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	tr, err := h.service.Request(r.Context(), RequestInput{
		VariationID:  req.VariationID,
		Quantity:     req.Quantity,
		FromBranchID: req.FromBranchID,
		ToBranchID:   req.ToBranchID,
		RequestedBy:  req.UserID,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toTransferResponse(tr))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	transferID, ok := transferIDFromPath(w, r)
	if !ok {
		return
	}
	tr, err := h.service.Get(r.Context(), transferID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTransferResponse(tr))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	branchID, err := strconv.ParseInt(r.URL.Query().Get("branch_id"), 10, 64)
	if err != nil || branchID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "branch_id is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	transfers, err := h.service.List(r.Context(), ListFilter{
		BranchID: branchID,
		Status:   Status(r.URL.Query().Get("status")),
		Limit:    limit,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]transferResponse, 0, len(transfers))
	for _, tr := range transfers {
		out = append(out, toTransferResponse(tr))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transfers": out})
}

type actorRequest struct {
	UserID int64 `json:"user_id" validate:"required"`
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	h.runResolution(w, r, h.service.Approve)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	h.runResolution(w, r, h.service.Reject)
}

func (h *Handler) runResolution(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, transferID, actorID int64) (Transfer, error)) {
	transferID, ok := transferIDFromPath(w, r)
	if !ok {
		return
	}
	var req actorRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	tr, err := fn(r.Context(), transferID, req.UserID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTransferResponse(tr))
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Warn("transfer request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}

func transferIDFromPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	transferID, err := strconv.ParseInt(chi.URLParam(r, "transferID"), 10, 64)
	if err != nil || transferID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid transfer id")
		return 0, false
	}
	return transferID, true
}

func toTransferResponse(tr Transfer) transferResponse {
	out := transferResponse{
		ID:           tr.ID,
		Number:       tr.Number,
		VariationID:  tr.VariationID,
		Quantity:     tr.Quantity,
		FromBranchID: tr.FromBranchID,
		ToBranchID:   tr.ToBranchID,
		Status:       string(tr.Status),
		RequestedBy:  tr.RequestedBy,
		CreatedAt:    tr.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		ResolvedBy:   tr.ResolvedBy,
	}
	if tr.ResolvedAt != nil {
		at := tr.ResolvedAt.Format("2006-01-02T15:04:05Z07:00")
		out.ResolvedAt = &at
	}
	return out
}
