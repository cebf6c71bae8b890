package cyclecount

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-pos/meridian-pos/internal/platform/httpx"
)

// Handler wires HTTP endpoints for cycle counts.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs cyclecount handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers cycle count routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{countID}", h.get)
	r.Put("/{countID}/items", h.replaceItems)
	r.Post("/{countID}/start", h.start)
	r.Post("/{countID}/complete", h.complete)
	r.Post("/{countID}/cancel", h.cancel)
}

type createRequest struct {
	BranchID int64         `json:"branch_id" validate:"required"`
	UserID   int64         `json:"user_id" validate:"required"`
	Items    []itemRequest `json:"items" validate:"required,min=1,dive"`
}

type itemRequest struct {
	VariationID     int64 `json:"variation_id" validate:"required"`
	CountedQuantity int64 `json:"counted_quantity" validate:"gte=0"`
}

type countResponse struct {
	ID          int64          `json:"id"`
	BranchID    int64          `json:"branch_id"`
	Status      string         `json:"status"`
	CountedBy   int64          `json:"counted_by"`
	CreatedAt   string         `json:"created_at"`
	CompletedAt *string        `json:"completed_at,omitempty"`
	Items       []itemResponse `json:"items,omitempty"`
}

type itemResponse struct {
	ID              int64 `json:"id"`
	VariationID     int64 `json:"variation_id"`
	CountedQuantity int64 `json:"counted_quantity"`
	SystemQuantity  int64 `json:"system_quantity"`
	Discrepancy     int64 `json:"discrepancy"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	cc, items, err := h.service.Create(r.Context(), req.BranchID, req.UserID, toItemInputs(req.Items))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toCountResponse(cc, items))
}

type replaceItemsRequest struct {
	UserID int64         `json:"user_id" validate:"required"`
	Items  []itemRequest `json:"items" validate:"required,min=1,dive"`
}

func (h *Handler) replaceItems(w http.ResponseWriter, r *http.Request) {
	countID, ok := countIDFromPath(w, r)
	if !ok {
		return
	}
	var req replaceItemsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	items, err := h.service.ReplaceItems(r.Context(), countID, toItemInputs(req.Items), req.UserID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]itemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toItemResponse(item))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": out})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	countID, ok := countIDFromPath(w, r)
	if !ok {
		return
	}
	cc, items, err := h.service.Get(r.Context(), countID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toCountResponse(cc, items))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	branchID, err := strconv.ParseInt(r.URL.Query().Get("branch_id"), 10, 64)
	if err != nil || branchID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "branch_id is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	counts, err := h.service.List(r.Context(), branchID, limit)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]countResponse, 0, len(counts))
	for _, cc := range counts {
		out = append(out, toCountResponse(cc, nil))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"cycle_counts": out})
}

type actorRequest struct {
	UserID int64 `json:"user_id" validate:"required"`
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	h.runTransition(w, r, h.service.Start)
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	h.runTransition(w, r, h.service.Complete)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	h.runTransition(w, r, h.service.Cancel)
}

func (h *Handler) runTransition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, countID, actorID int64) (CycleCount, error)) {
	countID, ok := countIDFromPath(w, r)
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
	cc, err := fn(r.Context(), countID, req.UserID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toCountResponse(cc, nil))
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Warn("cycle count request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}

func countIDFromPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	countID, err := strconv.ParseInt(chi.URLParam(r, "countID"), 10, 64)
	if err != nil || countID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid cycle count id")
		return 0, false
	}
	return countID, true
}

func toItemInputs(items []itemRequest) []ItemInput {
	out := make([]ItemInput, 0, len(items))
	for _, item := range items {
		out = append(out, ItemInput{VariationID: item.VariationID, CountedQuantity: item.CountedQuantity})
	}
	return out
}

func toItemResponse(item CycleCountItem) itemResponse {
	return itemResponse{
		ID:              item.ID,
		VariationID:     item.VariationID,
		CountedQuantity: item.CountedQuantity,
		SystemQuantity:  item.SystemQuantity,
		Discrepancy:     item.Discrepancy,
	}
}

func toCountResponse(cc CycleCount, items []CycleCountItem) countResponse {
	out := countResponse{
		ID:        cc.ID,
		BranchID:  cc.BranchID,
		Status:    string(cc.Status),
		CountedBy: cc.CountedBy,
		CreatedAt: cc.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if cc.CompletedAt != nil {
		at := cc.CompletedAt.Format("2006-01-02T15:04:05Z07:00")
		out.CompletedAt = &at
	}
	for _, item := range items {
		out.Items = append(out.Items, toItemResponse(item))
	}
	return out
}
