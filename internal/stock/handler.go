package stock

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-pos/meridian-pos/internal/platform/httpx"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// Handler wires HTTP endpoints for the stock ledger.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs stock handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/records", h.getRecord)
	r.Get("/movements", h.listMovements)
	r.Post("/adjustments", h.adjust)
	r.Post("/receipts", h.receive)
	r.Post("/dispatches", h.dispatch)
	r.Post("/opening-balances", h.seedOpeningBalance)
	r.Put("/thresholds", h.setThreshold)
}

type adjustmentRequest struct {
	VariationID    int64  `json:"variation_id" validate:"required"`
	BranchID       int64  `json:"branch_id" validate:"required"`
	QuantityChange int64  `json:"quantity_change" validate:"required"`
	Reason         string `json:"reason" validate:"required"`
	UserID         *int64 `json:"user_id"`
	UnitCost       string `json:"unit_cost"`
	Reference      string `json:"reference"`
}

type movementResponse struct {
	ID                int64  `json:"id"`
	VariationID       int64  `json:"variation_id"`
	BranchID          int64  `json:"branch_id"`
	QuantityChange    int64  `json:"quantity_change"`
	Reason            string `json:"reason"`
	UserID            *int64 `json:"user_id,omitempty"`
	UnitCost          string `json:"unit_cost"`
	QuantityRemaining *int64 `json:"quantity_remaining,omitempty"`
	Reference         string `json:"reference,omitempty"`
	CreatedAt         string `json:"created_at"`
}

type recordResponse struct {
	VariationID       int64 `json:"variation_id"`
	BranchID          int64 `json:"branch_id"`
	Quantity          int64 `json:"quantity"`
	LowStockThreshold int64 `json:"low_stock_threshold"`
}

type adjustmentResponse struct {
	Record   recordResponse   `json:"record"`
	Movement movementResponse `json:"movement"`
	LowStock bool             `json:"low_stock"`
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	cost, err := parseCost(req.UnitCost)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid unit_cost")
		return
	}
	res, err := h.service.Adjust(r.Context(), AdjustmentInput{
		VariationID:    req.VariationID,
		BranchID:       req.BranchID,
		QuantityChange: req.QuantityChange,
		Reason:         Reason(req.Reason),
		UserID:         req.UserID,
		UnitCost:       decimal.NullDecimal{Decimal: cost, Valid: req.UnitCost != ""},
		Reference:      req.Reference,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toAdjustmentResponse(res))
}

type receiptRequest struct {
	VariationID int64  `json:"variation_id" validate:"required"`
	BranchID    int64  `json:"branch_id" validate:"required"`
	Quantity    int64  `json:"quantity" validate:"required,gt=0"`
	UnitCost    string `json:"unit_cost" validate:"required"`
	UserID      *int64 `json:"user_id"`
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	var req receiptRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	cost, err := parseCost(req.UnitCost)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid unit_cost")
		return
	}
	res, err := h.service.Receive(r.Context(), req.VariationID, req.BranchID, req.Quantity, cost, req.UserID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toAdjustmentResponse(res))
}

type dispatchRequest struct {
	VariationID int64  `json:"variation_id" validate:"required"`
	BranchID    int64  `json:"branch_id" validate:"required"`
	Quantity    int64  `json:"quantity" validate:"required,gt=0"`
	UserID      *int64 `json:"user_id"`
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	res, err := h.service.Dispatch(r.Context(), req.VariationID, req.BranchID, req.Quantity, req.UserID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toAdjustmentResponse(res))
}

type openingBalanceRequest struct {
	VariationID int64  `json:"variation_id" validate:"required"`
	BranchID    int64  `json:"branch_id" validate:"required"`
	Quantity    int64  `json:"quantity" validate:"required,gt=0"`
	UnitCost    string `json:"unit_cost"`
	UserID      *int64 `json:"user_id"`
}

func (h *Handler) seedOpeningBalance(w http.ResponseWriter, r *http.Request) {
	var req openingBalanceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	cost, err := parseCost(req.UnitCost)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid unit_cost")
		return
	}
	res, err := h.service.SeedOpeningBalance(r.Context(), OpeningBalanceInput{
		VariationID: req.VariationID,
		BranchID:    req.BranchID,
		Quantity:    req.Quantity,
		UnitCost:    cost,
		UserID:      req.UserID,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toAdjustmentResponse(res))
}

type thresholdRequest struct {
	VariationID int64  `json:"variation_id" validate:"required"`
	BranchID    int64  `json:"branch_id" validate:"required"`
	Threshold   int64  `json:"threshold" validate:"gte=0"`
	UserID      *int64 `json:"user_id"`
}

func (h *Handler) setThreshold(w http.ResponseWriter, r *http.Request) {
	var req thresholdRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	rec, err := h.service.SetLowStockThreshold(r.Context(), req.VariationID, req.BranchID, req.Threshold, req.UserID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRecordResponse(rec))
}

func (h *Handler) getRecord(w http.ResponseWriter, r *http.Request) {
	variationID, branchID, ok := pairFromQuery(w, r)
	if !ok {
		return
	}
	rec, err := h.service.GetRecord(r.Context(), variationID, branchID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRecordResponse(rec))
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	variationID, branchID, ok := pairFromQuery(w, r)
	if !ok {
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	pagination := shared.NewPagination(page, perPage, 0)
	movements, err := h.service.GetMovements(r.Context(), MovementFilter{
		VariationID: variationID,
		BranchID:    branchID,
		Limit:       pagination.PerPage,
		Offset:      pagination.Offset(),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]movementResponse, 0, len(movements))
	for _, mv := range movements {
		out = append(out, toMovementResponse(mv))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": out, "page": pagination.Page, "per_page": pagination.PerPage})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Warn("stock request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}

func pairFromQuery(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	variationID, err := strconv.ParseInt(r.URL.Query().Get("variation_id"), 10, 64)
	if err != nil || variationID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "variation_id is required")
		return 0, 0, false
	}
	branchID, err := strconv.ParseInt(r.URL.Query().Get("branch_id"), 10, 64)
	if err != nil || branchID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "branch_id is required")
		return 0, 0, false
	}
	return variationID, branchID, true
}

func parseCost(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

func toRecordResponse(rec Record) recordResponse {
	return recordResponse{
		VariationID:       rec.VariationID,
		BranchID:          rec.BranchID,
		Quantity:          rec.Quantity,
		LowStockThreshold: rec.LowStockThreshold,
	}
}

func toMovementResponse(mv Movement) movementResponse {
	return movementResponse{
		ID:                mv.ID,
		VariationID:       mv.VariationID,
		BranchID:          mv.BranchID,
		QuantityChange:    mv.QuantityChange,
		Reason:            string(mv.Reason),
		UserID:            mv.UserID,
		UnitCost:          mv.UnitCost.String(),
		QuantityRemaining: mv.QuantityRemaining,
		Reference:         mv.Reference,
		CreatedAt:         mv.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func toAdjustmentResponse(res AdjustmentResult) adjustmentResponse {
	return adjustmentResponse{
		Record:   toRecordResponse(res.Record),
		Movement: toMovementResponse(res.Movement),
		LowStock: res.LowStock,
	}
}
