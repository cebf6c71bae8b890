package procurement

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-pos/meridian-pos/internal/platform/httpx"
)

// Handler wires HTTP endpoints for purchase orders.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs procurement handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers purchase order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{orderID}", h.get)
	r.Post("/{orderID}/order", h.markOrdered)
	r.Post("/{orderID}/cancel", h.cancel)
	r.Post("/{orderID}/receipts", h.receive)
}

type createOrderRequest struct {
	Number     string             `json:"number"`
	SupplierID int64              `json:"supplier_id" validate:"required"`
	BranchID   int64              `json:"branch_id" validate:"required"`
	UserID     int64              `json:"user_id" validate:"required"`
	Items      []orderItemRequest `json:"items" validate:"required,min=1,dive"`
}

type orderItemRequest struct {
	VariationID int64  `json:"variation_id" validate:"required"`
	Quantity    int64  `json:"quantity" validate:"required,gt=0"`
	UnitPrice   string `json:"unit_price" validate:"required"`
}

type orderResponse struct {
	ID         int64               `json:"id"`
	Number     string              `json:"number"`
	SupplierID int64               `json:"supplier_id"`
	BranchID   int64               `json:"branch_id"`
	Status     string              `json:"status"`
	CreatedBy  int64               `json:"created_by"`
	CreatedAt  string              `json:"created_at"`
	ReceivedAt *string             `json:"received_at,omitempty"`
	ReceivedBy *int64              `json:"received_by,omitempty"`
	Items      []orderItemResponse `json:"items,omitempty"`
}

type orderItemResponse struct {
	ID          int64  `json:"id"`
	VariationID int64  `json:"variation_id"`
	Quantity    int64  `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	items := make([]OrderItemInput, 0, len(req.Items))
	for _, line := range req.Items {
		price, err := decimal.NewFromString(line.UnitPrice)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid unit_price")
			return
		}
		items = append(items, OrderItemInput{
			VariationID: line.VariationID,
			Quantity:    line.Quantity,
			UnitPrice:   price,
		})
	}
	po, err := h.service.CreateOrder(r.Context(), CreateOrderInput{
		Number:     req.Number,
		SupplierID: req.SupplierID,
		BranchID:   req.BranchID,
		CreatedBy:  req.UserID,
		Items:      items,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toOrderResponse(po, nil))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDFromPath(w, r)
	if !ok {
		return
	}
	po, items, err := h.service.GetOrder(r.Context(), orderID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toOrderResponse(po, items))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	branchID, err := strconv.ParseInt(r.URL.Query().Get("branch_id"), 10, 64)
	if err != nil || branchID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "branch_id is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	orders, err := h.service.ListOrders(r.Context(), branchID, Status(r.URL.Query().Get("status")), limit)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]orderResponse, 0, len(orders))
	for _, po := range orders {
		out = append(out, toOrderResponse(po, nil))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"orders": out})
}

type actorRequest struct {
	UserID int64 `json:"user_id" validate:"required"`
}

func (h *Handler) markOrdered(w http.ResponseWriter, r *http.Request) {
	h.runTransition(w, r, h.service.MarkOrdered)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	h.runTransition(w, r, h.service.Cancel)
}

func (h *Handler) runTransition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, orderID, actorID int64) (PurchaseOrder, error)) {
	orderID, ok := orderIDFromPath(w, r)
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
	po, err := fn(r.Context(), orderID, req.UserID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toOrderResponse(po, nil))
}

type receiveRequest struct {
	UserID int64                `json:"user_id" validate:"required"`
	Items  []receiveItemRequest `json:"items" validate:"required,min=1,dive"`
}

type receiveItemRequest struct {
	VariationID int64 `json:"variation_id" validate:"required"`
	Quantity    int64 `json:"quantity" validate:"required,gt=0"`
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDFromPath(w, r)
	if !ok {
		return
	}
	var req receiveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	items := make([]ReceiptItem, 0, len(req.Items))
	for _, line := range req.Items {
		items = append(items, ReceiptItem{VariationID: line.VariationID, Quantity: line.Quantity})
	}
	po, err := h.service.ReceiveItems(r.Context(), orderID, items, req.UserID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toOrderResponse(po, nil))
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Warn("procurement request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}

func orderIDFromPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil || orderID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid order id")
		return 0, false
	}
	return orderID, true
}

func toOrderResponse(po PurchaseOrder, items []OrderItem) orderResponse {
	out := orderResponse{
		ID:         po.ID,
		Number:     po.Number,
		SupplierID: po.SupplierID,
		BranchID:   po.BranchID,
		Status:     string(po.Status),
		CreatedBy:  po.CreatedBy,
		CreatedAt:  po.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		ReceivedBy: po.ReceivedBy,
	}
	if po.ReceivedAt != nil {
		at := po.ReceivedAt.Format("2006-01-02T15:04:05Z07:00")
		out.ReceivedAt = &at
	}
	for _, item := range items {
		out.Items = append(out.Items, orderItemResponse{
			ID:          item.ID,
			VariationID: item.VariationID,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice.String(),
		})
	}
	return out
}
