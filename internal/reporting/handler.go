package reporting

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-pos/meridian-pos/internal/platform/httpx"
)

// Handler wires HTTP endpoints for reporting.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs reporting handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers reporting routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/discrepancies", h.discrepancies)
	r.Get("/reorder-suggestions", h.reorderSuggestions)
	r.Get("/valuation", h.valuation)
}

func (h *Handler) discrepancies(w http.ResponseWriter, r *http.Request) {
	branchID, ok := branchFromQuery(w, r)
	if !ok {
		return
	}
	rows, err := h.service.FindDiscrepancies(r.Context(), branchID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"discrepancies": rows})
}

func (h *Handler) reorderSuggestions(w http.ResponseWriter, r *http.Request) {
	branchID, ok := branchFromQuery(w, r)
	if !ok {
		return
	}
	suggestions, err := h.service.SuggestPurchaseOrders(r.Context(), branchID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

func (h *Handler) valuation(w http.ResponseWriter, r *http.Request) {
	branchID, ok := branchFromQuery(w, r)
	if !ok {
		return
	}
	val, err := h.service.StockValuation(r.Context(), branchID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, val)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Warn("reporting request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}

func branchFromQuery(w http.ResponseWriter, r *http.Request) (int64, bool) {
	branchID, err := strconv.ParseInt(r.URL.Query().Get("branch_id"), 10, 64)
	if err != nil || branchID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "branch_id is required")
		return 0, false
	}
	return branchID, true
}
