package reporting

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"golang.org/x/sync/errgroup"
)

// RepositoryPort abstracts the reporting aggregates for service.
type RepositoryPort interface {
	FindDiscrepancies(ctx context.Context, branchID int64) ([]DiscrepancyRow, error)
	ListBelowThreshold(ctx context.Context, branchID int64) ([]ReorderCandidate, error)
	StockValuation(ctx context.Context, branchID int64) (Valuation, error)
	ListBranchIDs(ctx context.Context) ([]int64, error)
}

// DemandPredictor estimates product demand for reorder sizing.
type DemandPredictor interface {
	PredictDemand(ctx context.Context, productID int64, periodMonths int) (float64, error)
}

// Service serves the read-only reporting surface. Reports are pure reads of
// committed state, so repeated calls return identical results until the next
// write commits.
type Service struct {
	repo         RepositoryPort
	cache        *Cache
	predictor    DemandPredictor
	logger       *slog.Logger
	leadDays     int
	periodMonths int
}

// NewService builds Service. leadDays and periodMonths drive the reorder
// arithmetic and come from configuration.
func NewService(repo RepositoryPort, cache *Cache, predictor DemandPredictor, logger *slog.Logger, leadDays, periodMonths int) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if leadDays <= 0 {
		leadDays = 7
	}
	if periodMonths <= 0 {
		periodMonths = 1
	}
	return &Service{repo: repo, cache: cache, predictor: predictor, logger: logger, leadDays: leadDays, periodMonths: periodMonths}
}

// FindDiscrepancies reports (variation, branch) pairs whose record disagrees
// with the ledger sum.
func (s *Service) FindDiscrepancies(ctx context.Context, branchID int64) ([]DiscrepancyRow, error) {
	if branchID == 0 {
		return nil, fmt.Errorf("%w: branch required", ErrValidation)
	}
	key, err := s.cache.BuildKey(ctx, keyDiscrepancies(branchID))
	if err != nil {
		return nil, err
	}
	out := []DiscrepancyRow{}
	err = s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (interface{}, error) {
		rows, err := s.repo.FindDiscrepancies(ctx, branchID)
		if err != nil {
			return nil, err
		}
		if rows == nil {
			rows = []DiscrepancyRow{}
		}
		return rows, nil
	})
	return out, err
}

// StockValuation totals a branch's inventory at layered FIFO cost.
func (s *Service) StockValuation(ctx context.Context, branchID int64) (Valuation, error) {
	if branchID == 0 {
		return Valuation{}, fmt.Errorf("%w: branch required", ErrValidation)
	}
	key, err := s.cache.BuildKey(ctx, keyValuation(branchID))
	if err != nil {
		return Valuation{}, err
	}
	var out Valuation
	err = s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (interface{}, error) {
		return s.repo.StockValuation(ctx, branchID)
	})
	return out, err
}

// SuggestPurchaseOrders proposes reorder quantities for every pair at or
// below its threshold. Demand predictions fan out concurrently; lead time
// consumption is pro-rated from the monthly prediction. Results are not
// cached: the predictor owns its own freshness.
func (s *Service) SuggestPurchaseOrders(ctx context.Context, branchID int64) ([]ReorderSuggestion, error) {
	if branchID == 0 {
		return nil, fmt.Errorf("%w: branch required", ErrValidation)
	}
	candidates, err := s.repo.ListBelowThreshold(ctx, branchID)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []ReorderSuggestion{}, nil
	}

	predictions := make([]float64, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, c := range candidates {
		g.Go(func() error {
			predicted, err := s.predictor.PredictDemand(gctx, c.ProductID, s.periodMonths)
			if err != nil {
				return fmt.Errorf("predict demand for product %d: %w", c.ProductID, err)
			}
			predictions[i] = predicted
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := []ReorderSuggestion{}
	for i, c := range candidates {
		predicted := predictions[i]
		leadTimeDemand := predicted * float64(s.leadDays) / 30.0
		suggested := int64(math.Ceil(predicted + leadTimeDemand - float64(c.Quantity)))
		if suggested <= 0 {
			continue
		}
		out = append(out, ReorderSuggestion{
			VariationID:       c.VariationID,
			ProductID:         c.ProductID,
			SKU:               c.SKU,
			BranchID:          c.BranchID,
			CurrentQuantity:   c.Quantity,
			Threshold:         c.Threshold,
			PredictedDemand:   predicted,
			SuggestedQuantity: suggested,
		})
	}
	return out, nil
}

// ListBranchIDs exposes the branches with stock records, for scheduled scans.
func (s *Service) ListBranchIDs(ctx context.Context) ([]int64, error) {
	return s.repo.ListBranchIDs(ctx)
}

// InvalidateCache bumps the report cache version.
func (s *Service) InvalidateCache(ctx context.Context) error {
	return s.cache.Bump(ctx)
}
