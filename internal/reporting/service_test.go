package reporting_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-pos/meridian-pos/internal/reporting"
)

type fakeRepo struct {
	discrepancies []reporting.DiscrepancyRow
	candidates    []reporting.ReorderCandidate
	valuation     reporting.Valuation
	branches      []int64

	discrepancyCalls int
	valuationCalls   int
}

func (f *fakeRepo) FindDiscrepancies(ctx context.Context, branchID int64) ([]reporting.DiscrepancyRow, error) {
	f.discrepancyCalls++
	return f.discrepancies, nil
}

func (f *fakeRepo) ListBelowThreshold(ctx context.Context, branchID int64) ([]reporting.ReorderCandidate, error) {
	return f.candidates, nil
}

func (f *fakeRepo) StockValuation(ctx context.Context, branchID int64) (reporting.Valuation, error) {
	f.valuationCalls++
	return f.valuation, nil
}

func (f *fakeRepo) ListBranchIDs(ctx context.Context) ([]int64, error) {
	return f.branches, nil
}

type fakePredictor struct {
	demand map[int64]float64
	err    error
}

func (f *fakePredictor) PredictDemand(ctx context.Context, productID int64, periodMonths int) (float64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.demand[productID], nil
}

func newCache(t *testing.T) *reporting.Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return reporting.NewCache(client, time.Minute)
}

func TestFindDiscrepanciesServedFromCache(t *testing.T) {
	repo := &fakeRepo{discrepancies: []reporting.DiscrepancyRow{
		{VariationID: 10, BranchID: 1, SKU: "SKU-10", RecordQuantity: 5, LedgerQuantity: 3, Difference: 2},
	}}
	svc := reporting.NewService(repo, newCache(t), &fakePredictor{}, nil, 7, 1)

	first, err := svc.FindDiscrepancies(context.Background(), 1)
	require.NoError(t, err)
	second, err := svc.FindDiscrepancies(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, repo.discrepancyCalls, "second read must hit the cache")
	require.Len(t, first, 1)
	assert.Equal(t, int64(2), first[0].Difference)
}

func TestInvalidateCacheForcesReload(t *testing.T) {
	repo := &fakeRepo{}
	svc := reporting.NewService(repo, newCache(t), &fakePredictor{}, nil, 7, 1)

	_, err := svc.FindDiscrepancies(context.Background(), 1)
	require.NoError(t, err)
	require.NoError(t, svc.InvalidateCache(context.Background()))
	_, err = svc.FindDiscrepancies(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.discrepancyCalls)
}

func TestSuggestPurchaseOrdersMath(t *testing.T) {
	repo := &fakeRepo{candidates: []reporting.ReorderCandidate{
		{VariationID: 10, ProductID: 100, SKU: "SKU-10", BranchID: 1, Quantity: 2, Threshold: 5},
		{VariationID: 11, ProductID: 101, SKU: "SKU-11", BranchID: 1, Quantity: 4, Threshold: 5},
	}}
	predictor := &fakePredictor{demand: map[int64]float64{
		100: 30, // 30 + 30*7/30 - 2 = 35
		101: 0,  // 0 + 0 - 4 = -4, dropped
	}}
	svc := reporting.NewService(repo, newCache(t), predictor, nil, 7, 1)

	suggestions, err := svc.SuggestPurchaseOrders(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	assert.Equal(t, int64(10), suggestions[0].VariationID)
	assert.Equal(t, int64(35), suggestions[0].SuggestedQuantity)
	assert.Equal(t, float64(30), suggestions[0].PredictedDemand)
}

func TestSuggestPurchaseOrdersRoundsUp(t *testing.T) {
	repo := &fakeRepo{candidates: []reporting.ReorderCandidate{
		{VariationID: 10, ProductID: 100, SKU: "SKU-10", BranchID: 1, Quantity: 3, Threshold: 5},
	}}
	// 10 + 10*7/30 - 3 = 9.333..., rounded up to 10.
	predictor := &fakePredictor{demand: map[int64]float64{100: 10}}
	svc := reporting.NewService(repo, newCache(t), predictor, nil, 7, 1)

	suggestions, err := svc.SuggestPurchaseOrders(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	assert.Equal(t, int64(10), suggestions[0].SuggestedQuantity)
}

func TestSuggestPurchaseOrdersPredictorFailure(t *testing.T) {
	repo := &fakeRepo{candidates: []reporting.ReorderCandidate{
		{VariationID: 10, ProductID: 100, SKU: "SKU-10", BranchID: 1, Quantity: 2, Threshold: 5},
	}}
	predictor := &fakePredictor{err: errors.New("forecast service down")}
	svc := reporting.NewService(repo, newCache(t), predictor, nil, 7, 1)

	_, err := svc.SuggestPurchaseOrders(context.Background(), 1)
	require.Error(t, err)
}

func TestStockValuationCached(t *testing.T) {
	repo := &fakeRepo{valuation: reporting.Valuation{
		BranchID:   1,
		TotalValue: decimal.RequireFromString("86.00"),
		Lines: []reporting.ValuationLine{
			{VariationID: 10, SKU: "SKU-10", Quantity: 8, Value: decimal.RequireFromString("86.00")},
		},
	}}
	svc := reporting.NewService(repo, newCache(t), &fakePredictor{}, nil, 7, 1)

	first, err := svc.StockValuation(context.Background(), 1)
	require.NoError(t, err)
	second, err := svc.StockValuation(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.valuationCalls)
	assert.True(t, first.TotalValue.Equal(second.TotalValue))
	require.Len(t, second.Lines, 1)
	assert.Equal(t, int64(8), second.Lines[0].Quantity)
}

func TestBranchRequired(t *testing.T) {
	svc := reporting.NewService(&fakeRepo{}, newCache(t), &fakePredictor{}, nil, 7, 1)
	_, err := svc.FindDiscrepancies(context.Background(), 0)
	assert.ErrorIs(t, err, reporting.ErrValidation)
	_, err = svc.SuggestPurchaseOrders(context.Background(), 0)
	assert.ErrorIs(t, err, reporting.ErrValidation)
	_, err = svc.StockValuation(context.Background(), 0)
	assert.ErrorIs(t, err, reporting.ErrValidation)
}
