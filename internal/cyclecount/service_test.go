package cyclecount_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-pos/meridian-pos/internal/cyclecount"
	"github.com/meridian-pos/meridian-pos/internal/stock"
	"github.com/meridian-pos/meridian-pos/internal/stock/stocktest"
)

type memoryRepo struct {
	counts map[int64]cyclecount.CycleCount
	items  map[int64][]cyclecount.CycleCountItem
	nextID int64
	itemID int64
	stock  *stocktest.Store
}

func newMemoryRepo(store *stocktest.Store) *memoryRepo {
	return &memoryRepo{
		counts: make(map[int64]cyclecount.CycleCount),
		items:  make(map[int64][]cyclecount.CycleCountItem),
		stock:  store,
	}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, cyclecount.TxRepository) error) error {
	counts := make(map[int64]cyclecount.CycleCount, len(m.counts))
	for k, v := range m.counts {
		counts[k] = v
	}
	items := make(map[int64][]cyclecount.CycleCountItem, len(m.items))
	for k, v := range m.items {
		items[k] = append([]cyclecount.CycleCountItem(nil), v...)
	}
	nextID, itemID := m.nextID, m.itemID
	snap := m.stock.Snapshot()
	if err := fn(ctx, &memoryTx{repo: m}); err != nil {
		m.counts = counts
		m.items = items
		m.nextID, m.itemID = nextID, itemID
		m.stock.Restore(snap)
		return err
	}
	return nil
}

func (m *memoryRepo) GetCount(ctx context.Context, id int64) (cyclecount.CycleCount, []cyclecount.CycleCountItem, error) {
	cc, ok := m.counts[id]
	if !ok {
		return cyclecount.CycleCount{}, nil, cyclecount.ErrNotFound
	}
	return cc, append([]cyclecount.CycleCountItem(nil), m.items[id]...), nil
}

func (m *memoryRepo) ListCounts(ctx context.Context, branchID int64, limit int) ([]cyclecount.CycleCount, error) {
	var out []cyclecount.CycleCount
	for _, cc := range m.counts {
		if cc.BranchID == branchID {
			out = append(out, cc)
		}
	}
	return out, nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) CreateCount(ctx context.Context, cc cyclecount.CycleCount) (int64, error) {
	t.repo.nextID++
	cc.ID = t.repo.nextID
	cc.CreatedAt = time.Now()
	t.repo.counts[cc.ID] = cc
	return cc.ID, nil
}

func (t *memoryTx) GetCountForUpdate(ctx context.Context, id int64) (cyclecount.CycleCount, error) {
	cc, ok := t.repo.counts[id]
	if !ok {
		return cyclecount.CycleCount{}, cyclecount.ErrNotFound
	}
	return cc, nil
}

func (t *memoryTx) GetItems(ctx context.Context, countID int64) ([]cyclecount.CycleCountItem, error) {
	return append([]cyclecount.CycleCountItem(nil), t.repo.items[countID]...), nil
}

func (t *memoryTx) InsertItem(ctx context.Context, item cyclecount.CycleCountItem) (int64, error) {
	t.repo.itemID++
	item.ID = t.repo.itemID
	t.repo.items[item.CycleCountID] = append(t.repo.items[item.CycleCountID], item)
	return item.ID, nil
}

func (t *memoryTx) DeleteItems(ctx context.Context, countID int64) error {
	delete(t.repo.items, countID)
	return nil
}

func (t *memoryTx) UpdateStatus(ctx context.Context, id int64, status cyclecount.Status) error {
	cc := t.repo.counts[id]
	cc.Status = status
	t.repo.counts[id] = cc
	return nil
}

func (t *memoryTx) SetCompleted(ctx context.Context, id int64, at time.Time) error {
	cc := t.repo.counts[id]
	cc.Status = cyclecount.StatusCompleted
	cc.CompletedAt = &at
	t.repo.counts[id] = cc
	return nil
}

func (t *memoryTx) Stock() stock.TxRepository {
	return t.repo.stock.Tx()
}

type fixture struct {
	service *cyclecount.Service
	store   *stocktest.Store
	stock   *stock.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := stocktest.NewStore()
	stockSvc := stock.NewService(store, nil, nil, nil, nil)
	return &fixture{
		service: cyclecount.NewService(newMemoryRepo(store), stockSvc, nil),
		store:   store,
		stock:   stockSvc,
	}
}

func price(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func (f *fixture) receive(t *testing.T, variationID, branchID, qty int64, cost string) {
	t.Helper()
	_, err := f.stock.Receive(context.Background(), variationID, branchID, qty, price(cost), nil)
	require.NoError(t, err)
}

func TestCreateSnapshotsSystemQuantities(t *testing.T) {
	f := newFixture(t)
	f.receive(t, 10, 1, 7, "5.00")

	cc, items, err := f.service.Create(context.Background(), 1, 42, []cyclecount.ItemInput{
		{VariationID: 10, CountedQuantity: 5},
		{VariationID: 11, CountedQuantity: 2}, // never stocked
	})
	require.NoError(t, err)
	assert.Equal(t, cyclecount.StatusPending, cc.Status)
	require.Len(t, items, 2)
	assert.Equal(t, int64(7), items[0].SystemQuantity)
	assert.Equal(t, int64(-2), items[0].Discrepancy)
	assert.Equal(t, int64(0), items[1].SystemQuantity)
	assert.Equal(t, int64(2), items[1].Discrepancy)
}

func TestCompleteReconcilesDiscrepancies(t *testing.T) {
	f := newFixture(t)
	f.receive(t, 10, 1, 7, "5.00")
	f.receive(t, 11, 1, 3, "2.00")
	f.receive(t, 12, 1, 4, "1.00")

	cc, _, err := f.service.Create(context.Background(), 1, 42, []cyclecount.ItemInput{
		{VariationID: 10, CountedQuantity: 5}, // shrinkage of 2
		{VariationID: 11, CountedQuantity: 3}, // exact, no movement
		{VariationID: 12, CountedQuantity: 6}, // surplus of 2
	})
	require.NoError(t, err)

	cc, err = f.service.Complete(context.Background(), cc.ID, 42)
	require.NoError(t, err)
	assert.Equal(t, cyclecount.StatusCompleted, cc.Status)
	require.NotNil(t, cc.CompletedAt)

	assert.Equal(t, int64(5), f.store.NetChange(10, 1))
	assert.Equal(t, int64(3), f.store.NetChange(11, 1))
	assert.Equal(t, int64(6), f.store.NetChange(12, 1))

	// Zero discrepancy writes no movement.
	assert.Len(t, f.store.MovementsFor(11, 1), 1)

	shrink := f.store.MovementsFor(10, 1)
	require.Len(t, shrink, 2)
	assert.Equal(t, stock.ReasonCountAdjustment, shrink[1].Reason)
	assert.Equal(t, int64(-2), shrink[1].QuantityChange)

	// Surplus enters as a zero-cost layer.
	surplus := f.store.MovementsFor(12, 1)
	require.Len(t, surplus, 2)
	assert.Equal(t, int64(2), surplus[1].QuantityChange)
	assert.True(t, surplus[1].UnitCost.IsZero())
	require.NotNil(t, surplus[1].QuantityRemaining)
	assert.Equal(t, int64(2), *surplus[1].QuantityRemaining)
}

func TestCompleteTwiceIsInvalidState(t *testing.T) {
	f := newFixture(t)
	f.receive(t, 10, 1, 7, "5.00")
	cc, _, err := f.service.Create(context.Background(), 1, 42, []cyclecount.ItemInput{
		{VariationID: 10, CountedQuantity: 5},
	})
	require.NoError(t, err)

	_, err = f.service.Complete(context.Background(), cc.ID, 42)
	require.NoError(t, err)
	_, err = f.service.Complete(context.Background(), cc.ID, 42)
	assert.ErrorIs(t, err, cyclecount.ErrInvalidState)
	assert.Equal(t, int64(5), f.store.NetChange(10, 1))
}

func TestCompleteFailureRollsBackAllAdjustments(t *testing.T) {
	f := newFixture(t)
	f.receive(t, 10, 1, 7, "5.00")
	// Record exists but its layers are gone: consuming any quantity is fatal.
	f.store.SetRecord(stock.Record{VariationID: 11, BranchID: 1, Quantity: 5})

	cc, _, err := f.service.Create(context.Background(), 1, 42, []cyclecount.ItemInput{
		{VariationID: 10, CountedQuantity: 5},
		{VariationID: 11, CountedQuantity: 1},
	})
	require.NoError(t, err)

	_, err = f.service.Complete(context.Background(), cc.ID, 42)
	require.ErrorIs(t, err, stock.ErrLedgerCorrupted)

	// The first line's shrinkage rolled back with the rest.
	assert.Equal(t, int64(7), f.store.NetChange(10, 1))
	got, _, err := f.service.Get(context.Background(), cc.ID)
	require.NoError(t, err)
	assert.Equal(t, cyclecount.StatusPending, got.Status)
}

func TestReplaceItemsRecomputesSnapshot(t *testing.T) {
	f := newFixture(t)
	f.receive(t, 10, 1, 7, "5.00")

	cc, _, err := f.service.Create(context.Background(), 1, 42, []cyclecount.ItemInput{
		{VariationID: 10, CountedQuantity: 5},
	})
	require.NoError(t, err)

	// More stock arrives before the recount is finalised.
	f.receive(t, 10, 1, 3, "5.00")

	items, err := f.service.ReplaceItems(context.Background(), cc.ID, []cyclecount.ItemInput{
		{VariationID: 10, CountedQuantity: 9},
	}, 42)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(10), items[0].SystemQuantity)
	assert.Equal(t, int64(-1), items[0].Discrepancy)
}

func TestCancelBlocksCompletion(t *testing.T) {
	f := newFixture(t)
	f.receive(t, 10, 1, 7, "5.00")
	cc, _, err := f.service.Create(context.Background(), 1, 42, []cyclecount.ItemInput{
		{VariationID: 10, CountedQuantity: 5},
	})
	require.NoError(t, err)

	cc, err = f.service.Start(context.Background(), cc.ID, 42)
	require.NoError(t, err)
	assert.Equal(t, cyclecount.StatusInProgress, cc.Status)

	cc, err = f.service.Cancel(context.Background(), cc.ID, 42)
	require.NoError(t, err)
	assert.Equal(t, cyclecount.StatusCancelled, cc.Status)

	_, err = f.service.Complete(context.Background(), cc.ID, 42)
	assert.ErrorIs(t, err, cyclecount.ErrInvalidState)
	assert.Equal(t, int64(7), f.store.NetChange(10, 1))
}

func TestCreateRejectsDuplicateVariations(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.service.Create(context.Background(), 1, 42, []cyclecount.ItemInput{
		{VariationID: 10, CountedQuantity: 1},
		{VariationID: 10, CountedQuantity: 2},
	})
	assert.ErrorIs(t, err, cyclecount.ErrValidation)
}
