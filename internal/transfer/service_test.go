package transfer_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-pos/meridian-pos/internal/shared"
	"github.com/meridian-pos/meridian-pos/internal/stock"
	"github.com/meridian-pos/meridian-pos/internal/stock/stocktest"
	"github.com/meridian-pos/meridian-pos/internal/transfer"
)

type memoryRepo struct {
	transfers map[int64]transfer.Transfer
	nextID    int64
	stock     *stocktest.Store
}

func newMemoryRepo(store *stocktest.Store) *memoryRepo {
	return &memoryRepo{transfers: make(map[int64]transfer.Transfer), stock: store}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, transfer.TxRepository) error) error {
	transfers := make(map[int64]transfer.Transfer, len(m.transfers))
	for k, v := range m.transfers {
		transfers[k] = v
	}
	nextID := m.nextID
	snap := m.stock.Snapshot()
	if err := fn(ctx, &memoryTx{repo: m}); err != nil {
		m.transfers = transfers
		m.nextID = nextID
		m.stock.Restore(snap)
		return err
	}
	return nil
}

func (m *memoryRepo) GetTransfer(ctx context.Context, id int64) (transfer.Transfer, error) {
	tr, ok := m.transfers[id]
	if !ok {
		return transfer.Transfer{}, transfer.ErrNotFound
	}
	return tr, nil
}

func (m *memoryRepo) ListTransfers(ctx context.Context, filter transfer.ListFilter) ([]transfer.Transfer, error) {
	var out []transfer.Transfer
	for _, tr := range m.transfers {
		if tr.FromBranchID != filter.BranchID && tr.ToBranchID != filter.BranchID {
			continue
		}
		if filter.Status != "" && tr.Status != filter.Status {
			continue
		}
		out = append(out, tr)
	}
	return out, nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) CreateTransfer(ctx context.Context, tr transfer.Transfer) (int64, error) {
	t.repo.nextID++
	tr.ID = t.repo.nextID
	tr.CreatedAt = time.Now()
	t.repo.transfers[tr.ID] = tr
	return tr.ID, nil
}

func (t *memoryTx) GetTransferForUpdate(ctx context.Context, id int64) (transfer.Transfer, error) {
	tr, ok := t.repo.transfers[id]
	if !ok {
		return transfer.Transfer{}, transfer.ErrNotFound
	}
	return tr, nil
}

func (t *memoryTx) Resolve(ctx context.Context, id int64, status transfer.Status, actorID int64, at time.Time) error {
	tr := t.repo.transfers[id]
	tr.Status = status
	tr.ResolvedBy = &actorID
	tr.ResolvedAt = &at
	t.repo.transfers[id] = tr
	return nil
}

func (t *memoryTx) Stock() stock.TxRepository {
	return t.repo.stock.Tx()
}

type fixture struct {
	service *transfer.Service
	store   *stocktest.Store
	stock   *stock.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := stocktest.NewStore()
	stockSvc := stock.NewService(store, nil, nil, nil, nil)
	return &fixture{
		service: transfer.NewService(newMemoryRepo(store), stockSvc, nil),
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

func TestApproveConservesValueAcrossBranches(t *testing.T) {
	f := newFixture(t)
	f.receive(t, 10, 1, 5, "10.00")
	f.receive(t, 10, 1, 5, "12.00")

	tr, err := f.service.Request(context.Background(), transfer.RequestInput{
		VariationID:  10,
		Quantity:     8,
		FromBranchID: 1,
		ToBranchID:   2,
		RequestedBy:  42,
	})
	require.NoError(t, err)
	require.Equal(t, transfer.StatusPending, tr.Status)

	tr, err = f.service.Approve(context.Background(), tr.ID, 99)
	require.NoError(t, err)
	assert.Equal(t, transfer.StatusCompleted, tr.Status)

	src, err := f.store.GetRecord(context.Background(), 10, 1)
	require.NoError(t, err)
	dst, err := f.store.GetRecord(context.Background(), 10, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), src.Quantity)
	assert.Equal(t, int64(8), dst.Quantity)

	// Debit consumed 5@10 + 3@12 = 86; the credit layer carries 86/8 per unit.
	dstMoves := f.store.MovementsFor(10, 2)
	require.Len(t, dstMoves, 1)
	assert.Equal(t, stock.ReasonTransferIn, dstMoves[0].Reason)
	total := dstMoves[0].UnitCost.Mul(decimal.NewFromInt(8))
	assert.True(t, total.Equal(price("86.00")), "got %s", total)
	require.NotNil(t, dstMoves[0].QuantityRemaining)
	assert.Equal(t, int64(8), *dstMoves[0].QuantityRemaining)

	srcMoves := f.store.MovementsFor(10, 1)
	require.Len(t, srcMoves, 3)
	assert.Equal(t, stock.ReasonTransferOut, srcMoves[2].Reason)
	assert.Equal(t, int64(-8), srcMoves[2].QuantityChange)
}

func TestApproveInsufficientLeavesTransferPending(t *testing.T) {
	f := newFixture(t)
	f.receive(t, 10, 1, 10, "10.00")

	tr, err := f.service.Request(context.Background(), transfer.RequestInput{
		VariationID:  10,
		Quantity:     8,
		FromBranchID: 1,
		ToBranchID:   2,
		RequestedBy:  42,
	})
	require.NoError(t, err)

	// Stock drains between request and approval.
	_, err = f.stock.Dispatch(context.Background(), 10, 1, 7, nil)
	require.NoError(t, err)

	_, err = f.service.Approve(context.Background(), tr.ID, 99)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	got, err := f.service.Get(context.Background(), tr.ID)
	require.NoError(t, err)
	assert.Equal(t, transfer.StatusPending, got.Status)

	// Neither branch moved.
	src, err := f.store.GetRecord(context.Background(), 10, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), src.Quantity)
	_, err = f.store.GetRecord(context.Background(), 10, 2)
	assert.ErrorIs(t, err, stock.ErrNotFound)
}

func TestApproveTwiceIsInvalidState(t *testing.T) {
	f := newFixture(t)
	f.receive(t, 10, 1, 10, "10.00")

	tr, err := f.service.Request(context.Background(), transfer.RequestInput{
		VariationID: 10, Quantity: 4, FromBranchID: 1, ToBranchID: 2, RequestedBy: 42,
	})
	require.NoError(t, err)
	_, err = f.service.Approve(context.Background(), tr.ID, 99)
	require.NoError(t, err)

	_, err = f.service.Approve(context.Background(), tr.ID, 99)
	assert.ErrorIs(t, err, transfer.ErrInvalidState)
	assert.Equal(t, int64(6), f.store.NetChange(10, 1))
	assert.Equal(t, int64(4), f.store.NetChange(10, 2))
}

func TestRejectHasNoLedgerEffect(t *testing.T) {
	f := newFixture(t)
	f.receive(t, 10, 1, 10, "10.00")

	tr, err := f.service.Request(context.Background(), transfer.RequestInput{
		VariationID: 10, Quantity: 4, FromBranchID: 1, ToBranchID: 2, RequestedBy: 42,
	})
	require.NoError(t, err)

	got, err := f.service.Reject(context.Background(), tr.ID, 99)
	require.NoError(t, err)
	assert.Equal(t, transfer.StatusRejected, got.Status)
	assert.Equal(t, int64(10), f.store.NetChange(10, 1))
	assert.Empty(t, f.store.MovementsFor(10, 2))

	_, err = f.service.Approve(context.Background(), tr.ID, 99)
	assert.ErrorIs(t, err, transfer.ErrInvalidState)
}

func TestRequestValidation(t *testing.T) {
	f := newFixture(t)
	f.receive(t, 10, 1, 5, "10.00")

	_, err := f.service.Request(context.Background(), transfer.RequestInput{
		VariationID: 10, Quantity: 0, FromBranchID: 1, ToBranchID: 2, RequestedBy: 42,
	})
	assert.ErrorIs(t, err, transfer.ErrValidation)

	_, err = f.service.Request(context.Background(), transfer.RequestInput{
		VariationID: 10, Quantity: 1, FromBranchID: 1, ToBranchID: 1, RequestedBy: 42,
	})
	assert.ErrorIs(t, err, transfer.ErrValidation)

	// Not stocked at source.
	_, err = f.service.Request(context.Background(), transfer.RequestInput{
		VariationID: 99, Quantity: 1, FromBranchID: 1, ToBranchID: 2, RequestedBy: 42,
	})
	assert.ErrorIs(t, err, transfer.ErrValidation)
}

func TestTransferNumbersAreUnique(t *testing.T) {
	f := newFixture(t)
	f.receive(t, 10, 1, 10, "10.00")

	input := transfer.RequestInput{
		VariationID: 10, Quantity: 2, FromBranchID: 1, ToBranchID: 2, RequestedBy: 42,
	}
	first, err := f.service.Request(context.Background(), input)
	require.NoError(t, err)
	second, err := f.service.Request(context.Background(), input)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(first.Number, "TR-"))
	assert.NotEqual(t, first.Number, second.Number)
}

func TestRequestExceedingStockStillPends(t *testing.T) {
	f := newFixture(t)
	f.receive(t, 7, 1, 15, "10.00")

	// Availability is not binding at request time; stock may arrive before
	// the approver acts.
	tr, err := f.service.Request(context.Background(), transfer.RequestInput{
		VariationID: 7, Quantity: 20, FromBranchID: 1, ToBranchID: 2, RequestedBy: 42,
	})
	require.NoError(t, err)
	assert.Equal(t, transfer.StatusPending, tr.Status)

	// Approval is where the shortfall bites.
	_, err = f.service.Approve(context.Background(), tr.ID, 99)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	got, err := f.service.Get(context.Background(), tr.ID)
	require.NoError(t, err)
	assert.Equal(t, transfer.StatusPending, got.Status)
	assert.Equal(t, int64(15), f.store.NetChange(7, 1))
}
