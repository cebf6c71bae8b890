package procurement_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-pos/meridian-pos/internal/procurement"
	"github.com/meridian-pos/meridian-pos/internal/stock"
	"github.com/meridian-pos/meridian-pos/internal/stock/stocktest"
)

type memoryRepo struct {
	orders map[int64]procurement.PurchaseOrder
	items  map[int64][]procurement.OrderItem
	nextID int64
	stock  *stocktest.Store
}

func newMemoryRepo(store *stocktest.Store) *memoryRepo {
	return &memoryRepo{
		orders: make(map[int64]procurement.PurchaseOrder),
		items:  make(map[int64][]procurement.OrderItem),
		stock:  store,
	}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, procurement.TxRepository) error) error {
	orders := make(map[int64]procurement.PurchaseOrder, len(m.orders))
	for k, v := range m.orders {
		orders[k] = v
	}
	items := make(map[int64][]procurement.OrderItem, len(m.items))
	for k, v := range m.items {
		items[k] = append([]procurement.OrderItem(nil), v...)
	}
	nextID := m.nextID
	snap := m.stock.Snapshot()
	if err := fn(ctx, &memoryTx{repo: m}); err != nil {
		m.orders = orders
		m.items = items
		m.nextID = nextID
		m.stock.Restore(snap)
		return err
	}
	return nil
}

func (m *memoryRepo) GetOrder(ctx context.Context, id int64) (procurement.PurchaseOrder, []procurement.OrderItem, error) {
	po, ok := m.orders[id]
	if !ok {
		return procurement.PurchaseOrder{}, nil, procurement.ErrNotFound
	}
	return po, append([]procurement.OrderItem(nil), m.items[id]...), nil
}

func (m *memoryRepo) ListOrders(ctx context.Context, branchID int64, status procurement.Status, limit int) ([]procurement.PurchaseOrder, error) {
	var out []procurement.PurchaseOrder
	for _, po := range m.orders {
		if po.BranchID != branchID {
			continue
		}
		if status != "" && po.Status != status {
			continue
		}
		out = append(out, po)
	}
	return out, nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) CreateOrder(ctx context.Context, po procurement.PurchaseOrder) (int64, error) {
	t.repo.nextID++
	po.ID = t.repo.nextID
	po.CreatedAt = time.Now()
	t.repo.orders[po.ID] = po
	return po.ID, nil
}

func (t *memoryTx) InsertItem(ctx context.Context, item procurement.OrderItem) error {
	item.ID = int64(len(t.repo.items[item.OrderID]) + 1)
	t.repo.items[item.OrderID] = append(t.repo.items[item.OrderID], item)
	return nil
}

func (t *memoryTx) GetOrderForUpdate(ctx context.Context, id int64) (procurement.PurchaseOrder, error) {
	po, ok := t.repo.orders[id]
	if !ok {
		return procurement.PurchaseOrder{}, procurement.ErrNotFound
	}
	return po, nil
}

func (t *memoryTx) GetOrderItems(ctx context.Context, orderID int64) ([]procurement.OrderItem, error) {
	return append([]procurement.OrderItem(nil), t.repo.items[orderID]...), nil
}

func (t *memoryTx) UpdateOrderStatus(ctx context.Context, id int64, status procurement.Status) error {
	po := t.repo.orders[id]
	po.Status = status
	t.repo.orders[id] = po
	return nil
}

func (t *memoryTx) SetReceived(ctx context.Context, id, userID int64, at time.Time) error {
	po := t.repo.orders[id]
	po.Status = procurement.StatusReceived
	po.ReceivedAt = &at
	po.ReceivedBy = &userID
	t.repo.orders[id] = po
	return nil
}

func (t *memoryTx) Stock() stock.TxRepository {
	return t.repo.stock.Tx()
}

type captureNotifier struct {
	alerts []stock.LowStockAlert
	fail   bool
}

func (n *captureNotifier) LowStock(ctx context.Context, alert stock.LowStockAlert) error {
	if n.fail {
		return errors.New("webhook down")
	}
	n.alerts = append(n.alerts, alert)
	return nil
}

type fixture struct {
	service  *procurement.Service
	repo     *memoryRepo
	store    *stocktest.Store
	notifier *captureNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := stocktest.NewStore()
	notifier := &captureNotifier{}
	stockSvc := stock.NewService(store, notifier, nil, nil, nil)
	repo := newMemoryRepo(store)
	return &fixture{
		service:  procurement.NewService(repo, stockSvc, nil, nil),
		repo:     repo,
		store:    store,
		notifier: notifier,
	}
}

func (f *fixture) createOrdered(t *testing.T, items []procurement.OrderItemInput) procurement.PurchaseOrder {
	t.Helper()
	po, err := f.service.CreateOrder(context.Background(), procurement.CreateOrderInput{
		SupplierID: 7,
		BranchID:   1,
		CreatedBy:  42,
		Items:      items,
	})
	require.NoError(t, err)
	po, err = f.service.MarkOrdered(context.Background(), po.ID, 42)
	require.NoError(t, err)
	return po
}

func price(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func TestReceiveBooksStockAtOrderPrice(t *testing.T) {
	f := newFixture(t)
	po := f.createOrdered(t, []procurement.OrderItemInput{
		{VariationID: 10, Quantity: 5, UnitPrice: price("4.25")},
		{VariationID: 11, Quantity: 2, UnitPrice: price("9.00")},
	})

	got, err := f.service.ReceiveItems(context.Background(), po.ID, []procurement.ReceiptItem{
		{VariationID: 10, Quantity: 5},
		{VariationID: 11, Quantity: 2},
	}, 42)
	require.NoError(t, err)
	assert.Equal(t, procurement.StatusReceived, got.Status)
	require.NotNil(t, got.ReceivedAt)

	rec, err := f.store.GetRecord(context.Background(), 10, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(5), rec.Quantity)

	movements := f.store.MovementsFor(10, 1)
	require.Len(t, movements, 1)
	assert.Equal(t, stock.ReasonReceived, movements[0].Reason)
	assert.True(t, movements[0].UnitCost.Equal(price("4.25")), "cost basis must come from the order line")
	require.NotNil(t, movements[0].QuantityRemaining)
	assert.Equal(t, int64(5), *movements[0].QuantityRemaining)
	assert.Equal(t, po.Number, movements[0].Reference)
}

func TestReceiveFailureRollsBackEveryLine(t *testing.T) {
	f := newFixture(t)
	po := f.createOrdered(t, []procurement.OrderItemInput{
		{VariationID: 10, Quantity: 5, UnitPrice: price("4.25")},
		{VariationID: 11, Quantity: 2, UnitPrice: price("9.00")},
		{VariationID: 12, Quantity: 1, UnitPrice: price("3.10")},
	})

	_, err := f.service.ReceiveItems(context.Background(), po.ID, []procurement.ReceiptItem{
		{VariationID: 10, Quantity: 5},
		{VariationID: 99, Quantity: 2}, // not on the order
		{VariationID: 12, Quantity: 1},
	}, 42)
	require.ErrorIs(t, err, procurement.ErrValidation)

	// First line must not have leaked.
	_, err = f.store.GetRecord(context.Background(), 10, 1)
	assert.ErrorIs(t, err, stock.ErrNotFound)
	assert.Empty(t, f.store.MovementsFor(10, 1))

	got, _, err := f.service.GetOrder(context.Background(), po.ID)
	require.NoError(t, err)
	assert.Equal(t, procurement.StatusOrdered, got.Status)
}

func TestReceiveRequiresOrderedStatus(t *testing.T) {
	f := newFixture(t)
	po, err := f.service.CreateOrder(context.Background(), procurement.CreateOrderInput{
		SupplierID: 7,
		BranchID:   1,
		CreatedBy:  42,
		Items:      []procurement.OrderItemInput{{VariationID: 10, Quantity: 5, UnitPrice: price("4.25")}},
	})
	require.NoError(t, err)

	_, err = f.service.ReceiveItems(context.Background(), po.ID, []procurement.ReceiptItem{{VariationID: 10, Quantity: 5}}, 42)
	assert.ErrorIs(t, err, procurement.ErrInvalidState)
}

func TestReceiveTwiceIsInvalidState(t *testing.T) {
	f := newFixture(t)
	po := f.createOrdered(t, []procurement.OrderItemInput{
		{VariationID: 10, Quantity: 5, UnitPrice: price("4.25")},
	})

	_, err := f.service.ReceiveItems(context.Background(), po.ID, []procurement.ReceiptItem{{VariationID: 10, Quantity: 5}}, 42)
	require.NoError(t, err)
	_, err = f.service.ReceiveItems(context.Background(), po.ID, []procurement.ReceiptItem{{VariationID: 10, Quantity: 5}}, 42)
	assert.ErrorIs(t, err, procurement.ErrInvalidState)
	assert.Equal(t, int64(5), f.store.NetChange(10, 1))
}

func TestShortDeliveryStillReceives(t *testing.T) {
	f := newFixture(t)
	po := f.createOrdered(t, []procurement.OrderItemInput{
		{VariationID: 10, Quantity: 5, UnitPrice: price("4.25")},
	})

	got, err := f.service.ReceiveItems(context.Background(), po.ID, []procurement.ReceiptItem{{VariationID: 10, Quantity: 3}}, 42)
	require.NoError(t, err)
	assert.Equal(t, procurement.StatusReceived, got.Status)
	assert.Equal(t, int64(3), f.store.NetChange(10, 1))
}

func TestReceiveTriggersLowStockCheck(t *testing.T) {
	f := newFixture(t)
	// Threshold above the received quantity keeps the record in alert range.
	f.store.SetRecord(stock.Record{VariationID: 10, BranchID: 1, Quantity: 0, LowStockThreshold: 10})

	po := f.createOrdered(t, []procurement.OrderItemInput{
		{VariationID: 10, Quantity: 5, UnitPrice: price("4.25")},
	})
	_, err := f.service.ReceiveItems(context.Background(), po.ID, []procurement.ReceiptItem{{VariationID: 10, Quantity: 5}}, 42)
	require.NoError(t, err)
	require.Len(t, f.notifier.alerts, 1)
	assert.Equal(t, int64(5), f.notifier.alerts[0].Quantity)
}

func TestCancelReceivedOrderRefused(t *testing.T) {
	f := newFixture(t)
	po := f.createOrdered(t, []procurement.OrderItemInput{
		{VariationID: 10, Quantity: 5, UnitPrice: price("4.25")},
	})
	_, err := f.service.ReceiveItems(context.Background(), po.ID, []procurement.ReceiptItem{{VariationID: 10, Quantity: 5}}, 42)
	require.NoError(t, err)

	_, err = f.service.Cancel(context.Background(), po.ID, 42)
	assert.ErrorIs(t, err, procurement.ErrInvalidState)
}

type countingInvalidator struct {
	calls int
}

func (i *countingInvalidator) InvalidateCache(ctx context.Context) error {
	i.calls++
	return nil
}

func TestReceiveInvalidatesReportCacheOnce(t *testing.T) {
	store := stocktest.NewStore()
	invalidator := &countingInvalidator{}
	stockSvc := stock.NewService(store, nil, nil, invalidator, nil)
	repo := newMemoryRepo(store)
	f := &fixture{
		service: procurement.NewService(repo, stockSvc, nil, nil),
		repo:    repo,
		store:   store,
	}

	po := f.createOrdered(t, []procurement.OrderItemInput{
		{VariationID: 10, Quantity: 5, UnitPrice: price("4.25")},
		{VariationID: 11, Quantity: 3, UnitPrice: price("2.00")},
	})
	_, err := f.service.ReceiveItems(context.Background(), po.ID, []procurement.ReceiptItem{
		{VariationID: 10, Quantity: 5},
		{VariationID: 11, Quantity: 3},
	}, 42)
	require.NoError(t, err)
	require.Equal(t, 1, invalidator.calls, "one bump per committed receipt")
}

func TestOrderNumbersAreUnique(t *testing.T) {
	f := newFixture(t)
	input := procurement.CreateOrderInput{
		SupplierID: 7,
		BranchID:   1,
		CreatedBy:  42,
		Items:      []procurement.OrderItemInput{{VariationID: 10, Quantity: 5, UnitPrice: price("4.25")}},
	}

	first, err := f.service.CreateOrder(context.Background(), input)
	require.NoError(t, err)
	second, err := f.service.CreateOrder(context.Background(), input)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(first.Number, "PO-"))
	assert.NotEqual(t, first.Number, second.Number)
}

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.CreateOrder(context.Background(), procurement.CreateOrderInput{
		SupplierID: 7,
		BranchID:   1,
		CreatedBy:  42,
	})
	assert.ErrorIs(t, err, procurement.ErrValidation)

	_, err = f.service.CreateOrder(context.Background(), procurement.CreateOrderInput{
		SupplierID: 7,
		BranchID:   1,
		CreatedBy:  42,
		Items:      []procurement.OrderItemInput{{VariationID: 10, Quantity: 0, UnitPrice: price("1.00")}},
	})
	assert.ErrorIs(t, err, procurement.ErrValidation)
}
