package order

import (
	"context"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/secondhand-orders/internal/domain/product"
	"github.com/xenking/secondhand-orders/internal/domain/stock"
	"github.com/xenking/secondhand-orders/internal/events"
)

// --- Mock implementations ---

type mockProductRepo struct {
	byID   map[string]*product.Product
	getErr error
}

func (m *mockProductRepo) FindByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return p, nil
}

func (m *mockProductRepo) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *mockProductRepo) IncrementSold(_ context.Context, id string, delta int64) (*product.Product, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	p.SoldQuantity += delta
	return p, nil
}

type mockStock struct {
	calls [][]stock.Line
	// failIdx lists worker line indexes that fail.
	failIdx map[int]bool
	err     error
}

func (m *mockStock) ApplySoldQuantities(_ context.Context, lines []stock.Line) error {
	m.calls = append(m.calls, lines)
	if m.err != nil {
		return m.err
	}
	if len(m.failIdx) == 0 {
		return nil
	}
	perr := &stock.PartialFailureError{}
	for i, l := range lines {
		if m.failIdx[i] {
			perr.Failures = append(perr.Failures, stock.LineFailure{Index: i, ProductID: l.ProductID, Err: product.ErrNotFound})
			continue
		}
		perr.Applied = append(perr.Applied, i)
	}
	return perr
}

type mockIssuer struct {
	codes    []string
	observed []string
	err      error
}

func (m *mockIssuer) Next() (string, error) {
	if m.err != nil {
		return "", m.err
	}
	if len(m.codes) == 0 {
		return "", errors.New("no codes left")
	}
	c := m.codes[0]
	m.codes = m.codes[1:]
	return c, nil
}

func (m *mockIssuer) Observe(code string) {
	m.observed = append(m.observed, code)
}

type mockPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (m *mockPublisher) Publish(_ context.Context, ev events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return m.err
}

func (m *mockPublisher) types() []events.Type {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]events.Type, len(m.events))
	for i, ev := range m.events {
		out[i] = ev.Type
	}
	return out
}

// memOrderRepo is an in-memory Repository honouring the same contracts as the
// PostgreSQL implementation.
type memOrderRepo struct {
	mu        sync.Mutex
	byID      map[string]*Order
	usedCodes map[string]bool

	insertErr     error
	setTotalErr   error
	paymentWrites int
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{byID: map[string]*Order{}, usedCodes: map[string]bool{}}
}

func clone(o *Order) *Order {
	cp := *o
	cp.LineItems = append([]LineItem(nil), o.LineItems...)
	return &cp
}

func (m *memOrderRepo) Insert(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	if m.usedCodes[o.OrderCode] {
		return ErrDuplicateOrderCode
	}
	m.usedCodes[o.OrderCode] = true
	m.byID[o.ID] = clone(o)
	return nil
}

func (m *memOrderRepo) get(id string) (*Order, error) {
	o, ok := m.byID[id]
	if !ok || o.IsDeleted {
		return nil, ErrNotFound
	}
	return o, nil
}

func (m *memOrderRepo) FindByID(_ context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, err := m.get(id)
	if err != nil {
		return nil, err
	}
	return clone(o), nil
}

func (m *memOrderRepo) FindByOrderCode(_ context.Context, code string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.byID {
		if o.OrderCode == code && !o.IsDeleted {
			return clone(o), nil
		}
	}
	return nil, ErrNotFound
}

func (m *memOrderRepo) SetTotal(_ context.Context, id string, total int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setTotalErr != nil {
		return m.setTotalErr
	}
	o, err := m.get(id)
	if err != nil {
		return err
	}
	o.TotalPrice = total
	o.TotalComputed = true
	return nil
}

func (m *memOrderRepo) MarkStockCommitted(_ context.Context, id string, positions []int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, err := m.get(id)
	if err != nil {
		return false, err
	}
	for _, p := range positions {
		o.LineItems[p].StockCommitted = true
	}
	all := true
	for _, li := range o.LineItems {
		all = all && li.StockCommitted
	}
	o.StockCommitted = all
	return all, nil
}

func (m *memOrderRepo) UpdateState(_ context.Context, id string, state State) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, err := m.get(id)
	if err != nil {
		return nil, err
	}
	o.State = state
	return clone(o), nil
}

func (m *memOrderRepo) SetPaymentState(_ context.Context, code string, paid bool) (*Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.byID {
		if o.OrderCode != code || o.IsDeleted {
			continue
		}
		if o.PaymentState == paid {
			return clone(o), false, nil
		}
		o.PaymentState = paid
		m.paymentWrites++
		return clone(o), true, nil
	}
	return nil, false, ErrNotFound
}

func (m *memOrderRepo) SoftDelete(_ context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, err := m.get(id)
	if err != nil {
		return nil, err
	}
	o.IsDeleted = true
	return clone(o), nil
}

func (m *memOrderRepo) ListEnriched(_ context.Context, f Filter) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.byID {
		if o.IsDeleted || (f.ID != "" && o.ID != f.ID) || (f.BuyerID != "" && o.BuyerID != f.BuyerID) {
			continue
		}
		out = append(out, *clone(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memOrderRepo) ListIncomplete(_ context.Context, before time.Time, limit int) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.byID {
		if !o.IsDeleted && o.Incomplete() && o.CreatedAt.Before(before) && len(out) < limit {
			out = append(out, *clone(o))
		}
	}
	return out, nil
}

func (m *memOrderRepo) EachOrderCode(_ context.Context, fn func(string)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.byID {
		if !o.IsDeleted {
			fn(o.OrderCode)
		}
	}
	return nil
}

func (m *memOrderRepo) Summarize(context.Context) ([]StateSummary, error) {
	return nil, nil
}

// --- Helpers ---

type fixture struct {
	svc       *Service
	orders    *memOrderRepo
	products  *mockProductRepo
	stock     *mockStock
	codes     *mockIssuer
	publisher *mockPublisher
}

func newFixture(t *testing.T, opts Options, productIDs ...string) *fixture {
	t.Helper()

	products := &mockProductRepo{byID: map[string]*product.Product{}}
	for _, id := range productIDs {
		products.byID[id] = &product.Product{ID: id, Price: 1000, Quantity: 10}
	}
	f := &fixture{
		orders:    newMemOrderRepo(),
		products:  products,
		stock:     &mockStock{},
		codes:     &mockIssuer{codes: []string{"1000000001", "1000000002", "1000000003", "1000000004", "1000000005", "1000000006"}},
		publisher: &mockPublisher{},
	}
	svc, err := NewService(f.orders, f.products, f.stock, f.codes, f.publisher, opts)
	require.NoError(t, err)
	svc.now = func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) }
	f.svc = svc
	return f
}

func validRequest() CreateOrderRequest {
	return CreateOrderRequest{
		Items: []LineItem{
			{ProductID: "P1", UnitPrice: 1000, Quantity: 2},
			{ProductID: "P2", UnitPrice: 500, Quantity: 1},
		},
		PaymentMethod:    PaymentBankTransfer,
		ReceivingAddress: "123 Main St",
		ReceivingPhone:   "0987654321",
		BuyerID:          "buyer-1",
	}
}

// --- Tests ---

func TestCreateOrder(t *testing.T) {
	f := newFixture(t, Options{}, "P1", "P2")

	o, err := f.svc.CreateOrder(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, int64(2500), o.TotalPrice)
	assert.Equal(t, StateOrdered, o.State)
	assert.False(t, o.PaymentState)
	assert.False(t, o.IsDeleted)
	assert.Equal(t, "1000000001", o.OrderCode)
	assert.True(t, o.TotalComputed)
	assert.True(t, o.StockCommitted)

	stored, err := f.orders.FindByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), stored.TotalPrice)
	assert.True(t, stored.StockCommitted)

	require.Len(t, f.stock.calls, 1)
	assert.Equal(t, []stock.Line{{ProductID: "P1", Quantity: 2}, {ProductID: "P2", Quantity: 1}}, f.stock.calls[0])
	assert.Equal(t, []events.Type{events.OrderCreated}, f.publisher.types())
}

func TestCreateOrder_DefaultsToCash(t *testing.T) {
	f := newFixture(t, Options{}, "P1", "P2")
	req := validRequest()
	req.PaymentMethod = ""

	o, err := f.svc.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, PaymentCash, o.PaymentMethod)
}

func TestCreateOrder_TotalAtInt64Limit(t *testing.T) {
	f := newFixture(t, Options{}, "P1", "P2")
	req := validRequest()
	req.Items[0].UnitPrice = math.MaxInt64 - 500
	req.Items[0].Quantity = 1

	o, err := f.svc.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), o.TotalPrice)
}

func TestCreateOrder_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *CreateOrderRequest)
		wantErr error
	}{
		{
			name:    "empty items",
			mutate:  func(r *CreateOrderRequest) { r.Items = nil },
			wantErr: ErrEmptyItems,
		},
		{
			name:    "unknown payment method",
			mutate:  func(r *CreateOrderRequest) { r.PaymentMethod = "CRYPTO" },
			wantErr: ErrUnknownPaymentMethod,
		},
		{
			name:   "zero quantity",
			mutate: func(r *CreateOrderRequest) { r.Items[0].Quantity = 0 },
		},
		{
			name:   "negative price",
			mutate: func(r *CreateOrderRequest) { r.Items[1].UnitPrice = -1 },
		},
		{
			name:   "missing product id",
			mutate: func(r *CreateOrderRequest) { r.Items[0].ProductID = "" },
		},
		{
			name:   "missing address",
			mutate: func(r *CreateOrderRequest) { r.ReceivingAddress = "" },
		},
		{
			name:   "missing phone",
			mutate: func(r *CreateOrderRequest) { r.ReceivingPhone = "" },
		},
		{
			name:   "initial state past ORDERED",
			mutate: func(r *CreateOrderRequest) { r.State = StateDelivered },
		},
		{
			name: "line subtotal overflows",
			mutate: func(r *CreateOrderRequest) {
				r.Items[0].UnitPrice = math.MaxInt64/2 + 1
				r.Items[0].Quantity = 2
			},
		},
		{
			name: "order total overflows",
			mutate: func(r *CreateOrderRequest) {
				r.Items[0].UnitPrice = math.MaxInt64 - 100
				r.Items[0].Quantity = 1
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Options{}, "P1", "P2")
			req := validRequest()
			tt.mutate(&req)

			o, err := f.svc.CreateOrder(context.Background(), req)
			require.Error(t, err)
			assert.Nil(t, o)
			assert.True(t, IsValidation(err), "expected validation error, got %v", err)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			}

			// Rejected before any side effect.
			assert.Empty(t, f.orders.byID)
			assert.Empty(t, f.stock.calls)
			assert.Empty(t, f.publisher.types())
		})
	}
}

func TestCreateOrder_ProductNotFound(t *testing.T) {
	f := newFixture(t, Options{}, "P1")

	_, err := f.svc.CreateOrder(context.Background(), validRequest())
	require.Error(t, err)

	var pnf *ProductNotFoundError
	require.ErrorAs(t, err, &pnf)
	assert.Equal(t, "P2", pnf.ProductID)
	assert.ErrorIs(t, err, product.ErrNotFound)
	assert.Empty(t, f.orders.byID)
}

func TestCreateOrder_DeletedProduct(t *testing.T) {
	f := newFixture(t, Options{}, "P1", "P2")
	f.products.byID["P2"].IsDeleted = true

	_, err := f.svc.CreateOrder(context.Background(), validRequest())
	var pnf *ProductNotFoundError
	require.ErrorAs(t, err, &pnf)
}

func TestCreateOrder_ProductLookupError(t *testing.T) {
	f := newFixture(t, Options{}, "P1", "P2")
	f.products.getErr = errors.New("db down")

	_, err := f.svc.CreateOrder(context.Background(), validRequest())
	require.Error(t, err)
	assert.False(t, IsValidation(err))
}

func TestCreateOrder_RetriesOnCodeCollision(t *testing.T) {
	f := newFixture(t, Options{}, "P1", "P2")
	f.orders.usedCodes["1000000001"] = true
	f.orders.usedCodes["1000000002"] = true

	o, err := f.svc.CreateOrder(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, "1000000003", o.OrderCode)
	assert.Equal(t, []string{"1000000001", "1000000002"}, f.codes.observed)
}

func TestCreateOrder_BackToBackNeverCollide(t *testing.T) {
	f := newFixture(t, Options{}, "P1", "P2")
	// Every order is offered the same first code.
	f.codes.codes = []string{"5555555555", "5555555555", "6666666666"}

	first, err := f.svc.CreateOrder(context.Background(), validRequest())
	require.NoError(t, err)
	second, err := f.svc.CreateOrder(context.Background(), validRequest())
	require.NoError(t, err)

	assert.NotEqual(t, first.OrderCode, second.OrderCode)
	assert.Equal(t, "6666666666", second.OrderCode)
}

func TestCreateOrder_CodeAttemptsExhausted(t *testing.T) {
	f := newFixture(t, Options{CodeAttempts: 2}, "P1", "P2")
	f.orders.usedCodes["1000000001"] = true
	f.orders.usedCodes["1000000002"] = true

	_, err := f.svc.CreateOrder(context.Background(), validRequest())
	require.ErrorIs(t, err, ErrOrderCodeExhausted)
	assert.Empty(t, f.stock.calls)
}

func TestCreateOrder_InsertError(t *testing.T) {
	f := newFixture(t, Options{}, "P1", "P2")
	f.orders.insertErr = errors.New("connection refused")

	_, err := f.svc.CreateOrder(context.Background(), validRequest())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicateOrderCode)
	assert.Empty(t, f.codes.observed)
}

func TestCreateOrder_PartialStockFailure(t *testing.T) {
	f := newFixture(t, Options{}, "P1", "P2")
	f.stock.failIdx = map[int]bool{1: true}

	o, err := f.svc.CreateOrder(context.Background(), validRequest())
	require.Error(t, err)
	require.NotNil(t, o, "order must survive a reconciliation failure")

	var perr *stock.PartialFailureError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 1, perr.Failures[0].Index)
	assert.Equal(t, []int{0}, perr.Applied)

	stored, err := f.orders.FindByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, StateOrdered, stored.State)
	assert.Equal(t, int64(2500), stored.TotalPrice)
	assert.True(t, stored.LineItems[0].StockCommitted)
	assert.False(t, stored.LineItems[1].StockCommitted)
	assert.False(t, stored.StockCommitted)
	assert.Equal(t, []events.Type{events.OrderCreated}, f.publisher.types())
}

func TestCreateOrder_TotalStepFailure(t *testing.T) {
	f := newFixture(t, Options{}, "P1", "P2")
	f.orders.setTotalErr = errors.New("timeout")

	_, err := f.svc.CreateOrder(context.Background(), validRequest())
	require.Error(t, err)

	// The order stays persisted with total 0 and no marker: detectable.
	require.Len(t, f.orders.byID, 1)
	for _, o := range f.orders.byID {
		assert.Equal(t, int64(0), o.TotalPrice)
		assert.False(t, o.TotalComputed)
	}
	assert.Empty(t, f.stock.calls)
}

func TestCreateOrder_PublishFailureIgnored(t *testing.T) {
	f := newFixture(t, Options{}, "P1", "P2")
	f.publisher.err = errors.New("broker down")

	o, err := f.svc.CreateOrder(context.Background(), validRequest())
	require.NoError(t, err)
	assert.NotNil(t, o)
}

func TestResumeOrder_SkipsCompletedSteps(t *testing.T) {
	f := newFixture(t, Options{}, "P1", "P2")
	f.stock.failIdx = map[int]bool{1: true}

	o, err := f.svc.CreateOrder(context.Background(), validRequest())
	require.Error(t, err)

	f.stock.failIdx = nil
	resumed, err := f.svc.ResumeOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.True(t, resumed.StockCommitted)

	// Only the failed line is retried.
	require.Len(t, f.stock.calls, 2)
	assert.Equal(t, []stock.Line{{ProductID: "P2", Quantity: 1}}, f.stock.calls[1])

	// A complete order is left alone.
	_, err = f.svc.ResumeOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Len(t, f.stock.calls, 2)
}

func TestResumePending(t *testing.T) {
	f := newFixture(t, Options{}, "P1", "P2")
	f.orders.setTotalErr = errors.New("timeout")

	_, err := f.svc.CreateOrder(context.Background(), validRequest())
	require.Error(t, err)

	f.orders.setTotalErr = nil
	f.svc.now = func() time.Time { return time.Date(2026, 5, 1, 13, 0, 0, 0, time.UTC) }

	report, err := f.svc.ResumePending(context.Background(), 10*time.Minute, 100)
	require.NoError(t, err)
	assert.Equal(t, ResumeReport{Scanned: 1, Resumed: 1}, report)

	for _, o := range f.orders.byID {
		assert.Equal(t, int64(2500), o.TotalPrice)
		assert.True(t, o.TotalComputed)
		assert.True(t, o.StockCommitted)
	}
}

func TestGetOrderByID(t *testing.T) {
	f := newFixture(t, Options{}, "P1", "P2")
	created, err := f.svc.CreateOrder(context.Background(), validRequest())
	require.NoError(t, err)

	got, err := f.svc.GetOrderByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, int64(2500), got.TotalPrice)

	t.Run("malformed id", func(t *testing.T) {
		_, err := f.svc.GetOrderByID(context.Background(), "not-a-uuid")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := f.svc.GetOrderByID(context.Background(), "6f1c1f9e-0d7b-4d7e-9a8e-3f0c6c7d2a11")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("deleted", func(t *testing.T) {
		require.NoError(t, f.svc.DeleteOrder(context.Background(), created.ID))
		_, err := f.svc.GetOrderByID(context.Background(), created.ID)
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestGetOrderByID_RederivesTotal(t *testing.T) {
	f := newFixture(t, Options{}, "P1", "P2")
	created, err := f.svc.CreateOrder(context.Background(), validRequest())
	require.NoError(t, err)

	// A stale stored total is not trusted on read.
	f.orders.byID[created.ID].TotalPrice = 0

	got, err := f.svc.GetOrderByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), got.TotalPrice)
}

func TestGetOrders(t *testing.T) {
	f := newFixture(t, Options{}, "P1", "P2")
	ctx := context.Background()

	req := validRequest()
	_, err := f.svc.CreateOrder(ctx, req)
	require.NoError(t, err)
	req.BuyerID = "buyer-2"
	_, err = f.svc.CreateOrder(ctx, req)
	require.NoError(t, err)

	mine, err := f.svc.GetOrders(ctx, "buyer-1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "buyer-1", mine[0].BuyerID)

	all, err := f.svc.GetAllOrders(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = f.svc.GetOrders(ctx, "")
	assert.True(t, IsValidation(err))
}

func TestUpdateOrderStatus_Permissive(t *testing.T) {
	f := newFixture(t, Options{}, "P1", "P2")
	ctx := context.Background()
	o, err := f.svc.CreateOrder(ctx, validRequest())
	require.NoError(t, err)

	updated, err := f.svc.UpdateOrderStatus(ctx, o.ID, StateDelivered)
	require.NoError(t, err)
	assert.Equal(t, StateDelivered, updated.State)

	// Backwards moves are accepted without strict transitions.
	updated, err = f.svc.UpdateOrderStatus(ctx, o.ID, StatePacked)
	require.NoError(t, err)
	assert.Equal(t, StatePacked, updated.State)

	assert.Equal(t, []events.Type{events.OrderCreated, events.OrderStateChanged, events.OrderStateChanged}, f.publisher.types())
}

func TestUpdateOrderStatus_Strict(t *testing.T) {
	f := newFixture(t, Options{StrictTransitions: true}, "P1", "P2")
	ctx := context.Background()
	o, err := f.svc.CreateOrder(ctx, validRequest())
	require.NoError(t, err)

	_, err = f.svc.UpdateOrderStatus(ctx, o.ID, StateDelivered)
	var terr *TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, StateOrdered, terr.From)
	assert.Equal(t, StateDelivered, terr.To)

	for _, next := range []State{StatePacked, StateDelivering, StateDelivered} {
		_, err := f.svc.UpdateOrderStatus(ctx, o.ID, next)
		require.NoError(t, err, "to %s", next)
	}

	_, err = f.svc.UpdateOrderStatus(ctx, o.ID, StateOrdered)
	require.ErrorAs(t, err, &terr)
}

func TestUpdateOrderStatus_Errors(t *testing.T) {
	f := newFixture(t, Options{}, "P1", "P2")
	ctx := context.Background()

	_, err := f.svc.UpdateOrderStatus(ctx, "6f1c1f9e-0d7b-4d7e-9a8e-3f0c6c7d2a11", StatePacked)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.UpdateOrderStatus(ctx, "6f1c1f9e-0d7b-4d7e-9a8e-3f0c6c7d2a11", "LOST")
	require.ErrorIs(t, err, ErrUnknownState)
}

func TestUpdatePaymentStateByOrderCode_Idempotent(t *testing.T) {
	f := newFixture(t, Options{}, "P1", "P2")
	ctx := context.Background()
	o, err := f.svc.CreateOrder(ctx, validRequest())
	require.NoError(t, err)

	first, err := f.svc.UpdatePaymentStateByOrderCode(ctx, o.OrderCode, true)
	require.NoError(t, err)
	assert.True(t, first.PaymentState)

	second, err := f.svc.UpdatePaymentStateByOrderCode(ctx, o.OrderCode, true)
	require.NoError(t, err)
	assert.True(t, second.PaymentState)

	assert.Equal(t, 1, f.orders.paymentWrites)
	assert.Equal(t, []events.Type{events.OrderCreated, events.OrderPaid}, f.publisher.types())
}

func TestUpdatePaymentStateByOrderCode_Errors(t *testing.T) {
	f := newFixture(t, Options{}, "P1", "P2")
	ctx := context.Background()

	_, err := f.svc.UpdatePaymentStateByOrderCode(ctx, "9999999999", true)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.UpdatePaymentStateByOrderCode(ctx, "", true)
	require.ErrorIs(t, err, ErrNotFound)

	o, err := f.svc.CreateOrder(ctx, validRequest())
	require.NoError(t, err)

	unpaid, err := f.svc.UpdatePaymentStateByOrderCode(ctx, o.OrderCode, false)
	require.NoError(t, err)
	assert.False(t, unpaid.PaymentState)

	_, err = f.svc.UpdatePaymentStateByOrderCode(ctx, o.OrderCode, true)
	require.NoError(t, err)
	_, err = f.svc.UpdatePaymentStateByOrderCode(ctx, o.OrderCode, false)
	require.ErrorIs(t, err, ErrPaymentSettled)
}

func TestDeleteOrder(t *testing.T) {
	f := newFixture(t, Options{}, "P1", "P2")
	ctx := context.Background()
	o, err := f.svc.CreateOrder(ctx, validRequest())
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteOrder(ctx, o.ID))
	require.ErrorIs(t, f.svc.DeleteOrder(ctx, o.ID), ErrNotFound)
	require.ErrorIs(t, f.svc.DeleteOrder(ctx, "bad"), ErrNotFound)
	assert.Contains(t, f.publisher.types(), events.OrderDeleted)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateOrdered, StatePacked, true},
		{StatePacked, StateDelivering, true},
		{StateDelivering, StateDelivered, true},
		{StateOrdered, StateOrdered, true},
		{StateOrdered, StateDelivering, false},
		{StateDelivered, StateOrdered, false},
		{StatePacked, StateOrdered, false},
		{"LOST", StatePacked, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
	assert.True(t, StateDelivered.Terminal())
	assert.False(t, StatePacked.Terminal())
}
