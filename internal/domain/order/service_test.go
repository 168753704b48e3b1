package order

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/checkout-service/internal/domain/idempotency"
)

// --- Mock implementations ---

type mockInventory struct {
	calls int
	err   error
	last  []Reservation
}

func (m *mockInventory) Reserve(_ context.Context, reservations []Reservation) error {
	m.calls++
	m.last = reservations
	return m.err
}

type mockPayments struct {
	calls int
	err   error
	last  ChargeRequest
}

func (m *mockPayments) Charge(_ context.Context, req ChargeRequest) error {
	m.calls++
	m.last = req
	return m.err
}

type mockOrderRepo struct {
	byID    map[OrderID]*Order
	saveErr error
	saves   int
}

func newMockOrderRepo() *mockOrderRepo {
	return &mockOrderRepo{byID: make(map[OrderID]*Order)}
}

func (m *mockOrderRepo) Save(_ context.Context, o *Order) error {
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	if _, exists := m.byID[o.ID]; exists {
		return NewPersistenceError("order id already exists")
	}
	m.byID[o.ID] = o
	return nil
}

func (m *mockOrderRepo) Get(_ context.Context, id OrderID) (*Order, error) {
	o, ok := m.byID[id]
	if !ok {
		return nil, NewOrderNotFound(id)
	}
	return o, nil
}

func (m *mockOrderRepo) List(_ context.Context, _ ListFilter) ([]*Order, error) {
	out := make([]*Order, 0, len(m.byID))
	for _, o := range m.byID {
		out = append(out, o)
	}
	return out, nil
}

type mockEvents struct {
	calls int
	err   error
}

func (m *mockEvents) PublishOrderPlaced(_ context.Context, _ OrderPlaced) error {
	m.calls++
	return m.err
}

// fakeKeys is an in-memory idempotency.Repository with failure injection.
type fakeKeys struct {
	records  map[string]*idempotency.Record
	startErr error
	// forceStartConflict makes the next Start return ErrAlreadyStarted
	// without creating a record, simulating a lost race.
	forceStartConflict bool
	// hideOnFirstGet makes the next Get miss even when a record exists,
	// simulating a record created between Get and Start.
	hideOnFirstGet bool
}

func newFakeKeys() *fakeKeys {
	return &fakeKeys{records: make(map[string]*idempotency.Record)}
}

func pairKey(customerID, key string) string { return customerID + "\x00" + key }

func (f *fakeKeys) Get(_ context.Context, customerID, key string) (*idempotency.Record, error) {
	if f.hideOnFirstGet {
		f.hideOnFirstGet = false
		return nil, nil
	}
	rec, ok := f.records[pairKey(customerID, key)]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeKeys) Start(_ context.Context, customerID, key, orderID, requestHash string) error {
	if f.forceStartConflict {
		f.forceStartConflict = false
		return idempotency.ErrAlreadyStarted
	}
	if f.startErr != nil {
		return f.startErr
	}
	k := pairKey(customerID, key)
	if _, exists := f.records[k]; exists {
		return idempotency.ErrAlreadyStarted
	}
	now := time.Now()
	f.records[k] = &idempotency.Record{
		CustomerID:  customerID,
		Key:         key,
		Status:      idempotency.StatusInProgress,
		OrderID:     orderID,
		RequestHash: requestHash,
		StartedAt:   now,
		UpdatedAt:   now,
	}
	return nil
}

func (f *fakeKeys) Complete(_ context.Context, customerID, key string, snapshot []byte) error {
	rec, ok := f.records[pairKey(customerID, key)]
	if !ok {
		return idempotency.ErrNoRecord
	}
	if rec.Terminal() {
		return nil
	}
	rec.Status = idempotency.StatusCompleted
	rec.Snapshot = snapshot
	rec.UpdatedAt = time.Now()
	return nil
}

func (f *fakeKeys) Fail(_ context.Context, customerID, key, previousError string) error {
	rec, ok := f.records[pairKey(customerID, key)]
	if !ok {
		return idempotency.ErrNoRecord
	}
	if rec.Terminal() {
		return nil
	}
	rec.Status = idempotency.StatusFailed
	rec.PreviousError = previousError
	rec.UpdatedAt = time.Now()
	return nil
}

func (f *fakeKeys) record(customerID, key string) *idempotency.Record {
	return f.records[pairKey(customerID, key)]
}

// --- Helpers ---

type fixture struct {
	inventory *mockInventory
	payments  *mockPayments
	orders    *mockOrderRepo
	events    *mockEvents
	keys      *fakeKeys
	svc       *Service
}

func newFixture(opts ...Option) *fixture {
	f := &fixture{
		inventory: &mockInventory{},
		payments:  &mockPayments{},
		orders:    newMockOrderRepo(),
		events:    &mockEvents{},
		keys:      newFakeKeys(),
	}
	f.svc = NewService(f.inventory, f.payments, f.orders, f.events, f.keys, opts...)
	return f
}

// --- PlaceOrder ---

func TestPlaceOrderSuccess(t *testing.T) {
	f := newFixture()

	receipt, err := f.svc.PlaceOrder(context.Background(), validCommand())
	require.NoError(t, err)

	assert.NotEmpty(t, receipt.OrderID)
	assert.Equal(t, CustomerID("cust-1"), receipt.CustomerID)
	assert.Equal(t, "2400.00", receipt.Total.AmountString())
	assert.Equal(t, "USD", receipt.Total.Currency)

	assert.Equal(t, 1, f.inventory.calls)
	assert.Equal(t, 1, f.payments.calls)
	assert.Equal(t, 1, f.orders.saves)
	assert.Equal(t, 1, f.events.calls)

	assert.Equal(t, "2400.00", f.payments.last.Amount.AmountString())

	rec := f.keys.record("cust-1", "key-1")
	require.NotNil(t, rec)
	assert.Equal(t, idempotency.StatusCompleted, rec.Status)
	assert.Equal(t, string(receipt.OrderID), rec.OrderID)
	assert.NotEmpty(t, rec.Snapshot)
}

func TestPlaceOrderWithoutKeyRunsFresh(t *testing.T) {
	f := newFixture()
	cmd := validCommand()
	cmd.IdempotencyKey = ""

	first, err := f.svc.PlaceOrder(context.Background(), cmd)
	require.NoError(t, err)
	second, err := f.svc.PlaceOrder(context.Background(), cmd)
	require.NoError(t, err)

	assert.NotEqual(t, first.OrderID, second.OrderID)
	assert.Equal(t, 2, f.orders.saves)
	assert.Empty(t, f.keys.records)
}

func TestPlaceOrderReplaysCompleted(t *testing.T) {
	f := newFixture()

	first, err := f.svc.PlaceOrder(context.Background(), validCommand())
	require.NoError(t, err)

	second, err := f.svc.PlaceOrder(context.Background(), validCommand())
	require.NoError(t, err)

	assert.Equal(t, first.OrderID, second.OrderID)
	assert.True(t, first.Total.Equal(second.Total))

	// The pipeline ran exactly once.
	assert.Equal(t, 1, f.inventory.calls)
	assert.Equal(t, 1, f.payments.calls)
	assert.Equal(t, 1, f.orders.saves)
	assert.Equal(t, 1, f.events.calls)
}

func TestPlaceOrderReplayWithoutSnapshotLoadsOrder(t *testing.T) {
	f := newFixture()

	first, err := f.svc.PlaceOrder(context.Background(), validCommand())
	require.NoError(t, err)

	f.keys.record("cust-1", "key-1").Snapshot = nil

	second, err := f.svc.PlaceOrder(context.Background(), validCommand())
	require.NoError(t, err)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.True(t, first.Total.Equal(second.Total))
}

func TestPlaceOrderKeyConflict(t *testing.T) {
	f := newFixture()

	_, err := f.svc.PlaceOrder(context.Background(), validCommand())
	require.NoError(t, err)

	changed := validCommand()
	changed.Lines[0].Quantity = 3

	_, err = f.svc.PlaceOrder(context.Background(), changed)
	require.Error(t, err)
	assert.Equal(t, KindIdempotencyKeyConflict, KindOf(err))

	// Conflict is decided before any side effect.
	assert.Equal(t, 1, f.inventory.calls)
	assert.Equal(t, 1, f.payments.calls)
}

func TestPlaceOrderInProgress(t *testing.T) {
	f := newFixture()
	cmd := validCommand()

	require.NoError(t, f.keys.Start(context.Background(), cmd.CustomerID, cmd.IdempotencyKey, "ord-1", RequestFingerprint(cmd)))

	_, err := f.svc.PlaceOrder(context.Background(), cmd)
	require.Error(t, err)
	assert.Equal(t, KindIdempotencyInProgress, KindOf(err))
	assert.Equal(t, 0, f.inventory.calls)
}

func TestPlaceOrderFailedRecord(t *testing.T) {
	f := newFixture()
	f.payments.err = NewPaymentDeclined("token_blacklisted")

	_, err := f.svc.PlaceOrder(context.Background(), validCommand())
	require.Error(t, err)
	assert.Equal(t, KindPaymentDeclined, KindOf(err))

	rec := f.keys.record("cust-1", "key-1")
	require.NotNil(t, rec)
	assert.Equal(t, idempotency.StatusFailed, rec.Status)
	assert.Equal(t, "PaymentDeclined", rec.PreviousError)

	// Retry with the same key reports the earlier failure, even after the
	// transient cause is gone.
	f.payments.err = nil
	_, err = f.svc.PlaceOrder(context.Background(), validCommand())
	require.Error(t, err)
	assert.Equal(t, KindIdempotencyFailed, KindOf(err))

	var de *Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "PaymentDeclined", de.PreviousError)

	// The failed pipeline ran once; the retry never reached it.
	assert.Equal(t, 1, f.payments.calls)
}

func TestPlaceOrderFailedRecordUnknownPrevious(t *testing.T) {
	f := newFixture()
	cmd := validCommand()

	require.NoError(t, f.keys.Start(context.Background(), cmd.CustomerID, cmd.IdempotencyKey, "ord-1", RequestFingerprint(cmd)))
	require.NoError(t, f.keys.Fail(context.Background(), cmd.CustomerID, cmd.IdempotencyKey, ""))

	_, err := f.svc.PlaceOrder(context.Background(), cmd)
	require.Error(t, err)

	var de *Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "unknown", de.PreviousError)
}

func TestPlaceOrderPaymentDeclinedLeavesNoOrder(t *testing.T) {
	f := newFixture()
	f.payments.err = NewPaymentDeclined("token_blacklisted")

	_, err := f.svc.PlaceOrder(context.Background(), validCommand())
	require.Error(t, err)

	// Inventory was reserved before the decline and stays reserved; the
	// order was never persisted and nothing was published.
	assert.Equal(t, 1, f.inventory.calls)
	assert.Equal(t, 0, f.orders.saves)
	assert.Equal(t, 0, f.events.calls)
	assert.Empty(t, f.orders.byID)
}

func TestPlaceOrderOutOfStockNamesSKU(t *testing.T) {
	f := newFixture()
	f.inventory.err = NewOutOfStock("SKU-1")

	_, err := f.svc.PlaceOrder(context.Background(), validCommand())
	require.Error(t, err)
	assert.Equal(t, KindOutOfStock, KindOf(err))

	var de *Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "SKU-1", de.SKU)

	assert.Equal(t, 0, f.payments.calls)
}

func TestPlaceOrderPublishFailureMarksFailed(t *testing.T) {
	f := newFixture()
	f.events.err = NewPublishError("broker unavailable")

	_, err := f.svc.PlaceOrder(context.Background(), validCommand())
	require.Error(t, err)
	assert.Equal(t, KindPublish, KindOf(err))

	// The order is persisted; only the publish step failed.
	assert.Equal(t, 1, f.orders.saves)
	assert.Len(t, f.orders.byID, 1)

	rec := f.keys.record("cust-1", "key-1")
	require.NotNil(t, rec)
	assert.Equal(t, idempotency.StatusFailed, rec.Status)
	assert.Equal(t, "PublishError", rec.PreviousError)
}

func TestPlaceOrderLostStartRaceReplaysWinner(t *testing.T) {
	f := newFixture()

	// The winner completed the placement; the loser's initial Get misses
	// (record created after it), Start conflicts, and the single re-read
	// finds the winner's record.
	winner, err := f.svc.PlaceOrder(context.Background(), validCommand())
	require.NoError(t, err)
	f.keys.hideOnFirstGet = true
	f.keys.forceStartConflict = true

	got, err := f.svc.PlaceOrder(context.Background(), validCommand())
	require.NoError(t, err)
	assert.Equal(t, winner.OrderID, got.OrderID)

	// The pipeline still ran only once.
	assert.Equal(t, 1, f.inventory.calls)
}

func TestPlaceOrderStartConflictWithoutRecord(t *testing.T) {
	f := newFixture()
	f.keys.forceStartConflict = true

	_, err := f.svc.PlaceOrder(context.Background(), validCommand())
	require.Error(t, err)
	assert.Equal(t, KindPersistence, KindOf(err))
	assert.Equal(t, 0, f.inventory.calls)
}

func TestPlaceOrderRecoveryBackfillsCompletedOrder(t *testing.T) {
	f := newFixture(WithInProgressTTL(time.Minute))
	cmd := validCommand()

	// A crashed attempt persisted the order but never finalized its record.
	first, err := f.svc.PlaceOrder(context.Background(), cmd)
	require.NoError(t, err)
	rec := f.keys.record(cmd.CustomerID, cmd.IdempotencyKey)
	rec.Status = idempotency.StatusInProgress
	rec.Snapshot = nil
	rec.StartedAt = time.Now().Add(-2 * time.Minute)

	got, err := f.svc.PlaceOrder(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, first.OrderID, got.OrderID)
	assert.True(t, first.Total.Equal(got.Total))

	// Backfilled to COMPLETED; the pipeline did not run again.
	assert.Equal(t, idempotency.StatusCompleted, f.keys.record(cmd.CustomerID, cmd.IdempotencyKey).Status)
	assert.Equal(t, 1, f.inventory.calls)
}

func TestPlaceOrderRecoveryRerunsWithSameID(t *testing.T) {
	f := newFixture(WithInProgressTTL(time.Minute))
	cmd := validCommand()

	// A crashed attempt started a record but never persisted an order.
	require.NoError(t, f.keys.Start(context.Background(), cmd.CustomerID, cmd.IdempotencyKey, "ord-stuck", RequestFingerprint(cmd)))
	f.keys.record(cmd.CustomerID, cmd.IdempotencyKey).StartedAt = time.Now().Add(-2 * time.Minute)

	got, err := f.svc.PlaceOrder(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, OrderID("ord-stuck"), got.OrderID)

	assert.Equal(t, 1, f.inventory.calls)
	assert.Equal(t, idempotency.StatusCompleted, f.keys.record(cmd.CustomerID, cmd.IdempotencyKey).Status)
}

func TestPlaceOrderValidationBeforeAnyEffect(t *testing.T) {
	f := newFixture()
	cmd := validCommand()
	cmd.CustomerID = ""

	_, err := f.svc.PlaceOrder(context.Background(), cmd)
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Equal(t, 0, f.inventory.calls)
	assert.Empty(t, f.keys.records)
}

func TestPlaceOrderDistinctKeysSameCustomer(t *testing.T) {
	f := newFixture()

	a := validCommand()
	b := validCommand()
	b.IdempotencyKey = "key-2"

	first, err := f.svc.PlaceOrder(context.Background(), a)
	require.NoError(t, err)
	second, err := f.svc.PlaceOrder(context.Background(), b)
	require.NoError(t, err)

	assert.NotEqual(t, first.OrderID, second.OrderID)
	assert.Equal(t, 2, f.orders.saves)
}

func TestPlaceOrderSameKeyDifferentCustomers(t *testing.T) {
	f := newFixture()

	a := validCommand()
	b := validCommand()
	b.CustomerID = "cust-2"

	first, err := f.svc.PlaceOrder(context.Background(), a)
	require.NoError(t, err)
	second, err := f.svc.PlaceOrder(context.Background(), b)
	require.NoError(t, err)

	// Keys are scoped per customer.
	assert.NotEqual(t, first.OrderID, second.OrderID)
	assert.Equal(t, 2, f.orders.saves)
}

// --- GetOrder / ListOrders ---

func TestGetOrder(t *testing.T) {
	f := newFixture()

	receipt, err := f.svc.PlaceOrder(context.Background(), validCommand())
	require.NoError(t, err)

	detail, err := f.svc.GetOrder(context.Background(), string(receipt.OrderID))
	require.NoError(t, err)

	assert.Equal(t, receipt.OrderID, detail.OrderID)
	assert.Equal(t, "2400.00", detail.Total)
	assert.Equal(t, "USD", detail.Currency)
	require.Len(t, detail.Lines, 1)
	assert.Equal(t, SKU("SKU-1"), detail.Lines[0].SKU)
	assert.Equal(t, "1200.00", detail.Lines[0].UnitPrice)
	assert.Equal(t, 2, detail.Lines[0].Quantity)
	assert.Equal(t, "2400.00", detail.Lines[0].Subtotal)
}

func TestGetOrderNotFound(t *testing.T) {
	f := newFixture()

	_, err := f.svc.GetOrder(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, KindOrderNotFound, KindOf(err))
}

func TestGetOrderBlankID(t *testing.T) {
	f := newFixture()

	_, err := f.svc.GetOrder(context.Background(), "  ")
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestListOrdersValidation(t *testing.T) {
	f := newFixture()

	tests := []struct {
		name string
		q    ListQuery
	}{
		{"negative offset", ListQuery{Offset: -1}},
		{"negative limit", ListQuery{Limit: -5}},
		{"limit over cap", ListQuery{Limit: MaxListLimit + 1}},
		{"blank customer", ListQuery{CustomerID: "  "}},
		{"bad sort field", ListQuery{SortBy: "price"}},
		{"bad sort dir", ListQuery{SortDir: "sideways"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.ListOrders(context.Background(), tt.q)
			require.Error(t, err)
			assert.Equal(t, KindValidation, KindOf(err))
		})
	}
}

func TestListOrdersDefaults(t *testing.T) {
	f := newFixture()
	cmd := validCommand()
	cmd.IdempotencyKey = ""
	cmd.Lines[0].UnitPrice = decimal.RequireFromString("10.00")

	_, err := f.svc.PlaceOrder(context.Background(), cmd)
	require.NoError(t, err)

	summaries, err := f.svc.ListOrders(context.Background(), ListQuery{})
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "20.00", summaries[0].Total)
	assert.Equal(t, "USD", summaries[0].Currency)
}
