package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/checkout-service/internal/domain/idempotency"
)

// DefaultInProgressTTL bounds how long an IN_PROGRESS record blocks
// duplicates before a retry is allowed to attempt recovery.
const DefaultInProgressTTL = 2 * time.Minute

// Service encapsulates the order placement workflow and the read-side
// queries over placed orders.
type Service struct {
	inventory InventoryGateway
	payments  PaymentGateway
	orders    Repository
	events    EventPublisher
	keys      idempotency.Repository

	ttl   time.Duration
	now   func() time.Time
	newID func() OrderID

	tracer    trace.Tracer
	placed    metric.Int64Counter
	replays   metric.Int64Counter
	conflicts metric.Int64Counter
}

// Option customizes a Service.
type Option func(*Service)

// WithInProgressTTL overrides the IN_PROGRESS expiry used for recovery.
func WithInProgressTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDSource overrides order id generation. Used by tests.
func WithIDSource(newID func() OrderID) Option {
	return func(s *Service) { s.newID = newID }
}

// WithTelemetry wires explicit tracer and meter providers instead of the
// otel globals.
func WithTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) Option {
	return func(s *Service) {
		s.tracer = tp.Tracer("checkout.order")
		s.initMetrics(mp.Meter("checkout.order"))
	}
}

// NewService creates the placement service with the required ports.
func NewService(
	inventory InventoryGateway,
	payments PaymentGateway,
	orders Repository,
	events EventPublisher,
	keys idempotency.Repository,
	opts ...Option,
) *Service {
	s := &Service{
		inventory: inventory,
		payments:  payments,
		orders:    orders,
		events:    events,
		keys:      keys,
		ttl:       DefaultInProgressTTL,
		now:       time.Now,
		newID:     NewOrderID,
		tracer:    otel.Tracer("checkout.order"),
	}
	s.initMetrics(otel.Meter("checkout.order"))
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) initMetrics(m metric.Meter) {
	s.placed, _ = m.Int64Counter("checkout.orders.placed",
		metric.WithDescription("Orders placed through the pipeline"))
	s.replays, _ = m.Int64Counter("checkout.orders.replayed",
		metric.WithDescription("Receipts served from a completed idempotency record"))
	s.conflicts, _ = m.Int64Counter("checkout.idempotency.conflicts",
		metric.WithDescription("Idempotency keys reused with a different payload"))
}

// PlaceOrder places an order exactly once per (customer, idempotency key)
// pair. Without a key every call runs the pipeline fresh with a new order
// id. With a key the call follows the deduplication protocol: the first
// caller wins an atomic IN_PROGRESS record and runs the pipeline; a
// duplicate with the same payload observes the record and is replayed,
// blocked, or rejected depending on its state; a duplicate with a
// different payload is rejected as a key conflict.
//
// The pipeline (reserve stock, charge payment, persist, publish) commits
// each step independently and has no compensation: effects committed
// before a failing step stay committed, and the caller sees the failing
// step's error. Retrying a failed key requires a new key.
func (s *Service) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (*Receipt, error) {
	ctx, span := s.tracer.Start(ctx, "PlaceOrder")
	defer span.End()

	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	if cmd.IdempotencyKey == "" {
		// Legacy mode: no deduplication, no record.
		receipt, err := s.runPipeline(ctx, cmd, s.newID())
		if err != nil {
			return nil, err
		}
		s.placed.Add(ctx, 1)
		return receipt, nil
	}

	key := cmd.IdempotencyKey
	hash := RequestFingerprint(cmd)

	rec, err := s.keys.Get(ctx, cmd.CustomerID, key)
	if err != nil {
		return nil, errors.Wrap(err, "read idempotency record")
	}

	if rec == nil {
		orderID := s.newID()
		startErr := s.keys.Start(ctx, cmd.CustomerID, key, string(orderID), hash)
		switch {
		case startErr == nil:
			return s.runRecorded(ctx, cmd, orderID)
		case errors.Is(startErr, idempotency.ErrAlreadyStarted):
			// Lost the start race. One re-read, then proceed with the
			// winner's record; never loop.
			rec, err = s.keys.Get(ctx, cmd.CustomerID, key)
			if err != nil {
				return nil, errors.Wrap(err, "re-read idempotency record")
			}
			if rec == nil {
				return nil, persistenceError("idempotency record missing after start conflict")
			}
		default:
			return nil, errors.Wrap(startErr, "start idempotency record")
		}
	}

	if rec.RequestHash != hash {
		s.conflicts.Add(ctx, 1)
		return nil, keyConflictError(key)
	}
	return s.resume(ctx, cmd, rec)
}

// resume handles a placement whose (customer, key) pair already has a
// record with a matching request hash.
func (s *Service) resume(ctx context.Context, cmd PlaceOrderCommand, rec *idempotency.Record) (*Receipt, error) {
	key := cmd.IdempotencyKey

	switch rec.Status {
	case idempotency.StatusCompleted:
		s.replays.Add(ctx, 1)
		if len(rec.Snapshot) > 0 {
			return DecodeReceipt(rec.Snapshot)
		}
		// Snapshot-less record (older writers): rebuild from the order.
		o, err := s.orders.Get(ctx, OrderID(rec.OrderID))
		if err != nil {
			return nil, err
		}
		return receiptFromOrder(o)

	case idempotency.StatusFailed:
		previous := rec.PreviousError
		if previous == "" {
			previous = "unknown"
		}
		return nil, idempotencyFailedError(key, previous)
	}

	// IN_PROGRESS.
	if !rec.ExpiredAt(s.now(), s.ttl) {
		return nil, inProgressError(key)
	}

	// Expired owner: recover. When the order made it into the repository
	// the original attempt finished its persist step, so backfill the
	// record and replay; otherwise re-run the pipeline with the same
	// order id, letting the repository's id uniqueness stop a double run.
	zctx.From(ctx).Info("recovering expired in-progress placement",
		zap.String("customer_id", cmd.CustomerID),
		zap.String("order_id", rec.OrderID),
	)
	if o, err := s.orders.Get(ctx, OrderID(rec.OrderID)); err == nil {
		receipt, rerr := receiptFromOrder(o)
		if rerr != nil {
			return nil, rerr
		}
		if cerr := s.keys.Complete(ctx, cmd.CustomerID, key, EncodeReceipt(receipt)); cerr != nil {
			zctx.From(ctx).Warn("backfill idempotency record", zap.Error(cerr))
		}
		return receipt, nil
	}
	return s.runRecorded(ctx, cmd, OrderID(rec.OrderID))
}

// runRecorded runs the pipeline and finalizes the IN_PROGRESS record with
// the outcome. Finalization failures are logged, not surfaced: the
// placement outcome already happened and must be reported as-is.
func (s *Service) runRecorded(ctx context.Context, cmd PlaceOrderCommand, id OrderID) (*Receipt, error) {
	receipt, err := s.runPipeline(ctx, cmd, id)
	if err != nil {
		if ferr := s.keys.Fail(ctx, cmd.CustomerID, cmd.IdempotencyKey, KindOf(err).String()); ferr != nil {
			zctx.From(ctx).Warn("mark idempotency record failed", zap.Error(ferr))
		}
		return nil, err
	}
	if cerr := s.keys.Complete(ctx, cmd.CustomerID, cmd.IdempotencyKey, EncodeReceipt(receipt)); cerr != nil {
		zctx.From(ctx).Warn("mark idempotency record completed", zap.Error(cerr))
	}
	s.placed.Add(ctx, 1)
	return receipt, nil
}

// runPipeline executes the side-effecting steps in fixed order,
// short-circuiting on the first error.
func (s *Service) runPipeline(ctx context.Context, cmd PlaceOrderCommand, id OrderID) (*Receipt, error) {
	o := buildOrder(cmd, id, s.now().UTC())
	total, err := o.Total()
	if err != nil {
		return nil, errors.Wrap(err, "order total")
	}

	reservations := make([]Reservation, len(o.Items))
	for i, it := range o.Items {
		reservations[i] = Reservation{SKU: it.SKU, Quantity: it.Quantity}
	}
	if err := s.step(ctx, "ReserveInventory", func(ctx context.Context) error {
		return s.inventory.Reserve(ctx, reservations)
	}); err != nil {
		return nil, err
	}

	if err := s.step(ctx, "ChargePayment", func(ctx context.Context) error {
		return s.payments.Charge(ctx, ChargeRequest{
			CustomerID: o.CustomerID,
			Amount:     total,
			Token:      cmd.PaymentToken,
		})
	}); err != nil {
		return nil, err
	}

	if err := s.step(ctx, "PersistOrder", func(ctx context.Context) error {
		return s.orders.Save(ctx, o)
	}); err != nil {
		return nil, err
	}

	if err := s.step(ctx, "PublishOrderPlaced", func(ctx context.Context) error {
		return s.events.PublishOrderPlaced(ctx, OrderPlaced{OrderID: o.ID})
	}); err != nil {
		return nil, err
	}

	return &Receipt{OrderID: o.ID, CustomerID: o.CustomerID, Total: total}, nil
}

func (s *Service) step(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, name)
	defer span.End()
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// OrderLineView is one line of an order detail response.
type OrderLineView struct {
	SKU       SKU
	UnitPrice string
	Quantity  int
	Subtotal  string
	Currency  string
}

// OrderDetail is the GetOrder success value.
type OrderDetail struct {
	OrderID    OrderID
	CustomerID CustomerID
	Total      string
	Currency   string
	CreatedAt  time.Time
	Lines      []OrderLineView
}

// GetOrder loads a single order with per-line subtotals.
func (s *Service) GetOrder(ctx context.Context, id string) (*OrderDetail, error) {
	if strings.TrimSpace(id) == "" {
		return nil, validationErrorf("order_id is required")
	}
	o, err := s.orders.Get(ctx, OrderID(id))
	if err != nil {
		return nil, err
	}
	total, err := o.Total()
	if err != nil {
		return nil, errors.Wrap(err, "order total")
	}
	detail := &OrderDetail{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		Total:      total.AmountString(),
		Currency:   total.Currency,
		CreatedAt:  o.CreatedAt,
		Lines:      make([]OrderLineView, len(o.Items)),
	}
	for i, it := range o.Items {
		detail.Lines[i] = OrderLineView{
			SKU:       it.SKU,
			UnitPrice: it.UnitPrice.AmountString(),
			Quantity:  it.Quantity,
			Subtotal:  it.Subtotal().AmountString(),
			Currency:  it.UnitPrice.Currency,
		}
	}
	return detail, nil
}

// ListQuery is the raw listing request before validation.
type ListQuery struct {
	Offset     int
	Limit      int
	CustomerID string
	SortBy     string
	SortDir    string
}

// OrderSummary is one row of a listing response.
type OrderSummary struct {
	OrderID    OrderID
	CustomerID CustomerID
	Total      string
	Currency   string
	CreatedAt  time.Time
}

// MaxListLimit caps page sizes for listings.
const MaxListLimit = 100

// ListOrders validates the query, applies defaults (limit 50, newest
// first), and returns order summaries.
func (s *Service) ListOrders(ctx context.Context, q ListQuery) ([]OrderSummary, error) {
	if q.Limit == 0 {
		q.Limit = 50
	}
	if q.SortBy == "" {
		q.SortBy = string(SortByCreatedAt)
	}
	if q.SortDir == "" {
		q.SortDir = string(SortDesc)
	}

	if q.Offset < 0 {
		return nil, validationErrorf("offset must be >= 0")
	}
	if q.Limit < 0 {
		return nil, validationErrorf("limit must be > 0")
	}
	if q.Limit > MaxListLimit {
		return nil, validationErrorf("limit must be <= %d", MaxListLimit)
	}
	if q.CustomerID != "" && strings.TrimSpace(q.CustomerID) == "" {
		return nil, validationErrorf("customer_id must be non-empty when provided")
	}
	if q.SortBy != string(SortByCreatedAt) && q.SortBy != string(SortByTotal) {
		return nil, validationErrorf("sort_by must be one of: created_at, total")
	}
	if q.SortDir != string(SortAsc) && q.SortDir != string(SortDesc) {
		return nil, validationErrorf("sort_dir must be 'asc' or 'desc'")
	}

	orders, err := s.orders.List(ctx, ListFilter{
		Offset:     q.Offset,
		Limit:      q.Limit,
		CustomerID: CustomerID(strings.TrimSpace(q.CustomerID)),
		SortBy:     SortField(q.SortBy),
		SortDir:    SortDir(q.SortDir),
	})
	if err != nil {
		return nil, err
	}

	summaries := make([]OrderSummary, len(orders))
	for i, o := range orders {
		total, terr := o.Total()
		if terr != nil {
			return nil, errors.Wrap(terr, "order total")
		}
		summaries[i] = OrderSummary{
			OrderID:    o.ID,
			CustomerID: o.CustomerID,
			Total:      total.AmountString(),
			Currency:   total.Currency,
			CreatedAt:  o.CreatedAt,
		}
	}
	return summaries, nil
}
