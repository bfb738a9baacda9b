package order

import (
	"context"
	"math"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/secondhand-orders/internal/domain/product"
	"github.com/xenking/secondhand-orders/internal/domain/stock"
	"github.com/xenking/secondhand-orders/internal/events"
)

// DefaultCodeAttempts is how many order codes CreateOrder tries before giving up.
const DefaultCodeAttempts = 5

// StockReconciler applies sold quantities for order lines.
type StockReconciler interface {
	ApplySoldQuantities(ctx context.Context, lines []stock.Line) error
}

// CodeIssuer hands out candidate order codes.
type CodeIssuer interface {
	Next() (string, error)
	Observe(code string)
}

// Options tunes Service behaviour. Zero values select defaults.
type Options struct {
	// CodeAttempts bounds order code retries on collision.
	CodeAttempts int
	// StrictTransitions rejects state changes that are not a single forward
	// step. When false any recognized state may be set.
	StrictTransitions bool
	TracerProvider    trace.TracerProvider
	MeterProvider     metric.MeterProvider
}

// CreateOrderRequest holds the input for placing an order.
type CreateOrderRequest struct {
	Items            []LineItem
	PaymentMethod    PaymentMethod
	State            State
	ReceivingAddress string
	ReceivingPhone   string
	Receiver         string
	BuyerID          string
	DeliveryDate     *time.Time
}

// ResumeReport summarizes a ResumePending run.
type ResumeReport struct {
	Scanned int
	Resumed int
	Failed  int
}

// Service orchestrates order creation, reads and state changes.
type Service struct {
	orders    Repository
	products  product.Repository
	stock     StockReconciler
	codes     CodeIssuer
	publisher events.Publisher

	codeAttempts int
	strict       bool
	now          func() time.Time

	tracer         trace.Tracer
	created        metric.Int64Counter
	codeCollisions metric.Int64Counter
	stockFailures  metric.Int64Counter
}

// NewService creates an order Service with its collaborators.
func NewService(
	orders Repository,
	products product.Repository,
	reconciler StockReconciler,
	codes CodeIssuer,
	publisher events.Publisher,
	opts Options,
) (*Service, error) {
	if opts.CodeAttempts <= 0 {
		opts.CodeAttempts = DefaultCodeAttempts
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = tracenoop.NewTracerProvider()
	}
	if opts.MeterProvider == nil {
		opts.MeterProvider = metricnoop.NewMeterProvider()
	}
	if publisher == nil {
		publisher = events.Nop{}
	}

	s := &Service{
		orders:       orders,
		products:     products,
		stock:        reconciler,
		codes:        codes,
		publisher:    publisher,
		codeAttempts: opts.CodeAttempts,
		strict:       opts.StrictTransitions,
		now:          time.Now,
		tracer:       opts.TracerProvider.Tracer("secondhand-orders/order"),
	}

	meter := opts.MeterProvider.Meter("secondhand-orders/order")
	var err error
	if s.created, err = meter.Int64Counter("orders.created",
		metric.WithDescription("Orders persisted by CreateOrder"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.created counter")
	}
	if s.codeCollisions, err = meter.Int64Counter("orders.code_collisions",
		metric.WithDescription("Order code uniqueness violations on insert"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.code_collisions counter")
	}
	if s.stockFailures, err = meter.Int64Counter("orders.stock_failures",
		metric.WithDescription("Order lines whose sold quantity could not be applied"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.stock_failures counter")
	}
	return s, nil
}

// CreateOrder validates the request, persists the order with a unique order
// code, computes its total and applies sold quantities.
//
// Stock reconciliation is best-effort: on partial failure the persisted order
// is returned together with a *stock.PartialFailureError.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.CreateOrder")
	defer func() { endSpan(span, rerr) }()

	method, err := validateCreate(req)
	if err != nil {
		return nil, err
	}
	if err := s.checkProducts(ctx, req.Items); err != nil {
		return nil, err
	}

	items := make([]LineItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = LineItem{
			ProductID:     it.ProductID,
			UnitPrice:     it.UnitPrice,
			Quantity:      it.Quantity,
			UsesInsurance: it.UsesInsurance,
		}
	}

	now := s.now().UTC()
	o := &Order{
		ID:               uuid.NewString(),
		State:            StateOrdered,
		PaymentMethod:    method,
		LineItems:        items,
		ReceivingAddress: req.ReceivingAddress,
		ReceivingPhone:   req.ReceivingPhone,
		Receiver:         req.Receiver,
		BuyerID:          req.BuyerID,
		DeliveryDate:     req.DeliveryDate,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.insertWithUniqueCode(ctx, o); err != nil {
		return nil, err
	}
	s.created.Add(ctx, 1, metric.WithAttributes(attribute.String("payment_method", string(method))))
	span.SetAttributes(
		attribute.String("order.id", o.ID),
		attribute.String("order.code", o.OrderCode),
	)

	lg := zctx.From(ctx).With(zap.String("order_id", o.ID), zap.String("order_code", o.OrderCode))
	lg.Info("Order persisted", zap.Int("items", len(o.LineItems)))

	sagaErr := s.completeCreation(ctx, o)
	var perr *stock.PartialFailureError
	if sagaErr != nil && !errors.As(sagaErr, &perr) {
		return nil, sagaErr
	}

	s.publish(ctx, events.OrderCreated, o)
	if perr != nil {
		lg.Warn("Order created with incomplete stock reconciliation", zap.Error(perr))
		return o, perr
	}
	return o, nil
}

func (s *Service) insertWithUniqueCode(ctx context.Context, o *Order) error {
	for attempt := 1; ; attempt++ {
		code, err := s.codes.Next()
		if err != nil {
			return errors.Wrap(err, "issue order code")
		}
		o.OrderCode = code

		err = s.orders.Insert(ctx, o)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrDuplicateOrderCode) {
			return errors.Wrap(err, "insert order")
		}

		s.codes.Observe(code)
		s.codeCollisions.Add(ctx, 1)
		zctx.From(ctx).Warn("Order code collision",
			zap.String("order_code", code),
			zap.Int("attempt", attempt),
		)
		if attempt >= s.codeAttempts {
			return ErrOrderCodeExhausted
		}
	}
}

// completeCreation runs every creation step whose marker is unset.
func (s *Service) completeCreation(ctx context.Context, o *Order) error {
	if !o.TotalComputed {
		total := o.ComputeTotal()
		if err := s.orders.SetTotal(ctx, o.ID, total); err != nil {
			return errors.Wrap(err, "set total")
		}
		o.TotalPrice = total
		o.TotalComputed = true
	}
	if o.StockCommitted {
		return nil
	}

	pending := o.uncommittedLines()
	lines := make([]stock.Line, len(pending))
	for i, pos := range pending {
		lines[i] = stock.Line{
			ProductID: o.LineItems[pos].ProductID,
			Quantity:  o.LineItems[pos].Quantity,
		}
	}

	applied := pending
	var perr *stock.PartialFailureError
	if err := s.stock.ApplySoldQuantities(ctx, lines); err != nil {
		if !errors.As(err, &perr) {
			return errors.Wrap(err, "apply sold quantities")
		}
		// Translate worker indexes back to order line positions.
		applied = make([]int, len(perr.Applied))
		for i, idx := range perr.Applied {
			applied[i] = pending[idx]
		}
		failures := make([]stock.LineFailure, len(perr.Failures))
		for i, f := range perr.Failures {
			f.Index = pending[f.Index]
			failures[i] = f
		}
		perr = &stock.PartialFailureError{Failures: failures, Applied: applied}
		s.stockFailures.Add(ctx, int64(len(failures)))
	}

	if len(applied) > 0 || len(pending) == 0 {
		done, err := s.orders.MarkStockCommitted(ctx, o.ID, applied)
		if err != nil {
			return errors.Wrap(err, "mark stock committed")
		}
		for _, pos := range applied {
			o.LineItems[pos].StockCommitted = true
		}
		o.StockCommitted = done
	}

	if perr != nil {
		return perr
	}
	return nil
}

func (s *Service) checkProducts(ctx context.Context, items []LineItem) error {
	ids := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if _, ok := seen[it.ProductID]; ok {
			continue
		}
		seen[it.ProductID] = struct{}{}
		ids = append(ids, it.ProductID)
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return errors.Wrap(err, "get products")
	}

	found := make(map[string]struct{}, len(fetched))
	for _, p := range fetched {
		if !p.IsDeleted {
			found[p.ID] = struct{}{}
		}
	}
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			return &ProductNotFoundError{ProductID: id}
		}
	}
	return nil
}

func validateCreate(req CreateOrderRequest) (PaymentMethod, error) {
	if len(req.Items) == 0 {
		return "", ErrEmptyItems
	}
	for i, it := range req.Items {
		switch {
		case it.ProductID == "":
			return "", &InvalidItemError{Index: i, Reason: "product id required"}
		case it.Quantity < 1:
			return "", &InvalidItemError{Index: i, ProductID: it.ProductID, Reason: "quantity must be at least 1"}
		case it.UnitPrice < 0:
			return "", &InvalidItemError{Index: i, ProductID: it.ProductID, Reason: "price must not be negative"}
		}
	}
	var total int64
	for i, it := range req.Items {
		sub, ok := it.checkedSubtotal()
		if !ok {
			return "", &InvalidItemError{Index: i, ProductID: it.ProductID, Reason: "price times quantity overflows"}
		}
		if total > math.MaxInt64-sub {
			return "", &ValidationError{Field: "items", Reason: "total price overflows"}
		}
		total += sub
	}

	method := req.PaymentMethod
	if method == "" {
		method = PaymentCash
	}
	if !method.Valid() {
		return "", ErrUnknownPaymentMethod
	}
	if req.State != "" && req.State != StateOrdered {
		return "", &ValidationError{Field: "state", Reason: "new orders start in ORDERED"}
	}
	if req.ReceivingAddress == "" {
		return "", &ValidationError{Field: "receivingAddress", Reason: "required"}
	}
	if req.ReceivingPhone == "" {
		return "", &ValidationError{Field: "receivingPhone", Reason: "required"}
	}
	return method, nil
}

// GetOrderByID returns a non-deleted order enriched with buyer and product
// snapshots. The total is re-derived from the line items.
func (s *Service) GetOrderByID(ctx context.Context, id string) (*Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	orders, err := s.orders.ListEnriched(ctx, Filter{ID: id})
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if len(orders) == 0 {
		return nil, ErrNotFound
	}
	o := &orders[0]
	o.TotalPrice = o.ComputeTotal()
	return o, nil
}

// GetOrders returns the non-deleted orders of one buyer, newest first.
func (s *Service) GetOrders(ctx context.Context, buyerID string) ([]Order, error) {
	if buyerID == "" {
		return nil, &ValidationError{Field: "buyerId", Reason: "required"}
	}
	return s.list(ctx, Filter{BuyerID: buyerID})
}

// GetAllOrders returns every non-deleted order, newest first.
func (s *Service) GetAllOrders(ctx context.Context) ([]Order, error) {
	return s.list(ctx, Filter{})
}

func (s *Service) list(ctx context.Context, f Filter) ([]Order, error) {
	orders, err := s.orders.ListEnriched(ctx, f)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	for i := range orders {
		orders[i].TotalPrice = orders[i].ComputeTotal()
	}
	return orders, nil
}

// UpdateOrderStatus sets the fulfillment state. Without strict transitions any
// recognized state is accepted, including moving backwards.
func (s *Service) UpdateOrderStatus(ctx context.Context, id string, next State) (*Order, error) {
	if !next.Valid() {
		return nil, ErrUnknownState
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	cur, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.strict && !CanTransition(cur.State, next) {
		return nil, &TransitionError{From: cur.State, To: next}
	}

	o, err := s.orders.UpdateState(ctx, id, next)
	if err != nil {
		return nil, err
	}
	if cur.State != next {
		zctx.From(ctx).Info("Order state changed",
			zap.String("order_id", id),
			zap.String("from", string(cur.State)),
			zap.String("to", string(next)),
		)
		s.publish(ctx, events.OrderStateChanged, o)
	}
	return o, nil
}

// UpdatePaymentStateByOrderCode records the payment outcome for the order with
// the given code. Marking a paid order as paid again changes nothing; clearing
// a settled payment is rejected with ErrPaymentSettled.
func (s *Service) UpdatePaymentStateByOrderCode(ctx context.Context, code string, paid bool) (*Order, error) {
	if code == "" {
		return nil, ErrNotFound
	}

	if !paid {
		o, err := s.orders.FindByOrderCode(ctx, code)
		if err != nil {
			return nil, err
		}
		if o.PaymentState {
			return nil, ErrPaymentSettled
		}
		return o, nil
	}

	o, changed, err := s.orders.SetPaymentState(ctx, code, true)
	if err != nil {
		return nil, err
	}
	if changed {
		zctx.From(ctx).Info("Order paid",
			zap.String("order_id", o.ID),
			zap.String("order_code", code),
		)
		s.publish(ctx, events.OrderPaid, o)
	}
	return o, nil
}

// DeleteOrder soft-deletes an order.
func (s *Service) DeleteOrder(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	o, err := s.orders.SoftDelete(ctx, id)
	if err != nil {
		return err
	}
	s.publish(ctx, events.OrderDeleted, o)
	return nil
}

// ResumeOrder finishes the creation steps an interrupted CreateOrder left
// incomplete. Completed steps are skipped.
//
// Stock is applied at least once per line: a crash after the sold quantities
// were incremented but before MarkStockCommitted stored the line markers
// leaves those lines uncommitted, and resuming increments them again.
// soldQuantity can therefore overshoot the ordered quantity for such orders.
func (s *Service) ResumeOrder(ctx context.Context, id string) (*Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	o, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !o.Incomplete() {
		return o, nil
	}
	if err := s.completeCreation(ctx, o); err != nil {
		return o, err
	}
	return o, nil
}

// ResumePending resumes up to limit incomplete orders created more than
// olderThan ago.
func (s *Service) ResumePending(ctx context.Context, olderThan time.Duration, limit int) (ResumeReport, error) {
	var report ResumeReport

	pending, err := s.orders.ListIncomplete(ctx, s.now().Add(-olderThan), limit)
	if err != nil {
		return report, errors.Wrap(err, "list incomplete orders")
	}
	report.Scanned = len(pending)

	lg := zctx.From(ctx)
	for i := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		o := &pending[i]
		if err := s.completeCreation(ctx, o); err != nil {
			report.Failed++
			lg.Warn("Resume failed", zap.String("order_id", o.ID), zap.Error(err))
			continue
		}
		report.Resumed++
		lg.Info("Order creation resumed", zap.String("order_id", o.ID))
	}
	return report, nil
}

// Summarize returns per-state order counts and totals.
func (s *Service) Summarize(ctx context.Context) ([]StateSummary, error) {
	return s.orders.Summarize(ctx)
}

func (s *Service) publish(ctx context.Context, typ events.Type, o *Order) {
	ev := events.Event{
		Type:         typ,
		OrderID:      o.ID,
		OrderCode:    o.OrderCode,
		BuyerID:      o.BuyerID,
		State:        string(o.State),
		PaymentState: o.PaymentState,
		TotalPrice:   o.TotalPrice,
		OccurredAt:   s.now(),
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		zctx.From(ctx).Warn("Publish order event",
			zap.String("type", string(typ)),
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
