package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/retail-orders/internal/domain/cart"
	"github.com/xenking/retail-orders/internal/domain/product"
	"github.com/xenking/retail-orders/internal/domain/user"
)

const instrumentationName = "github.com/xenking/retail-orders/internal/domain/order"

// PlaceOrderRequest holds the input for checking out a user's cart.
type PlaceOrderRequest struct {
	UserID    string
	Recipient Recipient
	Delivery  DeliveryMethod
}

// Transition is the outcome of a cancel or advance.
type Transition struct {
	OrderID string
	From    Status
	To      Status
	Order   *Order
}

// Message describes the transition for the caller.
func (t *Transition) Message() string {
	return fmt.Sprintf("order %s status changed from %s to %s", t.OrderID, t.From, t.To)
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator replaces uuid.NewString for order, item and event ids.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// WithEventRecorder records lifecycle events in the same unit of work.
func WithEventRecorder(r EventRecorder) Option {
	return func(s *Service) { s.events = r }
}

// WithAllowEmptyCart controls whether a checkout of an empty cart creates an
// order without items. Enabled by default.
func WithAllowEmptyCart(allow bool) Option {
	return func(s *Service) { s.allowEmptyCart = allow }
}

// WithTracerProvider sets the tracer provider used for operation spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer(instrumentationName) }
}

// WithMeterProvider sets the meter provider used for lifecycle counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meter = mp.Meter(instrumentationName) }
}

// Service is the order lifecycle engine: checkout, edits and status changes.
type Service struct {
	tx       Transactor
	orders   Repository
	users    user.Repository
	carts    cart.Reader
	products product.Repository
	events   EventRecorder

	now            func() time.Time
	newID          func() string
	allowEmptyCart bool

	tracer      trace.Tracer
	meter       metric.Meter
	created     metric.Int64Counter
	transitions metric.Int64Counter
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	tx Transactor,
	orders Repository,
	users user.Repository,
	carts cart.Reader,
	products product.Repository,
	opts ...Option,
) (*Service, error) {
	s := &Service{
		tx:             tx,
		orders:         orders,
		users:          users,
		carts:          carts,
		products:       products,
		events:         noopRecorder{},
		now:            time.Now,
		newID:          uuid.NewString,
		allowEmptyCart: true,
		tracer:         tracenoop.NewTracerProvider().Tracer(instrumentationName),
		meter:          metricnoop.NewMeterProvider().Meter(instrumentationName),
	}
	for _, o := range opts {
		o(s)
	}

	var err error
	if s.created, err = s.meter.Int64Counter("orders.created",
		metric.WithDescription("Orders created from carts"),
	); err != nil {
		return nil, errors.Wrap(err, "create orders.created counter")
	}
	if s.transitions, err = s.meter.Int64Counter("orders.transitions",
		metric.WithDescription("Committed order status transitions"),
	); err != nil {
		return nil, errors.Wrap(err, "create orders.transitions counter")
	}
	return s, nil
}

// PlaceOrder turns the user's current cart into a CREATED order, freezing
// every line's price, and empties the cart in the same unit of work.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.PlaceOrder",
		trace.WithAttributes(attribute.String("user.id", req.UserID)),
	)
	defer func() { endSpan(span, rerr) }()

	if err := fullPatch(req.Recipient, req.Delivery).validate(); err != nil {
		return nil, err
	}

	var created *Order
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.requireActiveUser(ctx, req.UserID); err != nil {
			return err
		}

		lines, err := s.carts.LinesOf(ctx, req.UserID)
		if err != nil {
			return errors.Wrap(err, "read cart")
		}
		if len(lines) == 0 && !s.allowEmptyCart {
			return ErrEmptyCart
		}

		prices, err := s.currentPrices(ctx, lines)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		o := &Order{
			ID:        s.newID(),
			UserID:    req.UserID,
			Delivery:  req.Delivery,
			Status:    StatusCreated,
			CreatedAt: now,
			UpdatedAt: now,
			Version:   1,
		}
		fullPatch(req.Recipient, req.Delivery).apply(o)

		items := make([]Item, len(lines))
		for i, l := range lines {
			items[i] = Item{
				ID:              s.newID(),
				OrderID:         o.ID,
				ProductID:       l.ProductID,
				Quantity:        l.Quantity,
				PriceAtPurchase: prices[l.ProductID].Round(2),
				LineNo:          i + 1,
			}
		}

		if err := s.orders.CreateWithItems(ctx, o, items, lines); err != nil {
			return errors.Wrap(err, "create order")
		}
		if err := s.record(ctx, EventCreated, o, "", StatusCreated); err != nil {
			return err
		}

		o.Items = items
		created = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.created.Add(ctx, 1)
	zctx.From(ctx).Info("Order placed",
		zap.String("order_id", created.ID),
		zap.String("user_id", created.UserID),
		zap.Int("items", len(created.Items)),
	)
	return created, nil
}

// UpdateOrder applies the present fields of patch while the order is still
// in an editable status.
func (s *Service) UpdateOrder(ctx context.Context, id string, patch Patch) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.UpdateOrder",
		trace.WithAttributes(attribute.String("order.id", id)),
	)
	defer func() { endSpan(span, rerr) }()

	var updated *Order
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		o, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if !o.Status.Editable() {
			return &InvalidStateError{OrderID: id, Op: "update", Status: o.Status}
		}
		if patch.Empty() {
			return &ValidationError{Field: "body", Message: "no fields to update"}
		}
		if err := patch.validate(); err != nil {
			return err
		}

		patch.apply(o)
		o.UpdatedAt = s.now().UTC()

		saved, err := s.save(ctx, o, o.Status)
		if err != nil {
			return err
		}
		if err := s.record(ctx, EventUpdated, saved, saved.Status, saved.Status); err != nil {
			return err
		}
		updated = saved
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// CancelOrder moves a CREATED order to CANCELED.
func (s *Service) CancelOrder(ctx context.Context, id string) (*Transition, error) {
	return s.transition(ctx, id, "cancel", func(st Status) (Status, bool) {
		return StatusCanceled, st.Cancelable()
	})
}

// AdvanceOrder moves the order to the single next status of the lifecycle.
func (s *Service) AdvanceOrder(ctx context.Context, id string) (*Transition, error) {
	return s.transition(ctx, id, "advance", Status.Next)
}

func (s *Service) transition(
	ctx context.Context,
	id, op string,
	next func(Status) (Status, bool),
) (_ *Transition, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order."+op,
		trace.WithAttributes(attribute.String("order.id", id)),
	)
	defer func() { endSpan(span, rerr) }()

	var t *Transition
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		o, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		from := o.Status
		to, ok := next(from)
		if !ok {
			return &InvalidStateError{OrderID: id, Op: op, Status: from}
		}

		o.Status = to
		o.UpdatedAt = s.now().UTC()
		saved, err := s.save(ctx, o, to)
		if err != nil {
			return err
		}
		if err := s.record(ctx, EventStatusChanged, saved, from, to); err != nil {
			return err
		}
		t = &Transition{OrderID: id, From: from, To: to, Order: saved}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(t.From)),
		attribute.String("to", string(t.To)),
	))
	zctx.From(ctx).Info("Order status changed",
		zap.String("order_id", id),
		zap.Stringer("from", t.From),
		zap.Stringer("to", t.To),
	)
	return t, nil
}

// save persists o and checks that the stored status is the one requested.
func (s *Service) save(ctx context.Context, o *Order, want Status) (*Order, error) {
	saved, err := s.orders.Save(ctx, o)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, &NotFoundError{Kind: "order", ID: o.ID}
	case err != nil:
		return nil, errors.Wrap(err, "save order")
	}
	if saved.Status != want {
		ierr := &InvariantError{OrderID: o.ID, Want: want, Got: saved.Status}
		zctx.From(ctx).Error("Order invariant violated",
			zap.String("order_id", o.ID),
			zap.Stringer("want", want),
			zap.Stringer("got", saved.Status),
		)
		return nil, ierr
	}
	return saved, nil
}

func (s *Service) load(ctx context.Context, id string) (*Order, error) {
	o, err := s.orders.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &NotFoundError{Kind: "order", ID: id}
		}
		return nil, errors.Wrapf(err, "find order %s", id)
	}
	return o, nil
}

func (s *Service) requireActiveUser(ctx context.Context, id string) error {
	u, err := s.users.Get(ctx, id)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return &NotFoundError{Kind: "user", ID: id}
		}
		return errors.Wrap(err, "get user")
	}
	if !u.Active {
		return &NotFoundError{Kind: "user", ID: id}
	}
	return nil
}

// currentPrices fetches every cart product in one batch and returns the
// catalog price per product id.
func (s *Service) currentPrices(ctx context.Context, lines []cart.Line) (map[string]decimal.Decimal, error) {
	if len(lines) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: l.ProductID}
		}
		ids = append(ids, l.ProductID)
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}
	prices := make(map[string]decimal.Decimal, len(fetched))
	for _, id := range ids {
		p, ok := byID[id]
		switch {
		case !ok:
			return nil, &ProductNotFoundError{ProductID: id}
		case !p.Available:
			return nil, &ProductUnavailableError{ProductID: id}
		}
		prices[id] = p.Price
	}
	return prices, nil
}

func (s *Service) record(ctx context.Context, typ string, o *Order, from, to Status) error {
	err := s.events.Record(ctx, Event{
		ID:         s.newID(),
		Type:       typ,
		OrderID:    o.ID,
		UserID:     o.UserID,
		From:       from,
		To:         to,
		OccurredAt: o.UpdatedAt,
	})
	if err != nil {
		return errors.Wrap(err, "record event")
	}
	return nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
