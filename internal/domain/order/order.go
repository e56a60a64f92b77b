package order

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/retail-orders/internal/domain/cart"
	"github.com/xenking/retail-orders/internal/domain/page"
)

// Sort keys accepted by the list queries.
const (
	SortCreatedAt = "createdAt"
	SortUpdatedAt = "updatedAt"
	SortStatus    = "status"

	SortQuantity = "quantity"
	SortPrice    = "price"
)

var (
	orderSortKeys = []string{SortCreatedAt, SortUpdatedAt, SortStatus}
	itemSortKeys  = []string{SortQuantity, SortPrice}
)

// Recipient holds who receives the order and where.
type Recipient struct {
	FirstName  string
	LastName   string
	Street     string
	PostalCode string
	City       string
	Phone      string
}

// Order is a checkout aggregate. Items is only populated on the result of
// PlaceOrder; list and get operations return the header.
type Order struct {
	ID        string
	UserID    string
	Recipient Recipient
	Delivery  DeliveryMethod
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
	// Version increases by one with every committed save.
	Version int64
	Items   []Item
}

// Item is a purchased line. Quantity and PriceAtPurchase never change after
// the order is created.
type Item struct {
	ID              string
	OrderID         string
	ProductID       string
	Quantity        int
	PriceAtPurchase decimal.Decimal
	LineNo          int
}

// Patch carries the recipient and delivery fields to change. Nil fields are
// left untouched.
type Patch struct {
	FirstName  *string
	LastName   *string
	Street     *string
	PostalCode *string
	City       *string
	Phone      *string
	Delivery   *DeliveryMethod
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.FirstName == nil && p.LastName == nil && p.Street == nil &&
		p.PostalCode == nil && p.City == nil && p.Phone == nil && p.Delivery == nil
}

func (p Patch) validate() error {
	fields := []struct {
		name  string
		value *string
	}{
		{"firstName", p.FirstName},
		{"lastName", p.LastName},
		{"street", p.Street},
		{"postalCode", p.PostalCode},
		{"city", p.City},
		{"phone", p.Phone},
	}
	for _, f := range fields {
		if f.value != nil && strings.TrimSpace(*f.value) == "" {
			return &ValidationError{Field: f.name, Message: "must not be blank"}
		}
	}
	if p.Delivery != nil && !p.Delivery.Valid() {
		return &ValidationError{Field: "deliveryMethod", Message: "unknown delivery method " + string(*p.Delivery)}
	}
	return nil
}

func (p Patch) apply(o *Order) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&o.Recipient.FirstName, p.FirstName)
	set(&o.Recipient.LastName, p.LastName)
	set(&o.Recipient.Street, p.Street)
	set(&o.Recipient.PostalCode, p.PostalCode)
	set(&o.Recipient.City, p.City)
	set(&o.Recipient.Phone, p.Phone)
	if p.Delivery != nil {
		o.Delivery = *p.Delivery
	}
}

// fullPatch turns a complete recipient into a patch so checkout reuses the
// same field validation as updates.
func fullPatch(r Recipient, d DeliveryMethod) Patch {
	return Patch{
		FirstName:  &r.FirstName,
		LastName:   &r.LastName,
		Street:     &r.Street,
		PostalCode: &r.PostalCode,
		City:       &r.City,
		Phone:      &r.Phone,
		Delivery:   &d,
	}
}

// Event types recorded with lifecycle mutations.
const (
	EventCreated       = "order.created"
	EventUpdated       = "order.updated"
	EventStatusChanged = "order.status_changed"
)

// Event is a committed lifecycle change, recorded in the same unit of work as
// the change itself.
type Event struct {
	ID         string
	Type       string
	OrderID    string
	UserID     string
	From       Status
	To         Status
	OccurredAt time.Time
}

// Repository persists orders and their items.
type Repository interface {
	// CreateWithItems inserts o and items and deletes the consumed cart lines
	// atomically. It fails with ErrConflict when a consumed line is already
	// gone.
	CreateWithItems(ctx context.Context, o *Order, items []Item, consumed []cart.Line) error
	FindByID(ctx context.Context, id string) (*Order, error)
	// Save updates o if its Version still matches the stored row and returns
	// the persisted order.
	Save(ctx context.Context, o *Order) (*Order, error)
	ExistsForUser(ctx context.Context, userID string) (bool, error)
	ListByUser(ctx context.Context, userID string, req page.Request) (page.Page[Order], error)
	ListItems(ctx context.Context, orderID string, req page.Request) (page.Page[Item], error)
}

// Transactor runs fn as one atomic unit of work. Repository calls made with
// the context passed to fn join it; nested calls join the outer unit.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// EventRecorder stores lifecycle events for later delivery.
type EventRecorder interface {
	Record(ctx context.Context, e Event) error
}

type noopRecorder struct{}

func (noopRecorder) Record(context.Context, Event) error { return nil }
