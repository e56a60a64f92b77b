package order

import "github.com/go-faster/errors"

// Status is the lifecycle state of an order.
type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusPaid      Status = "PAID"
	StatusOnTheWay  Status = "ON_THE_WAY"
	StatusDelivered Status = "DELIVERED"
	StatusReturned  Status = "RETURNED"
	StatusCanceled  Status = "CANCELED"
)

// statusRule describes what an order may do while in a given status.
type statusRule struct {
	next       Status // empty when there is no advance successor
	cancelable bool
	editable   bool
	terminal   bool
}

var statusRules = map[Status]statusRule{
	StatusCreated:   {next: StatusPaid, cancelable: true, editable: true},
	StatusPaid:      {next: StatusOnTheWay, editable: true},
	StatusOnTheWay:  {next: StatusDelivered},
	StatusDelivered: {next: StatusReturned},
	StatusReturned:  {terminal: true},
	StatusCanceled:  {terminal: true},
}

// Statuses lists every status in advance order, CANCELED last.
var Statuses = []Status{
	StatusCreated,
	StatusPaid,
	StatusOnTheWay,
	StatusDelivered,
	StatusReturned,
	StatusCanceled,
}

// ParseStatus converts a stored or user-supplied value into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", errors.Errorf("unknown order status %q", s)
	}
	return st, nil
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, ok := statusRules[s]
	return ok
}

// Next returns the single advance successor of s.
func (s Status) Next() (Status, bool) {
	r := statusRules[s]
	return r.next, r.next != ""
}

// Cancelable reports whether an order in status s may be canceled.
func (s Status) Cancelable() bool { return statusRules[s].cancelable }

// Editable reports whether recipient and delivery fields may still change.
func (s Status) Editable() bool { return statusRules[s].editable }

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool { return statusRules[s].terminal }

func (s Status) String() string { return string(s) }

// DeliveryMethod is how the order reaches the recipient.
type DeliveryMethod string

const (
	DeliveryCourier DeliveryMethod = "COURIER_DELIVERY"
	DeliveryPickup  DeliveryMethod = "CUSTOMER_PICKUP"
)

// Valid reports whether m is a known delivery method.
func (m DeliveryMethod) Valid() bool {
	return m == DeliveryCourier || m == DeliveryPickup
}
