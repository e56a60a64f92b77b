package order

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/retail-orders/internal/domain/page"
	"github.com/xenking/retail-orders/internal/domain/product"
	"github.com/xenking/retail-orders/internal/domain/user"
)

// ItemView joins a purchased line with the live catalog view of its product.
// Product is nil when the product has left the catalog.
type ItemView struct {
	Item    Item
	Product *product.Product
}

// QueryService provides read access to orders and their items.
type QueryService struct {
	orders   Repository
	users    user.Repository
	products product.Repository
}

// NewQueryService creates a QueryService.
func NewQueryService(orders Repository, users user.Repository, products product.Repository) *QueryService {
	return &QueryService{
		orders:   orders,
		users:    users,
		products: products,
	}
}

// GetOrder returns the order header.
func (q *QueryService) GetOrder(ctx context.Context, id string) (*Order, error) {
	o, err := q.orders.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &NotFoundError{Kind: "order", ID: id}
		}
		return nil, errors.Wrapf(err, "find order %s", id)
	}
	return o, nil
}

// GetStatus returns the current status of the order.
func (q *QueryService) GetStatus(ctx context.Context, id string) (Status, error) {
	o, err := q.GetOrder(ctx, id)
	if err != nil {
		return "", err
	}
	return o.Status, nil
}

// ListItems returns one page of the order's items with their products.
func (q *QueryService) ListItems(ctx context.Context, orderID string, req page.Request) (page.Page[ItemView], error) {
	if err := req.Validate(itemSortKeys...); err != nil {
		return page.Page[ItemView]{}, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if _, err := q.GetOrder(ctx, orderID); err != nil {
		return page.Page[ItemView]{}, err
	}

	items, err := q.orders.ListItems(ctx, orderID, req)
	if err != nil {
		return page.Page[ItemView]{}, errors.Wrap(err, "list items")
	}
	if len(items.Items) == 0 {
		return page.Map(items, func(it Item) ItemView { return ItemView{Item: it} }), nil
	}

	ids := make([]string, len(items.Items))
	for i, it := range items.Items {
		ids[i] = it.ProductID
	}
	products, err := q.products.GetByIDs(ctx, ids)
	if err != nil {
		return page.Page[ItemView]{}, errors.Wrap(err, "get products")
	}
	byID := make(map[string]*product.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}

	return page.Map(items, func(it Item) ItemView {
		return ItemView{Item: it, Product: byID[it.ProductID]}
	}), nil
}

// ListUserOrders returns one page of the user's orders.
func (q *QueryService) ListUserOrders(ctx context.Context, userID string, req page.Request) (page.Page[Order], error) {
	if err := req.Validate(orderSortKeys...); err != nil {
		return page.Page[Order]{}, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	exists, err := q.users.Exists(ctx, userID)
	if err != nil {
		return page.Page[Order]{}, errors.Wrap(err, "check user")
	}
	if !exists {
		return page.Page[Order]{}, &NotFoundError{Kind: "user", ID: userID}
	}

	has, err := q.orders.ExistsForUser(ctx, userID)
	if err != nil {
		return page.Page[Order]{}, errors.Wrap(err, "check orders")
	}
	if !has {
		return page.New[Order](req, nil, 0), nil
	}

	orders, err := q.orders.ListByUser(ctx, userID, req)
	if err != nil {
		return page.Page[Order]{}, errors.Wrap(err, "list orders")
	}
	return orders, nil
}
