package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/retail-orders/internal/domain/cart"
	"github.com/xenking/retail-orders/internal/domain/order"
	"github.com/xenking/retail-orders/internal/domain/page"
)

const (
	orderColumns = `id, user_id, first_name, last_name, street, postal_code, city, phone,
		delivery_method, status, created_at, updated_at, version`

	insertOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	updateOrderSQL = `UPDATE orders SET
		first_name = $3, last_name = $4, street = $5, postal_code = $6, city = $7, phone = $8,
		delivery_method = $9, status = $10, updated_at = $11, version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING ` + orderColumns

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`

	userHasOrdersSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE user_id = $1)`

	countUserOrdersSQL = `SELECT count(*) FROM orders WHERE user_id = $1`

	countItemsSQL = `SELECT count(*) FROM order_items WHERE order_id = $1`

	deleteCartLinesSQL = `DELETE FROM cart_items WHERE user_id = $1 AND id = ANY($2)`
)

var itemColumns = []string{"id", "order_id", "product_id", "quantity", "price_at_purchase", "line_no"}

// Sort keys map to fixed column names; user input never reaches the query text.
var (
	orderSortColumns = map[string]string{
		order.SortCreatedAt: "created_at",
		order.SortUpdatedAt: "updated_at",
		order.SortStatus:    "status",
	}
	itemSortColumns = map[string]string{
		order.SortQuantity: "quantity",
		order.SortPrice:    "price_at_purchase",
	}
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// CreateWithItems inserts the order header and its items and removes the
// consumed cart lines. It fails with order.ErrConflict when any of the cart
// lines is already gone, so callers must run it inside a transaction.
func (r *OrderRepository) CreateWithItems(ctx context.Context, o *order.Order, items []order.Item, consumed []cart.Line) error {
	q := conn(ctx, r.pool)

	_, err := q.Exec(ctx, insertOrderSQL,
		o.ID, o.UserID,
		o.Recipient.FirstName, o.Recipient.LastName, o.Recipient.Street,
		o.Recipient.PostalCode, o.Recipient.City, o.Recipient.Phone,
		string(o.Delivery), string(o.Status), o.CreatedAt, o.UpdatedAt, o.Version,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	if len(items) > 0 {
		_, err = q.CopyFrom(ctx, pgx.Identifier{"order_items"}, itemColumns,
			pgx.CopyFromSlice(len(items), func(i int) ([]any, error) {
				it := items[i]
				return []any{it.ID, it.OrderID, it.ProductID, it.Quantity, it.PriceAtPurchase, it.LineNo}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("creating items of order %q: %w", o.ID, err)
		}
	}

	if len(consumed) == 0 {
		return nil
	}
	ids := make([]string, len(consumed))
	for i, l := range consumed {
		ids[i] = l.ID
	}
	tag, err := q.Exec(ctx, deleteCartLinesSQL, o.UserID, ids)
	if err != nil {
		return fmt.Errorf("clearing cart of user %q: %w", o.UserID, err)
	}
	if tag.RowsAffected() != int64(len(ids)) {
		return fmt.Errorf("cart of user %q changed during checkout: %w", o.UserID, order.ErrConflict)
	}
	return nil
}

// FindByID returns the order header. Items are not loaded.
func (r *OrderRepository) FindByID(ctx context.Context, id string) (*order.Order, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

// Save writes the mutable fields of o when the stored version still equals
// o.Version and returns the persisted row.
func (r *OrderRepository) Save(ctx context.Context, o *order.Order) (*order.Order, error) {
	q := conn(ctx, r.pool)

	rows, err := q.Query(ctx, updateOrderSQL,
		o.ID, o.Version,
		o.Recipient.FirstName, o.Recipient.LastName, o.Recipient.Street,
		o.Recipient.PostalCode, o.Recipient.City, o.Recipient.Phone,
		string(o.Delivery), string(o.Status), o.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("saving order %q: %w", o.ID, err)
	}
	saved, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	switch {
	case err == nil:
		return &saved, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, fmt.Errorf("saving order %q: %w", o.ID, err)
	}

	var exists bool
	if err := q.QueryRow(ctx, orderExistsSQL, o.ID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("checking order %q: %w", o.ID, err)
	}
	if !exists {
		return nil, order.ErrNotFound
	}
	return nil, fmt.Errorf("order %q version %d is stale: %w", o.ID, o.Version, order.ErrConflict)
}

// ExistsForUser reports whether the user has placed at least one order.
func (r *OrderRepository) ExistsForUser(ctx context.Context, userID string) (bool, error) {
	var exists bool
	if err := conn(ctx, r.pool).QueryRow(ctx, userHasOrdersSQL, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking orders of user %q: %w", userID, err)
	}
	return exists, nil
}

// ListByUser returns one page of the user's orders, newest first unless
// another sort key is requested.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string, req page.Request) (page.Page[order.Order], error) {
	q := conn(ctx, r.pool)

	var total int64
	if err := q.QueryRow(ctx, countUserOrdersSQL, userID).Scan(&total); err != nil {
		return page.Page[order.Order]{}, fmt.Errorf("counting orders of user %q: %w", userID, err)
	}

	column, dir := "created_at", "DESC"
	if req.Sort != "" {
		column, dir = orderSortColumns[req.Sort], direction(req.Desc)
	}
	sql := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1
		ORDER BY ` + column + ` ` + dir + `, id LIMIT $2 OFFSET $3`

	rows, err := q.Query(ctx, sql, userID, req.Size, req.Offset())
	if err != nil {
		return page.Page[order.Order]{}, fmt.Errorf("listing orders of user %q: %w", userID, err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return page.Page[order.Order]{}, fmt.Errorf("listing orders of user %q: %w", userID, err)
	}
	return page.New(req, orders, total), nil
}

// ListItems returns one page of the order's items, in cart line order unless
// another sort key is requested.
func (r *OrderRepository) ListItems(ctx context.Context, orderID string, req page.Request) (page.Page[order.Item], error) {
	q := conn(ctx, r.pool)

	var total int64
	if err := q.QueryRow(ctx, countItemsSQL, orderID).Scan(&total); err != nil {
		return page.Page[order.Item]{}, fmt.Errorf("counting items of order %q: %w", orderID, err)
	}

	orderBy := "line_no"
	if col, ok := itemSortColumns[req.Sort]; ok {
		orderBy = col + " " + direction(req.Desc) + ", line_no"
	}
	sql := `SELECT id, order_id, product_id, quantity, price_at_purchase, line_no
		FROM order_items WHERE order_id = $1 ORDER BY ` + orderBy + ` LIMIT $2 OFFSET $3`

	rows, err := q.Query(ctx, sql, orderID, req.Size, req.Offset())
	if err != nil {
		return page.Page[order.Item]{}, fmt.Errorf("listing items of order %q: %w", orderID, err)
	}
	items, err := pgx.CollectRows(rows, scanItem)
	if err != nil {
		return page.Page[order.Item]{}, fmt.Errorf("listing items of order %q: %w", orderID, err)
	}
	return page.New(req, items, total), nil
}

func direction(desc bool) string {
	if desc {
		return "DESC"
	}
	return "ASC"
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                order.Order
		delivery, status string
	)
	err := row.Scan(
		&o.ID, &o.UserID,
		&o.Recipient.FirstName, &o.Recipient.LastName, &o.Recipient.Street,
		&o.Recipient.PostalCode, &o.Recipient.City, &o.Recipient.Phone,
		&delivery, &status, &o.CreatedAt, &o.UpdatedAt, &o.Version,
	)
	if err != nil {
		return o, err
	}
	st, err := order.ParseStatus(status)
	if err != nil {
		return o, errors.Wrapf(err, "order %s", o.ID)
	}
	o.Delivery = order.DeliveryMethod(delivery)
	o.Status = st
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return o, nil
}

func scanItem(row pgx.CollectableRow) (order.Item, error) {
	var it order.Item
	err := row.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.PriceAtPurchase, &it.LineNo)
	return it, err
}
