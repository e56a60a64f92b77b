package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/retail-orders/internal/domain/cart"
)

// Rows read inside a transaction stay locked until it ends, so a concurrent
// checkout of the same cart waits and then sees the rows gone.
const cartLinesSQL = `SELECT id, user_id, product_id, quantity FROM cart_items
	WHERE user_id = $1 ORDER BY added_at, id FOR UPDATE`

var _ cart.Reader = (*CartRepository)(nil)

// CartRepository reads cart snapshots from PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// LinesOf returns the user's cart lines in the order they were added.
func (r *CartRepository) LinesOf(ctx context.Context, userID string) ([]cart.Line, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, cartLinesSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("reading cart of user %q: %w", userID, err)
	}
	lines, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (cart.Line, error) {
		var l cart.Line
		err := row.Scan(&l.ID, &l.UserID, &l.ProductID, &l.Quantity)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("reading cart of user %q: %w", userID, err)
	}
	return lines, nil
}
