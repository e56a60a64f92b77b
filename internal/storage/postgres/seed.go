package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/retail-orders/internal/domain/auth"
	"github.com/xenking/retail-orders/internal/domain/cart"
	"github.com/xenking/retail-orders/internal/domain/product"
	"github.com/xenking/retail-orders/internal/domain/user"
)

const (
	upsertUserSQL = `INSERT INTO users (id, email, first_name, last_name, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name, active = EXCLUDED.active`

	upsertProductSQL = `INSERT INTO products (id, name, price, category, available, image_thumbnail, image_desktop)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price,
			category = EXCLUDED.category, available = EXCLUDED.available,
			image_thumbnail = EXCLUDED.image_thumbnail, image_desktop = EXCLUDED.image_desktop`

	deleteProductSQL = `DELETE FROM products WHERE id = $1`

	upsertCartLineSQL = `INSERT INTO cart_items (id, user_id, product_id, quantity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET product_id = EXCLUDED.product_id, quantity = EXCLUDED.quantity`

	upsertAPIKeySQL = `INSERT INTO api_keys (id, key_hash, user_id, name, scopes, active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		ON CONFLICT (id) DO UPDATE SET key_hash = EXCLUDED.key_hash, user_id = EXCLUDED.user_id,
			name = EXCLUDED.name, scopes = EXCLUDED.scopes, active = TRUE`
)

// Seeder writes reference data owned by other services: accounts, catalog,
// carts and API keys. It backs the seed tool and tests.
type Seeder struct {
	pool *pgxpool.Pool
}

// NewSeeder returns a Seeder that uses the given pool.
func NewSeeder(pool *pgxpool.Pool) *Seeder {
	return &Seeder{pool: pool}
}

// UpsertUser creates or replaces an account.
func (s *Seeder) UpsertUser(ctx context.Context, u user.User) error {
	_, err := s.pool.Exec(ctx, upsertUserSQL, u.ID, u.Email, u.FirstName, u.LastName, u.Active)
	if err != nil {
		return fmt.Errorf("upserting user %q: %w", u.ID, err)
	}
	return nil
}

// UpsertProduct creates or replaces a catalog entry.
func (s *Seeder) UpsertProduct(ctx context.Context, p product.Product) error {
	_, err := s.pool.Exec(ctx, upsertProductSQL,
		p.ID, p.Name, p.Price, p.Category, p.Available, p.Image.Thumbnail, p.Image.Desktop,
	)
	if err != nil {
		return fmt.Errorf("upserting product %q: %w", p.ID, err)
	}
	return nil
}

// DeleteProduct removes a catalog entry. Order items keep referring to it.
func (s *Seeder) DeleteProduct(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, deleteProductSQL, id); err != nil {
		return fmt.Errorf("deleting product %q: %w", id, err)
	}
	return nil
}

// UpsertCartLine creates or replaces a cart line.
func (s *Seeder) UpsertCartLine(ctx context.Context, l cart.Line) error {
	_, err := s.pool.Exec(ctx, upsertCartLineSQL, l.ID, l.UserID, l.ProductID, l.Quantity)
	if err != nil {
		return fmt.Errorf("upserting cart line %q: %w", l.ID, err)
	}
	return nil
}

// UpsertAPIKey creates or replaces an API key identified by its hash.
func (s *Seeder) UpsertAPIKey(ctx context.Context, k auth.APIKeyInfo, name string) error {
	_, err := s.pool.Exec(ctx, upsertAPIKeySQL, k.ID, k.KeyHash, k.UserID, name, k.Scopes)
	if err != nil {
		return fmt.Errorf("upserting api key %q: %w", k.ID, err)
	}
	return nil
}
