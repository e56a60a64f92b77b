package product

import (
	"context"

	"github.com/shopspring/decimal"
)

// Product is the public catalog view of an item for sale.
type Product struct {
	ID        string
	Name      string
	Price     decimal.Decimal
	Category  string
	Available bool
	Image     Image
}

// Image holds responsive image URLs for a product.
type Image struct {
	Thumbnail string
	Desktop   string
}

// Repository defines read operations for the product catalog.
type Repository interface {
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
