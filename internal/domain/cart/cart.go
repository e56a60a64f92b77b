// Package cart describes the read-only cart snapshot consumed at checkout.
package cart

import "context"

// Line is one product entry in a user's cart.
type Line struct {
	ID        string
	UserID    string
	ProductID string
	Quantity  int
}

// Reader returns the current contents of a user's cart. When called inside a
// unit of work the returned rows stay locked until it ends.
type Reader interface {
	LinesOf(ctx context.Context, userID string) ([]Line, error)
}
