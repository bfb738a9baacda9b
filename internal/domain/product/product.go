package product

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a requested product does not exist or was
// soft-deleted.
var ErrNotFound = errors.New("product not found")

// Product is the catalog view this core needs. Prices are minor units.
type Product struct {
	ID           string
	Name         string
	Price        int64
	Quantity     int64
	SoldQuantity int64
	IsDeleted    bool
}

// Snapshot is the read-only product view attached to enriched order lines.
type Snapshot struct {
	ID           string
	Name         string
	Price        int64
	SoldQuantity int64
}

// Repository is the catalog gateway used by order creation and stock
// reconciliation.
type Repository interface {
	FindByID(ctx context.Context, id string) (*Product, error)
	// GetByIDs returns the non-deleted products among ids. Missing ids are
	// simply absent from the result.
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
	// IncrementSold atomically adds delta to the product's sold quantity and
	// returns the updated product. It returns ErrNotFound when the product is
	// missing or deleted.
	IncrementSold(ctx context.Context, id string, delta int64) (*Product, error)
}
