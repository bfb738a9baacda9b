package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/secondhand-orders/internal/domain/product"
)

const (
	productColumns = `id, name, price, quantity, sold_quantity, is_deleted`

	getProductByIDSQL = `SELECT ` + productColumns + `
		FROM products WHERE id = $1 AND NOT is_deleted`

	getProductsByIDsSQL = `SELECT ` + productColumns + `
		FROM products WHERE id = ANY($1) AND NOT is_deleted`

	// Single-statement increment; concurrent orders on one product never lose
	// an update.
	incrementSoldSQL = `UPDATE products SET sold_quantity = sold_quantity + $2
		WHERE id = $1 AND NOT is_deleted
		RETURNING ` + productColumns

	upsertProductSQL = `INSERT INTO products (id, name, price, quantity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, price = EXCLUDED.price, quantity = EXCLUDED.quantity, is_deleted = false`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// FindByID returns a single non-deleted product.
func (r *ProductRepository) FindByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return collectOneProduct(rows, id)
}

// GetByIDs returns the non-deleted products matching any of the given IDs.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// IncrementSold adds delta to the product's sold quantity.
func (r *ProductRepository) IncrementSold(ctx context.Context, id string, delta int64) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, incrementSoldSQL, id, delta)
	if err != nil {
		return nil, fmt.Errorf("incrementing sold quantity of %q: %w", id, err)
	}
	return collectOneProduct(rows, id)
}

// Upsert creates or replaces a catalog product, leaving its sold quantity
// untouched.
func (r *ProductRepository) Upsert(ctx context.Context, p product.Product) error {
	if _, err := r.pool.Exec(ctx, upsertProductSQL, p.ID, p.Name, p.Price, p.Quantity); err != nil {
		return fmt.Errorf("upserting product %q: %w", p.ID, err)
	}
	return nil
}

func collectOneProduct(rows pgx.Rows, id string) (*product.Product, error) {
	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Quantity, &p.SoldQuantity, &p.IsDeleted)
	return p, err
}
