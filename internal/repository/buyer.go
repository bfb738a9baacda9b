package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/secondhand-orders/internal/domain/buyer"
)

const upsertBuyerSQL = `INSERT INTO buyers (id, name, phone, avatar)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (id) DO UPDATE
	SET name = EXCLUDED.name, phone = EXCLUDED.phone, avatar = EXCLUDED.avatar`

// BuyerRepository writes buyer profiles. Reads happen through order joins.
type BuyerRepository struct {
	pool *pgxpool.Pool
}

// NewBuyerRepository returns a BuyerRepository that uses the given pool.
func NewBuyerRepository(pool *pgxpool.Pool) *BuyerRepository {
	return &BuyerRepository{pool: pool}
}

// Upsert creates or replaces a buyer profile.
func (r *BuyerRepository) Upsert(ctx context.Context, b buyer.Profile) error {
	if _, err := r.pool.Exec(ctx, upsertBuyerSQL, b.ID, b.Name, b.Phone, b.Avatar); err != nil {
		return fmt.Errorf("upserting buyer %q: %w", b.ID, err)
	}
	return nil
}
