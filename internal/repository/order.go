package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/secondhand-orders/internal/domain/buyer"
	"github.com/xenking/secondhand-orders/internal/domain/order"
	"github.com/xenking/secondhand-orders/internal/domain/product"
)

const orderCodeIndex = "orders_order_code_active_idx"

const (
	orderColumns = `o.id, o.state, o.payment_method, o.payment_state, o.order_code, o.total_price,
		o.receiving_address, o.receiving_phone, o.receiver, o.buyer_id, o.delivery_date,
		o.is_deleted, o.total_computed, o.stock_committed, o.created_at, o.updated_at`

	insertOrderSQL = `INSERT INTO orders (id, state, payment_method, payment_state, order_code, total_price,
		receiving_address, receiving_phone, receiver, buyer_id, delivery_date,
		total_computed, stock_committed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)`

	getOrderByIDSQL = `SELECT ` + orderColumns + `
		FROM orders o WHERE o.id = $1 AND NOT o.is_deleted`

	getOrderByCodeSQL = `SELECT ` + orderColumns + `
		FROM orders o WHERE o.order_code = $1 AND NOT o.is_deleted`

	setTotalSQL = `UPDATE orders SET total_price = $2, total_computed = true, updated_at = now()
		WHERE id = $1 AND NOT is_deleted`

	commitLinesSQL = `UPDATE order_line_items SET stock_committed = true
		WHERE order_id = $1 AND position = ANY($2::int[])`

	commitOrderSQL = `UPDATE orders SET
		stock_committed = NOT EXISTS (
			SELECT 1 FROM order_line_items WHERE order_id = $1 AND NOT stock_committed
		),
		updated_at = now()
		WHERE id = $1 AND NOT is_deleted
		RETURNING stock_committed`

	updateStateSQL = `UPDATE orders AS o SET state = $2,
		updated_at = CASE WHEN o.state = $2 THEN o.updated_at ELSE now() END
		WHERE o.id = $1 AND NOT o.is_deleted
		RETURNING ` + orderColumns

	// Writes only on change, so redelivered payment notifications are no-ops.
	setPaymentStateSQL = `UPDATE orders AS o SET payment_state = $2, updated_at = now()
		WHERE o.order_code = $1 AND NOT o.is_deleted AND o.payment_state IS DISTINCT FROM $2
		RETURNING ` + orderColumns

	softDeleteSQL = `UPDATE orders AS o SET is_deleted = true, updated_at = now()
		WHERE o.id = $1 AND NOT o.is_deleted
		RETURNING ` + orderColumns

	listEnrichedSQL = `SELECT ` + orderColumns + `, b.id, b.name, b.phone, b.avatar
		FROM orders o
		LEFT JOIN buyers b ON b.id = o.buyer_id
		WHERE NOT o.is_deleted
			AND ($1::text = '' OR o.id::text = $1)
			AND ($2::text = '' OR o.buyer_id = $2)
			AND ($3::text = '' OR o.state = $3)
		ORDER BY o.created_at DESC`

	listIncompleteSQL = `SELECT ` + orderColumns + `
		FROM orders o
		WHERE NOT o.is_deleted AND (NOT o.total_computed OR NOT o.stock_committed)
			AND o.created_at < $1
		ORDER BY o.created_at
		LIMIT $2`

	listLineItemsSQL = `SELECT li.order_id, li.product_id, li.unit_price, li.quantity, li.uses_insurance,
		li.stock_committed, p.id, p.name, p.price, p.sold_quantity
		FROM order_line_items li
		LEFT JOIN products p ON p.id = li.product_id AND NOT p.is_deleted
		WHERE li.order_id = ANY($1::uuid[])
		ORDER BY li.order_id, li.position`

	orderCodesSQL = `SELECT order_code FROM orders WHERE NOT is_deleted`

	summarizeSQL = `SELECT state, count(*), COALESCE(sum(total_price), 0),
		count(*) FILTER (WHERE payment_state)
		FROM orders
		WHERE NOT is_deleted
		GROUP BY state
		ORDER BY array_position(ARRAY['ORDERED', 'PACKED', 'DELIVERING', 'DELIVERED'], state)`
)

var lineItemColumns = []string{
	"order_id", "position", "product_id", "unit_price", "quantity", "uses_insurance", "stock_committed",
}

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Insert persists a new order and its line items in one transaction.
func (r *OrderRepository) Insert(ctx context.Context, o *order.Order) error {
	orderID, err := uuid.Parse(o.ID)
	if err != nil {
		return fmt.Errorf("parsing order id %q: %w", o.ID, err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, insertOrderSQL,
		o.ID, o.State, o.PaymentMethod, o.PaymentState, o.OrderCode, o.TotalPrice,
		o.ReceivingAddress, o.ReceivingPhone, o.Receiver, o.BuyerID, o.DeliveryDate,
		o.TotalComputed, o.StockCommitted, o.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, orderCodeIndex) {
			return order.ErrDuplicateOrderCode
		}
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	_, err = tx.CopyFrom(ctx, pgx.Identifier{"order_line_items"}, lineItemColumns,
		pgx.CopyFromSlice(len(o.LineItems), func(i int) ([]any, error) {
			li := o.LineItems[i]
			return []any{orderID, i, li.ProductID, li.UnitPrice, li.Quantity, li.UsesInsurance, li.StockCommitted}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("creating line items of order %q: %w", o.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing order %q: %w", o.ID, err)
	}
	return nil
}

// FindByID returns a non-deleted order with its line items.
func (r *OrderRepository) FindByID(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return r.collectOne(ctx, rows)
}

// FindByOrderCode returns the non-deleted order carrying code.
func (r *OrderRepository) FindByOrderCode(ctx context.Context, code string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("getting order by code %q: %w", code, err)
	}
	return r.collectOne(ctx, rows)
}

// SetTotal stores the computed total and marks the total step complete.
func (r *OrderRepository) SetTotal(ctx context.Context, id string, total int64) error {
	tag, err := r.pool.Exec(ctx, setTotalSQL, id, total)
	if err != nil {
		return fmt.Errorf("setting total of order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// MarkStockCommitted marks line positions committed and recomputes the
// order-level marker in the same transaction.
func (r *OrderRepository) MarkStockCommitted(ctx context.Context, id string, positions []int) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if len(positions) > 0 {
		if _, err := tx.Exec(ctx, commitLinesSQL, id, positions); err != nil {
			return false, fmt.Errorf("committing lines of order %q: %w", id, err)
		}
	}

	var committed bool
	if err := tx.QueryRow(ctx, commitOrderSQL, id).Scan(&committed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, order.ErrNotFound
		}
		return false, fmt.Errorf("committing order %q: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("committing order %q: %w", id, err)
	}
	return committed, nil
}

// UpdateState sets the order state. The update timestamp moves only when the
// state changes.
func (r *OrderRepository) UpdateState(ctx context.Context, id string, state order.State) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, updateStateSQL, id, state)
	if err != nil {
		return nil, fmt.Errorf("updating state of order %q: %w", id, err)
	}
	return r.collectOne(ctx, rows)
}

// SetPaymentState writes paid when it differs from the stored value.
func (r *OrderRepository) SetPaymentState(ctx context.Context, code string, paid bool) (*order.Order, bool, error) {
	rows, err := r.pool.Query(ctx, setPaymentStateSQL, code, paid)
	if err != nil {
		return nil, false, fmt.Errorf("setting payment state of order %q: %w", code, err)
	}
	o, err := r.collectOne(ctx, rows)
	switch {
	case err == nil:
		return o, true, nil
	case errors.Is(err, order.ErrNotFound):
		// Either unknown or already in the requested state.
		o, err := r.FindByOrderCode(ctx, code)
		if err != nil {
			return nil, false, err
		}
		return o, false, nil
	default:
		return nil, false, err
	}
}

// SoftDelete flags the order deleted and returns its final form.
func (r *OrderRepository) SoftDelete(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, softDeleteSQL, id)
	if err != nil {
		return nil, fmt.Errorf("deleting order %q: %w", id, err)
	}
	return r.collectOne(ctx, rows)
}

// ListEnriched returns non-deleted orders joined with their buyer profile and
// line item products, newest first.
func (r *OrderRepository) ListEnriched(ctx context.Context, f order.Filter) ([]order.Order, error) {
	return r.listEnriched(ctx, f.ID, f.BuyerID, "")
}

// ListByState returns the enriched non-deleted orders in state.
func (r *OrderRepository) ListByState(ctx context.Context, state order.State) ([]order.Order, error) {
	return r.listEnriched(ctx, "", "", string(state))
}

func (r *OrderRepository) listEnriched(ctx context.Context, id, buyerID, state string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listEnrichedSQL, id, buyerID, state)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanEnrichedOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	if err := r.loadLineItems(ctx, orders, true); err != nil {
		return nil, err
	}
	return orders, nil
}

// ListIncomplete returns orders created before the cutoff with an unset saga
// marker, oldest first.
func (r *OrderRepository) ListIncomplete(ctx context.Context, createdBefore time.Time, limit int) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listIncompleteSQL, createdBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("listing incomplete orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing incomplete orders: %w", err)
	}
	if err := r.loadLineItems(ctx, orders, false); err != nil {
		return nil, err
	}
	return orders, nil
}

// EachOrderCode streams the code of every non-deleted order to fn.
func (r *OrderRepository) EachOrderCode(ctx context.Context, fn func(code string)) error {
	rows, err := r.pool.Query(ctx, orderCodesSQL)
	if err != nil {
		return fmt.Errorf("listing order codes: %w", err)
	}
	var code string
	_, err = pgx.ForEachRow(rows, []any{&code}, func() error {
		fn(code)
		return nil
	})
	if err != nil {
		return fmt.Errorf("listing order codes: %w", err)
	}
	return nil
}

// Summarize aggregates non-deleted orders per state.
func (r *OrderRepository) Summarize(ctx context.Context) ([]order.StateSummary, error) {
	rows, err := r.pool.Query(ctx, summarizeSQL)
	if err != nil {
		return nil, fmt.Errorf("summarizing orders: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.StateSummary, error) {
		var (
			s     order.StateSummary
			total decimal.Decimal
		)
		err := row.Scan(&s.State, &s.Orders, &total, &s.Paid)
		s.TotalPrice = total
		return s, err
	})
}

func (r *OrderRepository) collectOne(ctx context.Context, rows pgx.Rows) (*order.Order, error) {
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("scanning order: %w", err)
	}
	orders := []order.Order{o}
	if err := r.loadLineItems(ctx, orders, false); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// loadLineItems fills LineItems of every order with one query. Product
// snapshots are attached when enrich is set.
func (r *OrderRepository) loadLineItems(ctx context.Context, orders []order.Order, enrich bool) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(orders))
	index := make(map[string]int, len(orders))
	for i, o := range orders {
		id, err := uuid.Parse(o.ID)
		if err != nil {
			return fmt.Errorf("parsing order id %q: %w", o.ID, err)
		}
		ids = append(ids, id)
		index[o.ID] = i
	}

	rows, err := r.pool.Query(ctx, listLineItemsSQL, ids)
	if err != nil {
		return fmt.Errorf("listing line items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID string
			li      order.LineItem
			pID     *string
			pName   *string
			pPrice  *int64
			pSold   *int64
		)
		if err := rows.Scan(&orderID, &li.ProductID, &li.UnitPrice, &li.Quantity, &li.UsesInsurance,
			&li.StockCommitted, &pID, &pName, &pPrice, &pSold); err != nil {
			return fmt.Errorf("scanning line item: %w", err)
		}
		if enrich && pID != nil {
			li.Product = &product.Snapshot{ID: *pID, Name: *pName, Price: *pPrice, SoldQuantity: *pSold}
		}
		i, ok := index[orderID]
		if !ok {
			continue
		}
		orders[i].LineItems = append(orders[i].LineItems, li)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("listing line items: %w", err)
	}
	return nil
}

func orderFields(o *order.Order) []any {
	return []any{
		&o.ID, &o.State, &o.PaymentMethod, &o.PaymentState, &o.OrderCode, &o.TotalPrice,
		&o.ReceivingAddress, &o.ReceivingPhone, &o.Receiver, &o.BuyerID, &o.DeliveryDate,
		&o.IsDeleted, &o.TotalComputed, &o.StockCommitted, &o.CreatedAt, &o.UpdatedAt,
	}
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var o order.Order
	err := row.Scan(orderFields(&o)...)
	return o, err
}

func scanEnrichedOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                  order.Order
		bID, bName, bPhone *string
		bAvatar            *string
	)
	err := row.Scan(append(orderFields(&o), &bID, &bName, &bPhone, &bAvatar)...)
	if err != nil {
		return o, err
	}
	if bID != nil {
		o.Buyer = &buyer.Profile{ID: *bID, Name: *bName, Phone: *bPhone, Avatar: *bAvatar}
	}
	return o, nil
}
