package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mernshop/checkout/internal/domain/order"
)

const (
	ordersSessionUniqueConstraint = "orders_checkout_session_id_key"

	createOrderSQL = `INSERT INTO orders (id, user_id, items, total_amount, checkout_session_id, coupon_code, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

	findOrderBySessionSQL = `SELECT id::text, user_id, items, total_amount::text, checkout_session_id, coupon_code, created_at
	FROM orders WHERE checkout_session_id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	db DB
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(db DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create persists a new order. The order items are serialized to JSON for
// storage in the JSONB column. A second order for the same checkout session
// fails with order.ErrDuplicateSession.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}

	_, err = r.db.Exec(ctx, createOrderSQL,
		o.ID, o.UserID, itemsJSON, o.TotalAmount, o.SessionID, o.CouponCode, o.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, ordersSessionUniqueConstraint) {
			return order.ErrDuplicateSession
		}
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	return nil
}

// FindBySessionID returns the order recorded for the checkout session, or
// order.ErrNotFound.
func (r *OrderRepository) FindBySessionID(ctx context.Context, sessionID string) (*order.Order, error) {
	rows, err := r.db.Query(ctx, findOrderBySessionSQL, sessionID)
	if err != nil {
		return nil, fmt.Errorf("finding order for session %q: %w", sessionID, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("finding order for session %q: %w", sessionID, err)
	}
	return &o, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o         order.Order
		itemsJSON []byte
		total     string
	)
	if err := row.Scan(&o.ID, &o.UserID, &itemsJSON, &total, &o.SessionID, &o.CouponCode, &o.CreatedAt); err != nil {
		return o, err
	}
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return o, fmt.Errorf("unmarshaling order items: %w", err)
	}
	amount, err := decimal.NewFromString(total)
	if err != nil {
		return o, fmt.Errorf("parsing order total %q: %w", total, err)
	}
	o.TotalAmount = amount
	return o, nil
}
