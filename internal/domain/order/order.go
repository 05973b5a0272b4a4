// Package order records completed purchases, at most once per payment
// session.
package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when no order matches the lookup.
	ErrNotFound = errors.New("order not found")
	// ErrDuplicateSession is returned by Repository.Create when an order for
	// the same checkout session already exists.
	ErrDuplicateSession = errors.New("order for checkout session already exists")
)

// Order is a completed purchase.
type Order struct {
	ID     string
	UserID string
	Items  []Item
	// TotalAmount is the amount the gateway charged, in currency units.
	TotalAmount decimal.Decimal
	SessionID   string
	CouponCode  string
	CreatedAt   time.Time
}

// Item is a purchased product with the price paid per unit.
type Item struct {
	ProductID string          `json:"product"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create inserts o. It returns ErrDuplicateSession when the session
	// already has an order.
	Create(ctx context.Context, o *Order) error
	FindBySessionID(ctx context.Context, sessionID string) (*Order, error)
}
