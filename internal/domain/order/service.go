package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// Sentinel errors for order validation.
var (
	ErrEmptyItems       = errors.New("items required")
	ErrMissingSessionID = errors.New("checkout session id required")
	ErrMissingUserID    = errors.New("user id required")
)

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// Recorder persists orders idempotently by checkout session id.
type Recorder struct {
	orders Repository
	now    func() time.Time
}

// NewRecorder creates a Recorder on top of orders.
func NewRecorder(orders Repository) *Recorder {
	return &Recorder{
		orders: orders,
		now:    time.Now,
	}
}

// Record stores o unless an order for o.SessionID already exists, in which
// case the existing order is returned with created=false.
func (r *Recorder) Record(ctx context.Context, o *Order) (_ *Order, created bool, _ error) {
	if err := validate(o); err != nil {
		return nil, false, err
	}

	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = r.now().UTC()
	}

	err := r.orders.Create(ctx, o)
	switch {
	case err == nil:
		return o, true, nil
	case errors.Is(err, ErrDuplicateSession):
		existing, err := r.orders.FindBySessionID(ctx, o.SessionID)
		if err != nil {
			return nil, false, fmt.Errorf("load existing order: %w", err)
		}
		return existing, false, nil
	default:
		return nil, false, fmt.Errorf("create order: %w", err)
	}
}

// FindBySessionID returns the order recorded for sessionID.
func (r *Recorder) FindBySessionID(ctx context.Context, sessionID string) (*Order, error) {
	if sessionID == "" {
		return nil, ErrMissingSessionID
	}
	return r.orders.FindBySessionID(ctx, sessionID)
}

func validate(o *Order) error {
	switch {
	case o == nil || len(o.Items) == 0:
		return ErrEmptyItems
	case o.SessionID == "":
		return ErrMissingSessionID
	case o.UserID == "":
		return ErrMissingUserID
	}
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			return &InvalidQuantityError{ProductID: item.ProductID}
		}
	}
	return nil
}
