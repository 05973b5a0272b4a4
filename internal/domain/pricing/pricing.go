// Package pricing converts a cart of products into gateway line items and an
// exact payable total in minor currency units.
//
// Prices arrive as decimal currency units and are converted once, with
// round-half-away-from-zero, to int64 minor units. Every later sum, product
// and discount is integer arithmetic so the same cart always yields the same
// total at session creation and at reconciliation.
package pricing

import (
	"fmt"
	"math"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DefaultCurrency is used when Calculate is given an empty currency.
const DefaultCurrency = "usd"

var (
	hundred  = decimal.NewFromInt(100)
	maxMinor = decimal.NewFromInt(math.MaxInt64)
)

// ErrEmptyProducts is returned when the cart has no lines.
var ErrEmptyProducts = errors.New("invalid or empty products array")

// InvalidLineError indicates a single product line that cannot be priced.
type InvalidLineError struct {
	Index     int
	ProductID string
	Reason    string
}

func (e *InvalidLineError) Error() string {
	if e.ProductID == "" {
		return fmt.Sprintf("product line %d: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("product %s (line %d): %s", e.ProductID, e.Index, e.Reason)
}

// Product is a cart line as submitted by the client.
type Product struct {
	ID    string
	Name  string
	Image string
	Price decimal.Decimal
	// Quantity defaults to 1 when zero.
	Quantity int
}

// Qty returns the effective quantity of the line.
func (p Product) Qty() int {
	if p.Quantity == 0 {
		return 1
	}
	return p.Quantity
}

// LineItem is a gateway-ready line.
type LineItem struct {
	Currency   string
	UnitAmount int64
	Name       string
	Images     []string
	Quantity   int64
}

// Subtotal returns UnitAmount * Quantity.
func (l LineItem) Subtotal() int64 {
	return l.UnitAmount * l.Quantity
}

// Quote is the result of pricing a cart.
type Quote struct {
	Lines []LineItem
	// Total is the sum of all line subtotals in minor units.
	Total int64
}

// Calculate validates products and builds line items in input order.
func Calculate(products []Product, currency string) (*Quote, error) {
	if len(products) == 0 {
		return nil, ErrEmptyProducts
	}
	if currency == "" {
		currency = DefaultCurrency
	}

	q := &Quote{Lines: make([]LineItem, 0, len(products))}
	for i, p := range products {
		if err := validate(i, p); err != nil {
			return nil, err
		}

		unit, ok := toMinor(p.Price)
		if !ok {
			return nil, &InvalidLineError{Index: i, ProductID: p.ID, Reason: "price is too large"}
		}
		line := LineItem{
			Currency:   currency,
			UnitAmount: unit,
			Name:       p.Name,
			Quantity:   int64(p.Qty()),
		}
		if p.Image != "" {
			line.Images = []string{p.Image}
		}

		sub, ok := mulMinor(line.UnitAmount, line.Quantity)
		if !ok {
			return nil, &InvalidLineError{Index: i, ProductID: p.ID, Reason: "line amount is too large"}
		}
		if sub > math.MaxInt64-q.Total {
			return nil, &InvalidLineError{Index: i, ProductID: p.ID, Reason: "cart total is too large"}
		}
		q.Lines = append(q.Lines, line)
		q.Total += sub
	}

	return q, nil
}

func validate(i int, p Product) error {
	switch {
	case p.ID == "":
		return &InvalidLineError{Index: i, Reason: "missing product id"}
	case p.Quantity < 0:
		return &InvalidLineError{Index: i, ProductID: p.ID, Reason: "quantity must be greater than 0"}
	case p.Price.IsNegative():
		return &InvalidLineError{Index: i, ProductID: p.ID, Reason: "price must not be negative"}
	}
	return nil
}

// ToMinor converts decimal currency units to minor units, rounding half away
// from zero. The amount must fit in int64 minor units; Calculate rejects
// prices that do not.
func ToMinor(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// toMinor is ToMinor for non-negative amounts, reporting false instead of
// wrapping when the result exceeds int64.
func toMinor(amount decimal.Decimal) (int64, bool) {
	m := amount.Mul(hundred).Round(0)
	if m.GreaterThan(maxMinor) {
		return 0, false
	}
	return m.IntPart(), true
}

// mulMinor multiplies non-negative operands, reporting false on overflow.
func mulMinor(a, b int64) (int64, bool) {
	if a != 0 && b > math.MaxInt64/a {
		return 0, false
	}
	return a * b, true
}

// FromMinor converts minor units back to decimal currency units.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}
