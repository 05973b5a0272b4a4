// Package gateway adapts external payment providers to checkout.Gateway.
package gateway

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/mernshop/checkout/internal/domain/checkout"
)

var _ checkout.Gateway = (*Stripe)(nil)

// Stripe opens and reads Stripe Checkout sessions in payment mode.
type Stripe struct {
	api *client.API
}

// NewStripe creates a Stripe gateway. A nil backends uses the public Stripe
// API.
func NewStripe(secretKey string, backends *stripe.Backends) *Stripe {
	api := &client.API{}
	api.Init(secretKey, backends)
	return &Stripe{api: api}
}

// CreateSession creates a card checkout session. A non-zero discount is
// applied through a single-use percentage coupon created for this session.
func (s *Stripe) CreateSession(ctx context.Context, req checkout.SessionRequest) (*checkout.Session, error) {
	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:         stripe.String(req.SuccessURL),
		CancelURL:          stripe.String(req.CancelURL),
	}
	params.Context = ctx

	for _, l := range req.Lines {
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(l.Name),
		}
		if len(l.Images) > 0 {
			product.Images = stripe.StringSlice(l.Images)
		}
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(l.Currency),
				ProductData: product,
				UnitAmount:  stripe.Int64(l.UnitAmount),
			},
			Quantity: stripe.Int64(l.Quantity),
		})
	}

	if req.DiscountPercentage > 0 {
		couponID, err := s.createCoupon(ctx, req.DiscountPercentage)
		if err != nil {
			return nil, err
		}
		params.Discounts = []*stripe.CheckoutSessionDiscountParams{
			{Coupon: stripe.String(couponID)},
		}
	}

	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, errors.Wrap(err, "stripe: create checkout session")
	}
	return convertSession(sess), nil
}

// RetrieveSession returns checkout.ErrSessionNotFound for ids Stripe does not
// know.
func (s *Stripe) RetrieveSession(ctx context.Context, id string) (*checkout.Session, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	sess, err := s.api.CheckoutSessions.Get(id, params)
	if err != nil {
		if isResourceMissing(err) {
			return nil, errors.Wrapf(checkout.ErrSessionNotFound, "stripe session %q", id)
		}
		return nil, errors.Wrap(err, "stripe: retrieve checkout session")
	}
	return convertSession(sess), nil
}

func (s *Stripe) createCoupon(ctx context.Context, pct int) (string, error) {
	params := &stripe.CouponParams{
		PercentOff: stripe.Float64(float64(pct)),
		Duration:   stripe.String(string(stripe.CouponDurationOnce)),
	}
	params.Context = ctx

	c, err := s.api.Coupons.New(params)
	if err != nil {
		return "", errors.Wrap(err, "stripe: create coupon")
	}
	return c.ID, nil
}

func convertSession(s *stripe.CheckoutSession) *checkout.Session {
	return &checkout.Session{
		ID:            s.ID,
		PaymentStatus: string(s.PaymentStatus),
		Metadata:      s.Metadata,
		AmountTotal:   s.AmountTotal,
	}
}

func isResourceMissing(err error) bool {
	var serr *stripe.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.Code == stripe.ErrorCodeResourceMissing || serr.HTTPStatusCode == http.StatusNotFound
}
