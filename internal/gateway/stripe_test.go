package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81"

	"github.com/mernshop/checkout/internal/domain/checkout"
	"github.com/mernshop/checkout/internal/domain/pricing"
)

// stripeStub is a minimal Stripe API stand-in.
type stripeStub struct {
	mu       sync.Mutex
	sessions url.Values
	coupons  url.Values
	calls    []string
}

func (s *stripeStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, r.Method+" "+r.URL.Path)

	body, _ := io.ReadAll(r.Body)
	form, _ := url.ParseQuery(string(body))

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/coupons":
		s.coupons = form
		_, _ = io.WriteString(w, `{"id":"co_once_10","object":"coupon","percent_off":10,"duration":"once"}`)
	case r.Method == http.MethodPost && r.URL.Path == "/v1/checkout/sessions":
		s.sessions = form
		_, _ = io.WriteString(w, `{"id":"cs_test_a1","object":"checkout.session","payment_status":"unpaid","amount_total":22500}`)
	case r.Method == http.MethodGet && r.URL.Path == "/v1/checkout/sessions/cs_test_paid":
		_, _ = io.WriteString(w, `{
			"id":"cs_test_paid",
			"object":"checkout.session",
			"payment_status":"paid",
			"amount_total":22500,
			"metadata":{"userId":"u1","couponCode":"SAVE10","products":"[{\"id\":\"p1\",\"quantity\":5,\"price\":50}]"}
		}`)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/checkout/sessions/"):
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such checkout.session"}}`)
	default:
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":{"type":"api_error","message":"boom"}}`)
	}
}

func newTestStripe(t *testing.T, h http.Handler) *Stripe {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		HTTPClient:        srv.Client(),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	return NewStripe("sk_test_123", &stripe.Backends{
		API:     backend,
		Connect: backend,
		Uploads: backend,
	})
}

func TestStripe_CreateSession(t *testing.T) {
	stub := &stripeStub{}
	gw := newTestStripe(t, stub)

	sess, err := gw.CreateSession(context.Background(), checkout.SessionRequest{
		Lines: []pricing.LineItem{{
			Currency:   "usd",
			UnitAmount: 5000,
			Name:       "Jacket",
			Images:     []string{"https://img/jacket.png"},
			Quantity:   5,
		}},
		SuccessURL: "https://shop/purchase-success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  "https://shop/purchase-cancel",
		Metadata: map[string]string{
			checkout.MetadataUserID:     "u1",
			checkout.MetadataCouponCode: "SAVE10",
			checkout.MetadataProducts:   `[{"id":"p1","quantity":5,"price":50}]`,
		},
		DiscountPercentage: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_a1", sess.ID)
	assert.Equal(t, int64(22500), sess.AmountTotal)

	stub.mu.Lock()
	defer stub.mu.Unlock()
	require.Equal(t, []string{"POST /v1/coupons", "POST /v1/checkout/sessions"}, stub.calls)

	pct, err := strconv.ParseFloat(stub.coupons.Get("percent_off"), 64)
	require.NoError(t, err)
	assert.Equal(t, 10.0, pct)
	assert.Equal(t, "once", stub.coupons.Get("duration"))

	f := stub.sessions
	assert.Equal(t, "payment", f.Get("mode"))
	assert.Equal(t, "card", f.Get("payment_method_types[0]"))
	assert.Equal(t, "https://shop/purchase-cancel", f.Get("cancel_url"))
	assert.Equal(t, "usd", f.Get("line_items[0][price_data][currency]"))
	assert.Equal(t, "5000", f.Get("line_items[0][price_data][unit_amount]"))
	assert.Equal(t, "Jacket", f.Get("line_items[0][price_data][product_data][name]"))
	assert.Equal(t, "https://img/jacket.png", f.Get("line_items[0][price_data][product_data][images][0]"))
	assert.Equal(t, "5", f.Get("line_items[0][quantity]"))
	assert.Equal(t, "co_once_10", f.Get("discounts[0][coupon]"))
	assert.Equal(t, "u1", f.Get("metadata[userId]"))
	assert.Equal(t, "SAVE10", f.Get("metadata[couponCode]"))
	assert.Equal(t, `[{"id":"p1","quantity":5,"price":50}]`, f.Get("metadata[products]"))
}

func TestStripe_CreateSession_NoDiscount(t *testing.T) {
	stub := &stripeStub{}
	gw := newTestStripe(t, stub)

	_, err := gw.CreateSession(context.Background(), checkout.SessionRequest{
		Lines: []pricing.LineItem{{Currency: "usd", UnitAmount: 100, Name: "Pin", Quantity: 1}},
	})
	require.NoError(t, err)

	stub.mu.Lock()
	defer stub.mu.Unlock()
	assert.Equal(t, []string{"POST /v1/checkout/sessions"}, stub.calls)
	assert.Empty(t, stub.sessions.Get("discounts[0][coupon]"))
	assert.Empty(t, stub.sessions.Get("line_items[0][price_data][product_data][images][0]"))
}

func TestStripe_RetrieveSession(t *testing.T) {
	gw := newTestStripe(t, &stripeStub{})

	sess, err := gw.RetrieveSession(context.Background(), "cs_test_paid")
	require.NoError(t, err)
	assert.True(t, sess.Paid())
	assert.Equal(t, int64(22500), sess.AmountTotal)
	assert.Equal(t, "u1", sess.Metadata[checkout.MetadataUserID])
	assert.Equal(t, "SAVE10", sess.Metadata[checkout.MetadataCouponCode])

	items, err := checkout.DecodeSnapshot(sess.Metadata[checkout.MetadataProducts])
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 5, items[0].Quantity)
}

func TestStripe_RetrieveSession_NotFound(t *testing.T) {
	gw := newTestStripe(t, &stripeStub{})

	_, err := gw.RetrieveSession(context.Background(), "cs_missing")
	require.ErrorIs(t, err, checkout.ErrSessionNotFound)
}

func TestStripe_ServerError(t *testing.T) {
	gw := newTestStripe(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":{"type":"api_error","message":"boom"}}`)
	}))

	_, err := gw.RetrieveSession(context.Background(), "cs_any")
	require.Error(t, err)
	assert.NotErrorIs(t, err, checkout.ErrSessionNotFound)

	var serr *stripe.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusInternalServerError, serr.HTTPStatusCode)
}
