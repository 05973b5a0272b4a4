// Package handler exposes the checkout and coupon HTTP API.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/mernshop/checkout/internal/domain/checkout"
	"github.com/mernshop/checkout/internal/domain/discount"
)

const maxBodyBytes = 1 << 20

// CheckoutService runs the two checkout phases.
type CheckoutService interface {
	Initiate(ctx context.Context, req checkout.InitiateRequest) (*checkout.InitiateResult, error)
	Finalize(ctx context.Context, sessionID string) (*checkout.FinalizeResult, error)
}

// CouponService reads the caller's discount codes.
type CouponService interface {
	ActiveForUser(ctx context.Context, userID string) (*discount.Code, bool, error)
	LookupActive(ctx context.Context, code, userID string) (*discount.Code, bool, error)
}

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// RequestTimeout bounds every API call, including gateway and storage
	// round trips. Zero disables the bound.
	RequestTimeout time.Duration
	// PaymentMiddlewares run on the payments routes after authentication,
	// e.g. a per-user rate limit.
	PaymentMiddlewares []func(http.Handler) http.Handler
}

// Handler serves the API, delegating business logic to the checkout service
// and the discount ledger.
type Handler struct {
	checkout CheckoutService
	coupons  CouponService
	timeout  time.Duration
	payments []func(http.Handler) http.Handler
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(cfg HandlerConfig, checkoutSvc CheckoutService, coupons CouponService) *Handler {
	return &Handler{
		checkout: checkoutSvc,
		coupons:  coupons,
		timeout:  cfg.RequestTimeout,
		payments: cfg.PaymentMiddlewares,
	}
}

// Routes returns the API router. Every route requires authentication.
func (h *Handler) Routes(sec *SecurityHandler) chi.Router {
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(sec.Authenticate)

		r.Route("/payments", func(r chi.Router) {
			r.Use(h.payments...)
			r.Post("/create-checkout-session", h.CreateCheckoutSession)
			r.Post("/checkout-success", h.CheckoutSuccess)
		})
		r.Route("/coupons", func(r chi.Router) {
			r.Get("/", h.GetCoupon)
			r.Post("/validate", h.ValidateCoupon)
		})
	})
	return r
}

func (h *Handler) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), h.timeout)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

// writeJSON writes v with status. Encoding errors are logged only, the
// status line is already sent.
func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zctx.From(ctx).Debug("Write response", zap.Error(err))
	}
}

type errorResponse struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}
