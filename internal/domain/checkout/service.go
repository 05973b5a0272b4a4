package checkout

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/mernshop/checkout/internal/domain/discount"
	"github.com/mernshop/checkout/internal/domain/order"
	"github.com/mernshop/checkout/internal/domain/pricing"
)

// Discounts is the subset of the discount ledger used by checkout.
type Discounts interface {
	LookupActive(ctx context.Context, code, userID string) (*discount.Code, bool, error)
	Deactivate(ctx context.Context, code, userID string) error
	QualifiesForReward(total int64) bool
	IssueReward(ctx context.Context, userID string) (*discount.Code, error)
}

// Orders records completed purchases idempotently.
type Orders interface {
	Record(ctx context.Context, o *order.Order) (*order.Order, bool, error)
}

// Publisher announces freshly recorded orders.
type Publisher interface {
	PublishOrderCompleted(ctx context.Context, o *order.Order) error
}

// ResultCache remembers which order completed a session.
type ResultCache interface {
	Lookup(ctx context.Context, sessionID string) (orderID string, ok bool, err error)
	Store(ctx context.Context, sessionID, orderID string) error
}

// Options configures Service. Zero values are valid.
type Options struct {
	Currency   string
	SuccessURL string
	CancelURL  string

	// Publisher and Cache are optional.
	Publisher Publisher
	Cache     ResultCache

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

func (o *Options) setDefaults() {
	if o.Currency == "" {
		o.Currency = pricing.DefaultCurrency
	}
	if o.TracerProvider == nil {
		o.TracerProvider = tracenoop.NewTracerProvider()
	}
	if o.MeterProvider == nil {
		o.MeterProvider = metricnoop.NewMeterProvider()
	}
}

type metrics struct {
	sessionsCreated   metric.Int64Counter
	ordersRecorded    metric.Int64Counter
	duplicateFinalize metric.Int64Counter
	paymentsRejected  metric.Int64Counter
	rewardsIssued     metric.Int64Counter
	rewardFailures    metric.Int64Counter
}

func newMetrics(m metric.Meter) (*metrics, error) {
	var (
		out metrics
		err error
	)
	for _, c := range []struct {
		ptr  *metric.Int64Counter
		name string
		desc string
	}{
		{&out.sessionsCreated, "checkout.sessions.created", "Payment sessions opened"},
		{&out.ordersRecorded, "checkout.orders.recorded", "Orders freshly recorded"},
		{&out.duplicateFinalize, "checkout.finalize.duplicate", "Finalize calls that found an existing order"},
		{&out.paymentsRejected, "checkout.payments.rejected", "Finalize calls for unpaid sessions"},
		{&out.rewardsIssued, "checkout.rewards.issued", "Reward codes issued"},
		{&out.rewardFailures, "checkout.rewards.failed", "Reward code issuance failures"},
	} {
		if *c.ptr, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, errors.Wrapf(err, "create counter %q", c.name)
		}
	}
	return &out, nil
}

// Service is the checkout orchestrator.
type Service struct {
	gateway   Gateway
	discounts Discounts
	orders    Orders
	opts      Options

	tracer  trace.Tracer
	metrics *metrics
}

// NewService creates a checkout Service.
func NewService(gateway Gateway, discounts Discounts, orders Orders, opts Options) (*Service, error) {
	opts.setDefaults()

	m, err := newMetrics(opts.MeterProvider.Meter("checkout"))
	if err != nil {
		return nil, err
	}
	return &Service{
		gateway:   gateway,
		discounts: discounts,
		orders:    orders,
		opts:      opts,
		tracer:    opts.TracerProvider.Tracer("checkout"),
		metrics:   m,
	}, nil
}

// InitiateRequest is the input of Initiate.
type InitiateRequest struct {
	UserID     string
	Products   []pricing.Product
	CouponCode string
}

// InitiateResult is the output of Initiate.
type InitiateResult struct {
	SessionID string
	// Total is the payable amount in minor units, after discount.
	Total int64
	State State
	// Coupon is the applied discount code, if any.
	Coupon *discount.Code
	// Reward is the code issued for this checkout, if any.
	Reward *discount.Code
	// RewardErr is set when the total qualified but issuance failed. It never
	// fails the checkout.
	RewardErr error
}

// Initiate prices the cart, applies the coupon and opens a payment session.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (_ *InitiateResult, rerr error) {
	ctx, span := s.tracer.Start(ctx, "checkout.Initiate",
		trace.WithAttributes(attribute.Int("checkout.products", len(req.Products))),
	)
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()
	lg := zctx.From(ctx)

	if req.UserID == "" {
		return nil, ErrMissingUserID
	}
	quote, err := pricing.Calculate(req.Products, s.opts.Currency)
	if err != nil {
		return nil, &InvalidInputError{Err: err}
	}

	res := &InitiateResult{State: StateInitiated, Total: quote.Total}

	var pct int
	if req.CouponCode != "" {
		c, found, err := s.discounts.LookupActive(ctx, req.CouponCode, req.UserID)
		if err != nil {
			return nil, errors.Wrap(err, "resolve coupon")
		}
		if found {
			res.Coupon = c
			pct = c.Percentage
			res.Total = discount.Apply(quote.Total, pct)
		} else {
			lg.Info("Coupon not applicable", zap.String("couponCode", req.CouponCode))
		}
	}

	snapshot := make([]SnapshotItem, len(req.Products))
	for i, p := range req.Products {
		snapshot[i] = SnapshotItem{ID: p.ID, Quantity: p.Qty(), Price: p.Price}
	}
	md := map[string]string{
		MetadataUserID:     req.UserID,
		MetadataCouponCode: "",
		MetadataProducts:   EncodeSnapshot(snapshot),
	}
	if res.Coupon != nil {
		md[MetadataCouponCode] = res.Coupon.Code
	}

	sess, err := s.gateway.CreateSession(ctx, SessionRequest{
		Lines:              quote.Lines,
		SuccessURL:         s.opts.SuccessURL,
		CancelURL:          s.opts.CancelURL,
		Metadata:           md,
		DiscountPercentage: pct,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create checkout session")
	}
	res.SessionID = sess.ID
	res.State = StatePending
	s.metrics.sessionsCreated.Add(ctx, 1)
	span.SetAttributes(attribute.String("checkout.session_id", sess.ID))

	if s.discounts.QualifiesForReward(res.Total) {
		reward, err := s.discounts.IssueReward(ctx, req.UserID)
		if err != nil {
			lg.Warn("Reward issuance failed", zap.String("userId", req.UserID), zap.Error(err))
			s.metrics.rewardFailures.Add(ctx, 1)
			res.RewardErr = err
		} else {
			s.metrics.rewardsIssued.Add(ctx, 1)
			res.Reward = reward
		}
	}

	lg.Info("Checkout session created",
		zap.String("sessionId", res.SessionID),
		zap.Int64("total", res.Total),
		zap.Bool("couponApplied", res.Coupon != nil),
	)
	return res, nil
}

// FinalizeResult is the output of Finalize.
type FinalizeResult struct {
	State   State
	OrderID string
	// Created is false when the order already existed.
	Created bool
	// Order is nil when the result was served from the cache.
	Order         *order.Order
	PaymentStatus string
}

// Finalize records the order of a paid session. An unpaid session yields
// StateRejected with a nil error. Repeated calls for the same session return
// the same order.
func (s *Service) Finalize(ctx context.Context, sessionID string) (_ *FinalizeResult, rerr error) {
	ctx, span := s.tracer.Start(ctx, "checkout.Finalize",
		trace.WithAttributes(attribute.String("checkout.session_id", sessionID)),
	)
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()
	lg := zctx.From(ctx).With(zap.String("sessionId", sessionID))

	if sessionID == "" {
		return nil, ErrMissingSessionID
	}

	if s.opts.Cache != nil {
		id, ok, err := s.opts.Cache.Lookup(ctx, sessionID)
		switch {
		case err != nil:
			lg.Warn("Finalize cache lookup failed", zap.Error(err))
		case ok:
			s.metrics.duplicateFinalize.Add(ctx, 1)
			return &FinalizeResult{
				State:         StateCompleted,
				OrderID:       id,
				PaymentStatus: PaymentStatusPaid,
			}, nil
		}
	}

	sess, err := s.gateway.RetrieveSession(ctx, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "retrieve checkout session")
	}
	if !sess.Paid() {
		s.metrics.paymentsRejected.Add(ctx, 1)
		lg.Info("Payment not completed", zap.String("paymentStatus", sess.PaymentStatus))
		return &FinalizeResult{State: StateRejected, PaymentStatus: sess.PaymentStatus}, nil
	}

	userID := sess.Metadata[MetadataUserID]
	couponCode := sess.Metadata[MetadataCouponCode]
	if couponCode != "" {
		if err := s.discounts.Deactivate(ctx, couponCode, userID); err != nil {
			return nil, errors.Wrap(err, "deactivate coupon")
		}
	}

	snapshot, err := DecodeSnapshot(sess.Metadata[MetadataProducts])
	if err != nil {
		return nil, err
	}
	items := make([]order.Item, len(snapshot))
	for i, it := range snapshot {
		items[i] = order.Item{ProductID: it.ID, Quantity: it.Quantity, Price: it.Price}
	}

	stored, created, err := s.orders.Record(ctx, &order.Order{
		UserID:      userID,
		Items:       items,
		TotalAmount: pricing.FromMinor(sess.AmountTotal),
		SessionID:   sessionID,
		CouponCode:  couponCode,
	})
	if err != nil {
		return nil, errors.Wrap(err, "record order")
	}

	if created {
		s.metrics.ordersRecorded.Add(ctx, 1)
		lg.Info("Order recorded", zap.String("orderId", stored.ID))
		if s.opts.Publisher != nil {
			if err := s.opts.Publisher.PublishOrderCompleted(ctx, stored); err != nil {
				lg.Warn("Publish order event failed", zap.String("orderId", stored.ID), zap.Error(err))
			}
		}
	} else {
		s.metrics.duplicateFinalize.Add(ctx, 1)
		lg.Info("Order already recorded", zap.String("orderId", stored.ID))
	}

	if s.opts.Cache != nil {
		if err := s.opts.Cache.Store(ctx, sessionID, stored.ID); err != nil {
			lg.Warn("Finalize cache store failed", zap.Error(err))
		}
	}

	return &FinalizeResult{
		State:         StateCompleted,
		OrderID:       stored.ID,
		Created:       created,
		Order:         stored,
		PaymentStatus: sess.PaymentStatus,
	}, nil
}
