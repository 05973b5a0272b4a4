package gateway

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/mernshop/checkout/internal/domain/checkout"
)

// ErrUnavailable is returned while the breaker rejects calls.
var ErrUnavailable = errors.New("payment gateway unavailable")

// BreakerConfig configures Breaker.
type BreakerConfig struct {
	// ConsecutiveFailures opens the breaker.
	ConsecutiveFailures uint32        `default:"5"`
	OpenTimeout         time.Duration `default:"30s"`
	HalfOpenRequests    uint32        `default:"1"`
	Interval            time.Duration `default:"60s"`
}

var _ checkout.Gateway = (*Breaker)(nil)

// Breaker guards a checkout.Gateway with a circuit breaker. Unknown session
// ids and caller cancellations do not count as failures.
type Breaker struct {
	next checkout.Gateway
	cb   *gobreaker.CircuitBreaker[*checkout.Session]
}

// NewBreaker wraps next.
func NewBreaker(next checkout.Gateway, cfg BreakerConfig, lg *zap.Logger) *Breaker {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Breaker{
		next: next,
		cb: gobreaker.NewCircuitBreaker[*checkout.Session](gobreaker.Settings{
			Name:        "payment-gateway",
			MaxRequests: cfg.HalfOpenRequests,
			Interval:    cfg.Interval,
			Timeout:     cfg.OpenTimeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= cfg.ConsecutiveFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				lg.Warn("Circuit breaker state changed",
					zap.String("name", name),
					zap.Stringer("from", from),
					zap.Stringer("to", to),
				)
			},
			IsSuccessful: isSuccessful,
		}),
	}
}

func isSuccessful(err error) bool {
	return err == nil ||
		errors.Is(err, checkout.ErrSessionNotFound) ||
		errors.Is(err, context.Canceled)
}

// CreateSession implements checkout.Gateway.
func (b *Breaker) CreateSession(ctx context.Context, req checkout.SessionRequest) (*checkout.Session, error) {
	return b.execute(func() (*checkout.Session, error) {
		return b.next.CreateSession(ctx, req)
	})
}

// RetrieveSession implements checkout.Gateway.
func (b *Breaker) RetrieveSession(ctx context.Context, id string) (*checkout.Session, error) {
	return b.execute(func() (*checkout.Session, error) {
		return b.next.RetrieveSession(ctx, id)
	})
}

// State returns the current breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

func (b *Breaker) execute(fn func() (*checkout.Session, error)) (*checkout.Session, error) {
	s, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, errors.Wrap(ErrUnavailable, err.Error())
	}
	return s, err
}
