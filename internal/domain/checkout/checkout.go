// Package checkout orchestrates the two-phase checkout flow: a payment
// session is opened with the gateway, and once the gateway reports it paid the
// order is recorded from the session metadata.
package checkout

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/mernshop/checkout/internal/domain/pricing"
)

// Metadata keys attached to every gateway session.
const (
	MetadataUserID     = "userId"
	MetadataCouponCode = "couponCode"
	MetadataProducts   = "products"
)

// PaymentStatusPaid is the gateway payment status of a settled session.
const PaymentStatusPaid = "paid"

// State of a single checkout attempt.
type State string

const (
	StateInitiated  State = "INITIATED"
	StatePending    State = "PENDING"
	StateFinalizing State = "FINALIZING"
	StateCompleted  State = "COMPLETED"
	StateRejected   State = "REJECTED"
	StateFailed     State = "FAILED"
)

var transitions = map[State][]State{
	StateInitiated:  {StatePending, StateFailed},
	StatePending:    {StateFinalizing, StateRejected, StateFailed},
	StateFinalizing: {StateCompleted, StateFailed},
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s State) CanTransitionTo(next State) bool {
	for _, st := range transitions[s] {
		if st == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// InvalidInputError is a user-correctable error. It is always returned before
// any remote call is made.
type InvalidInputError struct {
	Reason string
	Err    error
}

func (e *InvalidInputError) Error() string {
	switch {
	case e.Err == nil:
		return e.Reason
	case e.Reason == "":
		return e.Err.Error()
	default:
		return e.Reason + ": " + e.Err.Error()
	}
}

func (e *InvalidInputError) Unwrap() error {
	return e.Err
}

var (
	// ErrMissingSessionID is returned by Finalize for an empty session id.
	ErrMissingSessionID = &InvalidInputError{Reason: "Missing session ID"}
	// ErrMissingUserID is returned by Initiate for an anonymous caller.
	ErrMissingUserID = &InvalidInputError{Reason: "Missing user ID"}
	// ErrSessionNotFound is returned when the gateway does not know the session.
	ErrSessionNotFound = errors.New("checkout session not found")
)

// SessionRequest describes a payment session to open.
type SessionRequest struct {
	Lines      []pricing.LineItem
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
	// DiscountPercentage is a one-time percentage discount applied by the
	// gateway on top of Lines. Zero means none.
	DiscountPercentage int
}

// Session is the gateway view of a payment session.
type Session struct {
	ID            string
	PaymentStatus string
	Metadata      map[string]string
	// AmountTotal is the charged amount in minor units.
	AmountTotal int64
}

// Paid reports whether the gateway settled the session.
func (s *Session) Paid() bool {
	return s.PaymentStatus == PaymentStatusPaid
}

// Gateway is the external payment service.
type Gateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	// RetrieveSession returns ErrSessionNotFound for unknown ids.
	RetrieveSession(ctx context.Context, id string) (*Session, error)
}
