package discount

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned by repositories when no matching code exists.
var ErrNotFound = errors.New("discount code not found")

// Code is a per-user discount code.
type Code struct {
	Code       string
	UserID     string
	Percentage int
	Active     bool
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// Expired reports whether the code has passed its expiration at now.
func (c *Code) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// RewardIssuanceError wraps a failure to issue a reward code. It never fails
// the enclosing checkout.
type RewardIssuanceError struct {
	UserID string
	Err    error
}

func (e *RewardIssuanceError) Error() string {
	return fmt.Sprintf("issue reward code for user %s: %v", e.UserID, e.Err)
}

func (e *RewardIssuanceError) Unwrap() error {
	return e.Err
}

// Repository persists discount codes.
type Repository interface {
	// FindActive returns the active code matching code and userID, or
	// ErrNotFound.
	FindActive(ctx context.Context, code, userID string) (*Code, error)
	// FindActiveByUser returns the newest active code of userID, or ErrNotFound.
	FindActiveByUser(ctx context.Context, userID string) (*Code, error)
	// Deactivate clears the active flag. Missing codes are not an error.
	Deactivate(ctx context.Context, code, userID string) error
	// ReplaceForUser deletes every code of c.UserID and inserts c, atomically
	// and serialized per user.
	ReplaceForUser(ctx context.Context, c *Code) error
	// Upsert inserts c or overwrites the code with the same code and user.
	Upsert(ctx context.Context, c *Code) error
}
