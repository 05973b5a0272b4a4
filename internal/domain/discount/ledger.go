// Package discount implements the per-user discount code ledger: lookup,
// percentage application, redemption and reward issuance.
package discount

import (
	"context"
	"crypto/rand"
	"math/big"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

const rewardAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Policy holds the reward and expiry rules of the ledger.
type Policy struct {
	// RewardThreshold is the minimum payable total, in minor units, that
	// earns a reward code.
	RewardThreshold  int64
	RewardPercentage int
	RewardTTL        time.Duration
	RewardPrefix     string
	RewardSuffixLen  int
	// EnforceExpiry hides expired codes from lookups.
	EnforceExpiry bool
}

// DefaultPolicy returns the production reward policy: $200 threshold, 10%
// off, valid for 30 days.
func DefaultPolicy() Policy {
	return Policy{
		RewardThreshold:  20000,
		RewardPercentage: 10,
		RewardTTL:        30 * 24 * time.Hour,
		RewardPrefix:     "GIFT",
		RewardSuffixLen:  6,
		EnforceExpiry:    true,
	}
}

// Ledger applies Policy on top of a Repository.
type Ledger struct {
	repo   Repository
	policy Policy
	now    func() time.Time
	suffix func(n int) (string, error)
}

// NewLedger creates a Ledger backed by repo.
func NewLedger(repo Repository, policy Policy) *Ledger {
	if policy.RewardSuffixLen <= 0 {
		policy.RewardSuffixLen = 6
	}
	return &Ledger{
		repo:   repo,
		policy: policy,
		now:    time.Now,
		suffix: randomSuffix,
	}
}

// NormalizeCode trims and upper-cases a code as typed by a customer. Codes
// are stored in this form.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// LookupActive returns the code only if it belongs to userID, is active and
// is not expired. A missing code is reported as found=false, not as an error.
// Matching is case-insensitive.
func (l *Ledger) LookupActive(ctx context.Context, code, userID string) (*Code, bool, error) {
	code = NormalizeCode(code)
	if code == "" || userID == "" {
		return nil, false, nil
	}

	c, err := l.repo.FindActive(ctx, code, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "lookup discount code")
	}
	if !l.usable(c, userID) {
		return nil, false, nil
	}
	return c, true, nil
}

// ActiveForUser returns the newest usable code owned by userID.
func (l *Ledger) ActiveForUser(ctx context.Context, userID string) (*Code, bool, error) {
	c, err := l.repo.FindActiveByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "lookup user discount code")
	}
	if !l.usable(c, userID) {
		return nil, false, nil
	}
	return c, true, nil
}

func (l *Ledger) usable(c *Code, userID string) bool {
	if c == nil || !c.Active || c.UserID != userID {
		return false
	}
	if l.policy.EnforceExpiry && c.Expired(l.now()) {
		return false
	}
	return true
}

// Deactivate marks the code inactive. Calling it for a missing or already
// inactive code is a no-op.
func (l *Ledger) Deactivate(ctx context.Context, code, userID string) error {
	code = NormalizeCode(code)
	if code == "" {
		return nil
	}
	if err := l.repo.Deactivate(ctx, code, userID); err != nil {
		return errors.Wrap(err, "deactivate discount code")
	}
	return nil
}

// QualifiesForReward reports whether a payable total earns a reward code.
func (l *Ledger) QualifiesForReward(total int64) bool {
	return total >= l.policy.RewardThreshold
}

// IssueReward replaces every code owned by userID with a fresh reward code.
// Errors are returned as *RewardIssuanceError.
func (l *Ledger) IssueReward(ctx context.Context, userID string) (*Code, error) {
	if userID == "" {
		return nil, &RewardIssuanceError{Err: errors.New("missing user id")}
	}

	suffix, err := l.suffix(l.policy.RewardSuffixLen)
	if err != nil {
		return nil, &RewardIssuanceError{UserID: userID, Err: errors.Wrap(err, "generate code")}
	}

	now := l.now()
	c := &Code{
		Code:       l.policy.RewardPrefix + suffix,
		UserID:     userID,
		Percentage: l.policy.RewardPercentage,
		Active:     true,
		ExpiresAt:  now.Add(l.policy.RewardTTL),
		CreatedAt:  now,
	}
	if err := l.repo.ReplaceForUser(ctx, c); err != nil {
		return nil, &RewardIssuanceError{UserID: userID, Err: err}
	}
	return c, nil
}

// Apply discounts total by pct percent: total - round(total*pct/100), with
// the same round-half-up policy the pricing calculator uses. pct is clamped
// to [0, 100].
func Apply(total int64, pct int) int64 {
	switch {
	case pct <= 0 || total <= 0:
		return total
	case pct > 100:
		pct = 100
	}
	off := (total*int64(pct) + 50) / 100
	return total - off
}

func randomSuffix(n int) (string, error) {
	limit := big.NewInt(int64(len(rewardAlphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b[i] = rewardAlphabet[idx.Int64()]
	}
	return string(b), nil
}
