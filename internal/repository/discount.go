package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/mernshop/checkout/internal/domain/discount"
)

const (
	discountColumns = `code, user_id, discount_percentage, active, expires_at, created_at`

	findActiveDiscountSQL = `SELECT ` + discountColumns + `
		FROM discount_codes WHERE code = $1 AND user_id = $2 AND active`

	findActiveDiscountByUserSQL = `SELECT ` + discountColumns + `
		FROM discount_codes WHERE user_id = $1 AND active
		ORDER BY created_at DESC LIMIT 1`

	deactivateDiscountSQL = `UPDATE discount_codes SET active = FALSE
		WHERE code = $1 AND user_id = $2 AND active`

	lockUserDiscountsSQL   = `SELECT pg_advisory_xact_lock(hashtext($1))`
	deleteUserDiscountsSQL = `DELETE FROM discount_codes WHERE user_id = $1`

	insertDiscountSQL = `INSERT INTO discount_codes (` + discountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)`

	upsertDiscountSQL = insertDiscountSQL + `
		ON CONFLICT (code, user_id) DO UPDATE SET
			discount_percentage = EXCLUDED.discount_percentage,
			active = EXCLUDED.active,
			expires_at = EXCLUDED.expires_at`
)

var _ discount.Repository = (*DiscountRepository)(nil)

// DiscountRepository implements discount.Repository backed by PostgreSQL.
type DiscountRepository struct {
	db DB
}

// NewDiscountRepository returns a DiscountRepository that uses the given pool.
func NewDiscountRepository(db DB) *DiscountRepository {
	return &DiscountRepository{db: db}
}

// FindActive looks up an active code owned by userID.
// Returns discount.ErrNotFound when no matching active code exists.
func (r *DiscountRepository) FindActive(ctx context.Context, code, userID string) (*discount.Code, error) {
	rows, err := r.db.Query(ctx, findActiveDiscountSQL, code, userID)
	if err != nil {
		return nil, fmt.Errorf("finding discount code %q: %w", code, err)
	}
	return collectDiscount(rows, code)
}

// FindActiveByUser returns the newest active code owned by userID.
func (r *DiscountRepository) FindActiveByUser(ctx context.Context, userID string) (*discount.Code, error) {
	rows, err := r.db.Query(ctx, findActiveDiscountByUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("finding discount code of user %q: %w", userID, err)
	}
	return collectDiscount(rows, "")
}

// Deactivate clears the active flag. Zero affected rows is not an error.
func (r *DiscountRepository) Deactivate(ctx context.Context, code, userID string) error {
	if _, err := r.db.Exec(ctx, deactivateDiscountSQL, code, userID); err != nil {
		return fmt.Errorf("deactivating discount code %q: %w", code, err)
	}
	return nil
}

// ReplaceForUser deletes every code of c.UserID and inserts c in one
// transaction. A transaction-scoped advisory lock on the user id serializes
// concurrent replacements for the same user.
func (r *DiscountRepository) ReplaceForUser(ctx context.Context, c *discount.Code) (rerr error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rerr != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err := tx.Exec(ctx, lockUserDiscountsSQL, c.UserID); err != nil {
		return fmt.Errorf("locking discount codes of user %q: %w", c.UserID, err)
	}
	if _, err := tx.Exec(ctx, deleteUserDiscountsSQL, c.UserID); err != nil {
		return fmt.Errorf("deleting discount codes of user %q: %w", c.UserID, err)
	}
	if _, err := tx.Exec(ctx, insertDiscountSQL, discountArgs(c)...); err != nil {
		return fmt.Errorf("inserting discount code %q: %w", c.Code, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing discount codes of user %q: %w", c.UserID, err)
	}
	return nil
}

// Upsert inserts c or overwrites the code with the same code and user.
func (r *DiscountRepository) Upsert(ctx context.Context, c *discount.Code) error {
	if _, err := r.db.Exec(ctx, upsertDiscountSQL, discountArgs(c)...); err != nil {
		return fmt.Errorf("upserting discount code %q: %w", c.Code, err)
	}
	return nil
}

func discountArgs(c *discount.Code) []any {
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return []any{c.Code, c.UserID, int32(c.Percentage), c.Active, c.ExpiresAt, createdAt}
}

func collectDiscount(rows pgx.Rows, code string) (*discount.Code, error) {
	c, err := pgx.CollectExactlyOneRow(rows, scanDiscount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrNotFound
		}
		return nil, fmt.Errorf("scanning discount code %q: %w", code, err)
	}
	return &c, nil
}

func scanDiscount(row pgx.CollectableRow) (discount.Code, error) {
	var (
		c   discount.Code
		pct int32
	)
	err := row.Scan(&c.Code, &c.UserID, &pct, &c.Active, &c.ExpiresAt, &c.CreatedAt)
	c.Percentage = int(pct)
	return c, err
}
