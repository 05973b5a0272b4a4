package repository

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mernshop/checkout/internal/domain/discount"
	"github.com/mernshop/checkout/internal/domain/order"
)

var discountCols = []string{"code", "user_id", "discount_percentage", "active", "expires_at", "created_at"}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return mock
}

func TestDiscountRepository_FindActive(t *testing.T) {
	mock := newMock(t)
	repo := NewDiscountRepository(mock)
	expires := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(findActiveDiscountSQL)).
		WithArgs("SAVE10", "u1").
		WillReturnRows(pgxmock.NewRows(discountCols).
			AddRow("SAVE10", "u1", int32(10), true, expires, created))

	c, err := repo.FindActive(context.Background(), "SAVE10", "u1")
	require.NoError(t, err)
	assert.Equal(t, &discount.Code{
		Code:       "SAVE10",
		UserID:     "u1",
		Percentage: 10,
		Active:     true,
		ExpiresAt:  expires,
		CreatedAt:  created,
	}, c)
}

func TestDiscountRepository_FindActive_NotFound(t *testing.T) {
	mock := newMock(t)
	repo := NewDiscountRepository(mock)

	mock.ExpectQuery(regexp.QuoteMeta(findActiveDiscountSQL)).
		WithArgs("NOPE", "u1").
		WillReturnRows(pgxmock.NewRows(discountCols))

	_, err := repo.FindActive(context.Background(), "NOPE", "u1")
	require.ErrorIs(t, err, discount.ErrNotFound)
}

func TestDiscountRepository_FindActive_QueryError(t *testing.T) {
	mock := newMock(t)
	repo := NewDiscountRepository(mock)

	mock.ExpectQuery(regexp.QuoteMeta(findActiveDiscountSQL)).
		WithArgs("SAVE10", "u1").
		WillReturnError(errors.New("conn closed"))

	_, err := repo.FindActive(context.Background(), "SAVE10", "u1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, discount.ErrNotFound)
	assert.Contains(t, err.Error(), "finding discount code")
}

func TestDiscountRepository_FindActiveByUser(t *testing.T) {
	mock := newMock(t)
	repo := NewDiscountRepository(mock)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(findActiveDiscountByUserSQL)).
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows(discountCols).
			AddRow("GIFTABC123", "u1", int32(10), true, now.Add(720*time.Hour), now))

	c, err := repo.FindActiveByUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "GIFTABC123", c.Code)
}

func TestDiscountRepository_Deactivate(t *testing.T) {
	mock := newMock(t)
	repo := NewDiscountRepository(mock)

	mock.ExpectExec(regexp.QuoteMeta(deactivateDiscountSQL)).
		WithArgs("SAVE10", "u1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta(deactivateDiscountSQL)).
		WithArgs("SAVE10", "u1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, repo.Deactivate(context.Background(), "SAVE10", "u1"))
	require.NoError(t, repo.Deactivate(context.Background(), "SAVE10", "u1"))
}

func rewardCode() *discount.Code {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return &discount.Code{
		Code:       "GIFTZZ9911",
		UserID:     "u1",
		Percentage: 10,
		Active:     true,
		ExpiresAt:  now.Add(30 * 24 * time.Hour),
		CreatedAt:  now,
	}
}

func TestDiscountRepository_ReplaceForUser(t *testing.T) {
	mock := newMock(t)
	repo := NewDiscountRepository(mock)
	c := rewardCode()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(lockUserDiscountsSQL)).
		WithArgs("u1").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(regexp.QuoteMeta(deleteUserDiscountsSQL)).
		WithArgs("u1").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec(regexp.QuoteMeta(insertDiscountSQL)).
		WithArgs(c.Code, c.UserID, int32(10), true, c.ExpiresAt, c.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, repo.ReplaceForUser(context.Background(), c))
}

func TestDiscountRepository_ReplaceForUser_RollsBack(t *testing.T) {
	mock := newMock(t)
	repo := NewDiscountRepository(mock)
	c := rewardCode()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(lockUserDiscountsSQL)).
		WithArgs("u1").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(regexp.QuoteMeta(deleteUserDiscountsSQL)).
		WithArgs("u1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(regexp.QuoteMeta(insertDiscountSQL)).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "40P01", Message: "deadlock detected"})
	mock.ExpectRollback()

	err := repo.ReplaceForUser(context.Background(), c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inserting discount code")
}

func TestDiscountRepository_Upsert(t *testing.T) {
	mock := newMock(t)
	repo := NewDiscountRepository(mock)
	c := rewardCode()

	mock.ExpectExec(regexp.QuoteMeta(upsertDiscountSQL)).
		WithArgs(c.Code, c.UserID, int32(10), true, c.ExpiresAt, c.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Upsert(context.Background(), c))
}

var orderCols = []string{"id", "user_id", "items", "total_amount", "checkout_session_id", "coupon_code", "created_at"}

func testOrder() *order.Order {
	return &order.Order{
		ID:     "0b6d3a2e-7f8c-4f0e-9f43-6a1f1f2f8c11",
		UserID: "u1",
		Items: []order.Item{
			{ProductID: "p1", Quantity: 5, Price: decimal.RequireFromString("50")},
		},
		TotalAmount: decimal.RequireFromString("225"),
		SessionID:   "cs_test_1",
		CouponCode:  "SAVE10",
		CreatedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestOrderRepository_Create(t *testing.T) {
	mock := newMock(t)
	repo := NewOrderRepository(mock)
	o := testOrder()
	items, err := json.Marshal(o.Items)
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta(createOrderSQL)).
		WithArgs(o.ID, o.UserID, items, o.TotalAmount, o.SessionID, o.CouponCode, o.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Create(context.Background(), o))
}

func TestOrderRepository_Create_Duplicate(t *testing.T) {
	mock := newMock(t)
	repo := NewOrderRepository(mock)
	o := testOrder()

	mock.ExpectExec(regexp.QuoteMeta(createOrderSQL)).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{
			Code:           "23505",
			ConstraintName: ordersSessionUniqueConstraint,
			Message:        "duplicate key value violates unique constraint",
		})

	err := repo.Create(context.Background(), o)
	require.ErrorIs(t, err, order.ErrDuplicateSession)
}

func TestOrderRepository_Create_OtherUniqueViolation(t *testing.T) {
	mock := newMock(t)
	repo := NewOrderRepository(mock)

	mock.ExpectExec(regexp.QuoteMeta(createOrderSQL)).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "orders_pkey"})

	err := repo.Create(context.Background(), testOrder())
	require.Error(t, err)
	assert.NotErrorIs(t, err, order.ErrDuplicateSession)
}

func TestOrderRepository_FindBySessionID(t *testing.T) {
	mock := newMock(t)
	repo := NewOrderRepository(mock)
	want := testOrder()

	mock.ExpectQuery(regexp.QuoteMeta(findOrderBySessionSQL)).
		WithArgs("cs_test_1").
		WillReturnRows(pgxmock.NewRows(orderCols).AddRow(
			want.ID, "u1", []byte(`[{"product":"p1","quantity":5,"price":"50"}]`),
			"225.00", "cs_test_1", "SAVE10", want.CreatedAt,
		))

	got, err := repo.FindBySessionID(context.Background(), "cs_test_1")
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, "u1", got.UserID)
	assert.True(t, want.TotalAmount.Equal(got.TotalAmount))
	require.Len(t, got.Items, 1)
	assert.Equal(t, "p1", got.Items[0].ProductID)
	assert.Equal(t, 5, got.Items[0].Quantity)
	assert.True(t, decimal.NewFromInt(50).Equal(got.Items[0].Price))
	assert.Equal(t, want.CreatedAt, got.CreatedAt)
}

func TestOrderRepository_FindBySessionID_NotFound(t *testing.T) {
	mock := newMock(t)
	repo := NewOrderRepository(mock)

	mock.ExpectQuery(regexp.QuoteMeta(findOrderBySessionSQL)).
		WithArgs("cs_missing").
		WillReturnRows(pgxmock.NewRows(orderCols))

	_, err := repo.FindBySessionID(context.Background(), "cs_missing")
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestIsUniqueViolation(t *testing.T) {
	dup := &pgconn.PgError{Code: "23505", ConstraintName: "c1"}
	assert.True(t, isUniqueViolation(dup, ""))
	assert.True(t, isUniqueViolation(dup, "c1"))
	assert.True(t, isUniqueViolation(errors.Wrap(dup, "insert"), "c1"))
	assert.False(t, isUniqueViolation(dup, "c2"))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}, ""))
	assert.False(t, isUniqueViolation(errors.New("boom"), ""))
}
