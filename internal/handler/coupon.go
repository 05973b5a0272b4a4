package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/mernshop/checkout/internal/domain/auth"
	"github.com/mernshop/checkout/internal/domain/discount"
)

type couponResponse struct {
	Code               string    `json:"code"`
	DiscountPercentage int       `json:"discountPercentage"`
	ExpirationDate     time.Time `json:"expirationDate"`
	IsActive           bool      `json:"isActive"`
}

type validateCouponRequest struct {
	Code string `json:"code"`
}

type validateCouponResponse struct {
	Message            string `json:"message"`
	Code               string `json:"code"`
	DiscountPercentage int    `json:"discountPercentage"`
}

func toCouponResponse(c *discount.Code) *couponResponse {
	return &couponResponse{
		Code:               c.Code,
		DiscountPercentage: c.Percentage,
		ExpirationDate:     c.ExpiresAt,
		IsActive:           c.Active,
	}
}

// GetCoupon returns the caller's newest usable code, or null.
func (h *Handler) GetCoupon(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	id, _ := auth.FromContext(ctx)
	c, found, err := h.coupons.ActiveForUser(ctx, id.UserID)
	if err != nil {
		zctx.From(ctx).Error("Error getting coupon", zap.Error(err))
		writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Message: "Server error", Error: err.Error()})
		return
	}
	if !found {
		writeJSON(ctx, w, http.StatusOK, nil)
		return
	}
	writeJSON(ctx, w, http.StatusOK, toCouponResponse(c))
}

// ValidateCoupon reports whether code is usable by the caller.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	var req validateCouponRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	id, _ := auth.FromContext(ctx)
	c, found, err := h.coupons.LookupActive(ctx, req.Code, id.UserID)
	if err != nil {
		zctx.From(ctx).Error("Error validating coupon", zap.Error(err))
		writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Message: "Server error", Error: err.Error()})
		return
	}
	if !found {
		writeJSON(ctx, w, http.StatusNotFound, errorResponse{Message: "Invalid coupon code"})
		return
	}
	writeJSON(ctx, w, http.StatusOK, validateCouponResponse{
		Message:            "Coupon is valid",
		Code:               c.Code,
		DiscountPercentage: c.Percentage,
	})
}
