package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mernshop/checkout/internal/domain/auth"
	"github.com/mernshop/checkout/internal/domain/checkout"
	"github.com/mernshop/checkout/internal/domain/pricing"
)

const finalizeSuccessMessage = "Payment successful, order created, and coupon deactivated if used."

type productRequest struct {
	ID       string          `json:"id"`
	MongoID  string          `json:"_id"`
	Name     string          `json:"name"`
	Image    string          `json:"image"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

type createSessionRequest struct {
	Products   []productRequest `json:"products"`
	CouponCode string           `json:"couponCode"`
}

type createSessionResponse struct {
	ID          string  `json:"id"`
	TotalAmount float64 `json:"totalAmount"`
}

type checkoutSuccessRequest struct {
	SessionID string `json:"sessionId"`
}

type checkoutSuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	OrderID string `json:"orderId"`
}

// CreateCheckoutSession prices the cart and opens a payment session.
func (h *Handler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	id, _ := auth.FromContext(ctx)

	var req createSessionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	products := make([]pricing.Product, len(req.Products))
	for i, p := range req.Products {
		pid := p.ID
		if pid == "" {
			pid = p.MongoID
		}
		products[i] = pricing.Product{
			ID:       pid,
			Name:     p.Name,
			Image:    p.Image,
			Price:    p.Price,
			Quantity: p.Quantity,
		}
	}

	res, err := h.checkout.Initiate(ctx, checkout.InitiateRequest{
		UserID:     id.UserID,
		Products:   products,
		CouponCode: req.CouponCode,
	})
	if err != nil {
		var inErr *checkout.InvalidInputError
		if errors.As(err, &inErr) {
			writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: inErr.Error()})
			return
		}
		zctx.From(ctx).Error("Error processing checkout", zap.Error(err))
		writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{
			Message: "Error processing checkout",
			Error:   err.Error(),
		})
		return
	}

	writeJSON(ctx, w, http.StatusOK, createSessionResponse{
		ID:          res.SessionID,
		TotalAmount: pricing.FromMinor(res.Total).InexactFloat64(),
	})
}

// CheckoutSuccess records the order of a paid session.
func (h *Handler) CheckoutSuccess(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	var req checkoutSuccessRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	res, err := h.checkout.Finalize(ctx, req.SessionID)
	switch {
	case errors.Is(err, checkout.ErrMissingSessionID):
		writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "Missing session ID"})
		return
	case errors.Is(err, checkout.ErrSessionNotFound):
		writeJSON(ctx, w, http.StatusNotFound, errorResponse{Error: "Checkout session not found"})
		return
	case err != nil:
		zctx.From(ctx).Error("Error processing successful checkout",
			zap.String("sessionId", req.SessionID),
			zap.Error(err),
		)
		writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{
			Message: "Error processing successful checkout",
			Error:   err.Error(),
		})
		return
	}

	if res.State != checkout.StateCompleted {
		writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Message: "Payment not completed."})
		return
	}
	writeJSON(ctx, w, http.StatusOK, checkoutSuccessResponse{
		Success: true,
		Message: finalizeSuccessMessage,
		OrderID: res.OrderID,
	})
}
