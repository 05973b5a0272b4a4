package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/mernshop/checkout/internal/domain/auth"
)

// AccessTokenCookie is the cookie consulted when no bearer token is sent.
const AccessTokenCookie = "accessToken"

// SecurityHandler authenticates API requests with access tokens taken from
// the Authorization header or the access token cookie.
type SecurityHandler struct {
	verifier auth.TokenVerifier
}

// NewSecurityHandler creates a SecurityHandler with the given verifier.
func NewSecurityHandler(verifier auth.TokenVerifier) *SecurityHandler {
	return &SecurityHandler{verifier: verifier}
}

// Authenticate rejects requests without a valid token with 401 and stores the
// caller identity in the request context otherwise.
func (s *SecurityHandler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		token := extractToken(r)
		if token == "" {
			writeJSON(ctx, w, http.StatusUnauthorized, errorResponse{Message: "Unauthorized - No access token provided"})
			return
		}

		id, err := s.verifier.Verify(token)
		if err != nil {
			zctx.From(ctx).Debug("Rejected access token", zap.Error(err))
			writeJSON(ctx, w, http.StatusUnauthorized, errorResponse{Message: "Unauthorized - Invalid access token"})
			return
		}

		ctx = auth.WithIdentity(ctx, id)
		ctx = zctx.With(ctx, zap.String("userId", id.UserID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(AccessTokenCookie); err == nil {
		return c.Value
	}
	return ""
}
