// Package auth verifies and issues HS256 access tokens.
package auth

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"

	domainauth "github.com/mernshop/checkout/internal/domain/auth"
)

// Claims are the access token claims. UserID is the subject of the checkout.
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

var _ domainauth.TokenVerifier = (*JWT)(nil)

// JWT validates access tokens signed with a shared secret.
type JWT struct {
	secret []byte
	leeway time.Duration
	now    func() time.Time
}

// NewJWT creates a JWT verifier for secret.
func NewJWT(secret string, leeway time.Duration) *JWT {
	return &JWT{
		secret: []byte(secret),
		leeway: leeway,
		now:    time.Now,
	}
}

// Issue signs a token for userID valid for ttl.
func (j *JWT) Issue(userID string, ttl time.Duration) (string, error) {
	now := j.now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return s, nil
}

// Verify parses token and returns the caller identity.
func (j *JWT) Verify(token string) (domainauth.Identity, error) {
	if token == "" {
		return domainauth.Identity{}, domainauth.ErrUnauthorized
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return j.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(j.leeway),
		jwt.WithTimeFunc(j.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return domainauth.Identity{}, errors.Wrap(domainauth.ErrUnauthorized, err.Error())
	}
	if claims.UserID == "" {
		return domainauth.Identity{}, errors.Wrap(domainauth.ErrUnauthorized, "missing userId claim")
	}
	return domainauth.Identity{UserID: claims.UserID}, nil
}
