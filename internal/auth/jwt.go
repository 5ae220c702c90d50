// Package auth provides the authenticated-session token, password hashing,
// and the request middleware that carries the authenticated user's ID.
//
// AUTH FLOW:
//  1. POST /api/auth/register or /login verifies the account
//  2. The server issues a signed JWT and stores it in an HttpOnly cookie
//  3. On later requests the middleware reads the cookie, validates the
//     token, and puts the userID in the request context
//  4. The session resolver treats a valid token as the authenticated
//     identity — it always wins over any guest credentials on the request
//
// The token is stateless: userID (subject) and expiry live inside the
// signed payload, so validation needs no database lookup.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenService signs and validates authenticated-session tokens.
//
// It holds the HMAC secret used for both operations. The secret should be
// at least 32 bytes of random data in production (JWT_SECRET env var).
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a TokenService with the given secret and token
// lifetime.
func NewTokenService(secret string, ttl time.Duration) *TokenService {
	return &TokenService{secret: []byte(secret), ttl: ttl}
}

// Generate creates a signed token whose subject is the user's internal ID.
func (t *TokenService) Generate(userID string) (string, error) {
	if userID == "" {
		return "", errors.New("auth: userID must not be empty")
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Validate parses and verifies a token string and returns the userID it
// encodes. Returns an error if the token is expired, tampered with, or
// signed with a different method or secret.
func (t *TokenService) Validate(tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &jwt.RegisteredClaims{},
		func(token *jwt.Token) (any, error) {
			// Reject any algorithm other than the one we sign with —
			// accepting the token's own alg claim is the classic JWT
			// vulnerability ("alg":"none").
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return t.secret, nil
		},
	)
	if err != nil {
		return "", fmt.Errorf("auth: invalid token: %w", err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", errors.New("auth: token has no subject")
	}

	return claims.Subject, nil
}
