package auth

import (
	"context"
	"net/http"
)

// TokenCookie is the name of the HttpOnly cookie carrying the auth token.
const TokenCookie = "token"

// contextKey is an unexported type for context keys in this package. Only
// this package can mint a key of this type, so no other package can read or
// shadow the userID value.
type contextKey string

const userIDKey contextKey = "userID"

// RequireAuth enforces authentication on protected routes.
//
// It reads the JWT from the token cookie, validates it, and stores the
// userID in the request context. Missing or invalid tokens end the request
// with 401 — the response body matches the handler package's error shape.
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := extractUserID(r, tokens)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"unauthorized","message":"valid authentication required"}`))
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuth extracts the user identity if a valid token is present but
// never blocks the request. Routes that serve both guests and users (the
// session endpoint, the spend endpoint) sit behind this: the session
// resolver decides what the request is based on what the context holds.
func OptionalAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID, err := extractUserID(r, tokens); err == nil && userID != "" {
				ctx := context.WithValue(r.Context(), userIDKey, userID)
				r = r.WithContext(ctx)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserIDFromContext retrieves the authenticated user's ID from the request
// context. Returns ("", false) when the request carries no valid token.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// extractUserID reads the token cookie and validates it.
func extractUserID(r *http.Request, tokens *TokenService) (string, error) {
	cookie, err := r.Cookie(TokenCookie)
	if err != nil {
		// http.ErrNoCookie — not an error condition, just anonymous.
		return "", err
	}
	return tokens.Validate(cookie.Value)
}
