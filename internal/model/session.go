package model

// SessionKind discriminates the three possible outcomes of resolving a
// request's credentials. Exactly one applies per request.
type SessionKind string

const (
	// SessionAnonymous — no credentials, or credentials that failed to
	// validate. The three guest failure modes (record absent, expired,
	// token/secret mismatch) all collapse into this kind so a probing
	// client can't learn which check failed.
	SessionAnonymous SessionKind = "anonymous"

	// SessionGuest — a live guest session with matching credentials.
	SessionGuest SessionKind = "guest"

	// SessionAuthenticated — a valid auth token for a registered user.
	// Always wins over guest credentials when both are presented.
	SessionAuthenticated SessionKind = "authenticated"
)

// SessionContext is the resolved identity of the current request.
//
// It's a tagged union: UserID is set iff Kind is SessionAuthenticated, Guest
// is set iff Kind is SessionGuest, and neither is ever set simultaneously.
// Code that branches on identity kind should switch on Kind exhaustively
// rather than nil-checking the payload fields.
//
// SessionContext is derived per request and never persisted.
type SessionContext struct {
	Kind   SessionKind   `json:"kind"`
	UserID string        `json:"userId,omitempty"`
	Guest  *GuestSession `json:"guest,omitempty"`
}

// AnonymousContext returns the context for an unidentified request.
func AnonymousContext() SessionContext {
	return SessionContext{Kind: SessionAnonymous}
}

// AuthenticatedContext returns the context for a registered user.
func AuthenticatedContext(userID string) SessionContext {
	return SessionContext{Kind: SessionAuthenticated, UserID: userID}
}

// GuestContext returns the context for a validated guest session.
func GuestContext(g *GuestSession) SessionContext {
	return SessionContext{Kind: SessionGuest, Guest: g}
}
