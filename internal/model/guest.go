package model

import "time"

// GuestSession represents an anonymous visitor who can accumulate and spend
// credits before creating an account.
//
// CREDENTIAL ROLES (all four travel to the client as cookies):
//   - ID            → primary lookup key
//   - AccessToken   → bearer credential; must match the stored value exactly
//   - SessionSecret → second credential presented together with the access
//     token; both must match or the session does not resolve
//   - Fingerprint   → non-secret correlation value for anti-abuse heuristics;
//     the one value client-side script is allowed to read. It is NOT checked
//     during resolution — a forgeable value can't be an auth factor.
//
// The access token and session secret are minted from a cryptographically
// strong random source with 128 bits of entropy each. They are never
// serialized in API responses (json:"-"); the handler layer moves them to
// the client exclusively via HttpOnly cookies.
//
// Lifecycle: created on first unauthenticated visit, balance mutated by the
// daily grant and by debits, and deleted either by a successful migration
// into a user account or by the expiry sweep once ExpiresAt has passed.
type GuestSession struct {
	ID                string     `json:"id"`
	AccessToken       string     `json:"-"`
	SessionSecret     string     `json:"-"`
	Fingerprint       string     `json:"fingerprint"`
	Credits           int64      `json:"credits"`
	LastDailyCreditAt *time.Time `json:"lastDailyCreditAt,omitempty"`
	ExpiresAt         time.Time  `json:"expiresAt"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// Expired reports whether the session is past its expiry instant.
func (g *GuestSession) Expired(now time.Time) bool {
	return !now.Before(g.ExpiresAt)
}

// GuestCredentials are the four values a client presents to identify a guest
// session. They are extracted from the request by the handler layer and
// passed to the resolver as plain data — resolution itself never touches
// cookies or any other transport detail.
type GuestCredentials struct {
	SessionID     string
	AccessToken   string
	SessionSecret string
	Fingerprint   string
}

// Empty reports whether no session id was presented at all.
func (c GuestCredentials) Empty() bool {
	return c.SessionID == ""
}
