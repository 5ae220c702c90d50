package handler

import (
	"net/http"
	"time"

	"github.com/sakif/prompt-market/internal/auth"
	"github.com/sakif/prompt-market/internal/model"
)

// Guest credential cookie names. Three of the four are HttpOnly; the
// fingerprint is deliberately readable by client-side script — it's the
// correlation value the frontend may attach to anti-abuse telemetry.
const (
	cookieGuestSession = "guest_session"
	cookieGuestToken   = "guest_token"
	cookieGuestSecret  = "guest_secret"
	cookieGuestFP      = "guest_fp"
)

// guestCredentialsFromRequest pulls the four guest credential cookies off
// the request. Missing cookies simply yield empty fields — the resolver
// treats incomplete credentials as anonymous.
func guestCredentialsFromRequest(r *http.Request) model.GuestCredentials {
	var creds model.GuestCredentials
	if c, err := r.Cookie(cookieGuestSession); err == nil {
		creds.SessionID = c.Value
	}
	if c, err := r.Cookie(cookieGuestToken); err == nil {
		creds.AccessToken = c.Value
	}
	if c, err := r.Cookie(cookieGuestSecret); err == nil {
		creds.SessionSecret = c.Value
	}
	if c, err := r.Cookie(cookieGuestFP); err == nil {
		creds.Fingerprint = c.Value
	}
	return creds
}

// authTokenFromRequest reads the auth token cookie, if any.
func authTokenFromRequest(r *http.Request) string {
	c, err := r.Cookie(auth.TokenCookie)
	if err != nil {
		return ""
	}
	return c.Value
}

// setGuestCookies writes the guest session's four credential values. All
// expire together with the session itself.
func setGuestCookies(w http.ResponseWriter, g *model.GuestSession) {
	set := func(name, value string, httpOnly bool) {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    value,
			Path:     "/",
			Expires:  g.ExpiresAt,
			HttpOnly: httpOnly,
			SameSite: http.SameSiteLaxMode,
		})
	}
	set(cookieGuestSession, g.ID, true)
	set(cookieGuestToken, g.AccessToken, true)
	set(cookieGuestSecret, g.SessionSecret, true)
	set(cookieGuestFP, g.Fingerprint, false)
}

// clearGuestCookies expires all four guest cookies. Called after a
// successful migration so the client stops presenting dead credentials —
// they'd resolve to anonymous anyway, but there's no point sending them.
func clearGuestCookies(w http.ResponseWriter) {
	for _, name := range []string{cookieGuestSession, cookieGuestToken, cookieGuestSecret, cookieGuestFP} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

// setAuthCookie stores the issued JWT in an HttpOnly cookie.
func setAuthCookie(w http.ResponseWriter, token string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.TokenCookie,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(ttl),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearAuthCookie expires the auth cookie (logout).
func clearAuthCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.TokenCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
