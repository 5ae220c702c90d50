package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/prompt-market/internal/auth"
	"github.com/sakif/prompt-market/internal/config"
	"github.com/sakif/prompt-market/internal/repository"
	"github.com/sakif/prompt-market/internal/repository/sqlite"
	"github.com/sakif/prompt-market/internal/service"
	"github.com/sakif/prompt-market/internal/session"
)

// newTestServer wires the full stack — in-memory sqlite, services,
// handlers, middleware — behind an httptest.Server. The returned client
// carries a cookie jar, so guest credentials and auth tokens flow across
// requests exactly as a browser would send them.
//
// An optional wrapper can decorate the guest repository, e.g. to inject
// store failures on specific operations.
func newTestServer(t *testing.T, wrapGuests ...func(repository.GuestRepository) repository.GuestRepository) (*httptest.Server, *http.Client) {
	t.Helper()

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	cfg := config.Default()

	var guests repository.GuestRepository = db.Guests()
	for _, wrap := range wrapGuests {
		guests = wrap(guests)
	}

	tokens := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL())
	passwords := auth.NewPasswordServiceForTest(4)
	sessions := session.NewService(guests, tokens, cfg.Session, logger)
	credits := service.NewCreditService(db.Users(), guests, cfg.Credits, logger)
	auths := service.NewAuthService(db.Users(), passwords, tokens, credits, logger)

	sessionHandler := NewSessionHandler(sessions, credits, logger)
	authHandler := NewAuthHandler(auths, sessions, cfg.Auth, logger)

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(auth.OptionalAuth(tokens))
			r.Get("/session", sessionHandler.HandleSession)
			r.Post("/credits/spend", sessionHandler.HandleSpend)
		})
		r.Post("/auth/register", authHandler.HandleRegister)
		r.Post("/auth/login", authHandler.HandleLogin)
		r.Post("/auth/logout", authHandler.HandleLogout)
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens))
			r.Get("/me", authHandler.HandleMe)
			r.Post("/session/migrate", sessionHandler.HandleMigrate)
		})
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return srv, &http.Client{Jar: jar}
}

func getJSON(t *testing.T, client *http.Client, url string, out any) *http.Response {
	t.Helper()
	resp, err := client.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func postJSON(t *testing.T, client *http.Client, url string, body, out any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := client.Post(url, "application/json", &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 500 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

// =========================================================================
// SESSION ENDPOINT TESTS
// =========================================================================

func TestSession_NewVisitorGetsGuestAndDailyCredit(t *testing.T) {
	srv, client := newTestServer(t)

	var got sessionResponse
	resp := getJSON(t, client, srv.URL+"/api/session", &got)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, "guest", got.Kind)
	assert.NotEmpty(t, got.GuestID)
	assert.True(t, got.Granted, "first visit of the day should grant")
	assert.EqualValues(t, 1, got.Credits)
	assert.EqualValues(t, 5, got.DailyCap)

	// All four credential cookies were set.
	names := map[string]bool{}
	for _, c := range resp.Cookies() {
		names[c.Name] = true
	}
	for _, want := range []string{"guest_session", "guest_token", "guest_secret", "guest_fp"} {
		assert.True(t, names[want], "missing cookie %s", want)
	}
}

func TestSession_ReturningGuestKeepsIdentityAndGrantIsIdempotent(t *testing.T) {
	srv, client := newTestServer(t)

	var first sessionResponse
	getJSON(t, client, srv.URL+"/api/session", &first)

	var second sessionResponse
	resp := getJSON(t, client, srv.URL+"/api/session", &second)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, first.GuestID, second.GuestID, "cookie jar should resolve to the same guest")
	assert.False(t, second.Granted, "same-day revisit must not grant again")
	assert.EqualValues(t, 1, second.Credits)
}

// =========================================================================
// SPEND ENDPOINT TESTS
// =========================================================================

func TestSpend_GuestLifecycle(t *testing.T) {
	srv, client := newTestServer(t)

	// Establish a guest with 1 credit.
	getJSON(t, client, srv.URL+"/api/session", nil)

	var spent spendResponse
	resp := postJSON(t, client, srv.URL+"/api/credits/spend", nil, &spent)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, spent.RemainingCredits)

	// Balance is empty now: 402.
	var errResp ErrorResponse
	resp = postJSON(t, client, srv.URL+"/api/credits/spend", nil, &errResp)
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	assert.Equal(t, "insufficient_credits", errResp.Error)
}

func TestSpend_AnonymousRejected(t *testing.T) {
	srv, client := newTestServer(t)

	// No session established — no cookies at all.
	resp := postJSON(t, client, srv.URL+"/api/credits/spend", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// =========================================================================
// REGISTRATION / MIGRATION TESTS
// =========================================================================

func TestRegister_AbsorbsGuestBalance(t *testing.T) {
	srv, client := newTestServer(t)

	// Guest accumulates 1 credit via the daily grant.
	var sess sessionResponse
	getJSON(t, client, srv.URL+"/api/session", &sess)
	require.EqualValues(t, 1, sess.Credits)

	var reg registerResponse
	resp := postJSON(t, client, srv.URL+"/api/auth/register",
		credentialsRequest{Email: "guest@example.com", Password: "longenough"}, &reg)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.EqualValues(t, 1, reg.TransferredCredits)
	assert.EqualValues(t, 1, reg.User.Credits)
	assert.False(t, hasGuestCookie(t, client, srv.URL),
		"guest cookies should be cleared once the transfer lands")

	// The session now resolves as authenticated. The user identity has
	// never taken a grant of its own, so the next session call tops it up
	// on top of the transferred balance.
	var after sessionResponse
	getJSON(t, client, srv.URL+"/api/session", &after)
	assert.EqualValues(t, "authenticated", after.Kind)
	assert.True(t, after.Granted)
	assert.EqualValues(t, 2, after.Credits)
}

// flakyMigrationGuests delegates everything to the real repository except
// the balance transfer, which always hits a store failure.
type flakyMigrationGuests struct {
	repository.GuestRepository
}

func (flakyMigrationGuests) MigrateToUser(context.Context, string, string) (int64, error) {
	return 0, errors.New("store unavailable")
}

// hasGuestCookie reports whether the jar still holds a non-empty
// guest_session cookie for the server.
func hasGuestCookie(t *testing.T, client *http.Client, serverURL string) bool {
	t.Helper()
	base, err := url.Parse(serverURL)
	require.NoError(t, err)
	for _, c := range client.Jar.Cookies(base) {
		if c.Name == "guest_session" && c.Value != "" {
			return true
		}
	}
	return false
}

func TestMigrate_FailedTransferKeepsGuestCookies(t *testing.T) {
	srv, client := newTestServer(t, func(g repository.GuestRepository) repository.GuestRepository {
		return flakyMigrationGuests{g}
	})

	// Guest with a balance.
	getJSON(t, client, srv.URL+"/api/session", nil)
	require.True(t, hasGuestCookie(t, client, srv.URL))

	// Registration succeeds but the absorbed transfer fails: the account
	// stands, nothing transferred, and the credentials must survive so the
	// retry endpoint can still collect the balance.
	var reg registerResponse
	resp := postJSON(t, client, srv.URL+"/api/auth/register",
		credentialsRequest{Email: "flaky@example.com", Password: "longenough"}, &reg)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.EqualValues(t, 0, reg.TransferredCredits)
	assert.True(t, hasGuestCookie(t, client, srv.URL),
		"guest cookies must survive a failed transfer during registration")

	// The explicit retry fails too (the store is still down) — and again the
	// cookies must survive, or the balance is stranded until expiry.
	resp = postJSON(t, client, srv.URL+"/api/session/migrate", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.True(t, hasGuestCookie(t, client, srv.URL),
		"guest cookies must survive a failed migrate call")
}

func TestMigrate_WithoutGuestIsZeroNoError(t *testing.T) {
	srv, client := newTestServer(t)

	// Register with no guest session at all.
	resp := postJSON(t, client, srv.URL+"/api/auth/register",
		credentialsRequest{Email: "nobody@example.com", Password: "longenough"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// The migrate retry endpoint is a harmless no-op.
	var migrated migrateResponse
	resp = postJSON(t, client, srv.URL+"/api/session/migrate", nil, &migrated)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, migrated.TransferredCredits)
}

// =========================================================================
// LOGIN / ME TESTS
// =========================================================================

func TestLoginAndMe(t *testing.T) {
	srv, client := newTestServer(t)

	postJSON(t, client, srv.URL+"/api/auth/register",
		credentialsRequest{Email: "me@example.com", Password: "longenough"}, nil)
	postJSON(t, client, srv.URL+"/api/auth/logout", nil, nil)

	// Logged out: /api/me is a 401.
	resp := getJSON(t, client, srv.URL+"/api/me", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = postJSON(t, client, srv.URL+"/api/auth/login",
		credentialsRequest{Email: "me@example.com", Password: "longenough"}, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var me struct {
		Email string `json:"email"`
	}
	resp = getJSON(t, client, srv.URL+"/api/me", &me)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "me@example.com", me.Email)
}

func TestLogin_BadCredentials(t *testing.T) {
	srv, client := newTestServer(t)

	postJSON(t, client, srv.URL+"/api/auth/register",
		credentialsRequest{Email: "victim@example.com", Password: "longenough"}, nil)
	postJSON(t, client, srv.URL+"/api/auth/logout", nil, nil)

	var wrongPass, unknown ErrorResponse
	resp1 := postJSON(t, client, srv.URL+"/api/auth/login",
		credentialsRequest{Email: "victim@example.com", Password: "wrong"}, &wrongPass)
	resp2 := postJSON(t, client, srv.URL+"/api/auth/login",
		credentialsRequest{Email: "stranger@example.com", Password: "wrong"}, &unknown)

	assert.Equal(t, http.StatusUnauthorized, resp1.StatusCode)
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
	// Indistinguishable on purpose.
	assert.Equal(t, wrongPass.Message, unknown.Message)
}

// Guard against the expiry edge: a guest cookie pointing at a session the
// sweep already deleted must fall back to a fresh identity, not an error.
func TestSession_StaleGuestCookieMintsFreshIdentity(t *testing.T) {
	srv, client := newTestServer(t)

	var first sessionResponse
	getJSON(t, client, srv.URL+"/api/session", &first)

	// Sabotage the token cookie: the jar now presents mismatched creds.
	base, err := url.Parse(srv.URL)
	require.NoError(t, err)
	cookies := client.Jar.Cookies(base)
	for _, c := range cookies {
		if c.Name == "guest_token" {
			c.Value = "tampered"
		}
	}
	client.Jar.SetCookies(base, cookies)

	var second sessionResponse
	resp := getJSON(t, client, srv.URL+"/api/session", &second)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEqual(t, first.GuestID, second.GuestID, "tampered credentials must mint a new identity")
	assert.EqualValues(t, 1, second.Credits, "fresh guest gets its own grant, not the old balance")
}
