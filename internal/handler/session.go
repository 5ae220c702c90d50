package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/prompt-market/internal/auth"
	"github.com/sakif/prompt-market/internal/model"
	"github.com/sakif/prompt-market/internal/service"
	"github.com/sakif/prompt-market/internal/session"
)

// SessionHandler serves the session and credit endpoints.
type SessionHandler struct {
	sessions *session.Service
	credits  *service.CreditService
	logger   *slog.Logger
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(sessions *session.Service, credits *service.CreditService, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, credits: credits, logger: logger}
}

// sessionResponse is the payload of GET /api/session.
type sessionResponse struct {
	Kind     model.SessionKind `json:"kind"`
	UserID   string            `json:"userId,omitempty"`
	GuestID  string            `json:"guestId,omitempty"`
	Credits  int64             `json:"credits"`
	Granted  bool              `json:"granted"`
	DailyCap int64             `json:"dailyCap"`
}

// resolveRequest builds the SessionContext for the current request. When
// the auth middleware already validated a token and parked the userID in
// the context, that wins outright; otherwise the resolver gets the raw
// cookie values and sorts out what the request is.
func (h *SessionHandler) resolveRequest(r *http.Request) (model.SessionContext, error) {
	if userID, ok := auth.UserIDFromContext(r.Context()); ok {
		return model.AuthenticatedContext(userID), nil
	}
	return h.sessions.Resolve(r.Context(), authTokenFromRequest(r), guestCredentialsFromRequest(r))
}

// HandleSession implements GET /api/session: resolve the caller, mint a
// guest identity if there is none, and opportunistically apply the daily
// credit. Every page load calls this once.
func (h *SessionHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	sc, err := h.resolveRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	// Anyone not logged in gets a guest identity: minted fresh for
	// anonymous callers, renewed (sliding expiry) for valid guests. The
	// four credential cookies ride back on this response either way.
	if sc.Kind != model.SessionAuthenticated {
		guest, err := h.sessions.EnsureGuest(r.Context(), guestCredentialsFromRequest(r))
		if err != nil {
			writeError(w, err)
			return
		}
		setGuestCookies(w, guest)
		sc = model.GuestContext(guest)
	}

	grant, err := h.credits.EnsureDailyCredit(r.Context(), sc)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := sessionResponse{
		Kind:     sc.Kind,
		UserID:   sc.UserID,
		Credits:  grant.Credits,
		Granted:  grant.Granted,
		DailyCap: h.credits.DailyCap(),
	}
	if sc.Guest != nil {
		resp.GuestID = sc.Guest.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

// spendResponse is the payload of POST /api/credits/spend.
type spendResponse struct {
	RemainingCredits int64 `json:"remainingCredits"`
}

// HandleSpend implements POST /api/credits/spend: debit the resolved
// identity by the configured unlock cost. 401 for anonymous callers, 402
// when the balance doesn't cover the cost.
func (h *SessionHandler) HandleSpend(w http.ResponseWriter, r *http.Request) {
	sc, err := h.resolveRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	remaining, err := h.credits.Debit(r.Context(), sc, h.credits.UnlockCost())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, spendResponse{RemainingCredits: remaining})
}

// migrateResponse is the payload of POST /api/session/migrate.
type migrateResponse struct {
	TransferredCredits int64 `json:"transferredCredits"`
}

// HandleMigrate implements POST /api/session/migrate — the retry path for
// clients whose registration response got lost. Requires authentication;
// reads the guest credentials from cookies; idempotent by construction, so
// a stale or already-migrated guest yields transferredCredits: 0, never an
// error the user would see.
func (h *SessionHandler) HandleMigrate(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		// RequireAuth guards this route; this is a belt-and-braces check.
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{
			Error: "unauthorized", Message: "valid authentication required",
		})
		return
	}

	guest, err := h.sessions.ValidateGuest(r.Context(), guestCredentialsFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}

	if guest == nil {
		// Credentials no longer resolve — already migrated, or expired.
		// Either way the cookies are dead weight.
		clearGuestCookies(w)
		writeJSON(w, http.StatusOK, migrateResponse{TransferredCredits: 0})
		return
	}

	transferred, err := h.credits.MigrateGuestToUser(r.Context(), guest.ID, userID)
	if err != nil {
		// The guest row still holds the balance. Keep the cookies so the
		// client can present the credentials again — retrying is safe, and
		// clearing here would strand the credits until expiry.
		writeError(w, err)
		return
	}

	clearGuestCookies(w)
	writeJSON(w, http.StatusOK, migrateResponse{TransferredCredits: transferred})
}
