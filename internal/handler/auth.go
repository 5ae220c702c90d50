package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/sakif/prompt-market/internal/apperror"
	"github.com/sakif/prompt-market/internal/auth"
	"github.com/sakif/prompt-market/internal/config"
	"github.com/sakif/prompt-market/internal/model"
	"github.com/sakif/prompt-market/internal/service"
	"github.com/sakif/prompt-market/internal/session"
)

// AuthHandler serves registration, login, logout, and the current-user
// endpoint.
type AuthHandler struct {
	auths    *service.AuthService
	sessions *session.Service
	cfg      config.AuthConfig
	logger   *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(auths *service.AuthService, sessions *session.Service, cfg config.AuthConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auths: auths, sessions: sessions, cfg: cfg, logger: logger}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerResponse struct {
	User               *model.User `json:"user"`
	TransferredCredits int64       `json:"transferredCredits"`
}

// HandleRegister implements POST /api/auth/register.
//
// If the request rides in with a valid guest session, the new account
// absorbs its balance in the same flow — the user sees their accumulated
// credits the moment they land on the dashboard. The guest cookies are
// cleared only once the transfer actually lands: a transiently failed
// transfer leaves the guest row holding the balance, so the client must
// keep presenting the credentials for the migrate endpoint to retry.
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.ValidationFailed("body", "invalid JSON body"))
		return
	}

	guest, err := h.sessions.ValidateGuest(r.Context(), guestCredentialsFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.auths.Register(r.Context(), req.Email, req.Password, guest)
	if err != nil {
		writeError(w, err)
		return
	}

	setAuthCookie(w, result.Token, h.cfg.TokenTTL())
	if guest != nil && result.GuestMigrated {
		clearGuestCookies(w)
	}

	writeJSON(w, http.StatusCreated, registerResponse{
		User:               result.User,
		TransferredCredits: result.TransferredCredits,
	})
}

// HandleLogin implements POST /api/auth/login.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.ValidationFailed("body", "invalid JSON body"))
		return
	}

	result, err := h.auths.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	setAuthCookie(w, result.Token, h.cfg.TokenTTL())
	writeJSON(w, http.StatusOK, result.User)
}

// HandleLogout implements POST /api/auth/logout. Stateless tokens can't be
// revoked server-side; dropping the cookie is the logout.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	clearAuthCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// HandleMe implements GET /api/me (behind RequireAuth).
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{
			Error: "unauthorized", Message: "valid authentication required",
		})
		return
	}

	user, err := h.auths.GetUserByID(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}
