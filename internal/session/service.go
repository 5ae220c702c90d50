// Package session resolves request credentials into a single identity and
// manages the guest session lifecycle.
//
// Resolution is strictly read-only: it never creates or renews anything, so
// callers can invoke it speculatively on every request. EnsureGuest is the
// separate entry point that mints or renews — handlers call it only when a
// guest identity is actually wanted.
package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sakif/prompt-market/internal/apperror"
	"github.com/sakif/prompt-market/internal/auth"
	"github.com/sakif/prompt-market/internal/config"
	"github.com/sakif/prompt-market/internal/metrics"
	"github.com/sakif/prompt-market/internal/model"
	"github.com/sakif/prompt-market/internal/repository"
)

// Service resolves and maintains guest sessions.
type Service struct {
	guests repository.GuestRepository
	tokens *auth.TokenService
	cfg    config.SessionConfig
	logger *slog.Logger

	// now is injectable for expiry and renewal tests.
	now func() time.Time
}

// NewService creates a session Service.
func NewService(
	guests repository.GuestRepository,
	tokens *auth.TokenService,
	cfg config.SessionConfig,
	logger *slog.Logger,
) *Service {
	return &Service{
		guests: guests,
		tokens: tokens,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Resolve turns the request's credentials into exactly one SessionContext.
//
// Precedence: a valid auth token always wins — a logged-in user who still
// has stale guest cookies is authenticated, full stop. Otherwise the guest
// credentials are checked; any failure (row absent, expired, token or
// secret mismatch) resolves to anonymous with no hint of which check
// failed. The returned error is reserved for store failures.
func (s *Service) Resolve(ctx context.Context, authToken string, creds model.GuestCredentials) (model.SessionContext, error) {
	if authToken != "" {
		if userID, err := s.tokens.Validate(authToken); err == nil {
			return model.AuthenticatedContext(userID), nil
		}
		// Invalid token falls through to the guest path — same treatment
		// as no token at all.
	}

	guest, err := s.ValidateGuest(ctx, creds)
	if err != nil {
		return model.SessionContext{}, err
	}
	if guest == nil {
		return model.AnonymousContext(), nil
	}
	return model.GuestContext(guest), nil
}

// ValidateGuest looks up and authenticates guest credentials. Returns
// (nil, nil) when the credentials don't resolve to a live session — callers
// must not distinguish why. Returns an error only for store failures.
func (s *Service) ValidateGuest(ctx context.Context, creds model.GuestCredentials) (*model.GuestSession, error) {
	if creds.Empty() {
		return nil, nil
	}

	guest, err := s.guests.GetByID(ctx, creds.SessionID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: looking up guest: %w", err)
	}

	if guest.Expired(s.now()) {
		return nil, nil
	}

	// Both credentials must match, compared in constant time. The two
	// comparisons are combined with & (not &&) so a mismatch in the first
	// doesn't short-circuit and leak timing.
	tokenOK := subtle.ConstantTimeCompare([]byte(guest.AccessToken), []byte(creds.AccessToken))
	secretOK := subtle.ConstantTimeCompare([]byte(guest.SessionSecret), []byte(creds.SessionSecret))
	if tokenOK&secretOK != 1 {
		return nil, nil
	}

	// Fingerprint is intentionally not checked — it is client-forgeable
	// and exists for anti-abuse correlation, not authentication.
	return guest, nil
}

// EnsureGuest returns a live guest session for the presented credentials,
// minting a new one when they don't validate.
//
// Sliding expiry: a valid session inside the renewal window gets its expiry
// pushed out to a full lifetime again, credentials unchanged. A session
// outside the window is returned as-is.
func (s *Service) EnsureGuest(ctx context.Context, creds model.GuestCredentials) (*model.GuestSession, error) {
	guest, err := s.ValidateGuest(ctx, creds)
	if err != nil {
		return nil, err
	}

	if guest != nil {
		now := s.now()
		if guest.ExpiresAt.Sub(now) < s.cfg.RenewalWindow() {
			newExpiry := now.Add(s.cfg.SessionLifetime()).UTC()
			if err := s.guests.Renew(ctx, guest.ID, newExpiry); err != nil {
				// The session is still valid even if the renewal write
				// failed; losing the extension is the lesser problem.
				if !errors.Is(err, apperror.ErrNotFound) {
					s.logger.Warn("guest session renewal failed",
						slog.String("guestID", guest.ID),
						slog.String("error", err.Error()),
					)
				}
			} else {
				guest.ExpiresAt = newExpiry
			}
		}
		return guest, nil
	}

	return s.mintGuest(ctx)
}

// mintGuest creates and persists a brand-new guest session.
func (s *Service) mintGuest(ctx context.Context) (*model.GuestSession, error) {
	id, err := mintToken()
	if err != nil {
		return nil, err
	}
	accessToken, err := mintToken()
	if err != nil {
		return nil, err
	}
	secret, err := mintToken()
	if err != nil {
		return nil, err
	}

	guest := &model.GuestSession{
		ID:            id,
		AccessToken:   accessToken,
		SessionSecret: secret,
		// Fingerprint is the one client-readable value; a UUID is plenty
		// for correlation and carries no entropy requirement.
		Fingerprint: uuid.NewString(),
		Credits:     0,
		ExpiresAt:   s.now().Add(s.cfg.SessionLifetime()).UTC(),
	}

	if err := s.guests.Create(ctx, guest); err != nil {
		return nil, fmt.Errorf("session: creating guest session: %w", err)
	}

	metrics.GuestSessionsMinted.Inc()
	s.logger.Info("guest session minted",
		slog.String("guestID", guest.ID),
		slog.Time("expiresAt", guest.ExpiresAt),
	)

	return guest, nil
}
