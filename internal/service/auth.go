package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/prompt-market/internal/apperror"
	"github.com/sakif/prompt-market/internal/auth"
	"github.com/sakif/prompt-market/internal/model"
	"github.com/sakif/prompt-market/internal/repository"
)

// AuthService handles account registration and login.
//
// It also owns the one orchestration this system is really about: when a
// guest signs up, their accumulated balance rides along into the new
// account. Registration commits first, then the migration runs — if the
// migration hits a transient failure the account still exists and the
// client retries via the migrate endpoint; the transfer is idempotent
// either way.
type AuthService struct {
	users     repository.UserRepository
	passwords *auth.PasswordService
	tokens    *auth.TokenService
	credits   *CreditService
	logger    *slog.Logger
}

// NewAuthService creates an AuthService with all required dependencies.
func NewAuthService(
	users repository.UserRepository,
	passwords *auth.PasswordService,
	tokens *auth.TokenService,
	credits *CreditService,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		passwords: passwords,
		tokens:    tokens,
		credits:   credits,
		logger:    logger,
	}
}

// AuthResult bundles the user record, the issued token, and — for
// registrations that absorbed a guest session — the credits carried over.
//
// GuestMigrated reports whether the guest balance transfer itself went
// through. The distinction from TransferredCredits matters: a guest with a
// zero balance migrates successfully with zero transferred, while a failed
// transfer also reports zero but leaves the guest row (and its credentials)
// alive for a later retry. The handler keeps the guest cookies in the
// second case and drops them in the first.
type AuthResult struct {
	User               *model.User
	Token              string
	TransferredCredits int64
	GuestMigrated      bool
}

// Register creates a new account and, when the request carried a valid
// guest session, migrates its balance into the account.
func (s *AuthService) Register(ctx context.Context, email, password string, guest *model.GuestSession) (*AuthResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, apperror.ValidationFailed("email", "a valid email address is required")
	}
	if len(password) < 8 {
		return nil, apperror.ValidationFailed("password", "password must be at least 8 characters")
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: %w", err)
	}

	user := &model.User{Email: email, PasswordHash: hash}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, apperror.Conflict("user", email)
		}
		return nil, fmt.Errorf("service/auth: creating user: %w", err)
	}

	s.logger.Info("user registered",
		slog.String("userID", user.ID),
		slog.String("email", user.Email),
	)

	var transferred int64
	migrated := false
	if guest != nil {
		transferred, err = s.credits.MigrateGuestToUser(ctx, guest.ID, user.ID)
		if err != nil {
			// The account exists; the balance transfer can be retried via
			// the migrate endpoint. Don't fail the registration.
			s.logger.Warn("guest migration failed after registration",
				slog.String("guestID", guest.ID),
				slog.String("userID", user.ID),
				slog.String("error", err.Error()),
			)
			transferred = 0
		} else {
			migrated = true
			user.Credits += transferred
		}
	}

	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %s: %w", user.ID, err)
	}

	return &AuthResult{
		User:               user,
		Token:              token,
		TransferredCredits: transferred,
		GuestMigrated:      migrated,
	}, nil
}

// Login verifies credentials and issues a token.
//
// A wrong email and a wrong password return the same Unauthorized error —
// the response must not confirm which half was wrong.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized("invalid email or password")
		}
		return nil, fmt.Errorf("service/auth: looking up %s: %w", email, err)
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		return nil, apperror.Unauthorized("invalid email or password")
	}

	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %s: %w", user.ID, err)
	}

	s.logger.Info("user logged in", slog.String("userID", user.ID))

	return &AuthResult{User: user, Token: token}, nil
}

// GetUserByID returns the user for the given internal ID. Used by the
// /api/me handler after the middleware validates the token.
func (s *AuthService) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, fmt.Errorf("service/auth: user ID must not be empty")
	}

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching user %s: %w", id, err)
	}

	return user, nil
}
