// Package service holds the business logic between the HTTP handlers and
// the repositories.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/prompt-market/internal/apperror"
	"github.com/sakif/prompt-market/internal/config"
	"github.com/sakif/prompt-market/internal/metrics"
	"github.com/sakif/prompt-market/internal/model"
	"github.com/sakif/prompt-market/internal/repository"
)

// CreditService is the credit ledger: daily grants, debits, purchases, and
// the guest-to-user balance migration.
//
// It holds no state of its own and takes every identity as an explicit
// argument — all shared state lives in the store, and all atomicity comes
// from the store's conditional updates and transactions. The service layer
// adds identity-kind dispatch, validation, logging, and metrics.
type CreditService struct {
	users  repository.UserRepository
	guests repository.GuestRepository
	cfg    config.CreditsConfig
	logger *slog.Logger

	// now is injectable for day-boundary tests.
	now func() time.Time
}

// NewCreditService creates a CreditService.
func NewCreditService(
	users repository.UserRepository,
	guests repository.GuestRepository,
	cfg config.CreditsConfig,
	logger *slog.Logger,
) *CreditService {
	return &CreditService{
		users:  users,
		guests: guests,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// GrantResult reports the outcome of a daily-grant attempt.
type GrantResult struct {
	Credits int64 `json:"credits"`
	Granted bool  `json:"granted"`
}

// EnsureDailyCredit applies the once-per-UTC-day top-up to the resolved
// identity. Safe to call on every request: at most one call per identity
// per day reports Granted, no matter how many race.
func (s *CreditService) EnsureDailyCredit(ctx context.Context, sc model.SessionContext) (GrantResult, error) {
	var (
		credits int64
		granted bool
		err     error
	)

	switch sc.Kind {
	case model.SessionAuthenticated:
		credits, granted, err = s.users.GrantDailyCredit(ctx, sc.UserID, s.cfg.DailyGrant, s.now())
		if granted {
			metrics.DailyGrants.WithLabelValues(metrics.IdentityUser).Inc()
		}
	case model.SessionGuest:
		credits, granted, err = s.guests.GrantDailyCredit(ctx, sc.Guest.ID, s.cfg.DailyGrant, s.now())
		if granted {
			metrics.DailyGrants.WithLabelValues(metrics.IdentityGuest).Inc()
		}
	case model.SessionAnonymous:
		return GrantResult{}, apperror.ValidationFailed("session", "daily credit requires an identity")
	default:
		return GrantResult{}, fmt.Errorf("service/credit: unknown session kind %q", sc.Kind)
	}

	if err != nil {
		return GrantResult{}, fmt.Errorf("service/credit: daily grant: %w", err)
	}

	if granted {
		s.logger.Info("daily credit granted",
			slog.String("kind", string(sc.Kind)),
			slog.Int64("amount", s.cfg.DailyGrant),
			slog.Int64("balance", credits),
		)
	}

	return GrantResult{Credits: credits, Granted: granted}, nil
}

// Debit charges amount against the resolved identity's balance and returns
// the remainder. Fails with ErrInsufficientCredits (balance untouched) or
// ErrNotFound; anonymous identities can't be debited at all.
func (s *CreditService) Debit(ctx context.Context, sc model.SessionContext, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, apperror.ValidationFailed("amount", "debit amount must be positive")
	}

	var (
		remaining int64
		err       error
		identity  string
	)

	switch sc.Kind {
	case model.SessionAuthenticated:
		identity = metrics.IdentityUser
		remaining, err = s.users.Debit(ctx, sc.UserID, amount)
	case model.SessionGuest:
		identity = metrics.IdentityGuest
		remaining, err = s.guests.Debit(ctx, sc.Guest.ID, amount)
	case model.SessionAnonymous:
		return 0, apperror.Unauthorized("an identity is required to spend credits")
	default:
		return 0, fmt.Errorf("service/credit: unknown session kind %q", sc.Kind)
	}

	if err != nil {
		if errors.Is(err, apperror.ErrInsufficientCredits) {
			metrics.DebitRejections.WithLabelValues(identity).Inc()
			return 0, err
		}
		return 0, fmt.Errorf("service/credit: debit: %w", err)
	}

	metrics.Debits.WithLabelValues(identity).Inc()
	return remaining, nil
}

// MigrateGuestToUser transfers the guest's balance into the user account.
// Idempotent: a guest that no longer exists (already migrated, or expired)
// yields transferred = 0 and no error — callers never surface that case to
// the end user. Retry is always safe; the repository does the whole
// transfer in one transaction.
func (s *CreditService) MigrateGuestToUser(ctx context.Context, guestID, userID string) (int64, error) {
	if guestID == "" {
		return 0, nil
	}
	if userID == "" {
		return 0, apperror.ValidationFailed("userId", "userId is required")
	}

	transferred, err := s.guests.MigrateToUser(ctx, guestID, userID)
	if err != nil {
		return 0, fmt.Errorf("service/credit: migrating guest %s to user %s: %w", guestID, userID, err)
	}

	if transferred > 0 {
		metrics.Migrations.Inc()
		metrics.MigratedCredits.Add(float64(transferred))
		s.logger.Info("guest balance migrated",
			slog.String("guestID", guestID),
			slog.String("userID", userID),
			slog.Int64("credits", transferred),
		)
	}

	return transferred, nil
}

// ApplyCredits adds purchased credits to a user account — the primitive the
// payment webhook handler calls after a completed checkout.
func (s *CreditService) ApplyCredits(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, apperror.ValidationFailed("amount", "credit amount must be positive")
	}

	balance, err := s.users.AddCredits(ctx, userID, amount)
	if err != nil {
		return 0, fmt.Errorf("service/credit: applying %d credits to user %s: %w", amount, userID, err)
	}

	s.logger.Info("credits applied",
		slog.String("userID", userID),
		slog.Int64("amount", amount),
		slog.Int64("balance", balance),
	)

	return balance, nil
}

// DailyCap reports the advisory accumulation cap from configuration. The
// granter does not enforce it; it exists so the UI can message the limit.
func (s *CreditService) DailyCap() int64 {
	return s.cfg.DailyCap
}

// UnlockCost reports the configured price of one paywalled action.
func (s *CreditService) UnlockCost() int64 {
	return s.cfg.UnlockCost
}
