// Package repository declares the storage interfaces the service layer
// depends on. The sqlite subpackage provides the real implementation; tests
// substitute in-memory mocks.
package repository

import (
	"context"
	"time"

	"github.com/sakif/prompt-market/internal/model"
)

// UserRepository stores registered accounts and their credit balances.
//
// GrantDailyCredit and Debit are conditional updates, not read-then-write
// sequences: the predicate and the mutation execute as one atomic statement
// in the store, so concurrent callers can never both observe the same
// pre-state and both mutate. See the sqlite implementation for the exact
// statements.
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)

	// GrantDailyCredit adds amount to the balance iff no grant has happened
	// since midnight UTC of now's day. Returns the post-operation balance
	// and whether this call performed the grant.
	GrantDailyCredit(ctx context.Context, id string, amount int64, now time.Time) (credits int64, granted bool, err error)

	// Debit subtracts amount iff the balance covers it. Returns the
	// remaining balance, apperror.ErrInsufficientCredits if it doesn't, or
	// apperror.ErrNotFound if the user doesn't exist.
	Debit(ctx context.Context, id string, amount int64) (remaining int64, err error)

	// AddCredits unconditionally adds amount (a purchase or a migration
	// transfer applied outside the migration transaction is NOT done with
	// this — see GuestRepository.MigrateToUser). Returns the new balance.
	AddCredits(ctx context.Context, id string, amount int64) (int64, error)
}

// GuestRepository stores anonymous guest sessions.
type GuestRepository interface {
	Create(ctx context.Context, guest *model.GuestSession) error
	GetByID(ctx context.Context, id string) (*model.GuestSession, error)

	// Renew pushes the session expiry out to expiresAt (sliding window).
	Renew(ctx context.Context, id string, expiresAt time.Time) error

	// GrantDailyCredit — same contract as UserRepository.GrantDailyCredit.
	GrantDailyCredit(ctx context.Context, id string, amount int64, now time.Time) (credits int64, granted bool, err error)

	// Debit — same contract as UserRepository.Debit.
	Debit(ctx context.Context, id string, amount int64) (remaining int64, err error)

	// MigrateToUser transfers the guest's whole balance to the user and
	// deletes the guest row, all in one transaction. A missing guest row is
	// a successful no-op returning 0 — that absence is exactly what makes
	// retried migrations idempotent. A missing user row aborts the
	// transaction with apperror.ErrNotFound, leaving the guest untouched.
	MigrateToUser(ctx context.Context, guestID, userID string) (transferred int64, err error)

	// DeleteExpired removes sessions with expires_at <= now. Returns how
	// many rows were deleted.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
