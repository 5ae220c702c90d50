package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/prompt-market/internal/apperror"
	"github.com/sakif/prompt-market/internal/model"
	"github.com/sakif/prompt-market/internal/repository"
)

// UserDB implements repository.UserRepository against SQLite.
type UserDB struct {
	conn *sql.DB
}

// compile-time check that *UserDB implements repository.UserRepository
var _ repository.UserRepository = (*UserDB)(nil)

// Create inserts a new user with a zero credit balance.
// Returns apperror.ErrConflict if the email is already registered.
func (u *UserDB) Create(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := u.conn.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, credits, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.Credits,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		// The UNIQUE constraint on email is the only constraint an INSERT
		// with a fresh xid can trip over.
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return apperror.Conflict("user", user.Email)
		}
		return fmt.Errorf("sqlite: inserting user %s: %w", user.Email, err)
	}

	return nil
}

// GetByID retrieves a user by their internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (u *UserDB) GetByID(ctx context.Context, id string) (*model.User, error) {
	return u.getWhere(ctx, "id = ?", id)
}

// GetByEmail retrieves a user by email (case-insensitive: emails are stored
// lowercased by Create).
func (u *UserDB) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return u.getWhere(ctx, "email = ?", strings.ToLower(strings.TrimSpace(email)))
}

func (u *UserDB) getWhere(ctx context.Context, where string, arg any) (*model.User, error) {
	var usr model.User
	var lastGrant sql.NullTime

	err := u.conn.QueryRowContext(ctx,
		`SELECT id, email, password_hash, credits, last_daily_credit_at, created_at, updated_at
		 FROM users WHERE `+where,
		arg,
	).Scan(
		&usr.ID,
		&usr.Email,
		&usr.PasswordHash,
		&usr.Credits,
		&lastGrant,
		&usr.CreatedAt,
		&usr.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("user", fmt.Sprint(arg))
		}
		return nil, fmt.Errorf("sqlite: getting user %v: %w", arg, err)
	}

	if lastGrant.Valid {
		t := lastGrant.Time
		usr.LastDailyCreditAt = &t
	}

	return &usr, nil
}

// GrantDailyCredit applies the once-per-UTC-day top-up.
//
// THE WHOLE TRICK IS THE SINGLE STATEMENT:
// the day-boundary check and the balance increment live in one UPDATE, so
// the store evaluates predicate and mutation atomically. Two concurrent
// calls cannot both see "not yet granted today" — whichever statement runs
// second sees the timestamp the first one just wrote and matches zero rows.
// A SELECT-then-UPDATE version of this function would lose that guarantee.
func (u *UserDB) GrantDailyCredit(ctx context.Context, id string, amount int64, now time.Time) (int64, bool, error) {
	nowUTC := now.UTC()

	// RETURNING hands back the balance this very statement produced, so the
	// reported value can't be skewed by an interleaved debit between an
	// update and a separate re-read.
	var credits int64
	err := u.conn.QueryRowContext(ctx,
		`UPDATE users
		 SET credits = credits + ?, last_daily_credit_at = ?, updated_at = ?
		 WHERE id = ?
		   AND (last_daily_credit_at IS NULL OR last_daily_credit_at < ?)
		 RETURNING credits`,
		amount, nowUTC, nowUTC, id, startOfDayUTC(now),
	).Scan(&credits)
	if err == nil {
		return credits, true, nil
	}
	if err != sql.ErrNoRows {
		return 0, false, fmt.Errorf("sqlite: granting daily credit to user %s: %w", id, err)
	}

	// The predicate matched nothing: either "already granted today" (fine,
	// report the current balance) or "no such user" (NotFound). One read
	// distinguishes the two.
	err = u.conn.QueryRowContext(ctx, `SELECT credits FROM users WHERE id = ?`, id).Scan(&credits)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, false, apperror.NotFound("user", id)
		}
		return 0, false, fmt.Errorf("sqlite: reading user %s balance: %w", id, err)
	}

	return credits, false, nil
}

// Debit charges amount against the balance.
//
// Same single-statement discipline as GrantDailyCredit: "credits >= ?" and
// "credits = credits - ?" execute atomically, so concurrent debits serialize
// on the row and can never jointly overdraw it.
func (u *UserDB) Debit(ctx context.Context, id string, amount int64) (int64, error) {
	var credits int64
	err := u.conn.QueryRowContext(ctx,
		`UPDATE users
		 SET credits = credits - ?, updated_at = ?
		 WHERE id = ? AND credits >= ?
		 RETURNING credits`,
		amount, time.Now().UTC(), id, amount,
	).Scan(&credits)
	if err == nil {
		// RETURNING gives exactly this debit's post-decrement balance, even
		// when other debits land on the same row concurrently.
		return credits, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("sqlite: debiting user %s: %w", id, err)
	}

	// The predicate matched nothing: no such user, or balance too low.
	err = u.conn.QueryRowContext(ctx, `SELECT credits FROM users WHERE id = ?`, id).Scan(&credits)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, apperror.NotFound("user", id)
		}
		return 0, fmt.Errorf("sqlite: reading user %s balance: %w", id, err)
	}

	return 0, apperror.InsufficientCredits(credits, amount)
}

// AddCredits unconditionally adds amount to the balance (purchase webhook
// path). Returns the new balance, or apperror.ErrNotFound.
func (u *UserDB) AddCredits(ctx context.Context, id string, amount int64) (int64, error) {
	var credits int64
	err := u.conn.QueryRowContext(ctx,
		`UPDATE users SET credits = credits + ?, updated_at = ? WHERE id = ? RETURNING credits`,
		amount, time.Now().UTC(), id,
	).Scan(&credits)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, apperror.NotFound("user", id)
		}
		return 0, fmt.Errorf("sqlite: adding credits to user %s: %w", id, err)
	}
	return credits, nil
}
