package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sakif/prompt-market/internal/apperror"
	"github.com/sakif/prompt-market/internal/model"
	"github.com/sakif/prompt-market/internal/repository"
)

// GuestDB implements repository.GuestRepository against SQLite.
type GuestDB struct {
	conn *sql.DB
}

// compile-time check that *GuestDB implements repository.GuestRepository
var _ repository.GuestRepository = (*GuestDB)(nil)

// Create inserts a freshly minted guest session. The caller (the session
// service) is responsible for generating the id and credentials; this layer
// only persists them.
func (g *GuestDB) Create(ctx context.Context, guest *model.GuestSession) error {
	now := time.Now().UTC()
	guest.CreatedAt = now
	guest.UpdatedAt = now
	guest.ExpiresAt = guest.ExpiresAt.UTC()

	_, err := g.conn.ExecContext(ctx,
		`INSERT INTO guest_sessions
		   (id, access_token, session_secret, fingerprint, credits, expires_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		guest.ID,
		guest.AccessToken,
		guest.SessionSecret,
		guest.Fingerprint,
		guest.Credits,
		guest.ExpiresAt,
		guest.CreatedAt,
		guest.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting guest session %s: %w", guest.ID, err)
	}

	return nil
}

// GetByID retrieves a guest session by id, expired or not — expiry policy
// belongs to the resolver, not the storage layer.
// Returns apperror.ErrNotFound if the row doesn't exist.
func (g *GuestDB) GetByID(ctx context.Context, id string) (*model.GuestSession, error) {
	var gs model.GuestSession
	var lastGrant sql.NullTime

	err := g.conn.QueryRowContext(ctx,
		`SELECT id, access_token, session_secret, fingerprint, credits,
		        last_daily_credit_at, expires_at, created_at, updated_at
		 FROM guest_sessions WHERE id = ?`,
		id,
	).Scan(
		&gs.ID,
		&gs.AccessToken,
		&gs.SessionSecret,
		&gs.Fingerprint,
		&gs.Credits,
		&lastGrant,
		&gs.ExpiresAt,
		&gs.CreatedAt,
		&gs.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("guest session", id)
		}
		return nil, fmt.Errorf("sqlite: getting guest session %s: %w", id, err)
	}

	if lastGrant.Valid {
		t := lastGrant.Time
		gs.LastDailyCreditAt = &t
	}

	return &gs, nil
}

// Renew pushes the expiry out for the sliding window. The credentials are
// deliberately left alone — renewal extends a session, it does not rotate it.
func (g *GuestDB) Renew(ctx context.Context, id string, expiresAt time.Time) error {
	res, err := g.conn.ExecContext(ctx,
		`UPDATE guest_sessions SET expires_at = ?, updated_at = ? WHERE id = ?`,
		expiresAt.UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: renewing guest session %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: reading rows affected: %w", err)
	}
	if affected == 0 {
		return apperror.NotFound("guest session", id)
	}
	return nil
}

// GrantDailyCredit — identical discipline to UserDB.GrantDailyCredit: one
// conditional UPDATE carries both the day-boundary predicate and the
// increment, so concurrent calls on the same day produce exactly one grant.
func (g *GuestDB) GrantDailyCredit(ctx context.Context, id string, amount int64, now time.Time) (int64, bool, error) {
	nowUTC := now.UTC()

	// RETURNING reports this statement's own result; see the user variant.
	var credits int64
	err := g.conn.QueryRowContext(ctx,
		`UPDATE guest_sessions
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
		return 0, false, fmt.Errorf("sqlite: granting daily credit to guest %s: %w", id, err)
	}

	// Already granted today, or no such session.
	err = g.conn.QueryRowContext(ctx, `SELECT credits FROM guest_sessions WHERE id = ?`, id).Scan(&credits)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, false, apperror.NotFound("guest session", id)
		}
		return 0, false, fmt.Errorf("sqlite: reading guest %s balance: %w", id, err)
	}

	return credits, false, nil
}

// Debit charges amount against the guest balance. Conditional single-UPDATE,
// same as the user variant.
func (g *GuestDB) Debit(ctx context.Context, id string, amount int64) (int64, error) {
	var credits int64
	err := g.conn.QueryRowContext(ctx,
		`UPDATE guest_sessions
		 SET credits = credits - ?, updated_at = ?
		 WHERE id = ? AND credits >= ?
		 RETURNING credits`,
		amount, time.Now().UTC(), id, amount,
	).Scan(&credits)
	if err == nil {
		return credits, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("sqlite: debiting guest %s: %w", id, err)
	}

	// No such session, or balance too low.
	err = g.conn.QueryRowContext(ctx, `SELECT credits FROM guest_sessions WHERE id = ?`, id).Scan(&credits)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, apperror.NotFound("guest session", id)
		}
		return 0, fmt.Errorf("sqlite: reading guest %s balance: %w", id, err)
	}

	return 0, apperror.InsufficientCredits(credits, amount)
}

// MigrateToUser moves the guest's entire balance onto the user and deletes
// the guest row, in one transaction.
//
// THE DELETED ROW IS THE IDEMPOTENCY MARKER:
// a second migration attempt — a client retry, a second browser tab — finds
// no guest row and returns (0, nil) without touching anything. Because the
// read, the credit, and the delete commit together, there is no window where
// another transaction can observe the balance after we decided to transfer
// it but before the row disappears. The single-writer connection (see
// sqlite.go) means the whole transaction holds the write slot until commit.
func (g *GuestDB) MigrateToUser(ctx context.Context, guestID, userID string) (int64, error) {
	tx, err := g.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: starting migration tx: %w", err)
	}
	// Rollback is a no-op after a successful Commit.
	defer tx.Rollback()

	var credits int64
	err = tx.QueryRowContext(ctx,
		`SELECT credits FROM guest_sessions WHERE id = ?`, guestID,
	).Scan(&credits)
	if err == sql.ErrNoRows {
		// Already migrated, or expired and purged. Either way: idempotent
		// success, nothing transferred.
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite: reading guest %s for migration: %w", guestID, err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE users SET credits = credits + ?, updated_at = ? WHERE id = ?`,
		credits, time.Now().UTC(), userID,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: crediting user %s during migration: %w", userID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: reading rows affected: %w", err)
	}
	if affected == 0 {
		// Target account doesn't exist. Roll back so the guest keeps its
		// balance — a retry after the account lands will succeed.
		return 0, apperror.NotFound("user", userID)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM guest_sessions WHERE id = ?`, guestID,
	); err != nil {
		return 0, fmt.Errorf("sqlite: deleting guest %s during migration: %w", guestID, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: committing migration of guest %s: %w", guestID, err)
	}

	return credits, nil
}

// DeleteExpired removes all sessions at or past their expiry. Run
// periodically by the server; old credentials presented afterwards resolve
// to anonymous because the row is simply gone.
func (g *GuestDB) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := g.conn.ExecContext(ctx,
		`DELETE FROM guest_sessions WHERE expires_at <= ?`, now.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: purging expired guest sessions: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: reading rows affected: %w", err)
	}
	return deleted, nil
}
