package sqlite

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sakif/prompt-market/internal/apperror"
	"github.com/sakif/prompt-market/internal/model"
)

// newTestDB returns a DB backed by an in-memory SQLite database.
// The single-connection pool (see New) keeps ":memory:" coherent — with a
// larger pool every connection would get its own empty database.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// createTestUser creates a user and fails the test if it errors.
func createTestUser(t *testing.T, u *UserDB, email string, credits int64) *model.User {
	t.Helper()
	user := &model.User{
		Email:        email,
		PasswordHash: "$2a$04$fakehashfortestingonly",
		Credits:      credits,
	}
	if err := u.Create(context.Background(), user); err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

// =========================================================================
// CREATE / GET TESTS
// =========================================================================

func TestUserCreate(t *testing.T) {
	u := newTestDB(t).Users()

	user := &model.User{
		Email:        "Alice@Example.com",
		PasswordHash: "$2a$04$fakehashfortestingonly",
	}
	if err := u.Create(context.Background(), user); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if user.ID == "" {
		t.Error("Create() did not set user.ID")
	}
	if user.Email != "alice@example.com" {
		t.Errorf("Create() should lowercase email, got %q", user.Email)
	}
	if user.CreatedAt.IsZero() || user.UpdatedAt.IsZero() {
		t.Error("Create() did not set timestamps")
	}

	found, err := u.GetByID(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("GetByID() after Create: %v", err)
	}
	if found.Credits != 0 {
		t.Errorf("new user Credits = %d, want 0", found.Credits)
	}
	if found.LastDailyCreditAt != nil {
		t.Errorf("new user LastDailyCreditAt = %v, want nil", found.LastDailyCreditAt)
	}
}

func TestUserCreate_DuplicateEmail(t *testing.T) {
	u := newTestDB(t).Users()
	createTestUser(t, u, "dup@example.com", 0)

	err := u.Create(context.Background(), &model.User{
		Email:        "DUP@example.com", // same address, different case
		PasswordHash: "$2a$04$fakehashfortestingonly",
	})
	if err == nil {
		t.Fatal("Create() should have failed for duplicate email")
	}
	if !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("Create() error = %v, want ErrConflict", err)
	}
}

func TestUserGetByEmail(t *testing.T) {
	u := newTestDB(t).Users()
	created := createTestUser(t, u, "lookup@example.com", 0)

	found, err := u.GetByEmail(context.Background(), "  Lookup@Example.COM ")
	if err != nil {
		t.Fatalf("GetByEmail() error = %v", err)
	}
	if found.ID != created.ID {
		t.Errorf("ID = %q, want %q", found.ID, created.ID)
	}
}

func TestUserGetByID_NotFound(t *testing.T) {
	u := newTestDB(t).Users()

	_, err := u.GetByID(context.Background(), "nonexistent-id")
	if err == nil {
		t.Fatal("GetByID() should have returned an error for nonexistent ID")
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetByID() error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// DAILY GRANT TESTS
// =========================================================================

func TestUserGrantDailyCredit_FirstGrant(t *testing.T) {
	u := newTestDB(t).Users()
	user := createTestUser(t, u, "grant@example.com", 0)

	credits, granted, err := u.GrantDailyCredit(context.Background(), user.ID, 1, time.Now())
	if err != nil {
		t.Fatalf("GrantDailyCredit() error = %v", err)
	}
	if !granted {
		t.Error("first GrantDailyCredit() should report granted = true")
	}
	if credits != 1 {
		t.Errorf("credits = %d, want 1", credits)
	}

	found, err := u.GetByID(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("GetByID() after grant: %v", err)
	}
	if found.LastDailyCreditAt == nil {
		t.Error("grant did not set LastDailyCreditAt")
	}
}

func TestUserGrantDailyCredit_SameDayIsNoOp(t *testing.T) {
	u := newTestDB(t).Users()
	user := createTestUser(t, u, "sameday@example.com", 0)
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	if _, granted, err := u.GrantDailyCredit(context.Background(), user.ID, 2, now); err != nil || !granted {
		t.Fatalf("first grant: granted=%v err=%v", granted, err)
	}

	// Later the same UTC day — must be a no-op.
	credits, granted, err := u.GrantDailyCredit(context.Background(), user.ID, 2, now.Add(5*time.Hour))
	if err != nil {
		t.Fatalf("second grant error = %v", err)
	}
	if granted {
		t.Error("second same-day grant should report granted = false")
	}
	if credits != 2 {
		t.Errorf("credits = %d, want 2 (exactly one grant)", credits)
	}
}

func TestUserGrantDailyCredit_DayRollover(t *testing.T) {
	u := newTestDB(t).Users()
	user := createTestUser(t, u, "rollover@example.com", 0)

	// 23:50 on day D, then 00:10 on day D+1. The boundary is midnight UTC,
	// not "24 hours since last grant" — 20 minutes apart is enough.
	dayD := time.Date(2026, 3, 14, 23, 50, 0, 0, time.UTC)
	dayD1 := time.Date(2026, 3, 15, 0, 10, 0, 0, time.UTC)

	if _, granted, err := u.GrantDailyCredit(context.Background(), user.ID, 1, dayD); err != nil || !granted {
		t.Fatalf("day D grant: granted=%v err=%v", granted, err)
	}

	credits, granted, err := u.GrantDailyCredit(context.Background(), user.ID, 1, dayD1)
	if err != nil {
		t.Fatalf("day D+1 grant error = %v", err)
	}
	if !granted {
		t.Error("grant after UTC midnight should report granted = true")
	}
	if credits != 2 {
		t.Errorf("credits = %d, want 2", credits)
	}
}

func TestUserGrantDailyCredit_ConcurrentExactlyOnce(t *testing.T) {
	u := newTestDB(t).Users()
	user := createTestUser(t, u, "race@example.com", 0)
	now := time.Now()

	const callers = 10
	var wg sync.WaitGroup
	results := make([]bool, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, granted, err := u.GrantDailyCredit(context.Background(), user.ID, 1, now)
			if err != nil {
				t.Errorf("concurrent GrantDailyCredit() error = %v", err)
				return
			}
			results[i] = granted
		}(i)
	}
	wg.Wait()

	grantedCount := 0
	for _, g := range results {
		if g {
			grantedCount++
		}
	}
	if grantedCount != 1 {
		t.Errorf("granted count = %d, want exactly 1", grantedCount)
	}

	found, err := u.GetByID(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("GetByID() after concurrent grants: %v", err)
	}
	if found.Credits != 1 {
		t.Errorf("final credits = %d, want 1 (single grant applied)", found.Credits)
	}
}

func TestUserGrantDailyCredit_NotFound(t *testing.T) {
	u := newTestDB(t).Users()

	_, _, err := u.GrantDailyCredit(context.Background(), "ghost", 1, time.Now())
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GrantDailyCredit() error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// DEBIT TESTS
// =========================================================================

func TestUserDebit(t *testing.T) {
	u := newTestDB(t).Users()
	user := createTestUser(t, u, "debit@example.com", 5)

	remaining, err := u.Debit(context.Background(), user.ID, 2)
	if err != nil {
		t.Fatalf("Debit() error = %v", err)
	}
	if remaining != 3 {
		t.Errorf("remaining = %d, want 3", remaining)
	}
}

func TestUserDebit_Insufficient(t *testing.T) {
	u := newTestDB(t).Users()
	user := createTestUser(t, u, "broke@example.com", 1)

	_, err := u.Debit(context.Background(), user.ID, 2)
	if !errors.Is(err, apperror.ErrInsufficientCredits) {
		t.Fatalf("Debit() error = %v, want ErrInsufficientCredits", err)
	}

	// The failed debit must leave the balance untouched.
	found, err := u.GetByID(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("GetByID() after failed debit: %v", err)
	}
	if found.Credits != 1 {
		t.Errorf("credits = %d after failed debit, want 1", found.Credits)
	}
}

func TestUserDebit_NotFound(t *testing.T) {
	u := newTestDB(t).Users()

	_, err := u.Debit(context.Background(), "ghost", 1)
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Debit() error = %v, want ErrNotFound", err)
	}
}

func TestUserDebit_ConcurrentNoOverdraw(t *testing.T) {
	u := newTestDB(t).Users()

	// Balance 5, cost 1, 8 concurrent debits: exactly 5 succeed, 3 fail
	// with insufficient credits, final balance 0.
	user := createTestUser(t, u, "overdraw@example.com", 5)

	const callers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	insufficient := 0
	remainders := map[int64]int{}

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			remaining, err := u.Debit(context.Background(), user.ID, 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				remainders[remaining]++
			case errors.Is(err, apperror.ErrInsufficientCredits):
				insufficient++
			default:
				t.Errorf("unexpected Debit() error: %v", err)
			}
		}()
	}
	wg.Wait()

	if insufficient != 3 {
		t.Errorf("insufficient = %d, want 3", insufficient)
	}
	// Each successful debit must report its own post-decrement balance:
	// 4, 3, 2, 1, 0 — one each, no duplicates from interleaved reads.
	for want := int64(0); want < 5; want++ {
		if remainders[want] != 1 {
			t.Errorf("remaining balance %d reported %d times, want exactly once (got %v)",
				want, remainders[want], remainders)
		}
	}

	found, err := u.GetByID(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("GetByID() after concurrent debits: %v", err)
	}
	if found.Credits != 0 {
		t.Errorf("final credits = %d, want 0", found.Credits)
	}
}

// =========================================================================
// ADD CREDITS TESTS
// =========================================================================

func TestUserAddCredits(t *testing.T) {
	u := newTestDB(t).Users()
	user := createTestUser(t, u, "topup@example.com", 2)

	balance, err := u.AddCredits(context.Background(), user.ID, 50)
	if err != nil {
		t.Fatalf("AddCredits() error = %v", err)
	}
	if balance != 52 {
		t.Errorf("balance = %d, want 52", balance)
	}
}

func TestUserAddCredits_NotFound(t *testing.T) {
	u := newTestDB(t).Users()

	_, err := u.AddCredits(context.Background(), "ghost", 10)
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("AddCredits() error = %v, want ErrNotFound", err)
	}
}
