// Package metrics defines the Prometheus instruments for the credit ledger.
//
// promauto registers each instrument with the default registry at package
// init; the server exposes them on /metrics via promhttp. The "identity"
// label distinguishes guest balances from user balances on the operations
// that apply to both.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Identity label values.
const (
	IdentityUser  = "user"
	IdentityGuest = "guest"
)

var (
	// DailyGrants counts successful daily credit grants.
	DailyGrants = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promptmarket_daily_credit_grants_total",
		Help: "Daily credit grants applied, by identity kind.",
	}, []string{"identity"})

	// Debits counts successful debits.
	Debits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promptmarket_credit_debits_total",
		Help: "Successful credit debits, by identity kind.",
	}, []string{"identity"})

	// DebitRejections counts debits rejected for insufficient balance.
	DebitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promptmarket_credit_debit_rejections_total",
		Help: "Debits rejected for insufficient balance, by identity kind.",
	}, []string{"identity"})

	// GuestSessionsMinted counts freshly created guest sessions.
	GuestSessionsMinted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "promptmarket_guest_sessions_minted_total",
		Help: "New guest sessions created.",
	})

	// Migrations counts guest-to-user migrations that transferred credits.
	Migrations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "promptmarket_guest_migrations_total",
		Help: "Guest-to-user migrations that moved a balance.",
	})

	// MigratedCredits counts the credits moved by migrations.
	MigratedCredits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "promptmarket_guest_migrated_credits_total",
		Help: "Total credits transferred by guest-to-user migrations.",
	})

	// ExpiredGuestsPurged counts rows removed by the expiry sweep.
	ExpiredGuestsPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "promptmarket_expired_guest_sessions_purged_total",
		Help: "Expired guest sessions deleted by the background sweep.",
	})
)
