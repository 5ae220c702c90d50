// Package server sets up the HTTP server, router, and all route definitions.
//
// This is the composition root: the one place where the database, services,
// handlers, and middleware get wired together. main.go stays minimal — load
// config, build a Server, Start it.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sakif/prompt-market/internal/auth"
	"github.com/sakif/prompt-market/internal/config"
	"github.com/sakif/prompt-market/internal/handler"
	"github.com/sakif/prompt-market/internal/metrics"
	"github.com/sakif/prompt-market/internal/middleware"
	sqliteRepo "github.com/sakif/prompt-market/internal/repository/sqlite"
	"github.com/sakif/prompt-market/internal/service"
	"github.com/sakif/prompt-market/internal/session"
)

// Server owns the router, the database connection, and the background
// expiry sweep. The database is closed during graceful shutdown.
type Server struct {
	router *chi.Mux
	cfg    config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB
}

// New creates a Server with all dependencies wired.
//
// The dependency chain: sqlite.DB satisfies the repository interfaces; the
// session and credit services receive those interfaces; handlers receive the
// services. Handlers never touch the database, services never touch HTTP.
func New(cfg config.Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		cfg:    cfg,
		logger: logger,
		db:     db,
	}
	s.setupRoutes()
	return s, nil
}

// setupRoutes configures middleware and route handlers.
//
// Route structure:
//
//	GET  /healthz                  → liveness probe
//	GET  /metrics                  → Prometheus instruments
//	GET  /api/session              → resolve identity, mint guest, daily grant
//	POST /api/credits/spend        → debit the unlock cost
//	POST /api/auth/register        → create account, absorb guest balance
//	POST /api/auth/login           → issue auth token
//	POST /api/auth/logout          → drop auth cookie
//	GET  /api/me                   → current user            [auth required]
//	POST /api/session/migrate      → retry guest migration   [auth required]
//
// Middleware order matters: RequestID first so the logger can report it,
// Recoverer last in the global chain so panics in handlers become 500s.
func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	tokens := auth.NewTokenService(s.cfg.Auth.JWTSecret, s.cfg.Auth.TokenTTL())
	passwords := auth.NewPasswordService()
	sessions := session.NewService(s.db.Guests(), tokens, s.cfg.Session, s.logger)
	credits := service.NewCreditService(s.db.Users(), s.db.Guests(), s.cfg.Credits, s.logger)
	auths := service.NewAuthService(s.db.Users(), passwords, tokens, credits, s.logger)

	sessionHandler := handler.NewSessionHandler(sessions, credits, s.logger)
	authHandler := handler.NewAuthHandler(auths, sessions, s.cfg.Auth, s.logger)

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api", func(r chi.Router) {
		// Routes that serve guests and users alike. OptionalAuth parks the
		// userID in the context when a valid token is present; the session
		// resolver does the rest.
		r.Group(func(r chi.Router) {
			r.Use(auth.OptionalAuth(tokens))
			r.Get("/session", sessionHandler.HandleSession)
			r.Post("/credits/spend", sessionHandler.HandleSpend)
		})

		r.Post("/auth/register", authHandler.HandleRegister)
		r.Post("/auth/login", authHandler.HandleLogin)
		r.Post("/auth/logout", authHandler.HandleLogout)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens))
			r.Get("/me", authHandler.HandleMe)
			r.Post("/session/migrate", sessionHandler.HandleMigrate)
		})
	})
}

// purgeExpiredGuests deletes guest sessions past their expiry on a timer,
// until ctx is cancelled. Expired sessions already resolve to anonymous, so
// the sweep is housekeeping, not a security boundary — missing a beat costs
// disk, not correctness.
func (s *Server) purgeExpiredGuests(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Session.PurgeInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.db.Guests().DeleteExpired(ctx, time.Now())
			if err != nil {
				s.logger.Error("expired guest sweep failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				metrics.ExpiredGuestsPurged.Add(float64(n))
				s.logger.Info("expired guest sessions purged", slog.Int64("count", n))
			}
		}
	}
}

// Start runs the HTTP server and the expiry sweep, blocking until a
// shutdown signal arrives or the listener fails.
//
// Shutdown order: stop accepting connections, drain in-flight requests
// (30s budget), stop the sweep, close the database. The deferred Close
// flushes the WAL and releases the file lock.
func (s *Server) Start() error {
	defer s.db.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go s.purgeExpiredGuests(sweepCtx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.cfg.Server.Port),
			slog.String("database", s.cfg.Database.Path),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
