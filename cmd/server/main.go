// Package main is the entry point for the prompt-market credit ledger
// server. Its job is deliberately small: load configuration, build the
// server, start it. Everything else lives in internal/.
package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/sakif/prompt-market/internal/config"
	"github.com/sakif/prompt-market/internal/server"
)

func main() {
	// .env is a local-development convenience; in real deployments the
	// environment comes from the process manager and the file won't exist.
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.toml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Make sure the directory holding the database file exists. Skipped for
	// in-memory databases, which have no backing file.
	if cfg.Database.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
			logger.Error("failed to create database directory",
				slog.String("dir", filepath.Dir(cfg.Database.Path)),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until SIGINT/SIGTERM or a listener failure.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
