// Package config loads application configuration.
//
// Configuration comes from three layers, lowest precedence first:
//  1. Default() — compiled-in defaults, good enough for local development
//  2. an optional TOML file (CONFIG_PATH, default "config.toml")
//  3. environment variables for the handful of values that differ per
//     deployment or are secrets (PORT, DB_PATH, JWT_SECRET)
//
// Secrets never belong in the TOML file — it gets committed; the
// environment doesn't.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the root configuration for the server.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Auth     AuthConfig     `toml:"auth"`
	Session  SessionConfig  `toml:"session"`
	Credits  CreditsConfig  `toml:"credits"`
}

type ServerConfig struct {
	Port int `toml:"port"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type AuthConfig struct {
	// JWTSecret signs authenticated-session tokens. Must be set via the
	// JWT_SECRET env var outside local development.
	JWTSecret string `toml:"-"`
	// TokenTTLHours is the lifetime of an issued auth token.
	TokenTTLHours int `toml:"token_ttl_hours"`
}

type SessionConfig struct {
	// LifetimeDays is how long a freshly minted guest session lives.
	LifetimeDays int `toml:"lifetime_days"`
	// RenewWithinDays: when a valid guest session is seen with less than
	// this many days left, its expiry is pushed out again (sliding window).
	RenewWithinDays int `toml:"renew_within_days"`
	// PurgeIntervalMinutes is how often the expiry sweep deletes guest
	// sessions past their expires_at.
	PurgeIntervalMinutes int `toml:"purge_interval_minutes"`
}

type CreditsConfig struct {
	// DailyGrant is the number of credits the daily top-up adds.
	DailyGrant int64 `toml:"daily_grant"`
	// DailyCap is advisory: surfaced to clients so the UI can message an
	// accumulation limit. The granter itself does not enforce it.
	DailyCap int64 `toml:"daily_cap"`
	// UnlockCost is the price of one paywalled action.
	UnlockCost int64 `toml:"unlock_cost"`
}

// Default returns the compiled-in defaults.
func Default() Config {
	return Config{
		Server:   ServerConfig{Port: 8080},
		Database: DatabaseConfig{Path: "data/promptmarket.db"},
		Auth: AuthConfig{
			JWTSecret:     "dev-secret-change-me",
			TokenTTLHours: 24 * 7,
		},
		Session: SessionConfig{
			LifetimeDays:         14,
			RenewWithinDays:      7,
			PurgeIntervalMinutes: 60,
		},
		Credits: CreditsConfig{
			DailyGrant: 1,
			DailyCap:   5,
			UnlockCost: 1,
		},
	}
}

// Load builds the effective configuration: defaults, then the TOML file at
// path (skipped if the file doesn't exist), then env overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
			}
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid PORT %q: %w", port, err)
		}
		cfg.Server.Port = p
	}
	if dbPath := os.Getenv("DB_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Server.Port)
	}
	if c.Credits.DailyGrant <= 0 {
		return fmt.Errorf("config: daily_grant must be positive, got %d", c.Credits.DailyGrant)
	}
	if c.Credits.UnlockCost <= 0 {
		return fmt.Errorf("config: unlock_cost must be positive, got %d", c.Credits.UnlockCost)
	}
	if c.Session.LifetimeDays <= 0 {
		return fmt.Errorf("config: lifetime_days must be positive, got %d", c.Session.LifetimeDays)
	}
	if c.Session.RenewWithinDays > c.Session.LifetimeDays {
		return fmt.Errorf("config: renew_within_days (%d) exceeds lifetime_days (%d)",
			c.Session.RenewWithinDays, c.Session.LifetimeDays)
	}
	// The purge interval feeds time.NewTicker, which panics on non-positive
	// durations — reject it here instead of at server start.
	if c.Session.PurgeIntervalMinutes <= 0 {
		return fmt.Errorf("config: purge_interval_minutes must be positive, got %d", c.Session.PurgeIntervalMinutes)
	}
	if c.Auth.TokenTTLHours <= 0 {
		return fmt.Errorf("config: token_ttl_hours must be positive, got %d", c.Auth.TokenTTLHours)
	}
	return nil
}

// SessionLifetime returns the guest session lifetime as a duration.
func (c SessionConfig) SessionLifetime() time.Duration {
	return time.Duration(c.LifetimeDays) * 24 * time.Hour
}

// RenewalWindow returns the sliding-expiry renewal window as a duration.
func (c SessionConfig) RenewalWindow() time.Duration {
	return time.Duration(c.RenewWithinDays) * 24 * time.Hour
}

// PurgeInterval returns the expiry sweep interval as a duration.
func (c SessionConfig) PurgeInterval() time.Duration {
	return time.Duration(c.PurgeIntervalMinutes) * time.Minute
}

// TokenTTL returns the auth token lifetime as a duration.
func (c AuthConfig) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLHours) * time.Hour
}
