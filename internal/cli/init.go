// Package cli provides common initialization utilities shared by
// cmd/tally, cmd/tally-worker and cmd/oauth-init.
package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"tally/internal/backend"
	"tally/internal/config"
	"tally/internal/ledger"
)

// SetupLogger initializes structured logging at the given level and sets it
// as the default logger. Unknown levels fall back to info.
func SetupLogger(level string) *slog.Logger {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	}))
	slog.SetDefault(logger)
	return logger
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// Bootstrap loads the environment, builds the logger from the configured
// level and validates the configuration. It exits the process on validation
// failure so the mains can assume a usable config.
func Bootstrap() (*slog.Logger, *config.Config) {
	LoadEnvFile()
	cfg := config.Load()
	logger := SetupLogger(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	return logger, cfg
}

// OpenStore builds the configured ledger backend. It exits the process on
// failure. The returned cleanup is never nil.
func OpenStore(ctx context.Context, logger *slog.Logger, cfg *config.Config) (ledger.Store, func() error) {
	result, err := backend.New(ctx, backend.Config{
		Type:         backend.Type(cfg.DataBackend),
		SQLiteDBPath: cfg.SQLiteDBPath,
	})
	if err != nil {
		logger.Error("Failed to initialize storage backend", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	cleanup := result.Cleanup
	if cleanup == nil {
		cleanup = func() error { return nil }
	}
	logger.Info("Storage backend ready", "backend", cfg.DataBackend)
	return result.Store, cleanup
}
