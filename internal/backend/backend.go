// Package backend selects the ledger store implementation from
// configuration. The memory store serves development and tests; sqlite is
// the durable default.
package backend

import (
	"context"
	"fmt"
	"log/slog"

	"tally/internal/ledger"
	"tally/internal/ledger/memory"
	"tally/internal/storage"
)

type Type string

const (
	Memory Type = "memory"
	SQLite Type = "sqlite"
)

func (t Type) String() string {
	return string(t)
}

func (t Type) IsValid() bool {
	switch t {
	case Memory, SQLite:
		return true
	}
	return false
}

// Types returns all valid backend types.
func Types() []Type {
	return []Type{Memory, SQLite}
}

type Config struct {
	Type Type

	// SQLiteDBPath is required for the sqlite backend.
	SQLiteDBPath string
}

func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}
	if c.Type == SQLite && c.SQLiteDBPath == "" {
		return fmt.Errorf("sqlite backend requires a database path")
	}
	return nil
}

// Result carries the selected store and its cleanup, nil when the store has
// nothing to release.
type Result struct {
	Store   ledger.Store
	Cleanup func() error
}

// New builds the configured ledger store.
func New(ctx context.Context, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case SQLite:
		repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("initialize sqlite store: %w", err)
		}
		slog.InfoContext(ctx, "Initialized sqlite ledger store",
			"db_path", cfg.SQLiteDBPath)
		return &Result{Store: repo, Cleanup: repo.Close}, nil

	case Memory:
		slog.InfoContext(ctx, "Initialized in-memory ledger store")
		return &Result{Store: memory.New()}, nil

	default:
		return nil, fmt.Errorf("unsupported backend type: %s", cfg.Type)
	}
}
