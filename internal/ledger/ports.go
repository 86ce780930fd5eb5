// Package ledger defines the ports of the transaction ledger and budget
// book. Implementations live in internal/ledger/memory and internal/storage.
package ledger

import (
	"context"

	"tally/internal/core"
)

// Filter narrows List queries. The zero value matches everything.
type Filter struct {
	// Category restricts to one category when non-empty.
	Category core.Category
	// Month restricts to one calendar month when non-nil.
	Month *core.MonthKey
	// NeedsReview restricts to flagged transactions when true.
	NeedsReview bool
	// Limit caps the number of rows returned; zero or negative means no cap.
	Limit int
	// Offset skips rows for pagination.
	Offset int
}

// Ports for the ledger. Stores assign ids; records are append-only except
// for the one permitted mutation, Recategorize.
type (
	Appender interface {
		Append(ctx context.Context, tx core.Transaction) (int64, error)
	}

	Reader interface {
		Get(ctx context.Context, id int64) (core.Transaction, error)
		List(ctx context.Context, f Filter) ([]core.Transaction, error)
	}

	// Corrector fixes recorded transactions. Reverse appends an offsetting
	// transaction rather than touching the original; Recategorize rewrites
	// the category in place and clears the needs-review flag.
	Corrector interface {
		Reverse(ctx context.Context, id int64, notes string) (core.Transaction, error)
		Recategorize(ctx context.Context, id int64, category core.Category) (core.Transaction, error)
	}

	// Summer reports net spend, reversals included.
	Summer interface {
		SpentCents(ctx context.Context, category core.Category, month core.MonthKey) (int64, error)
	}

	// BudgetBook keeps one active limit per (category, month). Setting a new
	// limit supersedes the previous one; superseded rows are kept.
	BudgetBook interface {
		SetBudget(ctx context.Context, b core.Budget) (core.Budget, error)
		ActiveBudget(ctx context.Context, category core.Category, month core.MonthKey) (core.Budget, error)
		ListBudgets(ctx context.Context, month core.MonthKey) ([]core.Budget, error)
	}

	// BandState remembers the last alert band per (category, month) so
	// alerts fire only on upward transitions.
	BandState interface {
		LastBand(ctx context.Context, category core.Category, month core.MonthKey) (core.Band, error)
		SetLastBand(ctx context.Context, category core.Category, month core.MonthKey, band core.Band) error
		// PruneBands drops band state older than the given month and
		// reports how many rows went away.
		PruneBands(ctx context.Context, before core.MonthKey) (int64, error)
	}

	// MirrorState tracks which transactions still need replicating to the
	// spreadsheet mirror.
	MirrorState interface {
		PendingMirror(ctx context.Context, limit int) ([]core.Transaction, error)
		MarkMirrored(ctx context.Context, id int64, rowRef string) error
		MarkMirrorError(ctx context.Context, id int64, message string) error
	}

	// Store is the full ledger surface the services build on.
	Store interface {
		Appender
		Reader
		Corrector
		Summer
		BudgetBook
		BandState
		MirrorState
	}
)
