package sheets

import (
	"context"

	"tally/internal/core"
)

// Ports for the spreadsheet mirror.
type (
	// RowWriter appends one ledger entry as a spreadsheet row and returns a
	// reference to the written range. The mirror is append-only; corrections
	// arrive as reversal entries, never as edits to existing rows.
	RowWriter interface {
		Append(ctx context.Context, tx core.Transaction) (rowRef string, err error)
	}
)
