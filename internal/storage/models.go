package storage

import (
	"database/sql"
	"time"
)

// Row types mirroring the SQLite schema one to one. Mapping to and from the
// domain types happens in the repository.

type Transaction struct {
	ID             int64
	Ts             time.Time
	Month          string
	AmountCents    int64
	Category       string
	Description    string
	PaymentMethod  string
	Notes          string
	ReversalOf     sql.NullInt64
	NeedsReview    bool
	MirrorStatus   string
	MirrorAttempts int64
	MirrorRowRef   sql.NullString
	MirrorError    sql.NullString
	MirroredAt     sql.NullTime
	CreatedAt      time.Time
}

type Budget struct {
	ID         int64
	Category   string
	Month      string
	LimitCents int64
	Active     bool
	CreatedAt  time.Time
}

type BandState struct {
	Category  string
	Month     string
	Band      int64
	UpdatedAt time.Time
}
