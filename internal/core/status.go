package core

// StatusLevel is the user-facing budget position for a (category, month).
type StatusLevel string

const (
	StatusOK         StatusLevel = "OK"
	StatusWarning    StatusLevel = "WARNING"
	StatusExceeded   StatusLevel = "EXCEEDED"
	StatusUnbudgeted StatusLevel = "UNBUDGETED"
)

// Band is the alert severity tier of budget usage. Ordering matters:
// alerts fire only on transitions to a higher band.
type Band int

const (
	BandOK Band = iota
	BandWarning
	BandCritical
	BandSevere
)

func (b Band) String() string {
	switch b {
	case BandWarning:
		return "warning"
	case BandCritical:
		return "critical"
	case BandSevere:
		return "severe"
	default:
		return "ok"
	}
}

// AlertKind is the notification type carried by an AlertEvent.
type AlertKind string

const (
	AlertApproachingLimit AlertKind = "approaching_limit"
	AlertExceeded         AlertKind = "exceeded"
)

// Thresholds are the band boundaries as fractions of the budget limit.
// Comparisons use integer basis points so stored values never depend on
// floating-point rounding.
type Thresholds struct {
	Warning  float64
	Critical float64
	Severe   float64
}

// DefaultThresholds returns the standard 80% / 100% / 120% boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{Warning: 0.80, Critical: 1.00, Severe: 1.20}
}

func (t Thresholds) Validate() error {
	if t.Warning <= 0 || t.Critical <= t.Warning || t.Severe <= t.Critical {
		return ErrInvalidThresholds
	}
	return nil
}

// BudgetStatus is the derived budget position. It is recomputed from the
// ledger on demand and never stored.
type BudgetStatus struct {
	Category  Category
	Month     MonthKey
	Spent     Money
	Limit     Money
	Remaining Money
	// PercentUsed is presentation-only; all comparisons run in cents.
	PercentUsed float64
	Status      StatusLevel
}

// AlertEvent is emitted when a (category, month) crosses into a higher band.
type AlertEvent struct {
	Kind        AlertKind `json:"kind"`
	Category    Category  `json:"category"`
	Month       string    `json:"month"`
	Band        string    `json:"band"`
	SpentCents  int64     `json:"spent_cents"`
	LimitCents  int64     `json:"limit_cents"`
	PercentUsed float64   `json:"percentage_used"`
}

// basisPoints converts a fractional threshold to integer basis points,
// rounding half up.
func basisPoints(frac float64) int64 {
	return int64(frac*10000 + 0.5)
}

// atLeast reports spent/limit >= frac using integer arithmetic.
func atLeast(spentCents, limitCents int64, frac float64) bool {
	if limitCents <= 0 {
		return false
	}
	return spentCents*10000 >= limitCents*basisPoints(frac)
}

// BandFor places the spend inside the severity bands for the given limit.
func (t Thresholds) BandFor(spentCents, limitCents int64) Band {
	switch {
	case atLeast(spentCents, limitCents, t.Severe):
		return BandSevere
	case atLeast(spentCents, limitCents, t.Critical):
		return BandCritical
	case atLeast(spentCents, limitCents, t.Warning):
		return BandWarning
	default:
		return BandOK
	}
}

// AlertKindFor maps a band to the notification type it raises. BandOK has
// no alert kind.
func AlertKindFor(b Band) (AlertKind, bool) {
	switch b {
	case BandWarning:
		return AlertApproachingLimit, true
	case BandCritical, BandSevere:
		return AlertExceeded, true
	default:
		return "", false
	}
}

// StatusFor derives the user-facing status from spend and limit.
func (t Thresholds) StatusFor(spentCents, limitCents int64) StatusLevel {
	switch {
	case limitCents <= 0:
		return StatusUnbudgeted
	case atLeast(spentCents, limitCents, t.Critical):
		return StatusExceeded
	case atLeast(spentCents, limitCents, t.Warning):
		return StatusWarning
	default:
		return StatusOK
	}
}

// PercentUsed computes spent/limit as a percentage for display. Returns 0
// when no limit is set.
func PercentUsed(spentCents, limitCents int64) float64 {
	if limitCents <= 0 {
		return 0
	}
	return float64(spentCents) / float64(limitCents) * 100.0
}

// NewBudgetStatus assembles the derived status for one (category, month).
// A zero limit means no active budget and yields StatusUnbudgeted.
func NewBudgetStatus(category Category, month MonthKey, spentCents, limitCents int64, t Thresholds) BudgetStatus {
	s := BudgetStatus{
		Category: category,
		Month:    month,
		Spent:    Money{Cents: spentCents},
		Limit:    Money{Cents: limitCents},
		Status:   t.StatusFor(spentCents, limitCents),
	}
	if limitCents > 0 {
		s.Remaining = Money{Cents: limitCents - spentCents}
		s.PercentUsed = PercentUsed(spentCents, limitCents)
	}
	return s
}
