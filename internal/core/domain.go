package core

import (
	"errors"
	"strings"
	"time"
)

// Category is the closed set of spending categories. New categories are a
// schema migration, not a runtime addition.
type Category string

const (
	CategoryFood          Category = "Food & Dining"
	CategoryTransport     Category = "Transportation"
	CategoryShopping      Category = "Shopping"
	CategoryEntertainment Category = "Entertainment"
	CategoryBills         Category = "Bills & Utilities"
	CategoryHealthcare    Category = "Healthcare"
	CategoryEducation     Category = "Education"
	CategoryTravel        Category = "Travel"
	CategorySavings       Category = "Savings & Investment"
	CategoryOther         Category = "Other"
)

// PaymentMethod is how an expense was paid, when the message says so.
type PaymentMethod string

const (
	PaymentCash    PaymentMethod = "cash"
	PaymentCard    PaymentMethod = "card"
	PaymentDigital PaymentMethod = "digital"
	PaymentUnknown PaymentMethod = "unknown"
)

type (
	Money struct {
		Cents int64
	}

	// MonthKey identifies a budgeting period (calendar month, UTC).
	MonthKey struct {
		Year  int
		Month time.Month
	}

	// Transaction is one ledger entry. Entries are append-only: corrections
	// are modeled as offsetting reversal entries, and the only permitted
	// mutation after append is a category correction.
	Transaction struct {
		ID            int64
		Timestamp     time.Time
		Amount        Money
		Category      Category
		Description   string
		PaymentMethod PaymentMethod
		Notes         string
		// ReversalOf holds the id of the entry this one offsets; zero for
		// ordinary spends. Reversal amounts are negative.
		ReversalOf  int64
		NeedsReview bool
	}

	// Budget is a spending limit for one (category, month). Replacing a
	// budget supersedes the prior row; it is never deleted.
	Budget struct {
		ID       int64
		Category Category
		Month    MonthKey
		Limit    Money
	}
)

var (
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInvalidCategory       = errors.New("invalid category")
	ErrInvalidMonth          = errors.New("invalid month")
	ErrInvalidPaymentMethod  = errors.New("invalid payment method")
	ErrEmptyDescription      = errors.New("empty description")
	ErrDescriptionTooLong    = errors.New("description too long (max 200 characters)")
	ErrNoAmountFound         = errors.New("no monetary amount found")
	ErrClassificationTimeout = errors.New("classification timed out")
	ErrNotFound              = errors.New("not found")
	ErrAlreadyReversed       = errors.New("transaction already reversed")
	ErrReversalOfReversal    = errors.New("cannot reverse a reversal")
	ErrNoActiveBudget        = errors.New("no active budget")
	ErrInvalidThresholds     = errors.New("invalid alert thresholds")
)

// Categories returns the closed category set in display order.
func Categories() []Category {
	return []Category{
		CategoryFood,
		CategoryTransport,
		CategoryShopping,
		CategoryEntertainment,
		CategoryBills,
		CategoryHealthcare,
		CategoryEducation,
		CategoryTravel,
		CategorySavings,
		CategoryOther,
	}
}

// ParseCategory resolves user-supplied text to a category, case-insensitively.
func ParseCategory(s string) (Category, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for _, c := range Categories() {
		if strings.ToLower(string(c)) == want {
			return c, nil
		}
	}
	return "", ErrInvalidCategory
}

func (c Category) Valid() bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}

func (p PaymentMethod) Valid() bool {
	switch p {
	case PaymentCash, PaymentCard, PaymentDigital, PaymentUnknown:
		return true
	}
	return false
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// MonthOf returns the month key containing t, in UTC.
func MonthOf(t time.Time) MonthKey {
	u := t.UTC()
	return MonthKey{Year: u.Year(), Month: u.Month()}
}

// ParseMonthKey parses the canonical "YYYY-MM" form.
func ParseMonthKey(s string) (MonthKey, error) {
	t, err := time.Parse("2006-01", strings.TrimSpace(s))
	if err != nil {
		return MonthKey{}, ErrInvalidMonth
	}
	return MonthKey{Year: t.Year(), Month: t.Month()}, nil
}

func (k MonthKey) Validate() error {
	if k.Year < 1970 || k.Year > 9999 || k.Month < time.January || k.Month > time.December {
		return ErrInvalidMonth
	}
	return nil
}

// String renders the canonical "YYYY-MM" form used as a storage key.
func (k MonthKey) String() string {
	return time.Date(k.Year, k.Month, 1, 0, 0, 0, 0, time.UTC).Format("2006-01")
}

// Next returns the following month, rolling the year.
func (k MonthKey) Next() MonthKey {
	t := time.Date(k.Year, k.Month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return MonthKey{Year: t.Year(), Month: t.Month()}
}

// Contains reports whether t falls inside this month.
func (k MonthKey) Contains(t time.Time) bool {
	return MonthOf(t) == k
}

func (t Transaction) Validate() error {
	if t.Timestamp.IsZero() {
		return errors.New("timestamp cannot be zero")
	}
	if t.Amount.Cents == 0 {
		return ErrInvalidAmount
	}
	if t.Amount.Cents < 0 && t.ReversalOf <= 0 {
		// Negative entries exist only as reversals of a prior entry.
		return ErrInvalidAmount
	}
	if !t.Category.Valid() {
		return ErrInvalidCategory
	}
	if len(strings.TrimSpace(t.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(t.Description) > 200 {
		return ErrDescriptionTooLong
	}
	if !t.PaymentMethod.Valid() {
		return ErrInvalidPaymentMethod
	}
	return nil
}

// IsReversal reports whether this entry offsets a prior one.
func (t Transaction) IsReversal() bool {
	return t.ReversalOf > 0
}

// Month returns the budgeting period this entry counts toward.
func (t Transaction) Month() MonthKey {
	return MonthOf(t.Timestamp)
}

func (b Budget) Validate() error {
	if !b.Category.Valid() {
		return ErrInvalidCategory
	}
	if err := b.Month.Validate(); err != nil {
		return err
	}
	if err := b.Limit.Validate(); err != nil {
		return err
	}
	return nil
}
