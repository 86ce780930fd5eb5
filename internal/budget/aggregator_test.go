package budget

import (
	"context"
	"testing"
	"time"

	"tally/internal/core"
	"tally/internal/ledger/memory"
)

func seed(t *testing.T, s *memory.Store, ts time.Time, cents int64, cat core.Category, desc string) int64 {
	t.Helper()
	id, err := s.Append(context.Background(), core.Transaction{
		Timestamp:     ts,
		Amount:        core.Money{Cents: cents},
		Category:      cat,
		Description:   desc,
		PaymentMethod: core.PaymentUnknown,
	})
	if err != nil {
		t.Fatalf("Append error = %v", err)
	}
	return id
}

func setLimit(t *testing.T, s *memory.Store, cat core.Category, month core.MonthKey, cents int64) {
	t.Helper()
	if _, err := s.SetBudget(context.Background(), core.Budget{
		Category: cat,
		Month:    month,
		Limit:    core.Money{Cents: cents},
	}); err != nil {
		t.Fatalf("SetBudget error = %v", err)
	}
}

func TestRecompute(t *testing.T) {
	s := memory.New()
	agg := NewAggregator(s, core.Thresholds{})
	month := core.MonthKey{Year: 2025, Month: time.March}
	early := time.Date(2025, 3, 5, 8, 0, 0, 0, time.UTC)
	late := time.Date(2025, 3, 20, 19, 0, 0, 0, time.UTC)

	setLimit(t, s, core.CategoryFood, month, 50000)

	// Append out of timestamp order; the result must not care.
	seed(t, s, late, 1500, core.CategoryFood, "snacks")
	seed(t, s, early, 1000, core.CategoryFood, "lunch")

	status, err := agg.Recompute(context.Background(), core.CategoryFood, month)
	if err != nil {
		t.Fatalf("Recompute error = %v", err)
	}
	if status.Status != core.StatusOK {
		t.Errorf("status = %q, want OK", status.Status)
	}
	if status.Spent.Cents != 2500 || status.Limit.Cents != 50000 {
		t.Errorf("spent/limit = %d/%d, want 2500/50000", status.Spent.Cents, status.Limit.Cents)
	}
	if status.Remaining.Cents != 47500 {
		t.Errorf("remaining = %d, want 47500", status.Remaining.Cents)
	}
	if status.PercentUsed != 5.0 {
		t.Errorf("percent used = %v, want 5.0", status.PercentUsed)
	}
}

func TestRecomputeBands(t *testing.T) {
	tests := []struct {
		name  string
		cents int64
		want  core.StatusLevel
	}{
		{"well under", 10000, core.StatusOK},
		{"just under warning", 39999, core.StatusOK},
		{"at warning", 40000, core.StatusWarning},
		{"at limit", 50000, core.StatusExceeded},
		{"past limit", 60000, core.StatusExceeded},
	}
	month := core.MonthKey{Year: 2025, Month: time.March}
	ts := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := memory.New()
			agg := NewAggregator(s, core.Thresholds{})
			setLimit(t, s, core.CategoryFood, month, 50000)
			seed(t, s, ts, tt.cents, core.CategoryFood, "food run")

			status, err := agg.Recompute(context.Background(), core.CategoryFood, month)
			if err != nil {
				t.Fatalf("Recompute error = %v", err)
			}
			if status.Status != tt.want {
				t.Errorf("status at %d cents = %q, want %q", tt.cents, status.Status, tt.want)
			}
		})
	}
}

func TestRecomputeUnbudgeted(t *testing.T) {
	s := memory.New()
	agg := NewAggregator(s, core.Thresholds{})
	month := core.MonthKey{Year: 2025, Month: time.March}
	ts := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	seed(t, s, ts, 9900, core.CategoryTravel, "day trip")

	status, err := agg.Recompute(context.Background(), core.CategoryTravel, month)
	if err != nil {
		t.Fatalf("Recompute error = %v", err)
	}
	if status.Status != core.StatusUnbudgeted {
		t.Errorf("status = %q, want UNBUDGETED", status.Status)
	}
	if status.PercentUsed != 0 || status.Remaining.Cents != 0 {
		t.Errorf("unbudgeted should carry no percent/remaining, got %v/%d", status.PercentUsed, status.Remaining.Cents)
	}
}

func TestSummary(t *testing.T) {
	s := memory.New()
	agg := NewAggregator(s, core.Thresholds{})
	month := core.MonthKey{Year: 2025, Month: time.March}
	ts := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	setLimit(t, s, core.CategoryFood, month, 50000)
	setLimit(t, s, core.CategoryEntertainment, month, 10000)

	seed(t, s, ts, 2500, core.CategoryFood, "lunch")
	seed(t, s, ts, 1500, core.CategoryFood, "snacks")
	seed(t, s, ts, 8000, core.CategoryTransport, "gas")
	dinner := seed(t, s, ts, 5000, core.CategoryFood, "dinner")
	if _, err := s.Reverse(context.Background(), dinner, "typo"); err != nil {
		t.Fatalf("Reverse error = %v", err)
	}

	sum, err := agg.Summary(context.Background(), month)
	if err != nil {
		t.Fatalf("Summary error = %v", err)
	}

	// Reversal pair cancels: 2500 + 1500 + 8000.
	if sum.Total.Cents != 12000 {
		t.Errorf("total = %d, want 12000", sum.Total.Cents)
	}
	if sum.Count != 3 {
		t.Errorf("count = %d, want 3 (reversal pair excluded)", sum.Count)
	}
	if sum.Average.Cents != 4000 {
		t.Errorf("average = %d, want 4000", sum.Average.Cents)
	}
	if sum.TopCategory != core.CategoryTransport {
		t.Errorf("top category = %q, want Transportation", sum.TopCategory)
	}

	byCat := map[core.Category]core.CategorySpend{}
	for _, c := range sum.ByCategory {
		byCat[c.Category] = c
	}
	food, ok := byCat[core.CategoryFood]
	if !ok || food.Spent.Cents != 4000 || food.Status != core.StatusOK {
		t.Errorf("food position = %+v, ok=%v", food, ok)
	}
	transport, ok := byCat[core.CategoryTransport]
	if !ok || transport.Status != core.StatusUnbudgeted {
		t.Errorf("transport position = %+v, ok=%v", transport, ok)
	}
	// Budgeted but untouched categories still show up.
	ent, ok := byCat[core.CategoryEntertainment]
	if !ok || ent.Spent.Cents != 0 || ent.Status != core.StatusOK {
		t.Errorf("entertainment position = %+v, ok=%v", ent, ok)
	}
}

func TestSummaryEmptyMonth(t *testing.T) {
	s := memory.New()
	agg := NewAggregator(s, core.Thresholds{})
	month := core.MonthKey{Year: 2025, Month: time.March}

	sum, err := agg.Summary(context.Background(), month)
	if err != nil {
		t.Fatalf("Summary error = %v", err)
	}
	if sum.Count != 0 || sum.Total.Cents != 0 || sum.Average.Cents != 0 {
		t.Errorf("empty month summary = %+v", sum)
	}
	if len(sum.ByCategory) != 0 || sum.TopCategory != "" {
		t.Errorf("empty month should have no breakdown, got %+v", sum)
	}
}

func TestStatuses(t *testing.T) {
	s := memory.New()
	agg := NewAggregator(s, core.Thresholds{})
	month := core.MonthKey{Year: 2025, Month: time.March}
	ts := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	setLimit(t, s, core.CategoryFood, month, 50000)
	setLimit(t, s, core.CategoryTravel, month, 20000)
	seed(t, s, ts, 25000, core.CategoryTravel, "weekend trip")

	statuses, err := agg.Statuses(context.Background(), month)
	if err != nil {
		t.Fatalf("Statuses error = %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("got %d statuses, want 2", len(statuses))
	}
	for _, st := range statuses {
		switch st.Category {
		case core.CategoryFood:
			if st.Status != core.StatusOK {
				t.Errorf("food status = %q, want OK", st.Status)
			}
		case core.CategoryTravel:
			if st.Status != core.StatusExceeded {
				t.Errorf("travel status = %q, want EXCEEDED", st.Status)
			}
		default:
			t.Errorf("unexpected category %q", st.Category)
		}
	}
}
