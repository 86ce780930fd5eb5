package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"tally/internal/core"
	"tally/internal/ledger"
)

func expenseAt(ts time.Time, cents int64, cat core.Category, desc string) core.Transaction {
	return core.Transaction{
		Timestamp:     ts,
		Amount:        core.Money{Cents: cents},
		Category:      cat,
		Description:   desc,
		PaymentMethod: core.PaymentUnknown,
	}
}

func mustAppend(t *testing.T, s *Store, tx core.Transaction) int64 {
	t.Helper()
	id, err := s.Append(context.Background(), tx)
	if err != nil {
		t.Fatalf("Append(%+v) error = %v", tx, err)
	}
	return id
}

func TestAppendAndGet(t *testing.T) {
	s := New()
	ts := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	id1 := mustAppend(t, s, expenseAt(ts, 2500, core.CategoryFood, "lunch"))
	id2 := mustAppend(t, s, expenseAt(ts, 4000, core.CategoryTransport, "gas"))
	if id1 != 1 || id2 != 2 {
		t.Fatalf("ids = (%d, %d), want (1, 2)", id1, id2)
	}

	got, err := s.Get(context.Background(), id1)
	if err != nil {
		t.Fatalf("Get(%d) error = %v", id1, err)
	}
	if got.Description != "lunch" || got.Amount.Cents != 2500 {
		t.Errorf("Get(%d) = %+v", id1, got)
	}

	if _, err := s.Get(context.Background(), 99); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Get(99) error = %v, want ErrNotFound", err)
	}
}

func TestAppendRejectsInvalid(t *testing.T) {
	s := New()
	ts := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	if _, err := s.Append(context.Background(), expenseAt(ts, 0, core.CategoryFood, "x")); !errors.Is(err, core.ErrInvalidAmount) {
		t.Errorf("zero amount error = %v, want ErrInvalidAmount", err)
	}
	if _, err := s.Append(context.Background(), expenseAt(ts, 100, "Gadgets", "x")); !errors.Is(err, core.ErrInvalidCategory) {
		t.Errorf("bad category error = %v, want ErrInvalidCategory", err)
	}
}

func TestListFilters(t *testing.T) {
	s := New()
	march := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	april := time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)

	mustAppend(t, s, expenseAt(march, 2500, core.CategoryFood, "lunch"))
	mustAppend(t, s, expenseAt(march, 4000, core.CategoryTransport, "gas"))
	flagged := expenseAt(april, 900, core.CategoryFood, "mystery")
	flagged.NeedsReview = true
	mustAppend(t, s, flagged)

	monthMarch := core.MonthKey{Year: 2025, Month: time.March}
	got, err := s.List(context.Background(), ledger.Filter{Month: &monthMarch})
	if err != nil {
		t.Fatalf("List(march) error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("List(march) returned %d rows, want 2", len(got))
	}

	got, err = s.List(context.Background(), ledger.Filter{Category: core.CategoryFood})
	if err != nil || len(got) != 2 {
		t.Fatalf("List(food) = %d rows, err %v, want 2 rows", len(got), err)
	}

	got, err = s.List(context.Background(), ledger.Filter{NeedsReview: true})
	if err != nil || len(got) != 1 || got[0].Description != "mystery" {
		t.Fatalf("List(needs review) = %+v, err %v", got, err)
	}

	got, err = s.List(context.Background(), ledger.Filter{Limit: 1, Offset: 1})
	if err != nil || len(got) != 1 || got[0].Description != "gas" {
		t.Fatalf("List(limit 1 offset 1) = %+v, err %v", got, err)
	}
}

func TestReverseNetsToZero(t *testing.T) {
	s := New()
	ts := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	month := core.MonthKey{Year: 2025, Month: time.March}

	id := mustAppend(t, s, expenseAt(ts, 5000, core.CategoryFood, "dinner"))

	rev, err := s.Reverse(context.Background(), id, "typo")
	if err != nil {
		t.Fatalf("Reverse(%d) error = %v", id, err)
	}
	if rev.Amount.Cents != -5000 || rev.ReversalOf != id || rev.Category != core.CategoryFood {
		t.Errorf("reversal = %+v", rev)
	}

	// Original row stays exactly as appended.
	orig, err := s.Get(context.Background(), id)
	if err != nil || orig.Amount.Cents != 5000 {
		t.Fatalf("original after reverse = %+v, err %v", orig, err)
	}

	spent, err := s.SpentCents(context.Background(), core.CategoryFood, month)
	if err != nil || spent != 0 {
		t.Errorf("SpentCents after reverse = %d, err %v, want 0", spent, err)
	}

	if _, err := s.Reverse(context.Background(), id, "again"); !errors.Is(err, core.ErrAlreadyReversed) {
		t.Errorf("second Reverse error = %v, want ErrAlreadyReversed", err)
	}
	if _, err := s.Reverse(context.Background(), rev.ID, "undo undo"); !errors.Is(err, core.ErrReversalOfReversal) {
		t.Errorf("Reverse(reversal) error = %v, want ErrReversalOfReversal", err)
	}
	if _, err := s.Reverse(context.Background(), 404, ""); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Reverse(missing) error = %v, want ErrNotFound", err)
	}
}

func TestRecategorize(t *testing.T) {
	s := New()
	ts := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	tx := expenseAt(ts, 1500, core.CategoryOther, "misc stuff")
	tx.NeedsReview = true
	id := mustAppend(t, s, tx)

	got, err := s.Recategorize(context.Background(), id, core.CategoryShopping)
	if err != nil {
		t.Fatalf("Recategorize(%d) error = %v", id, err)
	}
	if got.Category != core.CategoryShopping || got.NeedsReview {
		t.Errorf("after recategorize = %+v", got)
	}

	if _, err := s.Recategorize(context.Background(), id, "Gadgets"); !errors.Is(err, core.ErrInvalidCategory) {
		t.Errorf("bad category error = %v, want ErrInvalidCategory", err)
	}
}

func TestRecategorizeMovesReversalToo(t *testing.T) {
	s := New()
	ts := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	month := core.MonthKey{Year: 2025, Month: time.March}

	id := mustAppend(t, s, expenseAt(ts, 5000, core.CategoryFood, "dinner"))
	rev, err := s.Reverse(context.Background(), id, "")
	if err != nil {
		t.Fatalf("Reverse error = %v", err)
	}

	if _, err := s.Recategorize(context.Background(), id, core.CategoryTravel); err != nil {
		t.Fatalf("Recategorize error = %v", err)
	}

	// Pair stays in one category so both nets remain zero.
	for _, cat := range []core.Category{core.CategoryFood, core.CategoryTravel} {
		spent, err := s.SpentCents(context.Background(), cat, month)
		if err != nil || spent != 0 {
			t.Errorf("SpentCents(%s) = %d, err %v, want 0", cat, spent, err)
		}
	}

	if _, err := s.Recategorize(context.Background(), rev.ID, core.CategoryOther); err == nil {
		t.Error("Recategorize(reversal) should fail")
	}
}

func TestBudgetSupersede(t *testing.T) {
	s := New()
	month := core.MonthKey{Year: 2025, Month: time.March}

	if _, err := s.ActiveBudget(context.Background(), core.CategoryFood, month); !errors.Is(err, core.ErrNoActiveBudget) {
		t.Fatalf("ActiveBudget(empty) error = %v, want ErrNoActiveBudget", err)
	}

	first, err := s.SetBudget(context.Background(), core.Budget{Category: core.CategoryFood, Month: month, Limit: core.Money{Cents: 50000}})
	if err != nil {
		t.Fatalf("SetBudget error = %v", err)
	}
	second, err := s.SetBudget(context.Background(), core.Budget{Category: core.CategoryFood, Month: month, Limit: core.Money{Cents: 30000}})
	if err != nil {
		t.Fatalf("SetBudget error = %v", err)
	}
	if first.ID == second.ID {
		t.Fatalf("budget ids should differ, both %d", first.ID)
	}

	active, err := s.ActiveBudget(context.Background(), core.CategoryFood, month)
	if err != nil {
		t.Fatalf("ActiveBudget error = %v", err)
	}
	if active.Limit.Cents != 30000 {
		t.Errorf("active limit = %d, want 30000 (latest wins)", active.Limit.Cents)
	}

	if _, err := s.SetBudget(context.Background(), core.Budget{Category: core.CategoryTravel, Month: month, Limit: core.Money{Cents: 80000}}); err != nil {
		t.Fatalf("SetBudget error = %v", err)
	}
	all, err := s.ListBudgets(context.Background(), month)
	if err != nil {
		t.Fatalf("ListBudgets error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("ListBudgets returned %d rows, want 2 (one active per category)", len(all))
	}
	for _, b := range all {
		if b.Category == core.CategoryFood && b.Limit.Cents != 30000 {
			t.Errorf("food budget = %d, want the superseding 30000", b.Limit.Cents)
		}
	}
}

func TestBandState(t *testing.T) {
	s := New()
	jan := core.MonthKey{Year: 2025, Month: time.January}
	march := core.MonthKey{Year: 2025, Month: time.March}

	band, err := s.LastBand(context.Background(), core.CategoryFood, march)
	if err != nil || band != core.BandOK {
		t.Fatalf("LastBand(fresh) = %v, err %v, want BandOK", band, err)
	}

	if err := s.SetLastBand(context.Background(), core.CategoryFood, march, core.BandWarning); err != nil {
		t.Fatalf("SetLastBand error = %v", err)
	}
	if err := s.SetLastBand(context.Background(), core.CategoryFood, jan, core.BandSevere); err != nil {
		t.Fatalf("SetLastBand error = %v", err)
	}

	band, _ = s.LastBand(context.Background(), core.CategoryFood, march)
	if band != core.BandWarning {
		t.Errorf("LastBand(march) = %v, want BandWarning", band)
	}

	pruned, err := s.PruneBands(context.Background(), march)
	if err != nil || pruned != 1 {
		t.Fatalf("PruneBands = %d, err %v, want 1", pruned, err)
	}
	band, _ = s.LastBand(context.Background(), core.CategoryFood, jan)
	if band != core.BandOK {
		t.Errorf("LastBand(jan) after prune = %v, want BandOK", band)
	}
	band, _ = s.LastBand(context.Background(), core.CategoryFood, march)
	if band != core.BandWarning {
		t.Errorf("LastBand(march) after prune = %v, want BandWarning", band)
	}
}

func TestMirrorState(t *testing.T) {
	s := New()
	ts := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	id1 := mustAppend(t, s, expenseAt(ts, 2500, core.CategoryFood, "lunch"))
	id2 := mustAppend(t, s, expenseAt(ts, 4000, core.CategoryTransport, "gas"))

	pending, err := s.PendingMirror(context.Background(), 10)
	if err != nil || len(pending) != 2 {
		t.Fatalf("PendingMirror = %d rows, err %v, want 2", len(pending), err)
	}

	if err := s.MarkMirrored(context.Background(), id1, "row:2"); err != nil {
		t.Fatalf("MarkMirrored error = %v", err)
	}
	pending, _ = s.PendingMirror(context.Background(), 10)
	if len(pending) != 1 || pending[0].ID != id2 {
		t.Fatalf("PendingMirror after mark = %+v", pending)
	}

	// An error keeps the row pending for the next pass.
	if err := s.MarkMirrorError(context.Background(), id2, "quota"); err != nil {
		t.Fatalf("MarkMirrorError error = %v", err)
	}
	pending, _ = s.PendingMirror(context.Background(), 10)
	if len(pending) != 1 {
		t.Fatalf("PendingMirror after error = %d rows, want 1", len(pending))
	}

	if err := s.MarkMirrored(context.Background(), 404, "row:9"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("MarkMirrored(missing) error = %v, want ErrNotFound", err)
	}
}
