package core

import (
	"testing"
	"time"
)

func TestBandFor(t *testing.T) {
	th := DefaultThresholds()
	cases := []struct {
		spent int64
		limit int64
		want  Band
	}{
		{0, 50000, BandOK},
		{2500, 50000, BandOK},       // 5%
		{39999, 50000, BandOK},      // just under 80%
		{40000, 50000, BandWarning}, // exactly 80%
		{48750, 50000, BandWarning}, // 97.5%
		{50000, 50000, BandCritical},
		{55000, 50000, BandCritical},
		{60000, 50000, BandSevere}, // 120%
		{99999, 50000, BandSevere},
		{100, 0, BandOK}, // no limit set
	}
	for _, tc := range cases {
		if got := th.BandFor(tc.spent, tc.limit); got != tc.want {
			t.Fatalf("spent=%d limit=%d expected %v, got %v", tc.spent, tc.limit, tc.want, got)
		}
	}
}

func TestStatusFor(t *testing.T) {
	th := DefaultThresholds()
	cases := []struct {
		spent int64
		limit int64
		want  StatusLevel
	}{
		{2500, 50000, StatusOK},
		{40000, 50000, StatusWarning},
		{48750, 50000, StatusWarning},
		{50000, 50000, StatusExceeded},
		{70000, 50000, StatusExceeded},
		{100, 0, StatusUnbudgeted},
	}
	for _, tc := range cases {
		if got := th.StatusFor(tc.spent, tc.limit); got != tc.want {
			t.Fatalf("spent=%d limit=%d expected %v, got %v", tc.spent, tc.limit, tc.want, got)
		}
	}
}

func TestNewBudgetStatus(t *testing.T) {
	month := MonthKey{Year: 2025, Month: time.March}
	s := NewBudgetStatus(CategoryFood, month, 2500, 50000, DefaultThresholds())
	if s.Status != StatusOK {
		t.Fatalf("expected OK, got %v", s.Status)
	}
	if s.Remaining.Cents != 47500 {
		t.Fatalf("expected remaining 47500, got %d", s.Remaining.Cents)
	}
	if s.PercentUsed != 5.0 {
		t.Fatalf("expected 5%%, got %v", s.PercentUsed)
	}

	unbudgeted := NewBudgetStatus(CategoryFood, month, 2500, 0, DefaultThresholds())
	if unbudgeted.Status != StatusUnbudgeted {
		t.Fatalf("expected UNBUDGETED, got %v", unbudgeted.Status)
	}
	if unbudgeted.PercentUsed != 0 || unbudgeted.Remaining.Cents != 0 {
		t.Fatalf("unbudgeted status should not derive percentage or remaining")
	}
}

func TestAlertKindFor(t *testing.T) {
	if _, ok := AlertKindFor(BandOK); ok {
		t.Fatalf("BandOK should not map to an alert kind")
	}
	if kind, ok := AlertKindFor(BandWarning); !ok || kind != AlertApproachingLimit {
		t.Fatalf("expected approaching_limit, got %v", kind)
	}
	for _, b := range []Band{BandCritical, BandSevere} {
		if kind, ok := AlertKindFor(b); !ok || kind != AlertExceeded {
			t.Fatalf("band %v expected exceeded, got %v", b, kind)
		}
	}
}

func TestThresholdsValidate(t *testing.T) {
	if err := DefaultThresholds().Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	bad := Thresholds{Warning: 1.0, Critical: 0.8, Severe: 1.2}
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for unordered thresholds")
	}
}
