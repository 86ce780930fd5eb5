// Package alert decides when a budget crossing deserves a notification.
// Alerts are edge-triggered: one fires only when a (category, month) moves
// into a higher severity band than the one last recorded, so repeated small
// spends inside a band stay quiet and a drop back down re-arms the alert.
package alert

import (
	"context"
	"errors"
	"fmt"

	"tally/internal/core"
	"tally/internal/ledger"
)

// Store is the slice of the ledger the evaluator needs: net spend, the
// active limit, and the remembered band per (category, month).
type Store interface {
	ledger.Summer
	ledger.BudgetBook
	ledger.BandState
}

type Evaluator struct {
	store      Store
	thresholds core.Thresholds
}

func NewEvaluator(store Store, t core.Thresholds) *Evaluator {
	if t == (core.Thresholds{}) {
		t = core.DefaultThresholds()
	}
	return &Evaluator{store: store, thresholds: t}
}

// Check recomputes the severity band for (category, month) and returns the
// alert to raise, or nil when nothing fires. The recorded band is updated on
// every transition, downward ones included. An unbudgeted category never
// fires and leaves the recorded band alone.
func (e *Evaluator) Check(ctx context.Context, category core.Category, month core.MonthKey) (*core.AlertEvent, error) {
	b, err := e.store.ActiveBudget(ctx, category, month)
	if errors.Is(err, core.ErrNoActiveBudget) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active budget: %w", err)
	}

	spent, err := e.store.SpentCents(ctx, category, month)
	if err != nil {
		return nil, fmt.Errorf("spent cents: %w", err)
	}

	last, err := e.store.LastBand(ctx, category, month)
	if err != nil {
		return nil, fmt.Errorf("last band: %w", err)
	}

	band := e.thresholds.BandFor(spent, b.Limit.Cents)
	if band == last {
		return nil, nil
	}
	if err := e.store.SetLastBand(ctx, category, month, band); err != nil {
		return nil, fmt.Errorf("set last band: %w", err)
	}
	if band < last {
		return nil, nil
	}

	kind, ok := core.AlertKindFor(band)
	if !ok {
		return nil, nil
	}
	return &core.AlertEvent{
		Kind:        kind,
		Category:    category,
		Month:       month.String(),
		Band:        band.String(),
		SpentCents:  spent,
		LimitCents:  b.Limit.Cents,
		PercentUsed: core.PercentUsed(spent, b.Limit.Cents),
	}, nil
}
