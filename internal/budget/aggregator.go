// Package budget derives budget positions and month summaries from the
// ledger. Nothing here is stored; every answer is recomputed from the
// transactions and the active limits, so replaying the same ledger always
// yields the same numbers.
package budget

import (
	"context"
	"errors"
	"fmt"

	"tally/internal/core"
	"tally/internal/ledger"
)

// Store is the slice of the ledger the aggregator reads.
type Store interface {
	ledger.Reader
	ledger.Summer
	ledger.BudgetBook
}

type Aggregator struct {
	store      Store
	thresholds core.Thresholds
}

func NewAggregator(store Store, t core.Thresholds) *Aggregator {
	if t == (core.Thresholds{}) {
		t = core.DefaultThresholds()
	}
	return &Aggregator{store: store, thresholds: t}
}

// Recompute derives the current budget position for one (category, month).
// A missing budget is not an error; it yields StatusUnbudgeted.
func (a *Aggregator) Recompute(ctx context.Context, category core.Category, month core.MonthKey) (core.BudgetStatus, error) {
	spent, err := a.store.SpentCents(ctx, category, month)
	if err != nil {
		return core.BudgetStatus{}, fmt.Errorf("spent cents: %w", err)
	}

	var limit int64
	b, err := a.store.ActiveBudget(ctx, category, month)
	switch {
	case err == nil:
		limit = b.Limit.Cents
	case errors.Is(err, core.ErrNoActiveBudget):
		limit = 0
	default:
		return core.BudgetStatus{}, fmt.Errorf("active budget: %w", err)
	}

	return core.NewBudgetStatus(category, month, spent, limit, a.thresholds), nil
}

// Summary folds one month of ledger entries into totals, a per-category
// breakdown with budget positions, and the top spending category. Reversal
// pairs cancel out of the net figures and are not counted as expenses.
func (a *Aggregator) Summary(ctx context.Context, month core.MonthKey) (core.MonthSummary, error) {
	txs, err := a.store.List(ctx, ledger.Filter{Month: &month})
	if err != nil {
		return core.MonthSummary{}, fmt.Errorf("list month: %w", err)
	}
	budgets, err := a.store.ListBudgets(ctx, month)
	if err != nil {
		return core.MonthSummary{}, fmt.Errorf("list budgets: %w", err)
	}

	reversed := make(map[int64]bool)
	for _, tx := range txs {
		if tx.IsReversal() {
			reversed[tx.ReversalOf] = true
		}
	}

	netByCategory := make(map[core.Category]int64)
	var total int64
	count := 0
	for _, tx := range txs {
		netByCategory[tx.Category] += tx.Amount.Cents
		total += tx.Amount.Cents
		if !tx.IsReversal() && !reversed[tx.ID] {
			count++
		}
	}

	limits := make(map[core.Category]int64, len(budgets))
	for _, b := range budgets {
		limits[b.Category] = b.Limit.Cents
	}

	summary := core.MonthSummary{
		Month: month,
		Total: core.Money{Cents: total},
		Count: count,
	}
	if count > 0 {
		summary.Average = core.Money{Cents: total / int64(count)}
	}

	var topSpent int64
	for _, cat := range core.Categories() {
		spent, active := netByCategory[cat]
		limit, budgeted := limits[cat]
		if !active && !budgeted {
			continue
		}
		summary.ByCategory = append(summary.ByCategory, core.CategorySpend{
			Category:    cat,
			Spent:       core.Money{Cents: spent},
			Limit:       core.Money{Cents: limit},
			PercentUsed: core.PercentUsed(spent, limit),
			Status:      a.thresholds.StatusFor(spent, limit),
		})
		if spent > topSpent {
			topSpent = spent
			summary.TopCategory = cat
		}
	}

	return summary, nil
}

// Statuses derives the budget position of every budgeted category in the
// month, in display order.
func (a *Aggregator) Statuses(ctx context.Context, month core.MonthKey) ([]core.BudgetStatus, error) {
	budgets, err := a.store.ListBudgets(ctx, month)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	out := make([]core.BudgetStatus, 0, len(budgets))
	for _, b := range budgets {
		spent, err := a.store.SpentCents(ctx, b.Category, month)
		if err != nil {
			return nil, fmt.Errorf("spent cents: %w", err)
		}
		out = append(out, core.NewBudgetStatus(b.Category, month, spent, b.Limit.Cents, a.thresholds))
	}
	return out, nil
}
