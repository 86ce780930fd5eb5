package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tally/internal/core"
)

// SetBudget sets or replaces the limit for a category in the current month
// and reports the resulting position. Setting a limit on a month that
// already has spend re-evaluates the bands, so a budget placed below the
// running total raises its alert right away.
func (s *MessageService) SetBudget(ctx context.Context, rawCategory, rawAmount string) (Reply, error) {
	cat, err := resolveCategory(rawCategory)
	if err != nil {
		return Reply{Text: unknownCategoryReply(rawCategory)}, nil
	}
	cents, err := core.ParseDecimalToCents(rawAmount)
	if err != nil {
		return Reply{Text: `Budget amounts need to be a positive number, like "set budget for Food & Dining to $500".`}, nil
	}

	month := core.MonthOf(time.Now().UTC())
	defer s.commits.lock(cat, month).Unlock()

	b, err := s.store.SetBudget(ctx, core.Budget{Category: cat, Month: month, Limit: core.Money{Cents: cents}})
	if err != nil {
		return Reply{}, fmt.Errorf("set budget: %w", err)
	}
	slog.InfoContext(ctx, "Budget set",
		"category", string(cat),
		"month", month.String(),
		"limit", b.Limit.String())

	status, haveStatus := s.recompute(ctx, cat, month)
	s.evaluateAndPublish(ctx, cat, month)

	text := fmt.Sprintf("Budget set: %s for %s in %s.", b.Limit, cat, monthLabel(month))
	if haveStatus && status.Spent.Cents > 0 {
		text += fmt.Sprintf(" You've spent %s so far (%.0f%%).", status.Spent, status.PercentUsed)
		switch status.Status {
		case core.StatusExceeded:
			text += " That's already over this limit."
		case core.StatusWarning:
			text += " You're already close to this limit."
		}
	}
	return Reply{Text: text}, nil
}

// BudgetOverview renders the position of every budgeted category this
// month, in display order.
func (s *MessageService) BudgetOverview(ctx context.Context) (Reply, error) {
	month := core.MonthOf(time.Now().UTC())
	statuses, err := s.aggregator.Statuses(ctx, month)
	if err != nil {
		return Reply{}, fmt.Errorf("budget statuses: %w", err)
	}
	if len(statuses) == 0 {
		return Reply{Text: fmt.Sprintf(`No budgets set for %s. Say "set budget for Food & Dining to $500" to start one.`, monthLabel(month))}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Budgets for %s:", monthLabel(month))
	for _, st := range statuses {
		fmt.Fprintf(&b, "\n%s: %s of %s (%.0f%%) - %s", st.Category, st.Spent, st.Limit, st.PercentUsed, st.Status)
	}
	return Reply{Text: b.String()}, nil
}
