package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"tally/internal/core"
)

// MonthReport renders the spending breakdown for the current month: totals,
// the biggest categories, and any budget trouble spots.
func (s *MessageService) MonthReport(ctx context.Context) (Reply, error) {
	month := core.MonthOf(time.Now().UTC())
	sum, err := s.aggregator.Summary(ctx, month)
	if err != nil {
		return Reply{}, fmt.Errorf("month summary: %w", err)
	}
	if sum.Count == 0 {
		return Reply{Text: fmt.Sprintf("No expenses recorded for %s yet.", monthLabel(month))}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Spending report for %s:", monthLabel(month))
	noun := "expenses"
	if sum.Count == 1 {
		noun = "expense"
	}
	fmt.Fprintf(&b, "\nTotal: %s across %d %s (avg %s).", sum.Total, sum.Count, noun, sum.Average)

	if top := topSpenders(sum, 5); len(top) > 0 {
		b.WriteString("\nTop categories:")
		for i, c := range top {
			share := 0.0
			if sum.Total.Cents > 0 {
				share = float64(c.Spent.Cents) / float64(sum.Total.Cents) * 100
			}
			fmt.Fprintf(&b, "\n%d. %s: %s (%.0f%%)", i+1, c.Category, c.Spent, share)
		}
	}
	if over := sum.OverBudget(); len(over) > 0 {
		b.WriteString("\nOver budget: " + joinCategories(over) + ".")
	}
	if near := sum.NearLimit(); len(near) > 0 {
		b.WriteString("\nClose to the limit: " + joinCategories(near) + ".")
	}
	return Reply{Text: b.String()}, nil
}

// topSpenders returns the categories with positive net spend, biggest
// first, capped at n.
func topSpenders(sum core.MonthSummary, n int) []core.CategorySpend {
	spends := make([]core.CategorySpend, 0, len(sum.ByCategory))
	for _, c := range sum.ByCategory {
		if c.Spent.Cents > 0 {
			spends = append(spends, c)
		}
	}
	sort.SliceStable(spends, func(i, j int) bool {
		return spends[i].Spent.Cents > spends[j].Spent.Cents
	})
	if len(spends) > n {
		spends = spends[:n]
	}
	return spends
}

func joinCategories(spends []core.CategorySpend) string {
	names := make([]string, len(spends))
	for i, c := range spends {
		names[i] = string(c.Category)
	}
	return strings.Join(names, ", ")
}
