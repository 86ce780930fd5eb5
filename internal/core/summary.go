package core

// CategorySpend is one category's position within a month summary.
type CategorySpend struct {
	Category    Category
	Spent       Money
	Limit       Money // zero when no budget is active
	PercentUsed float64
	Status      StatusLevel
}

// MonthSummary is a compact spending summary for one month: totals,
// per-category breakdown with budget positions, and the top category.
type MonthSummary struct {
	Month       MonthKey
	Total       Money
	Count       int
	Average     Money
	ByCategory  []CategorySpend
	TopCategory Category
}

// OverBudget returns the categories at or past their limit.
func (s MonthSummary) OverBudget() []CategorySpend {
	var out []CategorySpend
	for _, c := range s.ByCategory {
		if c.Status == StatusExceeded {
			out = append(out, c)
		}
	}
	return out
}

// NearLimit returns the categories in the warning range.
func (s MonthSummary) NearLimit() []CategorySpend {
	var out []CategorySpend
	for _, c := range s.ByCategory {
		if c.Status == StatusWarning {
			out = append(out, c)
		}
	}
	return out
}
