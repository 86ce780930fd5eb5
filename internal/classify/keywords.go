package classify

import (
	"strings"
	"unicode"

	"tally/internal/core"
)

// keywordRule maps a single lowercase token (or space-separated phrase) to a
// category. Rules are checked in slice order so the table stays deterministic;
// earlier entries win when a description mentions several spending areas.
type keywordRule struct {
	word     string
	category core.Category
}

var keywordRules = []keywordRule{
	{"lunch", core.CategoryFood},
	{"dinner", core.CategoryFood},
	{"breakfast", core.CategoryFood},
	{"coffee", core.CategoryFood},
	{"grocery", core.CategoryFood},
	{"groceries", core.CategoryFood},
	{"restaurant", core.CategoryFood},
	{"pizza", core.CategoryFood},
	{"snack", core.CategoryFood},
	{"snacks", core.CategoryFood},

	{"gas", core.CategoryTransport},
	{"fuel", core.CategoryTransport},
	{"uber", core.CategoryTransport},
	{"lyft", core.CategoryTransport},
	{"taxi", core.CategoryTransport},
	{"bus", core.CategoryTransport},
	{"train", core.CategoryTransport},
	{"parking", core.CategoryTransport},
	{"metro", core.CategoryTransport},

	{"amazon", core.CategoryShopping},
	{"clothes", core.CategoryShopping},
	{"shoes", core.CategoryShopping},
	{"mall", core.CategoryShopping},

	{"netflix", core.CategoryEntertainment},
	{"spotify", core.CategoryEntertainment},
	{"movie", core.CategoryEntertainment},
	{"movies", core.CategoryEntertainment},
	{"cinema", core.CategoryEntertainment},
	{"game", core.CategoryEntertainment},
	{"games", core.CategoryEntertainment},
	{"concert", core.CategoryEntertainment},

	{"rent", core.CategoryBills},
	{"electric", core.CategoryBills},
	{"electricity", core.CategoryBills},
	{"water bill", core.CategoryBills},
	{"water", core.CategoryBills},
	{"internet", core.CategoryBills},
	{"phone bill", core.CategoryBills},
	{"utilities", core.CategoryBills},

	{"doctor", core.CategoryHealthcare},
	{"pharmacy", core.CategoryHealthcare},
	{"dentist", core.CategoryHealthcare},
	{"hospital", core.CategoryHealthcare},
	{"medicine", core.CategoryHealthcare},

	{"school", core.CategoryEducation},
	{"tuition", core.CategoryEducation},
	{"course", core.CategoryEducation},
	{"textbook", core.CategoryEducation},
	{"book", core.CategoryEducation},
	{"books", core.CategoryEducation},

	{"hotel", core.CategoryTravel},
	{"flight", core.CategoryTravel},
	{"airbnb", core.CategoryTravel},
	{"vacation", core.CategoryTravel},

	{"deposit", core.CategorySavings},
	{"investment", core.CategorySavings},
	{"stocks", core.CategorySavings},
}

// MatchKeyword reports the first category whose keyword appears as a whole
// word in the description. Matching is case-insensitive and ignores
// punctuation, so "Coffee," still hits the coffee rule.
func MatchKeyword(description string) (core.Category, bool) {
	norm := " " + normalizeWords(description) + " "
	for _, r := range keywordRules {
		if strings.Contains(norm, " "+r.word+" ") {
			return r.category, true
		}
	}
	return "", false
}

func normalizeWords(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
