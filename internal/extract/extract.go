// Package extract turns free-text expense messages into candidate
// transactions. Extraction is a deterministic regex pass: well-formed
// inputs never reach the external classifier, and a message with no
// parsable amount is rejected, never silently dropped.
package extract

import (
	"regexp"
	"strings"

	"tally/internal/core"
)

// Candidate is a structurally valid expense parsed out of a message,
// prior to categorization.
type Candidate struct {
	AmountCents   int64
	Description   string
	PaymentMethod core.PaymentMethod
	// Hint is set when the message names a category verbatim.
	Hint core.Category
	// Ambiguous marks messages containing more than one amount; the
	// categorizer lowers its confidence accordingly.
	Ambiguous bool
}

// Shape patterns in priority order. Each captures the description around
// the amount token.
var shapePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bspent\s+\$?\s*\d+(?:[.,]\d+)?\s+on\s+(.+)`),
	regexp.MustCompile(`(?i)\bpaid\s+\$?\s*\d+(?:[.,]\d+)?\s+for\s+(.+)`),
	regexp.MustCompile(`(?i)\$?\s*\d+(?:[.,]\d+)?\s+(?:for|on)\s+(.+)`),
	regexp.MustCompile(`(?i)^(.+?)\s+\$?\s*\d+(?:[.,]\d+)?\s*\.?$`),
	regexp.MustCompile(`(?i)^\$?\s*\d+(?:[.,]\d+)?\s+(.+)$`),
}

var (
	reAmountToken = regexp.MustCompile(`\$\s*\d+(?:[.,]\d+)?|\b\d+(?:[.,]\d+)?\b`)
	rePaymentTail = regexp.MustCompile(`(?i)\s+(?:with|by|in|using|via)\s+(?:cash|card|credit(?:\s+card)?|debit(?:\s+card)?|venmo|paypal|zelle|apple\s*pay|google\s*pay|online)\s*\.?\s*$`)
	reConnectorEnd = regexp.MustCompile(`(?i)\s+(?:for|on|at|of)\s*$`)
	reSpaces       = regexp.MustCompile(`\s+`)

	reCash    = regexp.MustCompile(`(?i)\bcash\b`)
	reCard    = regexp.MustCompile(`(?i)\b(?:credit|debit|card)\b`)
	reDigital = regexp.MustCompile(`(?i)\b(?:venmo|paypal|zelle|apple\s*pay|google\s*pay|online)\b`)
)

// Words that mark the following number as the amount that matters when a
// message carries several.
var totalMarkers = map[string]struct{}{
	"total": {},
	"cost":  {},
	"price": {},
	"paid":  {},
	"spent": {},
}

type amountToken struct {
	cents     int64
	start     int
	end       int
	dollar    bool
	annotated bool
}

// Extract parses a raw message into a candidate transaction. Returns
// core.ErrNoAmountFound when the text carries no parsable amount.
func Extract(text string) (Candidate, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Candidate{}, core.ErrNoAmountFound
	}

	amounts := findAmounts(trimmed)
	if len(amounts) == 0 {
		return Candidate{}, core.ErrNoAmountFound
	}

	chosen := chooseAmount(amounts)
	cand := Candidate{
		AmountCents:   chosen.cents,
		Description:   describe(trimmed),
		PaymentMethod: detectPayment(trimmed),
		Hint:          detectHint(trimmed),
		Ambiguous:     len(amounts) > 1,
	}
	return cand, nil
}

// findAmounts locates every monetary token in the text, skipping numbers
// that do not parse to a positive amount.
func findAmounts(text string) []amountToken {
	var out []amountToken
	for _, loc := range reAmountToken.FindAllStringIndex(text, -1) {
		raw := text[loc[0]:loc[1]]
		dollar := strings.HasPrefix(raw, "$")
		numeric := strings.TrimSpace(strings.TrimPrefix(raw, "$"))
		cents, err := core.ParseDecimalToCents(numeric)
		if err != nil {
			continue
		}
		out = append(out, amountToken{
			cents:     cents,
			start:     loc[0],
			end:       loc[1],
			dollar:    dollar,
			annotated: annotatedBefore(text, loc[0]),
		})
	}
	return out
}

// annotatedBefore reports whether the word immediately preceding the token
// marks it as a total or price.
func annotatedBefore(text string, start int) bool {
	prefix := strings.TrimRight(text[:start], " \t:=-$")
	if prefix == "" {
		return false
	}
	fields := strings.Fields(strings.ToLower(prefix))
	if len(fields) == 0 {
		return false
	}
	last := strings.Trim(fields[len(fields)-1], ".,!?")
	_, ok := totalMarkers[last]
	return ok
}

// chooseAmount picks the winning token: the first annotated one, then the
// first dollar-prefixed one, then the first plain number.
func chooseAmount(amounts []amountToken) amountToken {
	for _, a := range amounts {
		if a.annotated {
			return a
		}
	}
	for _, a := range amounts {
		if a.dollar {
			return a
		}
	}
	return amounts[0]
}

// describe extracts the expense description from around the amount, falling
// back to the message itself with amount tokens stripped.
func describe(text string) string {
	base := text
	for _, re := range shapePatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			base = m[1]
			break
		}
	}
	base = rePaymentTail.ReplaceAllString(base, "")
	base = reAmountToken.ReplaceAllString(base, " ")
	base = reSpaces.ReplaceAllString(base, " ")
	base = strings.Trim(base, " .,!?")
	base = reConnectorEnd.ReplaceAllString(base, "")
	if base == "" {
		base = "expense"
	}
	if len(base) > 200 {
		base = strings.TrimSpace(base[:200])
	}
	return base
}

func detectPayment(text string) core.PaymentMethod {
	switch {
	case reCash.MatchString(text):
		return core.PaymentCash
	case reDigital.MatchString(text):
		return core.PaymentDigital
	case reCard.MatchString(text):
		return core.PaymentCard
	default:
		return core.PaymentUnknown
	}
}

// detectHint returns a category the message names verbatim, if any.
func detectHint(text string) core.Category {
	lower := strings.ToLower(text)
	for _, c := range core.Categories() {
		if c == core.CategoryOther {
			continue
		}
		if strings.Contains(lower, strings.ToLower(string(c))) {
			return c
		}
	}
	return ""
}
