// Package classify assigns a spending category to an extracted expense
// candidate. A keyword table covers the common cases without leaving the
// process; unrecognized descriptions go to an external classifier behind a
// bounded timeout. Low-confidence answers land in CategoryOther with the
// needs-review flag set so the record can be corrected later instead of
// being silently misfiled.
package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"tally/internal/core"
	"tally/internal/extract"
)

// Classifier is the external classification capability. Implementations live
// in the provider subpackages; tests use a deterministic stub.
type Classifier interface {
	Classify(ctx context.Context, description string, amountCents int64) (core.Category, float64, error)
}

// Source records which path produced a classification.
type Source string

const (
	SourceHint     Source = "hint"
	SourceKeyword  Source = "keyword"
	SourceExternal Source = "external"
	SourceFallback Source = "fallback"
)

const (
	DefaultTimeout   = 5 * time.Second
	DefaultThreshold = 0.6

	hintConfidence      = 0.95
	keywordConfidence   = 0.9
	ambiguousConfidence = 0.7
)

// Result is a classification outcome. It is always populated, even when the
// external call failed; the accompanying error says what went wrong.
type Result struct {
	Category    core.Category
	Confidence  float64
	Source      Source
	NeedsReview bool
}

type Config struct {
	// Timeout bounds a single external classification call.
	Timeout time.Duration
	// Threshold is the minimum external confidence accepted as-is. Anything
	// below it is stored as Other and flagged for review.
	Threshold float64
}

// Categorizer routes candidates through the hint, keyword and external
// classification paths. The zero value is not usable; construct with
// NewCategorizer.
type Categorizer struct {
	external  Classifier
	timeout   time.Duration
	threshold float64
}

// NewCategorizer builds a Categorizer. external may be nil, in which case
// keyword misses fall straight through to CategoryOther with needs-review.
func NewCategorizer(external Classifier, cfg Config) *Categorizer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	return &Categorizer{
		external:  external,
		timeout:   cfg.Timeout,
		threshold: cfg.Threshold,
	}
}

// Categorize decides the category for a candidate. The returned Result is
// always safe to persist. A non-nil error reports an external-path failure
// (including core.ErrClassificationTimeout); callers log it and carry on with
// the fallback result rather than dropping the expense.
func (c *Categorizer) Categorize(ctx context.Context, cand extract.Candidate) (Result, error) {
	if cand.Hint.Valid() {
		return Result{Category: cand.Hint, Confidence: hintConfidence, Source: SourceHint}, nil
	}

	if cat, ok := MatchKeyword(cand.Description); ok {
		conf := keywordConfidence
		if cand.Ambiguous {
			conf = ambiguousConfidence
		}
		return Result{Category: cat, Confidence: conf, Source: SourceKeyword}, nil
	}

	if c.external == nil {
		return fallbackResult(), nil
	}

	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cat, conf, err := c.external.Classify(cctx, cand.Description, cand.AmountCents)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", core.ErrClassificationTimeout, err)
		} else {
			err = fmt.Errorf("external classification: %w", err)
		}
		return fallbackResult(), err
	}
	if !cat.Valid() {
		return fallbackResult(), fmt.Errorf("external classification: unknown category %q", cat)
	}
	if conf < c.threshold {
		return Result{Category: core.CategoryOther, Confidence: conf, Source: SourceExternal, NeedsReview: true}, nil
	}
	return Result{Category: cat, Confidence: conf, Source: SourceExternal}, nil
}

func fallbackResult() Result {
	return Result{Category: core.CategoryOther, Source: SourceFallback, NeedsReview: true}
}

// Prompt builds the instruction sent to external providers. Both providers
// share it so their answers stay comparable.
func Prompt(description string, amountCents int64) string {
	return fmt.Sprintf(
		`Classify a personal expense into exactly one category.

Categories (use the exact string, never invent new ones):
%s

Expense description: %q
Amount: %s

Return only minified JSON on one line, no markdown, no code fences:
{"category":string,"confidence":number between 0 and 1}`,
		strings.Join(categoryNames(), "\n"),
		description,
		core.FormatCents(amountCents),
	)
}

func categoryNames() []string {
	cats := core.Categories()
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = "- " + string(c)
	}
	return names
}

type providerAnswer struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// ParseAnswer decodes a provider response. Models occasionally ignore the
// no-markdown instruction, so fences and surrounding prose are stripped
// before decoding.
func ParseAnswer(raw string) (core.Category, float64, error) {
	clean := stripToJSONObject(raw)
	if clean == "" {
		return "", 0, fmt.Errorf("empty classification response")
	}

	var ans providerAnswer
	if err := json.Unmarshal([]byte(clean), &ans); err != nil {
		return "", 0, fmt.Errorf("decode classification response: %w", err)
	}

	cat, err := core.ParseCategory(ans.Category)
	if err != nil {
		return "", 0, fmt.Errorf("classification response: %w", err)
	}

	conf := ans.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return cat, conf, nil
}

func stripToJSONObject(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return ""
	}
	return s[start : end+1]
}
