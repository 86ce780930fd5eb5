// Package services wires the chat pipeline together: free-text messages
// come in, ledger entries, budget replies and alert events come out.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"tally/internal/alert"
	"tally/internal/budget"
	"tally/internal/classify"
	"tally/internal/core"
	"tally/internal/extract"
	"tally/internal/ledger"
)

// AlertPublisher is the slice of the event bus the chat pipeline needs.
type AlertPublisher interface {
	PublishAlertRaised(ctx context.Context, ev core.AlertEvent) error
}

// Reply is the answer sent back to the chat surface. TransactionID is set
// when the message produced or corrected a ledger entry.
type Reply struct {
	Text          string
	TransactionID int64
	NeedsReview   bool
}

// keyedLocks hands out one mutex per (category, month) so the commit
// sequence for a key, append through band evaluation, runs one message at
// a time. Lock returns the mutex already held.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedLocks) lock(category core.Category, month core.MonthKey) *sync.Mutex {
	key := string(category) + "|" + month.String()
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()
	m.Lock()
	return m
}

// MessageService turns chat messages into ledger entries, budget changes
// and status replies. Classification failures degrade to a reviewable
// entry; only a failed append fails the message.
type MessageService struct {
	store       ledger.Store
	categorizer *classify.Categorizer
	aggregator  *budget.Aggregator
	evaluator   *alert.Evaluator
	publisher   AlertPublisher

	commits keyedLocks
}

func NewMessageService(
	store ledger.Store,
	categorizer *classify.Categorizer,
	aggregator *budget.Aggregator,
	evaluator *alert.Evaluator,
	publisher AlertPublisher,
) *MessageService {
	return &MessageService{
		store:       store,
		categorizer: categorizer,
		aggregator:  aggregator,
		evaluator:   evaluator,
		publisher:   publisher,
	}
}

// Command shapes. Anchored so "undo 42" is a command and "spent 42 on
// undoing a mistake" stays an expense.
var (
	reHelp      = regexp.MustCompile(`(?i)^\s*(?:help|start|hi|hello)\s*[.!?]*\s*$`)
	reSetBudget = regexp.MustCompile(`(?i)^\s*set\s+(?:a\s+|my\s+)?budget\s+(?:for\s+|on\s+)?(.+?)\s+(?:to\s+|at\s+|of\s+)?\$?\s*(\d+(?:[.,]\d+)?)\s*[.!]?\s*$`)
	reUndo      = regexp.MustCompile(`(?i)^\s*(?:undo|reverse)\s+#?(\d+)\s*[.!]?\s*$`)
	reRecat     = regexp.MustCompile(`(?i)^\s*(?:recategorize|recat|move)\s+#?(\d+)\s+(?:to|as|into)\s+(.+?)\s*[.!]?\s*$`)
	reReport    = regexp.MustCompile(`(?i)\b(?:report|summary|breakdown|spending)\b`)
	reOverview  = regexp.MustCompile(`(?i)\b(?:budgets?|balance|left|remaining|status)\b`)
)

const helpReply = `I track your spending. Try:
"spent $25 on lunch with card" to log an expense
"set budget for Food & Dining to $500" to set a monthly limit
"budget status" to see where you stand
"report" for a monthly breakdown
"undo 42" to reverse an entry, "recategorize 42 to Travel" to refile one`

const noAmountReply = `I couldn't find an amount in that. Tell me things like "spent $25 on lunch with card" or "coffee 4.50" and I'll log them.`

// HandleMessage routes one chat message and returns the reply. Anchored
// commands are tried first; any remaining text with a parsable amount is
// treated as an expense, and only amountless text is read as a query.
func (s *MessageService) HandleMessage(ctx context.Context, senderID, text string) (Reply, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || reHelp.MatchString(trimmed) {
		return Reply{Text: helpReply}, nil
	}
	if m := reSetBudget.FindStringSubmatch(trimmed); m != nil {
		return s.SetBudget(ctx, m[1], m[2])
	}
	if m := reUndo.FindStringSubmatch(trimmed); m != nil {
		id, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return Reply{Text: fmt.Sprintf("%q doesn't look like an expense number.", m[1])}, nil
		}
		return s.Reverse(ctx, id)
	}
	if m := reRecat.FindStringSubmatch(trimmed); m != nil {
		id, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return Reply{Text: fmt.Sprintf("%q doesn't look like an expense number.", m[1])}, nil
		}
		return s.Recategorize(ctx, id, m[2])
	}

	cand, err := extract.Extract(trimmed)
	if err == nil {
		return s.recordExpense(ctx, senderID, cand)
	}
	if !errors.Is(err, core.ErrNoAmountFound) {
		return Reply{}, fmt.Errorf("extract message: %w", err)
	}
	switch {
	case reReport.MatchString(trimmed):
		return s.MonthReport(ctx)
	case reOverview.MatchString(trimmed):
		return s.BudgetOverview(ctx)
	}
	return Reply{Text: noAmountReply}, nil
}

// recordExpense runs the spend pipeline: categorize, append, recompute the
// budget position, evaluate alert bands. The append decides success; the
// rest is best effort.
func (s *MessageService) recordExpense(ctx context.Context, senderID string, cand extract.Candidate) (Reply, error) {
	res, err := s.categorizer.Categorize(ctx, cand)
	if err != nil {
		slog.WarnContext(ctx, "Classification degraded, filing for review",
			"description", cand.Description,
			"error", err)
	}

	now := time.Now().UTC()
	tx := core.Transaction{
		Timestamp:     now,
		Amount:        core.Money{Cents: cand.AmountCents},
		Category:      res.Category,
		Description:   cand.Description,
		PaymentMethod: cand.PaymentMethod,
		NeedsReview:   res.NeedsReview,
	}
	month := core.MonthOf(now)

	defer s.commits.lock(tx.Category, month).Unlock()

	id, err := s.store.Append(ctx, tx)
	if err != nil {
		return Reply{}, fmt.Errorf("append transaction: %w", err)
	}
	tx.ID = id
	slog.InfoContext(ctx, "Recorded expense",
		"id", id,
		"sender", senderID,
		"amount", tx.Amount.String(),
		"category", string(tx.Category),
		"source", string(res.Source),
		"needs_review", tx.NeedsReview)

	status, haveStatus := s.recompute(ctx, tx.Category, month)
	s.evaluateAndPublish(ctx, tx.Category, month)

	return Reply{
		Text:          renderExpenseReply(tx, status, haveStatus),
		TransactionID: id,
		NeedsReview:   tx.NeedsReview,
	}, nil
}

// Reverse undoes a recorded expense by appending an offsetting entry. The
// offsetting entry lands in the current month, so that is the position
// refreshed afterwards.
func (s *MessageService) Reverse(ctx context.Context, id int64) (Reply, error) {
	month := core.MonthOf(time.Now().UTC())

	orig, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return Reply{Text: fmt.Sprintf("I can't find expense #%d.", id)}, nil
		}
		return Reply{}, fmt.Errorf("load transaction %d: %w", id, err)
	}

	defer s.commits.lock(orig.Category, month).Unlock()

	rev, err := s.store.Reverse(ctx, id, "reversed via chat")
	switch {
	case errors.Is(err, core.ErrAlreadyReversed):
		return Reply{Text: fmt.Sprintf("#%d was already undone.", id)}, nil
	case errors.Is(err, core.ErrReversalOfReversal):
		return Reply{Text: fmt.Sprintf("#%d is itself a correction and can't be undone.", id)}, nil
	case errors.Is(err, core.ErrNotFound):
		return Reply{Text: fmt.Sprintf("I can't find expense #%d.", id)}, nil
	case err != nil:
		return Reply{}, fmt.Errorf("reverse transaction %d: %w", id, err)
	}

	slog.InfoContext(ctx, "Reversed expense",
		"id", id,
		"reversal_id", rev.ID,
		"category", string(rev.Category))

	status, haveStatus := s.recompute(ctx, rev.Category, month)
	s.evaluateAndPublish(ctx, rev.Category, month)

	text := fmt.Sprintf("Reversed #%d: %s for %q (#%d).", id, rev.Amount, rev.Description, rev.ID)
	if haveStatus && status.Status != core.StatusUnbudgeted {
		text += "\n" + budgetLine(status)
	}
	return Reply{Text: text, TransactionID: rev.ID}, nil
}

// Recategorize refiles an expense and clears its review flag. Both the old
// and the new category get their bands re-evaluated for the month the
// expense lives in.
func (s *MessageService) Recategorize(ctx context.Context, id int64, rawCategory string) (Reply, error) {
	cat, err := resolveCategory(rawCategory)
	if err != nil {
		return Reply{Text: unknownCategoryReply(rawCategory)}, nil
	}

	orig, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return Reply{Text: fmt.Sprintf("I can't find expense #%d.", id)}, nil
		}
		return Reply{}, fmt.Errorf("load transaction %d: %w", id, err)
	}
	if orig.ReversalOf > 0 {
		return Reply{Text: fmt.Sprintf("#%d is a correction and follows its original; recategorize #%d instead.", id, orig.ReversalOf)}, nil
	}
	oldCat := orig.Category

	updated, err := s.store.Recategorize(ctx, id, cat)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return Reply{Text: fmt.Sprintf("I can't find expense #%d.", id)}, nil
		}
		return Reply{}, fmt.Errorf("recategorize transaction %d: %w", id, err)
	}

	slog.InfoContext(ctx, "Recategorized expense",
		"id", id,
		"from", string(oldCat),
		"to", string(updated.Category))

	month := core.MonthOf(updated.Timestamp)
	if oldCat != updated.Category {
		s.settle(ctx, oldCat, month)
	}
	status, haveStatus := s.settle(ctx, updated.Category, month)

	text := fmt.Sprintf("Moved #%d from %s to %s.", id, oldCat, updated.Category)
	if haveStatus && status.Status != core.StatusUnbudgeted {
		text += "\n" + budgetLine(status)
	}
	return Reply{Text: text, TransactionID: id}, nil
}

// settle refreshes one (category, month) under its commit lock.
func (s *MessageService) settle(ctx context.Context, category core.Category, month core.MonthKey) (core.BudgetStatus, bool) {
	defer s.commits.lock(category, month).Unlock()
	status, ok := s.recompute(ctx, category, month)
	s.evaluateAndPublish(ctx, category, month)
	return status, ok
}

func (s *MessageService) recompute(ctx context.Context, category core.Category, month core.MonthKey) (core.BudgetStatus, bool) {
	status, err := s.aggregator.Recompute(ctx, category, month)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to recompute budget position",
			"category", string(category),
			"month", month.String(),
			"error", err)
		return core.BudgetStatus{}, false
	}
	return status, true
}

// evaluateAndPublish checks the alert bands and publishes any resulting
// alert. The entry is already durable, so nothing here fails the message.
func (s *MessageService) evaluateAndPublish(ctx context.Context, category core.Category, month core.MonthKey) {
	ev, err := s.evaluator.Check(ctx, category, month)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to evaluate alert bands",
			"category", string(category),
			"month", month.String(),
			"error", err)
		return
	}
	if ev == nil {
		return
	}
	if s.publisher == nil {
		slog.WarnContext(ctx, "No publisher configured, skipping alert event",
			"kind", string(ev.Kind),
			"category", string(ev.Category))
		return
	}
	if err := s.publisher.PublishAlertRaised(ctx, *ev); err != nil {
		slog.ErrorContext(ctx, "Failed to publish alert event",
			"kind", string(ev.Kind),
			"category", string(ev.Category),
			"error", err)
	}
}

func renderExpenseReply(tx core.Transaction, status core.BudgetStatus, haveStatus bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Logged %s for %q in %s (#%d).", tx.Amount, tx.Description, tx.Category, tx.ID)
	if tx.NeedsReview {
		fmt.Fprintf(&b, " I wasn't sure where this belongs; reply \"recategorize %d to <category>\" to fix it.", tx.ID)
	}
	if haveStatus && status.Status != core.StatusUnbudgeted {
		b.WriteString("\n")
		b.WriteString(budgetLine(status))
	}
	return b.String()
}

func budgetLine(s core.BudgetStatus) string {
	line := fmt.Sprintf("%s: %s of %s used (%.0f%%)", s.Category, s.Spent, s.Limit, s.PercentUsed)
	if s.Remaining.Cents < 0 {
		return line + fmt.Sprintf(", %s over.", core.FormatCents(-s.Remaining.Cents))
	}
	return line + fmt.Sprintf(", %s left.", s.Remaining)
}

// Short forms accepted in chat for the compound category names.
var categoryAliases = map[string]core.Category{
	"food":          core.CategoryFood,
	"dining":        core.CategoryFood,
	"groceries":     core.CategoryFood,
	"transport":     core.CategoryTransport,
	"transit":       core.CategoryTransport,
	"bills":         core.CategoryBills,
	"utilities":     core.CategoryBills,
	"health":        core.CategoryHealthcare,
	"medical":       core.CategoryHealthcare,
	"savings":       core.CategorySavings,
	"investment":    core.CategorySavings,
	"investments":   core.CategorySavings,
	"misc":          core.CategoryOther,
	"miscellaneous": core.CategoryOther,
}

// resolveCategory accepts exact category names plus the chat short forms.
func resolveCategory(raw string) (core.Category, error) {
	if cat, err := core.ParseCategory(raw); err == nil {
		return cat, nil
	}
	if cat, ok := categoryAliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return cat, nil
	}
	return "", core.ErrInvalidCategory
}

func unknownCategoryReply(raw string) string {
	cats := core.Categories()
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = string(c)
	}
	return fmt.Sprintf("I don't know the category %q. Pick one of: %s.",
		strings.TrimSpace(raw), strings.Join(names, ", "))
}

func monthLabel(k core.MonthKey) string {
	return fmt.Sprintf("%s %d", k.Month, k.Year)
}
