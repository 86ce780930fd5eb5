// Package memory holds an in-memory ledger.Store for tests and the
// dev backend.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tally/internal/core"
	"tally/internal/ledger"
)

type bandKey struct {
	category core.Category
	month    core.MonthKey
}

// Store keeps everything behind one mutex. Reads hand out copies so callers
// can never alias internal state.
type Store struct {
	mu           sync.Mutex
	nextTxID     int64
	nextBudgetID int64
	txs          []core.Transaction
	byID         map[int64]int
	reversedBy   map[int64]int64
	budgets      []core.Budget
	bands        map[bandKey]core.Band
	mirrorRefs   map[int64]string
	mirrorErrs   map[int64]string
}

var _ ledger.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		nextTxID:     1,
		nextBudgetID: 1,
		byID:         map[int64]int{},
		reversedBy:   map[int64]int64{},
		bands:        map[bandKey]core.Band{},
		mirrorRefs:   map[int64]string{},
		mirrorErrs:   map[int64]string{},
	}
}

// Append stores the transaction and returns the assigned id. Any id already
// present on the value is ignored.
func (s *Store) Append(_ context.Context, tx core.Transaction) (int64, error) {
	if err := tx.Validate(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.ReversalOf > 0 {
		if err := s.checkReversalTarget(tx.ReversalOf); err != nil {
			return 0, err
		}
	}
	tx.ID = s.nextTxID
	s.nextTxID++
	s.byID[tx.ID] = len(s.txs)
	s.txs = append(s.txs, tx)
	if tx.ReversalOf > 0 {
		s.reversedBy[tx.ReversalOf] = tx.ID
	}
	return tx.ID, nil
}

func (s *Store) Get(_ context.Context, id int64) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byID[id]
	if !ok {
		return core.Transaction{}, fmt.Errorf("transaction %d: %w", id, core.ErrNotFound)
	}
	return s.txs[idx], nil
}

func (s *Store) List(_ context.Context, f ledger.Filter) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Transaction
	skipped := 0
	for _, tx := range s.txs {
		if !matches(tx, f) {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		out = append(out, tx)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

// Reverse appends an offsetting transaction for id and returns it. The
// original row is never touched.
func (s *Store) Reverse(_ context.Context, id int64, notes string) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkReversalTarget(id); err != nil {
		return core.Transaction{}, err
	}
	orig := s.txs[s.byID[id]]
	rev := core.Transaction{
		Timestamp:     time.Now().UTC(),
		Amount:        core.Money{Cents: -orig.Amount.Cents},
		Category:      orig.Category,
		Description:   orig.Description,
		PaymentMethod: orig.PaymentMethod,
		Notes:         notes,
		ReversalOf:    id,
	}
	rev.ID = s.nextTxID
	s.nextTxID++
	s.byID[rev.ID] = len(s.txs)
	s.txs = append(s.txs, rev)
	s.reversedBy[id] = rev.ID
	return rev, nil
}

// Recategorize moves a transaction to another category and clears its
// needs-review flag. A reversal row cannot be retargeted directly; when the
// original has one, the reversal follows so the pair keeps cancelling out.
func (s *Store) Recategorize(_ context.Context, id int64, category core.Category) (core.Transaction, error) {
	if !category.Valid() {
		return core.Transaction{}, fmt.Errorf("category %q: %w", category, core.ErrInvalidCategory)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byID[id]
	if !ok {
		return core.Transaction{}, fmt.Errorf("transaction %d: %w", id, core.ErrNotFound)
	}
	if s.txs[idx].ReversalOf > 0 {
		return core.Transaction{}, fmt.Errorf("transaction %d is a reversal and follows its original", id)
	}
	s.txs[idx].Category = category
	s.txs[idx].NeedsReview = false
	if revID, ok := s.reversedBy[id]; ok {
		s.txs[s.byID[revID]].Category = category
	}
	return s.txs[idx], nil
}

func (s *Store) SpentCents(_ context.Context, category core.Category, month core.MonthKey) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, tx := range s.txs {
		if tx.Category == category && month.Contains(tx.Timestamp) {
			total += tx.Amount.Cents
		}
	}
	return total, nil
}

// SetBudget records a new limit. Earlier limits for the same category and
// month stay in the book and stop being active.
func (s *Store) SetBudget(_ context.Context, b core.Budget) (core.Budget, error) {
	if err := b.Validate(); err != nil {
		return core.Budget{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b.ID = s.nextBudgetID
	s.nextBudgetID++
	s.budgets = append(s.budgets, b)
	return b, nil
}

func (s *Store) ActiveBudget(_ context.Context, category core.Category, month core.MonthKey) (core.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.budgets) - 1; i >= 0; i-- {
		b := s.budgets[i]
		if b.Category == category && b.Month == month {
			return b, nil
		}
	}
	return core.Budget{}, fmt.Errorf("%s %s: %w", category, month, core.ErrNoActiveBudget)
}

func (s *Store) ListBudgets(_ context.Context, month core.MonthKey) ([]core.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Budget
	for _, cat := range core.Categories() {
		for i := len(s.budgets) - 1; i >= 0; i-- {
			b := s.budgets[i]
			if b.Category == cat && b.Month == month {
				out = append(out, b)
				break
			}
		}
	}
	return out, nil
}

// LastBand reports the recorded band, or BandOK when the pair has never
// been evaluated.
func (s *Store) LastBand(_ context.Context, category core.Category, month core.MonthKey) (core.Band, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bands[bandKey{category, month}], nil
}

func (s *Store) SetLastBand(_ context.Context, category core.Category, month core.MonthKey, band core.Band) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bands[bandKey{category, month}] = band
	return nil
}

func (s *Store) PruneBands(_ context.Context, before core.MonthKey) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pruned int64
	for k := range s.bands {
		if olderThan(k.month, before) {
			delete(s.bands, k)
			pruned++
		}
	}
	return pruned, nil
}

func (s *Store) PendingMirror(_ context.Context, limit int) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Transaction
	for _, tx := range s.txs {
		if _, done := s.mirrorRefs[tx.ID]; done {
			continue
		}
		out = append(out, tx)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkMirrored(_ context.Context, id int64, rowRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return fmt.Errorf("transaction %d: %w", id, core.ErrNotFound)
	}
	s.mirrorRefs[id] = rowRef
	delete(s.mirrorErrs, id)
	return nil
}

func (s *Store) MarkMirrorError(_ context.Context, id int64, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return fmt.Errorf("transaction %d: %w", id, core.ErrNotFound)
	}
	s.mirrorErrs[id] = message
	return nil
}

func (s *Store) checkReversalTarget(id int64) error {
	idx, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("transaction %d: %w", id, core.ErrNotFound)
	}
	if s.txs[idx].ReversalOf > 0 {
		return fmt.Errorf("transaction %d: %w", id, core.ErrReversalOfReversal)
	}
	if _, done := s.reversedBy[id]; done {
		return fmt.Errorf("transaction %d: %w", id, core.ErrAlreadyReversed)
	}
	return nil
}

func matches(tx core.Transaction, f ledger.Filter) bool {
	if f.Category != "" && tx.Category != f.Category {
		return false
	}
	if f.Month != nil && !f.Month.Contains(tx.Timestamp) {
		return false
	}
	if f.NeedsReview && !tx.NeedsReview {
		return false
	}
	return true
}

func olderThan(a, b core.MonthKey) bool {
	if a.Year != b.Year {
		return a.Year < b.Year
	}
	return a.Month < b.Month
}
