package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"tally/internal/core"
	"tally/internal/ledger"

	_ "modernc.org/sqlite"
)

// mirrorMaxAttempts caps replication retries per row; rows past the cap stay
// in error state for manual inspection.
const mirrorMaxAttempts = 5

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
}

var _ ledger.Store = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Append persists a transaction and returns its id. Reversal rows run inside
// a database transaction so the one-reversal-per-original rule holds under
// concurrent writers.
func (r *SQLiteRepository) Append(ctx context.Context, tx core.Transaction) (int64, error) {
	if err := tx.Validate(); err != nil {
		return 0, err
	}

	params := createParams(tx)

	if tx.ReversalOf <= 0 {
		row, err := r.queries.CreateTransaction(ctx, params)
		if err != nil {
			return 0, fmt.Errorf("create transaction: %w", err)
		}
		logSaved(ctx, row)
		return row.ID, nil
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	qtx := r.queries.WithTx(dbTx)
	if err := checkReversalTarget(ctx, qtx, tx.ReversalOf); err != nil {
		return 0, err
	}
	row, err := qtx.CreateTransaction(ctx, params)
	if err != nil {
		return 0, fmt.Errorf("create reversal: %w", err)
	}
	if err := dbTx.Commit(); err != nil {
		return 0, fmt.Errorf("commit reversal: %w", err)
	}
	logSaved(ctx, row)
	return row.ID, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id int64) (core.Transaction, error) {
	row, err := r.queries.GetTransaction(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, fmt.Errorf("transaction %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return toCore(row), nil
}

func (r *SQLiteRepository) List(ctx context.Context, f ledger.Filter) ([]core.Transaction, error) {
	limit := int64(f.Limit)
	if limit <= 0 {
		limit = -1 // SQLite: no cap
	}
	month := ""
	if f.Month != nil {
		month = f.Month.String()
	}
	rows, err := r.queries.ListTransactions(ctx, ListTransactionsParams{
		Category:    string(f.Category),
		Month:       month,
		NeedsReview: f.NeedsReview,
		Limit:       limit,
		Offset:      int64(f.Offset),
	})
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	out := make([]core.Transaction, len(rows))
	for i, row := range rows {
		out[i] = toCore(row)
	}
	return out, nil
}

// Reverse appends the offsetting transaction for id and returns it.
func (r *SQLiteRepository) Reverse(ctx context.Context, id int64, notes string) (core.Transaction, error) {
	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	qtx := r.queries.WithTx(dbTx)
	if err := checkReversalTarget(ctx, qtx, id); err != nil {
		return core.Transaction{}, err
	}
	orig, err := qtx.GetTransaction(ctx, id)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}

	now := time.Now().UTC()
	row, err := qtx.CreateTransaction(ctx, CreateTransactionParams{
		Ts:            now,
		Month:         core.MonthOf(now).String(),
		AmountCents:   -orig.AmountCents,
		Category:      orig.Category,
		Description:   orig.Description,
		PaymentMethod: orig.PaymentMethod,
		Notes:         notes,
		ReversalOf:    sql.NullInt64{Int64: id, Valid: true},
	})
	if err != nil {
		return core.Transaction{}, fmt.Errorf("create reversal: %w", err)
	}
	if err := dbTx.Commit(); err != nil {
		return core.Transaction{}, fmt.Errorf("commit reversal: %w", err)
	}

	slog.InfoContext(ctx, "Transaction reversed",
		"id", id,
		"reversal_id", row.ID,
		"amount_cents", row.AmountCents)
	return toCore(row), nil
}

// Recategorize moves a transaction (and its reversal, when present) to a new
// category and clears the needs-review flag.
func (r *SQLiteRepository) Recategorize(ctx context.Context, id int64, category core.Category) (core.Transaction, error) {
	if !category.Valid() {
		return core.Transaction{}, fmt.Errorf("category %q: %w", category, core.ErrInvalidCategory)
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	qtx := r.queries.WithTx(dbTx)
	row, err := qtx.GetTransaction(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, fmt.Errorf("transaction %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	if row.ReversalOf.Valid {
		return core.Transaction{}, fmt.Errorf("transaction %d is a reversal and follows its original", id)
	}

	if err := qtx.UpdateTransactionCategory(ctx, UpdateTransactionCategoryParams{
		Category: string(category),
		ID:       id,
	}); err != nil {
		return core.Transaction{}, fmt.Errorf("update category: %w", err)
	}
	if err := qtx.UpdateReversalCategory(ctx, UpdateReversalCategoryParams{
		Category:   string(category),
		ReversalOf: id,
	}); err != nil {
		return core.Transaction{}, fmt.Errorf("update reversal category: %w", err)
	}

	updated, err := qtx.GetTransaction(ctx, id)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("reload transaction: %w", err)
	}
	if err := dbTx.Commit(); err != nil {
		return core.Transaction{}, fmt.Errorf("commit recategorize: %w", err)
	}

	slog.InfoContext(ctx, "Transaction recategorized",
		"id", id,
		"category", string(category))
	return toCore(updated), nil
}

func (r *SQLiteRepository) SpentCents(ctx context.Context, category core.Category, month core.MonthKey) (int64, error) {
	total, err := r.queries.SumCategoryMonth(ctx, SumCategoryMonthParams{
		Category: string(category),
		Month:    month.String(),
	})
	if err != nil {
		return 0, fmt.Errorf("sum category month: %w", err)
	}
	return total, nil
}

// SetBudget deactivates the current limit for (category, month) and inserts
// the new one as active, keeping the old row for history.
func (r *SQLiteRepository) SetBudget(ctx context.Context, b core.Budget) (core.Budget, error) {
	if err := b.Validate(); err != nil {
		return core.Budget{}, err
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Budget{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	qtx := r.queries.WithTx(dbTx)
	if err := qtx.DeactivateBudgets(ctx, DeactivateBudgetsParams{
		Category: string(b.Category),
		Month:    b.Month.String(),
	}); err != nil {
		return core.Budget{}, fmt.Errorf("deactivate budgets: %w", err)
	}
	row, err := qtx.CreateBudget(ctx, CreateBudgetParams{
		Category:   string(b.Category),
		Month:      b.Month.String(),
		LimitCents: b.Limit.Cents,
	})
	if err != nil {
		return core.Budget{}, fmt.Errorf("create budget: %w", err)
	}
	if err := dbTx.Commit(); err != nil {
		return core.Budget{}, fmt.Errorf("commit budget: %w", err)
	}

	slog.InfoContext(ctx, "Budget set",
		"id", row.ID,
		"category", row.Category,
		"month", row.Month,
		"limit_cents", row.LimitCents)
	return budgetToCore(row)
}

func (r *SQLiteRepository) ActiveBudget(ctx context.Context, category core.Category, month core.MonthKey) (core.Budget, error) {
	row, err := r.queries.GetActiveBudget(ctx, GetActiveBudgetParams{
		Category: string(category),
		Month:    month.String(),
	})
	if errors.Is(err, sql.ErrNoRows) {
		return core.Budget{}, fmt.Errorf("%s %s: %w", category, month, core.ErrNoActiveBudget)
	}
	if err != nil {
		return core.Budget{}, fmt.Errorf("get active budget: %w", err)
	}
	return budgetToCore(row)
}

func (r *SQLiteRepository) ListBudgets(ctx context.Context, month core.MonthKey) ([]core.Budget, error) {
	rows, err := r.queries.ListActiveBudgets(ctx, month.String())
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	out := make([]core.Budget, 0, len(rows))
	for _, row := range rows {
		b, err := budgetToCore(row)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (r *SQLiteRepository) LastBand(ctx context.Context, category core.Category, month core.MonthKey) (core.Band, error) {
	band, err := r.queries.GetBandState(ctx, GetBandStateParams{
		Category: string(category),
		Month:    month.String(),
	})
	if errors.Is(err, sql.ErrNoRows) {
		return core.BandOK, nil
	}
	if err != nil {
		return core.BandOK, fmt.Errorf("get band state: %w", err)
	}
	return core.Band(band), nil
}

func (r *SQLiteRepository) SetLastBand(ctx context.Context, category core.Category, month core.MonthKey, band core.Band) error {
	if err := r.queries.UpsertBandState(ctx, UpsertBandStateParams{
		Category: string(category),
		Month:    month.String(),
		Band:     int64(band),
	}); err != nil {
		return fmt.Errorf("upsert band state: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) PruneBands(ctx context.Context, before core.MonthKey) (int64, error) {
	pruned, err := r.queries.PruneBandStates(ctx, before.String())
	if err != nil {
		return 0, fmt.Errorf("prune band states: %w", err)
	}
	if pruned > 0 {
		slog.InfoContext(ctx, "Band state pruned", "rows", pruned, "before", before.String())
	}
	return pruned, nil
}

func (r *SQLiteRepository) PendingMirror(ctx context.Context, limit int) ([]core.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.queries.PendingMirrorTransactions(ctx, PendingMirrorTransactionsParams{
		MaxAttempts: mirrorMaxAttempts,
		Limit:       int64(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("pending mirror transactions: %w", err)
	}
	out := make([]core.Transaction, len(rows))
	for i, row := range rows {
		out[i] = toCore(row)
	}
	return out, nil
}

func (r *SQLiteRepository) MarkMirrored(ctx context.Context, id int64, rowRef string) error {
	n, err := r.queries.MarkTransactionMirrored(ctx, MarkTransactionMirroredParams{
		RowRef: rowRef,
		ID:     id,
	})
	if err != nil {
		return fmt.Errorf("mark mirrored: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("transaction %d: %w", id, core.ErrNotFound)
	}
	slog.InfoContext(ctx, "Transaction mirrored", "id", id, "row_ref", rowRef)
	return nil
}

func (r *SQLiteRepository) MarkMirrorError(ctx context.Context, id int64, message string) error {
	n, err := r.queries.MarkTransactionMirrorError(ctx, MarkTransactionMirrorErrorParams{
		Error: message,
		ID:    id,
	})
	if err != nil {
		return fmt.Errorf("mark mirror error: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("transaction %d: %w", id, core.ErrNotFound)
	}
	slog.WarnContext(ctx, "Transaction mirror failed", "id", id, "error", message)
	return nil
}

func checkReversalTarget(ctx context.Context, q *Queries, id int64) error {
	orig, err := q.GetTransaction(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("transaction %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("get transaction: %w", err)
	}
	if orig.ReversalOf.Valid {
		return fmt.Errorf("transaction %d: %w", id, core.ErrReversalOfReversal)
	}
	_, err = q.GetReversal(ctx, id)
	if err == nil {
		return fmt.Errorf("transaction %d: %w", id, core.ErrAlreadyReversed)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("get reversal: %w", err)
	}
	return nil
}

func createParams(tx core.Transaction) CreateTransactionParams {
	var reversalOf sql.NullInt64
	if tx.ReversalOf > 0 {
		reversalOf = sql.NullInt64{Int64: tx.ReversalOf, Valid: true}
	}
	return CreateTransactionParams{
		Ts:            tx.Timestamp,
		Month:         core.MonthOf(tx.Timestamp).String(),
		AmountCents:   tx.Amount.Cents,
		Category:      string(tx.Category),
		Description:   tx.Description,
		PaymentMethod: string(tx.PaymentMethod),
		Notes:         tx.Notes,
		ReversalOf:    reversalOf,
		NeedsReview:   tx.NeedsReview,
	}
}

func toCore(row Transaction) core.Transaction {
	tx := core.Transaction{
		ID:            row.ID,
		Timestamp:     row.Ts,
		Amount:        core.Money{Cents: row.AmountCents},
		Category:      core.Category(row.Category),
		Description:   row.Description,
		PaymentMethod: core.PaymentMethod(row.PaymentMethod),
		Notes:         row.Notes,
		NeedsReview:   row.NeedsReview,
	}
	if row.ReversalOf.Valid {
		tx.ReversalOf = row.ReversalOf.Int64
	}
	return tx
}

func budgetToCore(row Budget) (core.Budget, error) {
	month, err := core.ParseMonthKey(row.Month)
	if err != nil {
		return core.Budget{}, fmt.Errorf("budget %d: %w", row.ID, err)
	}
	return core.Budget{
		ID:       row.ID,
		Category: core.Category(row.Category),
		Month:    month,
		Limit:    core.Money{Cents: row.LimitCents},
	}, nil
}

func logSaved(ctx context.Context, row Transaction) {
	slog.InfoContext(ctx, "Transaction saved",
		"id", row.ID,
		"description", row.Description,
		"amount_cents", row.AmountCents,
		"category", row.Category,
		"month", row.Month)
}
