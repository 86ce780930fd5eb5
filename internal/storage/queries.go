package storage

import (
	"context"
	"database/sql"
	"time"
)

// DBTX is satisfied by *sql.DB and *sql.Tx so queries run inside or outside
// a transaction.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

const transactionColumns = `id, ts, month, amount_cents, category, description, payment_method, notes, reversal_of, needs_review, mirror_status, mirror_attempts, mirror_row_ref, mirror_error, mirrored_at, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (Transaction, error) {
	var t Transaction
	err := row.Scan(
		&t.ID,
		&t.Ts,
		&t.Month,
		&t.AmountCents,
		&t.Category,
		&t.Description,
		&t.PaymentMethod,
		&t.Notes,
		&t.ReversalOf,
		&t.NeedsReview,
		&t.MirrorStatus,
		&t.MirrorAttempts,
		&t.MirrorRowRef,
		&t.MirrorError,
		&t.MirroredAt,
		&t.CreatedAt,
	)
	return t, err
}

const createTransaction = `
INSERT INTO transactions (ts, month, amount_cents, category, description, payment_method, notes, reversal_of, needs_review)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING ` + transactionColumns

type CreateTransactionParams struct {
	Ts            time.Time
	Month         string
	AmountCents   int64
	Category      string
	Description   string
	PaymentMethod string
	Notes         string
	ReversalOf    sql.NullInt64
	NeedsReview   bool
}

func (q *Queries) CreateTransaction(ctx context.Context, arg CreateTransactionParams) (Transaction, error) {
	row := q.db.QueryRowContext(ctx, createTransaction,
		arg.Ts,
		arg.Month,
		arg.AmountCents,
		arg.Category,
		arg.Description,
		arg.PaymentMethod,
		arg.Notes,
		arg.ReversalOf,
		arg.NeedsReview,
	)
	return scanTransaction(row)
}

const getTransaction = `
SELECT ` + transactionColumns + `
FROM transactions
WHERE id = ?`

func (q *Queries) GetTransaction(ctx context.Context, id int64) (Transaction, error) {
	row := q.db.QueryRowContext(ctx, getTransaction, id)
	return scanTransaction(row)
}

const getReversal = `
SELECT ` + transactionColumns + `
FROM transactions
WHERE reversal_of = ?`

func (q *Queries) GetReversal(ctx context.Context, id int64) (Transaction, error) {
	row := q.db.QueryRowContext(ctx, getReversal, id)
	return scanTransaction(row)
}

const listTransactions = `
SELECT ` + transactionColumns + `
FROM transactions
WHERE (? = '' OR category = ?)
  AND (? = '' OR month = ?)
  AND (? = 0 OR needs_review = 1)
ORDER BY id
LIMIT ? OFFSET ?`

type ListTransactionsParams struct {
	Category    string
	Month       string
	NeedsReview bool
	Limit       int64
	Offset      int64
}

func (q *Queries) ListTransactions(ctx context.Context, arg ListTransactionsParams) ([]Transaction, error) {
	rows, err := q.db.QueryContext(ctx, listTransactions,
		arg.Category, arg.Category,
		arg.Month, arg.Month,
		arg.NeedsReview,
		arg.Limit, arg.Offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const updateTransactionCategory = `
UPDATE transactions
SET category = ?, needs_review = 0
WHERE id = ?`

type UpdateTransactionCategoryParams struct {
	Category string
	ID       int64
}

func (q *Queries) UpdateTransactionCategory(ctx context.Context, arg UpdateTransactionCategoryParams) error {
	_, err := q.db.ExecContext(ctx, updateTransactionCategory, arg.Category, arg.ID)
	return err
}

const updateReversalCategory = `
UPDATE transactions
SET category = ?
WHERE reversal_of = ?`

type UpdateReversalCategoryParams struct {
	Category   string
	ReversalOf int64
}

func (q *Queries) UpdateReversalCategory(ctx context.Context, arg UpdateReversalCategoryParams) error {
	_, err := q.db.ExecContext(ctx, updateReversalCategory, arg.Category, arg.ReversalOf)
	return err
}

const sumCategoryMonth = `
SELECT COALESCE(SUM(amount_cents), 0)
FROM transactions
WHERE category = ? AND month = ?`

type SumCategoryMonthParams struct {
	Category string
	Month    string
}

func (q *Queries) SumCategoryMonth(ctx context.Context, arg SumCategoryMonthParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, sumCategoryMonth, arg.Category, arg.Month)
	var total int64
	err := row.Scan(&total)
	return total, err
}

const deactivateBudgets = `
UPDATE budgets
SET active = 0
WHERE category = ? AND month = ? AND active = 1`

type DeactivateBudgetsParams struct {
	Category string
	Month    string
}

func (q *Queries) DeactivateBudgets(ctx context.Context, arg DeactivateBudgetsParams) error {
	_, err := q.db.ExecContext(ctx, deactivateBudgets, arg.Category, arg.Month)
	return err
}

const createBudget = `
INSERT INTO budgets (category, month, limit_cents, active)
VALUES (?, ?, ?, 1)
RETURNING id, category, month, limit_cents, active, created_at`

type CreateBudgetParams struct {
	Category   string
	Month      string
	LimitCents int64
}

func (q *Queries) CreateBudget(ctx context.Context, arg CreateBudgetParams) (Budget, error) {
	row := q.db.QueryRowContext(ctx, createBudget, arg.Category, arg.Month, arg.LimitCents)
	var b Budget
	err := row.Scan(&b.ID, &b.Category, &b.Month, &b.LimitCents, &b.Active, &b.CreatedAt)
	return b, err
}

const getActiveBudget = `
SELECT id, category, month, limit_cents, active, created_at
FROM budgets
WHERE category = ? AND month = ? AND active = 1`

type GetActiveBudgetParams struct {
	Category string
	Month    string
}

func (q *Queries) GetActiveBudget(ctx context.Context, arg GetActiveBudgetParams) (Budget, error) {
	row := q.db.QueryRowContext(ctx, getActiveBudget, arg.Category, arg.Month)
	var b Budget
	err := row.Scan(&b.ID, &b.Category, &b.Month, &b.LimitCents, &b.Active, &b.CreatedAt)
	return b, err
}

const listActiveBudgets = `
SELECT id, category, month, limit_cents, active, created_at
FROM budgets
WHERE month = ? AND active = 1
ORDER BY category`

func (q *Queries) ListActiveBudgets(ctx context.Context, month string) ([]Budget, error) {
	rows, err := q.db.QueryContext(ctx, listActiveBudgets, month)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Budget
	for rows.Next() {
		var b Budget
		if err := rows.Scan(&b.ID, &b.Category, &b.Month, &b.LimitCents, &b.Active, &b.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getBandState = `
SELECT band
FROM band_state
WHERE category = ? AND month = ?`

type GetBandStateParams struct {
	Category string
	Month    string
}

func (q *Queries) GetBandState(ctx context.Context, arg GetBandStateParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, getBandState, arg.Category, arg.Month)
	var band int64
	err := row.Scan(&band)
	return band, err
}

const upsertBandState = `
INSERT INTO band_state (category, month, band)
VALUES (?, ?, ?)
ON CONFLICT (category, month) DO UPDATE
SET band = excluded.band, updated_at = CURRENT_TIMESTAMP`

type UpsertBandStateParams struct {
	Category string
	Month    string
	Band     int64
}

func (q *Queries) UpsertBandState(ctx context.Context, arg UpsertBandStateParams) error {
	_, err := q.db.ExecContext(ctx, upsertBandState, arg.Category, arg.Month, arg.Band)
	return err
}

const pruneBandStates = `
DELETE FROM band_state
WHERE month < ?`

func (q *Queries) PruneBandStates(ctx context.Context, month string) (int64, error) {
	res, err := q.db.ExecContext(ctx, pruneBandStates, month)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const pendingMirrorTransactions = `
SELECT ` + transactionColumns + `
FROM transactions
WHERE mirror_status IN ('pending', 'error')
  AND mirror_attempts < ?
ORDER BY id
LIMIT ?`

type PendingMirrorTransactionsParams struct {
	MaxAttempts int64
	Limit       int64
}

func (q *Queries) PendingMirrorTransactions(ctx context.Context, arg PendingMirrorTransactionsParams) ([]Transaction, error) {
	rows, err := q.db.QueryContext(ctx, pendingMirrorTransactions, arg.MaxAttempts, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const markTransactionMirrored = `
UPDATE transactions
SET mirror_status = 'done', mirror_row_ref = ?, mirror_error = NULL, mirrored_at = CURRENT_TIMESTAMP
WHERE id = ?`

type MarkTransactionMirroredParams struct {
	RowRef string
	ID     int64
}

func (q *Queries) MarkTransactionMirrored(ctx context.Context, arg MarkTransactionMirroredParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, markTransactionMirrored, arg.RowRef, arg.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const markTransactionMirrorError = `
UPDATE transactions
SET mirror_status = 'error', mirror_attempts = mirror_attempts + 1, mirror_error = ?
WHERE id = ?`

type MarkTransactionMirrorErrorParams struct {
	Error string
	ID    int64
}

func (q *Queries) MarkTransactionMirrorError(ctx context.Context, arg MarkTransactionMirrorErrorParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, markTransactionMirrorError, arg.Error, arg.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
