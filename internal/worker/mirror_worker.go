// Package worker consumes the event queues: transaction events are
// replicated to the spreadsheet mirror, alert events go to the notifier.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tally/internal/alert"
	"tally/internal/amqp"
	"tally/internal/core"
	"tally/internal/ledger"
	"tally/internal/sheets"
)

// alertMaxAttempts bounds in-place delivery attempts for one alert. A stale
// alert is worth less than a clear queue, so after the last attempt the
// message is dropped, not requeued.
const alertMaxAttempts = 3

// Store is the slice of the ledger the worker reads and marks.
type Store interface {
	ledger.Reader
	ledger.MirrorState
}

// MirrorWorker handles queue deliveries. The transaction event carries only
// an id; the row is fetched from the store, so a redelivered message never
// writes stale data.
type MirrorWorker struct {
	store      Store
	mirror     sheets.RowWriter
	notifier   alert.Notifier
	alertRetry time.Duration
}

func NewMirrorWorker(store Store, mirror sheets.RowWriter, notifier alert.Notifier) *MirrorWorker {
	return &MirrorWorker{
		store:      store,
		mirror:     mirror,
		notifier:   notifier,
		alertRetry: 2 * time.Second,
	}
}

// HandleTransactionRecorded mirrors one recorded transaction. Returning an
// error requeues the message for another attempt.
func (w *MirrorWorker) HandleTransactionRecorded(ctx context.Context, msg *amqp.TransactionRecordedMessage) error {
	slog.InfoContext(ctx, "Processing transaction event",
		"id", msg.ID,
		"event_id", msg.EventID)

	tx, err := w.store.Get(ctx, msg.ID)
	if errors.Is(err, core.ErrNotFound) {
		slog.WarnContext(ctx, "Transaction in event does not exist, dropping",
			"id", msg.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get transaction %d: %w", msg.ID, err)
	}

	if w.mirror == nil {
		slog.WarnContext(ctx, "No mirror configured, skipping replication",
			"id", msg.ID)
		return nil
	}

	rowRef, err := w.mirror.Append(ctx, tx)
	if err != nil {
		if markErr := w.store.MarkMirrorError(ctx, tx.ID, err.Error()); markErr != nil {
			slog.ErrorContext(ctx, "Failed to record mirror error",
				"id", tx.ID, "error", markErr)
		}
		return fmt.Errorf("append to mirror: %w", err)
	}

	// The row is on the sheet; requeueing now would write it twice, so a
	// failed mark is logged and the message acked.
	if err := w.store.MarkMirrored(ctx, tx.ID, rowRef); err != nil {
		slog.ErrorContext(ctx, "Failed to mark transaction as mirrored",
			"id", tx.ID, "row_ref", rowRef, "error", err)
		return nil
	}

	slog.InfoContext(ctx, "Mirrored transaction",
		"id", tx.ID,
		"row_ref", rowRef)
	return nil
}

// HandleAlertRaised delivers one alert to the notifier. Delivery is tried a
// few times in place; an alert that still cannot be delivered is dropped
// with a warning rather than requeued.
func (w *MirrorWorker) HandleAlertRaised(ctx context.Context, msg *amqp.AlertRaisedMessage) error {
	slog.InfoContext(ctx, "Processing alert event",
		"kind", string(msg.Alert.Kind),
		"category", string(msg.Alert.Category),
		"event_id", msg.EventID)

	if w.notifier == nil {
		slog.WarnContext(ctx, "No notifier configured, dropping alert",
			"kind", string(msg.Alert.Kind),
			"category", string(msg.Alert.Category))
		return nil
	}

	var err error
	for attempt := 1; attempt <= alertMaxAttempts; attempt++ {
		if err = w.notifier.Notify(ctx, msg.Alert); err == nil {
			return nil
		}
		if attempt == alertMaxAttempts {
			break
		}
		slog.WarnContext(ctx, "Alert delivery failed, retrying",
			"attempt", attempt,
			"error", err)
		select {
		case <-ctx.Done():
			// Shutdown mid-delivery; requeue so the next run tries again.
			return ctx.Err()
		case <-time.After(w.alertRetry):
		}
	}

	slog.WarnContext(ctx, "Dropping undeliverable alert",
		"kind", string(msg.Alert.Kind),
		"category", string(msg.Alert.Category),
		"attempts", alertMaxAttempts,
		"error", err)
	return nil
}
