// Package adapters decorates the concrete infrastructure types with the
// cross-cutting behavior the services expect from their ports.
package adapters

import (
	"context"
	"log/slog"

	"tally/internal/core"
	"tally/internal/ledger"
)

// RecordPublisher is the slice of the event bus the store decorator needs.
type RecordPublisher interface {
	PublishTransactionRecorded(ctx context.Context, id int64) error
}

// PublishingStore wraps a ledger store so every new row also announces
// itself on the bus. The row is durable before the publish is attempted;
// a lost event is caught up later by the mirror poll, so publication
// failures are logged, never surfaced.
type PublishingStore struct {
	ledger.Store
	publisher RecordPublisher
}

var _ ledger.Store = (*PublishingStore)(nil)

func NewPublishingStore(store ledger.Store, publisher RecordPublisher) *PublishingStore {
	return &PublishingStore{Store: store, publisher: publisher}
}

// Append saves the transaction, then announces it.
func (s *PublishingStore) Append(ctx context.Context, tx core.Transaction) (int64, error) {
	id, err := s.Store.Append(ctx, tx)
	if err != nil {
		return 0, err
	}
	s.announce(ctx, id)
	return id, nil
}

// Reverse appends the offsetting row, then announces it so the mirror
// replicates the reversal too.
func (s *PublishingStore) Reverse(ctx context.Context, id int64, notes string) (core.Transaction, error) {
	rev, err := s.Store.Reverse(ctx, id, notes)
	if err != nil {
		return core.Transaction{}, err
	}
	s.announce(ctx, rev.ID)
	return rev, nil
}

func (s *PublishingStore) announce(ctx context.Context, id int64) {
	if s.publisher == nil {
		slog.WarnContext(ctx, "No publisher configured, skipping transaction event", "id", id)
		return
	}
	if err := s.publisher.PublishTransactionRecorded(ctx, id); err != nil {
		slog.ErrorContext(ctx, "Failed to publish transaction event",
			"id", id, "error", err)
	}
}
