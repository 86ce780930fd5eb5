package adapters

import (
	"context"
	"errors"
	"testing"
	"time"

	"tally/internal/core"
	"tally/internal/ledger"
	"tally/internal/ledger/memory"
)

type recordingPublisher struct {
	ids []int64
	err error
}

func (p *recordingPublisher) PublishTransactionRecorded(_ context.Context, id int64) error {
	p.ids = append(p.ids, id)
	return p.err
}

type failingStore struct {
	ledger.Store
}

func (failingStore) Append(context.Context, core.Transaction) (int64, error) {
	return 0, errors.New("disk full")
}

func testTransaction() core.Transaction {
	return core.Transaction{
		Timestamp:     time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC),
		Amount:        core.Money{Cents: 2500},
		Category:      core.CategoryFood,
		Description:   "lunch",
		PaymentMethod: core.PaymentCard,
	}
}

func TestPublishingStoreAnnouncesAppend(t *testing.T) {
	pub := &recordingPublisher{}
	store := NewPublishingStore(memory.New(), pub)

	id, err := store.Append(context.Background(), testTransaction())
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if id == 0 {
		t.Fatal("Append() returned zero id")
	}
	if len(pub.ids) != 1 || pub.ids[0] != id {
		t.Errorf("published ids = %v, want [%d]", pub.ids, id)
	}
}

func TestPublishingStoreAnnouncesReverse(t *testing.T) {
	pub := &recordingPublisher{}
	store := NewPublishingStore(memory.New(), pub)

	id, err := store.Append(context.Background(), testTransaction())
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	rev, err := store.Reverse(context.Background(), id, "typo")
	if err != nil {
		t.Fatalf("Reverse() error = %v", err)
	}
	if rev.ReversalOf != id {
		t.Errorf("ReversalOf = %d, want %d", rev.ReversalOf, id)
	}
	if len(pub.ids) != 2 || pub.ids[1] != rev.ID {
		t.Errorf("published ids = %v, want [%d %d]", pub.ids, id, rev.ID)
	}
}

func TestPublishingStoreAppendErrorDoesNotPublish(t *testing.T) {
	pub := &recordingPublisher{}
	store := NewPublishingStore(failingStore{}, pub)

	if _, err := store.Append(context.Background(), testTransaction()); err == nil {
		t.Fatal("Append() expected error, got nil")
	}
	if len(pub.ids) != 0 {
		t.Errorf("published ids = %v, want none", pub.ids)
	}
}

func TestPublishingStorePublishErrorDoesNotFailAppend(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	store := NewPublishingStore(memory.New(), pub)

	if _, err := store.Append(context.Background(), testTransaction()); err != nil {
		t.Fatalf("Append() error = %v, want nil despite publish failure", err)
	}
}

func TestPublishingStoreNilPublisher(t *testing.T) {
	store := NewPublishingStore(memory.New(), nil)

	if _, err := store.Append(context.Background(), testTransaction()); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
}
