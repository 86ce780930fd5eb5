package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tally/internal/core"
	"tally/internal/ledger"
	"tally/internal/sheets"
)

// MirrorStore is the slice of the ledger the mirror processor works on.
type MirrorStore interface {
	ledger.MirrorState
	ledger.BandState
}

// MirrorProcessorConfig holds the poll and retention settings.
type MirrorProcessorConfig struct {
	// PollInterval is how often to look for unmirrored transactions.
	PollInterval time.Duration

	// BatchSize caps the rows replicated per poll cycle.
	BatchSize int

	// CleanupInterval is how often band state retention runs.
	CleanupInterval time.Duration

	// KeepMonths is how many months of alert band state to retain.
	KeepMonths int
}

// DefaultMirrorProcessorConfig returns the standing defaults.
func DefaultMirrorProcessorConfig() MirrorProcessorConfig {
	return MirrorProcessorConfig{
		PollInterval:    15 * time.Second,
		BatchSize:       25,
		CleanupInterval: 24 * time.Hour,
		KeepMonths:      12,
	}
}

// MirrorProcessor replicates ledger entries to the spreadsheet mirror in
// the background. The poll loop catches everything the event stream missed,
// so a transaction whose recorded event was lost still reaches the sheet.
// It also prunes alert band state that has aged out of the retention
// window.
type MirrorProcessor struct {
	store  MirrorStore
	mirror sheets.RowWriter
	config MirrorProcessorConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewMirrorProcessor builds a processor. Zero config fields take the
// defaults.
func NewMirrorProcessor(store MirrorStore, mirror sheets.RowWriter, config MirrorProcessorConfig) *MirrorProcessor {
	def := DefaultMirrorProcessorConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}
	if config.KeepMonths <= 0 {
		config.KeepMonths = def.KeepMonths
	}
	return &MirrorProcessor{
		store:  store,
		mirror: mirror,
		config: config,
	}
}

// Start begins the processing loop. Returns an error if already running.
func (p *MirrorProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("mirror processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	slog.InfoContext(ctx, "Mirror processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize)

	return nil
}

// Stop gracefully stops the processor and waits for completion.
func (p *MirrorProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	close(p.stopCh)

	select {
	case <-p.doneCh:
		slog.InfoContext(ctx, "Mirror processor stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Mirror processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	return nil
}

// IsRunning returns whether the processor is currently running.
func (p *MirrorProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *MirrorProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	pollTicker := time.NewTicker(p.config.PollInterval)
	defer pollTicker.Stop()

	cleanupTicker := time.NewTicker(p.config.CleanupInterval)
	defer cleanupTicker.Stop()

	// Catch up immediately on startup.
	p.processBatch(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			p.processBatch(ctx)
		case <-cleanupTicker.C:
			p.pruneBands(ctx)
		}
	}
}

// processBatch replicates one batch of unmirrored transactions. A failed
// row stays pending and is retried on the next poll.
func (p *MirrorProcessor) processBatch(ctx context.Context) {
	if p.mirror == nil {
		slog.WarnContext(ctx, "No mirror configured, skipping batch")
		return
	}

	pending, err := p.store.PendingMirror(ctx, p.config.BatchSize)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to load pending mirror batch", "error", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	slog.DebugContext(ctx, "Mirroring batch", "count", len(pending))

	for _, tx := range pending {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		rowRef, err := p.mirror.Append(ctx, tx)
		if err != nil {
			slog.WarnContext(ctx, "Failed to mirror transaction",
				"id", tx.ID, "error", err)
			if markErr := p.store.MarkMirrorError(ctx, tx.ID, err.Error()); markErr != nil {
				slog.ErrorContext(ctx, "Failed to record mirror error",
					"id", tx.ID, "error", markErr)
			}
			continue
		}

		// The row is on the sheet now. Losing the mark means the next poll
		// writes it again, so this failure is logged loudly.
		if err := p.store.MarkMirrored(ctx, tx.ID, rowRef); err != nil {
			slog.ErrorContext(ctx, "Failed to mark transaction as mirrored",
				"id", tx.ID, "row_ref", rowRef, "error", err)
			continue
		}

		slog.InfoContext(ctx, "Mirrored transaction",
			"id", tx.ID, "row_ref", rowRef)
	}
}

// pruneBands drops alert band state older than the retention window.
func (p *MirrorProcessor) pruneBands(ctx context.Context) {
	cutoff := core.MonthOf(time.Now().UTC().AddDate(0, -p.config.KeepMonths, 0))
	pruned, err := p.store.PruneBands(ctx, cutoff)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to prune band state", "error", err)
		return
	}
	if pruned > 0 {
		slog.InfoContext(ctx, "Pruned band state",
			"rows", pruned, "before", cutoff.String())
	}
}
