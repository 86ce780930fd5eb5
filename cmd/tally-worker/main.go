package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"tally/internal/alert"
	"tally/internal/amqp"
	"tally/internal/cli"
	"tally/internal/services"
	"tally/internal/sheets"
	"tally/internal/sheets/google"
	"tally/internal/worker"
)

func main() {
	logger, cfg := cli.Bootstrap()
	logger.Info("Starting tally-worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, cleanup := cli.OpenStore(ctx, logger, cfg)
	defer cleanup()

	// The mirror is optional. Without it the worker still consumes both
	// queues so alert notifications keep flowing.
	var mirror sheets.RowWriter
	if cfg.MirrorEnabled() {
		client, err := google.NewFromEnv(ctx)
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", "error", err)
			os.Exit(1)
		}
		mirror = client
		logger.Info("Google Sheets mirror initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Mirror disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	// Unlike the chat service, the worker is pointless without a bus.
	bus, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPTxQueue, cfg.AMQPAlertQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer bus.Close()

	var notifier alert.Notifier
	if cfg.AlertWebhookURL != "" {
		notifier = alert.NewWebhookNotifier(cfg.AlertWebhookURL)
		logger.Info("Webhook notifier initialized")
	} else {
		notifier = alert.LogNotifier{}
		logger.Info("No webhook configured - alerts will be logged only")
	}

	events := worker.NewMirrorWorker(store, mirror, notifier)

	// The poll loop is the safety net for lost events and also prunes aged
	// band state.
	processor := services.NewMirrorProcessor(store, mirror, services.MirrorProcessorConfig{
		PollInterval: cfg.MirrorPollInterval,
		BatchSize:    cfg.MirrorBatchSize,
		KeepMonths:   cfg.BandKeepMonths,
	})
	if err := processor.Start(ctx); err != nil {
		logger.Error("Failed to start mirror processor", "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bus.ConsumeTransactionRecorded(gctx, func(msg *amqp.TransactionRecordedMessage) error {
			return events.HandleTransactionRecorded(gctx, msg)
		})
	})
	g.Go(func() error {
		return bus.ConsumeAlertRaised(gctx, func(msg *amqp.AlertRaisedMessage) error {
			return events.HandleAlertRaised(gctx, msg)
		})
	})

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-gctx.Done():
		logger.Info("Consumer stopped, shutting down")
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	cancel()

	if err := processor.Stop(shutdownCtx); err != nil {
		logger.Warn("Mirror processor did not stop cleanly", "error", err)
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Consumer exited with error", "error", err)
	}

	logger.Info("Worker shutdown complete")
}
