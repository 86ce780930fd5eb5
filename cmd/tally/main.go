package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tally/internal/adapters"
	"tally/internal/alert"
	"tally/internal/amqp"
	"tally/internal/budget"
	"tally/internal/classify"
	"tally/internal/classify/gemini"
	"tally/internal/classify/openai"
	"tally/internal/cli"
	"tally/internal/core"
	apphttp "tally/internal/http"
	"tally/internal/ledger"
	"tally/internal/services"
)

func main() {
	logger, cfg := cli.Bootstrap()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, cleanup := cli.OpenStore(ctx, logger, cfg)
	defer cleanup()

	// The event bus is optional for the chat service: a transaction is
	// durable before any publish, and the worker poll catches up whatever
	// the stream missed.
	var bus *amqp.Client
	if cfg.AMQPURL != "" {
		var err error
		bus, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPTxQueue, cfg.AMQPAlertQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without event publishing", "error", err)
			bus = nil
		} else {
			defer bus.Close()
			logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange)
		}
	} else {
		logger.Info("AMQP disabled - transaction and alert events will not be published")
	}

	ledgerStore := ledger.Store(store)
	var alertBus services.AlertPublisher
	if bus != nil {
		ledgerStore = adapters.NewPublishingStore(store, bus)
		alertBus = bus
	}

	var external classify.Classifier
	switch cfg.ClassifyProvider {
	case "openai":
		c, err := openai.New(cfg.OpenAIAPIKey, cfg.OpenAIModel)
		if err != nil {
			logger.Error("Failed to initialize OpenAI classifier", "error", err)
			os.Exit(1)
		}
		external = c
		logger.Info("OpenAI classifier initialized")
	case "gemini":
		c, err := gemini.New(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			logger.Error("Failed to initialize Gemini classifier", "error", err)
			os.Exit(1)
		}
		external = c
		logger.Info("Gemini classifier initialized")
	default:
		logger.Info("External classifier disabled - keyword rules only")
	}
	categorizer := classify.NewCategorizer(external, classify.Config{
		Timeout:   cfg.ClassifyTimeout,
		Threshold: cfg.ClassifyThreshold,
	})

	thresholds := core.Thresholds{
		Warning:  cfg.WarningThreshold,
		Critical: cfg.CriticalThreshold,
		Severe:   cfg.SevereThreshold,
	}
	aggregator := budget.NewAggregator(ledgerStore, thresholds)
	evaluator := alert.NewEvaluator(ledgerStore, thresholds)
	messages := services.NewMessageService(ledgerStore, categorizer, aggregator, evaluator, alertBus)

	srv := apphttp.NewServer(":"+cfg.Port, messages, aggregator, cfg.SummaryCacheSize, cfg.SummaryCacheTTL)

	// Configure server timeouts and limits
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	// Graceful shutdown handling
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		cancel()
	}()

	logger.Info("Starting tally server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"classifier", cfg.ClassifyProvider)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}
