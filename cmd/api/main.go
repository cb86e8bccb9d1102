package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zatekoja/patientjourney/internal/api/handlers"
	"github.com/zatekoja/patientjourney/internal/api/middleware"
	"github.com/zatekoja/patientjourney/internal/api/routes"
	"github.com/zatekoja/patientjourney/internal/app"
	"github.com/zatekoja/patientjourney/internal/infrastructure/observability"
	"github.com/zatekoja/patientjourney/pkg/config"
	"github.com/zatekoja/patientjourney/pkg/secrets"
)

func main() {
	// Export credentials from Vault before the environment is read
	vaultResult, err := secrets.Load(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load secrets from Vault: %v\n", err)
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.OTEL.ServiceName, cfg.App.Env, cfg.App.LogLevel)

	if vaultResult.Enabled {
		log.Info().Str("path", vaultResult.Path).Int("loaded", len(vaultResult.Loaded)).Int("skipped", len(vaultResult.Skipped)).Msg("Secrets loaded from Vault")
	}

	// Set up context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry if enabled
	if cfg.OTEL.Enabled && cfg.OTEL.Endpoint != "" {
		shutdown, err := observability.Setup(ctx, cfg.OTEL.ServiceName, cfg.OTEL.ServiceVersion, cfg.OTEL.Endpoint)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to set up OpenTelemetry")
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					log.Error().Err(err).Msg("Error shutting down OpenTelemetry")
				}
			}()
			log.Info().Msg("OpenTelemetry initialized successfully")
		}
	}

	// Initialize metrics
	metrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize metrics")
	}

	application, err := app.New(ctx, cfg, metrics)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer application.Close()

	// Run the queue worker in this process when no separate worker is deployed
	workerDone := make(chan struct{})
	if cfg.Queue.InProcess {
		go func() {
			defer close(workerDone)
			application.Queue.Run(ctx, cfg.Queue.PollInterval)
		}()
	} else {
		close(workerDone)
	}

	// Initialize handlers
	journeyHandler := handlers.NewJourneyHandler(application.Journeys, application.Queue)
	ledgerHandler := handlers.NewLedgerHandler(application.Ledger)
	paymentHandler := handlers.NewPaymentWebhookHandler(application.Ledger, cfg.Payments)
	notificationHandler := handlers.NewNotificationHandler(application.Queue, cfg.App.CronSecret, cfg.Queue.BatchSize)
	sseHandler := handlers.NewSSEHandler(application.EventBus, application.Journeys)

	if cfg.App.CronSecret == "" {
		log.Warn().Msg("APP_CRON_SECRET is not set; the queue process endpoint is unauthenticated")
	}
	if cfg.Payments.WebhookSecret == "" {
		log.Warn().Msg("PAYMENTS_WEBHOOK_SECRET is not set; payment webhooks will be rejected")
	}

	// Set up router
	router := routes.NewRouter(
		journeyHandler,
		ledgerHandler,
		paymentHandler,
		notificationHandler,
		sseHandler,
		middleware.ParseAllowedOrigins(cfg.App.AllowedOrigins),
		metrics,
	)

	// Create HTTP server. WriteTimeout stays 0 so journey streams are not cut.
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router.SetupRoutes(),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		IdleTimeout:       120 * time.Second,
		// Requests inherit ctx so cancelling it ends open journey streams
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("addr", serverAddr).Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Server shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Stop streams and the worker first so Shutdown is not held open by them
	cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during server shutdown")
	}

	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("Notification worker did not stop before the shutdown timeout")
	}

	log.Info().Msg("Server stopped")
}
