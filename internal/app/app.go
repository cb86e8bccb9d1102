// Package app assembles the services from configuration for the binaries
// under cmd/.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zatekoja/patientjourney/internal/adapters/cache"
	"github.com/zatekoja/patientjourney/internal/adapters/database"
	"github.com/zatekoja/patientjourney/internal/adapters/events"
	"github.com/zatekoja/patientjourney/internal/adapters/memory"
	"github.com/zatekoja/patientjourney/internal/application/services"
	"github.com/zatekoja/patientjourney/internal/domain/providers"
	"github.com/zatekoja/patientjourney/internal/domain/repositories"
	"github.com/zatekoja/patientjourney/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/patientjourney/internal/infrastructure/clients/redis"
	"github.com/zatekoja/patientjourney/internal/infrastructure/notifications"
	"github.com/zatekoja/patientjourney/internal/infrastructure/observability"
	"github.com/zatekoja/patientjourney/pkg/config"
	"github.com/zatekoja/patientjourney/pkg/retry"
)

// App holds the wired services and the resources they depend on
type App struct {
	Journeys *services.JourneyService
	Ledger   *services.LedgerService
	Queue    *services.NotificationQueue
	EventBus providers.EventBus
	Metrics  *observability.Metrics

	closers []func() error
}

// repositoriesSet is one storage backend's view of every repository
type repositoriesSet struct {
	journeys      repositories.JourneyRepository
	events        repositories.EventRepository
	quotes        repositories.QuoteRepository
	bookings      repositories.BookingRepository
	notifications repositories.NotificationRepository
	contacts      repositories.ContactRepository
}

// New connects to the configured backends and builds the services.
// Redis and RabbitMQ are optional; failures there are logged and the
// process continues without them.
func New(ctx context.Context, cfg *config.Config, metrics *observability.Metrics) (*App, error) {
	a := &App{Metrics: metrics}

	repos, err := a.openStorage(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewClient(&cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Msg("Redis unavailable; running without journey cache and with a local event bus")
			redisClient = nil
		} else {
			a.closers = append(a.closers, redisClient.Close)
		}
	}

	if redisClient != nil {
		repos.journeys = database.NewCachedJourneyAdapter(repos.journeys, cache.NewRedisAdapter(redisClient), int(cfg.Redis.CacheTTL.Seconds()))
		a.EventBus = events.NewRedisEventBus(redisClient)
		log.Info().Msg("Journey reads cached in Redis; events published over Redis Pub/Sub")
	} else {
		if cfg.Events.HasPublisher("redis") {
			log.Warn().Msg("EVENTS_PUBLISHERS includes redis but Redis is not available; using the local event bus")
		}
		a.EventBus = events.NewLocalEventBus()
	}
	a.closers = append(a.closers, a.EventBus.Close)

	publisher := events.MultiPublisher{events.NewBusPublisher(a.EventBus)}
	if cfg.Events.HasPublisher("rabbitmq") {
		amqpPublisher, err := dialAMQP(ctx, cfg.RabbitMQ)
		if err != nil {
			log.Warn().Err(err).Msg("RabbitMQ unavailable; journey events will not be published to AMQP")
		} else {
			publisher = append(publisher, amqpPublisher)
			a.closers = append(a.closers, amqpPublisher.Close)
			log.Info().Str("exchange", cfg.RabbitMQ.Exchange).Msg("Publishing journey events to RabbitMQ")
		}
	}

	dispatcher := services.NewDispatchCoordinator(repos.notifications, nil)
	a.Journeys = services.NewJourneyService(repos.journeys, repos.events, dispatcher, publisher, metrics)
	a.Ledger = services.NewLedgerService(repos.journeys, repos.quotes, repos.bookings, a.Journeys, metrics)

	logger := log.With().Str("component", "notifications").Logger()
	a.Queue = services.NewNotificationQueue(
		repos.notifications,
		repos.contacts,
		a.Journeys,
		notifications.NewTemplateRegistry(),
		notifications.NewEmailSender(cfg.Email, nil, &logger),
		notifications.NewWhatsAppSender(cfg.WhatsApp, nil, &logger),
		services.QueueOptions{
			BatchSize:   cfg.Queue.BatchSize,
			SendTimeout: cfg.Queue.SendTimeout,
			ClaimTTL:    cfg.Queue.ClaimTTL,
			PortalURL:   cfg.App.PortalURL,
		},
		metrics,
	)
	if !cfg.Email.Configured() {
		log.Warn().Msg("RESEND_API_KEY is not set; email notifications will fail")
	}
	if !cfg.WhatsApp.Configured() {
		log.Warn().Msg("WhatsApp credentials are not set; WhatsApp notifications will fail")
	}

	return a, nil
}

func (a *App) openStorage(ctx context.Context, cfg *config.Config) (*repositoriesSet, error) {
	if cfg.Storage.Driver == "memory" {
		log.Warn().Msg("Using in-memory storage; data is lost on restart")
		store := memory.NewStore()
		return &repositoriesSet{
			journeys:      store,
			events:        store,
			quotes:        store.Quotes(),
			bookings:      store.Bookings(),
			notifications: store.Notifications(),
			contacts:      store,
		}, nil
	}

	pgClient, err := postgres.NewClient(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL client: %w", err)
	}
	a.closers = append(a.closers, pgClient.Close)

	if cfg.Storage.AutoMigrate {
		if err := pgClient.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to apply migrations: %w", err)
		}
	}

	db := pgClient.SQLX()
	return &repositoriesSet{
		journeys:      database.NewJourneyAdapter(pgClient),
		events:        database.NewEventAdapter(pgClient),
		quotes:        database.NewQuoteAdapter(pgClient),
		bookings:      database.NewBookingAdapter(pgClient),
		notifications: database.NewNotificationAdapter(db),
		contacts:      database.NewContactAdapter(db),
	}, nil
}

func dialAMQP(ctx context.Context, cfg config.RabbitMQConfig) (*events.AMQPPublisher, error) {
	var publisher *events.AMQPPublisher
	err := retry.DoWithLog(ctx, retry.DefaultConfig(), "RabbitMQ",
		func() error {
			p, err := events.NewAMQPPublisher(cfg.URL, cfg.Exchange)
			if err != nil {
				return err
			}
			publisher = p
			return nil
		},
		func(attempt int, err error, nextDelay time.Duration) {
			log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", nextDelay).Msg("RabbitMQ connection attempt failed")
		},
	)
	return publisher, err
}

// Close releases connections in reverse order of acquisition
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Error().Err(err).Msg("Error during shutdown")
		}
	}
	a.closers = nil
}
