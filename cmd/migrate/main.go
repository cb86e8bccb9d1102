package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zatekoja/patientjourney/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/patientjourney/internal/infrastructure/observability"
	"github.com/zatekoja/patientjourney/pkg/config"
	"github.com/zatekoja/patientjourney/pkg/secrets"
)

func main() {
	vaultResult, err := secrets.Load(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load secrets from Vault: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.OTEL.ServiceName+"-migrate", cfg.App.Env, cfg.App.LogLevel)

	if vaultResult.Enabled {
		log.Info().Str("path", vaultResult.Path).Int("loaded", len(vaultResult.Loaded)).Int("skipped", len(vaultResult.Skipped)).Msg("Secrets loaded from Vault")
	}

	pgClient, err := postgres.NewClient(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize PostgreSQL client")
	}
	defer pgClient.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := pgClient.Migrate(ctx); err != nil {
		log.Error().Err(err).Msg("Migration failed")
		pgClient.Close()
		os.Exit(1)
	}
	log.Info().Msg("Migrations applied")
}
