// Command migrate prepares the configured store: it applies the Postgres
// schema or creates the DynamoDB table. Other drivers need no setup.
package main

import (
	"context"
	"log"
	"time"

	"go.uber.org/zap"

	"chat-backend/infrastructure/config"
	"chat-backend/infrastructure/di"
	"chat-backend/infrastructure/persistence/dynamodb"
	"chat-backend/infrastructure/persistence/postgres"
)

const migrateTimeout = 2 * time.Minute

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, cleanup, err := di.ProvideLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), migrateTimeout)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Migration failed", zap.String("store", cfg.StoreDriver), zap.Error(err))
		cleanup()
		log.Fatal(err)
	}
	logger.Info("Migration complete", zap.String("store", cfg.StoreDriver))
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL, postgres.WithMaxConns(1))
		if err != nil {
			return err
		}
		defer pool.Close()
		return postgres.Migrate(ctx, pool)

	case config.StoreDynamoDB:
		awsCfg, err := di.ProvideAWSConfig(ctx, cfg)
		if err != nil {
			return err
		}
		client := di.ProvideDynamoDBClient(awsCfg, cfg)
		repo := dynamodb.NewConversationRepository(client, cfg.DynamoDBTable, di.ProvideClock(), logger)
		return repo.EnsureTable(ctx)

	default:
		logger.Info("Store needs no migration", zap.String("store", cfg.StoreDriver))
		return nil
	}
}
