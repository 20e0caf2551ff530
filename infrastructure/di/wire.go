//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"chat-backend/application/ports"
	"chat-backend/infrastructure/config"
	"chat-backend/infrastructure/identity"
)

// SuperSet is the main provider set containing all providers
var SuperSet = wire.NewSet(
	ProvideLogger,
	ProvideClock,
	ProvideAWSConfig,
	ProvideDynamoDBClient,
	ProvideEventBridgeClient,
	ProvideSupabaseClient,
	ProvideConversationRepository,
	ProvideIdentityVerifier,
	wire.Bind(new(ports.IdentityVerifier), new(*identity.CachingVerifier)),
	ProvideResponseGenerator,
	ProvideEventPublisher,
	ProvideMetrics,
	ProvideCloudWatchClient,
	ProvideServiceMetrics,
	ProvideErrorHandler,
	ProvideIPRateLimiter,
	ProvideUserRateLimiter,
	ProvideConversationService,
	ProvideRouter,
	wire.Struct(new(Container), "*"),
)

// InitializeContainer creates a fully wired container. The returned cleanup
// closes the store and flushes the logger.
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, func(), error) {
	wire.Build(SuperSet)
	return nil, nil, nil // Wire will replace this
}
