package di

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscloudwatch "github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	supa "github.com/supabase-community/supabase-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"chat-backend/application/ports"
	"chat-backend/application/services"
	"chat-backend/infrastructure/config"
	"chat-backend/infrastructure/generator"
	"chat-backend/infrastructure/identity"
	"chat-backend/infrastructure/messaging"
	"chat-backend/infrastructure/messaging/eventbridge"
	"chat-backend/infrastructure/persistence/dynamodb"
	"chat-backend/infrastructure/persistence/memory"
	"chat-backend/infrastructure/persistence/postgres"
	"chat-backend/infrastructure/persistence/supabase"
	"chat-backend/interfaces/http/rest"
	"chat-backend/pkg/auth"
	pkgerrors "chat-backend/pkg/errors"
	"chat-backend/pkg/observability"
)

const metricsNamespace = "chat"

// ProvideLogger creates a new logger instance
func ProvideLogger(cfg *config.Config) (*zap.Logger, func(), error) {
	var zcfg zap.Config
	if cfg.IsProduction() {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}

	if cfg.LogLevel != "" {
		level, err := zapcore.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, nil, fmt.Errorf("parse LOG_LEVEL: %w", err)
		}
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}

	logger, err := zcfg.Build()
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		_ = logger.Sync()
	}
	return logger, cleanup, nil
}

// ProvideClock returns the wall clock
func ProvideClock() ports.Clock {
	return ports.SystemClock{}
}

// ProvideAWSConfig creates AWS configuration
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
	)
}

// ProvideDynamoDBClient creates a DynamoDB client. DYNAMODB_ENDPOINT points it
// at DynamoDB Local.
func ProvideDynamoDBClient(awsCfg aws.Config, cfg *config.Config) *awsdynamodb.Client {
	return awsdynamodb.NewFromConfig(awsCfg, func(o *awsdynamodb.Options) {
		if cfg.DynamoDBEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.DynamoDBEndpoint)
		}
	})
}

// ProvideEventBridgeClient creates an EventBridge client
func ProvideEventBridgeClient(awsCfg aws.Config) *awseventbridge.Client {
	return awseventbridge.NewFromConfig(awsCfg)
}

// ProvideSupabaseClient creates the Supabase client, or nil when no project
// is configured.
func ProvideSupabaseClient(cfg *config.Config) (*supa.Client, error) {
	if cfg.SupabaseURL == "" || cfg.SupabaseKey() == "" {
		return nil, nil
	}
	client, err := supa.NewClient(cfg.SupabaseURL, cfg.SupabaseKey(), nil)
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return client, nil
}

// ProvideConversationRepository selects the store named by STORE_DRIVER
func ProvideConversationRepository(
	ctx context.Context,
	cfg *config.Config,
	dynamoClient *awsdynamodb.Client,
	supabaseClient *supa.Client,
	clock ports.Clock,
	logger *zap.Logger,
) (ports.ConversationRepository, func(), error) {
	logger.Info("Initializing conversation store", zap.String("driver", cfg.StoreDriver))

	switch cfg.StoreDriver {
	case config.StoreMemory:
		return memory.NewConversationRepository(clock), func() {}, nil

	case config.StorePostgres:
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL, postgres.WithMaxConns(cfg.DatabaseMaxConns))
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewConversationRepository(pool, clock, logger), pool.Close, nil

	case config.StoreSupabase:
		if supabaseClient == nil {
			return nil, nil, fmt.Errorf("store driver %q needs a Supabase project", cfg.StoreDriver)
		}
		return supabase.NewConversationRepository(supabaseClient, clock, logger), func() {}, nil

	case config.StoreDynamoDB:
		return dynamodb.NewConversationRepository(dynamoClient, cfg.DynamoDBTable, clock, logger), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// ProvideIdentityVerifier builds the verifier for AUTH_MODE behind a short
// lived cache of accepted tokens.
func ProvideIdentityVerifier(
	cfg *config.Config,
	supabaseClient *supa.Client,
	clock ports.Clock,
	logger *zap.Logger,
) (*identity.CachingVerifier, error) {
	var base ports.IdentityVerifier

	switch cfg.AuthMode {
	case config.AuthSupabase:
		if supabaseClient == nil {
			return nil, fmt.Errorf("auth mode %q needs a Supabase project", cfg.AuthMode)
		}
		base = identity.NewSupabaseVerifier(supabaseClient, cfg.AuthTimeout, logger)

	case config.AuthJWT:
		validator, err := auth.NewJWTValidator(auth.JWTConfig{
			SecretKey: cfg.SupabaseJWTSecret,
			Audience:  auth.SupabaseAudience,
		})
		if err != nil {
			return nil, err
		}
		base = identity.NewJWTVerifier(validator, logger)

	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.AuthMode)
	}

	return identity.NewCachingVerifier(base, cfg.AuthCacheTTL, clock, logger), nil
}

// ProvideResponseGenerator wraps the stub generator in the timeout and
// circuit breaker layer.
func ProvideResponseGenerator(cfg *config.Config, clock ports.Clock, logger *zap.Logger) ports.ResponseGenerator {
	stub := generator.NewStubGenerator(generator.StubConfig{
		Model:    cfg.GeneratorModel,
		MinDelay: cfg.GeneratorMinDelay,
		MaxDelay: cfg.GeneratorMaxDelay,
	}, clock, logger, 0)

	return generator.NewResilientGenerator(stub, generator.BreakerConfig{
		Name:         "response-generator",
		Timeout:      cfg.GeneratorTimeout,
		OpenTimeout:  cfg.BreakerOpenTimeout,
		FailureRatio: cfg.BreakerFailureRatio,
		MinRequests:  uint32(cfg.BreakerMinRequests),
	}, logger)
}

// ProvideEventPublisher sends domain events to EventBridge when a bus is
// configured and to the log otherwise.
func ProvideEventPublisher(cfg *config.Config, client *awseventbridge.Client, logger *zap.Logger) ports.EventPublisher {
	if cfg.EventBusName == "" {
		return messaging.NewLogPublisher(logger)
	}
	return eventbridge.NewPublisher(client, cfg.EventBusName, cfg.EventSource, logger)
}

// ProvideMetrics creates the Prometheus collector
func ProvideMetrics() *observability.Collector {
	return observability.NewCollector(metricsNamespace)
}

// ProvideCloudWatchClient creates a CloudWatch client
func ProvideCloudWatchClient(awsCfg aws.Config) *awscloudwatch.Client {
	return awscloudwatch.NewFromConfig(awsCfg)
}

// ProvideServiceMetrics picks where the service reports its counters:
// CloudWatch on Lambda, the Prometheus collector everywhere else.
func ProvideServiceMetrics(
	cfg *config.Config,
	collector *observability.Collector,
	client *awscloudwatch.Client,
	logger *zap.Logger,
) services.Metrics {
	if !cfg.IsLambda {
		return collector
	}
	namespace := fmt.Sprintf("Chat/%s", cfg.Environment)
	logger.Info("Publishing service metrics to CloudWatch", zap.String("namespace", namespace))
	return observability.NewCloudWatchMetrics(client, namespace, logger)
}

// ProvideErrorHandler creates the HTTP error renderer. Development builds
// include causes in the response details.
func ProvideErrorHandler(cfg *config.Config, logger *zap.Logger) *pkgerrors.ErrorHandler {
	return pkgerrors.NewErrorHandler(logger, cfg.IsDevelopment())
}

// ProvideIPRateLimiter creates the per-address limiter
func ProvideIPRateLimiter(cfg *config.Config) *auth.IPRateLimiter {
	return auth.NewIPRateLimiter(cfg.RateLimitPerIP)
}

// ProvideUserRateLimiter creates the per-user limiter
func ProvideUserRateLimiter(cfg *config.Config) *auth.UserRateLimiter {
	return auth.NewUserRateLimiter(cfg.RateLimitPerUser)
}

// ProvideConversationService creates the chat use cases
func ProvideConversationService(
	cfg *config.Config,
	repo ports.ConversationRepository,
	gen ports.ResponseGenerator,
	publisher ports.EventPublisher,
	clock ports.Clock,
	metrics services.Metrics,
	logger *zap.Logger,
) *services.ConversationService {
	return services.NewConversationService(repo, gen, publisher, clock, metrics, logger, cfg.HistorySize)
}

// ProvideRouter creates the HTTP router
func ProvideRouter(
	cfg *config.Config,
	service *services.ConversationService,
	repo ports.ConversationRepository,
	verifier ports.IdentityVerifier,
	metrics *observability.Collector,
	errHandler *pkgerrors.ErrorHandler,
	ipLimiter *auth.IPRateLimiter,
	userLimiter *auth.UserRateLimiter,
	clock ports.Clock,
	logger *zap.Logger,
) *rest.Router {
	return rest.NewRouter(cfg, service, repo, verifier, metrics, errHandler, ipLimiter, userLimiter, clock, logger)
}
