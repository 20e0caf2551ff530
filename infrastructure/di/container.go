package di

import (
	"context"
	"time"

	"go.uber.org/zap"

	"chat-backend/application/ports"
	"chat-backend/application/services"
	"chat-backend/infrastructure/config"
	"chat-backend/infrastructure/identity"
	"chat-backend/interfaces/http/rest"
	"chat-backend/pkg/auth"
	"chat-backend/pkg/observability"
)

// Container holds all application dependencies
type Container struct {
	Config        *config.Config
	Logger        *zap.Logger
	Store         ports.ConversationRepository
	Generator     ports.ResponseGenerator
	Publisher     ports.EventPublisher
	IdentityCache *identity.CachingVerifier
	Service       *services.ConversationService
	Metrics       *observability.Collector
	IPLimiter     *auth.IPRateLimiter
	UserLimiter   *auth.UserRateLimiter
	Router        *rest.Router
}

// StartSweeper periodically evicts idle rate limiter windows and expired
// identity cache entries until ctx is done.
func (c *Container) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.IPLimiter.Sweep()
				c.UserLimiter.Sweep()
				c.IdentityCache.Sweep()
			}
		}
	}()
}
