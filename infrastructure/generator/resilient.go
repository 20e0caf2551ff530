package generator

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"chat-backend/application/ports"
	pkgerrors "chat-backend/pkg/errors"
)

// BreakerConfig holds configuration for the generator's circuit breaker
type BreakerConfig struct {
	Name         string
	Timeout      time.Duration // per-call deadline
	OpenTimeout  time.Duration // how long the breaker stays open before probing
	FailureRatio float64
	MinRequests  uint32
}

// ResilientGenerator bounds every call with a timeout and trips a circuit
// breaker when the wrapped generator keeps failing. Calls are not retried.
type ResilientGenerator struct {
	next    ports.ResponseGenerator
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewResilientGenerator wraps next
func NewResilientGenerator(next ports.ResponseGenerator, config BreakerConfig, logger *zap.Logger) *ResilientGenerator {
	if config.Name == "" {
		config.Name = "response-generator"
	}

	settings := gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: 1,
		Timeout:     config.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < config.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= config.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		// A caller hanging up is not the generator's fault.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}

	return &ResilientGenerator{
		next:    next,
		timeout: config.Timeout,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

var _ ports.ResponseGenerator = (*ResilientGenerator)(nil)

func (g *ResilientGenerator) Generate(ctx context.Context, req ports.GenerateRequest) (*ports.GeneratedResponse, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	result, err := g.breaker.Execute(func() (interface{}, error) {
		return g.next.Generate(ctx, req)
	})
	if err != nil {
		return nil, g.translate(err)
	}
	return result.(*ports.GeneratedResponse), nil
}

// State reports the breaker state, e.g. for readiness checks
func (g *ResilientGenerator) State() gobreaker.State {
	return g.breaker.State()
}

func (g *ResilientGenerator) translate(err error) error {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		g.logger.Warn("Generator call rejected by circuit breaker", zap.Error(err))
		return pkgerrors.NewUnavailableError("Response generator").WithCause(err)
	case errors.Is(err, context.DeadlineExceeded):
		g.logger.Warn("Generator call timed out", zap.Duration("timeout", g.timeout))
		return pkgerrors.NewTimeoutError("Response generation").WithCause(err)
	case errors.Is(err, context.Canceled), pkgerrors.IsAppError(err):
		return err
	default:
		g.logger.Error("Generator call failed", zap.Error(err))
		return pkgerrors.NewExternalError("Response generator", err)
	}
}
