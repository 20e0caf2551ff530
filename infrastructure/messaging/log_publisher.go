// Package messaging holds event publishers that need no external broker.
package messaging

import (
	"context"

	"go.uber.org/zap"

	"chat-backend/application/ports"
	"chat-backend/domain/events"
)

// LogPublisher writes domain events to the log. Used when no event bus is
// configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

var _ ports.EventPublisher = (*LogPublisher)(nil)

func (p *LogPublisher) Publish(_ context.Context, event events.DomainEvent) error {
	p.logger.Info("Domain event",
		zap.String("event_type", event.GetEventType()),
		zap.String("chat_id", event.GetAggregateID()),
		zap.String("user_id", event.GetUserID()),
		zap.Time("timestamp", event.GetTimestamp()),
	)
	return nil
}

func (p *LogPublisher) PublishBatch(ctx context.Context, domainEvents []events.DomainEvent) error {
	for _, event := range domainEvents {
		_ = p.Publish(ctx, event)
	}
	return nil
}
