package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"chat-backend/application/ports"
	"chat-backend/domain/core/entities"
	"chat-backend/domain/core/valueobjects"
	"chat-backend/domain/events"
	pkgerrors "chat-backend/pkg/errors"
)

// DefaultHistorySize is how many trailing messages are handed to the generator.
// It is also the upper bound.
const DefaultHistorySize = 10

// Metrics receives business counters from the service
type Metrics interface {
	IncConversationsCreated()
	IncConversationsDeleted()
	IncMessagesExchanged()
	ObserveGeneration(d time.Duration, errType string)
}

type noopMetrics struct{}

func (noopMetrics) IncConversationsCreated()                {}
func (noopMetrics) IncConversationsDeleted()                {}
func (noopMetrics) IncMessagesExchanged()                   {}
func (noopMetrics) ObserveGeneration(time.Duration, string) {}

// ExchangeResult is the outcome of SendMessage
type ExchangeResult struct {
	UserMessage      *entities.Message
	AssistantMessage *entities.Message
}

// ConversationService implements the chat use cases on top of the store and
// the response generator.
type ConversationService struct {
	repo        ports.ConversationRepository
	generator   ports.ResponseGenerator
	publisher   ports.EventPublisher
	clock       ports.Clock
	metrics     Metrics
	logger      *zap.Logger
	historySize int
	locks       *keyedMutex
}

// NewConversationService creates a new conversation service. A nil metrics
// disables counters. historySize is clamped to (0, DefaultHistorySize]; values
// outside it fall back to DefaultHistorySize.
func NewConversationService(
	repo ports.ConversationRepository,
	generator ports.ResponseGenerator,
	publisher ports.EventPublisher,
	clock ports.Clock,
	metrics Metrics,
	logger *zap.Logger,
	historySize int,
) *ConversationService {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if historySize <= 0 || historySize > DefaultHistorySize {
		historySize = DefaultHistorySize
	}
	return &ConversationService{
		repo:        repo,
		generator:   generator,
		publisher:   publisher,
		clock:       clock,
		metrics:     metrics,
		logger:      logger,
		historySize: historySize,
		locks:       newKeyedMutex(),
	}
}

// CreateConversation starts a new conversation with the given title
func (s *ConversationService) CreateConversation(ctx context.Context, ownerID, rawTitle string) (*entities.Conversation, error) {
	title, err := valueobjects.NewTitle(rawTitle)
	if err != nil {
		return nil, err
	}

	conv := entities.NewConversation(ownerID, title, s.clock.Now())
	if err := s.repo.Create(ctx, conv); err != nil {
		return nil, err
	}

	s.metrics.IncConversationsCreated()
	s.publish(ctx, events.NewConversationCreated(conv.ID, ownerID, conv.Title, conv.CreatedAt))
	s.logger.Info("Chat created",
		zap.String("chat_id", conv.ID),
		zap.String("user_id", ownerID),
	)
	return conv, nil
}

// ListConversations returns the owner's conversations, most recent first
func (s *ConversationService) ListConversations(ctx context.Context, ownerID string) ([]*entities.Conversation, error) {
	return s.repo.List(ctx, ownerID)
}

// GetConversation returns a conversation together with its messages
func (s *ConversationService) GetConversation(ctx context.Context, id, ownerID string) (*entities.Conversation, []*entities.Message, error) {
	id, err := validateID(id)
	if err != nil {
		return nil, nil, err
	}

	conv, err := s.repo.Get(ctx, id, ownerID)
	if err != nil {
		return nil, nil, translate(err)
	}
	msgs, err := s.repo.ListMessages(ctx, id, ownerID)
	if err != nil {
		return nil, nil, translate(err)
	}
	return conv, msgs, nil
}

// RenameConversation replaces the title of a conversation
func (s *ConversationService) RenameConversation(ctx context.Context, id, ownerID, rawTitle string) (*entities.Conversation, error) {
	title, err := valueobjects.NewTitle(rawTitle)
	if err != nil {
		return nil, err
	}
	id, err = validateID(id)
	if err != nil {
		return nil, err
	}

	conv, err := s.repo.Rename(ctx, id, ownerID, title)
	if err != nil {
		return nil, translate(err)
	}

	s.publish(ctx, events.NewConversationRenamed(conv.ID, ownerID, conv.Title, false, conv.UpdatedAt))
	return conv, nil
}

// DeleteConversation removes a conversation and all of its messages
func (s *ConversationService) DeleteConversation(ctx context.Context, id, ownerID string) error {
	id, err := validateID(id)
	if err != nil {
		return err
	}
	if _, err := s.repo.Get(ctx, id, ownerID); err != nil {
		return translate(err)
	}

	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.repo.Delete(ctx, id, ownerID); err != nil {
		return translate(err)
	}

	s.metrics.IncConversationsDeleted()
	s.publish(ctx, events.NewConversationDeleted(id, ownerID, s.clock.Now()))
	s.logger.Info("Chat deleted",
		zap.String("chat_id", id),
		zap.String("user_id", ownerID),
	)
	return nil
}

// ListMessages returns a conversation's messages oldest first
func (s *ConversationService) ListMessages(ctx context.Context, id, ownerID string) ([]*entities.Message, error) {
	id, err := validateID(id)
	if err != nil {
		return nil, err
	}
	msgs, err := s.repo.ListMessages(ctx, id, ownerID)
	if err != nil {
		return nil, translate(err)
	}
	return msgs, nil
}

// SendMessage stores the user's message, generates a reply from the recent
// history and stores that too. The first exchange of a conversation renames
// it after the user's message. Each step is persisted as it happens, so a
// failed generation leaves the user message in place.
func (s *ConversationService) SendMessage(ctx context.Context, id, ownerID, text string) (*ExchangeResult, error) {
	content, err := valueobjects.NewMessageContent(text)
	if err != nil {
		return nil, err
	}
	id, err = validateID(id)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := s.repo.Get(ctx, id, ownerID); err != nil {
		return nil, translate(err)
	}

	userMsg := entities.NewMessage(id, valueobjects.RoleUser, content.String(), s.clock.Now())
	if err := s.repo.AppendMessage(ctx, userMsg); err != nil {
		return nil, translate(err)
	}
	if err := s.repo.Touch(ctx, id, ownerID); err != nil {
		return nil, translate(err)
	}

	all, err := s.repo.ListMessages(ctx, id, ownerID)
	if err != nil {
		return nil, translate(err)
	}
	firstExchange := len(all) == 1
	history := entities.LastN(all, s.historySize)

	start := time.Now()
	reply, err := s.generator.Generate(ctx, ports.GenerateRequest{
		Message: content.String(),
		History: history,
	})
	if err != nil {
		s.metrics.ObserveGeneration(time.Since(start), errorType(err))
		s.logger.Warn("Response generation failed",
			zap.String("chat_id", id),
			zap.Error(err),
		)
		return nil, err
	}
	s.metrics.ObserveGeneration(time.Since(start), "")

	assistantMsg := entities.NewMessage(id, valueobjects.RoleAssistant, reply.Message, s.clock.Now())
	if err := s.repo.AppendMessage(ctx, assistantMsg); err != nil {
		return nil, translate(err)
	}
	if err := s.repo.Touch(ctx, id, ownerID); err != nil {
		return nil, translate(err)
	}

	pending := []events.DomainEvent{
		events.NewMessageExchanged(id, ownerID, userMsg.ID, assistantMsg.ID, reply.Model, len(history), assistantMsg.CreatedAt),
	}

	if firstExchange {
		title := valueobjects.TitleFromMessage(content)
		renamed, err := s.repo.Rename(ctx, id, ownerID, title)
		if err != nil {
			return nil, translate(err)
		}
		pending = append(pending, events.NewConversationRenamed(id, ownerID, renamed.Title, true, renamed.UpdatedAt))
	}

	s.metrics.IncMessagesExchanged()
	s.publish(ctx, pending...)
	s.logger.Debug("Message exchanged",
		zap.String("chat_id", id),
		zap.Int("history", len(history)),
		zap.Bool("first_exchange", firstExchange),
	)

	return &ExchangeResult{UserMessage: userMsg, AssistantMessage: assistantMsg}, nil
}

// Ping reports whether the store is reachable
func (s *ConversationService) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func (s *ConversationService) publish(ctx context.Context, evts ...events.DomainEvent) {
	if s.publisher == nil || len(evts) == 0 {
		return
	}
	if err := s.publisher.PublishBatch(ctx, evts); err != nil {
		s.logger.Warn("Failed to publish events",
			zap.String("event_type", evts[0].GetEventType()),
			zap.Int("count", len(evts)),
			zap.Error(err),
		)
	}
}

// validateID returns the canonical form of id, or rejects ids that cannot
// name a conversation. Those are reported as not found, the same as ids that
// exist but belong to someone else.
func validateID(id string) (string, error) {
	cid, err := valueobjects.NewConversationIDFromString(id)
	if err != nil {
		return "", pkgerrors.NewNotFoundError("Chat")
	}
	return cid.String(), nil
}

func translate(err error) error {
	if errors.Is(err, ports.ErrNotFound) {
		return pkgerrors.NewNotFoundError("Chat")
	}
	return err
}

func errorType(err error) string {
	if appErr := pkgerrors.GetAppError(err); appErr != nil {
		return string(appErr.Type)
	}
	if errors.Is(err, context.Canceled) {
		return "CANCELED"
	}
	return "UNKNOWN"
}
