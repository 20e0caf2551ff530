package events

import (
	"time"
)

// DomainEvent is the base interface for all domain events
// Events represent something that has happened in the past
type DomainEvent interface {
	GetAggregateID() string
	GetEventType() string
	GetUserID() string
	GetTimestamp() time.Time
	GetVersion() int
}

// BaseEvent provides common event fields
type BaseEvent struct {
	AggregateID string    `json:"aggregate_id"`
	EventType   string    `json:"event_type"`
	UserID      string    `json:"user_id"`
	Timestamp   time.Time `json:"timestamp"`
	Version     int       `json:"version"`
}

func (e BaseEvent) GetAggregateID() string  { return e.AggregateID }
func (e BaseEvent) GetEventType() string    { return e.EventType }
func (e BaseEvent) GetUserID() string       { return e.UserID }
func (e BaseEvent) GetTimestamp() time.Time { return e.Timestamp }
func (e BaseEvent) GetVersion() int         { return e.Version }

const (
	TypeConversationCreated = "conversation.created"
	TypeConversationRenamed = "conversation.renamed"
	TypeConversationDeleted = "conversation.deleted"
	TypeMessageExchanged    = "message.exchanged"
)

func newBase(eventType, conversationID, userID string, timestamp time.Time) BaseEvent {
	return BaseEvent{
		AggregateID: conversationID,
		EventType:   eventType,
		UserID:      userID,
		Timestamp:   timestamp,
		Version:     1,
	}
}

// ConversationCreated is raised when a user starts a conversation
type ConversationCreated struct {
	BaseEvent
	Title string `json:"title"`
}

// NewConversationCreated creates a ConversationCreated event
func NewConversationCreated(conversationID, userID, title string, timestamp time.Time) ConversationCreated {
	return ConversationCreated{
		BaseEvent: newBase(TypeConversationCreated, conversationID, userID, timestamp),
		Title:     title,
	}
}

// ConversationRenamed is raised on explicit renames and on the automatic
// rename after the first exchange.
type ConversationRenamed struct {
	BaseEvent
	Title     string `json:"title"`
	Automatic bool   `json:"automatic"`
}

// NewConversationRenamed creates a ConversationRenamed event
func NewConversationRenamed(conversationID, userID, title string, automatic bool, timestamp time.Time) ConversationRenamed {
	return ConversationRenamed{
		BaseEvent: newBase(TypeConversationRenamed, conversationID, userID, timestamp),
		Title:     title,
		Automatic: automatic,
	}
}

// ConversationDeleted is raised after a conversation and its messages are gone
type ConversationDeleted struct {
	BaseEvent
}

// NewConversationDeleted creates a ConversationDeleted event
func NewConversationDeleted(conversationID, userID string, timestamp time.Time) ConversationDeleted {
	return ConversationDeleted{
		BaseEvent: newBase(TypeConversationDeleted, conversationID, userID, timestamp),
	}
}

// MessageExchanged is raised once a user message has been answered
type MessageExchanged struct {
	BaseEvent
	UserMessageID      string `json:"user_message_id"`
	AssistantMessageID string `json:"assistant_message_id"`
	Model              string `json:"model"`
	HistorySize        int    `json:"history_size"`
}

// NewMessageExchanged creates a MessageExchanged event
func NewMessageExchanged(conversationID, userID, userMessageID, assistantMessageID, model string, historySize int, timestamp time.Time) MessageExchanged {
	return MessageExchanged{
		BaseEvent:          newBase(TypeMessageExchanged, conversationID, userID, timestamp),
		UserMessageID:      userMessageID,
		AssistantMessageID: assistantMessageID,
		Model:              model,
		HistorySize:        historySize,
	}
}
