package valueobjects

import (
	"errors"

	"github.com/google/uuid"
)

// ConversationID identifies a conversation. Conversations are addressed by
// UUID everywhere; anything else can never match a stored row.
type ConversationID struct {
	value string
}

// NewConversationID creates a new random ConversationID
func NewConversationID() ConversationID {
	return ConversationID{value: uuid.New().String()}
}

// NewConversationIDFromString parses an existing id. Any form uuid.Parse
// accepts (upper case, braces, urn:uuid:) is normalized to the lower-case
// hyphenated form the stores hold.
func NewConversationIDFromString(id string) (ConversationID, error) {
	if id == "" {
		return ConversationID{}, errors.New("conversation ID cannot be empty")
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return ConversationID{}, errors.New("conversation ID must be a valid UUID")
	}
	return ConversationID{value: parsed.String()}, nil
}

// String returns the string representation of the ConversationID
func (id ConversationID) String() string {
	return id.value
}

// Equals checks if two ConversationIDs are equal
func (id ConversationID) Equals(other ConversationID) bool {
	return id.value == other.value
}

// IsZero checks if the ConversationID is the zero value
func (id ConversationID) IsZero() bool {
	return id.value == ""
}

// MessageID identifies a single message.
type MessageID struct {
	value string
}

// NewMessageID creates a new random MessageID
func NewMessageID() MessageID {
	return MessageID{value: uuid.New().String()}
}

// String returns the string representation of the MessageID
func (id MessageID) String() string {
	return id.value
}
