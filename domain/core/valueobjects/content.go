package valueobjects

import (
	"strings"
	"unicode/utf8"

	pkgerrors "chat-backend/pkg/errors"
)

// TitleFromMessageLength is the number of characters of the first user
// message kept when it becomes the conversation title.
const TitleFromMessageLength = 50

// Title is a trimmed, non-blank conversation title.
type Title struct {
	value string
}

// NewTitle trims raw and rejects blank input.
func NewTitle(raw string) (Title, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Title{}, pkgerrors.NewValidationError("Chat title is required")
	}
	return Title{value: raw}, nil
}

// TitleFromMessage derives a title from the first user message: the first
// 50 characters, with "..." appended when anything was cut.
func TitleFromMessage(content MessageContent) Title {
	text := content.String()
	if utf8.RuneCountInString(text) <= TitleFromMessageLength {
		return Title{value: text}
	}
	runes := []rune(text)
	return Title{value: string(runes[:TitleFromMessageLength]) + "..."}
}

func (t Title) String() string {
	return t.value
}

// MessageContent is the trimmed, non-blank text of a message.
type MessageContent struct {
	value string
}

// NewMessageContent trims raw and rejects blank input.
func NewMessageContent(raw string) (MessageContent, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return MessageContent{}, pkgerrors.NewValidationError("Message content is required")
	}
	return MessageContent{value: raw}, nil
}

func (c MessageContent) String() string {
	return c.value
}

// Length returns the number of characters in the content.
func (c MessageContent) Length() int {
	return utf8.RuneCountInString(c.value)
}
