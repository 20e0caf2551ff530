// Package generator produces assistant replies. The stub stands in for a
// language model: it waits a random delay and answers from a fixed set.
package generator

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"chat-backend/application/ports"
	"chat-backend/domain/core/valueobjects"
)

const quoteLength = 40

var cannedReplies = []string{
	"That's an interesting point. Could you tell me a bit more about what you have in mind?",
	"I understand. Here is one way to think about it: break the problem into smaller steps and tackle them one at a time.",
	"Good question. There are a few angles to consider, and the right one depends on what you want to achieve.",
	"Thanks for sharing that. I'd suggest starting with the simplest option and iterating from there.",
	"I see what you mean. Let's look at the trade-offs before settling on an approach.",
	"That makes sense. If you can share an example, I can give you a more specific answer.",
}

var greetings = []string{"hi", "hello", "hey", "good morning", "good afternoon", "good evening"}

// StubConfig controls the stub's simulated latency
type StubConfig struct {
	Model    string
	MinDelay time.Duration
	MaxDelay time.Duration
}

// StubGenerator implements ports.ResponseGenerator with canned replies
type StubGenerator struct {
	config StubConfig
	clock  ports.Clock
	logger *zap.Logger

	mu   sync.Mutex
	rand *rand.Rand
}

// NewStubGenerator creates a stub generator. A zero seed uses the current time.
func NewStubGenerator(config StubConfig, clock ports.Clock, logger *zap.Logger, seed int64) *StubGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if config.MaxDelay < config.MinDelay {
		config.MaxDelay = config.MinDelay
	}
	return &StubGenerator{
		config: config,
		clock:  clock,
		logger: logger,
		rand:   rand.New(rand.NewSource(seed)),
	}
}

var _ ports.ResponseGenerator = (*StubGenerator)(nil)

// Generate waits the simulated delay, returning early with ctx.Err() if the
// context ends first.
func (g *StubGenerator) Generate(ctx context.Context, req ports.GenerateRequest) (*ports.GeneratedResponse, error) {
	delay, base := g.pick()

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	reply := frame(base, req)
	g.logger.Debug("Generated stub reply",
		zap.Duration("delay", delay),
		zap.Int("history", len(req.History)),
	)

	return &ports.GeneratedResponse{
		ID:        valueobjects.NewMessageID().String(),
		Message:   reply,
		Timestamp: g.clock.Now(),
		Model:     g.config.Model,
	}, nil
}

func (g *StubGenerator) pick() (time.Duration, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delay := g.config.MinDelay
	if spread := g.config.MaxDelay - g.config.MinDelay; spread > 0 {
		delay += time.Duration(g.rand.Int63n(int64(spread) + 1))
	}
	return delay, cannedReplies[g.rand.Intn(len(cannedReplies))]
}

// frame adds context to a canned reply: a greeting, a short quote of the
// message, and a note about earlier turns.
func frame(base string, req ports.GenerateRequest) string {
	var b strings.Builder

	if isGreeting(req.Message) {
		b.WriteString("Hello! ")
	}

	if quote := shortQuote(req.Message); quote != "" {
		fmt.Fprintf(&b, "You said \"%s\". ", quote)
	}

	b.WriteString(base)

	// The current message is already part of history.
	if prior := len(req.History) - 1; prior > 0 {
		fmt.Fprintf(&b, " (Taking into account the %d earlier messages in this conversation.)", prior)
	}
	return b.String()
}

func isGreeting(message string) bool {
	lower := strings.ToLower(strings.TrimSpace(message))
	for _, g := range greetings {
		if lower == g || strings.HasPrefix(lower, g+" ") || strings.HasPrefix(lower, g+",") || strings.HasPrefix(lower, g+"!") {
			return true
		}
	}
	return false
}

func shortQuote(message string) string {
	message = strings.Join(strings.Fields(message), " ")
	runes := []rune(message)
	if len(runes) == 0 {
		return ""
	}
	if len(runes) > quoteLength {
		return string(runes[:quoteLength]) + "..."
	}
	return message
}
