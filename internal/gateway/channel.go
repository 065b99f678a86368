// Package gateway bridges chat channels (Telegram et al.) to the control
// plane. Concrete adapters live with their transports; the control plane
// only sees the Channel interface and the bus subjects.
package gateway

import (
	"context"
	"log/slog"
	"sync"
)

// Channel is one chat transport. Adapters implement it; the bridge fans
// questions and notifications out over registered channels.
type Channel interface {
	Name() string
	SendMessage(ctx context.Context, chatID, text string) error
	SendPhoto(ctx context.Context, chatID, caption string, png []byte) error
	// AskQuestion surfaces a question and blocks for the reply, returning
	// "" when the channel has no answer.
	AskQuestion(ctx context.Context, chatID, question string) (string, error)
	// OnMessage registers a callback for unsolicited inbound messages.
	OnMessage(fn func(chatID, messageID, text string))
}

// Bridge holds the registered channels.
type Bridge struct {
	mu       sync.RWMutex
	channels map[string]Channel
	logger   *slog.Logger
}

func NewBridge(logger *slog.Logger) *Bridge {
	return &Bridge{
		channels: make(map[string]Channel),
		logger:   logger,
	}
}

// Register adds a channel, replacing any previous adapter with the same name.
func (b *Bridge) Register(ch Channel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels[ch.Name()] = ch
}

// Get returns a channel by name.
func (b *Bridge) Get(name string) (Channel, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ch, ok := b.channels[name]
	return ch, ok
}

// Names returns the registered channel names.
func (b *Bridge) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.channels))
	for name := range b.channels {
		names = append(names, name)
	}
	return names
}

// AskFirst iterates channels in registration-map order and returns the
// first non-empty answer. This is deliberately sequential, not a
// concurrent race: the first channel to produce an answer wins and later
// channels are never asked.
func (b *Bridge) AskFirst(ctx context.Context, chatID, question string) (answer, channel string) {
	b.mu.RLock()
	channels := make([]Channel, 0, len(b.channels))
	for _, ch := range b.channels {
		channels = append(channels, ch)
	}
	b.mu.RUnlock()

	for _, ch := range channels {
		ans, err := ch.AskQuestion(ctx, chatID, question)
		if err != nil {
			b.logger.Warn("channel ask failed",
				slog.String("channel", ch.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if ans != "" {
			return ans, ch.Name()
		}
	}
	return "", ""
}

// Broadcast sends a text to every channel, best-effort.
func (b *Bridge) Broadcast(ctx context.Context, chatID, text string) {
	b.mu.RLock()
	channels := make([]Channel, 0, len(b.channels))
	for _, ch := range b.channels {
		channels = append(channels, ch)
	}
	b.mu.RUnlock()

	for _, ch := range channels {
		if err := ch.SendMessage(ctx, chatID, text); err != nil {
			b.logger.Warn("channel send failed",
				slog.String("channel", ch.Name()),
				slog.String("error", err.Error()),
			)
		}
	}
}
