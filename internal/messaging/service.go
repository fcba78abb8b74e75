// Package messaging moves chat text between WhatsApp transports and the bot.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/RentBot/internal/models"
)

const (
	// DefaultChannelBufferSize is the capacity of each service's inbound channel.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds how long an inbound message waits for room.
	DefaultChannelTimeout = 1 * time.Second
	// MinPhoneDigits is the shortest accepted phone number.
	MinPhoneDigits = 6
)

// ErrServiceStopped is returned when sending through a stopped service.
var ErrServiceStopped = errors.New("messaging service stopped")

var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service is a pluggable WhatsApp transport.
type Service interface {
	// ValidateAndCanonicalizeRecipient returns the digits-only form of a phone number.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a text message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins background processing.
	Start(ctx context.Context) error

	// Stop ends background processing and closes Responses.
	Stop() error

	// Responses returns incoming user messages.
	Responses() <-chan models.InboundMessage
}

// canonicalPhone strips everything but digits, including a "whatsapp:" prefix.
func canonicalPhone(recipient string) (string, error) {
	recipient = strings.TrimPrefix(strings.TrimSpace(recipient), "whatsapp:")
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < MinPhoneDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", canonical, MinPhoneDigits)
	}
	return canonical, nil
}

// inbox is the inbound channel shared by every service.
type inbox struct {
	name     string
	mu       sync.RWMutex
	ch       chan models.InboundMessage
	stopped  bool
	stopOnce sync.Once
}

func newInbox(name string) *inbox {
	return &inbox{name: name, ch: make(chan models.InboundMessage, DefaultChannelBufferSize)}
}

// deliver queues msg, dropping it when the service is stopped or the
// channel stays full past DefaultChannelTimeout.
func (b *inbox) deliver(msg models.InboundMessage) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		slog.Warn(b.name+" dropping inbound message (service stopped)", "from", msg.From)
		return ErrServiceStopped
	}
	select {
	case b.ch <- msg:
		slog.Debug(b.name+" inbound message queued", "from", msg.From, "id", msg.ID)
		return nil
	case <-time.After(DefaultChannelTimeout):
		slog.Warn(b.name+" responses channel blocked, dropping message", "from", msg.From, "timeout", DefaultChannelTimeout)
		return fmt.Errorf("%s: inbound queue full", b.name)
	}
}

func (b *inbox) isStopped() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stopped
}

// stop marks the inbox stopped and closes the channel once.
func (b *inbox) stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopped = true
		close(b.ch)
		b.mu.Unlock()
		slog.Info(b.name + " stopped and channel closed")
	})
}

func (b *inbox) responses() <-chan models.InboundMessage {
	return b.ch
}
