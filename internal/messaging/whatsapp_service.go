package messaging

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/RentBot/internal/models"
	"github.com/BTreeMap/RentBot/internal/whatsapp"
)

// WhatsAppService implements Service over a whatsmeow linked device.
type WhatsAppService struct {
	client whatsapp.Sender
	inbox  *inbox
}

// NewWhatsAppService wraps client. When client can also report incoming
// messages (whatsapp.Subscriber), Start wires them into Responses.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	return &WhatsAppService{client: client, inbox: newInbox("WhatsAppService")}
}

// ValidateAndCanonicalizeRecipient returns the digits of a phone number.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalPhone(recipient)
}

// Start subscribes to incoming messages.
func (s *WhatsAppService) Start(ctx context.Context) error {
	sub, canSubscribe := s.client.(whatsapp.Subscriber)
	if !canSubscribe {
		slog.Debug("WhatsAppService client cannot subscribe, inbound disabled")
		return nil
	}
	sub.Subscribe(func(msg models.InboundMessage) {
		if msg.Time == 0 {
			msg.Time = time.Now().Unix()
		}
		_ = s.inbox.deliver(msg)
	})
	slog.Info("WhatsAppService started")
	return nil
}

// Stop closes Responses.
func (s *WhatsAppService) Stop() error {
	s.inbox.stop()
	return nil
}

// SendMessage sends body to the canonical form of to.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	if s.inbox.isStopped() {
		return ErrServiceStopped
	}
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService SendMessage validation failed", "error", err, "to", to)
		return err
	}
	if err := s.client.SendMessage(ctx, canonical, body); err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", canonical)
		return err
	}
	slog.Debug("WhatsAppService message sent", "to", canonical, "length", len(body))
	return nil
}

// Responses returns incoming messages.
func (s *WhatsAppService) Responses() <-chan models.InboundMessage {
	return s.inbox.responses()
}
