package messaging

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/RentBot/internal/models"
	"github.com/BTreeMap/RentBot/internal/twiliowhatsapp"
)

// TwilioService implements Service over the Twilio API. Incoming messages
// arrive through the Twilio webhook, which hands them to Deliver.
type TwilioService struct {
	client twiliowhatsapp.Sender
	inbox  *inbox
}

// NewTwilioService wraps client, a real Twilio client or a mock.
func NewTwilioService(client twiliowhatsapp.Sender) *TwilioService {
	return &TwilioService{client: client, inbox: newInbox("TwilioService")}
}

// ValidateAndCanonicalizeRecipient accepts "whatsapp:+1555..." as well as
// bare numbers and returns the digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalPhone(recipient)
}

// Start is a no-op; inbound traffic is pushed by the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes Responses.
func (s *TwilioService) Stop() error {
	s.inbox.stop()
	return nil
}

// SendMessage sends body via Twilio.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	if s.inbox.isStopped() {
		return ErrServiceStopped
	}
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendMessage validation failed", "error", err, "to", to)
		return err
	}
	return s.client.SendMessage(ctx, canonical, body)
}

// Deliver queues a message received by the webhook.
func (s *TwilioService) Deliver(msg models.InboundMessage) error {
	from, err := s.ValidateAndCanonicalizeRecipient(msg.From)
	if err != nil {
		return err
	}
	msg.From = from
	if msg.Time == 0 {
		msg.Time = time.Now().Unix()
	}
	return s.inbox.deliver(msg)
}

// Responses returns incoming messages.
func (s *TwilioService) Responses() <-chan models.InboundMessage {
	return s.inbox.responses()
}
