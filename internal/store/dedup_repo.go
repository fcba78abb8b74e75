package store

import (
	"context"
	"time"
)

// DedupRecord represents an inbound message deduplication record.
type DedupRecord struct {
	MessageID   string     `json:"message_id"`
	Sender      string     `json:"sender"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// DedupRepo defines the interface for inbound message deduplication.
// Webhook transports redeliver on timeouts, so each message ID is answered
// once. A record without ProcessedAt was never answered and may be retried.
type DedupRepo interface {
	// IsDuplicate checks if a message ID has already been processed.
	IsDuplicate(ctx context.Context, messageID string) (bool, error)

	// RecordInbound records an inbound message. Returns false if the message
	// was already processed (duplicate).
	RecordInbound(ctx context.Context, messageID, sender string) (bool, error)

	// MarkProcessed sets the processed_at timestamp for a message.
	MarkProcessed(ctx context.Context, messageID string) error
}
