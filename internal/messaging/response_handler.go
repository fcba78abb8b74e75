package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/RentBot/internal/models"
	"github.com/BTreeMap/RentBot/internal/store"
)

// DefaultErrorMessage is sent when the bot fails to answer.
const DefaultErrorMessage = "I'm having trouble processing your request right now. Please try again later."

// Replier produces the bot's answer to one message.
type Replier interface {
	HandleMessage(ctx context.Context, userID, text string) (string, error)
}

// ResponseHandlerOpts holds configuration options for ResponseHandler.
type ResponseHandlerOpts struct {
	Dedup        store.DedupRepo
	ErrorMessage string
}

// ResponseHandlerOption defines a configuration option for ResponseHandler.
type ResponseHandlerOption func(*ResponseHandlerOpts)

// WithDedup drops messages whose ID was already seen.
func WithDedup(repo store.DedupRepo) ResponseHandlerOption {
	return func(o *ResponseHandlerOpts) { o.Dedup = repo }
}

// WithErrorMessage replaces DefaultErrorMessage.
func WithErrorMessage(msg string) ResponseHandlerOption {
	return func(o *ResponseHandlerOpts) { o.ErrorMessage = msg }
}

// ResponseHandler answers every incoming message of a Service through the bot.
type ResponseHandler struct {
	msgService   Service
	bot          Replier
	dedup        store.DedupRepo
	errorMessage string
}

// NewResponseHandler wires msgService to bot.
func NewResponseHandler(msgService Service, bot Replier, opts ...ResponseHandlerOption) *ResponseHandler {
	cfg := ResponseHandlerOpts{ErrorMessage: DefaultErrorMessage}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &ResponseHandler{
		msgService:   msgService,
		bot:          bot,
		dedup:        cfg.Dedup,
		errorMessage: cfg.ErrorMessage,
	}
}

// ProcessResponse answers one message. Redeliveries of an answered message
// are ignored; a message whose earlier attempt failed is handled again.
func (rh *ResponseHandler) ProcessResponse(ctx context.Context, msg models.InboundMessage) error {
	from, err := rh.msgService.ValidateAndCanonicalizeRecipient(msg.From)
	if err != nil {
		slog.Error("ResponseHandler ProcessResponse validation failed", "error", err, "from", msg.From)
		return fmt.Errorf("invalid sender: %w", err)
	}
	if strings.TrimSpace(msg.Body) == "" {
		slog.Debug("ResponseHandler ignoring empty message", "from", from)
		return nil
	}

	if rh.dedup != nil && msg.ID != "" {
		fresh, err := rh.dedup.RecordInbound(ctx, msg.ID, from)
		if err != nil {
			slog.Warn("ResponseHandler dedup check failed, processing anyway", "error", err, "id", msg.ID)
		} else if !fresh {
			slog.Info("ResponseHandler skipping duplicate message", "id", msg.ID, "from", from)
			return nil
		}
	}

	reply, err := rh.bot.HandleMessage(ctx, from, msg.Body)
	if err != nil {
		slog.Error("ResponseHandler bot failed", "error", err, "from", from)
		if sendErr := rh.msgService.SendMessage(ctx, from, rh.errorMessage); sendErr != nil {
			slog.Error("ResponseHandler failed to send error message", "error", sendErr, "from", from)
		}
		return fmt.Errorf("bot failed: %w", err)
	}

	if reply != "" {
		if err := rh.msgService.SendMessage(ctx, from, reply); err != nil {
			slog.Error("ResponseHandler failed to send reply", "error", err, "from", from)
			return fmt.Errorf("failed to send reply: %w", err)
		}
	}

	if rh.dedup != nil && msg.ID != "" {
		if err := rh.dedup.MarkProcessed(ctx, msg.ID); err != nil {
			slog.Warn("ResponseHandler MarkProcessed failed", "error", err, "id", msg.ID)
		}
	}
	slog.Info("ResponseHandler replied", "from", from, "id", msg.ID)
	return nil
}

// Start processes Responses in the background until ctx is cancelled or
// the channel closes. The returned channel closes when the loop exits.
func (rh *ResponseHandler) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	slog.Info("ResponseHandler starting")

	go func() {
		defer close(done)
		defer slog.Info("ResponseHandler stopped")
		for {
			select {
			case msg, ok := <-rh.msgService.Responses():
				if !ok {
					slog.Debug("ResponseHandler responses channel closed")
					return
				}
				if err := rh.ProcessResponse(ctx, msg); err != nil {
					slog.Error("ResponseHandler failed to process message", "error", err, "from", msg.From)
				}
			case <-ctx.Done():
				slog.Debug("ResponseHandler stopping due to context cancellation")
				return
			}
		}
	}()
	return done
}
