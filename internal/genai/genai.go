// Package genai generates free-form chat replies and record summaries through
// an OpenAI-compatible chat completion API (OpenAI, Groq and similar).
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BTreeMap/RentBot/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Defaults for chat generation.
const (
	DefaultModel              = openai.ChatModelGPT4oMini
	DefaultTemperature        = 0.7
	DefaultSummaryTemperature = 0.5
	DefaultMaxTokens          = 1024
)

// ErrNoChoicesReturned is returned when the API answers without any choice.
var ErrNoChoicesReturned = errors.New("no choices returned")

// SystemPrompt frames the assistant for free-form conversation.
const SystemPrompt = `You are a helpful rental property management assistant for landlords. Your name is PropertyBot.

CAPABILITIES:
- Help landlords manage properties, units, and tenants through interactive conversations
- Add new properties, units, and tenants by asking questions one at a time
- Display property, unit, and tenant information in a clear format
- Remember conversation context

PROPERTY MANAGEMENT RULES:
- Properties have: name, address, type, size
- Units have: auto-generated unitId (like U1234A), floor, rent, availability
- Tenants have: auto-generated tenantId, name, contact, unitId, move-in date, rent info

CONVERSATION GUIDELINES:
- Be concise and helpful
- Ask one question at a time when collecting information
- Tell users they can say "add property", "add unit", "add tenant", "list units" or "summary <id>"

Always maintain a helpful, professional tone and focus on assisting with property management tasks.`

const summarySystemPrompt = "You are a helpful assistant that generates concise, well-formatted summaries of rental property information."

var summaryFocus = map[string]string{
	"property": " Include name, address, type, and size.",
	"unit":     " Include unitId, floor, rent, and availability status.",
	"tenant":   " Include tenantId, name, contact info, unit, move-in date, and rent information.",
}

// chatService is the slice of the OpenAI SDK used here.
type chatService interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int64
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL points the client at another OpenAI-compatible endpoint,
// e.g. https://api.groq.com/openai/v1.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithModel sets the chat model name.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature sets the sampling temperature for replies.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithMaxTokens caps the reply length.
func WithMaxTokens(n int64) Option {
	return func(o *Opts) { o.MaxTokens = n }
}

// Client generates text with a chat completion model.
type Client struct {
	chat        chatService
	model       string
	temperature float64
	maxTokens   int64
}

// NewClient builds a client; the API key falls back to OPENAI_API_KEY.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Temperature: DefaultTemperature, MaxTokens: DefaultMaxTokens}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)
	slog.Debug("GenAI client created", "model", cfg.Model, "customBaseURL", cfg.BaseURL != "")

	return &Client{
		chat:        &cli.Chat.Completions,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

func (c *Client) complete(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, temperature float64) (string, error) {
	resp, err := c.chat.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(temperature),
		MaxTokens:   openai.Int(c.maxTokens),
	})
	if err != nil {
		slog.Error("GenAI chat completion failed", "model", c.model, "error", err)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// GenerateReply answers message in the context of history (oldest first).
func (c *Client) GenerateReply(ctx context.Context, history []models.ChatMessage, message string) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	messages = append(messages, openai.SystemMessage(SystemPrompt))
	for _, m := range history {
		switch m.Role {
		case models.ChatRoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	messages = append(messages, openai.UserMessage(message))

	slog.Debug("GenAI GenerateReply", "historyLength", len(history))
	return c.complete(ctx, messages, c.temperature)
}

// GenerateEntitySummary describes a property, unit or tenant record in prose.
func (c *Client) GenerateEntitySummary(ctx context.Context, entity string, record any) (string, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s for summary: %w", entity, err)
	}
	prompt := fmt.Sprintf("Generate a concise summary of this %s information. Format it nicely.%s Here's the data: %s",
		entity, summaryFocus[entity], data)

	slog.Debug("GenAI GenerateEntitySummary", "entity", entity)
	return c.complete(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(summarySystemPrompt),
		openai.UserMessage(prompt),
	}, DefaultSummaryTemperature)
}
