// Package bot routes chat messages: active flows first, then commands, then
// the language model.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/BTreeMap/RentBot/internal/conversation"
	"github.com/BTreeMap/RentBot/internal/models"
	"github.com/BTreeMap/RentBot/internal/store"
	"github.com/google/uuid"
)

// Defaults for listing and history.
const (
	DefaultPageSize     = 10
	DefaultHistoryLimit = store.DefaultTranscriptLimit
)

// Fixed replies.
const (
	MsgLLMUnavailable = "I'm having trouble processing your request right now. Please try again later."
	MsgNotConfigured  = "I'm sorry, but I'm not properly configured. Please contact the administrator."
	MsgNoProperties   = `You don't have any properties yet. Say "add property" to create one first.`
	MsgNoUnits        = `There are no available units right now. Add a unit first by saying "add unit".`
	MsgNothingMore    = `There's nothing more to show. Try "list properties", "list units" or "list tenants".`
	MsgSummaryUsage   = "Please tell me which unit or tenant to summarize, for example: summary U1234A"

	HelpText = `Here's what I can do:
- add property
- add unit [property number or ID]
- add tenant [unit number or ID]
- list properties / list units / list tenants
- more (next page of a list)
- summary <unit or tenant ID>
- cancel (stop the current operation)
Anything else, just ask.`
)

// Flows is the conversation engine surface the bot drives.
type Flows interface {
	Dispatch(ctx context.Context, userID, message string) (string, error)
	StartFlow(ctx context.Context, userID string, kind conversation.Kind, initial map[string]string) (string, error)
}

// Records is the read side of entity storage.
type Records interface {
	ListProperties(ctx context.Context, owner string) ([]models.Property, error)
	GetProperty(ctx context.Context, id string) (*models.Property, error)
	GetUnit(ctx context.Context, id string) (*models.Unit, error)
	ListUnits(ctx context.Context, propertyID string) ([]models.Unit, error)
	ListAvailableUnits(ctx context.Context) ([]models.Unit, error)
	FindUnitByUnitID(ctx context.Context, unitID string) (*models.Unit, error)
	ListTenants(ctx context.Context, unitID string) ([]models.Tenant, error)
	FindTenantByTenantID(ctx context.Context, tenantID string) (*models.Tenant, error)
}

// Transcript keeps the per-user chat history.
type Transcript interface {
	AppendMessage(ctx context.Context, userID string, msg models.ChatMessage) error
	RecentMessages(ctx context.Context, userID string, limit int) ([]models.ChatMessage, error)
}

// ReplyGenerator produces free-form answers and record summaries.
type ReplyGenerator interface {
	GenerateReply(ctx context.Context, history []models.ChatMessage, message string) (string, error)
	GenerateEntitySummary(ctx context.Context, entity string, record any) (string, error)
}

// Opts holds configuration options for the Bot.
type Opts struct {
	LLM          ReplyGenerator
	PageSize     int
	HistoryLimit int
}

// Option defines a configuration option for the Bot.
type Option func(*Opts)

// WithReplyGenerator enables free-form replies and summaries.
func WithReplyGenerator(g ReplyGenerator) Option {
	return func(o *Opts) { o.LLM = g }
}

// WithPageSize sets how many records a list reply shows.
func WithPageSize(n int) Option {
	return func(o *Opts) { o.PageSize = n }
}

// WithHistoryLimit sets how many transcript entries go to the model.
func WithHistoryLimit(n int) Option {
	return func(o *Opts) { o.HistoryLimit = n }
}

type listKind string

const (
	listProperties listKind = "properties"
	listUnits      listKind = "units"
	listTenants    listKind = "tenants"
)

// page remembers where a user's last listing stopped.
type page struct {
	kind   listKind
	offset int
	total  int
}

// Bot answers chat messages for all users.
type Bot struct {
	flows        Flows
	records      Records
	transcript   Transcript
	llm          ReplyGenerator
	pageSize     int
	historyLimit int

	mu    sync.Mutex
	pages map[string]page
}

// NewBot builds a bot. Without a ReplyGenerator, free-form messages get a
// "not configured" reply.
func NewBot(flows Flows, records Records, transcript Transcript, opts ...Option) *Bot {
	cfg := Opts{PageSize: DefaultPageSize, HistoryLimit: DefaultHistoryLimit}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	return &Bot{
		flows:        flows,
		records:      records,
		transcript:   transcript,
		llm:          cfg.LLM,
		pageSize:     cfg.PageSize,
		historyLimit: cfg.HistoryLimit,
		pages:        make(map[string]page),
	}
}

// HandleMessage produces the reply to text from userID.
func (b *Bot) HandleMessage(ctx context.Context, userID, text string) (string, error) {
	if userID == "" {
		return "", errors.New("userID is required")
	}
	slog.Debug("Bot.HandleMessage", "userID", userID, "length", len(text))
	b.record(ctx, userID, models.ChatRoleUser, text)

	reply, err := b.flows.Dispatch(ctx, userID, text)
	if err != nil {
		if !errors.Is(err, conversation.ErrNoActiveFlow) {
			return "", fmt.Errorf("flow dispatch failed: %w", err)
		}
		reply, err = b.route(ctx, userID, text)
		if err != nil {
			return "", err
		}
	}

	b.record(ctx, userID, models.ChatRoleAssistant, reply)
	return reply, nil
}

func (b *Bot) record(ctx context.Context, userID string, role models.ChatRole, content string) {
	if b.transcript == nil {
		return
	}
	msg := models.ChatMessage{Role: role, Content: content, Timestamp: time.Now()}
	if err := b.transcript.AppendMessage(ctx, userID, msg); err != nil {
		slog.Warn("Bot: transcript append failed", "userID", userID, "role", role, "error", err)
	}
}

var unitIDShape = regexp.MustCompile(`^U[0-9A-Z]{4}[A-Z]$`)

// argumentAfter reports whether one of phrases occurs in text, ignoring
// case, and returns what follows it with the original casing. A match that
// runs into a word ("add units") has no argument.
func argumentAfter(text string, phrases ...string) (string, bool) {
	for _, p := range phrases {
		for i := 0; i+len(p) <= len(text); i++ {
			if !utf8.RuneStart(text[i]) || !strings.EqualFold(text[i:i+len(p)], p) {
				continue
			}
			rest := text[i+len(p):]
			if r, _ := utf8.DecodeRuneInString(rest); rest != "" && !unicode.IsSpace(r) {
				return "", true
			}
			return strings.TrimSpace(rest), true
		}
	}
	return "", false
}

// singleToken returns arg when it is one word, minus trailing punctuation.
func singleToken(arg string) (string, bool) {
	fields := strings.Fields(arg)
	if len(fields) != 1 {
		return "", false
	}
	tok := strings.TrimRight(fields[0], ".,!?")
	return tok, tok != ""
}

func isNumber(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// propertySelector accepts a list number or a property record ID.
func propertySelector(arg string) string {
	tok, ok := singleToken(arg)
	if !ok {
		return ""
	}
	if isNumber(tok) {
		return tok
	}
	if _, err := uuid.Parse(tok); err == nil {
		return tok
	}
	return ""
}

// unitSelector accepts a list number or a unit ID such as U1001A.
func unitSelector(arg string) string {
	tok, ok := singleToken(arg)
	if !ok {
		return ""
	}
	if isNumber(tok) {
		return tok
	}
	if upper := strings.ToUpper(tok); unitIDShape.MatchString(upper) {
		return upper
	}
	return ""
}

func (b *Bot) route(ctx context.Context, userID, text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)

	if _, found := argumentAfter(text, "add property", "new property"); found {
		return b.flows.StartFlow(ctx, userID, conversation.KindAddProperty, map[string]string{"owner": userID})
	}
	if arg, found := argumentAfter(text, "add unit", "new unit"); found {
		return b.startAddUnit(ctx, userID, propertySelector(arg))
	}
	if arg, found := argumentAfter(text, "add tenant", "new tenant"); found {
		return b.startAddTenant(ctx, userID, unitSelector(arg))
	}
	switch {
	case strings.Contains(lower, "list properties"):
		return b.list(ctx, userID, listProperties, 0)
	case strings.Contains(lower, "list units"):
		return b.list(ctx, userID, listUnits, 0)
	case strings.Contains(lower, "list tenants"):
		return b.list(ctx, userID, listTenants, 0)
	case lower == "more" || lower == "show more":
		return b.more(ctx, userID)
	case lower == "summary" || strings.HasPrefix(lower, "summary "):
		return b.summary(ctx, strings.TrimSpace(trimmed[len("summary"):]))
	case lower == "help":
		return HelpText, nil
	}
	return b.converse(ctx, userID, text), nil
}

func (b *Bot) startAddUnit(ctx context.Context, userID, selector string) (string, error) {
	properties, err := b.records.ListProperties(ctx, "")
	if err != nil {
		return "", fmt.Errorf("failed to list properties: %w", err)
	}
	if len(properties) == 0 {
		return MsgNoProperties, nil
	}
	if selector != "" {
		return b.flows.StartFlow(ctx, userID, conversation.KindAddUnit, map[string]string{"property": selector})
	}

	var sb strings.Builder
	sb.WriteString("I'll help you add a new unit. Here are your properties:\n")
	for i, p := range properties {
		fmt.Fprintf(&sb, "%d. %s (%s)\n", i+1, p.Name, p.Address)
	}
	prompt, err := b.flows.StartFlow(ctx, userID, conversation.KindAddUnit, nil)
	if err != nil {
		return "", err
	}
	sb.WriteString("\n")
	sb.WriteString(prompt)
	sb.WriteString(" Reply with the number or the property ID.")
	return sb.String(), nil
}

func (b *Bot) startAddTenant(ctx context.Context, userID, selector string) (string, error) {
	units, err := b.records.ListAvailableUnits(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list available units: %w", err)
	}
	if len(units) == 0 {
		return MsgNoUnits, nil
	}
	if selector != "" {
		return b.flows.StartFlow(ctx, userID, conversation.KindAddTenant, map[string]string{"unit": selector})
	}

	var sb strings.Builder
	sb.WriteString("I'll help you add a new tenant. Here are the available units:\n")
	for i, u := range units {
		fmt.Fprintf(&sb, "%d. %s (floor %s, $%s/month)\n", i+1, u.UnitID, u.Floor, conversation.FormatMoney(u.Rent))
	}
	prompt, err := b.flows.StartFlow(ctx, userID, conversation.KindAddTenant, nil)
	if err != nil {
		return "", err
	}
	sb.WriteString("\n")
	sb.WriteString(prompt)
	sb.WriteString(" Reply with the number or the unit ID.")
	return sb.String(), nil
}

func (b *Bot) converse(ctx context.Context, userID, text string) string {
	if b.llm == nil {
		return MsgNotConfigured
	}
	history := b.history(ctx, userID, text)
	reply, err := b.llm.GenerateReply(ctx, history, text)
	if err != nil {
		slog.Error("Bot: reply generation failed", "userID", userID, "error", err)
		return MsgLLMUnavailable
	}
	return reply
}

// history returns recent turns without the message being answered, which
// was already recorded.
func (b *Bot) history(ctx context.Context, userID, current string) []models.ChatMessage {
	if b.transcript == nil {
		return nil
	}
	msgs, err := b.transcript.RecentMessages(ctx, userID, b.historyLimit+1)
	if err != nil {
		slog.Warn("Bot: transcript read failed", "userID", userID, "error", err)
		return nil
	}
	if n := len(msgs); n > 0 && msgs[n-1].Role == models.ChatRoleUser && msgs[n-1].Content == current {
		msgs = msgs[:n-1]
	}
	if len(msgs) > b.historyLimit {
		msgs = msgs[len(msgs)-b.historyLimit:]
	}
	return msgs
}

func (b *Bot) summary(ctx context.Context, id string) (string, error) {
	if id == "" {
		return MsgSummaryUsage, nil
	}
	if b.llm == nil {
		return MsgNotConfigured, nil
	}

	entity, record, err := b.lookup(ctx, id)
	if err != nil {
		return "", err
	}
	if record == nil {
		return fmt.Sprintf("I couldn't find a unit or tenant with ID %s.", id), nil
	}
	text, err := b.llm.GenerateEntitySummary(ctx, entity, record)
	if err != nil {
		slog.Error("Bot: summary generation failed", "entity", entity, "id", id, "error", err)
		return fmt.Sprintf("Failed to generate %s summary.", entity), nil
	}
	return text, nil
}

// lookup finds a record by unit ID, tenant ID or property record ID.
func (b *Bot) lookup(ctx context.Context, id string) (string, any, error) {
	upper := strings.ToUpper(id)
	switch {
	case strings.HasPrefix(upper, "U"):
		u, err := b.records.FindUnitByUnitID(ctx, upper)
		return "unit", nilIfNone(u), err
	case strings.HasPrefix(upper, "T"):
		t, err := b.records.FindTenantByTenantID(ctx, upper)
		return "tenant", nilIfNone(t), err
	}
	p, err := b.records.GetProperty(ctx, id)
	return "property", nilIfNone(p), err
}

// nilIfNone keeps a typed nil pointer from becoming a non-nil interface.
func nilIfNone[T any](v *T) any {
	if v == nil {
		return nil
	}
	return v
}
