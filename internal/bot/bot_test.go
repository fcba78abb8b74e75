package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/BTreeMap/RentBot/internal/conversation"
	"github.com/BTreeMap/RentBot/internal/models"
	"github.com/BTreeMap/RentBot/internal/store"
)

// mockLLM records what it was asked.
type mockLLM struct {
	reply      string
	err        error
	history    []models.ChatMessage
	message    string
	entity     string
	record     any
	replyCalls int
}

func (m *mockLLM) GenerateReply(ctx context.Context, history []models.ChatMessage, message string) (string, error) {
	m.replyCalls++
	m.history = history
	m.message = message
	if m.err != nil {
		return "", m.err
	}
	return m.reply, nil
}

func (m *mockLLM) GenerateEntitySummary(ctx context.Context, entity string, record any) (string, error) {
	m.entity = entity
	m.record = record
	if m.err != nil {
		return "", m.err
	}
	return "summary of " + entity, nil
}

func newTestBot(t *testing.T, opts ...Option) (*Bot, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	engine := conversation.NewEngine(st)
	return NewBot(engine, st, st, opts...), st
}

func send(t *testing.T, b *Bot, userID, text string) string {
	t.Helper()
	reply, err := b.HandleMessage(context.Background(), userID, text)
	if err != nil {
		t.Fatalf("HandleMessage(%q) failed: %v", text, err)
	}
	return reply
}

func addProperty(t *testing.T, st *store.InMemoryStore, name string) *models.Property {
	t.Helper()
	p := &models.Property{Name: name, Address: "1 Main Street", Type: models.PropertyTypeHouse, Size: 900}
	if err := st.CreateProperty(context.Background(), p); err != nil {
		t.Fatalf("CreateProperty: %v", err)
	}
	return p
}

func TestAddPropertyThroughBot(t *testing.T) {
	b, st := newTestBot(t)

	if got := send(t, b, "landlord", "I want to add property please"); got != "What's the name of the property?" {
		t.Fatalf("unexpected first prompt %q", got)
	}
	send(t, b, "landlord", "Oak Villa")
	send(t, b, "landlord", "12 Elm Street")
	send(t, b, "landlord", "house")
	got := send(t, b, "landlord", "1,200 sqft")
	if !strings.Contains(got, `"Oak Villa"`) {
		t.Fatalf("unexpected confirmation %q", got)
	}

	props, _ := st.ListProperties(context.Background(), "landlord")
	if len(props) != 1 || props[0].Size != 1200 || props[0].Owner != "landlord" {
		t.Errorf("unexpected stored properties: %+v", props)
	}
}

func TestAddUnitWithoutProperties(t *testing.T) {
	b, _ := newTestBot(t)
	if got := send(t, b, "u", "add unit"); got != MsgNoProperties {
		t.Errorf("expected %q, got %q", MsgNoProperties, got)
	}
}

func TestAddUnitListsPropertiesAndResolvesIndex(t *testing.T) {
	b, st := newTestBot(t)
	addProperty(t, st, "Beta")
	alpha := addProperty(t, st, "Alpha")

	got := send(t, b, "u", "Add Unit")
	if !strings.Contains(got, "1. Alpha") || !strings.Contains(got, "2. Beta") {
		t.Fatalf("expected properties numbered by name, got %q", got)
	}
	if !strings.Contains(got, "Which property would you like to add this unit to?") {
		t.Errorf("expected the property prompt, got %q", got)
	}

	send(t, b, "u", "1")
	send(t, b, "u", "2")
	send(t, b, "u", "$950")
	if got := send(t, b, "u", "yes"); !strings.HasPrefix(got, "Great! I've added unit U") {
		t.Fatalf("unexpected confirmation %q", got)
	}
	units, _ := st.ListUnits(context.Background(), alpha.ID)
	if len(units) != 1 || units[0].Rent != 950 {
		t.Errorf("expected unit under Alpha, got %+v", units)
	}
}

func TestAddUnitWithSelectorSkipsPropertyQuestion(t *testing.T) {
	b, st := newTestBot(t)
	addProperty(t, st, "Alpha")
	if got := send(t, b, "u", "add unit 1"); got != "What floor is this unit on?" {
		t.Errorf("expected floor prompt, got %q", got)
	}
}

func TestAddUnitIgnoresNonSelectorArguments(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"plural command", "Can I add units to Alpha?"},
		{"trailing word", "add unit please"},
		{"several words", "add unit to Alpha"},
		{"unknown identifier", "add unit Alpha"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, st := newTestBot(t)
			addProperty(t, st, "Alpha")
			addProperty(t, st, "Beta")

			got := send(t, b, "u", tt.text)
			if !strings.Contains(got, "1. Alpha") || !strings.Contains(got, "Which property would you like to add this unit to?") {
				t.Fatalf("expected the property listing, got %q", got)
			}
			if got := send(t, b, "u", "2"); got != "What floor is this unit on?" {
				t.Errorf("expected the property answer to be taken, got %q", got)
			}
		})
	}
}

func TestAddUnitSeedsSelectorShapes(t *testing.T) {
	tests := []struct {
		name string
		text func(p *models.Property) string
	}{
		{"list number", func(*models.Property) string { return "add unit 2" }},
		{"number with punctuation", func(*models.Property) string { return "new unit 2." }},
		{"record id", func(p *models.Property) string { return "add unit " + p.ID }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, st := newTestBot(t)
			addProperty(t, st, "Alpha")
			beta := addProperty(t, st, "Beta")

			if got := send(t, b, "u", tt.text(beta)); got != "What floor is this unit on?" {
				t.Fatalf("expected floor prompt, got %q", got)
			}
			send(t, b, "u", "4")
			send(t, b, "u", "1500")
			if got := send(t, b, "u", "yes"); !strings.HasPrefix(got, "Great! I've added unit U") {
				t.Fatalf("unexpected confirmation %q", got)
			}
			units, _ := st.ListUnits(context.Background(), beta.ID)
			if len(units) != 1 {
				t.Errorf("expected the unit under Beta, got %+v", units)
			}
		})
	}
}

func TestAddTenantSelectorShapes(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		wantListed bool
	}{
		{"lowercase unit id", "add tenant u2222b", false},
		{"list number", "add tenant 1", false},
		{"plural command", "add tenants for U2222B", true},
		{"name instead of unit", "add tenant Jane", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, st := newTestBot(t)
			p := addProperty(t, st, "Alpha")
			u := &models.Unit{UnitID: "U2222B", PropertyID: p.ID, Floor: "2", Rent: 1000, IsAvailable: true}
			if err := st.CreateUnit(context.Background(), u); err != nil {
				t.Fatalf("CreateUnit: %v", err)
			}

			got := send(t, b, "u", tt.text)
			listed := strings.Contains(got, "Which unit will this tenant occupy?")
			if listed != tt.wantListed {
				t.Errorf("listed = %v, want %v; reply %q", listed, tt.wantListed, got)
			}
			if !tt.wantListed && got != "What is the tenant's full name?" {
				t.Errorf("expected name prompt, got %q", got)
			}
		})
	}
}

func TestArgumentAfter(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantArg   string
		wantFound bool
	}{
		{"exact", "add unit 3", "3", true},
		{"case preserved", "ADD UNIT AbCd", "AbCd", true},
		{"plural", "add units to Alpha", "", true},
		{"multibyte prefix", "İstanbul: add unit 9F2c-Ab", "9F2c-Ab", true},
		{"folding prefix", "\u212A add unit MiXeD", "MiXeD", true},
		{"absent", "list units", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			arg, found := argumentAfter(tt.text, "add unit", "new unit")
			if arg != tt.wantArg || found != tt.wantFound {
				t.Errorf("argumentAfter(%q) = %q, %v; want %q, %v", tt.text, arg, found, tt.wantArg, tt.wantFound)
			}
		})
	}
}

func TestAddTenantWithoutUnits(t *testing.T) {
	b, _ := newTestBot(t)
	if got := send(t, b, "u", "new tenant"); got != MsgNoUnits {
		t.Errorf("expected %q, got %q", MsgNoUnits, got)
	}
}

func TestAddTenantListsAvailableUnits(t *testing.T) {
	b, st := newTestBot(t)
	p := addProperty(t, st, "Alpha")
	ctx := context.Background()
	for _, u := range []*models.Unit{
		{UnitID: "U2222B", PropertyID: p.ID, Floor: "2", Rent: 1000, IsAvailable: true},
		{UnitID: "U1111A", PropertyID: p.ID, Floor: "1", Rent: 900, IsAvailable: false},
	} {
		if err := st.CreateUnit(ctx, u); err != nil {
			t.Fatalf("CreateUnit: %v", err)
		}
	}

	got := send(t, b, "u", "add tenant")
	if !strings.Contains(got, "1. U2222B (floor 2, $1000/month)") || strings.Contains(got, "U1111A") {
		t.Errorf("expected only available units, got %q", got)
	}
}

func TestListPagination(t *testing.T) {
	b, st := newTestBot(t)
	for i := 1; i <= 12; i++ {
		addProperty(t, st, fmt.Sprintf("Property %02d", i))
	}

	first := send(t, b, "u", "list properties")
	if !strings.Contains(first, "10. Property 10") || strings.Contains(first, "11. ") {
		t.Fatalf("unexpected first page %q", first)
	}
	if !strings.Contains(first, "Showing 1-10 of 12") {
		t.Errorf("expected paging hint, got %q", first)
	}

	second := send(t, b, "u", "show more")
	if !strings.Contains(second, "11. Property 11") || !strings.Contains(second, "12. Property 12") {
		t.Fatalf("unexpected second page %q", second)
	}
	if strings.Contains(second, "Showing") {
		t.Errorf("last page should not offer more: %q", second)
	}

	if got := send(t, b, "u", "more"); got != MsgNothingMore {
		t.Errorf("expected %q, got %q", MsgNothingMore, got)
	}
}

func TestPaginationIsPerUser(t *testing.T) {
	b, st := newTestBot(t, WithPageSize(1))
	addProperty(t, st, "Alpha")
	addProperty(t, st, "Beta")

	send(t, b, "a", "list properties")
	if got := send(t, b, "b", "more"); got != MsgNothingMore {
		t.Errorf("user b should have no listing to continue, got %q", got)
	}
	if got := send(t, b, "a", "more"); !strings.Contains(got, "2. Beta") {
		t.Errorf("user a should see page two, got %q", got)
	}
}

func TestListTenantsShowsUnitIdentifier(t *testing.T) {
	b, st := newTestBot(t)
	ctx := context.Background()
	p := addProperty(t, st, "Alpha")
	u := &models.Unit{UnitID: "U1234A", PropertyID: p.ID, Floor: "1", Rent: 800}
	if err := st.CreateUnit(ctx, u); err != nil {
		t.Fatalf("CreateUnit: %v", err)
	}
	tenant := &models.Tenant{TenantID: "T5678B", Name: "Jo Doe", UnitID: u.ID, MoveInDate: "2024-01-01",
		RentInfo: models.RentInfo{Amount: 800, DueDate: 5}}
	if err := st.CreateTenant(ctx, tenant); err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}

	got := send(t, b, "u", "list tenants")
	if !strings.Contains(got, "1. Jo Doe (T5678B) - unit U1234A, $800/month due on day 5") {
		t.Errorf("unexpected tenant listing %q", got)
	}
	if got := send(t, b, "u", "list units"); !strings.Contains(got, "U1234A - floor 1, $800/month, occupied") {
		t.Errorf("unexpected unit listing %q", got)
	}
}

func TestSummary(t *testing.T) {
	llm := &mockLLM{}
	b, st := newTestBot(t, WithReplyGenerator(llm))
	p := addProperty(t, st, "Alpha")
	if err := st.CreateUnit(context.Background(), &models.Unit{UnitID: "U1234A", PropertyID: p.ID, Floor: "1", Rent: 800}); err != nil {
		t.Fatalf("CreateUnit: %v", err)
	}

	if got := send(t, b, "u", "summary u1234a"); got != "summary of unit" {
		t.Errorf("unexpected summary %q", got)
	}
	if u, isUnit := llm.record.(*models.Unit); !isUnit || u.UnitID != "U1234A" {
		t.Errorf("expected the unit record, got %#v", llm.record)
	}
	if got := send(t, b, "u", "summary T0000Z"); got != "I couldn't find a unit or tenant with ID T0000Z." {
		t.Errorf("unexpected not-found reply %q", got)
	}
	if got := send(t, b, "u", "summary"); got != MsgSummaryUsage {
		t.Errorf("unexpected usage reply %q", got)
	}

	llm.err = errors.New("down")
	if got := send(t, b, "u", "summary U1234A"); got != "Failed to generate unit summary." {
		t.Errorf("unexpected failure reply %q", got)
	}
}

func TestFallbackToLanguageModel(t *testing.T) {
	llm := &mockLLM{reply: "Happy to help."}
	b, _ := newTestBot(t, WithReplyGenerator(llm))

	send(t, b, "u", "help")
	if got := send(t, b, "u", "how do leases work?"); got != "Happy to help." {
		t.Fatalf("unexpected reply %q", got)
	}
	if llm.message != "how do leases work?" {
		t.Errorf("unexpected message passed: %q", llm.message)
	}
	if len(llm.history) != 2 || llm.history[0].Content != "help" || llm.history[1].Content != HelpText {
		t.Errorf("history should hold the earlier turns only, got %+v", llm.history)
	}

	llm.err = errors.New("rate limited")
	if got := send(t, b, "u", "hello?"); got != MsgLLMUnavailable {
		t.Errorf("expected %q, got %q", MsgLLMUnavailable, got)
	}
}

func TestFallbackWithoutLanguageModel(t *testing.T) {
	b, _ := newTestBot(t)
	if got := send(t, b, "u", "hello"); got != MsgNotConfigured {
		t.Errorf("expected %q, got %q", MsgNotConfigured, got)
	}
}

func TestActiveFlowWinsOverCommands(t *testing.T) {
	llm := &mockLLM{reply: "should not be called"}
	b, _ := newTestBot(t, WithReplyGenerator(llm))

	send(t, b, "u", "add property")
	if got := send(t, b, "u", "list properties"); got != "What's the address of the property?" {
		t.Errorf("flow should consume the answer, got %q", got)
	}
	if got := send(t, b, "u", "cancel"); got != conversation.MsgCancelled {
		t.Errorf("expected cancellation, got %q", got)
	}
	if llm.replyCalls != 0 {
		t.Errorf("language model should not be consulted, called %d times", llm.replyCalls)
	}
}

func TestTranscriptRecordsBothTurns(t *testing.T) {
	b, st := newTestBot(t)
	send(t, b, "u", "help")

	msgs, err := st.RecentMessages(context.Background(), "u", 10)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Role != models.ChatRoleUser || msgs[1].Role != models.ChatRoleAssistant {
		t.Errorf("unexpected transcript %+v", msgs)
	}
}

func TestHandleMessageRequiresUser(t *testing.T) {
	b, _ := newTestBot(t)
	if _, err := b.HandleMessage(context.Background(), "", "hi"); err == nil {
		t.Error("expected error for empty user")
	}
}
