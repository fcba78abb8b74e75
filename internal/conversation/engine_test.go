package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/BTreeMap/RentBot/internal/models"
	"github.com/BTreeMap/RentBot/internal/store"
)

// recordingStore wraps the in-memory store, counting creates and optionally
// failing the unit availability update.
type recordingStore struct {
	*store.InMemoryStore
	mu              sync.Mutex
	creates         int
	failAvailUpdate error
	failCreate      error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{InMemoryStore: store.NewInMemoryStore()}
}

func (r *recordingStore) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.creates
}

func (r *recordingStore) bump() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates++
	return r.failCreate
}

func (r *recordingStore) CreateProperty(ctx context.Context, p *models.Property) error {
	if err := r.bump(); err != nil {
		return err
	}
	return r.InMemoryStore.CreateProperty(ctx, p)
}

func (r *recordingStore) CreateUnit(ctx context.Context, u *models.Unit) error {
	if err := r.bump(); err != nil {
		return err
	}
	return r.InMemoryStore.CreateUnit(ctx, u)
}

func (r *recordingStore) CreateTenant(ctx context.Context, t *models.Tenant) error {
	if err := r.bump(); err != nil {
		return err
	}
	return r.InMemoryStore.CreateTenant(ctx, t)
}

func (r *recordingStore) UpdateUnitAvailability(ctx context.Context, id string, available bool) error {
	if r.failAvailUpdate != nil {
		return r.failAvailUpdate
	}
	return r.InMemoryStore.UpdateUnitAvailability(ctx, id, available)
}

func seedProperty(t *testing.T, s *recordingStore, name string) *models.Property {
	t.Helper()
	p := &models.Property{Name: name, Address: "1 Main St", Type: models.PropertyTypeHouse, Size: 100}
	if err := s.InMemoryStore.CreateProperty(context.Background(), p); err != nil {
		t.Fatalf("seed property %s: %v", name, err)
	}
	return p
}

func seedUnit(t *testing.T, s *recordingStore, propertyID, unitID string, available bool) *models.Unit {
	t.Helper()
	u := &models.Unit{UnitID: unitID, PropertyID: propertyID, Floor: "1", Rent: 1000, IsAvailable: available}
	if err := s.InMemoryStore.CreateUnit(context.Background(), u); err != nil {
		t.Fatalf("seed unit %s: %v", unitID, err)
	}
	return u
}

func fixedIDs(ids ...string) func() string {
	var mu sync.Mutex
	i := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		id := ids[i%len(ids)]
		i++
		return id
	}
}

func answer(t *testing.T, e *Engine, userID string, inputs ...string) string {
	t.Helper()
	var reply string
	for _, in := range inputs {
		var err error
		reply, err = e.ProcessStep(context.Background(), userID, in)
		if err != nil {
			t.Fatalf("ProcessStep(%q) failed: %v", in, err)
		}
	}
	return reply
}

func TestStartFlowReturnsFirstPrompt(t *testing.T) {
	e := NewEngine(newRecordingStore())
	reply, err := e.StartFlow(context.Background(), "u1", KindAddProperty, nil)
	if err != nil {
		t.Fatalf("StartFlow failed: %v", err)
	}
	if reply != "What's the name of the property?" {
		t.Errorf("unexpected prompt: %q", reply)
	}
	kind, step, active := e.ActiveFlow("u1")
	if !active || kind != KindAddProperty || step != 0 {
		t.Errorf("unexpected active flow: %v %d %v", kind, step, active)
	}
}

func TestStartFlowUnknownKind(t *testing.T) {
	e := NewEngine(newRecordingStore())
	if _, err := e.StartFlow(context.Background(), "u1", Kind("add_garage"), nil); !errors.Is(err, ErrUnknownFlow) {
		t.Fatalf("expected ErrUnknownFlow, got %v", err)
	}
	if _, _, active := e.ActiveFlow("u1"); active {
		t.Error("unknown flow must not create state")
	}
}

func TestPropertyFlowEndToEnd(t *testing.T) {
	s := newRecordingStore()
	states := NewStateStore()
	e := NewEngine(s, WithStateStore(states))
	ctx := context.Background()

	if _, err := e.StartFlow(ctx, "u1", KindAddProperty, map[string]string{"owner": "landlord-7"}); err != nil {
		t.Fatalf("StartFlow failed: %v", err)
	}
	if got := answer(t, e, "u1", "Oak Villa"); got != "What's the address of the property?" {
		t.Fatalf("unexpected prompt: %q", got)
	}
	reply := answer(t, e, "u1", "12 Elm Street", "house", "1,200 sqft")
	want := `Great! I've added the property "Oak Villa" to your account. You can now add units to this property by saying "add unit".`
	if reply != want {
		t.Fatalf("unexpected confirmation:\n got %q\nwant %q", reply, want)
	}
	if s.count() != 1 {
		t.Errorf("expected exactly one commit, got %d", s.count())
	}
	if states.Len() != 0 {
		t.Error("expected state to be cleared after completion")
	}

	props, _ := s.ListProperties(ctx, "landlord-7")
	if len(props) != 1 {
		t.Fatalf("expected property owned by landlord-7, got %+v", props)
	}
	if props[0].Type != models.PropertyTypeHouse || props[0].Size != 1200 {
		t.Errorf("unexpected stored property: %+v", props[0])
	}
}

func TestPropertyOwnerDefaultsToUser(t *testing.T) {
	s := newRecordingStore()
	e := NewEngine(s)
	ctx := context.Background()
	e.StartFlow(ctx, "whatsapp:+15550001", KindAddProperty, nil)
	answer(t, e, "whatsapp:+15550001", "Oak Villa", "12 Elm Street", "condo", "800")

	props, _ := s.ListProperties(ctx, "whatsapp:+15550001")
	if len(props) != 1 {
		t.Fatalf("expected property owned by the chatting user, got %+v", props)
	}
}

func TestUnitFlowResolvesIndexAgainstNameOrder(t *testing.T) {
	s := newRecordingStore()
	for _, name := range []string{"Gamma", "Alpha", "Beta"} {
		seedProperty(t, s, name)
	}
	e := NewEngine(s, WithUnitIDGenerator(fixedIDs("U1234A")))
	ctx := context.Background()

	e.StartFlow(ctx, "u1", KindAddUnit, nil)
	reply := answer(t, e, "u1", "2", "3", "$950.50", "yes")
	want := "Great! I've added unit U1234A to your property. This unit is on floor 3 with a monthly rent of $950.5 and is currently available for rent."
	if reply != want {
		t.Fatalf("unexpected confirmation:\n got %q\nwant %q", reply, want)
	}

	u, _ := s.FindUnitByUnitID(ctx, "U1234A")
	if u == nil {
		t.Fatal("expected unit to be stored")
	}
	p, _ := s.GetProperty(ctx, u.PropertyID)
	if p == nil || p.Name != "Beta" {
		t.Errorf("expected unit attached to Beta, got %+v", p)
	}
}

func TestUnitFlowInvalidIndex(t *testing.T) {
	s := newRecordingStore()
	for _, name := range []string{"Alpha", "Beta", "Gamma"} {
		seedProperty(t, s, name)
	}
	e := NewEngine(s)
	ctx := context.Background()

	e.StartFlow(ctx, "u1", KindAddUnit, nil)
	reply := answer(t, e, "u1", "5", "1", "1000", "no")
	if !strings.HasPrefix(reply, "I encountered an error while saving your information:") ||
		!strings.Contains(reply, "invalid property selection") {
		t.Fatalf("expected invalid selection failure, got %q", reply)
	}
	if _, _, active := e.ActiveFlow("u1"); active {
		t.Error("state must be discarded after a failed commit")
	}
	if s.count() != 0 {
		t.Errorf("no unit should be created, got %d creates", s.count())
	}
}

// shrinkingStore hides all but the first listed record once shrink is
// called, as if the others were removed between prompt and commit.
type shrinkingStore struct {
	*recordingStore
	mu     sync.Mutex
	shrunk bool
}

func (s *shrinkingStore) shrink() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shrunk = true
}

func (s *shrinkingStore) isShrunk() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shrunk
}

func (s *shrinkingStore) ListProperties(ctx context.Context, owner string) ([]models.Property, error) {
	all, err := s.recordingStore.ListProperties(ctx, owner)
	if err != nil || !s.isShrunk() || len(all) == 0 {
		return all, err
	}
	return all[:1], nil
}

func (s *shrinkingStore) ListAvailableUnits(ctx context.Context) ([]models.Unit, error) {
	all, err := s.recordingStore.ListAvailableUnits(ctx)
	if err != nil || !s.isShrunk() || len(all) == 0 {
		return all, err
	}
	return all[:1], nil
}

func TestStaleSelectionFailsAtCommit(t *testing.T) {
	tests := []struct {
		name    string
		kind    Kind
		seed    func(t *testing.T, s *recordingStore)
		rest    []string
		wantErr error
	}{
		{
			name: "property list shrank",
			kind: KindAddUnit,
			seed: func(t *testing.T, s *recordingStore) {
				seedProperty(t, s, "Alpha")
				seedProperty(t, s, "Beta")
			},
			rest:    []string{"3", "1500", "yes"},
			wantErr: ErrInvalidPropertySelection,
		},
		{
			name: "available units shrank",
			kind: KindAddTenant,
			seed: func(t *testing.T, s *recordingStore) {
				p := seedProperty(t, s, "Alpha")
				seedUnit(t, s, p.ID, "U1111A", true)
				seedUnit(t, s, p.ID, "U2222B", true)
			},
			rest:    []string{"Jo", "", "", "2024-03-01", "1500", "1"},
			wantErr: ErrInvalidUnitSelection,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := newRecordingStore()
			tt.seed(t, rs)
			s := &shrinkingStore{recordingStore: rs}
			e := NewEngine(s)
			ctx := context.Background()

			if _, err := e.StartFlow(ctx, "u1", tt.kind, nil); err != nil {
				t.Fatalf("StartFlow failed: %v", err)
			}
			answer(t, e, "u1", "2")
			s.shrink()
			reply := answer(t, e, "u1", tt.rest...)

			if !strings.HasPrefix(reply, "I encountered an error while saving your information:") ||
				!strings.Contains(reply, tt.wantErr.Error()) {
				t.Fatalf("expected %q failure, got %q", tt.wantErr, reply)
			}
			if _, _, active := e.ActiveFlow("u1"); active {
				t.Error("state must be discarded after a stale selection")
			}
			if rs.count() != 0 {
				t.Errorf("expected no creates, got %d", rs.count())
			}
		})
	}
}

func TestUnitFlowDirectPropertyID(t *testing.T) {
	s := newRecordingStore()
	p := seedProperty(t, s, "Alpha")
	e := NewEngine(s, WithUnitIDGenerator(fixedIDs("U0000Z")))
	ctx := context.Background()

	e.StartFlow(ctx, "u1", KindAddUnit, nil)
	reply := answer(t, e, "u1", p.ID, "G", "700", "nope")
	if !strings.Contains(reply, "unit U0000Z") || !strings.Contains(reply, "not available") {
		t.Fatalf("unexpected reply: %q", reply)
	}

	e.StartFlow(ctx, "u1", KindAddUnit, nil)
	reply = answer(t, e, "u1", "missing-property", "G", "700", "yes")
	if !strings.Contains(reply, ErrPropertyNotFound.Error()) {
		t.Fatalf("expected property not found failure, got %q", reply)
	}
}

func TestTenantFlowEndToEnd(t *testing.T) {
	s := newRecordingStore()
	p := seedProperty(t, s, "Alpha")
	seedUnit(t, s, p.ID, "U1111B", false)
	u := seedUnit(t, s, p.ID, "U2222C", true)
	e := NewEngine(s, WithTenantIDGenerator(fixedIDs("T7777Q")))
	ctx := context.Background()

	if _, err := e.StartFlow(ctx, "u1", KindAddTenant, nil); err != nil {
		t.Fatalf("StartFlow failed: %v", err)
	}
	reply := answer(t, e, "u1", "1", "Jo", "", "", "2024-03-01", "$1,500", "1")
	want := "Great! I've added Jo as a tenant for unit U2222C. The tenant ID is T7777Q. The move-in date is set to 2024-03-01 with a monthly rent of $1500 due on day 1 of each month."
	if reply != want {
		t.Fatalf("unexpected confirmation:\n got %q\nwant %q", reply, want)
	}

	tenant, _ := s.FindTenantByTenantID(ctx, "T7777Q")
	if tenant == nil {
		t.Fatal("expected tenant to be stored")
	}
	if tenant.RentInfo.Amount != 1500 || tenant.RentInfo.DueDate != 1 || tenant.UnitID != u.ID {
		t.Errorf("unexpected tenant: %+v", tenant)
	}
	if tenant.Contact.Email != "" || tenant.Contact.Phone != "" || len(tenant.RentInfo.PaymentHistory) != 0 {
		t.Errorf("unexpected tenant contact or history: %+v", tenant)
	}
	stored, _ := s.GetUnit(ctx, u.ID)
	if stored.IsAvailable {
		t.Error("expected unit to be marked unavailable")
	}
	if _, _, active := e.ActiveFlow("u1"); active {
		t.Error("expected state cleared")
	}
}

func TestTenantFlowUnknownUnitID(t *testing.T) {
	s := newRecordingStore()
	e := NewEngine(s)
	ctx := context.Background()

	e.StartFlow(ctx, "u1", KindAddTenant, nil)
	reply := answer(t, e, "u1", "U9999Z", "Jo", "", "", "2024-03-01", "1500", "1")
	if !strings.Contains(reply, "unit not found: U9999Z") {
		t.Fatalf("expected unit not found failure, got %q", reply)
	}
}

func TestTenantCommitSecondWriteFailure(t *testing.T) {
	s := newRecordingStore()
	p := seedProperty(t, s, "Alpha")
	u := seedUnit(t, s, p.ID, "U2222C", true)
	s.failAvailUpdate = errors.New("disk full")
	e := NewEngine(s, WithTenantIDGenerator(fixedIDs("T1000A")))
	ctx := context.Background()

	e.StartFlow(ctx, "u1", KindAddTenant, map[string]string{"unit": "U2222C"})
	reply := answer(t, e, "u1", "Jo", "jo@example.com", "555-0100", "2024-03-01", "1500", "5")
	if !strings.HasPrefix(reply, "I encountered an error while saving your information:") || !strings.Contains(reply, "disk full") {
		t.Fatalf("expected failure message, got %q", reply)
	}

	tenant, _ := s.FindTenantByTenantID(ctx, "T1000A")
	if tenant == nil {
		t.Fatal("tenant write is not rolled back and should remain")
	}
	stored, _ := s.GetUnit(ctx, u.ID)
	if !stored.IsAvailable {
		t.Error("unit availability should be unchanged after the failed update")
	}
	if _, _, active := e.ActiveFlow("u1"); active {
		t.Error("expected state cleared despite failure")
	}
}

func TestCommitPersistenceFailure(t *testing.T) {
	s := newRecordingStore()
	s.failCreate = errors.New("connection refused")
	e := NewEngine(s)
	ctx := context.Background()

	e.StartFlow(ctx, "u1", KindAddProperty, nil)
	reply := answer(t, e, "u1", "Oak Villa", "12 Elm Street", "house", "900")
	want := "I encountered an error while saving your information: failed to save property: connection refused. Please try again."
	if reply != want {
		t.Fatalf("unexpected reply:\n got %q\nwant %q", reply, want)
	}
	if _, _, active := e.ActiveFlow("u1"); active {
		t.Error("failed commit must not leave a resumable flow")
	}
}

func TestIdentifierCollisionRegenerates(t *testing.T) {
	s := newRecordingStore()
	p := seedProperty(t, s, "Alpha")
	seedUnit(t, s, p.ID, "U1111A", true)
	e := NewEngine(s, WithUnitIDGenerator(fixedIDs("U1111A", "U2222B")))
	ctx := context.Background()

	e.StartFlow(ctx, "u1", KindAddUnit, map[string]string{"property": "1"})
	reply := answer(t, e, "u1", "2", "800", "yes")
	if !strings.Contains(reply, "unit U2222B") {
		t.Fatalf("expected regenerated id, got %q", reply)
	}

	e = NewEngine(s, WithUnitIDGenerator(fixedIDs("U1111A")))
	e.StartFlow(ctx, "u1", KindAddUnit, map[string]string{"property": "1"})
	reply = answer(t, e, "u1", "2", "800", "yes")
	if !strings.Contains(reply, ErrIdentifierExhausted.Error()) {
		t.Fatalf("expected exhausted identifiers, got %q", reply)
	}
}

func TestStartFlowSeedsFirstStep(t *testing.T) {
	s := newRecordingStore()
	seedProperty(t, s, "Alpha")
	e := NewEngine(s)

	reply, err := e.StartFlow(context.Background(), "u1", KindAddUnit, map[string]string{"property": "1"})
	if err != nil {
		t.Fatalf("StartFlow failed: %v", err)
	}
	if reply != "What floor is this unit on?" {
		t.Errorf("expected seeded flow to ask the second question, got %q", reply)
	}
	if _, step, _ := e.ActiveFlow("u1"); step != 1 {
		t.Errorf("expected step 1, got %d", step)
	}
}

func TestStartFlowSeedCompletesSingleStepFlow(t *testing.T) {
	s := newRecordingStore()
	def, err := NewDefinition(KindAddProperty, EntityProperty, []Step{{"name", "Name?"}})
	if err != nil {
		t.Fatalf("NewDefinition failed: %v", err)
	}
	e := NewEngine(s, WithDefinitions(map[Kind]*Definition{KindAddProperty: def}))

	reply, err := e.StartFlow(context.Background(), "u1", KindAddProperty, map[string]string{"name": "Tiny"})
	if err != nil {
		t.Fatalf("StartFlow failed: %v", err)
	}
	want := `Great! I've added the property "Tiny" to your account. You can now add units to this property by saying "add unit".`
	if reply != want {
		t.Fatalf("unexpected confirmation:\n got %q\nwant %q", reply, want)
	}
	if s.count() != 1 {
		t.Errorf("expected commit to run once, got %d", s.count())
	}
	if _, _, active := e.ActiveFlow("u1"); active {
		t.Error("expected no state after seeded completion")
	}
}

func TestCancellationTakesPriority(t *testing.T) {
	e := NewEngine(newRecordingStore())
	ctx := context.Background()

	e.StartFlow(ctx, "u1", KindAddProperty, nil)
	answer(t, e, "u1", "Oak Villa")

	reply, err := e.Dispatch(ctx, "u1", " Cancel ")
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if reply != MsgCancelled {
		t.Errorf("expected cancellation acknowledgement, got %q", reply)
	}
	if _, _, active := e.ActiveFlow("u1"); active {
		t.Error("expected state cleared by cancellation")
	}

	reply, err = e.Dispatch(ctx, "u1", "stop")
	if err != nil || reply != MsgNothingToStop {
		t.Errorf("expected nothing-to-cancel reply, got %q, %v", reply, err)
	}
}

func TestDispatchWithoutFlow(t *testing.T) {
	e := NewEngine(newRecordingStore())
	if _, err := e.Dispatch(context.Background(), "u1", "hello"); !errors.Is(err, ErrNoActiveFlow) {
		t.Fatalf("expected ErrNoActiveFlow, got %v", err)
	}
	reply, err := e.ProcessStep(context.Background(), "u1", "hello")
	if err != nil || reply != MsgNoActiveFlow {
		t.Errorf("expected guidance message, got %q, %v", reply, err)
	}
}

func TestRepeatedInvalidRentLeavesStateUnchanged(t *testing.T) {
	s := newRecordingStore()
	seedProperty(t, s, "Alpha")
	states := NewStateStore()
	e := NewEngine(s, WithStateStore(states))
	ctx := context.Background()

	e.StartFlow(ctx, "u1", KindAddUnit, nil)
	answer(t, e, "u1", "1", "2")
	before := states.Get("u1")

	for i := 0; i < 5; i++ {
		reply, err := e.Dispatch(ctx, "u1", "free")
		if err != nil {
			t.Fatalf("Dispatch failed: %v", err)
		}
		if reply != "Please provide a valid rent amount (a positive number)." {
			t.Fatalf("attempt %d: unexpected reply %q", i, reply)
		}
		after := states.Get("u1")
		if after.Step != before.Step || len(after.Data) != len(before.Data) {
			t.Fatalf("attempt %d: state changed from %+v to %+v", i, before, after)
		}
		for k, v := range before.Data {
			if after.Data[k] != v {
				t.Fatalf("attempt %d: data[%s] changed from %v to %v", i, k, v, after.Data[k])
			}
		}
	}
}

func TestDuplicateStartOverwrites(t *testing.T) {
	s := newRecordingStore()
	seedProperty(t, s, "Alpha")
	states := NewStateStore()
	e := NewEngine(s, WithStateStore(states))
	ctx := context.Background()

	e.StartFlow(ctx, "u1", KindAddProperty, nil)
	answer(t, e, "u1", "Oak Villa", "12 Elm Street")

	reply, _ := e.StartFlow(ctx, "u1", KindAddUnit, nil)
	if reply != "Which property would you like to add this unit to?" {
		t.Fatalf("unexpected prompt: %q", reply)
	}
	st := states.Get("u1")
	if st.Kind != KindAddUnit || st.Step != 0 || len(st.Data) != 0 {
		t.Fatalf("expected fresh unit flow, got %+v", st)
	}

	if got := answer(t, e, "u1", "1"); got != "What floor is this unit on?" {
		t.Errorf("input should be read against the unit flow, got %q", got)
	}
}

func TestConcurrentUsersProgressIndependently(t *testing.T) {
	s := newRecordingStore()
	e := NewEngine(s)
	ctx := context.Background()

	const users = 20
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("user-%d", i)
			if _, err := e.StartFlow(ctx, user, KindAddProperty, nil); err != nil {
				t.Errorf("StartFlow(%s) failed: %v", user, err)
				return
			}
			for _, in := range []string{fmt.Sprintf("Property %02d", i), "12 Elm Street", "other", "500"} {
				if _, err := e.Dispatch(ctx, user, in); err != nil {
					t.Errorf("Dispatch(%s) failed: %v", user, err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	if s.count() != users {
		t.Errorf("expected %d commits, got %d", users, s.count())
	}
	props, _ := s.ListProperties(ctx, "")
	if len(props) != users {
		t.Errorf("expected %d properties, got %d", users, len(props))
	}
}

func TestConcurrentMessagesFromOneUserAreSerialized(t *testing.T) {
	s := newRecordingStore()
	seedProperty(t, s, "Alpha")
	e := NewEngine(s)
	ctx := context.Background()
	e.StartFlow(ctx, "u1", KindAddUnit, nil)

	// "1" is a valid answer for every unit step, so exactly four of the
	// concurrent messages are consumed by the flow and it commits once.
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Dispatch(ctx, "u1", "1")
		}()
	}
	wg.Wait()

	if s.count() != 1 {
		t.Fatalf("expected exactly one commit, got %d", s.count())
	}
	if _, _, active := e.ActiveFlow("u1"); active {
		t.Error("expected flow to be finished")
	}
}
