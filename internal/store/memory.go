package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/RentBot/internal/models"
	"github.com/google/uuid"
)

// InMemoryStore keeps everything in process memory. Used for tests and when
// no database is configured.
type InMemoryStore struct {
	mu          sync.RWMutex
	properties  map[string]models.Property
	units       map[string]models.Unit
	tenants     map[string]models.Tenant
	transcripts map[string][]models.ChatMessage
	dedup       map[string]DedupRecord
}

var _ Store = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		properties:  make(map[string]models.Property),
		units:       make(map[string]models.Unit),
		tenants:     make(map[string]models.Tenant),
		transcripts: make(map[string][]models.ChatMessage),
		dedup:       make(map[string]DedupRecord),
	}
}

func (s *InMemoryStore) CreateProperty(ctx context.Context, p *models.Property) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if _, exists := s.properties[p.ID]; exists {
		return fmt.Errorf("property %s already exists", p.ID)
	}
	stamp(&p.CreatedAt, &p.UpdatedAt)
	s.properties[p.ID] = *p
	slog.Debug("InMemoryStore CreateProperty succeeded", "id", p.ID, "name", p.Name)
	return nil
}

func (s *InMemoryStore) GetProperty(ctx context.Context, id string) (*models.Property, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.properties[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *InMemoryStore) ListProperties(ctx context.Context, owner string) ([]models.Property, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Property{}
	for _, p := range s.properties {
		if owner == "" || p.Owner == owner {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *InMemoryStore) CreateUnit(ctx context.Context, u *models.Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	for _, existing := range s.units {
		if existing.UnitID == u.UnitID {
			return fmt.Errorf("unit %s already exists", u.UnitID)
		}
	}
	if _, ok := s.properties[u.PropertyID]; !ok {
		return fmt.Errorf("property %s: %w", u.PropertyID, ErrNotFound)
	}
	stamp(&u.CreatedAt, &u.UpdatedAt)
	s.units[u.ID] = *u
	slog.Debug("InMemoryStore CreateUnit succeeded", "id", u.ID, "unitID", u.UnitID)
	return nil
}

func (s *InMemoryStore) GetUnit(ctx context.Context, id string) (*models.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.units[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *InMemoryStore) FindUnitByUnitID(ctx context.Context, unitID string) (*models.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.units {
		if u.UnitID == unitID {
			return &u, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) filterUnits(keep func(models.Unit) bool) []models.Unit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Unit{}
	for _, u := range s.units {
		if keep(u) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnitID < out[j].UnitID })
	return out
}

func (s *InMemoryStore) ListUnits(ctx context.Context, propertyID string) ([]models.Unit, error) {
	return s.filterUnits(func(u models.Unit) bool {
		return propertyID == "" || u.PropertyID == propertyID
	}), nil
}

func (s *InMemoryStore) ListAvailableUnits(ctx context.Context) ([]models.Unit, error) {
	return s.filterUnits(func(u models.Unit) bool { return u.IsAvailable }), nil
}

func (s *InMemoryStore) UpdateUnitAvailability(ctx context.Context, id string, available bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.units[id]
	if !ok {
		return fmt.Errorf("unit %s: %w", id, ErrNotFound)
	}
	u.IsAvailable = available
	u.UpdatedAt = time.Now().UTC()
	s.units[id] = u
	return nil
}

func (s *InMemoryStore) CreateTenant(ctx context.Context, t *models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	for _, existing := range s.tenants {
		if existing.TenantID == t.TenantID {
			return fmt.Errorf("tenant %s already exists", t.TenantID)
		}
	}
	if _, ok := s.units[t.UnitID]; !ok {
		return fmt.Errorf("unit %s: %w", t.UnitID, ErrNotFound)
	}
	if t.RentInfo.PaymentHistory == nil {
		t.RentInfo.PaymentHistory = []models.Payment{}
	}
	stamp(&t.CreatedAt, &t.UpdatedAt)
	s.tenants[t.ID] = *t
	slog.Debug("InMemoryStore CreateTenant succeeded", "id", t.ID, "tenantID", t.TenantID)
	return nil
}

func (s *InMemoryStore) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *InMemoryStore) FindTenantByTenantID(ctx context.Context, tenantID string) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tenants {
		if t.TenantID == tenantID {
			return &t, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) ListTenants(ctx context.Context, unitID string) ([]models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Tenant{}
	for _, t := range s.tenants {
		if unitID == "" || t.UnitID == unitID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out, nil
}

func (s *InMemoryStore) AppendMessage(ctx context.Context, userID string, msg models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	s.transcripts[userID] = append(s.transcripts[userID], msg)
	return nil
}

func (s *InMemoryStore) RecentMessages(ctx context.Context, userID string, limit int) ([]models.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.transcripts[userID]
	limit = clampLimit(limit)
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]models.ChatMessage, len(all))
	copy(out, all)
	return out, nil
}

func (s *InMemoryStore) IsDuplicate(ctx context.Context, messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.dedup[messageID]
	return ok && rec.ProcessedAt != nil, nil
}

func (s *InMemoryStore) RecordInbound(ctx context.Context, messageID, sender string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.dedup[messageID]; ok {
		return rec.ProcessedAt == nil, nil
	}
	s.dedup[messageID] = DedupRecord{MessageID: messageID, Sender: sender, ReceivedAt: time.Now().UTC()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.dedup[messageID]
	if !ok {
		return nil
	}
	now := time.Now().UTC()
	rec.ProcessedAt = &now
	s.dedup[messageID] = rec
	return nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
