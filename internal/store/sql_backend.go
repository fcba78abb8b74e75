package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/RentBot/internal/models"
	"github.com/google/uuid"
)

// sqlBackend holds the queries shared by the SQLite and PostgreSQL stores.
// Queries are written with '?' placeholders and rebound per dialect.
type sqlBackend struct {
	db   *sql.DB
	name string
	bind func(string) string
	// orderByName yields byte-wise name ordering on both engines.
	orderByName string
}

func (s *sqlBackend) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.bind(query), args...)
}

func (s *sqlBackend) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.bind(query), args...)
}

func (s *sqlBackend) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.bind(query), args...)
}

func stamp(created *time.Time, updated *time.Time) {
	now := time.Now().UTC()
	if created.IsZero() {
		*created = now
	}
	*updated = now
}

func (s *sqlBackend) CreateProperty(ctx context.Context, p *models.Property) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	stamp(&p.CreatedAt, &p.UpdatedAt)
	_, err := s.exec(ctx, `INSERT INTO properties (`+propertyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Address, string(p.Type), p.Size, p.Owner, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		slog.Error(s.name+" CreateProperty failed", "error", err, "name", p.Name)
		return fmt.Errorf("failed to insert property %q: %w", p.Name, err)
	}
	slog.Debug(s.name+" CreateProperty succeeded", "id", p.ID, "name", p.Name)
	return nil
}

func (s *sqlBackend) GetProperty(ctx context.Context, id string) (*models.Property, error) {
	p, err := scanProperty(s.queryRow(ctx, `SELECT `+propertyColumns+` FROM properties WHERE id = ?`, id))
	if noRows(err) {
		slog.Debug(s.name+" GetProperty not found", "id", id)
		return nil, nil
	}
	if err != nil {
		slog.Error(s.name+" GetProperty failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get property %s: %w", id, err)
	}
	return &p, nil
}

func (s *sqlBackend) ListProperties(ctx context.Context, owner string) ([]models.Property, error) {
	q := `SELECT ` + propertyColumns + ` FROM properties`
	var args []any
	if owner != "" {
		q += ` WHERE owner = ?`
		args = append(args, owner)
	}
	q += ` ORDER BY ` + s.orderByName + `, id`

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		slog.Error(s.name+" ListProperties query failed", "error", err)
		return nil, fmt.Errorf("failed to query properties: %w", err)
	}
	defer rows.Close()

	properties := []models.Property{}
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan property row: %w", err)
		}
		properties = append(properties, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate property rows: %w", err)
	}
	slog.Debug(s.name+" ListProperties succeeded", "count", len(properties), "owner", owner)
	return properties, nil
}

func (s *sqlBackend) CreateUnit(ctx context.Context, u *models.Unit) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	stamp(&u.CreatedAt, &u.UpdatedAt)
	_, err := s.exec(ctx, `INSERT INTO units (`+unitColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.UnitID, u.PropertyID, u.Floor, u.Rent, u.IsAvailable, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		slog.Error(s.name+" CreateUnit failed", "error", err, "unitID", u.UnitID)
		return fmt.Errorf("failed to insert unit %s: %w", u.UnitID, err)
	}
	slog.Debug(s.name+" CreateUnit succeeded", "id", u.ID, "unitID", u.UnitID, "propertyID", u.PropertyID)
	return nil
}

func (s *sqlBackend) getUnitBy(ctx context.Context, column, value string) (*models.Unit, error) {
	u, err := scanUnit(s.queryRow(ctx, `SELECT `+unitColumns+` FROM units WHERE `+column+` = ?`, value))
	if noRows(err) {
		slog.Debug(s.name+" unit not found", column, value)
		return nil, nil
	}
	if err != nil {
		slog.Error(s.name+" unit lookup failed", "error", err, column, value)
		return nil, fmt.Errorf("failed to get unit %s: %w", value, err)
	}
	return &u, nil
}

func (s *sqlBackend) GetUnit(ctx context.Context, id string) (*models.Unit, error) {
	return s.getUnitBy(ctx, "id", id)
}

func (s *sqlBackend) FindUnitByUnitID(ctx context.Context, unitID string) (*models.Unit, error) {
	return s.getUnitBy(ctx, "unit_id", unitID)
}

func (s *sqlBackend) listUnits(ctx context.Context, where string, args ...any) ([]models.Unit, error) {
	rows, err := s.query(ctx, `SELECT `+unitColumns+` FROM units`+where+` ORDER BY unit_id`, args...)
	if err != nil {
		slog.Error(s.name+" list units query failed", "error", err)
		return nil, fmt.Errorf("failed to query units: %w", err)
	}
	defer rows.Close()

	units := []models.Unit{}
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan unit row: %w", err)
		}
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate unit rows: %w", err)
	}
	return units, nil
}

func (s *sqlBackend) ListUnits(ctx context.Context, propertyID string) ([]models.Unit, error) {
	if propertyID == "" {
		return s.listUnits(ctx, "")
	}
	return s.listUnits(ctx, ` WHERE property_id = ?`, propertyID)
}

func (s *sqlBackend) ListAvailableUnits(ctx context.Context) ([]models.Unit, error) {
	return s.listUnits(ctx, ` WHERE is_available = ?`, true)
}

func (s *sqlBackend) UpdateUnitAvailability(ctx context.Context, id string, available bool) error {
	res, err := s.exec(ctx, `UPDATE units SET is_available = ?, updated_at = ? WHERE id = ?`, available, time.Now().UTC(), id)
	if err != nil {
		slog.Error(s.name+" UpdateUnitAvailability failed", "error", err, "id", id)
		return fmt.Errorf("failed to update unit %s availability: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check updated rows for unit %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("unit %s: %w", id, ErrNotFound)
	}
	slog.Debug(s.name+" UpdateUnitAvailability succeeded", "id", id, "available", available)
	return nil
}

func (s *sqlBackend) CreateTenant(ctx context.Context, t *models.Tenant) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	history, err := encodePaymentHistory(t.RentInfo.PaymentHistory)
	if err != nil {
		return err
	}
	stamp(&t.CreatedAt, &t.UpdatedAt)
	_, err = s.exec(ctx, `INSERT INTO tenants (`+tenantColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.TenantID, t.Name, t.Contact.Email, t.Contact.Phone, t.UnitID, t.MoveInDate,
		t.RentInfo.Amount, t.RentInfo.DueDate, history, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		slog.Error(s.name+" CreateTenant failed", "error", err, "tenantID", t.TenantID)
		return fmt.Errorf("failed to insert tenant %s: %w", t.TenantID, err)
	}
	slog.Debug(s.name+" CreateTenant succeeded", "id", t.ID, "tenantID", t.TenantID, "unitID", t.UnitID)
	return nil
}

func (s *sqlBackend) getTenantBy(ctx context.Context, column, value string) (*models.Tenant, error) {
	t, err := scanTenant(s.queryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE `+column+` = ?`, value))
	if noRows(err) {
		slog.Debug(s.name+" tenant not found", column, value)
		return nil, nil
	}
	if err != nil {
		slog.Error(s.name+" tenant lookup failed", "error", err, column, value)
		return nil, fmt.Errorf("failed to get tenant %s: %w", value, err)
	}
	return &t, nil
}

func (s *sqlBackend) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	return s.getTenantBy(ctx, "id", id)
}

func (s *sqlBackend) FindTenantByTenantID(ctx context.Context, tenantID string) (*models.Tenant, error) {
	return s.getTenantBy(ctx, "tenant_id", tenantID)
}

func (s *sqlBackend) ListTenants(ctx context.Context, unitID string) ([]models.Tenant, error) {
	q := `SELECT ` + tenantColumns + ` FROM tenants`
	var args []any
	if unitID != "" {
		q += ` WHERE unit_id = ?`
		args = append(args, unitID)
	}
	rows, err := s.query(ctx, q+` ORDER BY tenant_id`, args...)
	if err != nil {
		slog.Error(s.name+" ListTenants query failed", "error", err)
		return nil, fmt.Errorf("failed to query tenants: %w", err)
	}
	defer rows.Close()

	tenants := []models.Tenant{}
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant row: %w", err)
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tenant rows: %w", err)
	}
	return tenants, nil
}

func (s *sqlBackend) AppendMessage(ctx context.Context, userID string, msg models.ChatMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	_, err := s.exec(ctx, `INSERT INTO chat_messages (user_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		userID, string(msg.Role), msg.Content, msg.Timestamp)
	if err != nil {
		slog.Error(s.name+" AppendMessage failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to append message for %s: %w", userID, err)
	}
	return nil
}

func (s *sqlBackend) RecentMessages(ctx context.Context, userID string, limit int) ([]models.ChatMessage, error) {
	rows, err := s.query(ctx,
		`SELECT role, content, created_at FROM chat_messages WHERE user_id = ? ORDER BY id DESC LIMIT ?`,
		userID, clampLimit(limit))
	if err != nil {
		slog.Error(s.name+" RecentMessages query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query messages for %s: %w", userID, err)
	}
	defer rows.Close()

	msgs := []models.ChatMessage{}
	for rows.Next() {
		var m models.ChatMessage
		var role string
		if err := rows.Scan(&role, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		m.Role = models.ChatRole(role)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	reverseMessages(msgs)
	return msgs, nil
}

func (s *sqlBackend) IsDuplicate(ctx context.Context, messageID string) (bool, error) {
	var id string
	err := s.queryRow(ctx, `SELECT message_id FROM inbound_dedup WHERE message_id = ? AND processed_at IS NOT NULL`, messageID).Scan(&id)
	if noRows(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return true, nil
}

func (s *sqlBackend) RecordInbound(ctx context.Context, messageID, sender string) (bool, error) {
	res, err := s.exec(ctx,
		`INSERT INTO inbound_dedup (message_id, sender, received_at) VALUES (?, ?, ?)
		 ON CONFLICT (message_id) DO UPDATE SET sender = excluded.sender WHERE inbound_dedup.processed_at IS NULL`,
		messageID, sender, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("dedup rows affected check failed: %w", err)
	}
	return n > 0, nil
}

func (s *sqlBackend) MarkProcessed(ctx context.Context, messageID string) error {
	_, err := s.exec(ctx, `UPDATE inbound_dedup SET processed_at = ? WHERE message_id = ?`, time.Now().UTC(), messageID)
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

func (s *sqlBackend) Close() error {
	slog.Debug("Closing " + s.name + " database connection")
	if err := s.db.Close(); err != nil {
		slog.Error("Failed to close "+s.name+" database", "error", err)
		return err
	}
	return nil
}
