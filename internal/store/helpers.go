package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/BTreeMap/RentBot/internal/models"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const (
	propertyColumns = `id, name, address, type, size, owner, created_at, updated_at`
	unitColumns     = `id, unit_id, property_id, floor, rent, is_available, created_at, updated_at`
	tenantColumns   = `id, tenant_id, name, email, phone, unit_id, move_in_date, rent_amount, rent_due_date, payment_history, created_at, updated_at`
)

func scanProperty(row rowScanner) (models.Property, error) {
	var p models.Property
	var propertyType string
	err := row.Scan(&p.ID, &p.Name, &p.Address, &propertyType, &p.Size, &p.Owner, &p.CreatedAt, &p.UpdatedAt)
	p.Type = models.PropertyType(propertyType)
	return p, err
}

func scanUnit(row rowScanner) (models.Unit, error) {
	var u models.Unit
	err := row.Scan(&u.ID, &u.UnitID, &u.PropertyID, &u.Floor, &u.Rent, &u.IsAvailable, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func scanTenant(row rowScanner) (models.Tenant, error) {
	var t models.Tenant
	var history []byte
	err := row.Scan(
		&t.ID, &t.TenantID, &t.Name, &t.Contact.Email, &t.Contact.Phone, &t.UnitID, &t.MoveInDate,
		&t.RentInfo.Amount, &t.RentInfo.DueDate, &history, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return t, err
	}
	t.RentInfo.PaymentHistory = []models.Payment{}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &t.RentInfo.PaymentHistory); err != nil {
			return t, fmt.Errorf("failed to decode payment history for tenant %s: %w", t.TenantID, err)
		}
	}
	return t, nil
}

func encodePaymentHistory(history []models.Payment) (string, error) {
	if history == nil {
		history = []models.Payment{}
	}
	b, err := json.Marshal(history)
	if err != nil {
		return "", fmt.Errorf("failed to encode payment history: %w", err)
	}
	return string(b), nil
}

// rebindDollar rewrites '?' placeholders to PostgreSQL's $N form.
// Queries in this package never contain literal question marks.
func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func rebindNone(query string) string { return query }

// noRows converts sql.ErrNoRows into the (nil, nil) lookup convention.
func noRows(err error) bool {
	return err == sql.ErrNoRows
}
