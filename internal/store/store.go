// Package store provides storage backends for RentBot.
//
// Properties, units, tenants, chat transcripts and inbound message
// deduplication records live behind the Store interface, backed by memory,
// SQLite or PostgreSQL.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/BTreeMap/RentBot/internal/models"
)

// DefaultTranscriptLimit is the number of transcript entries returned when no limit is given.
const DefaultTranscriptLimit = 20

// ErrNotFound is returned by update operations that match no record.
// Lookups return (nil, nil) instead.
var ErrNotFound = errors.New("record not found")

// PropertyRepo persists properties.
type PropertyRepo interface {
	CreateProperty(ctx context.Context, p *models.Property) error
	GetProperty(ctx context.Context, id string) (*models.Property, error)
	// ListProperties returns properties ordered by name. An empty owner lists all.
	ListProperties(ctx context.Context, owner string) ([]models.Property, error)
}

// UnitRepo persists units.
type UnitRepo interface {
	CreateUnit(ctx context.Context, u *models.Unit) error
	GetUnit(ctx context.Context, id string) (*models.Unit, error)
	FindUnitByUnitID(ctx context.Context, unitID string) (*models.Unit, error)
	// ListUnits returns units ordered by unit ID. An empty propertyID lists all.
	ListUnits(ctx context.Context, propertyID string) ([]models.Unit, error)
	// ListAvailableUnits returns available units ordered by unit ID.
	ListAvailableUnits(ctx context.Context) ([]models.Unit, error)
	UpdateUnitAvailability(ctx context.Context, id string, available bool) error
}

// TenantRepo persists tenants.
type TenantRepo interface {
	CreateTenant(ctx context.Context, t *models.Tenant) error
	GetTenant(ctx context.Context, id string) (*models.Tenant, error)
	FindTenantByTenantID(ctx context.Context, tenantID string) (*models.Tenant, error)
	// ListTenants returns tenants ordered by tenant ID. An empty unitID lists all.
	ListTenants(ctx context.Context, unitID string) ([]models.Tenant, error)
}

// TranscriptRepo keeps per-user conversation history.
type TranscriptRepo interface {
	AppendMessage(ctx context.Context, userID string, msg models.ChatMessage) error
	// RecentMessages returns up to limit of the newest entries, oldest first.
	RecentMessages(ctx context.Context, userID string, limit int) ([]models.ChatMessage, error)
}

// Store is the full persistence surface used by RentBot.
type Store interface {
	PropertyRepo
	UnitRepo
	TenantRepo
	TranscriptRepo
	DedupRepo
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports "postgres" for PostgreSQL URLs or keyword DSNs, "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") || strings.Contains(lower, "user=") {
		return "postgres"
	}
	return "sqlite3"
}

// Open returns the backend matching dsn.
func Open(dsn string) (Store, error) {
	if DetectDSNType(dsn) == "postgres" {
		pg, err := NewPostgresStore(WithPostgresDSN(dsn))
		if err != nil {
			return nil, err
		}
		return pg, nil
	}
	lite, err := NewSQLiteStore(WithSQLiteDSN(dsn))
	if err != nil {
		return nil, err
	}
	return lite, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultTranscriptLimit
	}
	return limit
}

func reverseMessages(msgs []models.ChatMessage) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
