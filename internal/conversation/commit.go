package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/BTreeMap/RentBot/internal/models"
	"github.com/BTreeMap/RentBot/internal/util"
)

// MaxIDAttempts bounds how often a colliding human identifier is regenerated.
const MaxIDAttempts = 5

var (
	ErrInvalidPropertySelection = errors.New("invalid property selection")
	ErrInvalidUnitSelection     = errors.New("invalid unit selection")
	ErrPropertyNotFound         = errors.New("property not found")
	ErrUnitNotFound             = errors.New("unit not found")
	ErrIdentifierExhausted      = errors.New("could not generate a unique identifier")
)

// EntityStore is the storage the commit handlers need.
type EntityStore interface {
	CreateProperty(ctx context.Context, p *models.Property) error
	GetProperty(ctx context.Context, id string) (*models.Property, error)
	ListProperties(ctx context.Context, owner string) ([]models.Property, error)
	CreateUnit(ctx context.Context, u *models.Unit) error
	FindUnitByUnitID(ctx context.Context, unitID string) (*models.Unit, error)
	ListAvailableUnits(ctx context.Context) ([]models.Unit, error)
	UpdateUnitAvailability(ctx context.Context, id string, available bool) error
	CreateTenant(ctx context.Context, t *models.Tenant) error
	FindTenantByTenantID(ctx context.Context, tenantID string) (*models.Tenant, error)
}

type committer struct {
	store     EntityStore
	unitIDs   func() string
	tenantIDs func() string
}

func newCommitter(store EntityStore, unitIDs, tenantIDs func() string) *committer {
	if unitIDs == nil {
		unitIDs = util.GenerateUnitID
	}
	if tenantIDs == nil {
		tenantIDs = util.GenerateTenantID
	}
	return &committer{store: store, unitIDs: unitIDs, tenantIDs: tenantIDs}
}

// FormatMoney renders an amount without trailing zeros: 1500, 1200.5.
func FormatMoney(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// UniqueID draws identifiers from gen until taken reports a free one.
func UniqueID(ctx context.Context, gen func() string, taken func(context.Context, string) (bool, error)) (string, error) {
	for attempt := 1; attempt <= MaxIDAttempts; attempt++ {
		id := gen()
		exists, err := taken(ctx, id)
		if err != nil {
			return "", err
		}
		if !exists {
			return id, nil
		}
		slog.Warn("Identifier collision, regenerating", "id", id, "attempt", attempt)
	}
	return "", ErrIdentifierExhausted
}

func (c *committer) commitProperty(ctx context.Context, userID string, data Data) (string, error) {
	owner := data.String("owner")
	if owner == "" {
		owner = userID
	}
	p := &models.Property{
		Name:    data.String("name"),
		Address: data.String("address"),
		Type:    models.PropertyType(data.String("type")),
		Size:    data.Int("size"),
		Owner:   owner,
	}
	if err := c.store.CreateProperty(ctx, p); err != nil {
		return "", fmt.Errorf("failed to save property: %w", err)
	}
	slog.Info("Property committed", "userID", userID, "propertyID", p.ID, "name", p.Name)
	return fmt.Sprintf(`Great! I've added the property "%s" to your account. You can now add units to this property by saying "add unit".`, p.Name), nil
}

func (c *committer) resolveProperty(ctx context.Context, data Data) (*models.Property, error) {
	ref, found := data.Reference("property")
	if !found {
		return nil, ErrInvalidPropertySelection
	}
	if idx, positional := ref.Index(); positional {
		properties, err := c.store.ListProperties(ctx, "")
		if err != nil {
			return nil, err
		}
		p, inRange := pick(properties, idx)
		if !inRange {
			return nil, ErrInvalidPropertySelection
		}
		return &p, nil
	}
	id, _ := ref.Identifier()
	p, err := c.store.GetProperty(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrPropertyNotFound, id)
	}
	return p, nil
}

func (c *committer) commitUnit(ctx context.Context, userID string, data Data) (string, error) {
	property, err := c.resolveProperty(ctx, data)
	if err != nil {
		return "", fmt.Errorf("failed to save unit: %w", err)
	}
	unitID, err := UniqueID(ctx, c.unitIDs, func(ctx context.Context, id string) (bool, error) {
		u, err := c.store.FindUnitByUnitID(ctx, id)
		return u != nil, err
	})
	if err != nil {
		return "", fmt.Errorf("failed to save unit: %w", err)
	}

	u := &models.Unit{
		UnitID:      unitID,
		PropertyID:  property.ID,
		Floor:       data.String("floor"),
		Rent:        data.Float("rent"),
		IsAvailable: data.Bool("isAvailable"),
	}
	if err := c.store.CreateUnit(ctx, u); err != nil {
		return "", fmt.Errorf("failed to save unit: %w", err)
	}
	slog.Info("Unit committed", "userID", userID, "unitID", u.UnitID, "propertyID", property.ID)

	availability := "not available"
	if u.IsAvailable {
		availability = "available"
	}
	return fmt.Sprintf("Great! I've added unit %s to your property. This unit is on floor %s with a monthly rent of $%s and is currently %s for rent.",
		u.UnitID, u.Floor, FormatMoney(u.Rent), availability), nil
}

func (c *committer) resolveUnit(ctx context.Context, data Data) (*models.Unit, error) {
	ref, found := data.Reference("unit")
	if !found {
		return nil, ErrInvalidUnitSelection
	}
	if idx, positional := ref.Index(); positional {
		units, err := c.store.ListAvailableUnits(ctx)
		if err != nil {
			return nil, err
		}
		u, inRange := pick(units, idx)
		if !inRange {
			return nil, ErrInvalidUnitSelection
		}
		return &u, nil
	}
	id, _ := ref.Identifier()
	u, err := c.store.FindUnitByUnitID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnitNotFound, id)
	}
	return u, nil
}

// commitTenant persists the tenant and then marks its unit taken. The two
// writes are independent: if the second fails the tenant stays saved while
// the unit still shows as available, and the failure is reported.
func (c *committer) commitTenant(ctx context.Context, userID string, data Data) (string, error) {
	unit, err := c.resolveUnit(ctx, data)
	if err != nil {
		return "", fmt.Errorf("failed to save tenant: %w", err)
	}
	tenantID, err := UniqueID(ctx, c.tenantIDs, func(ctx context.Context, id string) (bool, error) {
		t, err := c.store.FindTenantByTenantID(ctx, id)
		return t != nil, err
	})
	if err != nil {
		return "", fmt.Errorf("failed to save tenant: %w", err)
	}

	t := &models.Tenant{
		TenantID: tenantID,
		Name:     data.String("name"),
		Contact: models.ContactInfo{
			Email: data.String("email"),
			Phone: data.String("phone"),
		},
		UnitID:     unit.ID,
		MoveInDate: data.String("moveInDate"),
		RentInfo: models.RentInfo{
			Amount:         data.Float("rentAmount"),
			DueDate:        data.Int("rentDueDate"),
			PaymentHistory: []models.Payment{},
		},
	}
	if err := c.store.CreateTenant(ctx, t); err != nil {
		return "", fmt.Errorf("failed to save tenant: %w", err)
	}
	if err := c.store.UpdateUnitAvailability(ctx, unit.ID, false); err != nil {
		slog.Error("Tenant saved but unit still marked available", "tenantID", t.TenantID, "unitID", unit.UnitID, "error", err)
		return "", fmt.Errorf("tenant %s was saved but unit %s could not be marked as occupied: %w", t.TenantID, unit.UnitID, err)
	}
	slog.Info("Tenant committed", "userID", userID, "tenantID", t.TenantID, "unitID", unit.UnitID)

	return fmt.Sprintf("Great! I've added %s as a tenant for unit %s. The tenant ID is %s. The move-in date is set to %s with a monthly rent of $%s due on day %d of each month.",
		t.Name, unit.UnitID, t.TenantID, t.MoveInDate, FormatMoney(t.RentInfo.Amount), t.RentInfo.DueDate), nil
}
