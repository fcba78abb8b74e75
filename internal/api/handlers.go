package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BTreeMap/RentBot/internal/conversation"
	"github.com/BTreeMap/RentBot/internal/models"
	"github.com/BTreeMap/RentBot/internal/util"
	"github.com/go-chi/chi/v5"
)

// chatRequest is the body of POST /api/webhook.
type chatRequest struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

type chatResponse struct {
	Response string `json:"response"`
}

type flowResponse struct {
	UserID string            `json:"userId"`
	Active bool              `json:"active"`
	Flow   conversation.Kind `json:"flow,omitempty"`
	Step   int               `json:"step"`
}

func (s *Server) createPropertyHandler(w http.ResponseWriter, r *http.Request) {
	var p models.Property
	if err := decodeJSON(r, &p); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	p.ID = ""
	if err := p.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if err := s.st.CreateProperty(r.Context(), &p); err != nil {
		slog.Error("Server.createPropertyHandler: store failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create property"))
		return
	}
	slog.Info("Property created via API", "id", p.ID, "name", p.Name)
	writeJSONResponse(w, http.StatusCreated, models.Success(p))
}

func (s *Server) listPropertiesHandler(w http.ResponseWriter, r *http.Request) {
	properties, err := s.st.ListProperties(r.Context(), r.URL.Query().Get("owner"))
	if err != nil {
		slog.Error("Server.listPropertiesHandler: store failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list properties"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(nonNil(properties)))
}

func (s *Server) getPropertyHandler(w http.ResponseWriter, r *http.Request) {
	p, err := s.st.GetProperty(r.Context(), chi.URLParam(r, "id"))
	respondRecord(w, "property", p, err)
}

func (s *Server) createUnitHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var u models.Unit
	if err := decodeJSON(r, &u); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	u.ID = ""
	if err := u.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	property, err := s.st.GetProperty(ctx, u.PropertyID)
	if err != nil {
		slog.Error("Server.createUnitHandler: property lookup failed", "error", err, "propertyID", u.PropertyID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create unit"))
		return
	}
	if property == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Property not found"))
		return
	}

	u.UnitID, err = conversation.UniqueID(ctx, util.GenerateUnitID, func(ctx context.Context, id string) (bool, error) {
		existing, err := s.st.FindUnitByUnitID(ctx, id)
		return existing != nil, err
	})
	if err == nil {
		err = s.st.CreateUnit(ctx, &u)
	}
	if err != nil {
		slog.Error("Server.createUnitHandler: store failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create unit"))
		return
	}
	slog.Info("Unit created via API", "unitID", u.UnitID, "propertyID", u.PropertyID)
	writeJSONResponse(w, http.StatusCreated, models.Success(u))
}

func (s *Server) listUnitsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		units []models.Unit
		err   error
	)
	if q.Get("available") == "true" {
		units, err = s.st.ListAvailableUnits(r.Context())
	} else {
		units, err = s.st.ListUnits(r.Context(), q.Get("property"))
	}
	if err != nil {
		slog.Error("Server.listUnitsHandler: store failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list units"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(nonNil(units)))
}

// getUnitHandler accepts a record ID or a human unit ID such as U7K2QF.
func (s *Server) getUnitHandler(w http.ResponseWriter, r *http.Request) {
	u, err := s.findUnit(r.Context(), chi.URLParam(r, "id"))
	respondRecord(w, "unit", u, err)
}

func (s *Server) findUnit(ctx context.Context, id string) (*models.Unit, error) {
	u, err := s.st.GetUnit(ctx, id)
	if err != nil || u != nil {
		return u, err
	}
	return s.st.FindUnitByUnitID(ctx, strings.ToUpper(id))
}

func (s *Server) findTenant(ctx context.Context, id string) (*models.Tenant, error) {
	t, err := s.st.GetTenant(ctx, id)
	if err != nil || t != nil {
		return t, err
	}
	return s.st.FindTenantByTenantID(ctx, strings.ToUpper(id))
}

// createTenantHandler saves the tenant and marks its unit occupied. The
// unit_id field may carry either form of unit identifier.
func (s *Server) createTenantHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var t models.Tenant
	if err := decodeJSON(r, &t); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	t.ID = ""
	if err := t.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	unit, err := s.findUnit(ctx, t.UnitID)
	if err != nil {
		slog.Error("Server.createTenantHandler: unit lookup failed", "error", err, "unitID", t.UnitID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create tenant"))
		return
	}
	if unit == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unit not found"))
		return
	}
	t.UnitID = unit.ID

	t.TenantID, err = conversation.UniqueID(ctx, util.GenerateTenantID, func(ctx context.Context, id string) (bool, error) {
		existing, err := s.st.FindTenantByTenantID(ctx, id)
		return existing != nil, err
	})
	if err == nil {
		err = s.st.CreateTenant(ctx, &t)
	}
	if err != nil {
		slog.Error("Server.createTenantHandler: store failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create tenant"))
		return
	}

	if err := s.st.UpdateUnitAvailability(ctx, unit.ID, false); err != nil {
		slog.Error("Server.createTenantHandler: tenant saved but unit still available", "error", err, "tenantID", t.TenantID, "unitID", unit.UnitID)
		writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage(
			fmt.Sprintf("Tenant saved, but unit %s could not be marked as occupied", unit.UnitID), t))
		return
	}
	slog.Info("Tenant created via API", "tenantID", t.TenantID, "unitID", unit.UnitID)
	writeJSONResponse(w, http.StatusCreated, models.Success(t))
}

// listTenantsHandler filters by ?unit= or, failing that, ?property=.
func (s *Server) listTenantsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	tenants, err := s.tenantsFor(ctx, q.Get("unit"), q.Get("property"))
	if err != nil {
		slog.Error("Server.listTenantsHandler: store failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list tenants"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(nonNil(tenants)))
}

func (s *Server) tenantsFor(ctx context.Context, unitRef, propertyID string) ([]models.Tenant, error) {
	if unitRef != "" {
		unit, err := s.findUnit(ctx, unitRef)
		if err != nil || unit == nil {
			return nil, err
		}
		return s.st.ListTenants(ctx, unit.ID)
	}
	if propertyID == "" {
		return s.st.ListTenants(ctx, "")
	}
	units, err := s.st.ListUnits(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	var tenants []models.Tenant
	for _, u := range units {
		ts, err := s.st.ListTenants(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, ts...)
	}
	return tenants, nil
}

func (s *Server) getTenantHandler(w http.ResponseWriter, r *http.Request) {
	t, err := s.findTenant(r.Context(), chi.URLParam(r, "id"))
	respondRecord(w, "tenant", t, err)
}

// summaryHandler serves GET /api/summary/{type}/{id}.
func (s *Server) summaryHandler(w http.ResponseWriter, r *http.Request) {
	if s.summarizer == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Summaries are not configured"))
		return
	}
	ctx := r.Context()
	entity := strings.ToLower(chi.URLParam(r, "type"))
	id := chi.URLParam(r, "id")

	var (
		record any
		found  bool
		err    error
	)
	switch entity {
	case "property":
		var p *models.Property
		p, err = s.st.GetProperty(ctx, id)
		record, found = p, p != nil
	case "unit":
		var u *models.Unit
		u, err = s.findUnit(ctx, id)
		record, found = u, u != nil
	case "tenant":
		var t *models.Tenant
		t, err = s.findTenant(ctx, id)
		record, found = t, t != nil
	default:
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid type. Must be property, unit, or tenant"))
		return
	}
	if err != nil {
		slog.Error("Server.summaryHandler: lookup failed", "error", err, "type", entity, "id", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(fmt.Sprintf("Failed to load %s", entity)))
		return
	}
	if !found {
		writeJSONResponse(w, http.StatusNotFound, models.Error(fmt.Sprintf("%s not found", capitalize(entity))))
		return
	}

	summary, err := s.summarizer.GenerateEntitySummary(ctx, entity, record)
	if err != nil {
		slog.Error("Server.summaryHandler: summary failed", "error", err, "type", entity, "id", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to generate summary"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"summary": summary}))
}

func (s *Server) flowHandler(w http.ResponseWriter, r *http.Request) {
	if s.flows == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Flow inspection is not configured"))
		return
	}
	userID := chi.URLParam(r, "userID")
	kind, step, active := s.flows.ActiveFlow(userID)
	writeJSONResponse(w, http.StatusOK, models.Success(flowResponse{UserID: userID, Active: active, Flow: kind, Step: step}))
}

// chatWebhookHandler answers a message synchronously through the bot.
func (s *Server) chatWebhookHandler(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.Message) == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("userId and message are required"))
		return
	}

	reply, err := s.bot.HandleMessage(r.Context(), req.UserID, req.Message)
	if err != nil {
		slog.Error("Server.chatWebhookHandler: bot failed", "error", err, "userID", req.UserID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(chatResponse{Response: reply}))
}

// respondRecord writes a single looked-up record, 404 when it is nil.
func respondRecord[T any](w http.ResponseWriter, entity string, record *T, err error) {
	if err != nil {
		slog.Error("Server.respondRecord: lookup failed", "error", err, "type", entity)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(fmt.Sprintf("Failed to load %s", entity)))
		return
	}
	if record == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error(fmt.Sprintf("%s not found", capitalize(entity))))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(record))
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
