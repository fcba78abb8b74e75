// Package testutil provides shared helpers for RentBot tests: HTTP request
// and envelope assertions, and seeded rental records.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/RentBot/internal/models"
	"github.com/BTreeMap/RentBot/internal/store"
)

// Rentals is the record set written by SeedRentals.
type Rentals struct {
	Property models.Property
	Occupied models.Unit
	Vacant   models.Unit
	Tenant   models.Tenant
}

// Records is the storage SeedRentals writes to.
type Records interface {
	store.PropertyRepo
	store.UnitRepo
	store.TenantRepo
}

// SeedRentals stores one property with an occupied and a vacant unit, and
// a tenant in the occupied one.
func SeedRentals(t testing.TB, st Records) Rentals {
	t.Helper()
	ctx := context.Background()

	r := Rentals{
		Property: models.Property{Name: "Maple Court", Address: "12 Maple Street", Type: models.PropertyTypeApartment, Size: 4200, Owner: "15550001111"},
	}
	if err := st.CreateProperty(ctx, &r.Property); err != nil {
		t.Fatalf("failed to seed property: %v", err)
	}

	r.Occupied = models.Unit{UnitID: "U1001A", PropertyID: r.Property.ID, Floor: "1", Rent: 1500}
	r.Vacant = models.Unit{UnitID: "U2002B", PropertyID: r.Property.ID, Floor: "2", Rent: 1650.5, IsAvailable: true}
	for _, u := range []*models.Unit{&r.Occupied, &r.Vacant} {
		if err := st.CreateUnit(ctx, u); err != nil {
			t.Fatalf("failed to seed unit %s: %v", u.UnitID, err)
		}
	}

	r.Tenant = models.Tenant{
		TenantID:   "T0001C",
		Name:       "Ada Lovelace",
		Contact:    models.ContactInfo{Email: "ada@example.com"},
		UnitID:     r.Occupied.ID,
		MoveInDate: "2024-03-01",
		RentInfo:   models.RentInfo{Amount: 1500, DueDate: 1, PaymentHistory: []models.Payment{}},
	}
	if err := st.CreateTenant(ctx, &r.Tenant); err != nil {
		t.Fatalf("failed to seed tenant: %v", err)
	}
	return r
}

// AssertHTTPStatus fails the test when the status codes differ.
func AssertHTTPStatus(t testing.TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// DecodeEnvelope decodes an APIResponse and checks its status field.
func DecodeEnvelope(t testing.TB, rr *httptest.ResponseRecorder, expectedStatus models.APIStatus) models.APIResponse {
	t.Helper()
	var response models.APIResponse
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}
	if response.Status != string(expectedStatus) {
		t.Errorf("expected status %q, got %q (message %q)", expectedStatus, response.Status, response.Message)
	}
	return response
}

// DecodeResult re-decodes the envelope's result into target.
func DecodeResult(t testing.TB, response models.APIResponse, target interface{}) {
	t.Helper()
	MustUnmarshalJSON(t, MustMarshalJSON(t, response.Result), target)
}

// JSONRequest builds a request with body encoded as JSON; a nil body sends none.
func JSONRequest(t testing.TB, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		reqBody.Write(MustMarshalJSON(t, body))
	}
	req, err := http.NewRequest(method, url, &reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// Serve runs req through h and returns the recorded response.
func Serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

// MustMarshalJSON marshals v and fails the test on error.
func MustMarshalJSON(t testing.TB, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals data into target and fails the test on error.
func MustUnmarshalJSON(t testing.TB, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
