package conversation

import (
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		entity Entity
		field  string
		input  string
		valid  bool
		want   any
	}{
		{"property name ok", EntityProperty, "name", "  Oak Villa ", true, "Oak Villa"},
		{"property name short", EntityProperty, "name", " A ", false, nil},
		{"property name two runes", EntityProperty, "name", "Öz", true, "Öz"},
		{"address ok", EntityProperty, "address", "12 Elm", true, "12 Elm"},
		{"address short", EntityProperty, "address", "12 E", false, nil},
		{"type lower", EntityProperty, "type", "apartment", true, "Apartment"},
		{"type upper", EntityProperty, "type", "CONDO", true, "Condo"},
		{"type unknown", EntityProperty, "type", "castle", false, nil},
		{"size with units", EntityProperty, "size", "1,200 sqft", true, 1200},
		{"size letters", EntityProperty, "size", "abc", false, nil},
		{"size zero", EntityProperty, "size", "0", false, nil},
		{"size empty", EntityProperty, "size", "", false, nil},

		{"floor ok", EntityUnit, "floor", " 3B ", true, "3B"},
		{"floor empty", EntityUnit, "floor", "   ", false, nil},
		{"rent currency", EntityUnit, "rent", "$1,500", true, 1500.0},
		{"rent decimal", EntityUnit, "rent", "1200.50/mo", true, 1200.5},
		{"rent double dot", EntityUnit, "rent", "1.2.3", true, 1.2},
		{"rent zero", EntityUnit, "rent", "0", false, nil},
		{"rent words", EntityUnit, "rent", "free", false, nil},
		{"rent dot only", EntityUnit, "rent", ".", false, nil},
		{"available yes", EntityUnit, "isAvailable", " YES ", true, true},
		{"available y", EntityUnit, "isAvailable", "y", true, true},
		{"available word", EntityUnit, "isAvailable", "Available", true, true},
		{"available one", EntityUnit, "isAvailable", "1", true, true},
		{"available no", EntityUnit, "isAvailable", "no", true, false},
		{"available gibberish", EntityUnit, "isAvailable", "maybe", true, false},

		{"tenant name ok", EntityTenant, "name", "Jo", true, "Jo"},
		{"tenant name short", EntityTenant, "name", "J", false, nil},
		{"email empty", EntityTenant, "email", "", true, ""},
		{"email ok", EntityTenant, "email", "jo@example.com", true, "jo@example.com"},
		{"email no tld", EntityTenant, "email", "jo@example", false, nil},
		{"email spaces", EntityTenant, "email", "jo @example.com", false, nil},
		{"phone empty", EntityTenant, "phone", "", true, ""},
		{"phone formatted", EntityTenant, "phone", "+1 (555) 010-2000", true, "+1 (555) 010-2000"},
		{"phone letters", EntityTenant, "phone", "555-CALL", false, nil},
		{"date ok", EntityTenant, "moveInDate", "2024-03-01", true, "2024-03-01"},
		{"date leap day", EntityTenant, "moveInDate", "2024-02-29", true, "2024-02-29"},
		{"date not leap", EntityTenant, "moveInDate", "2023-02-29", false, nil},
		{"date month 13", EntityTenant, "moveInDate", "2024-13-01", false, nil},
		{"date format", EntityTenant, "moveInDate", "03/01/2024", false, nil},
		{"date short", EntityTenant, "moveInDate", "2024-3-1", false, nil},
		{"rent amount", EntityTenant, "rentAmount", "$1,500", true, 1500.0},
		{"rent amount negative sign stripped", EntityTenant, "rentAmount", "-5", true, 5.0},
		{"due day ok", EntityTenant, "rentDueDate", "1", true, 1},
		{"due day 31", EntityTenant, "rentDueDate", "31", true, 31},
		{"due day suffix", EntityTenant, "rentDueDate", "15th", true, 15},
		{"due day zero", EntityTenant, "rentDueDate", "0", false, nil},
		{"due day 32", EntityTenant, "rentDueDate", "32", false, nil},
		{"due day words", EntityTenant, "rentDueDate", "first", false, nil},

		{"unknown property field", EntityProperty, "color", "blue", false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Validate(tt.entity, tt.field, tt.input)
			if got.Valid != tt.valid {
				t.Fatalf("Validate(%s, %s, %q).Valid = %v, want %v (message %q)", tt.entity, tt.field, tt.input, got.Valid, tt.valid, got.Message)
			}
			if !tt.valid {
				if got.Message == "" {
					t.Error("expected an explanatory message for invalid input")
				}
				return
			}
			if got.Value != tt.want {
				t.Errorf("Validate(%s, %s, %q).Value = %#v, want %#v", tt.entity, tt.field, tt.input, got.Value, tt.want)
			}
		})
	}
}

func TestValidateUnknownFieldMessage(t *testing.T) {
	got := Validate(EntityUnit, "color", "blue")
	if got.Message != "Unknown unit field: color" {
		t.Errorf("unexpected message: %q", got.Message)
	}
}

func TestReferenceValidators(t *testing.T) {
	tests := []struct {
		input      string
		positional bool
		index      int
		id         string
	}{
		{"2", true, 2, ""},
		{" 10 ", true, 10, ""},
		{"0", true, 0, ""},
		{"99999999999999999999999", true, 0, ""},
		{"U1234A", false, 0, "U1234A"},
		{"2a", false, 0, "2a"},
		{"-1", false, 0, "-1"},
	}
	for _, tt := range tests {
		res := Validate(EntityTenant, "unit", tt.input)
		if !res.Valid {
			t.Fatalf("unit reference %q rejected: %s", tt.input, res.Message)
		}
		ref, isRef := res.Value.(Reference)
		if !isRef {
			t.Fatalf("expected Reference value for %q, got %T", tt.input, res.Value)
		}
		idx, positional := ref.Index()
		if positional != tt.positional || idx != tt.index {
			t.Errorf("%q: Index() = %d, %v; want %d, %v", tt.input, idx, positional, tt.index, tt.positional)
		}
		id, direct := ref.Identifier()
		if direct == tt.positional || id != tt.id {
			t.Errorf("%q: Identifier() = %q, %v; want %q", tt.input, id, direct, tt.id)
		}
	}

	if res := Validate(EntityUnit, "property", "   "); res.Valid {
		t.Error("expected blank property reference to be rejected")
	}
}

func TestIsCancellation(t *testing.T) {
	for _, in := range []string{"cancel", " Cancel ", "STOP", "quit", "exit\n", "NeverMind"} {
		if !IsCancellation(in) {
			t.Errorf("expected %q to cancel", in)
		}
	}
	for _, in := range []string{"cancel it", "never mind", "", "stopping"} {
		if IsCancellation(in) {
			t.Errorf("did not expect %q to cancel", in)
		}
	}
}

func TestNewDefinitionRejectsBadFields(t *testing.T) {
	if _, err := NewDefinition(KindAddProperty, EntityProperty, []Step{{"name", "?"}, {"name", "?"}}); err == nil {
		t.Error("expected duplicate field to be rejected")
	}
	if _, err := NewDefinition(KindAddProperty, EntityProperty, []Step{{"colour", "?"}}); err == nil {
		t.Error("expected field without validator to be rejected")
	}
	if _, err := NewDefinition(KindAddProperty, EntityProperty, nil); err == nil {
		t.Error("expected empty definition to be rejected")
	}

	defs := DefaultDefinitions()
	want := map[Kind][]string{
		KindAddProperty: {"name", "address", "type", "size"},
		KindAddUnit:     {"property", "floor", "rent", "isAvailable"},
		KindAddTenant:   {"unit", "name", "email", "phone", "moveInDate", "rentAmount", "rentDueDate"},
	}
	for kind, fields := range want {
		got := defs[kind].Fields()
		if len(got) != len(fields) {
			t.Fatalf("%s: expected %d fields, got %d", kind, len(fields), len(got))
		}
		for i := range fields {
			if got[i] != fields[i] {
				t.Errorf("%s step %d: expected %s, got %s", kind, i, fields[i], got[i])
			}
		}
	}
}
