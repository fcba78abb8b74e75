package conversation

import (
	"fmt"
)

// Kind identifies a multi-step data collection flow.
type Kind string

const (
	KindAddProperty Kind = "add_property"
	KindAddUnit     Kind = "add_unit"
	KindAddTenant   Kind = "add_tenant"
)

// Entity is the record type a flow produces.
type Entity string

const (
	EntityProperty Entity = "property"
	EntityUnit     Entity = "unit"
	EntityTenant   Entity = "tenant"
)

// Step is one question of a flow.
type Step struct {
	Field  string
	Prompt string
}

// Definition is the immutable description of a flow.
type Definition struct {
	Kind       Kind
	Entity     Entity
	steps      []Step
	validators []Validator
}

// NewDefinition resolves a validator for every step. Duplicate or unknown
// fields are programming errors and are reported here rather than mid-conversation.
func NewDefinition(kind Kind, entity Entity, steps []Step) (*Definition, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("flow %s has no steps", kind)
	}
	def := &Definition{Kind: kind, Entity: entity, steps: steps, validators: make([]Validator, len(steps))}
	seen := make(map[string]bool, len(steps))
	for i, step := range steps {
		if seen[step.Field] {
			return nil, fmt.Errorf("flow %s: duplicate field %q: %w", kind, step.Field, ErrUnknownField)
		}
		seen[step.Field] = true
		v, found := LookupValidator(entity, step.Field)
		if !found {
			return nil, fmt.Errorf("flow %s: no %s validator for %q: %w", kind, entity, step.Field, ErrUnknownField)
		}
		def.validators[i] = v
	}
	return def, nil
}

func mustDefinition(kind Kind, entity Entity, steps ...Step) *Definition {
	def, err := NewDefinition(kind, entity, steps)
	if err != nil {
		panic(err)
	}
	return def
}

// Len is the number of steps.
func (d *Definition) Len() int { return len(d.steps) }

// Field returns the field name asked at step i.
func (d *Definition) Field(i int) string { return d.steps[i].Field }

// Prompt returns the question asked at step i.
func (d *Definition) Prompt(i int) string { return d.steps[i].Prompt }

// Fields lists the step field names in order.
func (d *Definition) Fields() []string {
	out := make([]string, len(d.steps))
	for i, s := range d.steps {
		out[i] = s.Field
	}
	return out
}

func (d *Definition) validate(i int, input string) ValidationResult {
	return d.validators[i](input)
}

// DefaultDefinitions returns the built-in property, unit and tenant flows.
func DefaultDefinitions() map[Kind]*Definition {
	return map[Kind]*Definition{
		KindAddProperty: mustDefinition(KindAddProperty, EntityProperty,
			Step{"name", "What's the name of the property?"},
			Step{"address", "What's the address of the property?"},
			Step{"type", "What type of property is it? (Apartment, House, Condo, Commercial, or Other)"},
			Step{"size", "What's the size of the property in square feet?"},
		),
		KindAddUnit: mustDefinition(KindAddUnit, EntityUnit,
			Step{"property", "Which property would you like to add this unit to?"},
			Step{"floor", "What floor is this unit on?"},
			Step{"rent", "What is the monthly rent for this unit?"},
			Step{"isAvailable", "Is this unit currently available for rent? (yes/no)"},
		),
		KindAddTenant: mustDefinition(KindAddTenant, EntityTenant,
			Step{"unit", "Which unit will this tenant occupy?"},
			Step{"name", "What is the tenant's full name?"},
			Step{"email", "What is the tenant's email address?"},
			Step{"phone", "What is the tenant's phone number?"},
			Step{"moveInDate", "What is the tenant's move-in date? (YYYY-MM-DD)"},
			Step{"rentAmount", "What is the monthly rent amount?"},
			Step{"rentDueDate", "What day of the month is rent due? (1-31)"},
		),
	}
}
