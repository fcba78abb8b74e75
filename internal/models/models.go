// Package models defines the core data structures for RentBot.
//
// It includes the rental entities (properties, units, tenants), chat transcript
// entries, inbound transport messages and the JSON envelope used by the HTTP API.
package models

import (
	"errors"
	"strings"
	"time"
)

// PropertyType enumerates the accepted kinds of property.
type PropertyType string

const (
	PropertyTypeApartment  PropertyType = "Apartment"
	PropertyTypeHouse      PropertyType = "House"
	PropertyTypeCondo      PropertyType = "Condo"
	PropertyTypeCommercial PropertyType = "Commercial"
	PropertyTypeOther      PropertyType = "Other"
)

// PropertyTypes lists every valid property type in display order.
var PropertyTypes = []PropertyType{
	PropertyTypeApartment,
	PropertyTypeHouse,
	PropertyTypeCondo,
	PropertyTypeCommercial,
	PropertyTypeOther,
}

// ParsePropertyType matches s case-insensitively against the known property types.
func ParsePropertyType(s string) (PropertyType, bool) {
	s = strings.TrimSpace(s)
	for _, pt := range PropertyTypes {
		if strings.EqualFold(s, string(pt)) {
			return pt, true
		}
	}
	return "", false
}

// PaymentStatus is the state of a single rent payment.
type PaymentStatus string

const (
	PaymentStatusPaid    PaymentStatus = "Paid"
	PaymentStatusPending PaymentStatus = "Pending"
	PaymentStatusLate    PaymentStatus = "Late"
	PaymentStatusPartial PaymentStatus = "Partial"
)

// Validation limits shared by the chat flows and the REST API.
const (
	MinNameLength    = 2
	MinAddressLength = 5
	MinRentDueDay    = 1
	MaxRentDueDay    = 31
	// DateLayout is the calendar date layout used for move-in dates.
	DateLayout = "2006-01-02"
)

// Error variables for request validation.
var (
	ErrNameTooShort        = errors.New("name is too short")
	ErrAddressTooShort     = errors.New("address is too short")
	ErrInvalidPropertyType = errors.New("invalid property type")
	ErrInvalidSize         = errors.New("size must be a positive number")
	ErrMissingProperty     = errors.New("property is required")
	ErrMissingFloor        = errors.New("floor is required")
	ErrInvalidRent         = errors.New("rent must be a positive number")
	ErrMissingUnit         = errors.New("unit is required")
	ErrInvalidMoveInDate   = errors.New("move-in date must be a valid YYYY-MM-DD date")
	ErrInvalidRentDueDate  = errors.New("rent due date must be between 1 and 31")
	ErrInvalidPayment      = errors.New("invalid payment status")
)

// Property is a managed building or lot.
type Property struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Address   string       `json:"address"`
	Type      PropertyType `json:"type"`
	Size      int          `json:"size"`
	Owner     string       `json:"owner,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Validate checks that the property can be persisted.
func (p *Property) Validate() error {
	if len([]rune(strings.TrimSpace(p.Name))) < MinNameLength {
		return ErrNameTooShort
	}
	if len([]rune(strings.TrimSpace(p.Address))) < MinAddressLength {
		return ErrAddressTooShort
	}
	pt, ok := ParsePropertyType(string(p.Type))
	if !ok {
		return ErrInvalidPropertyType
	}
	p.Type = pt
	if p.Size <= 0 {
		return ErrInvalidSize
	}
	return nil
}

// Unit is a rentable unit within a property.
type Unit struct {
	ID          string    `json:"id"`
	UnitID      string    `json:"unit_id"`
	PropertyID  string    `json:"property_id"`
	Floor       string    `json:"floor"`
	Rent        float64   `json:"rent"`
	IsAvailable bool      `json:"is_available"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate checks that the unit can be persisted. UnitID is assigned by the caller.
func (u *Unit) Validate() error {
	if strings.TrimSpace(u.PropertyID) == "" {
		return ErrMissingProperty
	}
	if strings.TrimSpace(u.Floor) == "" {
		return ErrMissingFloor
	}
	if u.Rent <= 0 {
		return ErrInvalidRent
	}
	return nil
}

// ContactInfo holds optional tenant contact details.
type ContactInfo struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Payment is one entry of a tenant's rent payment history.
type Payment struct {
	Date   time.Time     `json:"date"`
	Amount float64       `json:"amount"`
	Status PaymentStatus `json:"status"`
}

// RentInfo describes what a tenant pays and when.
type RentInfo struct {
	Amount         float64   `json:"amount"`
	DueDate        int       `json:"due_date"`
	PaymentHistory []Payment `json:"payment_history"`
}

// Tenant is a person occupying a unit.
type Tenant struct {
	ID         string      `json:"id"`
	TenantID   string      `json:"tenant_id"`
	Name       string      `json:"name"`
	Contact    ContactInfo `json:"contact"`
	UnitID     string      `json:"unit_id"`
	MoveInDate string      `json:"move_in_date"`
	RentInfo   RentInfo    `json:"rent_info"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// Validate checks that the tenant can be persisted. A zero due date defaults to the 1st.
func (t *Tenant) Validate() error {
	if len([]rune(strings.TrimSpace(t.Name))) < MinNameLength {
		return ErrNameTooShort
	}
	if strings.TrimSpace(t.UnitID) == "" {
		return ErrMissingUnit
	}
	if _, err := time.Parse(DateLayout, t.MoveInDate); err != nil {
		return ErrInvalidMoveInDate
	}
	if t.RentInfo.Amount <= 0 {
		return ErrInvalidRent
	}
	if t.RentInfo.DueDate == 0 {
		t.RentInfo.DueDate = MinRentDueDay
	}
	if t.RentInfo.DueDate < MinRentDueDay || t.RentInfo.DueDate > MaxRentDueDay {
		return ErrInvalidRentDueDate
	}
	for _, p := range t.RentInfo.PaymentHistory {
		switch p.Status {
		case PaymentStatusPaid, PaymentStatusPending, PaymentStatusLate, PaymentStatusPartial:
		default:
			return ErrInvalidPayment
		}
	}
	if t.RentInfo.PaymentHistory == nil {
		t.RentInfo.PaymentHistory = []Payment{}
	}
	return nil
}

// ChatRole identifies who authored a transcript entry.
type ChatRole string

const (
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
)

// ChatMessage is one turn of a user's conversation transcript.
type ChatMessage struct {
	Role      ChatRole  `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// InboundMessage represents an incoming text message from a transport.
type InboundMessage struct {
	ID   string `json:"id,omitempty"`
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{}
}

func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().WithStatus(APIStatusOK).WithResult(result).Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().WithStatus(APIStatusOK).WithMessage(message).WithResult(result).Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().WithStatus(APIStatusError).WithMessage(message).Build()
}
