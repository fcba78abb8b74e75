package conversation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/RentBot/internal/models"
)

// ValidationResult is the outcome of checking one raw answer.
// Value holds the normalized form when Valid, Message the re-prompt otherwise.
type ValidationResult struct {
	Valid   bool
	Value   any
	Message string
}

// Validator checks and normalizes the raw answer for a single field.
type Validator func(input string) ValidationResult

func ok(v any) ValidationResult { return ValidationResult{Valid: true, Value: v} }

func reject(msg string) ValidationResult { return ValidationResult{Message: msg} }

var (
	nonDigits      = regexp.MustCompile(`[^0-9]`)
	nonDecimal     = regexp.MustCompile(`[^0-9.]`)
	leadingDecimal = regexp.MustCompile(`^[0-9]*\.?[0-9]*`)
	leadingInteger = regexp.MustCompile(`^[+-]?[0-9]+`)
	emailPattern   = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern   = regexp.MustCompile(`^[0-9()\-\s+]*$`)
	datePattern    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

var availableWords = map[string]bool{"yes": true, "y": true, "true": true, "available": true, "1": true}

// parseAmount keeps digits and dots, then reads the longest leading decimal.
// "$1,500.00/mo" becomes 1500.
func parseAmount(input string) (float64, bool) {
	num := leadingDecimal.FindString(nonDecimal.ReplaceAllString(input, ""))
	if num == "" || num == "." {
		return 0, false
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseLeadingInt reads an optionally signed integer prefix, ignoring what follows.
func parseLeadingInt(input string) (int, bool) {
	num := leadingInteger.FindString(input)
	if num == "" {
		return 0, false
	}
	v, err := strconv.Atoi(num)
	return v, err == nil
}

func minLength(n int, msg string) Validator {
	return func(input string) ValidationResult {
		s := strings.TrimSpace(input)
		if len([]rune(s)) < n {
			return reject(msg)
		}
		return ok(s)
	}
}

func reference(msg string) Validator {
	return func(input string) ValidationResult {
		if strings.TrimSpace(input) == "" {
			return reject(msg)
		}
		return ok(ParseReference(input))
	}
}

func validatePropertyType(input string) ValidationResult {
	pt, found := models.ParsePropertyType(input)
	if !found {
		return reject("Please select a valid property type: Apartment, House, Condo, Commercial, or Other.")
	}
	return ok(string(pt))
}

func validateSize(input string) ValidationResult {
	size, err := strconv.Atoi(nonDigits.ReplaceAllString(strings.TrimSpace(input), ""))
	if err != nil || size <= 0 {
		return reject("Please provide a valid size in square feet (a positive number).")
	}
	return ok(size)
}

func validateFloor(input string) ValidationResult {
	s := strings.TrimSpace(input)
	if s == "" {
		return reject("Please provide a valid floor number or identifier.")
	}
	return ok(s)
}

func validateRent(input string) ValidationResult {
	rent, parsed := parseAmount(strings.TrimSpace(input))
	if !parsed || rent <= 0 {
		return reject("Please provide a valid rent amount (a positive number).")
	}
	return ok(rent)
}

func validateAvailability(input string) ValidationResult {
	return ok(availableWords[strings.ToLower(strings.TrimSpace(input))])
}

func validateEmail(input string) ValidationResult {
	s := strings.TrimSpace(input)
	if s != "" && !emailPattern.MatchString(s) {
		return reject("Please provide a valid email address or leave it blank.")
	}
	return ok(s)
}

func validatePhone(input string) ValidationResult {
	s := strings.TrimSpace(input)
	if !phonePattern.MatchString(s) {
		return reject("Please provide a valid phone number or leave it blank.")
	}
	return ok(s)
}

func validateMoveInDate(input string) ValidationResult {
	s := strings.TrimSpace(input)
	if !datePattern.MatchString(s) {
		return reject("Please provide a valid move-in date in YYYY-MM-DD format.")
	}
	if _, err := time.Parse(models.DateLayout, s); err != nil {
		return reject("Please provide a valid move-in date.")
	}
	return ok(s)
}

func validateRentDueDate(input string) ValidationResult {
	day, parsed := parseLeadingInt(strings.TrimSpace(input))
	if !parsed || day < models.MinRentDueDay || day > models.MaxRentDueDay {
		return reject("Please provide a valid day of the month (1-31).")
	}
	return ok(day)
}

// fieldValidators maps each entity field to its rule. Definitions resolve
// their validators from here once, at construction.
var fieldValidators = map[Entity]map[string]Validator{
	EntityProperty: {
		"name":    minLength(models.MinNameLength, "Property name is too short. Please provide a longer name."),
		"address": minLength(models.MinAddressLength, "Please provide a complete address."),
		"type":    validatePropertyType,
		"size":    validateSize,
	},
	EntityUnit: {
		"property":    reference("Please tell me which property this unit belongs to."),
		"floor":       validateFloor,
		"rent":        validateRent,
		"isAvailable": validateAvailability,
	},
	EntityTenant: {
		"unit":        reference("Please tell me which unit this tenant will occupy."),
		"name":        minLength(models.MinNameLength, "Tenant name is too short. Please provide a full name."),
		"email":       validateEmail,
		"phone":       validatePhone,
		"moveInDate":  validateMoveInDate,
		"rentAmount":  validateRent,
		"rentDueDate": validateRentDueDate,
	},
}

// LookupValidator returns the rule for field of entity.
func LookupValidator(entity Entity, field string) (Validator, bool) {
	v, found := fieldValidators[entity][field]
	return v, found
}

// Validate runs the rule for field of entity. An unknown field is an invalid result.
func Validate(entity Entity, field, input string) ValidationResult {
	v, found := LookupValidator(entity, field)
	if !found {
		return reject(fmt.Sprintf("Unknown %s field: %s", entity, field))
	}
	return v(input)
}
