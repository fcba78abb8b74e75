package conversation

import (
	"regexp"
	"strconv"
	"strings"
)

var allDigits = regexp.MustCompile(`^\d+$`)

// Reference is a deferred selection of an existing record. It is either a
// 1-based position in a list the user was shown, or a direct identifier.
// It is resolved only when the flow commits, against freshly fetched data.
type Reference struct {
	index int
	id    string
	raw   string
}

// ParseReference classifies trimmed input: all digits means ByIndex.
// An index too large to represent becomes 0, which never resolves.
func ParseReference(input string) Reference {
	s := strings.TrimSpace(input)
	if allDigits.MatchString(s) {
		n, err := strconv.Atoi(s)
		if err != nil {
			n = 0
		}
		return Reference{index: n, raw: s}
	}
	return Reference{id: s, raw: s}
}

// ByIndex builds a list position reference.
func ByIndex(n int) Reference {
	return Reference{index: n, raw: strconv.Itoa(n)}
}

// ByIdentifier builds a direct identifier reference.
func ByIdentifier(id string) Reference {
	return Reference{id: id, raw: id}
}

// Index returns the 1-based list position when the reference is positional.
func (r Reference) Index() (int, bool) {
	return r.index, r.id == "" && r.raw != ""
}

// Identifier returns the identifier when the reference is direct.
func (r Reference) Identifier() (string, bool) {
	return r.id, r.id != ""
}

func (r Reference) String() string {
	return r.raw
}

// pick returns the element at the 1-based position of r, if in range.
func pick[T any](items []T, position int) (T, bool) {
	var zero T
	if position < 1 || position > len(items) {
		return zero, false
	}
	return items[position-1], true
}
