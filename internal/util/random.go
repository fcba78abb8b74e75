package util

import (
	"math/rand/v2"
	"strings"
)

const (
	upperAlphaNumeric = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	upperAlpha        = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// Human-readable identifier prefixes.
const (
	UnitIDPrefix   = "U"
	TenantIDPrefix = "T"
)

// GenerateRandomFromCharset returns length characters drawn uniformly from charset.
// Uses math/rand/v2; identifiers are not secrets.
func GenerateRandomFromCharset(charset string, length int) string {
	if length <= 0 || charset == "" {
		return ""
	}

	var builder strings.Builder
	builder.Grow(length)
	for i := 0; i < length; i++ {
		builder.WriteByte(charset[rand.IntN(len(charset))])
	}
	return builder.String()
}

// GenerateRandomHex generates a random lowercase hexadecimal string of the specified length.
func GenerateRandomHex(length int) string {
	return GenerateRandomFromCharset("0123456789abcdef", length)
}

// GenerateEntityID builds "{prefix}{4 uppercase alphanumerics}{1 uppercase letter}".
func GenerateEntityID(prefix string) string {
	return prefix + GenerateRandomFromCharset(upperAlphaNumeric, 4) + GenerateRandomFromCharset(upperAlpha, 1)
}

// GenerateUnitID generates a unit identifier such as "U7K2QF".
func GenerateUnitID() string {
	return GenerateEntityID(UnitIDPrefix)
}

// GenerateTenantID generates a tenant identifier such as "T03ZAB".
func GenerateTenantID() string {
	return GenerateEntityID(TenantIDPrefix)
}

// GenerateMessageID generates an identifier for inbound messages whose transport carries none.
func GenerateMessageID() string {
	return "m_" + GenerateRandomHex(32)
}
