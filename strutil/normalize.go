// Package strutil holds small string helpers shared by the configuration
// and stream-list parsers.
package strutil

import "strings"

// NormalizeUpper trims surrounding whitespace and converts to upper case.
// Use for station IDs and selector tokens where case is not significant.
func NormalizeUpper(value string) string {
	return strings.ToUpper(strings.TrimSpace(value))
}

// StripSpaces copies s with all space characters removed. Fixed-width
// miniSEED header fields pad short codes with spaces; the wire station ID
// carries only the code itself.
func StripSpaces(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != ' ' {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
