package influx

import (
	"regexp"
	"strings"
)

var (
	unsupportedKeyChars = regexp.MustCompile(`[^a-zA-Z0-9\s_]`)
	whitespace          = regexp.MustCompile(`\s`)
)

// CleanKeyName strips characters that are not safe in an identifier and replaces
// whitespace with underscores.
func CleanKeyName(name string) string {
	removed := unsupportedKeyChars.ReplaceAllString(strings.Trim(name, "\n"), "")
	return whitespace.ReplaceAllString(removed, "_")
}
