// Package labels normalizes human-entered identifiers and captions.
package labels

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize trims surrounding whitespace and converts s to Unicode NFC so
// visually identical labels compare equal.
func Normalize(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
