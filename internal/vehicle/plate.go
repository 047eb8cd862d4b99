// Package vehicle derives vehicle identity from free-form user text.
package vehicle

import (
	"regexp"
	"strings"
)

// plateRe matches the common Indian registration-plate shape: two letters,
// one or two digits, zero to two letters, one to four digits, with an
// optional space or hyphen between groups.
var plateRe = regexp.MustCompile(`(?i)\b([A-Z]{2})[ -]?([0-9]{1,2})[ -]?([A-Z]{0,2})[ -]?([0-9]{1,4})\b`)

// ExtractPlate returns the first registration number found in text,
// uppercased with internal separators removed ("ka 05 mn 1234" and
// "KA05MN1234" both normalize to "KA05MN1234"). The boolean is false when
// the text carries no plate. ExtractPlate never fails.
func ExtractPlate(text string) (string, bool) {
	m := plateRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.ToUpper(m[1] + m[2] + m[3] + m[4]), true
}
