package noah

import (
	"regexp"
	"strings"
)

// NOAH exports prefix every element with a vendor namespace and the prefixes
// vary between fitting software versions. Matching is namespace-agnostic:
// prefixes and xmlns declarations are stripped textually before parsing.
var (
	openPrefixRe  = regexp.MustCompile(`<[a-zA-Z0-9]+:([a-zA-Z0-9_\-]+)`)
	closePrefixRe = regexp.MustCompile(`</[a-zA-Z0-9]+:([a-zA-Z0-9_\-]+)>`)
	xmlnsRe       = regexp.MustCompile(`\sxmlns(:[a-zA-Z0-9]+)?="[^"]*"`)
)

// StripNamespaces removes namespace prefixes and xmlns declarations from raw
// XML text so that <pt:Patient> parses as <Patient>.
func StripNamespaces(raw []byte) []byte {
	s := string(raw)
	s = openPrefixRe.ReplaceAllString(s, `<$1`)
	s = closePrefixRe.ReplaceAllString(s, `</$1>`)
	s = xmlnsRe.ReplaceAllString(s, "")
	return []byte(s)
}

var digitsRe = regexp.MustCompile(`\d+`)

// CleanPatientName builds the canonical display name from raw name fields.
// Source data embeds employee IDs as digit runs inside the name strings, so
// all digits are removed; the parts combine in LastName + FirstName order.
func CleanPatientName(rawFirst, rawLast string) string {
	last := strings.TrimSpace(digitsRe.ReplaceAllString(rawLast, ""))
	first := strings.TrimSpace(digitsRe.ReplaceAllString(rawFirst, ""))

	var b strings.Builder
	if last != "" {
		b.WriteString(last)
	}
	if first != "" {
		b.WriteString(first)
	}
	return b.String()
}
