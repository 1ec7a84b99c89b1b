package parser

import "regexp"

var (
	reDate      = regexp.MustCompile(`\b\d{1,2}[/-]\d{1,2}[/-]\d{4}\b`)
	reDateExact = regexp.MustCompile(`^\d{1,2}[/-]\d{1,2}[/-]\d{4}$`)
)

// ExtractDate returns the first date-shaped token in the transcript,
// verbatim: original separators and digit widths are preserved, no
// canonicalization to a date type. No match returns "".
func ExtractDate(raw string) string {
	return reDate.FindString(raw)
}
