package parser

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Trailing-amount shape: a non-greedy label, at least one separator
// (whitespace, dot, colon), then a numeric-looking group at end of
// line. "Latte ..... 45,000" -> ("Latte", "45,000").
var reTrailingAmount = regexp.MustCompile(`(.+?)[\s.:]+([\d,.]+)$`)

const labelPunct = " -:.,"

// ExtractItems runs the line-item classifier over each line
// independently, in document order. It is single-pass and line-local:
// no lookahead, no column awareness. Lines that fail any rejection
// rule are skipped silently.
func ExtractItems(lines []string) []LineItem {
	items := []LineItem{}
	for _, line := range lines {
		m := reTrailingAmount.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		label := strings.TrimSpace(m[1])
		if rejectLabel(label) {
			continue
		}
		price := NormalizeMoney(m[2])
		if price <= 0 {
			continue
		}
		items = append(items, LineItem{Name: label, Price: price})
	}
	return items
}

// rejectLabel applies the named label rejection rules. Each rule is a
// separate predicate so misclassifications can be pinned to one rule.
func rejectLabel(label string) bool {
	return labelTooShort(label) || labelPunctOnly(label) || labelIsDate(label)
}

func labelTooShort(label string) bool {
	return utf8.RuneCountInString(label) < 2
}

// labelPunctOnly reports whether the label carries no real content:
// every rune is a space, dash, colon, dot or comma.
func labelPunctOnly(label string) bool {
	for _, r := range label {
		if !strings.ContainsRune(labelPunct, r) {
			return false
		}
	}
	return true
}

// labelIsDate rejects labels that are exactly one date token, so a
// date line like "05/11/2024 ... 1234" is not misread as a priced
// item. Labels merely containing a date keep their items.
func labelIsDate(label string) bool {
	return reDateExact.MatchString(label)
}
