package parser

import (
	"regexp"
	"strconv"
)

var reNonDigit = regexp.MustCompile(`[^0-9]`)

// NormalizeMoney converts a numeric-looking token into a whole-unit
// amount. Every non-digit is stripped first, so "100,000" and
// "1.234.567" both normalize on digits alone; this deliberately
// ignores locale and drops any sign. Anything left unparseable
// (empty, overflow) normalizes to 0.
func NormalizeMoney(token string) int64 {
	digits := reNonDigit.ReplaceAllString(token, "")
	if digits == "" {
		return 0
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
