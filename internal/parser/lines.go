package parser

import "strings"

// SegmentLines splits a transcript into trimmed, non-empty lines in
// document order. OCR backends disagree on line endings, so CRLF is
// folded into LF before splitting.
func SegmentLines(raw string) []string {
	if raw == "" {
		return nil
	}
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	var lines []string
	for _, l := range strings.Split(normalized, "\n") {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		lines = append(lines, l)
	}
	return lines
}
