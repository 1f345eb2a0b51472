package util

import "strings"

// SanitizeText drops NUL and other non-printing controls that PDF extractors and
// viewer selections leak into text, keeping common whitespace.
func SanitizeText(s string) string {
	if s == "" {
		return s
	}
	s = strings.ReplaceAll(s, "\x00", "")

	r := make([]rune, 0, len(s))
	for _, ch := range s {
		if ch == '\n' || ch == '\r' || ch == '\t' {
			r = append(r, ch)
			continue
		}
		if ch < 0x20 {
			continue
		}
		r = append(r, ch)
	}
	return strings.TrimSpace(string(r))
}

// CollapseWhitespace trims s and replaces every whitespace run with one space.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeSelection is the canonical form of captured selection text.
func NormalizeSelection(s string) string {
	return CollapseWhitespace(SanitizeText(s))
}

// FoldName lower-cases s and collapses internal whitespace runs, the form used
// for display-name lookups.
func FoldName(s string) string {
	return strings.ToLower(CollapseWhitespace(s))
}
