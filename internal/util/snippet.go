package util

import (
	"strings"
	"unicode"
)

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "was": {}, "were": {}, "what": {}, "how": {},
	"why": {}, "which": {}, "that": {}, "this": {}, "these": {}, "those": {}, "with": {}, "from": {},
}

// Terms returns the distinct lower-cased words of s worth matching on: at least
// three runes long and not a stop word, in order of first appearance.
func Terms(s string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0)
	for _, f := range strings.Fields(strings.ToLower(SanitizeText(s))) {
		f = strings.TrimFunc(f, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsNumber(r) })
		if len([]rune(f)) < 3 {
			continue
		}
		if _, ok := stopWords[f]; ok {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// SharedTerms lists the Terms of query that occur in text.
func SharedTerms(query, text string) []string {
	low := strings.ToLower(text)
	out := make([]string, 0)
	for _, t := range Terms(query) {
		if strings.Contains(low, t) {
			out = append(out, t)
		}
	}
	return out
}

// Snippet cleans s for display and cuts it to maxRunes, marking the cut.
func Snippet(s string, maxRunes int) string {
	s = NormalizeSelection(s)
	r := []rune(s)
	if maxRunes <= 0 || len(r) <= maxRunes {
		return s
	}
	return strings.TrimRightFunc(string(r[:maxRunes]), unicode.IsSpace) + "…"
}

// PassageSnippet picks the sentence of text sharing the most terms with query,
// followed by the next sentence for context. Ties go to the earlier sentence.
func PassageSnippet(text, query string, maxRunes int) string {
	sentences := sentencesOf(NormalizeSelection(text))
	if len(sentences) == 0 {
		return ""
	}
	best, bestScore := 0, -1
	for i, s := range sentences {
		if n := len(SharedTerms(query, s)); n > bestScore {
			best, bestScore = i, n
		}
	}
	out := sentences[best]
	if best+1 < len(sentences) {
		out += " " + sentences[best+1]
	}
	return Snippet(out, maxRunes)
}

// Passages splits text into word-aligned windows of about size runes, each
// starting overlap runes before the previous one ended.
func Passages(text string, size, overlap int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if size <= 0 {
		size = 800
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	out := make([]string, 0)
	start := 0
	for start < len(words) {
		end, n := start, 0
		for end < len(words) && (n == 0 || n+len([]rune(words[end]))+1 <= size) {
			n += len([]rune(words[end])) + 1
			end++
		}
		out = append(out, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
		back, m := end, 0
		for back > start+1 && m+len([]rune(words[back-1]))+1 <= overlap {
			m += len([]rune(words[back-1])) + 1
			back--
		}
		start = back
	}
	return out
}

func sentencesOf(s string) []string {
	out := make([]string, 0, 8)
	start := 0
	for i, r := range s {
		if r == '.' || r == '!' || r == '?' {
			if x := strings.TrimSpace(s[start : i+1]); x != "" {
				out = append(out, x)
			}
			start = i + 1
		}
	}
	if x := strings.TrimSpace(s[start:]); x != "" {
		out = append(out, x)
	}
	return out
}
