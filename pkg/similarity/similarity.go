// Package similarity scores how alike two strings are using normalized edit distance.
package similarity

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Similarity returns (maxLen - distance) / maxLen over the lower-cased inputs.
// The result is in [0,1]; two empty strings are identical.
func Similarity(a, b string) float64 {
	a = strings.ToLower(a)
	b = strings.ToLower(b)

	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}
	if maxLen == 0 {
		return 1
	}

	distance := levenshtein.ComputeDistance(a, b)
	return float64(maxLen-distance) / float64(maxLen)
}

// LocalPart returns the lower-cased text before the last "@" of an address.
// Input without "@" is returned whole.
func LocalPart(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if i := strings.LastIndex(email, "@"); i >= 0 {
		return email[:i]
	}
	return email
}

// BestWindow compares needle against the whole of haystack and against every run of
// consecutive haystack words with the same word count as needle, returning the best
// score. "Alice Smith Consulting" against "Alice Smith" scores 1.
func BestWindow(haystack, needle string) float64 {
	best := Similarity(haystack, needle)

	words := strings.Fields(haystack)
	n := len(strings.Fields(needle))
	if n == 0 || n >= len(words) {
		return best
	}
	for i := 0; i+n <= len(words); i++ {
		if s := Similarity(strings.Join(words[i:i+n], " "), needle); s > best {
			best = s
		}
	}
	return best
}
