package textutil

import (
	"regexp"
	"strings"

	"github.com/antzucaro/matchr"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

// NormalizeName lowercases a name and removes all whitespace from it.
func NormalizeName(name string) string {
	name = strings.ToLower(name)
	name = strings.TrimSpace(name)
	name = whitespaceRegex.ReplaceAllString(name, "")
	return name
}

// MatchName reports whether the normalized name contains one of the matchers.
func MatchName(name string, matchers []string) bool {
	name = NormalizeName(name)
	if name == "" {
		return false
	}
	for _, m := range matchers {
		m = NormalizeName(m)
		if m != "" && strings.Contains(name, m) {
			return true
		}
	}
	return false
}

// Similarity returns the Jaro-Winkler similarity of two normalized names,
// 1 means identical.
func Similarity(a, b string) float64 {
	return matchr.JaroWinkler(NormalizeName(a), NormalizeName(b), false)
}

// CleanContainerNumber standardizes a container/bill number: upper case,
// no spaces, no dashes.
func CleanContainerNumber(number string) string {
	number = strings.ToUpper(number)
	number = whitespaceRegex.ReplaceAllString(number, "")
	return strings.ReplaceAll(number, "-", "")
}

// Truncate cuts s down to at most n bytes without splitting a utf-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
