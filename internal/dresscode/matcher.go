package dresscode

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Thai block as matched by the labels: KO KAI through digit nine.
const (
	thaiFirst = '\u0E01'
	thaiLast  = '\u0E59'
)

// Normalize folds a classifier label into a comparison token: lower case,
// no whitespace, underscores or hyphens, and only ASCII alphanumerics or
// Thai letters and digits.
func Normalize(label string) string {
	if label == "" {
		return ""
	}
	// Casers carry state, so one is built per call.
	folded := cases.Lower(language.Und).String(norm.NFC.String(label))
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= thaiFirst && r <= thaiLast:
			return r
		default:
			return -1
		}
	}, folded)
}

// ContainsAny reports whether the normalized label contains any normalized keyword.
func ContainsAny(label string, keywords []string) bool {
	if len(keywords) == 0 {
		return false
	}
	n := Normalize(label)
	if n == "" {
		return false
	}
	for _, k := range keywords {
		nk := Normalize(k)
		if nk != "" && strings.Contains(n, nk) {
			return true
		}
	}
	return false
}

// PassIfHas returns true only when the label carries positive evidence and no
// negative evidence. Negative matches win outright; unmatched labels fail.
func PassIfHas(label string, positive, negative []string) bool {
	if ContainsAny(label, negative) {
		return false
	}
	return ContainsAny(label, positive)
}
