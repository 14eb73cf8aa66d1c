package answer

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultThreshold is the similarity ratio at which two answers are equal.
const DefaultThreshold = 0.8

var letters = "ABCD"

// Matcher judges submitted answers against a canonical answer.
type Matcher struct {
	threshold float64
}

func NewMatcher(threshold float64) *Matcher {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Matcher{threshold: threshold}
}

// Resolve maps a letter A-D onto the option at that position. Anything else
// is returned trimmed, as free text.
func (m *Matcher) Resolve(raw string, options []string) string {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) == 1 {
		idx := strings.IndexByte(letters, byte(unicode.ToUpper(rune(trimmed[0]))))
		if idx >= 0 && idx < len(options) {
			return options[idx]
		}
	}
	return trimmed
}

// Match reports whether submitted counts as the canonical answer. A nil
// submission is never correct.
func (m *Matcher) Match(submitted *string, canonical string) bool {
	if submitted == nil {
		return false
	}
	if n1, ok := parseNumber(*submitted); ok {
		if n2, ok := parseNumber(canonical); ok && n1 == n2 {
			return true
		}
	}
	got := Normalize(*submitted)
	want := Normalize(canonical)
	if got == "" || want == "" {
		return false
	}
	if got == want {
		return true
	}
	return Ratio(got, want) >= m.threshold
}

// Normalize lowercases, folds accents, strips punctuation and collapses
// whitespace.
func Normalize(s string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || r == '_' {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func parseNumber(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
