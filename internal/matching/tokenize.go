// Package matching implements the claimant ↔ job posting matching engine:
// criteria normalisation, posting indexing, scoring and match reconciliation.
package matching

import (
	"sort"
	"strings"
	"unicode"
)

const minTokenRunes = 2

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`
		a an the is are was were be been being have has had do does did will would
		should can could may might must and but or nor for so yet in on at by from
		to with about above after again against all am as because before below
		between both during each few further here how if into it its itself just
		me more most my myself no not now of off once only other our ours ourselves
		out over own same she he they them their theirs themselves then there these
		this those through too under until up very we what when where which while
		who whom why you your yours yourself yourselves etc via per`) {
		stopWords[w] = struct{}{}
	}
}

// words splits text into lower-cased alphanumeric runs. Every other rune
// (punctuation, symbols, whitespace) is a separator.
func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func keep(w string) bool {
	if len([]rune(w)) < minTokenRunes {
		return false
	}
	_, stop := stopWords[w]
	return !stop
}

// Tokenize returns the de-duplicated token set of text.
func Tokenize(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range words(text) {
		if keep(w) {
			out[w] = struct{}{}
		}
	}
	return out
}

// NormalizeTerm turns a keyword or sector phrase into its canonical form:
// the kept words joined by single spaces. It returns "" when nothing is left.
func NormalizeTerm(phrase string) string {
	ws := words(phrase)
	kept := ws[:0]
	for _, w := range ws {
		if keep(w) {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}

// NormalizeTerms normalises and de-duplicates a list of phrases.
func NormalizeTerms(phrases []string) []string {
	seen := make(map[string]struct{}, len(phrases))
	out := make([]string, 0, len(phrases))
	for _, p := range phrases {
		t := NormalizeTerm(p)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// NormalizeLocation case-folds and collapses whitespace. Punctuation is kept
// so that "Springfield, IL" still contains "springfield".
func NormalizeLocation(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// sortedTokens returns the keys of a token set in order.
func sortedTokens(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
