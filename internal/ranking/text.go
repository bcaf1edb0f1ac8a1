package ranking

import (
	"strings"
	"unicode"
)

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "from": true, "as": true, "is": true, "was": true,
	"are": true, "be": true, "been": true, "being": true, "have": true, "has": true,
	"had": true, "do": true, "does": true, "did": true, "will": true, "would": true,
	"could": true, "should": true, "may": true, "might": true, "can": true, "this": true,
	"that": true, "these": true, "those": true, "i": true, "you": true, "he": true,
	"she": true, "it": true, "we": true, "they": true, "what": true, "which": true,
	"who": true, "when": true, "where": true, "why": true, "how": true, "new": true,
	"not": true, "its": true, "our": true, "your": true, "their": true, "about": true,
	"into": true, "than": true, "then": true, "also": true, "just": true, "more": true,
}

// Tokenize lowercases text, splits on anything that is not a letter, digit
// or underscore, and drops stopwords and tokens shorter than two runes.
// Two-letter tokens are kept so terms like "ai" and "ml" survive.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 2 || stopwords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// TermSet returns the unique tokens of text.
func TermSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range Tokenize(text) {
		set[t] = true
	}
	return set
}

// Overlap is the share of the unique terms found in set.
func Overlap(terms []string, set map[string]bool) float64 {
	unique := make(map[string]bool, len(terms))
	matched := 0
	for _, t := range terms {
		if unique[t] {
			continue
		}
		unique[t] = true
		if set[t] {
			matched++
		}
	}
	if len(unique) == 0 {
		return 0
	}
	return float64(matched) / float64(len(unique))
}
