package validation

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Relevance is the share of query key terms literally present in the
// collected content.
type Relevance struct {
	Terms   []string
	Matched []string
	Missing []string
	Score   float64
}

var tokenRe = regexp.MustCompile(`[\p{L}\p{N}]+(?:[-.][\p{L}\p{N}]+)*`)

// ExtractKeyTerms picks up to max_key_terms terms from a query, in priority
// order: proper nouns, model numbers, domain terms, then other significant
// words of at least four characters that are not stop words. Terms are
// lowercased and unique.
func (v *Validator) ExtractKeyTerms(query string) []string {
	tokens := tokenRe.FindAllString(query, -1)
	limit := v.rules.Thresholds.MaxKeyTerms

	var terms []string
	seen := make(map[string]bool)
	add := func(tok string) {
		t := strings.ToLower(tok)
		if seen[t] || len(terms) >= limit {
			return
		}
		seen[t] = true
		terms = append(terms, t)
	}

	passes := []func(tok string) bool{
		func(tok string) bool { return isCapitalized(tok) && len([]rune(tok)) >= 2 && !v.rules.stopWords[strings.ToLower(tok)] },
		hasDigit,
		func(tok string) bool { return v.rules.domainTerms[strings.ToLower(tok)] },
		func(tok string) bool { return len([]rune(tok)) >= 4 && !v.rules.stopWords[strings.ToLower(tok)] },
	}
	for _, keep := range passes {
		for _, tok := range tokens {
			if keep(tok) {
				add(tok)
			}
		}
	}
	return terms
}

// CheckRelevance measures how many key terms of query appear in content as
// case-insensitive substrings, so plurals and other inflections still count.
// It returns nil when the query yields no key terms.
func (v *Validator) CheckRelevance(query, content string) *Relevance {
	terms := v.ExtractKeyTerms(query)
	if len(terms) == 0 {
		return nil
	}

	haystack := strings.ToLower(content)
	rel := &Relevance{Terms: terms}
	for _, t := range terms {
		if strings.Contains(haystack, t) {
			rel.Matched = append(rel.Matched, t)
		} else {
			rel.Missing = append(rel.Missing, t)
		}
	}
	rel.Score = float64(len(rel.Matched)) / float64(len(terms))
	return rel
}

// containsWord reports whether term occurs in text delimited by non
// alphanumeric runes on both sides.
func containsWord(text, term string) bool {
	for from := 0; from <= len(text); {
		i := strings.Index(text[from:], term)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(term)
		if boundaryBefore(text, start) && boundaryAfter(text, end) {
			return true
		}
		from = start + 1
	}
	return false
}

func boundaryBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func boundaryAfter(text string, i int) bool {
	if i >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func isCapitalized(tok string) bool {
	for _, r := range tok {
		return unicode.IsUpper(r)
	}
	return false
}

func hasDigit(tok string) bool {
	return strings.IndexFunc(tok, unicode.IsDigit) >= 0
}
