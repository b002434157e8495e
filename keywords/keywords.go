// Package keywords derives search keywords from technique names and
// descriptions. Extraction is a pure function over fixed term tables:
// the same input always yields the same sorted keyword set.
package keywords

import (
	"regexp"
	"sort"
	"strings"
)

var (
	tagPattern    = regexp.MustCompile(`<[^>]*>`)
	entityPattern = regexp.MustCompile(`&[a-zA-Z#0-9]+;`)
	nonWord       = regexp.MustCompile(`[^\w\s-]`)
	whitespace    = regexp.MustCompile(`\s+`)
)

// Extract returns the deduplicated, sorted keyword set for a technique.
// The title is prepended to the description; the combined text is lowered,
// stripped of HTML, and tokenized. Single tokens are kept when they are
// fixed technical terms or are at least three characters long and not stop
// words. Bigrams and trigrams over the raw token stream are kept when at
// most ⌊size/2⌋ of their tokens are stop words. When expandSynonyms is set,
// matched canonical terms contribute their synonyms and matched synonyms
// contribute their canonical terms.
func Extract(description, title string, expandSynonyms bool) []string {
	text := strings.TrimSpace(title + " " + description)
	clean := Sanitize(text)
	if clean == "" {
		return nil
	}

	tokens := strings.Fields(clean)
	set := make(map[string]struct{})

	for _, tok := range tokens {
		if IsTechnicalTerm(tok) || (len(tok) >= 3 && !IsStopWord(tok)) {
			set[tok] = struct{}{}
		}
	}

	for size := 2; size <= 3; size++ {
		for i := 0; i+size <= len(tokens); i++ {
			stops := 0
			for _, tok := range tokens[i : i+size] {
				if IsStopWord(tok) {
					stops++
				}
			}
			if stops > size/2 {
				continue
			}
			set[strings.Join(tokens[i:i+size], " ")] = struct{}{}
		}
	}

	if expandSynonyms {
		var additions []string
		for kw := range set {
			if syns, ok := synonymMap[kw]; ok {
				additions = append(additions, syns...)
			}
			if canonicals, ok := synonymReverse[kw]; ok {
				additions = append(additions, canonicals...)
			}
		}
		for _, a := range additions {
			set[a] = struct{}{}
		}
	}

	out := make([]string, 0, len(set))
	for kw := range set {
		out = append(out, kw)
	}
	sort.Strings(out)
	return out
}

// Sanitize lowers the text, strips HTML tags and entities, replaces
// characters other than word characters, dashes, and whitespace with
// spaces, and collapses runs of whitespace.
func Sanitize(s string) string {
	s = strings.ToLower(s)
	s = tagPattern.ReplaceAllString(s, " ")
	s = entityPattern.ReplaceAllString(s, " ")
	s = nonWord.ReplaceAllString(s, " ")
	s = whitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
