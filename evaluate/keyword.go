package evaluate

import (
	"strings"

	"github.com/attacklens/attacklens/attack"
	"github.com/attacklens/attacklens/keywords"
)

// keyword scoring parameters. Base score grows with n-gram length; each
// extra occurrence adds, each stop word inside the keyword subtracts.
const (
	keywordBaseUnigram = 60
	keywordBaseBigram  = 75
	keywordBaseTrigram = 85
	keywordHitBonus    = 15
	keywordNoiseMalus  = 5
	keywordIDFloor     = 90
)

// keywordEntry is one searchable keyword of a technique.
type keywordEntry struct {
	text  string
	base  int
	noise int // stop words inside the keyword
}

// keywordMatcher finds literal keyword occurrences, case-insensitively.
type keywordMatcher struct {
	techniques []*attack.Technique
	entries    map[attack.TechniqueID][]keywordEntry
}

func newKeywordMatcher(catalog *attack.Catalog) *keywordMatcher {
	m := &keywordMatcher{
		techniques: catalog.Techniques(),
		entries:    make(map[attack.TechniqueID][]keywordEntry),
	}
	for _, t := range m.techniques {
		list := make([]keywordEntry, 0, len(t.Keywords))
		for _, kw := range t.Keywords {
			tokens := strings.Fields(kw)
			base := keywordBaseUnigram
			switch len(tokens) {
			case 2:
				base = keywordBaseBigram
			case 3:
				base = keywordBaseTrigram
			}
			noise := 0
			for _, tok := range tokens {
				if keywords.IsStopWord(tok) {
					noise++
				}
			}
			list = append(list, keywordEntry{text: kw, base: base, noise: noise})
		}
		m.entries[t.ID] = list
	}
	return m
}

func (m *keywordMatcher) Name() Source {
	return SourceKeyword
}

// Match scans the chunk for every technique keyword and for exact technique
// id tokens. Positions are global: chunk-relative offsets shifted by offset.
func (m *keywordMatcher) Match(chunk string, offset int) []RawMatch {
	lower := strings.ToLower(chunk)

	var out []RawMatch
	for _, t := range m.techniques {
		for _, entry := range m.entries[t.ID] {
			positions := findAll(lower, entry.text)
			if len(positions) == 0 {
				continue
			}
			score := entry.base + keywordHitBonus*len(positions) - keywordNoiseMalus*entry.noise
			if score > 100 {
				score = 100
			}
			if score < 0 {
				score = 0
			}
			for _, pos := range positions {
				out = append(out, RawMatch{
					TechniqueID:   t.ID,
					TechniqueName: t.Name,
					Tactics:       t.Tactics,
					MatchedText:   chunk[pos : pos+len(entry.text)],
					Position:      Position{StartChar: offset + pos, EndChar: offset + pos + len(entry.text)},
					KeywordScore:  score,
					Source:        SourceKeyword,
				})
			}
		}

		// An exact technique id token is near-certain evidence.
		if t.ID.Valid() {
			idToken := strings.ToLower(string(t.ID))
			for _, pos := range findAll(lower, idToken) {
				if !isTokenBoundary(lower, pos, len(idToken)) {
					continue
				}
				out = append(out, RawMatch{
					TechniqueID:   t.ID,
					TechniqueName: t.Name,
					Tactics:       t.Tactics,
					MatchedText:   chunk[pos : pos+len(idToken)],
					Position:      Position{StartChar: offset + pos, EndChar: offset + pos + len(idToken)},
					KeywordScore:  keywordIDFloor,
					Source:        SourceKeyword,
				})
			}
		}
	}
	return out
}

// findAll returns every occurrence of needle in haystack. Keywords match
// as substrings so stems hit their inflections ("phish" inside
// "phishing"); technique ids are held to token boundaries by the caller.
func findAll(haystack, needle string) []int {
	if needle == "" {
		return nil
	}
	var out []int
	for start := 0; ; {
		i := strings.Index(haystack[start:], needle)
		if i < 0 {
			return out
		}
		pos := start + i
		out = append(out, pos)
		start = pos + 1
	}
}

// isTokenBoundary reports whether haystack[pos:pos+n] is delimited by
// non-word characters (or the text edges).
func isTokenBoundary(haystack string, pos, n int) bool {
	if pos > 0 && isWordChar(haystack[pos-1]) {
		return false
	}
	end := pos + n
	if end < len(haystack) && isWordChar(haystack[end]) {
		return false
	}
	return true
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '_'
}
