package evaluate

import (
	"math"
	"strings"

	"github.com/attacklens/attacklens/attack"
)

// fuzzy matching parameters.
const (
	fuzzyWindowSize    = 100
	fuzzyWindowStride  = 50
	fuzzyMinPhraseLen  = 4
	fuzzyMinSimilarity = 0.6

	// phrase sentences shorter than this or longer than 99 chars are
	// skipped; very short ones are noise, very long ones never match.
	fuzzyMinSentence = 6
	fuzzyMaxSentence = 99
)

// fuzzyMatcher compares pre-extracted technique phrases against chunk
// windows using character 3-gram Jaccard similarity.
type fuzzyMatcher struct {
	techniques []*attack.Technique
	phrases    map[attack.TechniqueID][]fuzzyPhrase
}

type fuzzyPhrase struct {
	text  string
	grams map[string]struct{}
}

func newFuzzyMatcher(catalog *attack.Catalog) *fuzzyMatcher {
	m := &fuzzyMatcher{
		techniques: catalog.Techniques(),
		phrases:    make(map[attack.TechniqueID][]fuzzyPhrase),
	}
	for _, t := range m.techniques {
		seen := make(map[string]bool)
		var list []fuzzyPhrase

		add := func(s string) {
			s = strings.ToLower(strings.TrimSpace(s))
			if len(s) < fuzzyMinPhraseLen || seen[s] {
				return
			}
			seen[s] = true
			list = append(list, fuzzyPhrase{text: s, grams: trigrams(s)})
		}

		add(t.Name)
		for _, sentence := range splitSentences(t.Description) {
			if len(sentence) >= fuzzyMinSentence && len(sentence) <= fuzzyMaxSentence {
				add(sentence)
			}
		}
		for _, kw := range t.Keywords {
			add(kw)
		}
		m.phrases[t.ID] = list
	}
	return m
}

func (m *fuzzyMatcher) Name() Source {
	return SourceFuzzy
}

// Match slides a window over the chunk and, inside each window, scans for
// substrings whose 3-gram Jaccard similarity to a technique phrase exceeds
// the threshold. After a hit the scan skips ahead by 70% of the phrase
// length so overlapping hits collapse to one.
func (m *fuzzyMatcher) Match(chunk string, offset int) []RawMatch {
	lower := strings.ToLower(chunk)

	var out []RawMatch
	for _, t := range m.techniques {
		for _, phrase := range m.phrases[t.ID] {
			for _, hit := range scanPhrase(lower, phrase) {
				out = append(out, RawMatch{
					TechniqueID:   t.ID,
					TechniqueName: t.Name,
					Tactics:       t.Tactics,
					MatchedText:   chunk[hit.start:hit.end],
					Position:      Position{StartChar: offset + hit.start, EndChar: offset + hit.end},
					FuzzyScore:    int(math.Round(100 * hit.sim)),
					Source:        SourceFuzzy,
				})
			}
		}
	}
	return out
}

type fuzzyHit struct {
	start, end int
	sim        float64
}

// scanPhrase finds the phrase's fuzzy occurrences in the lowered chunk.
// Candidate substrings range from half to double the phrase length; within
// a window each start position keeps its best candidate length.
func scanPhrase(lower string, phrase fuzzyPhrase) []fuzzyHit {
	plen := len(phrase.text)
	minLen := plen / 2
	if minLen < fuzzyMinPhraseLen {
		minLen = fuzzyMinPhraseLen
	}
	maxLen := 2 * plen
	skip := int(0.7 * float64(plen))
	if skip < 1 {
		skip = 1
	}

	var hits []fuzzyHit
	for winStart := 0; winStart < len(lower); winStart += fuzzyWindowStride {
		winEnd := winStart + fuzzyWindowSize
		if winEnd > len(lower) {
			winEnd = len(lower)
		}

		for i := winStart; i < winEnd; {
			best := fuzzyHit{start: i, sim: 0}
			// Sample candidate lengths between the bounds; the exact
			// phrase length is always among them.
			for _, l := range candidateLengths(minLen, plen, maxLen) {
				end := i + l
				if end > len(lower) {
					continue
				}
				sim := jaccard(phrase.grams, trigrams(lower[i:end]))
				if sim > best.sim {
					best.sim = sim
					best.end = end
				}
			}
			if best.sim > fuzzyMinSimilarity {
				// Merge with a previous hit that this one overlaps.
				if n := len(hits); n > 0 && hits[n-1].end > best.start {
					if best.sim > hits[n-1].sim {
						hits[n-1] = best
					}
				} else {
					hits = append(hits, best)
				}
				i += skip
				continue
			}
			i++
		}

		if winEnd == len(lower) {
			break
		}
	}
	return hits
}

// candidateLengths returns the substring lengths tried at each position:
// the half, exact, and double phrase lengths.
func candidateLengths(minLen, exact, maxLen int) [3]int {
	return [3]int{minLen, exact, maxLen}
}

// trigrams returns the set of character 3-grams of s.
func trigrams(s string) map[string]struct{} {
	out := make(map[string]struct{})
	if len(s) < 3 {
		out[s] = struct{}{}
		return out
	}
	for i := 0; i+3 <= len(s); i++ {
		out[s[i:i+3]] = struct{}{}
	}
	return out
}

// jaccard computes |a∩b| / |a∪b|.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for g := range a {
		if _, ok := b[g]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
