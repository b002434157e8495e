package evaluate

import (
	"math"
	"regexp"
	"strings"

	"github.com/attacklens/attacklens/attack"
	"github.com/attacklens/attacklens/keywords"
)

// tfidfMatcher scores chunks by cosine similarity against per-technique
// TF-IDF vectors built once over the catalog corpus. Each technique's
// corpus document is its name, description, and keywords.
type tfidfMatcher struct {
	threshold  float64
	techniques []*attack.Technique
	idf        map[string]float64
	vectors    map[attack.TechniqueID]map[string]float64 // l2-normalized
	docTerms   map[attack.TechniqueID]map[string]bool
}

func newTFIDFMatcher(catalog *attack.Catalog, threshold float64) *tfidfMatcher {
	m := &tfidfMatcher{
		threshold:  threshold,
		techniques: catalog.Techniques(),
		idf:        make(map[string]float64),
		vectors:    make(map[attack.TechniqueID]map[string]float64),
		docTerms:   make(map[attack.TechniqueID]map[string]bool),
	}

	counts := make(map[attack.TechniqueID]map[string]int, len(m.techniques))
	df := make(map[string]int)

	for _, t := range m.techniques {
		doc := t.Name + " " + t.Description + " " + strings.Join(t.Keywords, " ")
		tf := termCounts(doc)
		counts[t.ID] = tf
		terms := make(map[string]bool, len(tf))
		for term := range tf {
			df[term]++
			terms[term] = true
		}
		m.docTerms[t.ID] = terms
	}

	n := float64(len(m.techniques))
	for term, d := range df {
		m.idf[term] = math.Log((1+n)/(1+float64(d))) + 1
	}

	for id, tf := range counts {
		total := 0
		for _, c := range tf {
			total += c
		}
		if total == 0 {
			continue
		}
		vec := make(map[string]float64, len(tf))
		var norm float64
		for term, c := range tf {
			w := float64(c) / float64(total) * m.idf[term]
			vec[term] = w
			norm += w * w
		}
		norm = math.Sqrt(norm)
		if norm == 0 {
			continue
		}
		for term := range vec {
			vec[term] /= norm
		}
		m.vectors[id] = vec
	}
	return m
}

func (m *tfidfMatcher) Name() Source {
	return SourceTFIDF
}

// Match computes the chunk's TF-IDF vector with the corpus IDF weights and
// emits one RawMatch per technique whose cosine similarity clears the
// threshold. The position is the chunk midpoint; the matched text is the
// chunk sentence sharing the most terms with the technique document.
func (m *tfidfMatcher) Match(chunk string, offset int) []RawMatch {
	tf := termCounts(chunk)
	if len(tf) == 0 {
		return nil
	}

	total := 0
	for _, c := range tf {
		total += c
	}
	vec := make(map[string]float64, len(tf))
	var norm float64
	for term, c := range tf {
		idf, ok := m.idf[term]
		if !ok {
			continue
		}
		w := float64(c) / float64(total) * idf
		vec[term] = w
		norm += w * w
	}
	if norm == 0 {
		return nil
	}
	norm = math.Sqrt(norm)
	for term := range vec {
		vec[term] /= norm
	}

	sentences := splitSentences(chunk)
	mid := offset + len(chunk)/2

	var out []RawMatch
	for _, t := range m.techniques {
		tvec, ok := m.vectors[t.ID]
		if !ok {
			continue
		}
		var cos float64
		for term, w := range vec {
			if tw, ok := tvec[term]; ok {
				cos += w * tw
			}
		}
		if cos < m.threshold {
			continue
		}
		score := int(math.Round(100 * cos))
		if score > 100 {
			score = 100
		}
		out = append(out, RawMatch{
			TechniqueID:   t.ID,
			TechniqueName: t.Name,
			Tactics:       t.Tactics,
			MatchedText:   bestSentence(sentences, m.docTerms[t.ID]),
			Position:      Position{StartChar: mid, EndChar: mid},
			TFIDFScore:    score,
			Source:        SourceTFIDF,
		})
	}
	return out
}

// termCounts tokenizes text the way the keyword tables do and counts the
// surviving terms.
func termCounts(text string) map[string]int {
	out := make(map[string]int)
	for _, tok := range strings.Fields(keywords.Sanitize(text)) {
		if keywords.IsTechnicalTerm(tok) || (len(tok) >= 3 && !keywords.IsStopWord(tok)) {
			out[tok]++
		}
	}
	return out
}

var sentenceEnd = regexp.MustCompile(`[.!?]\s+`)

// splitSentences breaks a chunk into rough sentences.
func splitSentences(chunk string) []string {
	parts := sentenceEnd.Split(chunk, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// bestSentence returns the sentence sharing the most terms with the
// technique document, or the empty string for an empty chunk.
func bestSentence(sentences []string, docTerms map[string]bool) string {
	best := ""
	bestShared := -1
	for _, s := range sentences {
		shared := 0
		for term := range termCounts(s) {
			if docTerms[term] {
				shared++
			}
		}
		if shared > bestShared {
			bestShared = shared
			best = s
		}
	}
	return best
}
