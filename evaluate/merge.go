package evaluate

import (
	"math"
	"sort"

	"github.com/attacklens/attacklens/attack"
	"github.com/attacklens/attacklens/config"
)

// confidence synthesis weights. Keyword evidence dominates because it is
// the most literal; the multi-method bonus rewards independent agreement.
const (
	confidenceKeywordWeight = 0.40
	confidenceTFIDFWeight   = 0.35
	confidenceFuzzyWeight   = 0.25
	multiMethodBonus        = 10
)

// mergedGroup accumulates overlapping raw matches of one technique.
type mergedGroup struct {
	techniqueID   attack.TechniqueID
	techniqueName string
	position      Position
	keywordScore  int
	tfidfScore    int
	fuzzyScore    int
	bestScore     float64
	bestText      string
	bestSource    Source
}

func (g *mergedGroup) absorb(m RawMatch) {
	g.position = g.position.union(m.Position)
	switch m.Source {
	case SourceKeyword:
		if m.KeywordScore > g.keywordScore {
			g.keywordScore = m.KeywordScore
		}
	case SourceTFIDF:
		if m.TFIDFScore > g.tfidfScore {
			g.tfidfScore = m.TFIDFScore
		}
	case SourceFuzzy:
		if m.FuzzyScore > g.fuzzyScore {
			g.fuzzyScore = m.FuzzyScore
		}
	}

	// The group's reported source and matched text follow the member with
	// the largest weighted contribution, so literal keyword evidence wins
	// over a fuzzy hit on the same span.
	if s := weightFor(m.Source) * float64(m.score()); s > g.bestScore || g.bestText == "" {
		g.bestScore = s
		g.bestText = m.MatchedText
		g.bestSource = m.Source
	}
}

func weightFor(s Source) float64 {
	switch s {
	case SourceKeyword:
		return confidenceKeywordWeight
	case SourceTFIDF:
		return confidenceTFIDFWeight
	case SourceFuzzy:
		return confidenceFuzzyWeight
	}
	return 0
}

// confidence synthesizes the group's matcher scores. The weights are
// renormalized over the matchers that actually scored the group, so a
// strong single-method hit (an exact technique id, say) is not diluted by
// the matchers that had nothing to say.
func (g *mergedGroup) confidence(multi bool) int {
	var sum, weights float64
	if g.keywordScore > 0 {
		sum += confidenceKeywordWeight * float64(g.keywordScore)
		weights += confidenceKeywordWeight
	}
	if g.tfidfScore > 0 {
		sum += confidenceTFIDFWeight * float64(g.tfidfScore)
		weights += confidenceTFIDFWeight
	}
	if g.fuzzyScore > 0 {
		sum += confidenceFuzzyWeight * float64(g.fuzzyScore)
		weights += confidenceFuzzyWeight
	}
	if weights == 0 {
		return 0
	}
	score := int(math.Round(sum / weights))
	if multi {
		score += multiMethodBonus
	}
	if score > 100 {
		score = 100
	}
	return score
}

// mergeMatches collapses raw matcher hits into user-facing matches.
// Overlapping hits of the same technique merge into one group that keeps
// the highest score per matcher; the group's position is the covering
// range. A technique found by two or more matchers anywhere in the chunk
// is marked multi-method and earns a confidence bonus. Matches below the
// configured minimum are dropped and the rest are ordered by confidence
// descending, technique id ascending.
func mergeMatches(raw []RawMatch, chunk string, offset int, cfg config.EvaluatorConfig) []Match {
	if len(raw) == 0 {
		return nil
	}

	sort.SliceStable(raw, func(i, j int) bool {
		if raw[i].TechniqueID != raw[j].TechniqueID {
			return raw[i].TechniqueID < raw[j].TechniqueID
		}
		return raw[i].Position.StartChar < raw[j].Position.StartChar
	})

	sources := make(map[attack.TechniqueID]map[Source]bool)
	for _, m := range raw {
		if sources[m.TechniqueID] == nil {
			sources[m.TechniqueID] = make(map[Source]bool)
		}
		sources[m.TechniqueID][m.Source] = true
	}

	var groups []*mergedGroup
	for _, m := range raw {
		n := len(groups)
		if n > 0 && groups[n-1].techniqueID == m.TechniqueID && groups[n-1].position.overlaps(m.Position) {
			groups[n-1].absorb(m)
			continue
		}
		g := &mergedGroup{
			techniqueID:   m.TechniqueID,
			techniqueName: m.TechniqueName,
			position:      m.Position,
		}
		g.absorb(m)
		groups = append(groups, g)
	}

	out := make([]Match, 0, len(groups))
	for _, g := range groups {
		multi := len(sources[g.techniqueID]) >= 2
		conf := g.confidence(multi)
		if conf < cfg.MinConfidenceScore {
			continue
		}
		out = append(out, Match{
			TechniqueID:   g.techniqueID,
			TechniqueName: g.techniqueName,
			Confidence:    conf,
			MatchedText:   g.bestText,
			Context:       contextWindow(chunk, offset, g.position, cfg.ContextWindowSize),
			Position:      g.position,
			Source:        g.bestSource,
			MultiMethod:   multi,
		})
	}

	sortMatches(out)
	return out
}

// sortMatches orders by confidence descending, then technique id ascending.
func sortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Confidence != matches[j].Confidence {
			return matches[i].Confidence > matches[j].Confidence
		}
		return matches[i].TechniqueID < matches[j].TechniqueID
	})
}

// contextWindow extracts the text surrounding a match: half the window on
// each side, clamped to the chunk. Positions are global, so they are shifted
// back by the chunk offset first.
func contextWindow(chunk string, offset int, pos Position, windowSize int) string {
	half := windowSize / 2
	start := pos.StartChar - offset - half
	end := pos.EndChar - offset + half
	if start < 0 {
		start = 0
	}
	if end > len(chunk) {
		end = len(chunk)
	}
	if start >= end {
		return ""
	}
	return chunk[start:end]
}
