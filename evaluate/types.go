// Package evaluate scores documents against the ATT&CK technique catalog.
// Three local matchers (keyword, TF-IDF, fuzzy) run concurrently over each
// chunk; their raw matches are merged, deduplicated, and synthesized into
// confidence-scored results, optionally augmented by a remote LLM.
package evaluate

import (
	"github.com/attacklens/attacklens/attack"
)

// Source identifies which matcher produced a match.
type Source string

// Match sources.
const (
	SourceKeyword Source = "keyword"
	SourceTFIDF   Source = "tfidf"
	SourceFuzzy   Source = "fuzzy"
	SourceLLM     Source = "llm"
)

// Position is a character range in the document's normalized text.
type Position struct {
	StartChar int `json:"startChar"`
	EndChar   int `json:"endChar"`
}

// overlaps reports whether two positions intersect.
func (p Position) overlaps(o Position) bool {
	return p.StartChar <= o.EndChar && o.StartChar <= p.EndChar
}

// union returns the covering range of two positions.
func (p Position) union(o Position) Position {
	out := p
	if o.StartChar < out.StartChar {
		out.StartChar = o.StartChar
	}
	if o.EndChar > out.EndChar {
		out.EndChar = o.EndChar
	}
	return out
}

// RawMatch is a single matcher hit before merging. Exactly one of the three
// score fields is set, per Source.
type RawMatch struct {
	TechniqueID   attack.TechniqueID
	TechniqueName string
	Tactics       []string
	MatchedText   string
	Position      Position
	KeywordScore  int
	TFIDFScore    int
	FuzzyScore    int
	Source        Source
}

// score returns the single populated score.
func (m RawMatch) score() int {
	switch m.Source {
	case SourceKeyword:
		return m.KeywordScore
	case SourceTFIDF:
		return m.TFIDFScore
	case SourceFuzzy:
		return m.FuzzyScore
	}
	return 0
}

// Match is a user-facing technique match.
type Match struct {
	// TechniqueID and TechniqueName identify the matched technique.
	TechniqueID   attack.TechniqueID `json:"techniqueId"`
	TechniqueName string             `json:"techniqueName"`

	// Confidence is the synthesized 0..100 score.
	Confidence int `json:"confidenceScore"`

	// MatchedText is the text that triggered the match, unchanged.
	MatchedText string `json:"matchedText"`

	// Context is a window of surrounding text, clamped to the chunk.
	Context string `json:"context"`

	// Position locates the match in the document's normalized text.
	Position Position `json:"textPosition"`

	// Source is the matcher of the highest-scoring contributing hit.
	Source Source `json:"matchSource"`

	// MultiMethod reports whether two or more matchers found the technique
	// anywhere in the document.
	MultiMethod bool `json:"matchedByMultipleMethods"`
}

// Summary aggregates an evaluation.
type Summary struct {
	// DocumentID identifies the evaluated document.
	DocumentID string `json:"documentId"`

	// MatchCount is the number of matches returned.
	MatchCount int `json:"matchCount"`

	// TopTechniques lists the five highest-confidence technique ids.
	TopTechniques []attack.TechniqueID `json:"topTechniques"`

	// TacticsCoverage counts matched techniques per tactic.
	TacticsCoverage map[string]int `json:"tacticsCoverage"`

	// LLMUsed reports whether the remote augmentation path contributed.
	LLMUsed bool `json:"llmUsed"`

	// ProcessingTimeMS is the wall-clock evaluation time.
	ProcessingTimeMS int64 `json:"processingTimeMs"`
}

// Result is the full output of evaluating one document.
type Result struct {
	Matches []Match `json:"matches"`
	Summary Summary `json:"summary"`
}
