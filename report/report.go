// Package report turns evaluation results into user-facing analysis
// reports: aggregate counts, tactic breakdowns, ranked techniques, and
// deterministic key findings.
package report

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/attacklens/attacklens/attack"
	"github.com/attacklens/attacklens/config"
	"github.com/attacklens/attacklens/evaluate"
	"github.com/attacklens/attacklens/taskerr"
)

// TechniqueScore is one ranked technique in a report summary.
type TechniqueScore struct {
	ID    attack.TechniqueID `json:"id"`
	Name  string             `json:"name"`
	Score int                `json:"score"`
}

// Summary aggregates the report's headline numbers.
type Summary struct {
	// MatchCount is the number of detailed matches.
	MatchCount int `json:"matchCount"`

	// HighConfidenceCount counts matches at or above the confidence
	// threshold.
	HighConfidenceCount int `json:"highConfidenceCount"`

	// TacticsBreakdown maps tactics to matched-technique counts. Tactics
	// with zero matches are omitted.
	TacticsBreakdown map[string]int `json:"tacticsBreakdown,omitempty"`

	// TopTechniques ranks the strongest matches.
	TopTechniques []TechniqueScore `json:"topTechniques"`

	// KeyFindings holds up to four generated sentences.
	KeyFindings []string `json:"keyFindings"`
}

// DocumentInfo identifies the analyzed document for the report header.
type DocumentInfo struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Title  string `json:"title,omitempty"`
	Format string `json:"format,omitempty"`
}

// Report is the final output of a document analysis.
type Report struct {
	ID              string           `json:"id"`
	Timestamp       time.Time        `json:"timestamp"`
	Source          string           `json:"source"`
	Document        DocumentInfo     `json:"document"`
	Summary         Summary          `json:"summary"`
	DetailedMatches []evaluate.Match `json:"detailedMatches"`

	// CatalogVersion is the ATT&CK bundle version the matches were scored
	// against. Filled by the caller that owns the catalog.
	CatalogVersion string `json:"catalogVersion,omitempty"`
}

// Generator builds reports from evaluation results.
type Generator struct {
	cfg    config.ReporterConfig
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the generator's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGenerator returns a report generator with the given configuration.
func NewGenerator(cfg config.ReporterConfig, opts ...Option) *Generator {
	g := &Generator{
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate builds a report from an evaluation result. The result's matches
// are expected in evaluator order (descending confidence).
func (g *Generator) Generate(eval *evaluate.Result, doc DocumentInfo) (*Report, error) {
	const op = "report.Generator.Generate"
	if eval == nil {
		return nil, taskerr.NewInvalidInput(op, errors.New("evaluation result is nil"))
	}

	summary := Summary{
		MatchCount:          len(eval.Matches),
		HighConfidenceCount: g.highConfidenceCount(eval.Matches),
		TopTechniques:       g.topTechniques(eval.Matches),
	}
	if g.cfg.IncludeTacticBreakdown {
		summary.TacticsBreakdown = tacticsBreakdown(eval.Summary.TacticsCoverage)
	}
	summary.KeyFindings = g.keyFindings(eval)

	r := &Report{
		ID:              uuid.New().String(),
		Timestamp:       g.now().UTC(),
		Source:          doc.Source,
		Document:        doc,
		Summary:         summary,
		DetailedMatches: eval.Matches,
	}

	g.logger.Info("report generated",
		"report_id", r.ID,
		"document_id", doc.ID,
		"matches", summary.MatchCount,
		"high_confidence", summary.HighConfidenceCount)
	return r, nil
}

func (g *Generator) highConfidenceCount(matches []evaluate.Match) int {
	n := 0
	for _, m := range matches {
		if m.Confidence >= g.cfg.ConfidenceThreshold {
			n++
		}
	}
	return n
}

func (g *Generator) topTechniques(matches []evaluate.Match) []TechniqueScore {
	limit := g.cfg.MaxMatchesInSummary
	if limit <= 0 || limit > len(matches) {
		limit = len(matches)
	}
	out := make([]TechniqueScore, 0, limit)
	for _, m := range matches[:limit] {
		out = append(out, TechniqueScore{ID: m.TechniqueID, Name: m.TechniqueName, Score: m.Confidence})
	}
	return out
}

// tacticsBreakdown copies the coverage map, dropping zero entries.
func tacticsBreakdown(coverage map[string]int) map[string]int {
	out := make(map[string]int, len(coverage))
	for tactic, n := range coverage {
		if n > 0 {
			out[tactic] = n
		}
	}
	return out
}

// keyFindings emits up to four sentences, in a fixed order, each only when
// its precondition holds. The output is deterministic for a given result.
func (g *Generator) keyFindings(eval *evaluate.Result) []string {
	var findings []string

	if tactic, count, ok := prevalentTactic(eval.Summary.TacticsCoverage); ok {
		findings = append(findings, fmt.Sprintf(
			"The most prevalent tactic is %s with %d matched technique(s).", tactic, count))
	}

	if len(eval.Matches) > 0 {
		best := eval.Matches[0]
		if best.Confidence >= g.cfg.ConfidenceThreshold {
			findings = append(findings, fmt.Sprintf(
				"The strongest indicator is %s (%s) at %d%% confidence.",
				best.TechniqueID, best.TechniqueName, best.Confidence))
		}
	}

	if distinct := distinctTechniques(eval.Matches); distinct > 5 {
		findings = append(findings, fmt.Sprintf(
			"The document references %d distinct ATT&CK techniques.", distinct))
	}

	if tactics := len(tacticsBreakdown(eval.Summary.TacticsCoverage)); tactics >= 3 {
		findings = append(findings, fmt.Sprintf(
			"Matched techniques span %d tactics of the kill chain.", tactics))
	}

	return findings
}

// prevalentTactic returns the tactic with the highest technique count.
// Ties resolve to the lexicographically smallest tactic so the finding is
// stable across runs.
func prevalentTactic(coverage map[string]int) (string, int, bool) {
	best := ""
	bestCount := 0
	tactics := make([]string, 0, len(coverage))
	for tactic := range coverage {
		tactics = append(tactics, tactic)
	}
	sort.Strings(tactics)
	for _, tactic := range tactics {
		if coverage[tactic] > bestCount {
			best = tactic
			bestCount = coverage[tactic]
		}
	}
	return best, bestCount, bestCount > 0
}

func distinctTechniques(matches []evaluate.Match) int {
	seen := make(map[attack.TechniqueID]bool, len(matches))
	for _, m := range matches {
		seen[m.TechniqueID] = true
	}
	return len(seen)
}
