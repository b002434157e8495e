package report

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attacklens/attacklens/attack"
	"github.com/attacklens/attacklens/config"
	"github.com/attacklens/attacklens/evaluate"
)

func testResult() *evaluate.Result {
	matches := []evaluate.Match{
		{TechniqueID: "T1566", TechniqueName: "Phishing", Confidence: 95, Source: evaluate.SourceKeyword},
		{TechniqueID: "T1059", TechniqueName: "Command and Scripting Interpreter", Confidence: 80, Source: evaluate.SourceKeyword},
		{TechniqueID: "T1003", TechniqueName: "OS Credential Dumping", Confidence: 70, Source: evaluate.SourceFuzzy},
	}
	return &evaluate.Result{
		Matches: matches,
		Summary: evaluate.Summary{
			DocumentID: "doc-1",
			MatchCount: len(matches),
			TacticsCoverage: map[string]int{
				"initial-access":    2,
				"execution":         1,
				"credential-access": 1,
				"impact":            0,
			},
		},
	}
}

func TestGenerateReport(t *testing.T) {
	g := NewGenerator(config.Default().Reporter)

	r, err := g.Generate(testResult(), DocumentInfo{ID: "doc-1", Source: "https://example.com/report.html"})
	require.NoError(t, err)

	assert.NotEmpty(t, r.ID)
	assert.False(t, r.Timestamp.IsZero())
	assert.Equal(t, "https://example.com/report.html", r.Source)
	assert.Len(t, r.DetailedMatches, 3)

	assert.Equal(t, 3, r.Summary.MatchCount)
	assert.Equal(t, 2, r.Summary.HighConfidenceCount, "95 and 80 clear the default 75 threshold")

	require.Len(t, r.Summary.TopTechniques, 3)
	assert.Equal(t, TechniqueScore{ID: "T1566", Name: "Phishing", Score: 95}, r.Summary.TopTechniques[0])
}

func TestGenerateOmitsZeroTactics(t *testing.T) {
	g := NewGenerator(config.Default().Reporter)

	r, err := g.Generate(testResult(), DocumentInfo{ID: "doc-1"})
	require.NoError(t, err)

	assert.NotContains(t, r.Summary.TacticsBreakdown, "impact")
	assert.Equal(t, 2, r.Summary.TacticsBreakdown["initial-access"])
}

func TestGenerateTacticBreakdownDisabled(t *testing.T) {
	cfg := config.Default().Reporter
	cfg.IncludeTacticBreakdown = false
	g := NewGenerator(cfg)

	r, err := g.Generate(testResult(), DocumentInfo{ID: "doc-1"})
	require.NoError(t, err)
	assert.Nil(t, r.Summary.TacticsBreakdown)
}

func TestGenerateTopTechniquesRespectsLimit(t *testing.T) {
	cfg := config.Default().Reporter
	cfg.MaxMatchesInSummary = 2
	g := NewGenerator(cfg)

	r, err := g.Generate(testResult(), DocumentInfo{ID: "doc-1"})
	require.NoError(t, err)
	require.Len(t, r.Summary.TopTechniques, 2)
	assert.Equal(t, "T1566", string(r.Summary.TopTechniques[0].ID))
	assert.Equal(t, "T1059", string(r.Summary.TopTechniques[1].ID))
}

func TestKeyFindingsOrderAndPreconditions(t *testing.T) {
	g := NewGenerator(config.Default().Reporter)

	r, err := g.Generate(testResult(), DocumentInfo{ID: "doc-1"})
	require.NoError(t, err)

	findings := r.Summary.KeyFindings
	require.Len(t, findings, 3)

	// 1. Most prevalent tactic.
	assert.Contains(t, findings[0], "initial-access")
	// 2. Strongest indicator above the threshold.
	assert.Contains(t, findings[1], "T1566")
	assert.Contains(t, findings[1], "95%")
	// 3. Skipped: only 3 distinct techniques (needs > 5).
	// 4. Three tactics with matches.
	assert.Contains(t, findings[2], "3 tactics")
}

func TestKeyFindingsDistinctTechniqueThreshold(t *testing.T) {
	matches := make([]evaluate.Match, 0, 6)
	coverage := map[string]int{"execution": 6}
	for _, id := range []string{"T1001", "T1002", "T1003", "T1004", "T1005", "T1006"} {
		matches = append(matches, evaluate.Match{
			TechniqueID: attack.TechniqueID(id), TechniqueName: id, Confidence: 70,
		})
	}
	result := &evaluate.Result{
		Matches: matches,
		Summary: evaluate.Summary{TacticsCoverage: coverage},
	}

	g := NewGenerator(config.Default().Reporter)
	r, err := g.Generate(result, DocumentInfo{ID: "doc-1"})
	require.NoError(t, err)

	var found bool
	for _, f := range r.Summary.KeyFindings {
		if strings.Contains(f, "6 distinct") {
			found = true
		}
	}
	assert.True(t, found, "findings: %v", r.Summary.KeyFindings)
}

func TestKeyFindingsEmptyResult(t *testing.T) {
	g := NewGenerator(config.Default().Reporter)

	r, err := g.Generate(&evaluate.Result{}, DocumentInfo{ID: "doc-1"})
	require.NoError(t, err)
	assert.Empty(t, r.Summary.KeyFindings)
	assert.Equal(t, 0, r.Summary.MatchCount)
}

func TestGenerateRejectsNilResult(t *testing.T) {
	g := NewGenerator(config.Default().Reporter)
	_, err := g.Generate(nil, DocumentInfo{})
	assert.Error(t, err)
}

func TestPrevalentTacticTieBreak(t *testing.T) {
	tactic, count, ok := prevalentTactic(map[string]int{"execution": 2, "collection": 2})
	require.True(t, ok)
	assert.Equal(t, "collection", tactic, "ties resolve to the smallest tactic name")
	assert.Equal(t, 2, count)
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first := &Report{ID: "r1", Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	second := &Report{ID: "r2", Timestamp: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, s.Save(ctx, first))
	require.NoError(t, s.Save(ctx, second))

	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, first, got)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "r2", list[0].ID, "newest first")

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrReportNotFound)
}
