package stix

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attacklens/attacklens/attack"
	"github.com/attacklens/attacklens/config"
	"github.com/attacklens/attacklens/taskerr"
)

// fixtureBundle holds a minimal enterprise bundle: one parent technique with
// two tactics, one sub-technique, one mitigation, a tactic object, and a
// collection object carrying the content version.
const fixtureBundle = `{
  "type": "bundle",
  "id": "bundle--0001",
  "spec_version": "2.1",
  "objects": [
    {
      "type": "x-mitre-collection",
      "id": "x-mitre-collection--0001",
      "x_mitre_version": "14.1"
    },
    {
      "type": "x-mitre-tactic",
      "id": "x-mitre-tactic--0001",
      "name": "Initial Access",
      "x_mitre_shortname": "initial-access"
    },
    {
      "type": "attack-pattern",
      "id": "attack-pattern--aaaa",
      "name": "Phishing",
      "description": "Adversaries may send phishing messages to gain access to victim systems.",
      "created": "2020-03-02T18:45:07.892Z",
      "modified": "2023-04-14T14:08:24.488Z",
      "kill_chain_phases": [
        {"kill_chain_name": "mitre-attack", "phase_name": "initial-access"},
        {"kill_chain_name": "mitre-attack", "phase_name": "initial-access"},
        {"kill_chain_name": "lockheed", "phase_name": "delivery"}
      ],
      "external_references": [
        {"source_name": "mitre-attack", "external_id": "T1566", "url": "https://attack.mitre.org/techniques/T1566"}
      ],
      "x_mitre_platforms": ["Linux", "Windows"],
      "x_mitre_data_sources": ["Application Log: Application Log Content"],
      "x_mitre_detection": "Monitor for suspicious email attachments."
    },
    {
      "type": "attack-pattern",
      "id": "attack-pattern--bbbb",
      "name": "Spearphishing Attachment",
      "description": "Adversaries may send spearphishing emails with a malicious attachment.",
      "kill_chain_phases": [
        {"kill_chain_name": "mitre-attack", "phase_name": "initial-access"}
      ],
      "external_references": [
        {"source_name": "mitre-attack", "external_id": "T1566.001", "url": "https://attack.mitre.org/techniques/T1566/001"}
      ]
    },
    {
      "type": "attack-pattern",
      "id": "attack-pattern--cccc",
      "name": "Revoked Technique",
      "description": "No longer a technique.",
      "revoked": true,
      "external_references": [
        {"source_name": "mitre-attack", "external_id": "T9999"}
      ]
    },
    {
      "type": "course-of-action",
      "id": "course-of-action--dddd",
      "name": "User Training",
      "description": "Train users to identify phishing.",
      "external_references": [
        {"source_name": "mitre-attack", "external_id": "M1017"}
      ]
    },
    {
      "type": "relationship",
      "id": "relationship--0001",
      "relationship_type": "subtechnique-of",
      "source_ref": "attack-pattern--bbbb",
      "target_ref": "attack-pattern--aaaa"
    },
    {
      "type": "relationship",
      "id": "relationship--0002",
      "relationship_type": "mitigates",
      "source_ref": "course-of-action--dddd",
      "target_ref": "attack-pattern--aaaa"
    },
    {
      "type": "relationship",
      "id": "relationship--0003",
      "relationship_type": "uses",
      "source_ref": "attack-pattern--aaaa",
      "target_ref": "attack-pattern--bbbb"
    }
  ]
}`

func defaultParser(t *testing.T) *Parser {
	t.Helper()
	return NewParser(config.Default().Parser)
}

func TestParseFixtureBundle(t *testing.T) {
	catalog, err := defaultParser(t).Parse([]byte(fixtureBundle))
	require.NoError(t, err)

	assert.Equal(t, "14.1", catalog.Version())
	assert.Equal(t, 2, catalog.Len()) // revoked technique dropped

	parent, ok := catalog.Technique("T1566")
	require.True(t, ok)
	assert.Equal(t, "Phishing", parent.Name)
	assert.Equal(t, []string{"initial-access"}, parent.Tactics) // duplicate phase collapsed
	assert.Equal(t, []string{"Linux", "Windows"}, parent.Platforms)
	assert.Equal(t, "Monitor for suspicious email attachments.", parent.Detection)
	assert.Equal(t, "https://attack.mitre.org/techniques/T1566", parent.URL)
	assert.NotEmpty(t, parent.Keywords)
	assert.Contains(t, parent.Keywords, "phishing")

	require.Len(t, parent.Mitigations, 1)
	assert.Equal(t, "M1017", parent.Mitigations[0].ID)
	assert.Equal(t, "User Training", parent.Mitigations[0].Name)

	assert.Equal(t, []attack.TechniqueID{"T1566.001"}, parent.Subtechniques)

	child, ok := catalog.Technique("T1566.001")
	require.True(t, ok)
	assert.Equal(t, attack.TechniqueID("T1566"), child.ParentID)

	// STIX identifiers alias the same techniques.
	alias, ok := catalog.Technique("attack-pattern--aaaa")
	require.True(t, ok)
	assert.Same(t, parent, alias)
}

func TestParseTacticInversion(t *testing.T) {
	catalog, err := defaultParser(t).Parse([]byte(fixtureBundle))
	require.NoError(t, err)

	ids := catalog.TechniquesForTactic("initial-access")
	assert.Equal(t, []attack.TechniqueID{"T1566", "T1566.001"}, ids)

	// Every indexed id resolves, and membership matches the declared tactics.
	for _, tactic := range catalog.Tactics() {
		for _, id := range catalog.TechniquesForTactic(tactic) {
			technique, ok := catalog.Technique(id)
			require.True(t, ok, "id %s in tactic %s does not resolve", id, tactic)
			assert.True(t, technique.HasTactic(tactic))
		}
	}
}

func TestParseConfigEffects(t *testing.T) {
	t.Run("exclude subtechniques", func(t *testing.T) {
		cfg := config.Default().Parser
		cfg.IncludeSubtechniques = false
		catalog, err := NewParser(cfg).Parse([]byte(fixtureBundle))
		require.NoError(t, err)
		_, ok := catalog.Technique("T1566.001")
		assert.False(t, ok)
	})

	t.Run("no keywords", func(t *testing.T) {
		cfg := config.Default().Parser
		cfg.ExtractKeywords = false
		catalog, err := NewParser(cfg).Parse([]byte(fixtureBundle))
		require.NoError(t, err)
		technique, _ := catalog.Technique("T1566")
		assert.Empty(t, technique.Keywords)
	})

	t.Run("no data sources", func(t *testing.T) {
		cfg := config.Default().Parser
		cfg.IncludeDataSources = false
		catalog, err := NewParser(cfg).Parse([]byte(fixtureBundle))
		require.NoError(t, err)
		technique, _ := catalog.Technique("T1566")
		assert.Empty(t, technique.DataSources)
	})

	t.Run("no tactics", func(t *testing.T) {
		cfg := config.Default().Parser
		cfg.IncludeTactics = false
		catalog, err := NewParser(cfg).Parse([]byte(fixtureBundle))
		require.NoError(t, err)
		technique, _ := catalog.Technique("T1566")
		assert.Empty(t, technique.Tactics)
		assert.Empty(t, catalog.Tactics())
	})
}

func TestParseRejectsMalformedBundles(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{{{`},
		{"wrong type", `{"type": "report", "objects": []}`},
		{"missing objects", `{"type": "bundle"}`},
		{"no attack patterns", `{"type": "bundle", "objects": [{"type": "identity", "id": "identity--1"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := defaultParser(t).Parse([]byte(tt.data))
			require.Error(t, err)
			assert.Equal(t, taskerr.KindInvalidBundle, taskerr.KindOf(err))
		})
	}
}

func TestParseSkipsDegenerateSubtechniqueEdges(t *testing.T) {
	data := `{
	  "type": "bundle",
	  "objects": [
	    {"type": "attack-pattern", "id": "attack-pattern--p",
	     "name": "Parent", "description": "parent",
	     "external_references": [{"source_name": "mitre-attack", "external_id": "T1000"}]},
	    {"type": "attack-pattern", "id": "attack-pattern--s1",
	     "name": "Child One", "description": "child",
	     "external_references": [{"source_name": "mitre-attack", "external_id": "T1000.001"}]},
	    {"type": "attack-pattern", "id": "attack-pattern--s2",
	     "name": "Child Two", "description": "child",
	     "external_references": [{"source_name": "mitre-attack", "external_id": "T1000.002"}]},
	    {"type": "relationship", "relationship_type": "subtechnique-of",
	     "source_ref": "attack-pattern--s1", "target_ref": "attack-pattern--s1"},
	    {"type": "relationship", "relationship_type": "subtechnique-of",
	     "source_ref": "attack-pattern--s1", "target_ref": "attack-pattern--p"},
	    {"type": "relationship", "relationship_type": "subtechnique-of",
	     "source_ref": "attack-pattern--s2", "target_ref": "attack-pattern--s1"},
	    {"type": "relationship", "relationship_type": "subtechnique-of",
	     "source_ref": "attack-pattern--s2", "target_ref": "attack-pattern--missing"}
	  ]
	}`

	catalog, err := defaultParser(t).Parse([]byte(data))
	require.NoError(t, err)

	s1, ok := catalog.Technique("T1000.001")
	require.True(t, ok)
	assert.Equal(t, attack.TechniqueID("T1000"), s1.ParentID) // self-loop skipped, real edge kept

	s2, ok := catalog.Technique("T1000.002")
	require.True(t, ok)
	assert.Empty(t, s2.ParentID) // sub-of-sub and unknown-parent edges skipped

	parent, _ := catalog.Technique("T1000")
	assert.Equal(t, []attack.TechniqueID{"T1000.001"}, parent.Subtechniques)
}

func TestValidateBundle(t *testing.T) {
	assert.NoError(t, ValidateBundle([]byte(fixtureBundle)))

	err := ValidateBundle([]byte(`{"type": "bundle", "objects": []}`))
	require.Error(t, err)
	var te *taskerr.Error
	require.True(t, errors.As(err, &te))
	assert.Equal(t, taskerr.KindInvalidBundle, te.Kind)
}
