// Package attack defines the MITRE ATT&CK domain model: technique
// identifiers, techniques with their tactic and mitigation relations, and
// the immutable catalog produced by parsing a STIX bundle.
package attack

import (
	"regexp"
	"strings"
	"time"
)

// idPattern matches ATT&CK technique identifiers such as T1566 and T1566.001.
var idPattern = regexp.MustCompile(`^T\d+(\.\d+)?$`)

// TechniqueID is an ATT&CK technique identifier of the form T<digits> or
// T<digits>.<digits> for sub-techniques. Catalog lookups also accept raw
// STIX identifiers, which do not satisfy Valid.
type TechniqueID string

// Valid reports whether the identifier has the canonical ATT&CK shape.
func (id TechniqueID) Valid() bool {
	return idPattern.MatchString(string(id))
}

// IsSubtechnique reports whether the identifier names a sub-technique.
func (id TechniqueID) IsSubtechnique() bool {
	return id.Valid() && strings.Contains(string(id), ".")
}

// Parent returns the parent technique identifier for a sub-technique, or
// the empty identifier when id is not a sub-technique.
func (id TechniqueID) Parent() TechniqueID {
	if !id.IsSubtechnique() {
		return ""
	}
	dot := strings.Index(string(id), ".")
	return id[:dot]
}

// String returns the identifier as a plain string.
func (id TechniqueID) String() string {
	return string(id)
}

// MitigationRef links a technique to a mitigating course of action.
type MitigationRef struct {
	// ID is the mitigation's ATT&CK identifier (e.g., M1049) or, when no
	// external identifier exists, its STIX identifier.
	ID string `json:"id"`

	// Name is the mitigation's display name.
	Name string `json:"name"`

	// Description summarizes the mitigation. May be empty.
	Description string `json:"description,omitempty"`
}

// Technique is a single ATT&CK technique or sub-technique. Techniques are
// built by the STIX parser and are immutable afterwards; callers must treat
// every field, including slices, as read-only.
type Technique struct {
	// ID is the external ATT&CK identifier when one exists, otherwise the
	// STIX identifier.
	ID TechniqueID `json:"id"`

	// StixID is the raw STIX object identifier (attack-pattern--<uuid>).
	StixID string `json:"stixId"`

	// Name is the technique's display name.
	Name string `json:"name"`

	// Description is the technique's plain-text description.
	Description string `json:"description"`

	// Tactics holds the kill-chain phase short names this technique serves,
	// in bundle order, without duplicates (e.g., "initial-access").
	Tactics []string `json:"tactics,omitempty"`

	// Platforms lists the platforms the technique applies to.
	Platforms []string `json:"platforms,omitempty"`

	// DataSources lists detection data sources.
	DataSources []string `json:"dataSources,omitempty"`

	// Detection is the technique's detection guidance text.
	Detection string `json:"detection,omitempty"`

	// Mitigations holds the resolved mitigation references.
	Mitigations []MitigationRef `json:"mitigations,omitempty"`

	// URL is the technique's MITRE ATT&CK page.
	URL string `json:"url,omitempty"`

	// Keywords is the derived keyword set used by the matchers.
	Keywords []string `json:"keywords,omitempty"`

	// ParentID is set on sub-techniques and names the parent technique.
	ParentID TechniqueID `json:"parentId,omitempty"`

	// Subtechniques lists child identifiers when this is a parent technique.
	Subtechniques []TechniqueID `json:"subtechniques,omitempty"`

	// CreatedAt and ModifiedAt carry the bundle's object timestamps.
	CreatedAt  time.Time `json:"createdAt,omitempty"`
	ModifiedAt time.Time `json:"modifiedAt,omitempty"`
}

// IsSubtechnique reports whether the technique declares a parent.
func (t *Technique) IsSubtechnique() bool {
	return t.ParentID != ""
}

// HasTactic reports whether the technique serves the given tactic.
func (t *Technique) HasTactic(tactic string) bool {
	for _, tc := range t.Tactics {
		if tc == tactic {
			return true
		}
	}
	return false
}
