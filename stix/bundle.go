// Package stix parses MITRE ATT&CK STIX 2.x bundles into technique
// catalogs and extracts bundle version identifiers.
package stix

import (
	"encoding/json"
	"time"
)

// Bundle is the top-level STIX envelope. Objects stay raw until the parser
// partitions them by type.
type Bundle struct {
	Type        string            `json:"type"`
	ID          string            `json:"id"`
	SpecVersion string            `json:"spec_version"`
	Objects     []json.RawMessage `json:"objects"`
}

// baseObject is the first-pass view used to partition bundle objects.
type baseObject struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// externalReference links a STIX object to an external catalog entry.
// ATT&CK identifiers carry source_name "mitre-attack".
type externalReference struct {
	SourceName string `json:"source_name"`
	ExternalID string `json:"external_id"`
	URL        string `json:"url"`
}

// killChainPhase names a kill-chain membership. ATT&CK tactics carry
// kill_chain_name "mitre-attack" and the tactic short name as phase_name.
type killChainPhase struct {
	KillChainName string `json:"kill_chain_name"`
	PhaseName     string `json:"phase_name"`
}

// attackPattern is a STIX attack-pattern object: a technique or sub-technique.
type attackPattern struct {
	Type               string              `json:"type"`
	ID                 string              `json:"id"`
	Name               string              `json:"name"`
	Description        string              `json:"description"`
	Created            time.Time           `json:"created"`
	Modified           time.Time           `json:"modified"`
	Revoked            bool                `json:"revoked"`
	Deprecated         bool                `json:"x_mitre_deprecated"`
	KillChainPhases    []killChainPhase    `json:"kill_chain_phases"`
	ExternalReferences []externalReference `json:"external_references"`
	Platforms          []string            `json:"x_mitre_platforms"`
	DataSources        []string            `json:"x_mitre_data_sources"`
	Detection          string              `json:"x_mitre_detection"`
}

// courseOfAction is a STIX course-of-action object: a mitigation.
type courseOfAction struct {
	Type               string              `json:"type"`
	ID                 string              `json:"id"`
	Name               string              `json:"name"`
	Description        string              `json:"description"`
	Revoked            bool                `json:"revoked"`
	Deprecated         bool                `json:"x_mitre_deprecated"`
	ExternalReferences []externalReference `json:"external_references"`
}

// relationship is a STIX relationship edge. Only subtechnique-of and
// mitigates edges are consumed.
type relationship struct {
	Type             string `json:"type"`
	ID               string `json:"id"`
	RelationshipType string `json:"relationship_type"`
	SourceRef        string `json:"source_ref"`
	TargetRef        string `json:"target_ref"`
}

// mitreTactic is an x-mitre-tactic object carrying the tactic short name.
type mitreTactic struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	Shortname string `json:"x_mitre_shortname"`
}

// mitreCollection is an x-mitre-collection object carrying the ATT&CK
// content version.
type mitreCollection struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Version string `json:"x_mitre_version"`
}

// markingDefinition is a marking-definition object; statement markings can
// carry a copyright line that names the content version.
type markingDefinition struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	Definition struct {
		Statement string `json:"statement"`
	} `json:"definition"`
}

// externalID returns the ATT&CK identifier and page URL from an external
// reference list, or empty strings when none is present.
func externalID(refs []externalReference) (id, url string) {
	for _, ref := range refs {
		if ref.SourceName == "mitre-attack" && ref.ExternalID != "" {
			return ref.ExternalID, ref.URL
		}
	}
	return "", ""
}
