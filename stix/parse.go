package stix

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/attacklens/attacklens/attack"
	"github.com/attacklens/attacklens/config"
	"github.com/attacklens/attacklens/keywords"
	"github.com/attacklens/attacklens/taskerr"
)

// Parser converts STIX bundles into technique catalogs.
type Parser struct {
	cfg    config.ParserConfig
	logger *slog.Logger
}

// Option configures a Parser.
type Option func(*Parser)

// WithLogger sets the parser's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Parser) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewParser returns a parser with the given configuration.
func NewParser(cfg config.ParserConfig, opts ...Option) *Parser {
	p := &Parser{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse validates the bundle and builds the technique catalog: partition
// objects by type, resolve external identifiers and kill-chain tactics,
// attach sub-techniques and mitigations through the relationship edges, and
// derive keywords. Relationship edges are collected in a single pass before
// resolution, so forward references are handled; self-loops and
// sub-technique parents are rejected edge by edge.
func (p *Parser) Parse(data []byte) (*attack.Catalog, error) {
	const op = "Parser.Parse"

	var bundle Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, taskerr.NewInvalidBundle(op, fmt.Errorf("decode bundle: %w", err))
	}
	if bundle.Type != "bundle" {
		return nil, taskerr.NewInvalidBundle(op, fmt.Errorf("object type is %q, want \"bundle\"", bundle.Type))
	}
	if bundle.Objects == nil {
		return nil, taskerr.NewInvalidBundle(op, fmt.Errorf("bundle has no objects array"))
	}

	var (
		patterns    []attackPattern
		edges       []relationship
		mitigations = make(map[string]courseOfAction)
	)

	for _, raw := range bundle.Objects {
		var base baseObject
		if err := json.Unmarshal(raw, &base); err != nil {
			continue
		}

		switch base.Type {
		case "attack-pattern":
			var ap attackPattern
			if err := json.Unmarshal(raw, &ap); err != nil {
				p.logger.Warn("skipping malformed attack-pattern", "stix_id", base.ID, "error", err)
				continue
			}
			if ap.Revoked || ap.Deprecated {
				continue
			}
			patterns = append(patterns, ap)
		case "relationship":
			var rel relationship
			if err := json.Unmarshal(raw, &rel); err != nil {
				continue
			}
			if rel.RelationshipType == "subtechnique-of" || rel.RelationshipType == "mitigates" {
				edges = append(edges, rel)
			}
		case "course-of-action":
			var coa courseOfAction
			if err := json.Unmarshal(raw, &coa); err != nil {
				continue
			}
			if coa.Revoked || coa.Deprecated {
				continue
			}
			mitigations[coa.ID] = coa
		}
	}

	if len(patterns) == 0 {
		return nil, taskerr.NewInvalidBundle(op, fmt.Errorf("bundle contains no attack-pattern objects"))
	}

	byStixID := make(map[string]*attack.Technique, len(patterns))
	techniques := make([]*attack.Technique, 0, len(patterns))

	for _, ap := range patterns {
		extID, url := externalID(ap.ExternalReferences)
		id := attack.TechniqueID(extID)
		if id == "" {
			id = attack.TechniqueID(ap.ID)
		}

		if !p.cfg.IncludeSubtechniques && strings.Contains(string(id), ".") {
			continue
		}

		t := &attack.Technique{
			ID:          id,
			StixID:      ap.ID,
			Name:        ap.Name,
			Description: ap.Description,
			Detection:   ap.Detection,
			URL:         url,
			Platforms:   ap.Platforms,
			CreatedAt:   ap.Created,
			ModifiedAt:  ap.Modified,
		}

		if p.cfg.IncludeTactics {
			seen := make(map[string]bool, len(ap.KillChainPhases))
			for _, phase := range ap.KillChainPhases {
				if phase.KillChainName != "mitre-attack" || phase.PhaseName == "" {
					continue
				}
				if seen[phase.PhaseName] {
					continue
				}
				seen[phase.PhaseName] = true
				t.Tactics = append(t.Tactics, phase.PhaseName)
			}
		}

		if p.cfg.IncludeDataSources {
			t.DataSources = ap.DataSources
		}

		if p.cfg.ExtractKeywords {
			t.Keywords = keywords.Extract(ap.Description, ap.Name, true)
		}

		byStixID[ap.ID] = t
		techniques = append(techniques, t)
	}

	p.resolveEdges(edges, byStixID, mitigations)

	version := ExtractVersion(data)
	catalog, err := attack.NewCatalog(techniques, version)
	if err != nil {
		return nil, taskerr.NewInvalidBundle(op, err)
	}

	p.logger.Info("parsed STIX bundle",
		slog.String("version", version),
		slog.Int("techniques", catalog.Len()),
		slog.Int("tactics", len(catalog.Tactics())))

	return catalog, nil
}

// resolveEdges attaches sub-techniques to parents and mitigation references
// to techniques. A subtechnique-of edge has the child as source_ref and the
// parent as target_ref; a mitigates edge has the mitigation as source_ref
// and the technique as target_ref. Edges whose parent is the child itself or
// another sub-technique are logged and skipped.
func (p *Parser) resolveEdges(edges []relationship, byStixID map[string]*attack.Technique, mitigations map[string]courseOfAction) {
	for _, rel := range edges {
		switch rel.RelationshipType {
		case "subtechnique-of":
			child, ok := byStixID[rel.SourceRef]
			if !ok {
				continue
			}
			parent, ok := byStixID[rel.TargetRef]
			if !ok {
				p.logger.Warn("sub-technique references unknown parent",
					"child", string(child.ID), "parent_ref", rel.TargetRef)
				continue
			}
			if rel.SourceRef == rel.TargetRef {
				p.logger.Warn("skipping self-loop sub-technique edge", "id", string(child.ID))
				continue
			}
			if attack.TechniqueID(parent.ID).IsSubtechnique() {
				p.logger.Warn("skipping sub-technique edge onto a sub-technique parent",
					"child", string(child.ID), "parent", string(parent.ID))
				continue
			}
			child.ParentID = parent.ID
			parent.Subtechniques = append(parent.Subtechniques, child.ID)
		case "mitigates":
			technique, ok := byStixID[rel.TargetRef]
			if !ok {
				continue
			}
			coa, ok := mitigations[rel.SourceRef]
			if !ok {
				continue
			}
			mitID, _ := externalID(coa.ExternalReferences)
			if mitID == "" {
				mitID = coa.ID
			}
			technique.Mitigations = append(technique.Mitigations, attack.MitigationRef{
				ID:          mitID,
				Name:        coa.Name,
				Description: coa.Description,
			})
		}
	}
}

// ValidateBundle reports whether data looks like a STIX bundle with at
// least one attack-pattern, without building a catalog. The fetcher uses it
// to refuse caching garbage.
func ValidateBundle(data []byte) error {
	var bundle Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return taskerr.NewInvalidBundle("stix.ValidateBundle", fmt.Errorf("decode bundle: %w", err))
	}
	if bundle.Type != "bundle" || bundle.Objects == nil {
		return taskerr.NewInvalidBundle("stix.ValidateBundle", fmt.Errorf("not a STIX bundle"))
	}
	for _, raw := range bundle.Objects {
		var base baseObject
		if err := json.Unmarshal(raw, &base); err != nil {
			continue
		}
		if base.Type == "attack-pattern" {
			return nil
		}
	}
	return taskerr.NewInvalidBundle("stix.ValidateBundle", fmt.Errorf("bundle contains no attack-pattern objects"))
}
