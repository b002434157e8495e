package attack

import (
	"fmt"
	"sort"
)

// Catalog is the indexed, immutable output of parsing a STIX bundle.
// Lookups accept both external ATT&CK identifiers and raw STIX identifiers;
// the tactic index is derived from each technique's tactics at construction,
// so a technique appears under a tactic exactly when it declares it.
// A catalog is safe for concurrent readers.
type Catalog struct {
	byID                map[TechniqueID]*Technique
	tacticsToTechniques map[string][]TechniqueID
	version             string
	count               int
}

// NewCatalog builds a catalog from parsed techniques. Every technique is
// indexed under its external identifier and, when distinct, its STIX
// identifier. Construction fails if a technique has an empty identifier, if
// two techniques claim the same identifier, or if a sub-technique's parent
// does not resolve.
func NewCatalog(techniques []*Technique, version string) (*Catalog, error) {
	c := &Catalog{
		byID:                make(map[TechniqueID]*Technique, len(techniques)*2),
		tacticsToTechniques: make(map[string][]TechniqueID),
		version:             version,
		count:               len(techniques),
	}

	for _, t := range techniques {
		if t.ID == "" {
			return nil, fmt.Errorf("technique %q has no identifier", t.Name)
		}
		if _, dup := c.byID[t.ID]; dup {
			return nil, fmt.Errorf("duplicate technique identifier %s", t.ID)
		}
		c.byID[t.ID] = t

		if t.StixID != "" && TechniqueID(t.StixID) != t.ID {
			alias := TechniqueID(t.StixID)
			if _, dup := c.byID[alias]; dup {
				return nil, fmt.Errorf("duplicate STIX identifier %s", t.StixID)
			}
			c.byID[alias] = t
		}
	}

	for _, t := range techniques {
		if t.ParentID != "" {
			if _, ok := c.byID[t.ParentID]; !ok {
				return nil, fmt.Errorf("sub-technique %s references unknown parent %s", t.ID, t.ParentID)
			}
		}
		for _, tactic := range t.Tactics {
			c.tacticsToTechniques[tactic] = append(c.tacticsToTechniques[tactic], t.ID)
		}
	}

	for tactic := range c.tacticsToTechniques {
		ids := c.tacticsToTechniques[tactic]
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}

	return c, nil
}

// Technique returns the technique for an external or STIX identifier.
func (c *Catalog) Technique(id TechniqueID) (*Technique, bool) {
	t, ok := c.byID[id]
	return t, ok
}

// TechniquesForTactic returns the identifiers of techniques serving the
// given tactic, sorted. The returned slice is a copy.
func (c *Catalog) TechniquesForTactic(tactic string) []TechniqueID {
	ids := c.tacticsToTechniques[tactic]
	if len(ids) == 0 {
		return nil
	}
	out := make([]TechniqueID, len(ids))
	copy(out, ids)
	return out
}

// Tactics returns every tactic with at least one technique, sorted.
func (c *Catalog) Tactics() []string {
	out := make([]string, 0, len(c.tacticsToTechniques))
	for tactic := range c.tacticsToTechniques {
		out = append(out, tactic)
	}
	sort.Strings(out)
	return out
}

// Techniques returns every distinct technique sorted by identifier.
func (c *Catalog) Techniques() []*Technique {
	seen := make(map[TechniqueID]bool, c.count)
	out := make([]*Technique, 0, c.count)
	for _, t := range c.byID {
		if seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Version returns the bundle version the catalog was parsed from.
func (c *Catalog) Version() string {
	return c.version
}

// Len returns the number of distinct techniques.
func (c *Catalog) Len() int {
	return c.count
}
