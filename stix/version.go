package stix

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var statementVersion = regexp.MustCompile(`(?i)version\s+(\d+(\.\d+)*)`)

// ExtractVersion pulls a version identifier out of a bundle. Sources are
// tried in order: the x-mitre-collection object's x_mitre_version field, a
// marking-definition statement naming a version, the bundle's spec_version
// prefixed with "STIX-", and finally the current UTC time as YYYYMMDDHHmm.
func ExtractVersion(data []byte) string {
	var bundle Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return fallbackVersion()
	}

	var marking string
	for _, raw := range bundle.Objects {
		var base baseObject
		if err := json.Unmarshal(raw, &base); err != nil {
			continue
		}
		switch base.Type {
		case "x-mitre-collection":
			var coll mitreCollection
			if err := json.Unmarshal(raw, &coll); err == nil && coll.Version != "" {
				return coll.Version
			}
		case "marking-definition":
			if marking != "" {
				continue
			}
			var md markingDefinition
			if err := json.Unmarshal(raw, &md); err != nil {
				continue
			}
			if m := statementVersion.FindStringSubmatch(md.Definition.Statement); m != nil {
				marking = m[1]
			}
		}
	}

	if marking != "" {
		return marking
	}
	if bundle.SpecVersion != "" {
		return "STIX-" + bundle.SpecVersion
	}
	return fallbackVersion()
}

func fallbackVersion() string {
	return time.Now().UTC().Format("200601021504")
}

// CompareVersions orders two version strings, returning -1, 0, or 1.
// Dotted-numeric versions compare element-wise; versions sharing a "STIX-"
// prefix compare their suffixes; twelve-digit timestamp versions compare
// lexicographically, as does anything unrecognized.
func CompareVersions(a, b string) int {
	if a == b {
		return 0
	}

	const stixPrefix = "STIX-"
	if strings.HasPrefix(a, stixPrefix) && strings.HasPrefix(b, stixPrefix) {
		return CompareVersions(strings.TrimPrefix(a, stixPrefix), strings.TrimPrefix(b, stixPrefix))
	}

	if isDotted(a) && isDotted(b) {
		as := strings.Split(a, ".")
		bs := strings.Split(b, ".")
		for i := 0; i < len(as) || i < len(bs); i++ {
			av, bv := 0, 0
			if i < len(as) {
				av, _ = strconv.Atoi(as[i])
			}
			if i < len(bs) {
				bv, _ = strconv.Atoi(bs[i])
			}
			if av != bv {
				if av < bv {
					return -1
				}
				return 1
			}
		}
		return 0
	}

	// Timestamp fallbacks and everything else order lexicographically.
	if a < b {
		return -1
	}
	return 1
}

func isDotted(s string) bool {
	if s == "" {
		return false
	}
	for _, part := range strings.Split(s, ".") {
		if part == "" {
			return false
		}
		for _, r := range part {
			if r < '0' || r > '9' {
				return false
			}
		}
	}
	return true
}
