package ingest

import (
	"regexp"
	"strings"
)

var (
	spaceRuns   = regexp.MustCompile(` {2,}`)
	newlineRuns = regexp.MustCompile(`\n{3,}`)
)

// asciiReplacer maps typographic punctuation to ASCII equivalents.
var asciiReplacer = strings.NewReplacer(
	"‘", "'", // left single quote
	"’", "'", // right single quote
	"“", `"`, // left double quote
	"”", `"`, // right double quote
	"–", "-", // en dash
	"—", "-", // em dash
	"…", "...", // ellipsis
)

// NormalizeText canonicalizes extracted text: CRLF to LF, tabs to spaces,
// runs of spaces collapsed, three or more newlines collapsed to two, smart
// punctuation mapped to ASCII, and surrounding whitespace trimmed.
// NormalizeText is idempotent.
func NormalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, "\t", " ")
	s = asciiReplacer.Replace(s)
	s = spaceRuns.ReplaceAllString(s, " ")
	s = newlineRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
