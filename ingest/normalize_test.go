package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"crlf to lf", "line one\r\nline two", "line one\nline two"},
		{"bare cr", "line one\rline two", "line one\nline two"},
		{"tabs to spaces", "a\tb", "a b"},
		{"collapses spaces", "a    b", "a b"},
		{"collapses newline runs", "a\n\n\n\nb", "a\n\nb"},
		{"keeps paragraph breaks", "a\n\nb", "a\n\nb"},
		{"trims", "  text  \n", "text"},
		{"smart quotes", "“quoted” and ‘single’", `"quoted" and 'single'`},
		{"dashes and ellipsis", "a–b—c…", "a-b-c..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeText(tt.in))
		})
	}
}

func TestNormalizeTextIdempotent(t *testing.T) {
	inputs := []string{
		"a\r\n\tb   c\n\n\n\nd…",
		"plain text",
		"  “mixed” \t content \r\n\r\n\r\nhere  ",
	}
	for _, in := range inputs {
		once := NormalizeText(in)
		assert.Equal(t, once, NormalizeText(once))
	}
}
