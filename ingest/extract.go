package ingest

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/attacklens/attacklens/taskerr"
)

// extracted is the output of a format extractor before normalization.
type extracted struct {
	text      string
	title     string
	author    string
	pageCount int
}

// ExtractText converts raw document bytes to plain text for the given
// format. Empty input and unsupported formats are InvalidInput; a failing
// format parser is ExtractionFailed.
func ExtractText(data []byte, format Format) (string, error) {
	ex, err := extract(data, format)
	if err != nil {
		return "", err
	}
	return ex.text, nil
}

func extract(data []byte, format Format) (*extracted, error) {
	const op = "ingest.ExtractText"

	if len(data) == 0 {
		return nil, taskerr.NewInvalidInput(op, ErrEmptyDocument)
	}
	if !format.IsValid() {
		return nil, taskerr.NewInvalidInput(op, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format))
	}

	switch format {
	case FormatTXT, FormatMD:
		return &extracted{text: decodeUTF8(data)}, nil
	case FormatHTML:
		return extractHTML(data)
	case FormatPDF:
		return extractPDF(data)
	case FormatDOCX:
		return extractDOCX(data)
	case FormatRTF:
		return &extracted{text: extractRTF(data)}, nil
	}
	return nil, taskerr.NewInvalidInput(op, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format))
}

// decodeUTF8 returns the data as a string with invalid UTF-8 bytes dropped.
func decodeUTF8(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	var b strings.Builder
	b.Grow(len(data))
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r != utf8.RuneError || size > 1 {
			b.WriteRune(r)
		}
		data = data[size:]
	}
	return b.String()
}

var (
	rtfControl = regexp.MustCompile(`\\[a-zA-Z]+-?\d* ?`)
	rtfGroups  = regexp.MustCompile(`\{\\\*[^{}]*\}`)
	rtfEscapes = regexp.MustCompile(`\\'[0-9a-fA-F]{2}`)
)

// extractRTF strips RTF control words, starred groups, and stray braces
// and backslashes, then collapses whitespace.
func extractRTF(data []byte) string {
	s := string(data)
	s = rtfGroups.ReplaceAllString(s, " ")
	s = rtfEscapes.ReplaceAllString(s, " ")
	s = rtfControl.ReplaceAllString(s, " ")
	s = strings.NewReplacer("{", " ", "}", " ", "\\", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}
