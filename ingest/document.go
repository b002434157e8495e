// Package ingest turns URLs and uploaded files into normalized, chunked
// documents ready for evaluation. It guards URL fetches against SSRF,
// detects formats, extracts text per format, normalizes it, and splits it
// into bounded, overlapping chunks.
package ingest

import (
	"path"
	"strings"
)

// Format identifies a supported document format.
type Format string

// Supported document formats.
const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatHTML Format = "html"
	FormatTXT  Format = "txt"
	FormatMD   Format = "md"
	FormatRTF  Format = "rtf"
)

// String returns the format name.
func (f Format) String() string {
	return string(f)
}

// IsValid reports whether the format is one of the supported values.
func (f Format) IsValid() bool {
	switch f {
	case FormatPDF, FormatDOCX, FormatHTML, FormatTXT, FormatMD, FormatRTF:
		return true
	}
	return false
}

// Metadata describes an ingested document.
type Metadata struct {
	// Title and Author come from the source when the format carries them.
	Title  string `json:"title,omitempty"`
	Author string `json:"author,omitempty"`

	// PageCount is set for paginated formats.
	PageCount int `json:"pageCount,omitempty"`

	// CharCount is the length of the normalized text.
	CharCount int `json:"charCount"`

	// Format is the detected document format.
	Format Format `json:"format"`

	// MIMEType is the Content-Type reported by the server, when fetched.
	MIMEType string `json:"mimeType,omitempty"`

	// Language is a best-effort language tag. May be empty.
	Language string `json:"language,omitempty"`
}

// Document is the immutable output of ingestion. Exactly one of SourceURL
// and Filename is set, reflecting where the document came from.
type Document struct {
	// ID is the document's identity for summaries and reports.
	ID string `json:"id"`

	// SourceURL is set for documents fetched from the network.
	SourceURL string `json:"sourceUrl,omitempty"`

	// Filename is set for uploaded files.
	Filename string `json:"filename,omitempty"`

	// Text is the normalized document text.
	Text string `json:"text"`

	// Chunks is the ordered chunking of Text. A document that fits in one
	// chunk has a single element equal to Text.
	Chunks []string `json:"chunks"`

	// Metadata describes the document.
	Metadata Metadata `json:"metadata"`
}

// Source returns the document's source descriptor: its URL or filename.
func (d *Document) Source() string {
	if d.SourceURL != "" {
		return d.SourceURL
	}
	return d.Filename
}

// extensionFormats maps lowercased file extensions to formats. "doc" maps
// to docx as a best effort; legacy binary .doc is not parsed.
var extensionFormats = map[string]Format{
	".pdf":  FormatPDF,
	".docx": FormatDOCX,
	".doc":  FormatDOCX,
	".html": FormatHTML,
	".htm":  FormatHTML,
	".txt":  FormatTXT,
	".md":   FormatMD,
	".rtf":  FormatRTF,
}

// DetectFormat maps a file name or URL path to a format. Unknown or missing
// extensions on URLs default to HTML; for plain file names the second return
// is false.
func DetectFormat(name string, isURL bool) (Format, bool) {
	ext := strings.ToLower(path.Ext(strings.TrimSpace(name)))
	if f, ok := extensionFormats[ext]; ok {
		return f, true
	}
	if isURL {
		return FormatHTML, true
	}
	return "", false
}
