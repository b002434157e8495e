package ingest

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/attacklens/attacklens/taskerr"
)

// extractDOCX reads the OOXML main document part and emits its text: one
// line per paragraph, with explicit breaks and tabs preserved as newlines
// and spaces.
func extractDOCX(data []byte) (*extracted, error) {
	const op = "ingest.extractDOCX"

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, taskerr.NewExtractionFailed(op, err)
	}

	var docFile *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return nil, taskerr.NewExtractionFailed(op, fmt.Errorf("archive has no word/document.xml"))
	}

	rc, err := docFile.Open()
	if err != nil {
		return nil, taskerr.NewExtractionFailed(op, err)
	}
	defer rc.Close()

	text, err := decodeDocumentXML(rc)
	if err != nil {
		return nil, taskerr.NewExtractionFailed(op, err)
	}
	return &extracted{text: text}, nil
}

// decodeDocumentXML streams the document part, collecting the character
// data of <w:t> runs and mapping paragraph ends, breaks, and tabs to
// whitespace.
func decodeDocumentXML(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)

	var (
		b      strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "br":
				b.WriteString("\n")
			case "tab":
				b.WriteString(" ")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return b.String(), nil
}
