package ingest

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ledongthuc/pdf"

	"github.com/attacklens/attacklens/taskerr"
)

// extractPDF pulls plain text and document-information metadata out of a
// PDF. The underlying reader panics on some malformed files, so the whole
// extraction runs under a recover.
func extractPDF(data []byte) (ex *extracted, err error) {
	const op = "ingest.extractPDF"

	defer func() {
		if r := recover(); r != nil {
			ex = nil
			err = taskerr.NewExtractionFailed(op, fmt.Errorf("pdf parser panic: %v", r))
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, taskerr.NewExtractionFailed(op, err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return nil, taskerr.NewExtractionFailed(op, err)
	}
	text, err := io.ReadAll(plain)
	if err != nil {
		return nil, taskerr.NewExtractionFailed(op, err)
	}

	ex = &extracted{
		text:      string(text),
		pageCount: reader.NumPage(),
	}

	info := reader.Trailer().Key("Info")
	if !info.IsNull() {
		if v := info.Key("Title"); v.Kind() == pdf.String {
			ex.title = v.RawString()
		}
		if v := info.Key("Author"); v.Kind() == pdf.String {
			ex.author = v.RawString()
		}
	}
	return ex, nil
}
