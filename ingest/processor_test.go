package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attacklens/attacklens/config"
	"github.com/attacklens/attacklens/taskerr"
)

func TestValidateURL(t *testing.T) {
	valid := []string{
		"http://example.com/report",
		"https://example.com/report.pdf",
		"https://threat-intel.example.org:8443/feed",
	}
	for _, u := range valid {
		assert.NoError(t, ValidateURL(u), u)
	}

	blocked := []string{
		"ftp://example.com/report",
		"file:///etc/passwd",
		"http://localhost/x",
		"http://127.0.0.1/x",
		"https://10.0.0.5/internal",
		"https://10.255.1.2/internal",
		"http://192.168.1.10/router",
		"https://fileserver.local/share",
		"http:///missing-host",
	}
	for _, u := range blocked {
		err := ValidateURL(u)
		require.Error(t, err, u)
		assert.Equal(t, taskerr.KindInvalidInput, taskerr.KindOf(err), u)
	}
}

func TestProcessURLIngestsHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		assert.Contains(t, r.Header.Get("Accept"), "text/html")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><body><article>
<h1>Incident Report</h1>
<p>An employee opened a phishing email containing a malicious attachment, which led to the deployment of a remote access trojan across several workstations in the finance department.</p>
<p>The attackers then used credential dumping to move laterally between systems.</p>
</article></body></html>`))
	}))
	defer srv.Close()

	p := testProcessor(t)
	doc, err := p.ProcessURL(context.Background(), srv.URL+"/report")
	require.NoError(t, err)

	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, srv.URL+"/report", doc.SourceURL)
	assert.Empty(t, doc.Filename)
	assert.Equal(t, FormatHTML, doc.Metadata.Format)
	assert.Equal(t, "text/html; charset=utf-8", doc.Metadata.MIMEType)
	assert.Contains(t, doc.Text, "phishing email")
	assert.Contains(t, doc.Text, "credential dumping")
	assert.Equal(t, len(doc.Text), doc.Metadata.CharCount)
	assert.Equal(t, []string{doc.Text}, doc.Chunks)
	assert.Equal(t, srv.URL+"/report", doc.Source())
}

func TestProcessURLRetriesTransientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("recovered document text after two failures, long enough to ingest"))
	}))
	defer srv.Close()

	p := testProcessor(t)
	p.baseDelay = time.Millisecond

	doc, err := p.ProcessURL(context.Background(), srv.URL+"/doc.txt")
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, FormatTXT, doc.Metadata.Format)
}

func TestProcessURLNotFoundIsPermanent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := testProcessor(t)
	p.baseDelay = time.Millisecond

	_, err := p.ProcessURL(context.Background(), srv.URL+"/missing.txt")
	require.Error(t, err)
	assert.Equal(t, taskerr.KindFetchFailed, taskerr.KindOf(err))
	assert.Equal(t, int32(1), hits.Load(), "4xx responses are not retried")
}

func TestProcessURLSizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 2048)))
	}))
	defer srv.Close()

	p := testProcessor(t, func(c *config.IngestConfig) { c.MaxDocumentSize = 1024 })
	_, err := p.ProcessURL(context.Background(), srv.URL+"/big.txt")
	require.Error(t, err)
	assert.Equal(t, taskerr.KindInvalidInput, taskerr.KindOf(err))
	assert.ErrorIs(t, err, ErrDocumentTooLarge)
}

func TestProcessURLFollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/final.txt", http.StatusFound)
	})
	mux.HandleFunc("/final.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("document reached after one redirect hop"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := testProcessor(t)
	doc, err := p.ProcessURL(context.Background(), srv.URL+"/start")
	require.NoError(t, err)
	assert.Contains(t, doc.Text, "redirect hop")
}

func TestProcessFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "upload.bin")
	content := "A report describing spearphishing attachments and registry persistence mechanisms."
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	p := testProcessor(t)
	doc, err := p.ProcessFile(context.Background(), path, "analysis.txt")
	require.NoError(t, err)

	assert.Equal(t, "analysis.txt", doc.Filename)
	assert.Empty(t, doc.SourceURL)
	assert.Equal(t, FormatTXT, doc.Metadata.Format)
	assert.Equal(t, content, doc.Text)
}

func TestProcessFileOversize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.txt")
	p := testProcessor(t, func(c *config.IngestConfig) { c.MaxDocumentSize = 16 })

	// One byte over the limit is rejected.
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("x", 17)), 0o644))
	_, err := p.ProcessFile(context.Background(), path, "big.txt")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDocumentTooLarge)

	// Exactly at the limit is accepted.
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("x", 16)), 0o644))
	_, err = p.ProcessFile(context.Background(), path, "big.txt")
	assert.NoError(t, err)
}

func TestProcessFileUnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sheet.xlsx")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	p := testProcessor(t)
	_, err := p.ProcessFile(context.Background(), path, "sheet.xlsx")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestFormatForURL(t *testing.T) {
	assert.Equal(t, FormatPDF, formatForURL("https://example.com/report.pdf", ""))
	assert.Equal(t, FormatHTML, formatForURL("https://example.com/blog/post", "text/html"))
	assert.Equal(t, FormatPDF, formatForURL("https://example.com/download", "application/pdf"))
	assert.Equal(t, FormatTXT, formatForURL("https://example.com/raw", "text/plain; charset=utf-8"))
	assert.Equal(t, FormatHTML, formatForURL("https://example.com/x", ""))
}
