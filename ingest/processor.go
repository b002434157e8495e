package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/attacklens/attacklens/config"
	"github.com/attacklens/attacklens/retry"
	"github.com/attacklens/attacklens/taskerr"
)

// Sentinel errors for rejected documents. All surface as InvalidInput.
var (
	// ErrBlockedHost indicates a URL pointing at a private or local host.
	ErrBlockedHost = errors.New("host is not allowed")

	// ErrDocumentTooLarge indicates a document over the configured limit.
	ErrDocumentTooLarge = errors.New("document exceeds size limit")

	// ErrEmptyDocument indicates there was no content to extract.
	ErrEmptyDocument = errors.New("document is empty")

	// ErrUnsupportedFormat indicates a format with no extractor.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrPathTraversal indicates an upload path escaping the uploads root.
	ErrPathTraversal = errors.New("path escapes uploads root")
)

// Processor ingests documents from URLs and files.
type Processor struct {
	cfg    config.IngestConfig
	client *http.Client
	logger *slog.Logger

	// baseDelay seeds the fetch retry backoff (1s in production).
	baseDelay time.Duration
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the processor's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithHTTPClient replaces the HTTP client. The redirect policy is still
// applied on top of the provided client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Processor) {
		if client != nil {
			p.client = client
		}
	}
}

// NewProcessor returns a document processor for the given configuration.
func NewProcessor(cfg config.IngestConfig, opts ...Option) (*Processor, error) {
	if cfg.MaxChunkSize <= 0 {
		return nil, taskerr.NewInvalidInput("ingest.NewProcessor", fmt.Errorf("max chunk size must be positive"))
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.MaxChunkSize {
		return nil, taskerr.NewInvalidInput("ingest.NewProcessor", fmt.Errorf("chunk overlap must be in [0, max chunk size)"))
	}

	p := &Processor{
		cfg:       cfg,
		client:    &http.Client{Timeout: cfg.GetTimeout()},
		logger:    slog.Default(),
		baseDelay: time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}

	if cfg.FollowRedirects {
		p.client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("stopped after 5 redirects")
			}
			return nil
		}
	} else {
		p.client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return p, nil
}

// ProcessURL fetches a document over HTTP and ingests it. The URL must pass
// the SSRF guard: http or https only, and no local or private hosts.
func (p *Processor) ProcessURL(ctx context.Context, rawURL string) (*Document, error) {
	const op = "Processor.ProcessURL"

	if err := ValidateURL(rawURL); err != nil {
		return nil, err
	}

	data, mimeType, err := p.fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	format := formatForURL(rawURL, mimeType)
	doc, err := p.build(data, format)
	if err != nil {
		return nil, err
	}
	doc.SourceURL = rawURL
	doc.Metadata.MIMEType = mimeType

	p.logger.Info("ingested document",
		slog.String("url", rawURL),
		slog.String("format", format.String()),
		slog.Int("chars", doc.Metadata.CharCount),
		slog.Int("chunks", len(doc.Chunks)))
	return doc, nil
}

// ProcessFile ingests a document from disk. The name argument carries the
// original file name used for format detection; it may differ from the path
// for uploaded files.
func (p *Processor) ProcessFile(ctx context.Context, path, name string) (*Document, error) {
	const op = "Processor.ProcessFile"

	if err := ctx.Err(); err != nil {
		return nil, taskerr.NewCancelled(op, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, taskerr.NewInvalidInput(op, err)
	}
	if info.Size() > p.cfg.MaxDocumentSize {
		return nil, taskerr.NewInvalidInput(op, fmt.Errorf("%w: %d bytes", ErrDocumentTooLarge, info.Size()))
	}

	format, ok := DetectFormat(name, false)
	if !ok {
		return nil, taskerr.NewInvalidInput(op, fmt.Errorf("%w: %q", ErrUnsupportedFormat, name))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, taskerr.NewInvalidInput(op, err)
	}

	doc, err := p.build(data, format)
	if err != nil {
		return nil, err
	}
	doc.Filename = name

	p.logger.Info("ingested document",
		slog.String("file", name),
		slog.String("format", format.String()),
		slog.Int("chars", doc.Metadata.CharCount),
		slog.Int("chunks", len(doc.Chunks)))
	return doc, nil
}

// build runs extraction, normalization, and chunking.
func (p *Processor) build(data []byte, format Format) (*Document, error) {
	ex, err := extract(data, format)
	if err != nil {
		return nil, err
	}

	text := NormalizeText(ex.text)
	if text == "" {
		return nil, taskerr.NewInvalidInput("Processor.build", ErrEmptyDocument)
	}

	return &Document{
		ID:     uuid.New().String(),
		Text:   text,
		Chunks: p.ChunkText(text),
		Metadata: Metadata{
			Title:     ex.title,
			Author:    ex.author,
			PageCount: ex.pageCount,
			CharCount: len(text),
			Format:    format,
		},
	}, nil
}

// ExtractText exposes per-format extraction for callers that already hold
// document bytes.
func (p *Processor) ExtractText(data []byte, format Format) (string, error) {
	return ExtractText(data, format)
}

// NormalizeText exposes text normalization.
func (p *Processor) NormalizeText(s string) string {
	return NormalizeText(s)
}

// ChunkText splits normalized text into chunks of at most the configured
// size, adjacent chunks sharing the configured overlap.
func (p *Processor) ChunkText(text string) []string {
	return chunker{maxSize: p.cfg.MaxChunkSize, overlap: p.cfg.ChunkOverlap}.Split(text)
}

// blockedHosts are rejected outright by the SSRF guard.
var blockedHosts = map[string]bool{
	"localhost": true,
	"127.0.0.1": true,
}

// ValidateURL is the SSRF guard for document URLs: http or https schemes
// only, and no loopback, RFC1918 10.* / 192.168.*, or .local hosts.
func ValidateURL(rawURL string) error {
	const op = "ingest.ValidateURL"

	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return taskerr.NewInvalidInput(op, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return taskerr.NewInvalidInput(op, fmt.Errorf("scheme %q is not allowed", u.Scheme))
	}

	host := strings.ToLower(u.Hostname())
	switch {
	case host == "",
		blockedHosts[host],
		strings.HasPrefix(host, "10."),
		strings.HasPrefix(host, "192.168."),
		strings.HasSuffix(host, ".local"):
		return taskerr.NewInvalidInput(op, fmt.Errorf("%w: %q", ErrBlockedHost, host))
	}
	return nil
}

// fetch GETs a document with the configured headers, size limit, and retry
// policy (1s·2^attempt waits on transport errors).
func (p *Processor) fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	const op = "Processor.fetch"

	policy := retry.Policy{
		MaxAttempts:  p.cfg.Retries + 1,
		InitialDelay: p.baseDelay,
		Multiplier:   2,
	}

	var (
		body     []byte
		mimeType string
	)
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return taskerr.NewInvalidInput(op, err)
		}
		req.Header.Set("User-Agent", p.cfg.UserAgent)
		req.Header.Set("Accept", "text/html,application/pdf,application/vnd.openxmlformats-officedocument.wordprocessingml.document,text/plain,*/*;q=0.8")

		resp, err := p.client.Do(req)
		if err != nil {
			return taskerr.NewTransient(op, err)
		}
		defer taskerr.CloseWithLog(resp.Body, p.logger, "response body")

		switch {
		case resp.StatusCode >= 500:
			return taskerr.NewTransient(op, fmt.Errorf("status %d", resp.StatusCode))
		case resp.StatusCode >= 300:
			return taskerr.NewFetchFailed(op, fmt.Errorf("status %d", resp.StatusCode))
		}

		if resp.ContentLength > p.cfg.MaxDocumentSize {
			return taskerr.NewInvalidInput(op, fmt.Errorf("%w: %d bytes", ErrDocumentTooLarge, resp.ContentLength))
		}

		limited := io.LimitReader(resp.Body, p.cfg.MaxDocumentSize+1)
		data, err := io.ReadAll(limited)
		if err != nil {
			return taskerr.NewTransient(op, err)
		}
		if int64(len(data)) > p.cfg.MaxDocumentSize {
			return taskerr.NewInvalidInput(op, fmt.Errorf("%w: over %d bytes", ErrDocumentTooLarge, p.cfg.MaxDocumentSize))
		}

		body = data
		mimeType = resp.Header.Get("Content-Type")
		return nil
	}, taskerr.IsTransient)
	if err != nil {
		if taskerr.KindOf(err) == taskerr.KindTransient {
			return nil, "", taskerr.NewFetchFailed(op, err).WithContext(map[string]any{"url": rawURL})
		}
		return nil, "", err
	}
	return body, mimeType, nil
}

// formatForURL picks the format for a fetched document: the URL path's
// extension when recognized, refined by an unambiguous Content-Type, with
// HTML as the default.
func formatForURL(rawURL, mimeType string) Format {
	if u, err := url.Parse(rawURL); err == nil {
		if f, ok := DetectFormat(u.Path, false); ok {
			return f
		}
	}
	switch {
	case strings.Contains(mimeType, "application/pdf"):
		return FormatPDF
	case strings.Contains(mimeType, "wordprocessingml"):
		return FormatDOCX
	case strings.Contains(mimeType, "text/plain"):
		return FormatTXT
	}
	return FormatHTML
}
