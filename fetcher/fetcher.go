// Package fetcher retrieves the MITRE ATT&CK STIX bundle with conditional
// HTTP requests and maintains the on-disk cache: latest.json holds the
// current bundle, metadata.json its version and validators, and
// archive/<YYYYMMDD>.json the first bundle received each UTC day. All cache
// writes go through a temp file and an atomic rename so concurrent readers
// never observe a torn file.
package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/attacklens/attacklens/config"
	"github.com/attacklens/attacklens/retry"
	"github.com/attacklens/attacklens/stix"
	"github.com/attacklens/attacklens/taskerr"
)

const (
	latestFile   = "latest.json"
	metadataFile = "metadata.json"
	archiveDir   = "archive"
)

// RawFetchResult is the outcome of one bundle fetch.
type RawFetchResult struct {
	// Bytes is the bundle content.
	Bytes []byte `json:"-"`

	// Version is the bundle's extracted version identifier.
	Version string `json:"version"`

	// FetchedAt is when the bytes were obtained.
	FetchedAt time.Time `json:"fetchedAt"`

	// SourceURL is where the bytes came from; for cached results, the URL
	// recorded when the cache was written.
	SourceURL string `json:"sourceUrl"`

	// FromCache reports whether the bytes were served from disk.
	FromCache bool `json:"fromCache"`

	// Changed reports whether the version differs from the previous fetch.
	Changed bool `json:"changed"`
}

// metadata is the persisted shape of metadata.json.
type metadata struct {
	Version      string    `json:"version"`
	Timestamp    time.Time `json:"timestamp"`
	Source       string    `json:"source"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"lastModified,omitempty"`
}

// Fetcher manages the bundle cache. It is safe for concurrent use; at most
// one fetch runs at a time and scheduled ticks that would overlap an
// in-flight fetch are dropped.
type Fetcher struct {
	cfg    config.FetcherConfig
	client *http.Client
	logger *slog.Logger
	now    func() time.Time

	// baseDelay seeds the retry backoff (1s in production, shrunk in tests).
	baseDelay time.Duration

	// onUpdate, when set, is invoked by the scheduler after a fetch that
	// changed the bundle version.
	onUpdate func(context.Context, *RawFetchResult)

	mu            sync.Mutex // serializes Fetch and cache writes
	latestVersion string

	schedMu   sync.Mutex
	schedStop context.CancelFunc
	schedDone chan struct{}
	inFlight  sync.Mutex // TryLock gate for scheduled ticks
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithLogger sets the fetcher's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithClock replaces the time source. Test seam.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) {
		if now != nil {
			f.now = now
		}
	}
}

// WithOnUpdate registers a callback the scheduler invokes after fetching a
// bundle whose version changed.
func WithOnUpdate(fn func(context.Context, *RawFetchResult)) Option {
	return func(f *Fetcher) {
		f.onUpdate = fn
	}
}

// New returns a fetcher for the given configuration.
func New(cfg config.FetcherConfig, opts ...Option) (*Fetcher, error) {
	if cfg.SourceURL == "" {
		return nil, taskerr.NewInvalidInput("fetcher.New", fmt.Errorf("source URL is required"))
	}
	if cfg.CacheDir == "" {
		return nil, taskerr.NewInvalidInput("fetcher.New", fmt.Errorf("cache directory is required"))
	}

	f := &Fetcher{
		cfg:       cfg,
		client:    &http.Client{Timeout: cfg.GetRequestTimeout()},
		logger:    slog.Default(),
		now:       time.Now,
		baseDelay: time.Second,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Initialize creates the cache directories and loads prior metadata.
func (f *Fetcher) Initialize(ctx context.Context) error {
	const op = "Fetcher.Initialize"
	if err := ctx.Err(); err != nil {
		return taskerr.NewCancelled(op, err)
	}
	if err := os.MkdirAll(filepath.Join(f.cfg.CacheDir, archiveDir), 0o755); err != nil {
		return taskerr.NewCacheIO(op, err)
	}
	if meta, err := f.readMetadata(); err == nil {
		f.mu.Lock()
		f.latestVersion = meta.Version
		f.mu.Unlock()
		f.logger.Info("loaded cached bundle metadata",
			slog.String("version", meta.Version),
			slog.Time("timestamp", meta.Timestamp))
	}
	return nil
}

// LatestVersion returns the version of the most recently seen bundle, or
// the empty string before any fetch.
func (f *Fetcher) LatestVersion() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latestVersion
}

// Fetch returns the current bundle. Unless force is set, a cache younger
// than the update interval is served directly. Otherwise the source is
// queried with the cached validators; a 304 re-serves the cache without
// touching metadata.json. Transport and 5xx failures retry with exponential
// backoff, then fail over to the backup URL, then to a stale cache.
func (f *Fetcher) Fetch(ctx context.Context, force bool) (*RawFetchResult, error) {
	const op = "Fetcher.Fetch"

	f.mu.Lock()
	defer f.mu.Unlock()

	meta, metaErr := f.readMetadata()

	if !force && metaErr == nil && f.now().Sub(meta.Timestamp) < f.cfg.GetUpdateInterval() {
		data, err := os.ReadFile(filepath.Join(f.cfg.CacheDir, latestFile))
		if err == nil {
			f.logger.Debug("serving bundle from cache", slog.String("version", meta.Version))
			return &RawFetchResult{
				Bytes:     data,
				Version:   meta.Version,
				FetchedAt: meta.Timestamp,
				SourceURL: meta.Source,
				FromCache: true,
				Changed:   false,
			}, nil
		}
		f.logger.Warn("cache metadata present but bundle unreadable", "error", err)
	}

	var cond *metadata
	if metaErr == nil {
		cond = meta
	}

	res, err := f.fetchFrom(ctx, f.cfg.SourceURL, cond)
	if err != nil && f.cfg.BackupSourceURL != "" && !errors.Is(err, context.Canceled) {
		f.logger.Warn("primary source failed, trying backup",
			slog.String("backup", f.cfg.BackupSourceURL), "error", err)
		res, err = f.fetchFrom(ctx, f.cfg.BackupSourceURL, nil)
	}
	if err != nil {
		if data, readErr := os.ReadFile(filepath.Join(f.cfg.CacheDir, latestFile)); readErr == nil && metaErr == nil {
			f.logger.Warn("all sources failed, serving stale cache",
				slog.String("version", meta.Version), "error", err)
			return &RawFetchResult{
				Bytes:     data,
				Version:   meta.Version,
				FetchedAt: meta.Timestamp,
				SourceURL: meta.Source,
				FromCache: true,
				Changed:   false,
			}, nil
		}
		return nil, err
	}

	if res.notModified {
		data, readErr := os.ReadFile(filepath.Join(f.cfg.CacheDir, latestFile))
		if readErr != nil {
			return nil, taskerr.NewCacheIO(op, readErr)
		}
		f.logger.Info("bundle not modified", slog.Int("status", http.StatusNotModified),
			slog.String("version", meta.Version))
		return &RawFetchResult{
			Bytes:     data,
			Version:   meta.Version,
			FetchedAt: meta.Timestamp,
			SourceURL: meta.Source,
			FromCache: true,
			Changed:   false,
		}, nil
	}

	if err := stix.ValidateBundle(res.body); err != nil {
		return nil, err
	}

	version := stix.ExtractVersion(res.body)
	changed := metaErr != nil || meta.Version != version
	fetchedAt := f.now()

	newMeta := &metadata{
		Version:      version,
		Timestamp:    fetchedAt,
		Source:       res.sourceURL,
		ETag:         res.etag,
		LastModified: res.lastModified,
	}
	if err := f.writeCache(res.body, newMeta, fetchedAt); err != nil {
		return nil, err
	}
	f.latestVersion = version

	if changed && metaErr == nil {
		f.logger.Info("bundle version changed",
			slog.String("from", meta.Version),
			slog.String("to", version),
			slog.Int("order", stix.CompareVersions(meta.Version, version)))
	}

	return &RawFetchResult{
		Bytes:     res.body,
		Version:   version,
		FetchedAt: fetchedAt,
		SourceURL: res.sourceURL,
		FromCache: false,
		Changed:   changed,
	}, nil
}

// httpResult carries one successful HTTP exchange.
type httpResult struct {
	body         []byte
	etag         string
	lastModified string
	sourceURL    string
	notModified  bool
}

// fetchFrom GETs a URL with conditional headers and the retry policy
// mandated for the fetcher: waits of 1s·2^attempt up to MaxRetries.
func (f *Fetcher) fetchFrom(ctx context.Context, url string, cond *metadata) (*httpResult, error) {
	const op = "Fetcher.fetchFrom"

	policy := retry.Policy{
		MaxAttempts:  f.cfg.MaxRetries + 1,
		InitialDelay: f.baseDelay,
		Multiplier:   2,
	}

	var out *httpResult
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return taskerr.NewInvalidInput(op, err)
		}
		req.Header.Set("Accept", "application/json")
		if cond != nil {
			if cond.ETag != "" {
				req.Header.Set("If-None-Match", cond.ETag)
			}
			if cond.LastModified != "" {
				req.Header.Set("If-Modified-Since", cond.LastModified)
			}
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return taskerr.NewTransient(op, err)
		}
		defer taskerr.CloseWithLog(resp.Body, f.logger, "response body")

		switch {
		case resp.StatusCode == http.StatusNotModified:
			out = &httpResult{sourceURL: url, notModified: true}
			return nil
		case resp.StatusCode >= 500:
			return taskerr.NewTransient(op, fmt.Errorf("status %d from %s", resp.StatusCode, url))
		case resp.StatusCode >= 300:
			return taskerr.NewFetchFailed(op, fmt.Errorf("status %d from %s", resp.StatusCode, url))
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return taskerr.NewTransient(op, err)
		}
		out = &httpResult{
			body:         body,
			etag:         resp.Header.Get("ETag"),
			lastModified: resp.Header.Get("Last-Modified"),
			sourceURL:    url,
		}
		return nil
	}, taskerr.IsTransient)
	if err != nil {
		if taskerr.KindOf(err) == taskerr.KindTransient {
			return nil, taskerr.NewFetchFailed(op, err).WithContext(map[string]any{"url": url})
		}
		return nil, err
	}
	return out, nil
}

// writeCache persists the bundle, its metadata, and the once-per-day
// archive copy. Each file is written to a temp path and renamed.
func (f *Fetcher) writeCache(body []byte, meta *metadata, fetchedAt time.Time) error {
	const op = "Fetcher.writeCache"

	if err := atomicWrite(filepath.Join(f.cfg.CacheDir, latestFile), body); err != nil {
		return taskerr.NewCacheIO(op, err)
	}

	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return taskerr.NewCacheIO(op, err)
	}
	if err := atomicWrite(filepath.Join(f.cfg.CacheDir, metadataFile), metaBytes); err != nil {
		return taskerr.NewCacheIO(op, err)
	}

	archivePath := filepath.Join(f.cfg.CacheDir, archiveDir,
		fetchedAt.UTC().Format("20060102")+".json")
	if _, err := os.Stat(archivePath); os.IsNotExist(err) {
		if err := atomicWrite(archivePath, body); err != nil {
			return taskerr.NewCacheIO(op, err)
		}
		f.logger.Info("archived bundle", slog.String("path", archivePath))
	}
	return nil
}

func (f *Fetcher) readMetadata() (*metadata, error) {
	data, err := os.ReadFile(filepath.Join(f.cfg.CacheDir, metadataFile))
	if err != nil {
		return nil, err
	}
	var meta metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// atomicWrite writes data next to path and renames it into place.
func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
