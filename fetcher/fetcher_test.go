package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attacklens/attacklens/config"
	"github.com/attacklens/attacklens/taskerr"
)

const bundleV1 = `{
  "type": "bundle",
  "spec_version": "2.1",
  "objects": [
    {"type": "x-mitre-collection", "id": "c", "x_mitre_version": "14.0"},
    {"type": "attack-pattern", "id": "attack-pattern--a", "name": "Phishing",
     "description": "phishing",
     "external_references": [{"source_name": "mitre-attack", "external_id": "T1566"}]}
  ]
}`

const bundleV2 = `{
  "type": "bundle",
  "spec_version": "2.1",
  "objects": [
    {"type": "x-mitre-collection", "id": "c", "x_mitre_version": "14.1"},
    {"type": "attack-pattern", "id": "attack-pattern--a", "name": "Phishing",
     "description": "phishing",
     "external_references": [{"source_name": "mitre-attack", "external_id": "T1566"}]}
  ]
}`

func newTestFetcher(t *testing.T, sourceURL, backupURL string) *Fetcher {
	t.Helper()
	cfg := config.FetcherConfig{
		SourceURL:       sourceURL,
		BackupSourceURL: backupURL,
		CacheDir:        t.TempDir(),
		UpdateInterval:  "1h",
		MaxRetries:      2,
		RequestTimeout:  "5s",
	}
	f, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, f.Initialize(context.Background()))

	// Collapse retry backoff so failure paths run fast.
	f.baseDelay = time.Millisecond
	return f
}

func TestFirstFetchWritesCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v14"`)
		w.Write([]byte(bundleV1))
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL, "")
	res, err := f.Fetch(context.Background(), false)
	require.NoError(t, err)

	assert.False(t, res.FromCache)
	assert.True(t, res.Changed)
	assert.Equal(t, "14.0", res.Version)
	assert.Equal(t, srv.URL, res.SourceURL)
	assert.Equal(t, "14.0", f.LatestVersion())

	cacheDir := f.cfg.CacheDir
	latest, err := os.ReadFile(filepath.Join(cacheDir, latestFile))
	require.NoError(t, err)
	assert.Equal(t, bundleV1, string(latest))

	_, err = os.Stat(filepath.Join(cacheDir, metadataFile))
	require.NoError(t, err)

	day := time.Now().UTC().Format("20060102")
	archived, err := os.ReadFile(filepath.Join(cacheDir, archiveDir, day+".json"))
	require.NoError(t, err)
	assert.Equal(t, bundleV1, string(archived))
}

func TestSecondFetchServedFromCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(bundleV1))
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL, "")
	first, err := f.Fetch(context.Background(), false)
	require.NoError(t, err)

	second, err := f.Fetch(context.Background(), false)
	require.NoError(t, err)

	assert.True(t, second.FromCache)
	assert.False(t, second.Changed)
	assert.Equal(t, first.Bytes, second.Bytes)
	assert.Equal(t, int32(1), hits.Load())
}

func TestConditionalFetch304(t *testing.T) {
	var sawETag atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v14"` {
			sawETag.Store(true)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v14"`)
		w.Write([]byte(bundleV1))
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL, "")
	_, err := f.Fetch(context.Background(), false)
	require.NoError(t, err)

	metaBefore, err := os.ReadFile(filepath.Join(f.cfg.CacheDir, metadataFile))
	require.NoError(t, err)

	// Force bypasses the freshness check but still sends validators.
	res, err := f.Fetch(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, true, sawETag.Load())
	assert.True(t, res.FromCache)
	assert.False(t, res.Changed)
	assert.Equal(t, "14.0", res.Version)

	metaAfter, err := os.ReadFile(filepath.Join(f.cfg.CacheDir, metadataFile))
	require.NoError(t, err)
	assert.Equal(t, metaBefore, metaAfter, "a 304 must not rewrite metadata.json")
}

func TestChangedVersionDetected(t *testing.T) {
	var serveV2 atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if serveV2.Load() {
			w.Write([]byte(bundleV2))
			return
		}
		w.Write([]byte(bundleV1))
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL, "")
	_, err := f.Fetch(context.Background(), false)
	require.NoError(t, err)

	serveV2.Store(true)
	res, err := f.Fetch(context.Background(), true)
	require.NoError(t, err)

	assert.True(t, res.Changed)
	assert.Equal(t, "14.1", res.Version)
	assert.Equal(t, "14.1", f.LatestVersion())
}

func TestBackupFailover(t *testing.T) {
	var primaryHits atomic.Int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryHits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer primary.Close()

	backup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(bundleV1))
	}))
	defer backup.Close()

	f := newTestFetcher(t, primary.URL, backup.URL)
	res, err := f.Fetch(context.Background(), false)
	require.NoError(t, err)

	// MaxRetries=2 means three attempts against the primary.
	assert.Equal(t, int32(3), primaryHits.Load())
	assert.Equal(t, backup.URL, res.SourceURL)
	assert.True(t, res.Changed)
	assert.False(t, res.FromCache)
}

func TestStaleCacheFallback(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(bundleV1))
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL, "")
	_, err := f.Fetch(context.Background(), false)
	require.NoError(t, err)

	fail.Store(true)
	res, err := f.Fetch(context.Background(), true)
	require.NoError(t, err)

	assert.True(t, res.FromCache)
	assert.False(t, res.Changed)
	assert.Equal(t, bundleV1, string(res.Bytes))
}

func TestFetchFailedWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL, "")
	_, err := f.Fetch(context.Background(), false)
	require.Error(t, err)
	assert.Equal(t, taskerr.KindFetchFailed, taskerr.KindOf(err))
}

func TestInvalidBundleNotCached(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"not": "a bundle"}`))
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL, "")
	_, err := f.Fetch(context.Background(), false)
	require.Error(t, err)
	assert.Equal(t, taskerr.KindInvalidBundle, taskerr.KindOf(err))

	_, statErr := os.Stat(filepath.Join(f.cfg.CacheDir, latestFile))
	assert.True(t, os.IsNotExist(statErr), "invalid bundles must not touch the cache")
}

func TestArchiveWrittenOncePerDay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(bundleV1))
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL, "")
	_, err := f.Fetch(context.Background(), false)
	require.NoError(t, err)

	day := time.Now().UTC().Format("20060102")
	archivePath := filepath.Join(f.cfg.CacheDir, archiveDir, day+".json")
	require.NoError(t, os.WriteFile(archivePath, []byte("sentinel"), 0o644))

	_, err = f.Fetch(context.Background(), true)
	require.NoError(t, err)

	data, err := os.ReadFile(archivePath)
	require.NoError(t, err)
	assert.Equal(t, "sentinel", string(data), "archive files are never overwritten")
}

func TestFetchCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	f := newTestFetcher(t, srv.URL, "")
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := f.Fetch(ctx, false)
	require.Error(t, err)
}

func TestScheduledTickDroppedWhileFetchInFlight(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(bundleV1))
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL, "")

	// Hold the in-flight gate: the tick must be dropped without fetching.
	f.inFlight.Lock()
	f.tick(context.Background())
	f.inFlight.Unlock()

	_, err := os.Stat(filepath.Join(f.cfg.CacheDir, latestFile))
	assert.True(t, os.IsNotExist(err))

	// With the gate free the tick fetches and updates the cache.
	var updated atomic.Bool
	f.onUpdate = func(context.Context, *RawFetchResult) { updated.Store(true) }
	f.tick(context.Background())

	_, err = os.Stat(filepath.Join(f.cfg.CacheDir, latestFile))
	assert.NoError(t, err)
	assert.True(t, updated.Load())
}

func TestStopScheduledUpdates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(bundleV1))
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL, "")
	f.ScheduleUpdates()
	f.ScheduleUpdates() // second call is a no-op
	f.StopScheduledUpdates()
	f.StopScheduledUpdates() // idempotent
}
