package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, int64(50*1024*1024), cfg.Ingest.MaxDocumentSize)
	assert.Equal(t, 10000, cfg.Ingest.MaxChunkSize)
	assert.Equal(t, 500, cfg.Ingest.ChunkOverlap)
	assert.Equal(t, 3, cfg.Ingest.Retries)
	assert.True(t, cfg.Ingest.FollowRedirects)
	assert.Equal(t, 30*time.Second, cfg.Ingest.GetTimeout())

	assert.Equal(t, 65, cfg.Evaluator.MinConfidenceScore)
	assert.Equal(t, 100, cfg.Evaluator.MaxMatches)
	assert.Equal(t, 200, cfg.Evaluator.ContextWindowSize)
	assert.Equal(t, 0.15, cfg.Evaluator.TFIDFThreshold)
	assert.True(t, cfg.Evaluator.UseKeyword)
	assert.True(t, cfg.Evaluator.UseTFIDF)
	assert.True(t, cfg.Evaluator.UseFuzzy)
	assert.Greater(t, cfg.Evaluator.GetMaxParallel(), 0)

	assert.Equal(t, 10, cfg.Reporter.MaxMatchesInSummary)
	assert.Equal(t, 75, cfg.Reporter.ConfidenceThreshold)

	assert.True(t, cfg.Parser.IncludeSubtechniques)
	assert.True(t, cfg.Parser.ExtractKeywords)

	assert.Equal(t, 24*time.Hour, cfg.Fetcher.GetUpdateInterval())
	assert.Equal(t, 30*time.Second, cfg.Fetcher.GetRequestTimeout())
	assert.Nil(t, cfg.LLM)

	require.NoError(t, cfg.Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
fetcher:
  source_url: https://example.com/attack.json
  cache_dir: /tmp/cache
  update_interval: 1h
ingest:
  max_chunk_size: 5000
  chunk_overlap: 250
  follow_redirects: false
evaluator:
  min_confidence_score: 50
  tfidf_threshold: 0.2
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/attack.json", cfg.Fetcher.SourceURL)
	assert.Equal(t, time.Hour, cfg.Fetcher.GetUpdateInterval())
	assert.Equal(t, 5000, cfg.Ingest.MaxChunkSize)
	assert.Equal(t, 250, cfg.Ingest.ChunkOverlap)
	assert.False(t, cfg.Ingest.FollowRedirects)
	assert.Equal(t, 50, cfg.Evaluator.MinConfidenceScore)
	assert.Equal(t, 0.2, cfg.Evaluator.TFIDFThreshold)

	// Untouched sections keep their defaults.
	assert.Equal(t, 100, cfg.Evaluator.MaxMatches)
	assert.Equal(t, 75, cfg.Reporter.ConfidenceThreshold)
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_LLM_KEY", "sk-test-123")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm:
  endpoint: https://api.example.com/v1/chat/completions
  api_key: ${TEST_LLM_KEY}
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.LLM)
	assert.Equal(t, "sk-test-123", cfg.LLM.APIKey)
	assert.Equal(t, 60*time.Second, cfg.LLM.GetTimeout())
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Ingest.MaxChunkSize, cfg.Ingest.MaxChunkSize)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty source url", func(c *Config) { c.Fetcher.SourceURL = "" }},
		{"empty cache dir", func(c *Config) { c.Fetcher.CacheDir = "" }},
		{"negative retries", func(c *Config) { c.Fetcher.MaxRetries = -1 }},
		{"zero chunk size", func(c *Config) { c.Ingest.MaxChunkSize = 0 }},
		{"overlap >= chunk size", func(c *Config) { c.Ingest.ChunkOverlap = c.Ingest.MaxChunkSize }},
		{"zero document size", func(c *Config) { c.Ingest.MaxDocumentSize = 0 }},
		{"confidence out of range", func(c *Config) { c.Evaluator.MinConfidenceScore = 101 }},
		{"zero max matches", func(c *Config) { c.Evaluator.MaxMatches = 0 }},
		{"tfidf threshold out of range", func(c *Config) { c.Evaluator.TFIDFThreshold = 1.5 }},
		{"llm without endpoint", func(c *Config) { c.LLM = &LLMConfig{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDurationAccessorsFallBack(t *testing.T) {
	f := &FetcherConfig{UpdateInterval: "bogus", RequestTimeout: ""}
	assert.Equal(t, 24*time.Hour, f.GetUpdateInterval())
	assert.Equal(t, 30*time.Second, f.GetRequestTimeout())

	i := &IngestConfig{Timeout: "2m"}
	assert.Equal(t, 2*time.Minute, i.GetTimeout())

	var l *LLMConfig
	assert.Equal(t, 60*time.Second, l.GetTimeout())
}
