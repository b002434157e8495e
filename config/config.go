// Package config loads and validates analyzer configuration. Defaults are
// applied first, then an optional YAML file is layered on top with ${ENV_VAR}
// references expanded from the environment. A .env file in the working
// directory is loaded automatically so secrets such as LLM API keys never
// have to live in the YAML itself.
package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config aggregates the configuration of every pipeline stage.
type Config struct {
	Fetcher   FetcherConfig   `yaml:"fetcher"`
	Parser    ParserConfig    `yaml:"parser"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Evaluator EvaluatorConfig `yaml:"evaluator"`
	Reporter  ReporterConfig  `yaml:"reporter"`

	// LLM is optional; when nil the evaluator runs local matchers only.
	LLM *LLMConfig `yaml:"llm,omitempty"`

	Logging LoggingConfig `yaml:"logging"`

	// UploadsDir is the root directory for uploaded documents.
	UploadsDir string `yaml:"uploads_dir"`
}

// FetcherConfig controls the MITRE ATT&CK bundle fetcher.
type FetcherConfig struct {
	// SourceURL is the primary STIX bundle location.
	SourceURL string `yaml:"source_url"`

	// BackupSourceURL is tried after the primary exhausts its retries.
	BackupSourceURL string `yaml:"backup_source_url,omitempty"`

	// CacheDir holds latest.json, metadata.json, and the archive directory.
	CacheDir string `yaml:"cache_dir"`

	// UpdateInterval is how long a cached bundle stays fresh and how often
	// the scheduler re-fetches. Go duration string. Default: 24h.
	UpdateInterval string `yaml:"update_interval,omitempty"`

	// MaxRetries is the number of retries after the first failed attempt.
	MaxRetries int `yaml:"max_retries"`

	// RequestTimeout bounds a single HTTP request. Go duration string.
	// Default: 30s.
	RequestTimeout string `yaml:"request_timeout,omitempty"`
}

// GetUpdateInterval parses the update interval, falling back to 24h.
func (f *FetcherConfig) GetUpdateInterval() time.Duration {
	return parseDuration(f.UpdateInterval, 24*time.Hour)
}

// GetRequestTimeout parses the request timeout, falling back to 30s.
func (f *FetcherConfig) GetRequestTimeout() time.Duration {
	return parseDuration(f.RequestTimeout, 30*time.Second)
}

// ParserConfig controls the STIX bundle parser.
type ParserConfig struct {
	// IncludeSubtechniques keeps sub-techniques (T1566.001). When false,
	// any identifier containing a dot is dropped.
	IncludeSubtechniques bool `yaml:"include_subtechniques"`

	// IncludeTactics keeps kill-chain tactic assignments.
	IncludeTactics bool `yaml:"include_tactics"`

	// IncludeDataSources keeps the x_mitre_data_sources field.
	IncludeDataSources bool `yaml:"include_data_sources"`

	// ExtractKeywords derives matcher keywords from names and descriptions.
	ExtractKeywords bool `yaml:"extract_keywords"`
}

// IngestConfig controls document retrieval and chunking.
type IngestConfig struct {
	// MaxDocumentSize is the byte limit for fetched or uploaded documents.
	MaxDocumentSize int64 `yaml:"max_document_size"`

	// MaxChunkSize is the chunk size limit in characters.
	MaxChunkSize int `yaml:"max_chunk_size"`

	// ChunkOverlap is how many characters adjacent chunks share.
	ChunkOverlap int `yaml:"chunk_overlap"`

	// UserAgent is sent on document fetches.
	UserAgent string `yaml:"user_agent,omitempty"`

	// Timeout bounds a document fetch. Go duration string. Default: 30s.
	Timeout string `yaml:"timeout,omitempty"`

	// Retries is the number of retries after the first failed attempt.
	Retries int `yaml:"retries"`

	// FollowRedirects permits up to 5 redirects on document fetches.
	FollowRedirects bool `yaml:"follow_redirects"`
}

// GetTimeout parses the fetch timeout, falling back to 30s.
func (i *IngestConfig) GetTimeout() time.Duration {
	return parseDuration(i.Timeout, 30*time.Second)
}

// EvaluatorConfig controls technique matching and scoring.
type EvaluatorConfig struct {
	// MinConfidenceScore drops matches scoring below it.
	MinConfidenceScore int `yaml:"min_confidence_score"`

	// MaxMatches truncates the per-document match list.
	MaxMatches int `yaml:"max_matches"`

	// ContextWindowSize is the total width of the context window placed
	// around each match.
	ContextWindowSize int `yaml:"context_window_size"`

	// UseKeyword, UseTFIDF, and UseFuzzy toggle the three local matchers.
	UseKeyword bool `yaml:"use_keyword"`
	UseTFIDF   bool `yaml:"use_tfidf"`
	UseFuzzy   bool `yaml:"use_fuzzy"`

	// TFIDFThreshold is the minimum cosine similarity for a TF-IDF match.
	TFIDFThreshold float64 `yaml:"tfidf_threshold"`

	// MaxParallel bounds concurrent chunk evaluations. Zero means the
	// number of CPUs.
	MaxParallel int `yaml:"max_parallel,omitempty"`
}

// GetMaxParallel returns the chunk parallelism bound.
func (e *EvaluatorConfig) GetMaxParallel() int {
	if e.MaxParallel <= 0 {
		return runtime.NumCPU()
	}
	return e.MaxParallel
}

// ReporterConfig controls report summarization.
type ReporterConfig struct {
	// MaxMatchesInSummary caps the top-techniques list.
	MaxMatchesInSummary int `yaml:"max_matches_in_summary"`

	// ConfidenceThreshold is the high-confidence cutoff.
	ConfidenceThreshold int `yaml:"confidence_threshold"`

	// IncludeTacticBreakdown toggles the per-tactic match counts.
	IncludeTacticBreakdown bool `yaml:"include_tactic_breakdown"`
}

// LLMConfig configures the optional remote completion endpoint.
type LLMConfig struct {
	// Endpoint is the chat-completions URL.
	Endpoint string `yaml:"endpoint"`

	// APIKey is sent as a bearer token. Usually "${LLM_API_KEY}".
	APIKey string `yaml:"api_key,omitempty"`

	// Model names the completion model.
	Model string `yaml:"model,omitempty"`

	// Temperature and MaxTokens are passed through to the endpoint.
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`

	// Timeout bounds a completion request. Go duration string. Default: 60s.
	Timeout string `yaml:"timeout,omitempty"`

	// CacheURL is an optional redis:// URL for a shared response cache.
	// Empty means the in-process LRU cache.
	CacheURL string `yaml:"cache_url,omitempty"`
}

// GetTimeout parses the completion timeout, falling back to 60s.
func (l *LLMConfig) GetTimeout() time.Duration {
	if l == nil {
		return 60 * time.Second
	}
	return parseDuration(l.Timeout, 60*time.Second)
}

// LoggingConfig controls the default logger built by the facade.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error. Default: info.
	Level string `yaml:"level,omitempty"`
}

// Default returns the configuration with every documented default applied.
func Default() *Config {
	return &Config{
		Fetcher: FetcherConfig{
			SourceURL:      "https://raw.githubusercontent.com/mitre/cti/master/enterprise-attack/enterprise-attack.json",
			CacheDir:       "data/cache",
			UpdateInterval: "24h",
			MaxRetries:     3,
			RequestTimeout: "30s",
		},
		Parser: ParserConfig{
			IncludeSubtechniques: true,
			IncludeTactics:       true,
			IncludeDataSources:   true,
			ExtractKeywords:      true,
		},
		Ingest: IngestConfig{
			MaxDocumentSize: 50 * 1024 * 1024,
			MaxChunkSize:    10000,
			ChunkOverlap:    500,
			UserAgent:       "attacklens/1.0",
			Timeout:         "30s",
			Retries:         3,
			FollowRedirects: true,
		},
		Evaluator: EvaluatorConfig{
			MinConfidenceScore: 65,
			MaxMatches:         100,
			ContextWindowSize:  200,
			UseKeyword:         true,
			UseTFIDF:           true,
			UseFuzzy:           true,
			TFIDFThreshold:     0.15,
		},
		Reporter: ReporterConfig{
			MaxMatchesInSummary:    10,
			ConfidenceThreshold:    75,
			IncludeTacticBreakdown: true,
		},
		Logging:    LoggingConfig{Level: "info"},
		UploadsDir: "data/uploads",
	}
}

// Load reads a YAML configuration file over the defaults. Values of the
// form ${NAME} are replaced from the environment; a .env file, when present,
// is loaded first. An empty path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	// Best-effort: a missing .env is not an error.
	_ = godotenv.Load()

	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.Expand(string(data), func(name string) string {
		return os.Getenv(name)
	})

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, cfg.Validate()
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Fetcher.SourceURL == "" {
		return fmt.Errorf("fetcher: source_url is required")
	}
	if c.Fetcher.CacheDir == "" {
		return fmt.Errorf("fetcher: cache_dir is required")
	}
	if c.Fetcher.MaxRetries < 0 {
		return fmt.Errorf("fetcher: max_retries must not be negative")
	}
	if c.Ingest.MaxChunkSize <= 0 {
		return fmt.Errorf("ingest: max_chunk_size must be positive")
	}
	if c.Ingest.ChunkOverlap < 0 {
		return fmt.Errorf("ingest: chunk_overlap must not be negative")
	}
	if c.Ingest.ChunkOverlap >= c.Ingest.MaxChunkSize {
		return fmt.Errorf("ingest: chunk_overlap (%d) must be smaller than max_chunk_size (%d)",
			c.Ingest.ChunkOverlap, c.Ingest.MaxChunkSize)
	}
	if c.Ingest.MaxDocumentSize <= 0 {
		return fmt.Errorf("ingest: max_document_size must be positive")
	}
	if c.Ingest.Retries < 0 {
		return fmt.Errorf("ingest: retries must not be negative")
	}
	if c.Evaluator.MinConfidenceScore < 0 || c.Evaluator.MinConfidenceScore > 100 {
		return fmt.Errorf("evaluator: min_confidence_score must be in 0..100")
	}
	if c.Evaluator.MaxMatches <= 0 {
		return fmt.Errorf("evaluator: max_matches must be positive")
	}
	if c.Evaluator.TFIDFThreshold < 0 || c.Evaluator.TFIDFThreshold > 1 {
		return fmt.Errorf("evaluator: tfidf_threshold must be in 0..1")
	}
	if c.Reporter.ConfidenceThreshold < 0 || c.Reporter.ConfidenceThreshold > 100 {
		return fmt.Errorf("reporter: confidence_threshold must be in 0..100")
	}
	if c.LLM != nil && c.LLM.Endpoint == "" {
		return fmt.Errorf("llm: endpoint is required when the llm section is present")
	}
	return nil
}

// parseDuration parses a Go duration string, returning def when the string
// is empty or invalid.
func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
