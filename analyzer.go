package attacklens

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/attacklens/attacklens/attack"
	"github.com/attacklens/attacklens/config"
	"github.com/attacklens/attacklens/evaluate"
	"github.com/attacklens/attacklens/fetcher"
	"github.com/attacklens/attacklens/health"
	"github.com/attacklens/attacklens/ingest"
	"github.com/attacklens/attacklens/llm"
	"github.com/attacklens/attacklens/report"
	"github.com/attacklens/attacklens/stix"
	"github.com/attacklens/attacklens/taskerr"
	"github.com/attacklens/attacklens/workflow"
)

// Analyzer is the public surface of the document-analysis pipeline.
// Analyses run asynchronously; the returned run IDs feed GetRun and Cancel.
type Analyzer interface {
	// AnalyzeURL starts an analysis of the document behind the URL.
	AnalyzeURL(ctx context.Context, url string) (string, error)

	// AnalyzeFile starts an analysis of an uploaded file. path is the file
	// on disk, name the original filename used for format detection.
	AnalyzeFile(ctx context.Context, path, name string) (string, error)

	// UpdateCatalog forces a bundle fetch and catalog rebuild.
	UpdateCatalog(ctx context.Context) (string, error)

	// GetRun reports the state of a run.
	GetRun(ctx context.Context, runID string) (*RunStatus, error)

	// Cancel requests cancellation of a run.
	Cancel(ctx context.Context, runID string) bool

	// ListRuns returns runs, newest first, optionally filtered by status.
	ListRuns(ctx context.Context, statuses ...workflow.Status) []*RunStatus

	// Catalog returns the current technique catalog, or nil before the
	// first successful parse.
	Catalog() *attack.Catalog

	// Health combines the analyzer's dependency checks.
	Health(ctx context.Context) health.Status

	// Start initializes the cache directories, loads the catalog, and
	// begins scheduled bundle updates.
	Start(ctx context.Context) error

	// Shutdown stops scheduled updates and cancels in-flight runs.
	Shutdown(ctx context.Context) error
}

// Progress is a run's completed-over-total task count.
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// RunStatus is the user-visible state of one run. Failed runs carry the
// error code and message only, never partial results.
type RunStatus struct {
	RunID       string          `json:"runId"`
	Status      workflow.Status `json:"status"`
	CurrentTask string          `json:"currentTask,omitempty"`
	Progress    Progress        `json:"progress"`

	// ReportID is set once the analysis completed and its report was saved.
	ReportID string `json:"reportId,omitempty"`

	Error *RunError `json:"error,omitempty"`
}

// analyzer is the default Analyzer implementation.
type analyzer struct {
	cfg    *config.Config
	logger *slog.Logger

	httpClient  *http.Client
	llmProvider llm.Provider
	store       report.Store

	fetcher   *fetcher.Fetcher
	parser    *stix.Parser
	processor *ingest.Processor
	evaluator *evaluate.Evaluator
	reporter  *report.Generator
	engine    *workflow.Engine

	catalog atomic.Pointer[attack.Catalog]

	mu      sync.Mutex
	started bool
}

// New builds an analyzer from the configuration. The zero configuration is
// not usable; pass config.Default() or a loaded file.
func New(cfg *config.Config, opts ...Option) (Analyzer, error) {
	const op = "attacklens.New"

	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, taskerr.NewInvalidInput(op, err)
	}

	a := &analyzer{
		cfg:    cfg,
		logger: newLogger(cfg.Logging),
		store:  report.NewMemoryStore(),
	}
	for _, opt := range opts {
		opt(a)
	}

	var err error
	fetcherOpts := []fetcher.Option{
		fetcher.WithLogger(a.logger),
		fetcher.WithOnUpdate(a.onBundleUpdate),
	}
	if a.httpClient != nil {
		fetcherOpts = append(fetcherOpts, fetcher.WithHTTPClient(a.httpClient))
	}
	a.fetcher, err = fetcher.New(cfg.Fetcher, fetcherOpts...)
	if err != nil {
		return nil, err
	}

	a.parser = stix.NewParser(cfg.Parser, stix.WithLogger(a.logger))

	ingestOpts := []ingest.Option{ingest.WithLogger(a.logger)}
	if a.httpClient != nil {
		ingestOpts = append(ingestOpts, ingest.WithHTTPClient(a.httpClient))
	}
	a.processor, err = ingest.NewProcessor(cfg.Ingest, ingestOpts...)
	if err != nil {
		return nil, err
	}

	llmClient, err := a.buildLLMClient()
	if err != nil {
		return nil, err
	}

	evalOpts := []evaluate.Option{evaluate.WithLogger(a.logger)}
	if llmClient != nil {
		evalOpts = append(evalOpts, evaluate.WithLLM(llmClient))
	}
	a.evaluator = evaluate.New(cfg.Evaluator, evalOpts...)

	a.reporter = report.NewGenerator(cfg.Reporter, report.WithLogger(a.logger))

	a.engine = workflow.NewEngine(workflow.WithLogger(a.logger))
	if err := a.registerWorkflows(); err != nil {
		return nil, err
	}

	return a, nil
}

// buildLLMClient wires the completion client when the llm section is
// configured or a provider was injected.
func (a *analyzer) buildLLMClient() (*llm.Client, error) {
	provider := a.llmProvider
	if provider == nil {
		if a.cfg.LLM == nil {
			return nil, nil
		}
		p, err := llm.NewHTTPProvider(a.cfg.LLM, a.logger)
		if err != nil {
			return nil, err
		}
		provider = p
	}

	clientOpts := []llm.ClientOption{llm.WithClientLogger(a.logger)}
	if a.cfg.LLM != nil && a.cfg.LLM.CacheURL != "" {
		cache, err := llm.NewRedisCache(a.cfg.LLM.CacheURL, a.logger)
		if err != nil {
			return nil, err
		}
		clientOpts = append(clientOpts, llm.WithCache(cache))
	}
	return llm.NewClient(provider, clientOpts...), nil
}

// newLogger builds the default JSON logger at the configured level.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func (a *analyzer) Start(ctx context.Context) error {
	const op = "attacklens.Analyzer.Start"

	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return ErrAlreadyStarted
	}
	a.started = true
	a.mu.Unlock()

	fail := func(err error) error {
		a.mu.Lock()
		a.started = false
		a.mu.Unlock()
		return err
	}

	if err := os.MkdirAll(a.cfg.UploadsDir, 0o755); err != nil {
		return fail(taskerr.NewCacheIO(op, err))
	}
	if err := a.fetcher.Initialize(ctx); err != nil {
		return fail(err)
	}

	// Best effort: a failed initial load is logged, not fatal, because the
	// analysis workflow fetches and parses a catalog itself.
	if err := a.loadCatalog(ctx, false); err != nil {
		a.logger.Warn("initial catalog load failed", "error", err)
	}

	a.fetcher.ScheduleUpdates()
	a.logger.Info("analyzer started",
		slog.String("source", a.cfg.Fetcher.SourceURL),
		slog.Bool("llm", a.cfg.LLM != nil || a.llmProvider != nil))
	return nil
}

func (a *analyzer) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return ErrNotStarted
	}
	a.started = false
	a.mu.Unlock()

	a.fetcher.StopScheduledUpdates()
	for _, c := range a.engine.List(workflow.StatusPending, workflow.StatusRunning) {
		a.engine.Cancel(c.RunID)
	}
	a.logger.Info("analyzer stopped")
	return nil
}

// loadCatalog fetches the bundle and swaps in the parsed catalog.
func (a *analyzer) loadCatalog(ctx context.Context, force bool) error {
	res, err := a.fetcher.Fetch(ctx, force)
	if err != nil {
		return err
	}
	catalog, err := a.parser.Parse(res.Bytes)
	if err != nil {
		return err
	}
	a.swapCatalog(catalog)
	return nil
}

// swapCatalog publishes a new catalog snapshot.
func (a *analyzer) swapCatalog(catalog *attack.Catalog) {
	old := a.catalog.Swap(catalog)
	oldVersion := ""
	if old != nil {
		oldVersion = old.Version()
	}
	if oldVersion != "" && stix.CompareVersions(catalog.Version(), oldVersion) < 0 {
		a.logger.Warn("catalog version went backwards",
			slog.String("old", oldVersion),
			slog.String("new", catalog.Version()))
	}
	a.logger.Info("catalog swapped",
		slog.String("old_version", oldVersion),
		slog.String("version", catalog.Version()),
		slog.Int("techniques", catalog.Len()))
}

// onBundleUpdate is invoked by the fetch scheduler when the bundle version
// changed.
func (a *analyzer) onBundleUpdate(ctx context.Context, res *fetcher.RawFetchResult) {
	catalog, err := a.parser.Parse(res.Bytes)
	if err != nil {
		a.logger.Error("scheduled bundle parse failed",
			slog.String("version", res.Version), "error", err)
		return
	}
	a.swapCatalog(catalog)
}

func (a *analyzer) AnalyzeURL(ctx context.Context, url string) (string, error) {
	if err := a.requireStarted(); err != nil {
		return "", err
	}
	if err := ingest.ValidateURL(url); err != nil {
		return "", err
	}
	return a.engine.Submit(ctx, analysisWorkflowID, analysisInput{URL: url})
}

func (a *analyzer) AnalyzeFile(ctx context.Context, path, name string) (string, error) {
	const op = "attacklens.Analyzer.AnalyzeFile"
	if err := a.requireStarted(); err != nil {
		return "", err
	}
	if path == "" {
		return "", taskerr.NewInvalidInput(op, fmt.Errorf("file path is required"))
	}
	return a.engine.Submit(ctx, analysisWorkflowID, analysisInput{Path: path, Name: name})
}

func (a *analyzer) UpdateCatalog(ctx context.Context) (string, error) {
	if err := a.requireStarted(); err != nil {
		return "", err
	}
	return a.engine.Submit(ctx, catalogWorkflowID, nil)
}

func (a *analyzer) GetRun(ctx context.Context, runID string) (*RunStatus, error) {
	c, err := a.engine.GetContext(runID)
	if err != nil {
		return nil, err
	}
	return a.runStatus(c), nil
}

func (a *analyzer) Cancel(ctx context.Context, runID string) bool {
	return a.engine.Cancel(runID)
}

func (a *analyzer) ListRuns(ctx context.Context, statuses ...workflow.Status) []*RunStatus {
	contexts := a.engine.List(statuses...)
	out := make([]*RunStatus, 0, len(contexts))
	for _, c := range contexts {
		out = append(out, a.runStatus(c))
	}
	return out
}

// runStatus projects an engine context onto the user-visible run state.
func (a *analyzer) runStatus(c *workflow.Context) *RunStatus {
	rs := &RunStatus{
		RunID:       c.RunID,
		Status:      c.Status,
		CurrentTask: c.CurrentTask,
		Progress:    Progress{Completed: len(c.Results), Total: c.TaskCount},
	}

	if rep, ok := c.Results[taskGenerateReport].(*report.Report); ok {
		rs.ReportID = rep.ID
	}

	if c.Status == workflow.StatusFailed && len(c.Errors) > 0 {
		names := make([]string, 0, len(c.Errors))
		for name := range c.Errors {
			names = append(names, name)
		}
		sort.Strings(names)

		// Prefer the causal failure: sibling tasks cancelled by it also
		// land in the error map.
		pick := c.Errors[names[0]]
		for _, name := range names {
			if taskerr.KindOf(c.Errors[name]) != taskerr.KindCancelled {
				pick = c.Errors[name]
				break
			}
		}
		rs.Error = runErrorFrom(pick)
	}
	return rs
}

func (a *analyzer) Catalog() *attack.Catalog {
	return a.catalog.Load()
}

func (a *analyzer) Health(ctx context.Context) health.Status {
	checks := []health.Status{
		health.DirCheck(a.cfg.Fetcher.CacheDir),
		health.DirCheck(a.cfg.UploadsDir),
	}

	if catalog := a.catalog.Load(); catalog != nil {
		checks = append(checks, health.CatalogCheck(catalog.Version(), catalog.Len()))
	} else {
		checks = append(checks, health.CatalogCheck("", 0))
	}

	if a.cfg.LLM != nil && a.cfg.LLM.Endpoint != "" {
		checks = append(checks, health.EndpointCheck(ctx, a.cfg.LLM.Endpoint))
	}

	return health.Combine(checks...)
}

func (a *analyzer) requireStarted() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return ErrNotStarted
	}
	return nil
}
