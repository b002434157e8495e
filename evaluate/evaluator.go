package evaluate

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/attacklens/attacklens/attack"
	"github.com/attacklens/attacklens/config"
	"github.com/attacklens/attacklens/ingest"
	"github.com/attacklens/attacklens/llm"
	"github.com/attacklens/attacklens/taskerr"
)

// ErrNotInitialized is returned when evaluation is attempted before
// Initialize has installed a catalog.
var ErrNotInitialized = errors.New("evaluator not initialized")

// matcher is one local matching strategy over a single chunk. Offsets in
// returned matches are global document positions.
type matcher interface {
	Name() Source
	Match(chunk string, offset int) []RawMatch
}

// Evaluator scores documents against a technique catalog. It is inert until
// Initialize installs a catalog; Initialize may be called again to swap in a
// newer catalog while evaluations are running.
type Evaluator struct {
	cfg    config.EvaluatorConfig
	logger *slog.Logger
	llm    *llm.Client

	tracer       trace.Tracer
	evalDuration metric.Float64Histogram
	matchCount   metric.Int64Counter

	mu       sync.RWMutex
	catalog  *attack.Catalog
	matchers []matcher
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger sets the evaluator's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Evaluator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithLLM enables the remote augmentation path.
func WithLLM(client *llm.Client) Option {
	return func(e *Evaluator) {
		e.llm = client
	}
}

// New returns an evaluator with the given configuration. Initialize must be
// called with a catalog before the first evaluation.
func New(cfg config.EvaluatorConfig, opts ...Option) *Evaluator {
	e := &Evaluator{
		cfg:    cfg,
		logger: slog.Default(),
		tracer: otel.Tracer("attacklens/evaluate"),
	}
	for _, opt := range opts {
		opt(e)
	}

	meter := otel.Meter("attacklens/evaluate")
	e.evalDuration, _ = meter.Float64Histogram("evaluate.duration",
		metric.WithDescription("Document evaluation time"),
		metric.WithUnit("ms"))
	e.matchCount, _ = meter.Int64Counter("evaluate.matches",
		metric.WithDescription("Matches returned per evaluation"))

	return e
}

// Initialize builds the matcher set from the catalog. Each enabled matcher
// precomputes its technique indexes here so per-chunk matching stays cheap.
func (e *Evaluator) Initialize(catalog *attack.Catalog) error {
	const op = "evaluate.Evaluator.Initialize"
	if catalog == nil || catalog.Len() == 0 {
		return taskerr.NewInvalidInput(op, errors.New("catalog is empty"))
	}

	var matchers []matcher
	if e.cfg.UseKeyword {
		matchers = append(matchers, newKeywordMatcher(catalog))
	}
	if e.cfg.UseTFIDF {
		matchers = append(matchers, newTFIDFMatcher(catalog, e.cfg.TFIDFThreshold))
	}
	if e.cfg.UseFuzzy {
		matchers = append(matchers, newFuzzyMatcher(catalog))
	}
	if len(matchers) == 0 {
		return taskerr.NewInvalidInput(op, errors.New("all matchers are disabled"))
	}

	e.mu.Lock()
	e.catalog = catalog
	e.matchers = matchers
	e.mu.Unlock()

	e.logger.Info("evaluator initialized",
		"techniques", catalog.Len(),
		"catalog_version", catalog.Version(),
		"matchers", len(matchers))
	return nil
}

// Evaluate scores a document. Chunks are evaluated concurrently up to the
// configured parallelism; within a chunk the enabled matchers run
// concurrently. Matches from overlapping chunks are deduplicated so each
// technique appears once, at its highest-confidence occurrence. When an LLM
// client is configured its findings are folded in afterwards; a failing
// remote path degrades to local-only results rather than failing the
// evaluation.
func (e *Evaluator) Evaluate(ctx context.Context, doc *ingest.Document) (*Result, error) {
	const op = "evaluate.Evaluator.Evaluate"

	e.mu.RLock()
	catalog := e.catalog
	matchers := e.matchers
	e.mu.RUnlock()
	if catalog == nil {
		return nil, taskerr.NewInvalidInput(op, ErrNotInitialized)
	}
	if doc == nil || len(doc.Chunks) == 0 {
		return nil, taskerr.NewInvalidInput(op, errors.New("document has no chunks"))
	}

	ctx, span := e.tracer.Start(ctx, "Evaluate",
		trace.WithAttributes(
			attribute.String("document.id", doc.ID),
			attribute.Int("document.chunks", len(doc.Chunks)),
		))
	defer span.End()

	start := time.Now()

	// Chunks overlap, so locate each chunk's true global offset by scanning
	// forward from the previous chunk's start.
	offsets := chunkOffsets(doc.Text, doc.Chunks)

	chunkMatches := make([][]Match, len(doc.Chunks))
	sem := semaphore.NewWeighted(int64(e.cfg.GetMaxParallel()))
	g, gctx := errgroup.WithContext(ctx)

	for i := range doc.Chunks {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			matches, err := e.evaluateChunk(gctx, matchers, doc.Chunks[i], offsets[i])
			if err != nil {
				return err
			}
			chunkMatches[i] = matches
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, taskerr.NewCancelled(op, ctx.Err())
		}
		return nil, taskerr.NewInternal(op, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, taskerr.NewCancelled(op, err)
	}

	matches := dedupeAcrossChunks(chunkMatches)

	llmUsed := false
	if e.llm != nil {
		added, err := e.augment(ctx, catalog, doc, matches)
		if err != nil {
			e.logger.Warn("llm augmentation failed, continuing with local matches",
				"document_id", doc.ID, "error", err)
		} else {
			matches = added
			llmUsed = true
		}
	}

	sortMatches(matches)
	if len(matches) > e.cfg.MaxMatches {
		matches = matches[:e.cfg.MaxMatches]
	}

	elapsed := time.Since(start)
	result := &Result{
		Matches: matches,
		Summary: Summary{
			DocumentID:       doc.ID,
			MatchCount:       len(matches),
			TopTechniques:    topTechniques(matches, 5),
			TacticsCoverage:  tacticsCoverage(catalog, matches),
			LLMUsed:          llmUsed,
			ProcessingTimeMS: elapsed.Milliseconds(),
		},
	}

	span.SetAttributes(attribute.Int("matches", len(matches)))
	e.evalDuration.Record(ctx, float64(elapsed.Milliseconds()))
	e.matchCount.Add(ctx, int64(len(matches)))

	e.logger.Info("document evaluated",
		"document_id", doc.ID,
		"chunks", len(doc.Chunks),
		"matches", len(matches),
		"llm_used", llmUsed,
		"duration", elapsed)
	return result, nil
}

// EvaluateChunk scores a single chunk at the given global offset. It is the
// unit the full evaluation fans out over, exposed for callers that manage
// their own chunking.
func (e *Evaluator) EvaluateChunk(ctx context.Context, chunk string, offset int) ([]Match, error) {
	const op = "evaluate.Evaluator.EvaluateChunk"

	e.mu.RLock()
	matchers := e.matchers
	e.mu.RUnlock()
	if matchers == nil {
		return nil, taskerr.NewInvalidInput(op, ErrNotInitialized)
	}
	return e.evaluateChunk(ctx, matchers, chunk, offset)
}

func (e *Evaluator) evaluateChunk(ctx context.Context, matchers []matcher, chunk string, offset int) ([]Match, error) {
	ctx, span := e.tracer.Start(ctx, "EvaluateChunk",
		trace.WithAttributes(attribute.Int("chunk.offset", offset)))
	defer span.End()

	results := make([][]RawMatch, len(matchers))
	g, _ := errgroup.WithContext(ctx)
	for i, m := range matchers {
		g.Go(func() error {
			results[i] = m.Match(chunk, offset)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var raw []RawMatch
	for _, r := range results {
		raw = append(raw, r...)
	}
	return mergeMatches(raw, chunk, offset, e.cfg), nil
}

// chunkOffsets locates each chunk's start in the full text. Overlapping
// chunks repeat their predecessor's tail, so each search starts just past
// the previous chunk's start.
func chunkOffsets(text string, chunks []string) []int {
	offsets := make([]int, len(chunks))
	prev := 0
	for i, chunk := range chunks {
		idx := strings.Index(text[prev:], chunk)
		if idx < 0 {
			// Chunk text was trimmed relative to the source; fall back to
			// the running position.
			offsets[i] = prev
			continue
		}
		offsets[i] = prev + idx
		prev = offsets[i] + 1
	}
	return offsets
}

// dedupeAcrossChunks keeps one match per technique, the highest-confidence
// occurrence. Chunk overlap makes the same evidence surface in adjacent
// chunks; confidence ties keep the earliest position.
func dedupeAcrossChunks(chunkMatches [][]Match) []Match {
	best := make(map[attack.TechniqueID]Match)
	for _, matches := range chunkMatches {
		for _, m := range matches {
			cur, ok := best[m.TechniqueID]
			if !ok || m.Confidence > cur.Confidence ||
				(m.Confidence == cur.Confidence && m.Position.StartChar < cur.Position.StartChar) {
				best[m.TechniqueID] = m
			}
		}
	}
	out := make([]Match, 0, len(best))
	for _, m := range best {
		out = append(out, m)
	}
	return out
}

// topTechniques returns the ids of the n highest-confidence matches.
// Matches must already be sorted.
func topTechniques(matches []Match, n int) []attack.TechniqueID {
	if len(matches) < n {
		n = len(matches)
	}
	out := make([]attack.TechniqueID, 0, n)
	for _, m := range matches[:n] {
		out = append(out, m.TechniqueID)
	}
	return out
}

// tacticsCoverage counts matched techniques per tactic.
func tacticsCoverage(catalog *attack.Catalog, matches []Match) map[string]int {
	out := make(map[string]int)
	for _, m := range matches {
		t, ok := catalog.Technique(m.TechniqueID)
		if !ok {
			continue
		}
		for _, tactic := range t.Tactics {
			out[tactic]++
		}
	}
	return out
}
