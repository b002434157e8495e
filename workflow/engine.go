package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/attacklens/attacklens/retry"
	"github.com/attacklens/attacklens/taskerr"
)

// Engine registers workflows and runs them. Runs are tracked until the
// process exits; callers observe them through GetContext and List.
type Engine struct {
	logger      *slog.Logger
	tracer      trace.Tracer
	meter       metric.Meter
	maxParallel int

	taskDuration metric.Float64Histogram
	taskRetries  metric.Int64Counter
	runsStarted  metric.Int64Counter

	mu         sync.RWMutex
	workflows  map[string]Definition
	recoveries map[string]RecoveryHandler
	runs       map[string]*run
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMaxParallel bounds the number of concurrently running tasks across
// a run. Values below 1 keep the default (the CPU count).
func WithMaxParallel(n int) Option {
	return func(e *Engine) {
		if n >= 1 {
			e.maxParallel = n
		}
	}
}

// WithTracerProvider sets the provider for run and task spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) {
		if tp != nil {
			e.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// WithMeterProvider sets the provider for engine metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) {
		if mp != nil {
			e.meter = mp.Meter(instrumentationName)
		}
	}
}

const instrumentationName = "attacklens/workflow"

// NewEngine returns an engine with no registered workflows.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		logger:      slog.Default(),
		tracer:      otel.Tracer(instrumentationName),
		meter:       otel.Meter(instrumentationName),
		maxParallel: runtime.NumCPU(),
		workflows:   make(map[string]Definition),
		recoveries:  make(map[string]RecoveryHandler),
		runs:        make(map[string]*run),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.taskDuration, _ = e.meter.Float64Histogram("workflow.task.duration",
		metric.WithDescription("Task execution time"),
		metric.WithUnit("ms"))
	e.taskRetries, _ = e.meter.Int64Counter("workflow.task.retries",
		metric.WithDescription("Task retry attempts"))
	e.runsStarted, _ = e.meter.Int64Counter("workflow.runs",
		metric.WithDescription("Workflow runs started"))

	return e
}

// RegisterWorkflow validates and stores a workflow definition. The task
// graph is rejected here, not at execution time, when it names unknown
// tasks or contains a cycle.
func (e *Engine) RegisterWorkflow(def Definition) error {
	const op = "workflow.Engine.RegisterWorkflow"

	if def.ID == "" {
		return taskerr.NewInvalidInput(op, errors.New("workflow id is required"))
	}
	if len(def.Tasks) == 0 {
		return taskerr.NewInvalidInput(op, errors.New("workflow has no tasks"))
	}

	names := make(map[string]bool, len(def.Tasks))
	for _, t := range def.Tasks {
		if t.Name == "" {
			return taskerr.NewInvalidInput(op, errors.New("task name is required"))
		}
		if t.Handler == nil {
			return taskerr.NewInvalidInput(op, fmt.Errorf("task %s has no handler", t.Name))
		}
		if names[t.Name] {
			return taskerr.NewInvalidInput(op, fmt.Errorf("duplicate task name %s", t.Name))
		}
		names[t.Name] = true
	}

	for task, deps := range def.Dependencies {
		if !names[task] {
			return taskerr.NewInvalidInput(op, fmt.Errorf("dependencies reference unknown task %s", task))
		}
		for _, d := range deps {
			if !names[d] {
				return taskerr.NewInvalidInput(op, fmt.Errorf("task %s depends on unknown task %s", task, d))
			}
			if d == task {
				return taskerr.NewInvalidInput(op, fmt.Errorf("task %s depends on itself", task))
			}
		}
	}

	if err := checkAcyclic(def); err != nil {
		return taskerr.NewInvalidInput(op, err)
	}

	e.mu.Lock()
	e.workflows[def.ID] = def
	e.mu.Unlock()

	e.logger.Info("workflow registered", "workflow", def.ID, "tasks", len(def.Tasks))
	return nil
}

// checkAcyclic runs Kahn's algorithm over the dependency graph.
func checkAcyclic(def Definition) error {
	indeg := make(map[string]int, len(def.Tasks))
	dependents := make(map[string][]string)
	for _, t := range def.Tasks {
		indeg[t.Name] = 0
	}
	for task, deps := range def.Dependencies {
		indeg[task] = len(deps)
		for _, d := range deps {
			dependents[d] = append(dependents[d], task)
		}
	}

	var queue []string
	for name, d := range indeg {
		if d == 0 {
			queue = append(queue, name)
		}
	}

	visited := 0
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range dependents[name] {
			indeg[next]--
			if indeg[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if visited != len(def.Tasks) {
		return errors.New("dependency graph contains a cycle")
	}
	return nil
}

// RegisterRecovery installs a handler for tasks failing with the given
// error kind. At most one handler per kind; later registrations replace
// earlier ones.
func (e *Engine) RegisterRecovery(kind string, handler RecoveryHandler) {
	e.mu.Lock()
	e.recoveries[kind] = handler
	e.mu.Unlock()
}

// Execute runs a workflow synchronously and returns its result. The run is
// also observable through GetContext while it is in flight.
func (e *Engine) Execute(ctx context.Context, workflowID string, input any) (*Result, error) {
	const op = "workflow.Engine.Execute"

	def, r, runCtx, err := e.startRun(ctx, workflowID)
	if err != nil {
		return nil, taskerr.NewInvalidInput(op, err)
	}

	e.exec(runCtx, def, r, input)
	<-r.done

	c := r.snapshot()
	return &Result{
		RunID:      c.RunID,
		WorkflowID: c.WorkflowID,
		Status:     c.Status,
		Results:    c.Results,
		Errors:     c.Errors,
		Duration:   c.EndTime.Sub(c.StartTime),
	}, nil
}

// Submit starts a workflow asynchronously and returns the run id
// immediately. The run outlives the caller's context; use Cancel to stop it.
func (e *Engine) Submit(ctx context.Context, workflowID string, input any) (string, error) {
	const op = "workflow.Engine.Submit"

	detached := context.WithoutCancel(ctx)
	def, r, runCtx, err := e.startRun(detached, workflowID)
	if err != nil {
		return "", taskerr.NewInvalidInput(op, err)
	}

	go e.exec(runCtx, def, r, input)
	return r.c.RunID, nil
}

// GetContext returns a snapshot of a run's state.
func (e *Engine) GetContext(runID string) (*Context, error) {
	e.mu.RLock()
	r, ok := e.runs[runID]
	e.mu.RUnlock()
	if !ok {
		return nil, ErrRunNotFound
	}
	return r.snapshot(), nil
}

// Cancel requests cancellation of a run. It reports whether the run
// existed and was still cancelable; the run transitions to canceled once
// its in-flight tasks observe the signal.
func (e *Engine) Cancel(runID string) bool {
	e.mu.RLock()
	r, ok := e.runs[runID]
	e.mu.RUnlock()
	if !ok || r.status().Terminal() {
		return false
	}
	r.cancel()
	return true
}

// List returns snapshots of runs, newest first, optionally filtered by
// status.
func (e *Engine) List(statuses ...Status) []*Context {
	filter := make(map[Status]bool, len(statuses))
	for _, s := range statuses {
		filter[s] = true
	}

	e.mu.RLock()
	out := make([]*Context, 0, len(e.runs))
	for _, r := range e.runs {
		c := r.snapshot()
		if len(filter) == 0 || filter[c.Status] {
			out = append(out, c)
		}
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.After(out[j].StartTime)
		}
		return out[i].RunID < out[j].RunID
	})
	return out
}

// startRun looks up the workflow, derives the run's cancelable context, and
// registers a new pending run.
func (e *Engine) startRun(ctx context.Context, workflowID string) (Definition, *run, context.Context, error) {
	e.mu.RLock()
	def, ok := e.workflows[workflowID]
	e.mu.RUnlock()
	if !ok {
		return Definition{}, nil, nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := newRun(uuid.New().String(), workflowID, len(def.Tasks), cancel)

	e.mu.Lock()
	e.runs[r.c.RunID] = r
	e.mu.Unlock()

	e.runsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow", workflowID)))
	return def, r, runCtx, nil
}

// taskOutcome is one finished task reported to the scheduling loop.
type taskOutcome struct {
	name string
	out  any
	err  error
}

// exec drives one run: launch every task whose dependencies completed,
// collect outcomes, and finish with completed, failed, or canceled. Task
// results produced after a failure or cancellation are discarded so a
// stopped run never grows partial output.
func (e *Engine) exec(runCtx context.Context, def Definition, r *run, input any) {
	defer close(r.done)
	defer r.cancel()

	ctx, span := e.tracer.Start(runCtx, "Workflow:"+def.ID,
		trace.WithAttributes(
			attribute.String("workflow.id", def.ID),
			attribute.String("run.id", r.c.RunID),
		))
	defer span.End()

	r.setStatus(StatusRunning)
	e.logger.Info("workflow started", "workflow", def.ID, "run_id", r.c.RunID)

	tasks := make(map[string]TaskDefinition, len(def.Tasks))
	for _, t := range def.Tasks {
		tasks[t.Name] = t
	}
	indeg := make(map[string]int, len(def.Tasks))
	dependents := make(map[string][]string)
	for _, t := range def.Tasks {
		indeg[t.Name] = 0
	}
	for task, deps := range def.Dependencies {
		indeg[task] = len(deps)
		for _, d := range deps {
			dependents[d] = append(dependents[d], task)
		}
	}

	sem := semaphore.NewWeighted(int64(e.maxParallel))
	outcomes := make(chan taskOutcome, len(def.Tasks))
	launched := make(map[string]bool, len(def.Tasks))
	inFlight := 0
	failed := false

	launch := func(name string) {
		launched[name] = true
		inFlight++
		r.setCurrentTask(name)

		td := tasks[name]
		in := Input{
			RunID:         r.c.RunID,
			WorkflowInput: input,
			Results:       r.depResults(def.Dependencies[name]),
		}
		go func() {
			if err := sem.Acquire(ctx, 1); err != nil {
				outcomes <- taskOutcome{name: name, err: taskerr.NewCancelled("workflow.task", err)}
				return
			}
			defer sem.Release(1)
			out, err := e.runTask(ctx, td, in)
			outcomes <- taskOutcome{name: name, out: out, err: err}
		}()
	}

	launchReady := func() {
		for name, d := range indeg {
			if d == 0 && !launched[name] {
				launch(name)
			}
		}
	}
	launchReady()

	for inFlight > 0 {
		o := <-outcomes
		inFlight--

		stopped := failed || runCtx.Err() != nil
		switch {
		case o.err != nil:
			r.addError(o.name, o.err)
			if !stopped && taskerr.KindOf(o.err) != taskerr.KindCancelled {
				failed = true
				e.logger.Error("task failed",
					"workflow", def.ID, "run_id", r.c.RunID,
					"task", o.name, "error", o.err)
			}
			r.cancel()
		case stopped:
			// Finished after the run stopped: discard the output.
		default:
			r.addResult(o.name, o.out)
			e.logger.Debug("task completed",
				"workflow", def.ID, "run_id", r.c.RunID, "task", o.name)
			for _, next := range dependents[o.name] {
				indeg[next]--
			}
			launchReady()
		}
	}

	status := StatusCompleted
	switch {
	case failed:
		status = StatusFailed
	case runCtx.Err() != nil:
		status = StatusCanceled
	case len(launched) < len(def.Tasks):
		// Should not happen for a valid DAG, but never report a partial
		// run as completed.
		status = StatusFailed
	}
	r.setStatus(status)
	span.SetAttributes(attribute.String("run.status", string(status)))

	e.logger.Info("workflow finished",
		"workflow", def.ID, "run_id", r.c.RunID, "status", status)
}

// runTask executes one task with validation, per-attempt timeout, retries,
// and recovery.
func (e *Engine) runTask(ctx context.Context, td TaskDefinition, in Input) (any, error) {
	op := "workflow.task." + td.Name

	ctx, span := e.tracer.Start(ctx, "Task:"+td.Name)
	defer span.End()
	start := time.Now()
	defer func() {
		e.taskDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("task", td.Name)))
	}()

	if td.ValidateInput != nil {
		if err := td.ValidateInput(in); err != nil {
			return nil, taskerr.NewInvalidInput(op, err)
		}
	}

	var out any
	attempt := 0
	policy := retry.Policy{
		MaxAttempts:  td.Retries + 1,
		InitialDelay: td.RetryDelay,
		Multiplier:   2,
	}
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		if attempt > 0 {
			e.taskRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("task", td.Name)))
			e.logger.Warn("retrying task", "task", td.Name, "attempt", attempt)
		}
		attempt++

		attemptCtx := ctx
		if td.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, td.Timeout)
			defer cancel()
		}

		v, err := td.Handler(attemptCtx, in)
		if err != nil {
			// A per-attempt timeout is transient; run cancellation is not.
			if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return taskerr.NewTransient(op, err)
			}
			return err
		}
		out = v
		return nil
	}, taskerr.IsTransient)

	if err != nil {
		if rec := e.recoveryFor(taskerr.KindOf(err)); rec != nil {
			recovered, rerr := rec(ctx, in.RunID, td.Name, err)
			if rerr == nil {
				e.logger.Warn("task recovered",
					"task", td.Name, "kind", taskerr.KindOf(err), "error", err)
				out, err = recovered, nil
			}
		}
	}
	if err != nil {
		return nil, err
	}

	if td.ValidateOutput != nil {
		if verr := td.ValidateOutput(out); verr != nil {
			return nil, taskerr.NewInternal(op, fmt.Errorf("output validation: %w", verr))
		}
	}
	return out, nil
}

func (e *Engine) recoveryFor(kind string) RecoveryHandler {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.recoveries[kind]
}
