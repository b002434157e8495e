package workflow

import (
	"context"
	"sync"
	"time"
)

// Context is the observable state of one run. Values returned by the engine
// are snapshots; the engine owns the live state.
type Context struct {
	RunID      string         `json:"runId"`
	WorkflowID string         `json:"workflowId"`
	StartTime  time.Time      `json:"startTime"`
	EndTime    time.Time      `json:"endTime,omitempty"`
	Status     Status         `json:"status"`
	CurrentTask string        `json:"currentTask,omitempty"`
	TaskCount  int            `json:"taskCount"`
	Results    map[string]any `json:"results,omitempty"`
	Errors     map[string]error `json:"-"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// run is the engine-private mutable state behind a Context.
type run struct {
	mu     sync.Mutex
	c      Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newRun(runID, workflowID string, taskCount int, cancel context.CancelFunc) *run {
	return &run{
		c: Context{
			RunID:      runID,
			WorkflowID: workflowID,
			StartTime:  time.Now().UTC(),
			Status:     StatusPending,
			TaskCount:  taskCount,
			Results:    make(map[string]any, taskCount),
			Errors:     make(map[string]error),
			Metadata:   make(map[string]any),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// snapshot copies the run state for external observers.
func (r *run) snapshot() *Context {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.c
	c.Results = make(map[string]any, len(r.c.Results))
	for k, v := range r.c.Results {
		c.Results[k] = v
	}
	c.Errors = make(map[string]error, len(r.c.Errors))
	for k, v := range r.c.Errors {
		c.Errors[k] = v
	}
	c.Metadata = make(map[string]any, len(r.c.Metadata))
	for k, v := range r.c.Metadata {
		c.Metadata[k] = v
	}
	return &c
}

func (r *run) setStatus(s Status) {
	r.mu.Lock()
	r.c.Status = s
	if s.Terminal() {
		r.c.EndTime = time.Now().UTC()
		r.c.CurrentTask = ""
	}
	r.mu.Unlock()
}

func (r *run) status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.c.Status
}

func (r *run) setCurrentTask(name string) {
	r.mu.Lock()
	r.c.CurrentTask = name
	r.mu.Unlock()
}

func (r *run) addResult(task string, out any) {
	r.mu.Lock()
	r.c.Results[task] = out
	r.mu.Unlock()
}

func (r *run) addError(task string, err error) {
	r.mu.Lock()
	r.c.Errors[task] = err
	r.mu.Unlock()
}

// depResults copies the named results for a task's input snapshot.
func (r *run) depResults(deps []string) map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]any, len(deps))
	for _, d := range deps {
		if v, ok := r.c.Results[d]; ok {
			out[d] = v
		}
	}
	return out
}
