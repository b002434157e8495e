// Package workflow provides the DAG engine that binds the analysis pipeline
// together. Workflows are registered as typed task graphs; the engine
// schedules ready tasks in parallel, retries transient failures with
// exponential backoff, and tracks every run in an engine-owned context that
// callers observe through snapshots.
package workflow

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for engine lookups.
var (
	// ErrWorkflowNotFound is returned when a workflow id is not registered.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrRunNotFound is returned when a run id is unknown.
	ErrRunNotFound = errors.New("run not found")
)

// Status is the lifecycle state of a run.
type Status string

// Run statuses.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// Input is what a task handler receives: the workflow's input value and an
// immutable snapshot of its dependencies' outputs. Handlers never touch
// engine internals.
type Input struct {
	// RunID identifies the run the task belongs to.
	RunID string

	// WorkflowInput is the value passed to Execute or Submit.
	WorkflowInput any

	// Results holds the outputs of the task's dependencies, keyed by task
	// name. The map is a copy; mutating it has no effect on the run.
	Results map[string]any
}

// Handler executes one task. The context carries the per-attempt timeout
// and is cancelled when the run is cancelled.
type Handler func(ctx context.Context, in Input) (any, error)

// RecoveryHandler is invoked when a task fails permanently with the error
// kind it is registered for. Returning a nil error substitutes the returned
// value as the task's output and lets the run continue.
type RecoveryHandler func(ctx context.Context, runID, task string, err error) (any, error)

// TaskDefinition declares one task of a workflow. Input and output are
// concrete Go types checked by the validators; a validation failure is
// permanent and never retried.
type TaskDefinition struct {
	// Name is unique within the workflow.
	Name string

	// Handler runs the task.
	Handler Handler

	// ValidateInput, when set, is applied to the assembled input before the
	// first attempt.
	ValidateInput func(Input) error

	// ValidateOutput, when set, is applied to the handler's output.
	ValidateOutput func(any) error

	// Timeout bounds a single attempt. Zero means no per-attempt timeout.
	// An expired attempt counts as a transient failure.
	Timeout time.Duration

	// Retries is the number of retries after the first attempt. Only
	// transient errors are retried.
	Retries int

	// RetryDelay seeds the exponential backoff between attempts.
	RetryDelay time.Duration
}

// Definition is a registered workflow: a set of tasks and the dependency
// edges between them. The graph must be acyclic.
type Definition struct {
	// ID names the workflow for Execute and Submit.
	ID string

	// Tasks holds the workflow's tasks. Names must be unique.
	Tasks []TaskDefinition

	// Dependencies maps a task name to the names of the tasks that must
	// complete before it starts.
	Dependencies map[string][]string
}

// Result is the outcome of a synchronous Execute.
type Result struct {
	RunID      string
	WorkflowID string
	Status     Status
	Results    map[string]any
	Errors     map[string]error
	Duration   time.Duration
}
