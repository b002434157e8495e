package attacklens

import (
	"errors"

	"github.com/attacklens/attacklens/taskerr"
)

// Sentinel errors for facade-level conditions.
// These errors can be used with errors.Is() for error checking.
var (
	// ErrCatalogNotReady indicates no technique catalog has been loaded yet.
	// AnalyzeURL and AnalyzeFile still succeed in this state because the
	// analysis workflow fetches and parses a catalog itself; accessors that
	// need an already-built catalog return this error.
	ErrCatalogNotReady = errors.New("technique catalog not ready")

	// ErrNotStarted indicates the analyzer has not been started yet.
	ErrNotStarted = errors.New("analyzer not started")

	// ErrAlreadyStarted indicates Start was called twice.
	ErrAlreadyStarted = errors.New("analyzer already started")
)

// Error codes surfaced by GetRun for failed runs. These alias the taskerr
// kinds so API layers can consume the facade package alone.
const (
	CodeInvalidInput     = taskerr.KindInvalidInput
	CodeFetchFailed      = taskerr.KindFetchFailed
	CodeInvalidBundle    = taskerr.KindInvalidBundle
	CodeExtractionFailed = taskerr.KindExtractionFailed
	CodeTransient        = taskerr.KindTransient
	CodeCancelled        = taskerr.KindCancelled
	CodeCacheIO          = taskerr.KindCacheIO
	CodeInternal         = taskerr.KindInternal
)

// RunError is the user-visible failure of a run: a stable code drawn from
// the error-code constants plus a human-readable message. Partial results
// are never attached.
type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *RunError) Error() string {
	return e.Code + ": " + e.Message
}

// runErrorFrom classifies err into a RunError. Returns nil for nil input.
func runErrorFrom(err error) *RunError {
	if err == nil {
		return nil
	}
	return &RunError{
		Code:    taskerr.KindOf(err),
		Message: err.Error(),
	}
}
