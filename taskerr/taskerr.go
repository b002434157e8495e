// Package taskerr provides the structured error taxonomy shared by every
// pipeline stage and by the workflow engine.
//
// Each stage classifies its failures at the error site by wrapping the cause
// in an Error carrying one of the Kind constants. The workflow engine uses
// the kind to decide between retrying (KindTransient) and failing the task,
// and the analyzer facade surfaces the kind as the user-visible error code.
// Error integrates with the standard errors package for wrapping, and with
// errors.Is() and errors.As() for matching.
package taskerr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// Error kinds categorize errors by their type. The string values are the
// user-visible error codes reported for failed runs.
const (
	// KindInvalidInput represents rejected caller input: bad URLs,
	// unsupported formats, oversized documents, blocked hosts.
	KindInvalidInput = "invalid_input"

	// KindFetchFailed represents transport failures, non-304 4xx responses,
	// and retry-exhausted 5xx responses, after all fallbacks.
	KindFetchFailed = "fetch_failed"

	// KindInvalidBundle represents malformed STIX bundle content.
	KindInvalidBundle = "invalid_bundle"

	// KindExtractionFailed represents a format-specific extractor failure.
	KindExtractionFailed = "extraction_failed"

	// KindTransient represents retryable conditions: timeouts, network
	// flaps, rate limits, an open LLM circuit.
	KindTransient = "transient"

	// KindCancelled represents external cancellation. Terminal; never retried.
	KindCancelled = "cancelled"

	// KindCacheIO represents disk cache read/write failures in the fetcher.
	KindCacheIO = "cache_io"

	// KindInternal represents everything else.
	KindInternal = "internal"
)

// Error is a structured error type that wraps underlying errors with
// additional context about the operation that failed and the category
// of error.
//
// Error implements the error interface and supports error unwrapping,
// making it compatible with errors.Is() and errors.As().
//
// Example usage:
//
//	err := &taskerr.Error{
//		Op:   "Fetcher.Fetch",
//		Kind: taskerr.KindFetchFailed,
//		Err:  fmt.Errorf("status 503"),
//	}
type Error struct {
	// Op is the operation that failed (e.g., "Fetcher.Fetch", "Processor.ProcessURL").
	Op string

	// Kind categorizes the error (e.g., KindInvalidInput, KindTransient).
	Kind string

	// Err is the underlying error that caused this error.
	Err error

	// Context provides additional context about the error (optional).
	// This can include URLs, run IDs, or other debugging information.
	Context map[string]any
}

// Error implements the error interface, returning a formatted error message
// that includes the operation, kind, and underlying error.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}

	if len(e.Context) > 0 {
		return fmt.Sprintf("%s (%s): %v [context: %+v]", e.Op, e.Kind, e.Err, e.Context)
	}

	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error, allowing errors.Is() and errors.As()
// to work correctly with wrapped errors.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error matching, allowing comparison based on the underlying
// error or on another Error's Kind and Op.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}

	// Check if target is an Error with matching Kind
	if t, ok := target.(*Error); ok {
		// Match if both Op and Kind are the same, or if Kind matches and Op is empty in target
		if t.Kind != "" && e.Kind == t.Kind {
			if t.Op == "" || e.Op == t.Op {
				return true
			}
		}
	}

	// Delegate to underlying error
	return errors.Is(e.Err, target)
}

// WithContext returns a new Error with the provided context added.
// This is useful for adding debugging information to errors.
//
// Example:
//
//	err := taskerr.NewFetchFailed("Fetcher.Fetch", cause).WithContext(map[string]any{
//		"url":     sourceURL,
//		"attempt": 3,
//	})
func (e *Error) WithContext(ctx map[string]any) *Error {
	newErr := *e
	if newErr.Context == nil {
		newErr.Context = make(map[string]any)
	}
	for k, v := range ctx {
		newErr.Context[k] = v
	}
	return &newErr
}

// New creates a new Error with an explicit kind.
func New(op, kind string, err error) *Error {
	return &Error{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
}

// NewInvalidInput creates a new Error with KindInvalidInput.
func NewInvalidInput(op string, err error) *Error {
	return New(op, KindInvalidInput, err)
}

// NewFetchFailed creates a new Error with KindFetchFailed.
func NewFetchFailed(op string, err error) *Error {
	return New(op, KindFetchFailed, err)
}

// NewInvalidBundle creates a new Error with KindInvalidBundle.
func NewInvalidBundle(op string, err error) *Error {
	return New(op, KindInvalidBundle, err)
}

// NewExtractionFailed creates a new Error with KindExtractionFailed.
func NewExtractionFailed(op string, err error) *Error {
	return New(op, KindExtractionFailed, err)
}

// NewTransient creates a new Error with KindTransient.
func NewTransient(op string, err error) *Error {
	return New(op, KindTransient, err)
}

// NewCancelled creates a new Error with KindCancelled.
func NewCancelled(op string, err error) *Error {
	return New(op, KindCancelled, err)
}

// NewCacheIO creates a new Error with KindCacheIO.
func NewCacheIO(op string, err error) *Error {
	return New(op, KindCacheIO, err)
}

// NewInternal creates a new Error with KindInternal.
func NewInternal(op string, err error) *Error {
	return New(op, KindInternal, err)
}

// KindOf classifies an arbitrary error into one of the error kinds.
// Error values report their own Kind. Context cancellation maps to
// KindCancelled, deadline expiry to KindTransient; anything unrecognized
// is KindInternal. A nil error returns the empty string.
func KindOf(err error) string {
	if err == nil {
		return ""
	}

	var te *Error
	if errors.As(err, &te) && te.Kind != "" {
		return te.Kind
	}

	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	}

	return KindInternal
}

// IsTransient reports whether an error should be retried by the workflow
// engine. Only KindTransient errors are retryable; validation failures,
// cancellations, and everything else fail the task immediately.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// CloseWithLog attempts to close the provided resource and logs any error
// at warning level. This is intended for use in defer statements to ensure
// cleanup errors are not silently ignored.
//
// The name parameter should describe the resource being closed (e.g., "file",
// "response body"). If logger is nil, slog.Default() is used.
//
// Example usage:
//
//	defer taskerr.CloseWithLog(resp.Body, logger, "response body")
func CloseWithLog(closer io.Closer, logger *slog.Logger, name string) {
	if closer == nil {
		return
	}

	if logger == nil {
		logger = slog.Default()
	}

	if err := closer.Close(); err != nil {
		logger.Warn("failed to close resource",
			"resource", name,
			"error", err)
	}
}
