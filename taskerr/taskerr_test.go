package taskerr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

// TestErrorError verifies the Error() method formatting.
func TestErrorError(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "basic error",
			err: &Error{
				Op:   "Fetcher.Fetch",
				Kind: KindFetchFailed,
				Err:  errors.New("status 503"),
			},
			want: "Fetcher.Fetch (fetch_failed): status 503",
		},
		{
			name: "error with context",
			err: &Error{
				Op:   "Processor.ProcessURL",
				Kind: KindInvalidInput,
				Err:  errors.New("blocked host"),
				Context: map[string]any{
					"url": "http://localhost/x",
				},
			},
			want: "Processor.ProcessURL (invalid_input): blocked host [context:",
		},
		{
			name: "error without underlying error",
			err: &Error{
				Op:   "Parser.Parse",
				Kind: KindInvalidBundle,
			},
			want: "Parser.Parse: invalid_bundle",
		},
		{
			name: "error with wrapped error",
			err: &Error{
				Op:   "Engine.Execute",
				Kind: KindInternal,
				Err:  fmt.Errorf("task crashed: %w", errors.New("nil catalog")),
			},
			want: "Engine.Execute (internal): task crashed: nil catalog",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			if !strings.Contains(got, tt.want) {
				t.Errorf("Error() = %q, want to contain %q", got, tt.want)
			}
		})
	}
}

// TestErrorUnwrap verifies the Unwrap() method.
func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewFetchFailed("Fetcher.Fetch", cause)

	if got := errors.Unwrap(err); got != cause {
		t.Errorf("Unwrap() = %v, want %v", got, cause)
	}

	if !errors.Is(err, cause) {
		t.Error("errors.Is() should find the wrapped cause")
	}
}

// TestErrorIs verifies kind-based matching between Error values.
func TestErrorIs(t *testing.T) {
	tests := []struct {
		name   string
		err    *Error
		target error
		want   bool
	}{
		{
			name:   "same kind, target op empty",
			err:    NewTransient("LLM.Complete", errors.New("timeout")),
			target: &Error{Kind: KindTransient},
			want:   true,
		},
		{
			name:   "same kind and op",
			err:    NewTransient("LLM.Complete", errors.New("timeout")),
			target: &Error{Op: "LLM.Complete", Kind: KindTransient},
			want:   true,
		},
		{
			name:   "same kind, different op",
			err:    NewTransient("LLM.Complete", errors.New("timeout")),
			target: &Error{Op: "Fetcher.Fetch", Kind: KindTransient},
			want:   false,
		},
		{
			name:   "different kind",
			err:    NewTransient("LLM.Complete", errors.New("timeout")),
			target: &Error{Kind: KindInternal},
			want:   false,
		},
		{
			name:   "nil target",
			err:    NewInternal("X", errors.New("y")),
			target: nil,
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, tt.target); got != tt.want {
				t.Errorf("errors.Is() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestWithContext verifies that WithContext copies rather than mutates.
func TestWithContext(t *testing.T) {
	base := NewInvalidInput("Processor.ProcessURL", errors.New("bad url"))
	withCtx := base.WithContext(map[string]any{"url": "ftp://x"})

	if base.Context != nil {
		t.Error("WithContext must not mutate the original error")
	}
	if withCtx.Context["url"] != "ftp://x" {
		t.Errorf("context not attached: %+v", withCtx.Context)
	}

	second := withCtx.WithContext(map[string]any{"attempt": 2})
	if len(withCtx.Context) != 1 {
		t.Error("chained WithContext must not mutate the intermediate error")
	}
	if len(second.Context) != 2 {
		t.Errorf("merged context has %d entries, want 2", len(second.Context))
	}
}

// TestKindOf verifies error classification.
func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "tagged error", err: NewFetchFailed("F", errors.New("x")), want: KindFetchFailed},
		{
			name: "wrapped tagged error",
			err:  fmt.Errorf("outer: %w", NewInvalidBundle("P", errors.New("x"))),
			want: KindInvalidBundle,
		},
		{name: "context canceled", err: context.Canceled, want: KindCancelled},
		{name: "deadline exceeded", err: context.DeadlineExceeded, want: KindTransient},
		{
			name: "wrapped deadline",
			err:  fmt.Errorf("fetch: %w", context.DeadlineExceeded),
			want: KindTransient,
		},
		{name: "plain error", err: errors.New("boom"), want: KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestIsTransient verifies the retry gate.
func TestIsTransient(t *testing.T) {
	if !IsTransient(NewTransient("X", errors.New("flap"))) {
		t.Error("transient error should be retryable")
	}
	if !IsTransient(context.DeadlineExceeded) {
		t.Error("deadline expiry should be retryable")
	}
	if IsTransient(NewInvalidInput("X", errors.New("bad"))) {
		t.Error("invalid input must not be retryable")
	}
	if IsTransient(context.Canceled) {
		t.Error("cancellation must not be retryable")
	}
}

type failingCloser struct{}

func (failingCloser) Close() error { return errors.New("close failed") }

type okCloser struct{ closed bool }

func (c *okCloser) Close() error {
	c.closed = true
	return nil
}

// TestCloseWithLog verifies close errors are logged and nil closers ignored.
func TestCloseWithLog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	CloseWithLog(nil, logger, "nothing")
	if buf.Len() != 0 {
		t.Error("nil closer should not log")
	}

	c := &okCloser{}
	CloseWithLog(c, logger, "resource")
	if !c.closed {
		t.Error("closer was not closed")
	}
	if buf.Len() != 0 {
		t.Error("successful close should not log")
	}

	CloseWithLog(failingCloser{}, logger, "broken")
	if !strings.Contains(buf.String(), "broken") {
		t.Errorf("close failure not logged: %s", buf.String())
	}
}
