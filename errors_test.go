package attacklens

import (
	"errors"
	"testing"

	"github.com/attacklens/attacklens/taskerr"
)

func TestRunErrorFrom(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"fetch failure", taskerr.NewFetchFailed("op", errors.New("down")), CodeFetchFailed},
		{"invalid input", taskerr.NewInvalidInput("op", errors.New("bad")), CodeInvalidInput},
		{"invalid bundle", taskerr.NewInvalidBundle("op", errors.New("bad")), CodeInvalidBundle},
		{"transient", taskerr.NewTransient("op", errors.New("flaky")), CodeTransient},
		{"cancelled", taskerr.NewCancelled("op", errors.New("stop")), CodeCancelled},
		{"cache io", taskerr.NewCacheIO("op", errors.New("disk")), CodeCacheIO},
		{"plain error", errors.New("who knows"), CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			re := runErrorFrom(tt.err)
			if re == nil {
				t.Fatal("expected a run error")
			}
			if re.Code != tt.code {
				t.Errorf("code = %q, want %q", re.Code, tt.code)
			}
			if re.Message == "" {
				t.Error("expected a message")
			}
		})
	}
}

func TestRunErrorFromNil(t *testing.T) {
	if re := runErrorFrom(nil); re != nil {
		t.Errorf("expected nil, got %+v", re)
	}
}

func TestRunErrorError(t *testing.T) {
	re := &RunError{Code: CodeFetchFailed, Message: "origin down"}
	want := "fetch_failed: origin down"
	if got := re.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
