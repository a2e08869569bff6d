package kv

import (
	"errors"
	"testing"
)

func TestErrorWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(CodeFatal, cause, "writing chunk")
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find the wrapped cause")
	}
	if CodeOf(err) != CodeFatal {
		t.Fatalf("got code %v want CodeFatal", CodeOf(err))
	}
}

func TestErrorIsMatchesByCode(t *testing.T) {
	a := NewError(CodeConflict, "attempt 1")
	b := NewError(CodeConflict, "attempt 2, different message")
	if !errors.Is(a, b) {
		t.Fatalf("expected two *Error values with the same code to match via Is")
	}
	c := NewError(CodeNotFound, "missing")
	if errors.Is(a, c) {
		t.Fatalf("did not expect Conflict to match NotFound")
	}
}

func TestCodeOfNilIsOK(t *testing.T) {
	if CodeOf(nil) != CodeOK {
		t.Fatalf("expected CodeOf(nil) == CodeOK")
	}
}

func TestCodeOfUnclassifiedErrorIsFatal(t *testing.T) {
	if CodeOf(errors.New("boom")) != CodeFatal {
		t.Fatalf("expected an unclassified error to report CodeFatal")
	}
}

func TestRetriableTable(t *testing.T) {
	cases := map[Code]bool{
		CodeConflict:        true,
		CodeThrottled:       true,
		CodeTimeout:         true,
		CodeNetworkError:    true,
		CodeBusy:            true,
		CodeMaybeCommitted:  true,
		CodeVersionMismatch: true,
		CodeTooOld:          true,
		CodeNotFound:        false,
		CodeAlreadyExists:   false,
		CodeNoPermission:    false,
		CodeInvalidArgument: false,
		CodeCorruption:      false,
		CodeFatal:           false,
	}
	for code, want := range cases {
		if got := Retriable(code); got != want {
			t.Errorf("Retriable(%v) = %v want %v", code, got, want)
		}
	}
}
