package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"pgregory.net/rapid"
)

var allCodes = []Code{
	SoftTimeout,
	HardInteraction,
	Assertion,
	SessionFault,
	Canceled,
	InvalidArgument,
	Unavailable,
	Internal,
}

func testCodeOf_RoundtripForTypedErrors(t *rapid.T) {
	code := rapid.SampledFrom(allCodes).Draw(t, "code")
	message := rapid.StringMatching(`[a-zA-Z0-9 _:\-]{1,80}`).Draw(t, "message")

	err := New(code, message)
	if got := CodeOf(err); got != code {
		t.Fatalf("CodeOf(New) mismatch: got=%q want=%q", got, code)
	}
	if got := MessageOf(err); got != message {
		t.Fatalf("MessageOf(New) mismatch: got=%q want=%q", got, message)
	}
}

func TestCodeOf_RoundtripForTypedErrors(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testCodeOf_RoundtripForTypedErrors)
}

func testCodeOfAndMessageOf_WrappedTypedError(t *rapid.T) {
	code := rapid.SampledFrom(allCodes).Draw(t, "code")
	message := rapid.StringMatching(`[a-zA-Z0-9 _:\-]{1,80}`).Draw(t, "message")
	cause := errors.New(rapid.StringMatching(`[a-zA-Z0-9 _:\-]{1,80}`).Draw(t, "cause"))

	err := Wrap(code, message, cause)
	wrapped := fmt.Errorf("outer: %w", err)

	if got := CodeOf(wrapped); got != code {
		t.Fatalf("CodeOf(wrapped) mismatch: got=%q want=%q", got, code)
	}
	if got := MessageOf(wrapped); got != message {
		t.Fatalf("MessageOf(wrapped) mismatch: got=%q want=%q", got, message)
	}
	if !errors.Is(wrapped, cause) {
		t.Fatal("wrapped error lost its cause")
	}
}

func TestCodeOfAndMessageOf_WrappedTypedError(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testCodeOfAndMessageOf_WrappedTypedError)
}

func testUntypedAndNilFallbacks(t *rapid.T) {
	raw := rapid.StringMatching(`[a-zA-Z0-9 _:\-./]{1,80}`).Draw(t, "raw")
	untyped := errors.New(raw)

	if got := CodeOf(untyped); got != Internal {
		t.Fatalf("CodeOf(untyped) mismatch: got=%q want=%q", got, Internal)
	}
	if got := MessageOf(untyped); got != raw {
		t.Fatalf("MessageOf(untyped) mismatch: got=%q want=%q", got, raw)
	}
	if got := CodeOf(nil); got != Internal {
		t.Fatalf("CodeOf(nil) mismatch: got=%q want=%q", got, Internal)
	}
	if got := MessageOf(nil); got != "" {
		t.Fatalf("MessageOf(nil) mismatch: got=%q want empty", got)
	}
}

func TestUntypedAndNilFallbacks(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testUntypedAndNilFallbacks)
}

func TestCodeOf_ContextCancellation(t *testing.T) {
	t.Parallel()
	if got := CodeOf(fmt.Errorf("goto: %w", context.Canceled)); got != Canceled {
		t.Fatalf("CodeOf(canceled) = %q, want %q", got, Canceled)
	}
	if got := CodeOf(context.DeadlineExceeded); got != Canceled {
		t.Fatalf("CodeOf(deadline) = %q, want %q", got, Canceled)
	}
	// An explicit code wins over the context error it wraps.
	if got := CodeOf(Wrap(SessionFault, "browser closed", context.Canceled)); got != SessionFault {
		t.Fatalf("CodeOf(coded canceled) = %q, want %q", got, SessionFault)
	}
}

func TestError_IncludesCause(t *testing.T) {
	t.Parallel()
	err := Wrap(HardInteraction, "click #submit", errors.New("timeout 5000ms exceeded"))
	if got, want := err.Error(), "click #submit: timeout 5000ms exceeded"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
	if got := New(Assertion, "").Error(); got != string(Assertion) {
		t.Fatalf("Error() without message = %q, want %q", got, Assertion)
	}
}

func testClassification(t *rapid.T) {
	code := rapid.SampledFrom(allCodes).Draw(t, "code")

	if harness := IsHarnessFault(code); harness == (code == Assertion) {
		t.Fatalf("IsHarnessFault(%q) = %v", code, harness)
	}
	status := ExitStatus(code)
	if status == 0 {
		t.Fatalf("ExitStatus(%q) must be non-zero", code)
	}
}

func TestClassification(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testClassification)
}
