// Package errs carries the coded error taxonomy shared by the runner and its
// surfaces. A code tells the caller whether the application misbehaved
// (Assertion) or the harness itself broke (everything else).
package errs

import (
	"context"
	"errors"
)

// Code is a runner error code.
type Code string

const (
	// SoftTimeout is a best-effort stabilization wait that expired. Never terminal.
	SoftTimeout Code = "soft_timeout"
	// HardInteraction is a locator that did not resolve or an action that timed out.
	HardInteraction Code = "hard_interaction"
	// Assertion is an application-visible condition that did not hold.
	Assertion Code = "assertion"
	// SessionFault is a failure of the automation backend itself.
	SessionFault Code = "session_fault"
	// Canceled means the caller aborted the run.
	Canceled        Code = "canceled"
	InvalidArgument Code = "invalid_argument"
	Unavailable     Code = "unavailable"
	Internal        Code = "internal"
)

// Error is a coded runner error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		if e.Err != nil {
			return e.Message + ": " + e.Err.Error()
		}
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a coded error with message.
func New(code Code, message string) error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a coded error with message and cause.
func Wrap(code Code, message string, cause error) error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     cause,
	}
}

// CodeOf returns the error code, defaulting to internal.
// Context cancellation anywhere in the chain reports Canceled.
func CodeOf(err error) Code {
	if err == nil {
		return Internal
	}
	var coded *Error
	if errors.As(err, &coded) && coded.Code != "" {
		return coded.Code
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Canceled
	}
	return Internal
}

// MessageOf returns the human-readable message of a coded error.
// Untyped errors report their own text since runner diagnostics are
// consumed by the scenario author, not an anonymous client.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var coded *Error
	if errors.As(err, &coded) && coded.Message != "" {
		return coded.Message
	}
	return err.Error()
}

// IsHarnessFault reports whether the code describes a harness problem rather
// than an application misbehavior. A scenario that ends on a harness fault is
// Errored; one that ends on an assertion is Failed.
func IsHarnessFault(code Code) bool {
	return code != Assertion
}

// ExitStatus maps a code to the process exit status used by the CLI.
func ExitStatus(code Code) int {
	switch code {
	case InvalidArgument:
		return 2
	default:
		return 1
	}
}
