package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a generation failure.
type Kind int

const (
	// KindRuntime is any failure not covered by another kind.
	KindRuntime Kind = iota
	// KindOverflow means the prompt plus requested tokens exceed the context window.
	KindOverflow
	// KindUnavailable means the backend is not configured, installed or reachable.
	KindUnavailable
	// KindInvalidInput means the request itself was rejected.
	KindInvalidInput
)

func (k Kind) String() string {
	switch k {
	case KindOverflow:
		return "overflow"
	case KindUnavailable:
		return "unavailable"
	case KindInvalidInput:
		return "invalid_input"
	default:
		return "runtime"
	}
}

// Error is a typed generation failure.
type Error struct {
	Kind    Kind
	Backend BackendID
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Backend, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Backend, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a typed generation error.
func NewError(kind Kind, backend BackendID, err error) *Error {
	return &Error{Kind: kind, Backend: backend, Err: err}
}

// KindOf returns the kind of err, or KindRuntime for untyped errors.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindRuntime
}

// IsKind reports whether err is a generation error of kind.
func IsKind(err error, kind Kind) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Kind == kind
}

// overflowIndicators appear in runtime errors when the context window is
// exceeded. Matched case-insensitively.
var overflowIndicators = []string{
	"exceed context window",
	"requested tokens",
	"context window",
	"context length",
	"maximum context",
}

// unavailableIndicators appear when a runtime cannot serve any request.
var unavailableIndicators = []string{
	"connection refused",
	"no such host",
	"not found, try pulling",
	"model not found",
	"404 not found",
	"dial tcp",
}

// Classify converts a runtime failure into a typed Error. Already typed
// errors pass through. Runtimes expose only free text, so overflow and
// unavailability are recognized here, once, by indicator substrings.
func Classify(backend BackendID, err error) *Error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindRuntime, backend, err)
	}

	msg := strings.ToLower(err.Error())
	for _, ind := range overflowIndicators {
		if strings.Contains(msg, ind) {
			return NewError(KindOverflow, backend, err)
		}
	}
	for _, ind := range unavailableIndicators {
		if strings.Contains(msg, ind) {
			return NewError(KindUnavailable, backend, err)
		}
	}
	return NewError(KindRuntime, backend, err)
}
