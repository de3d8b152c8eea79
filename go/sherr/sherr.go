// Package sherr provides error wrapping with call stacks and a small
// taxonomy of error kinds.
//
// Domain code returns errors created or wrapped by this package. The HTTP
// boundary is the only place that maps a Kind to a transport status; nothing
// below it should ever inspect error strings.
package sherr

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Kind classifies an error for the service boundary.
type Kind string

const (
	// NotFound means the entity does not exist, or the caller may not see it.
	NotFound Kind = "not_found"
	// Forbidden means the caller is authenticated but not permitted.
	Forbidden Kind = "forbidden"
	// Validation means the input shape or a constraint was violated.
	Validation Kind = "validation"
	// Conflict means an optimistic-concurrency loss or duplicate name.
	Conflict Kind = "conflict"
	// BusinessRule means a domain rule rejected the operation.
	BusinessRule Kind = "business_rule"
	// QuotaExceeded means a configured resource cap was hit.
	QuotaExceeded Kind = "quota_exceeded"
	// InvalidFileFormat means an uploaded file could not be parsed.
	InvalidFileFormat Kind = "invalid_file_format"
	// Transient means a recoverable infrastructure error; callers may retry.
	Transient Kind = "transient"
	// Internal is the catch-all for unexpected failures.
	Internal Kind = "internal"
)

// maxStackDepth is the number of callers recorded when wrapping.
const maxStackDepth = 32

type wrappedError struct {
	cause error
	kind  Kind
	msg   string
	stack []uintptr
}

func (w *wrappedError) Error() string {
	if w.msg == "" {
		return w.cause.Error()
	}
	if w.cause == nil {
		return w.msg
	}
	return w.msg + ": " + w.cause.Error()
}

func (w *wrappedError) Unwrap() error {
	return w.cause
}

func callers(skip int) []uintptr {
	pc := make([]uintptr, maxStackDepth)
	n := runtime.Callers(skip+2, pc)
	return pc[:n]
}

// Wrap returns an error that records the call stack at the point Wrap was
// called. Returns nil if err is nil.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return &wrappedError{cause: err, stack: callers(1)}
}

// Wrapf is like Wrap but prepends a formatted message.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &wrappedError{cause: err, msg: fmt.Sprintf(format, args...), stack: callers(1)}
}

// Fmt creates a new error from a format string, recording the call stack.
func Fmt(format string, args ...interface{}) error {
	return &wrappedError{msg: fmt.Sprintf(format, args...), stack: callers(1)}
}

// New creates a new error of the given kind.
func New(kind Kind, format string, args ...interface{}) error {
	return &wrappedError{kind: kind, msg: fmt.Sprintf(format, args...), stack: callers(1)}
}

// WithKind attaches a kind to err, keeping err as the cause.
func WithKind(err error, kind Kind) error {
	if err == nil {
		return nil
	}
	return &wrappedError{cause: err, kind: kind, stack: callers(1)}
}

// KindOf returns the kind of err. Unclassified errors report Internal.
func KindOf(err error) Kind {
	for err != nil {
		if w, ok := err.(*wrappedError); ok && w.kind != "" {
			return w.kind
		}
		err = errors.Unwrap(err)
	}
	return Internal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Stack returns a formatted stack trace for err, or "" if err carries none.
func Stack(err error) string {
	var w *wrappedError
	for err != nil {
		if cast, ok := err.(*wrappedError); ok {
			w = cast
		}
		err = errors.Unwrap(err)
	}
	if w == nil || len(w.stack) == 0 {
		return ""
	}
	var b strings.Builder
	frames := runtime.CallersFrames(w.stack)
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
	}
	return b.String()
}
