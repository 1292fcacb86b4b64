package errors

import (
	stderrors "errors"
	"fmt"
	"path/filepath"
	"runtime"
)

// Kind classifies an error into the categories a chat turn cares about.
// Every kind is turn-scoped; none should crash the process.
type Kind int

const (
	// KindAuth marks a missing or expired upstream credential. Surfaced to
	// the user as a re-login instruction, never as a generic failure.
	KindAuth Kind = iota + 1
	// KindValidation marks malformed tool arguments or proposal fields.
	KindValidation
	// KindUpstream marks a non-2xx response or timeout from the Klaviyo API.
	KindUpstream
	// KindApproval marks an unknown or already-consumed approval id.
	KindApproval
)

type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

// New creates a new error with file and line number information.
func New(format string, a ...interface{}) error {
	return fmt.Errorf("[%s] %s", caller(), fmt.Sprintf(format, a...))
}

// Wrapf adds context (including file and line number) to an existing error.
// If the provided error is nil, Wrapf returns nil.
func Wrapf(err error, format string, a ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("[%s] %s: %w", caller(), fmt.Sprintf(format, a...), err)
}

// NewKind creates a classified error.
func NewKind(kind Kind, format string, a ...interface{}) error {
	return &kindError{kind: kind, err: fmt.Errorf("[%s] %s", caller(), fmt.Sprintf(format, a...))}
}

// WrapKind classifies an existing error while adding context. Returns nil
// for a nil error.
func WrapKind(kind Kind, err error, format string, a ...interface{}) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: fmt.Errorf("[%s] %s: %w", caller(), fmt.Sprintf(format, a...), err)}
}

// KindOf reports the kind of err, walking the wrap chain. Zero means
// unclassified.
func KindOf(err error) Kind {
	var ke *kindError
	if stderrors.As(err, &ke) {
		return ke.kind
	}
	return 0
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func caller() string {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return "???:0"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}
