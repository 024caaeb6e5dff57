// Package errors stamps errors with the file and line that created them so
// failures surfacing at the CLI point back at their origin.
package errors

import (
	stderrors "errors"
	"fmt"
	"path/filepath"
	"runtime"
)

var (
	// ErrUnknownProvider is returned when the configured llm name has no client.
	ErrUnknownProvider = stderrors.New("unknown llm provider")
	// ErrInvalidMode is returned for execution or approval modes outside the known set.
	ErrInvalidMode = stderrors.New("invalid mode")
	// ErrSessionNotFound is returned by session stores for unknown keys.
	ErrSessionNotFound = stderrors.New("session not found")
)

// New creates a new error with file and line number information.
func New(format string, a ...interface{}) error {
	return fmt.Errorf("[%s] %s", caller(2), fmt.Sprintf(format, a...))
}

// Wrapf adds context (including file and line number) to an existing error.
// If the provided error is nil, Wrapf returns nil.
func Wrapf(err error, format string, a ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("[%s] %s: %w", caller(2), fmt.Sprintf(format, a...), err)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool { return stderrors.As(err, target) }

func caller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "???:0"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}
