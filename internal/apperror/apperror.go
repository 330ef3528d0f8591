// Package apperror defines the typed error kinds shared across the backend.
//
// Handler-level failures travel as values ({success:false, error}) so the
// LLM can see and react to them; this package exists for the smaller set of
// errors that must be distinguished programmatically by the orchestrator,
// router, and transport layer.
package apperror

import (
	"errors"
	"fmt"
)

// Kind identifies a class of failure.
type Kind string

const (
	InvalidArgs     Kind = "invalid_args"
	UnknownTool     Kind = "unknown_tool"
	PathTraversal   Kind = "path_traversal"
	PathEscape      Kind = "path_escape"
	SearchNotFound  Kind = "search_not_found"
	IoError         Kind = "io_error"
	ProviderError   Kind = "provider_error"
	BudgetExceeded  Kind = "budget_exceeded"
	CacheError      Kind = "cache_error"
	DbError         Kind = "db_error"
	ParseError      Kind = "parse_error"
	HookBlocked     Kind = "hook_blocked"
	CheckpointError Kind = "checkpoint_error"
	Timeout         Kind = "timeout"
	Disconnected    Kind = "disconnected"
)

// Error is a typed, wrapped error carrying a Kind for errors.Is/As matching.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a new Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates a new Error of the given kind wrapping an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
