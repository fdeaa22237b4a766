package analysis

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures. Expected, non-exceptional conditions
// (missing upload, no matching parser) travel as kinds, not panics.
type Kind int

const (
	KindInternal          Kind = iota // unexpected fault
	KindNotFound                      // no uploaded file for the id
	KindUnsupportedFormat             // no parser matched
	KindParseFailure                  // parser ran but reported an error
	KindRuleEngineFailure             // rule engine returned an error
	KindCancelled                     // caller-requested cancellation
)

// String returns a short label for the kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindUnsupportedFormat:
		return "unsupported_format"
	case KindParseFailure:
		return "parse_failure"
	case KindRuleEngineFailure:
		return "rule_engine_failure"
	case KindCancelled:
		return "cancelled"
	default:
		return "internal"
	}
}

// Error is a classified pipeline error with an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds a classified error.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError builds a classified error around a cause.
func WrapError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err, or KindInternal if it carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsCancelled reports whether err represents caller-requested cancellation.
func IsCancelled(err error) bool {
	return err != nil && KindOf(err) == KindCancelled
}
