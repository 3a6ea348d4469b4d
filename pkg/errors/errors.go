package errors

import (
	"fmt"
)

// Error carries a machine-readable kind alongside the human message and the
// wrapped cause. Kinds are stable strings surfaced to API clients and stored
// in failed task rows.
type Error struct {
	Kind       string
	Message    string
	Details    map[string]interface{}
	InnerError error
}

func (e *Error) Error() string {
	if e.InnerError == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.InnerError)
}

func (e *Error) Unwrap() error {
	return e.InnerError
}

func (e *Error) WithKind(kind string) *Error {
	e.Kind = kind
	return e
}

func (e *Error) WithMessage(message string) *Error {
	e.Message = message
	return e
}

func (e *Error) WithMessagef(message string, args ...interface{}) *Error {
	e.Message = fmt.Sprintf(message, args...)
	return e
}

func (e *Error) WithError(err error) *Error {
	e.InnerError = err
	return e
}

// WithDetail attaches a structured detail field, e.g. the credit deficit.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = map[string]interface{}{}
	}
	e.Details[key] = value
	return e
}

func NewError() *Error {
	return &Error{Kind: KindInternalError}
}

func Wrap(err error, kind, message string) *Error {
	return &Error{Kind: kind, Message: message, InnerError: err}
}

func Wrapf(err error, kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), InnerError: err}
}

// Kind extracts the error kind, defaulting to INTERNAL_ERROR for foreign
// error values.
func Kind(err error) string {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return KindInternalError
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind string) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}
