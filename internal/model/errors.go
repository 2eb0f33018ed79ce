package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a pipeline failure so callers can tell an empty
// window apart from a broken upstream.
type ErrorKind string

const (
	KindNoData           ErrorKind = "no_data"
	KindInsufficientData ErrorKind = "insufficient_data"
	KindInvalidInput     ErrorKind = "invalid_input"
	KindUpstream         ErrorKind = "upstream"
	KindStorage          ErrorKind = "storage"
	KindNotFound         ErrorKind = "not_found"
	KindDuplicate        ErrorKind = "duplicate"
)

var (
	// ErrNoData is returned when a query window contains no records
	ErrNoData = &Error{Kind: KindNoData}

	// ErrInsufficientData is returned when there are too few points for a statistic
	ErrInsufficientData = &Error{Kind: KindInsufficientData}

	// ErrInvalidInput is returned for malformed arguments
	ErrInvalidInput = &Error{Kind: KindInvalidInput}

	// ErrUpstream is returned when a record source fails
	ErrUpstream = &Error{Kind: KindUpstream}

	// ErrStorage is returned when the relational store fails
	ErrStorage = &Error{Kind: KindStorage}

	// ErrNotFound is returned when a row does not exist
	ErrNotFound = &Error{Kind: KindNotFound}

	// ErrDuplicate is returned when a unique key already exists
	ErrDuplicate = &Error{Kind: KindDuplicate}
)

// Error is the tagged failure carried through the pipeline.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Op      string    `json:"op,omitempty"`
	Message string    `json:"message,omitempty"`
	Err     error     `json:"-"`
}

// NewError builds an Error with a formatted message.
func NewError(kind ErrorKind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// WrapError tags err with kind. A nil err yields nil.
func WrapError(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
