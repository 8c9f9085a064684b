package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeUnknown Code = "UNKNOWN"

	// Definition errors, raised once while loading a campaign.
	CodeMalformedInput      Code = "MALFORMED_INPUT"
	CodeDanglingReference   Code = "DANGLING_REFERENCE"
	CodeDuplicateIdentifier Code = "DUPLICATE_IDENTIFIER"
	CodeUnreachableStart    Code = "UNREACHABLE_START"

	// Operation errors. State is left untouched.
	CodeInvalidOperation Code = "INVALID_OPERATION"
	CodeUnknownChoice    Code = "UNKNOWN_CHOICE"
	CodeNoForkToRetry    Code = "NO_FORK_TO_RETRY"
	CodeNoCheckpoint     Code = "NO_CHECKPOINT"

	// Persistence errors.
	CodeIO              Code = "IO_ERROR"
	CodeDeserialization Code = "DESERIALIZATION_ERROR"

	// Hosting errors.
	CodeNotFound  Code = "NOT_FOUND"
	CodeForbidden Code = "FORBIDDEN"
)

// Error is a coded error carrying optional metadata for callers that want to
// re-prompt or render a specific message.
type Error struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(strings.ToLower(string(e.Code)))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so callers can write
// errors.Is(err, domain.ErrNoCheckpoint).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrMalformedInput      = &Error{Code: CodeMalformedInput}
	ErrDanglingReference   = &Error{Code: CodeDanglingReference}
	ErrDuplicateIdentifier = &Error{Code: CodeDuplicateIdentifier}
	ErrUnreachableStart    = &Error{Code: CodeUnreachableStart}
	ErrInvalidOperation    = &Error{Code: CodeInvalidOperation}
	ErrUnknownChoice       = &Error{Code: CodeUnknownChoice}
	ErrNoForkToRetry       = &Error{Code: CodeNoForkToRetry}
	ErrNoCheckpoint        = &Error{Code: CodeNoCheckpoint}
	ErrIO                  = &Error{Code: CodeIO}
	ErrDeserialization     = &Error{Code: CodeDeserialization}
	ErrNotFound            = &Error{Code: CodeNotFound}
	ErrForbidden           = &Error{Code: CodeForbidden}
)

func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func WrapError(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

func MalformedInput(format string, args ...any) *Error {
	return NewError(CodeMalformedInput, format, args...)
}

func DanglingReference(from, to string) *Error {
	return &Error{
		Code:     CodeDanglingReference,
		Message:  fmt.Sprintf("%s references unknown %s", from, to),
		Metadata: map[string]string{"from": from, "to": to},
	}
}

func DuplicateIdentifier(id string) *Error {
	return &Error{
		Code:     CodeDuplicateIdentifier,
		Message:  fmt.Sprintf("identifier %s defined more than once", id),
		Metadata: map[string]string{"id": id},
	}
}

func UnreachableStart(format string, args ...any) *Error {
	return NewError(CodeUnreachableStart, format, args...)
}

// CodeOf extracts the error code from any error, CodeUnknown otherwise.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// MetadataOf returns the metadata of a coded error, nil otherwise.
func MetadataOf(err error) map[string]string {
	var e *Error
	if errors.As(err, &e) {
		return e.Metadata
	}
	return nil
}
