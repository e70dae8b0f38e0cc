package quiz

import (
	"errors"
	"fmt"
)

// Kind classifies an engine failure so callers can decide between retrying,
// showing "try again later", or showing "add more content".
type Kind string

const (
	KindNotFound             Kind = "not_found"
	KindInvalidInput         Kind = "invalid_input"
	KindContentMissing       Kind = "content_missing"
	KindEmptyCorpus          Kind = "empty_corpus"
	KindModelFailure         Kind = "model_failure"
	KindMalformedModelOutput Kind = "malformed_model_output"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Message != "" {
			return e.Message + ": " + e.Err.Error()
		}
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the failure kind from err, or "" for untyped errors.
func KindOf(err error) Kind {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr.Kind
	}
	return ""
}
