// Package errors defines the sentinel errors shared by the index mutation
// layer, an AppError wrapper carrying a user-facing status, and the fatal
// InvariantViolation kind.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnknownIndex     = errors.New("unknown index name")
	ErrIndexExists      = errors.New("index already exists")
	ErrAliasExists      = errors.New("alias already exists")
	ErrAliasNotFound    = errors.New("alias does not exist")
	ErrUnknownSynonymID = errors.New("given id does not exist")
	ErrRulesGoverned    = errors.New("cannot manually modify documents of an index declared using rules")
	ErrDocumentNotFound = errors.New("document not in index")
	ErrDocumentExists   = errors.New("document already in index")
	ErrRuleExists       = errors.New("rule already exists")
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnavailable      = errors.New("service unavailable")
	ErrInternal         = errors.New("internal error")
	ErrTimeout          = errors.New("operation timed out")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// InvariantViolation reports that a structure's own invariant no longer
// holds. It is never translated into a reply: callers treat it as fatal.
type InvariantViolation struct {
	Component string
	Detail    string
	Cause     error
}

func (e *InvariantViolation) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s invariant violated: %s: %v", e.Component, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s invariant violated: %s", e.Component, e.Detail)
}

func (e *InvariantViolation) Unwrap() error {
	return e.Cause
}

// IsFatal reports whether err carries an InvariantViolation.
func IsFatal(err error) bool {
	var iv *InvariantViolation
	return errors.As(err, &iv)
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrUnknownIndex), errors.Is(err, ErrAliasNotFound),
		errors.Is(err, ErrDocumentNotFound), errors.Is(err, ErrUnknownSynonymID):
		return http.StatusNotFound
	case errors.Is(err, ErrIndexExists), errors.Is(err, ErrAliasExists),
		errors.Is(err, ErrDocumentExists), errors.Is(err, ErrRuleExists):
		return http.StatusConflict
	case errors.Is(err, ErrRulesGoverned):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnavailable), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
