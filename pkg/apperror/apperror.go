// Package apperror defines the error taxonomy shared by the pipeline stages,
// the HTTP handlers and the CLI.
package apperror

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeInvalidInput            Code = "INVALID_INPUT"
	CodeRetrievalUnavailable    Code = "RETRIEVAL_UNAVAILABLE"
	CodeExtractionDegraded      Code = "EXTRACTION_DEGRADED"
	CodeClassificationDefault   Code = "CLASSIFICATION_DEFAULT"
	CodeRemoteCallTimeout       Code = "REMOTE_CALL_TIMEOUT"
	CodeRemoteCallFailed        Code = "REMOTE_CALL_FAILED"
	CodeRemoteResponseMalformed Code = "REMOTE_RESPONSE_MALFORMED"
	CodeValidationViolation     Code = "VALIDATION_VIOLATION"
	CodeRepairExhausted         Code = "REPAIR_EXHAUSTED"
	CodeNotFound                Code = "NOT_FOUND"
	CodeRateLimited             Code = "RATE_LIMITED"
	CodeInternal                Code = "INTERNAL_ERROR"
)

// Violation is one schema rule a candidate failed.
type Violation struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s (%s)", v.Field, v.Message, v.Code)
}

type Error struct {
	Code       Code        `json:"code"`
	Message    string      `json:"message"`
	Violations []Violation `json:"violations,omitempty"`
	Err        error       `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on code so errors.Is(err, apperror.New(CodeX, "")) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeInvalidInput, CodeValidationViolation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeRemoteCallTimeout:
		return http.StatusGatewayTimeout
	case CodeRetrievalUnavailable, CodeRemoteCallFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func (e *Error) WithViolations(v []Violation) *Error {
	e.Violations = append([]Violation(nil), v...)
	return e
}

func InvalidInput(message string) *Error {
	return New(CodeInvalidInput, message)
}

func Malformed(message string, err error) *Error {
	return Wrap(CodeRemoteResponseMalformed, message, err)
}

// Remote classifies a failed remote call as a timeout or a generic failure.
func Remote(operation string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(CodeRemoteCallTimeout, operation+" timed out", err)
	}
	var ae *Error
	if errors.As(err, &ae) && ae.Code == CodeRemoteResponseMalformed {
		return ae
	}
	return Wrap(CodeRemoteCallFailed, operation+" failed", err)
}

// CodeOf returns the code of the outermost *Error in err's chain, or
// CodeInternal when there is none.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeRemoteCallTimeout
	}
	return CodeInternal
}

func HTTPStatus(err error) int {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.HTTPStatus()
	}
	return http.StatusInternalServerError
}

func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
