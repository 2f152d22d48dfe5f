package apperror

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := Wrap(CodeRemoteCallFailed, "llm mapping failed", errors.New("503"))
	assert.Equal(t, "REMOTE_CALL_FAILED: llm mapping failed: 503", err.Error())

	plain := InvalidInput("query must not be empty")
	assert.Equal(t, "INVALID_INPUT: query must not be empty", plain.Error())
}

func TestCodeOfUnwrapsChain(t *testing.T) {
	inner := Malformed("no JSON object in response", nil)
	wrapped := fmt.Errorf("attempt 2: %w", inner)

	assert.Equal(t, CodeRemoteResponseMalformed, CodeOf(wrapped))
	assert.True(t, Is(wrapped, CodeRemoteResponseMalformed))
	assert.True(t, errors.Is(wrapped, New(CodeRemoteResponseMalformed, "")))
	assert.Equal(t, Code(""), CodeOf(nil))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
}

func TestRemoteClassification(t *testing.T) {
	assert.Equal(t, CodeRemoteCallTimeout, Remote("llm", context.DeadlineExceeded).Code)
	assert.Equal(t, CodeRemoteCallFailed, Remote("llm", errors.New("connection reset")).Code)

	malformed := Malformed("bad json", nil)
	assert.Same(t, malformed, Remote("llm", fmt.Errorf("parse: %w", malformed)))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code   Code
		status int
	}{
		{CodeInvalidInput, http.StatusBadRequest},
		{CodeValidationViolation, http.StatusBadRequest},
		{CodeRemoteCallTimeout, http.StatusGatewayTimeout},
		{CodeRetrievalUnavailable, http.StatusServiceUnavailable},
		{CodeRepairExhausted, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, New(tt.code, "x").HTTPStatus(), string(tt.code))
	}
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("x")))
}

func TestWithViolationsCopies(t *testing.T) {
	v := []Violation{{Field: "confidence", Code: "out_of_range", Message: "must be within [0,1]"}}
	err := New(CodeValidationViolation, "candidate invalid").WithViolations(v)
	v[0].Field = "mutated"

	assert.Equal(t, "confidence", err.Violations[0].Field)
	assert.Equal(t, "confidence: must be within [0,1] (out_of_range)", err.Violations[0].String())
}
