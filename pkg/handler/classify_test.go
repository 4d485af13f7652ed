package handler

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stringer struct{}

func (stringer) String() string { return "stringer failure" }

func TestClassify(t *testing.T) {
	cause := errors.New("connection refused")

	tests := []struct {
		name     string
		failure  any
		status   int
		severity Severity
		message  string
	}{
		{
			name:     "client error",
			failure:  ClientError(http.StatusTooManyRequests, "rate limited"),
			status:   http.StatusTooManyRequests,
			severity: SeverityInfo,
			message:  "http_error: http_status = 429 ; description = rate limited",
		},
		{
			name:     "server error",
			failure:  ServerError(http.StatusServiceUnavailable, "backend down"),
			status:   http.StatusServiceUnavailable,
			severity: SeverityError,
			message:  "http_error: http_status = 503 ; description = backend down",
		},
		{
			name:     "wrapped cause",
			failure:  WrapError(http.StatusBadGateway, true, cause, "storage"),
			status:   http.StatusBadGateway,
			severity: SeverityError,
			message:  "http_error: http_status = 502 ; description = storage: connection refused",
		},
		{
			name:     "generic error",
			failure:  errors.New("disk full"),
			status:   http.StatusInternalServerError,
			severity: SeverityError,
			message:  "uncaught failure: http_status = 500 ; description = disk full",
		},
		{
			name:     "string panic",
			failure:  "disk full",
			status:   http.StatusInternalServerError,
			severity: SeverityError,
			message:  "uncaught failure: http_status = 500 ; description = disk full",
		},
		{
			name:     "stringer",
			failure:  stringer{},
			status:   http.StatusInternalServerError,
			severity: SeverityError,
			message:  "uncaught failure: http_status = 500 ; description = stringer failure",
		},
		{
			name:     "arbitrary value",
			failure:  42,
			status:   http.StatusInternalServerError,
			severity: SeverityError,
			message:  "uncaught failure: http_status = 500 ; description = 42",
		},
		{
			name:     "status out of range",
			failure:  ClientError(42, "bogus"),
			status:   http.StatusInternalServerError,
			severity: SeverityError,
			message:  "http_error: http_status = 500 ; description = bogus",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.failure)
			assert.Equal(t, tt.status, got.Status)
			assert.Equal(t, tt.severity, got.Severity)
			assert.Equal(t, tt.message, got.Message)
		})
	}
}

func TestClassifyFindsWrappedHTTPError(t *testing.T) {
	err := fmt.Errorf("commit: %w", ClientError(http.StatusConflict, "exists"))

	got := Classify(err)
	assert.Equal(t, http.StatusConflict, got.Status)
	assert.Equal(t, SeverityInfo, got.Severity)
	assert.Contains(t, got.Message, "commit: exists")
}

func TestHTTPError(t *testing.T) {
	cause := errors.New("eof")
	err := WrapError(http.StatusBadRequest, false, cause, "read body")

	assert.Equal(t, "read body: eof", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus())
	assert.False(t, err.IsServerError())

	assert.Equal(t, http.StatusBadRequest, StatusOf(fmt.Errorf("x: %w", err)))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(cause))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(ClientError(1000, "bad")))

	assert.Equal(t, "eof", (&HTTPError{Status: 500, Err: cause}).Error())
}

func TestSeverityString(t *testing.T) {
	assert.Equal(t, "info", SeverityInfo.String())
	assert.Equal(t, "error", SeverityError.String())
	assert.Equal(t, "unknown", Severity(7).String())
}
