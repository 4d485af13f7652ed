package handler

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError is a failure that carries the reply status and whether the
// fault lies with the server (5xx, logged as error) or the client (logged as info).
type HTTPError struct {
	Status int
	Server bool
	Msg    string
	Err    error
}

// Error implements the error interface
func (e *HTTPError) Error() string {
	if e.Err != nil {
		if e.Msg == "" {
			return e.Err.Error()
		}
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

// Unwrap returns the underlying cause
func (e *HTTPError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the reply status carried by the error
func (e *HTTPError) HTTPStatus() int {
	return e.Status
}

// IsServerError reports whether the failure is the server's fault
func (e *HTTPError) IsServerError() bool {
	return e.Server
}

// NewHTTPError creates a protocol failure with an explicit fault attribution
func NewHTTPError(status int, serverFault bool, format string, args ...any) *HTTPError {
	return &HTTPError{
		Status: status,
		Server: serverFault,
		Msg:    fmt.Sprintf(format, args...),
	}
}

// ClientError creates a protocol failure caused by the request (bad input, quota, auth)
func ClientError(status int, format string, args ...any) *HTTPError {
	return NewHTTPError(status, false, format, args...)
}

// ServerError creates a protocol failure caused by the proxy or its backends
func ServerError(status int, format string, args ...any) *HTTPError {
	return NewHTTPError(status, true, format, args...)
}

// WrapError attaches a reply status to an existing error
func WrapError(status int, serverFault bool, err error, format string, args ...any) *HTTPError {
	e := NewHTTPError(status, serverFault, format, args...)
	e.Err = err
	return e
}

// StatusOf returns the reply status an error would produce, 500 for unclassified errors
func StatusOf(err error) int {
	var herr *HTTPError
	if errors.As(err, &herr) && validStatus(herr.Status) {
		return herr.Status
	}
	return http.StatusInternalServerError
}

func validStatus(status int) bool {
	return status >= 100 && status <= 599
}
