// Package core provides the error taxonomy and shared types for the image cache service.
package core

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the type of error that occurred
type ErrorType string

const (
	// ErrorTypeFetch indicates the upstream image could not be retrieved
	ErrorTypeFetch ErrorType = "fetch_error"
	// ErrorTypeDecode indicates the upstream body could not be turned into a data URL
	ErrorTypeDecode ErrorType = "decode_error"
	// ErrorTypeInvalidRequest indicates a client error (4xx)
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	// ErrorTypeAuthentication indicates an authentication error (401)
	ErrorTypeAuthentication ErrorType = "authentication_error"
	// ErrorTypeNotFound indicates a not found error (404)
	ErrorTypeNotFound ErrorType = "not_found_error"
)

// FetchError is returned when an image request fails at the network level
// or the upstream answers with a non-2xx status.
// StatusCode is 0 for transport failures.
type FetchError struct {
	URL        string
	StatusCode int
	Message    string
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("fetch %s: status %d: %s", e.URL, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("fetch %s: %s", e.URL, e.Message)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError creates a FetchError for an upstream status code.
func NewFetchError(url string, statusCode int, message string) *FetchError {
	return &FetchError{URL: url, StatusCode: statusCode, Message: message}
}

// NewTransportError creates a FetchError for a request that never produced a response.
func NewTransportError(url string, err error) *FetchError {
	return &FetchError{URL: url, Err: err}
}

// DecodeError is returned when a response body cannot be read or encoded.
// Callers treat it like a FetchError.
type DecodeError struct {
	URL string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.URL, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// PersistenceError wraps a durable store failure. It is logged by the cache
// and never surfaces to callers of the cache API.
type PersistenceError struct {
	Op      string
	Backend string
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s (%s): %v", e.Op, e.Backend, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsFetchFailure reports whether err means the image could not be obtained,
// which covers both FetchError and DecodeError.
func IsFetchFailure(err error) bool {
	var fetchErr *FetchError
	var decodeErr *DecodeError
	return errors.As(err, &fetchErr) || errors.As(err, &decodeErr)
}

// APIError is the error shape returned by the HTTP API
type APIError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code"`
	// Upstream status for fetch errors, 0 when not applicable
	UpstreamStatus int `json:"upstream_status,omitempty"`
	// Original error for debugging (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *APIError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *APIError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeFetch, ErrorTypeDecode:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to a JSON-compatible map
func (e *APIError) ToJSON() map[string]interface{} {
	body := map[string]interface{}{
		"type":    e.Type,
		"message": e.Message,
	}
	if e.UpstreamStatus != 0 {
		body["upstream_status"] = e.UpstreamStatus
	}
	return map[string]interface{}{"error": body}
}

// NewInvalidRequestError creates a new invalid request error (400)
func NewInvalidRequestError(message string, err error) *APIError {
	return &APIError{
		Type:       ErrorTypeInvalidRequest,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        err,
	}
}

// NewAuthenticationError creates a new authentication error (401)
func NewAuthenticationError(message string) *APIError {
	return &APIError{
		Type:       ErrorTypeAuthentication,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

// NewNotFoundError creates a new not found error (404)
func NewNotFoundError(message string) *APIError {
	return &APIError{
		Type:       ErrorTypeNotFound,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

// ToAPIError maps cache and fetch errors onto the HTTP error shape.
// An upstream 404 stays a 404 so the UI can fall back to a placeholder;
// a rejected host stays a 403; every other fetch failure becomes a 502.
func ToAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		status := http.StatusBadGateway
		if fetchErr.StatusCode == http.StatusNotFound || fetchErr.StatusCode == http.StatusForbidden {
			status = fetchErr.StatusCode
		}
		return &APIError{
			Type:           ErrorTypeFetch,
			Message:        fetchErr.Error(),
			StatusCode:     status,
			UpstreamStatus: fetchErr.StatusCode,
			Err:            err,
		}
	}

	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		return &APIError{
			Type:       ErrorTypeDecode,
			Message:    decodeErr.Error(),
			StatusCode: http.StatusBadGateway,
			Err:        err,
		}
	}

	return &APIError{
		Type:       "internal_error",
		Message:    "an unexpected error occurred",
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}
