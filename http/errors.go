package http

import (
	"errors"
	"fmt"

	"github.com/gaborage/resilient-http/retry"
)

// ClientError represents different types of REST client errors
type ClientError interface {
	error
	Type() ErrorType
}

// ErrorType defines the category of client error
type ErrorType string

const (
	TransportError  ErrorType = "transport"
	HTTPError       ErrorType = "http"
	ValidationError ErrorType = "validation"
)

// transportError represents a classified failure below the HTTP layer
type transportError struct {
	failure *retry.Failure
}

func (e *transportError) Error() string {
	return fmt.Sprintf("transport error: %s", e.failure.Error())
}

func (e *transportError) Type() ErrorType {
	return TransportError
}

func (e *transportError) Unwrap() error {
	return e.failure
}

// Code returns the transport error classification.
func (e *transportError) Code() retry.TransportErrorCode {
	return e.failure.Code
}

// httpError represents HTTP status-related errors
type httpError struct {
	message    string
	statusCode int
	body       []byte
}

func (e *httpError) Error() string {
	return fmt.Sprintf("HTTP error: %s (status: %d)", e.message, e.statusCode)
}

func (e *httpError) Type() ErrorType {
	return HTTPError
}

func (e *httpError) StatusCode() int {
	return e.statusCode
}

func (e *httpError) Body() []byte {
	return e.body
}

// validationError represents request validation errors
type validationError struct {
	message string
	field   string
}

func (e *validationError) Error() string {
	if e.field != "" {
		return fmt.Sprintf("validation error: %s (field: %s)", e.message, e.field)
	}
	return fmt.Sprintf("validation error: %s", e.message)
}

func (e *validationError) Type() ErrorType {
	return ValidationError
}

// NewTransportError wraps a classified transport failure
func NewTransportError(failure *retry.Failure) ClientError {
	return &transportError{failure: failure}
}

// NewHTTPError creates a new HTTP error
func NewHTTPError(message string, statusCode int, body []byte) ClientError {
	return &httpError{
		message:    message,
		statusCode: statusCode,
		body:       body,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message, field string) ClientError {
	return &validationError{
		message: message,
		field:   field,
	}
}

// Err converts a failed Response into a ClientError. It returns nil on success.
func (r Response) Err() error {
	if r.Success {
		return nil
	}
	if r.Failure != nil {
		var ve *validationError
		if r.Failure.Code == retry.CodeInvalidRequest && errors.As(r.Failure.Err, &ve) {
			return ve
		}
		return NewTransportError(r.Failure)
	}
	return NewHTTPError(r.ErrorMessage, r.StatusCode, []byte(r.Body))
}

// IsErrorType checks if an error is of a specific type
func IsErrorType(err error, errorType ErrorType) bool {
	if err == nil {
		return false
	}
	var clientErr ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type() == errorType
	}
	return false
}

// IsHTTPStatusError checks if an error is an HTTP error with a specific status code
func IsHTTPStatusError(err error, statusCode int) bool {
	var httpErr *httpError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode() == statusCode
	}
	return false
}

// IsTransportCode checks if an error is a transport error with the given code
func IsTransportCode(err error, code retry.TransportErrorCode) bool {
	var failure *retry.Failure
	if errors.As(err, &failure) {
		return failure.Code == code
	}
	return false
}
