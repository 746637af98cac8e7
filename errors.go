package main

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrCrawlInProgress = errors.New("crawl already in progress")
	ErrNoProducts      = errors.New("no products collected")
)

type ErrorType string

const (
	ErrorTypeValidation ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound   ErrorType = "NOT_FOUND"
	ErrorTypeConflict   ErrorType = "CONFLICT"
	ErrorTypeExternal   ErrorType = "EXTERNAL_API_ERROR"
	ErrorTypeInternal   ErrorType = "INTERNAL_ERROR"
)

// APIError is the JSON error body returned by the HTTP layer.
type APIError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Detail  any       `json:"detail,omitempty"`
}

func (e *APIError) Error() string {
	return e.Message
}

func NewValidationError(message string) *APIError {
	return &APIError{Type: ErrorTypeValidation, Message: message}
}

func NewNotFoundError(message string) *APIError {
	return &APIError{Type: ErrorTypeNotFound, Message: "Not Found", Detail: message}
}

func NewConflictError(err error) *APIError {
	return &APIError{Type: ErrorTypeConflict, Message: "Conflict", Detail: err.Error()}
}

func NewExternalError(service string, err error) *APIError {
	return &APIError{
		Type:    ErrorTypeExternal,
		Message: fmt.Sprintf("Error from external service (%s)", service),
		Detail:  err.Error(),
	}
}

// NewInternalError keeps the failing operation in the detail so clients can
// tell which query broke.
func NewInternalError(op string, err error) *APIError {
	return &APIError{
		Type:    ErrorTypeInternal,
		Message: "Internal server error",
		Detail:  fmt.Sprintf("Failed to %s: %v", op, err),
	}
}
