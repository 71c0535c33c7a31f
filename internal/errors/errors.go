package errors

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// APIError represents a structured API error response
type APIError struct {
	StatusCode int         `json:"status_code"`
	ErrorCode  string      `json:"error_code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// Render implements the render.Renderer interface for chi/render
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

// New creates a new APIError with the given parameters
func New(statusCode int, errorCode, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
	}
}

// NewWithDetails creates a new APIError with additional details
func NewWithDetails(statusCode int, errorCode, message string, details interface{}) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
		Details:    details,
	}
}

// Error codes surfaced by the ingestion core. All are terminal for the
// current request; nothing here is retried internally.
const (
	CodeIncorrectContentType = "INCORRECT_CONTENT_TYPE"
	CodePayloadTooLarge      = "PAYLOAD_TOO_LARGE"
	CodeTransportFailure     = "TRANSPORT_FAILURE"
	CodeValidationError      = "VALIDATION_ERROR"
)

// Predefined error types for common scenarios
var (
	ErrInvalidRequest = New(http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format")
	ErrNotFound       = New(http.StatusNotFound, "NOT_FOUND", "Resource not found")
	ErrInternalServer = New(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "Internal server error")
)

// IncorrectContentType creates a 415 rejection carrying the declared type
// and the allow-list it failed against.
func IncorrectContentType(declared string, allowed []string) *APIError {
	return NewWithDetails(
		http.StatusUnsupportedMediaType,
		CodeIncorrectContentType,
		"Unsupported content type",
		map[string]interface{}{
			"content_type": declared,
			"allowed":      allowed,
		},
	)
}

// PayloadTooLarge creates a 413 rejection. The declared-length and the
// observed-length variants collapse to this one kind.
func PayloadTooLarge(limit, size int64) *APIError {
	return NewWithDetails(
		http.StatusRequestEntityTooLarge,
		CodePayloadTooLarge,
		"Request body exceeds maximum allowed size",
		map[string]interface{}{
			"max_size": limit,
			"size":     size,
		},
	)
}

// TransportFailure creates a rejection for an abrupt error on the inbound
// byte stream while the body was being drained.
func TransportFailure(err error) *APIError {
	return NewWithDetails(
		http.StatusBadGateway,
		CodeTransportFailure,
		"Request body could not be read",
		err.Error(),
	)
}

// StorageFailure creates a rejection for a local write error while staging
// an upload to disk.
func StorageFailure(err error) *APIError {
	return NewWithDetails(
		http.StatusInternalServerError,
		CodeTransportFailure,
		"Upload could not be staged",
		err.Error(),
	)
}

// ValidationFailed creates a 400 shape-conformity rejection.
func ValidationFailed(message string, details interface{}) *APIError {
	return NewWithDetails(http.StatusBadRequest, CodeValidationError, message, details)
}

// ValidationError represents a single field-level validation failure
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// NewValidationErrors creates a validation error from multiple field failures
func NewValidationErrors(errors []ValidationError) *APIError {
	return NewWithDetails(
		http.StatusBadRequest,
		CodeValidationError,
		"Request validation failed",
		errors,
	)
}

// ErrorResponse represents a standard error response envelope
type ErrorResponse struct {
	Success bool      `json:"success"`
	Error   *APIError `json:"error"`
}

// NewErrorResponse creates a new error response
func NewErrorResponse(err *APIError) *ErrorResponse {
	return &ErrorResponse{
		Success: false,
		Error:   err,
	}
}

// Render implements the render.Renderer interface
func (e *ErrorResponse) Render(w http.ResponseWriter, r *http.Request) error {
	return e.Error.Render(w, r)
}

// WriteError writes an error response to the HTTP response writer
func WriteError(w http.ResponseWriter, err *APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.StatusCode)
	json.NewEncoder(w).Encode(NewErrorResponse(err))
}

// InternalError creates an internal server error with context
func InternalError(operation string, err error) *APIError {
	return NewWithDetails(
		http.StatusInternalServerError,
		"INTERNAL_SERVER_ERROR",
		fmt.Sprintf("Internal error during %s", operation),
		err.Error(),
	)
}
