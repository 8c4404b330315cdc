package apierror

import (
	"encoding/json"
	"net/http"
)

// Error represents a structured API error response.
type Error struct {
	StatusCode int          `json:"-"`
	Code       string       `json:"code"`
	Message    string       `json:"message"`
	Details    []FieldError `json:"details,omitempty"`
}

// FieldError represents a validation error for a specific field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// WithDetails adds field-level error details.
func (e *Error) WithDetails(details ...FieldError) *Error {
	e.Details = details
	return e
}

// ToJSON converts the error to JSON bytes.
func (e *Error) ToJSON() []byte {
	response := map[string]interface{}{
		"success": false,
		"error": map[string]interface{}{
			"code":    e.Code,
			"message": e.Message,
		},
	}

	if len(e.Details) > 0 {
		response["error"].(map[string]interface{})["details"] = e.Details
	}

	data, _ := json.Marshal(response)
	return data
}

// BadRequest creates a 400 Bad Request error.
func BadRequest(message string) *Error {
	return &Error{
		StatusCode: http.StatusBadRequest,
		Code:       "BAD_REQUEST",
		Message:    message,
	}
}

// Validation creates a 400 error for malformed input. Validation errors are
// resolved locally and never reach the store.
func Validation(message string, details ...FieldError) *Error {
	return &Error{
		StatusCode: http.StatusBadRequest,
		Code:       "VALIDATION_ERROR",
		Message:    message,
		Details:    details,
	}
}

// StockConflict creates a 409 error for a mutation the store rejected because
// local quantity assumptions were stale. Callers should refresh before retrying.
func StockConflict(message string) *Error {
	return &Error{
		StatusCode: http.StatusConflict,
		Code:       "STOCK_CONFLICT",
		Message:    message,
	}
}

// Connectivity creates a 503 error for a mutation refused while the change
// channel is unreachable. No network call was attempted.
func Connectivity(message string) *Error {
	if message == "" {
		message = "Connection to the inventory store is unavailable"
	}
	return &Error{
		StatusCode: http.StatusServiceUnavailable,
		Code:       "CONNECTIVITY_ERROR",
		Message:    message,
	}
}

// Persistence creates a 502 error for a partially applied two-step write
// (batch mutation succeeded, audit write failed, or vice versa).
func Persistence(message string) *Error {
	return &Error{
		StatusCode: http.StatusBadGateway,
		Code:       "PERSISTENCE_ERROR",
		Message:    message,
	}
}

// LoadFailed creates a 503 error reported while the initial full load has not
// completed. The engine stays in its load-error state until a retry succeeds.
func LoadFailed(message string) *Error {
	if message == "" {
		message = "Initial inventory load failed"
	}
	return &Error{
		StatusCode: http.StatusServiceUnavailable,
		Code:       "LOAD_ERROR",
		Message:    message,
	}
}

// Unauthorized creates a 401 Unauthorized error.
func Unauthorized(message string) *Error {
	if message == "" {
		message = "Authentication required"
	}
	return &Error{
		StatusCode: http.StatusUnauthorized,
		Code:       "UNAUTHORIZED",
		Message:    message,
	}
}

// NotFound creates a 404 Not Found error.
func NotFound(message string) *Error {
	if message == "" {
		message = "Resource not found"
	}
	return &Error{
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    message,
	}
}

// Conflict creates a 409 Conflict error.
func Conflict(message string) *Error {
	return &Error{
		StatusCode: http.StatusConflict,
		Code:       "CONFLICT",
		Message:    message,
	}
}

// InternalError creates a 500 Internal Server Error.
func InternalError(message string) *Error {
	if message == "" {
		message = "An unexpected error occurred"
	}
	return &Error{
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
	}
}
