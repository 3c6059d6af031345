package middleware

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the JSON body of every error answered by the server.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains detailed error information.
type ErrorDetail struct {
	// Message is a human-readable error message.
	Message string `json:"message"`

	// Type categorizes the error.
	Type string `json:"type"`
}

// Error type constants.
const (
	// ErrorTypeInvalidRequest indicates a malformed request (400).
	ErrorTypeInvalidRequest = "invalid_request_error"

	// ErrorTypeRateLimitExceeded indicates the request was rejected (429).
	ErrorTypeRateLimitExceeded = "rate_limit_exceeded"

	// ErrorTypeServerError indicates an internal error (500).
	ErrorTypeServerError = "internal_error"

	// ErrorTypeServiceUnavailable indicates the check could not complete (503).
	ErrorTypeServiceUnavailable = "service_unavailable"
)

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, code int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error: ErrorDetail{Message: message, Type: errType},
	})
}
