package schema

// APIError is the body of every error response of the API.
type APIError struct {
	Code    any    `json:"code,omitempty"`
	Message string `json:"message"`
	Type    string `json:"type"`
	// Errors lists every validation failure, in field display order
	Errors []string `json:"errors,omitempty"`
}

type ErrorResponse struct {
	Error *APIError `json:"error,omitempty"`
}

const (
	ErrorTypeInvalidRequest = "invalid_request_error"
	ErrorTypeNotFound       = "not_found_error"
	ErrorTypeAuthentication = "authentication_error"
	ErrorTypeGeneration     = "generation_error"
	ErrorTypeServer         = "server_error"
)
