package prodeauth

import "net/http"

// Error codes returned to HTTP callers.
const (
	ErrCodeMissingField    = "missing_field"
	ErrCodeInvalidEmail    = "invalid_email"
	ErrCodeInvalidCreds    = "invalid_credentials"
	ErrCodeWeakPassword    = "weak_password"
	ErrCodeEmailExists     = "email_exists"
	ErrCodeRateLimited     = "rate_limited"
	ErrCodeNoActiveCode    = "no_active_code"
	ErrCodeExpired         = "expired"
	ErrCodeTooManyAttempts = "too_many_attempts"
	ErrCodeMismatch        = "mismatch"
	ErrCodeNotFound        = "not_found"
	ErrCodeInvalidToken    = "invalid_token"
)

// AuthError carries a machine-readable code and the form field it applies
// to, for rendering errors next to the right input.
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
	Field   string `json:"field,omitempty"`
}

func (e *AuthError) Error() string {
	return e.Message
}

func NewAuthError(code, message, field string) *AuthError {
	return &AuthError{Code: code, Message: message, Field: field}
}

// AuthErrorHandler lets applications override how auth failures are
// rendered. Returning true means the handler wrote the response.
type AuthErrorHandler func(err *AuthError, w http.ResponseWriter, r *http.Request) bool
