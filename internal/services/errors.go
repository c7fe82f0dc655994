package services

import (
	"errors"
	"net/http"
)

// AuthError is a client-facing failure with a stable machine-readable code.
type AuthError struct {
	Status            int
	Code              string
	Message           string
	AttemptsRemaining *int
}

func (e *AuthError) Error() string {
	return e.Message
}

// Is matches any AuthError carrying the same code.
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	return ok && t.Code == e.Code
}

func newAuthError(status int, code, message string) *AuthError {
	return &AuthError{Status: status, Code: code, Message: message}
}

// Validation
var (
	ErrMissingFields    = newAuthError(http.StatusBadRequest, "MISSING_FIELDS", "Required fields are missing")
	ErrInvalidName      = newAuthError(http.StatusBadRequest, "INVALID_NAME", "Name must be at least 2 characters")
	ErrInvalidEmail     = newAuthError(http.StatusBadRequest, "INVALID_EMAIL", "Invalid email format")
	ErrWeakPassword     = newAuthError(http.StatusBadRequest, "WEAK_PASSWORD", "Password must be at least 6 characters")
	ErrEmailExists      = newAuthError(http.StatusBadRequest, "EMAIL_EXISTS", "Email already registered")
	ErrInvalidOTPFormat = newAuthError(http.StatusBadRequest, "INVALID_OTP_FORMAT", "OTP must be 6 digits")
)

// Credentials / sessions
var (
	ErrInvalidCredentials = newAuthError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password")
	ErrMissingToken       = newAuthError(http.StatusUnauthorized, "MISSING_TOKEN", "Authorization token required")
	ErrInvalidToken       = newAuthError(http.StatusUnauthorized, "INVALID_TOKEN", "Invalid or expired token")
	ErrSessionExpired     = newAuthError(http.StatusUnauthorized, "SESSION_EXPIRED", "Session expired or not found")
	ErrUserNotFound       = newAuthError(http.StatusNotFound, "USER_NOT_FOUND", "User not found")

	// Logout reads the token from the body, so a missing one is a validation error.
	ErrLogoutTokenRequired = newAuthError(http.StatusBadRequest, "MISSING_TOKEN", "Token is required")
	ErrSessionNotFound     = newAuthError(http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found")
)

// OTP
var (
	ErrOTPNotFound     = newAuthError(http.StatusNotFound, "OTP_NOT_FOUND", "No valid OTP found for this email")
	ErrOTPExpired      = newAuthError(http.StatusBadRequest, "OTP_EXPIRED", "OTP has expired")
	ErrTooManyAttempts = newAuthError(http.StatusBadRequest, "TOO_MANY_ATTEMPTS", "Too many failed attempts. Please request a new OTP.")
	ErrInvalidOTP      = newAuthError(http.StatusBadRequest, "INVALID_OTP", "Invalid OTP")
	ErrOTPRateLimited  = newAuthError(http.StatusTooManyRequests, "OTP_RATE_LIMITED", "Please wait before requesting another OTP")
)

// ServerErrorCode labels failures that are not AuthErrors.
const ServerErrorCode = "SERVER_ERROR"

func invalidOTP(remaining int) *AuthError {
	if remaining < 0 {
		remaining = 0
	}
	err := *ErrInvalidOTP
	err.AttemptsRemaining = &remaining
	return &err
}

// ErrorCode returns the client code carried by err, or SERVER_ERROR.
func ErrorCode(err error) string {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Code
	}
	return ServerErrorCode
}
