package authgate

import "errors"

// Error codes returned to callers. These are the full taxonomy of
// terminal outcomes for a single auth action; none are retried.
const (
	CodeValidationFailed    = "VALIDATION_FAILED"
	CodeDuplicateIdentifier = "DUPLICATE_IDENTIFIER"
	CodeInvalidCredentials  = "INVALID_CREDENTIALS"
	CodeInvalidSecondFactor = "INVALID_SECOND_FACTOR"
	CodeUnauthenticated     = "UNAUTHENTICATED"
	CodeExternalAuthFailed  = "EXTERNAL_AUTH_FAILED"
	CodeInternal            = "INTERNAL"
)

// AuthError is the structured error surfaced to HTTP callers.
// Field is set for validation errors so forms can highlight the
// offending input.
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (e *AuthError) Error() string {
	if e.Field != "" {
		return e.Code + " (" + e.Field + "): " + e.Message
	}
	return e.Code + ": " + e.Message
}

func NewAuthError(code, message, field string) *AuthError {
	return &AuthError{Code: code, Message: message, Field: field}
}

// invalidCredentialsMessage is deliberately identical whether the
// identifier is unknown, the account is not a local account, or the
// password does not match. Anything more specific enables account
// enumeration.
const invalidCredentialsMessage = "Invalid credentials"

func ErrInvalidCredentials() *AuthError {
	return NewAuthError(CodeInvalidCredentials, invalidCredentialsMessage, "")
}

// Store-level sentinels. Adapters translate their backend's uniqueness
// violations to ErrDuplicateIdentifier so the orchestrator can report
// DUPLICATE_IDENTIFIER even when the race is discovered at insert time.
var (
	ErrDuplicateIdentifier = errors.New("username or email already exists")
	ErrAccountNotFound     = errors.New("account not found")
)

// Token verification failure reasons. All three map to the same
// client-facing UNAUTHENTICATED outcome; the distinction exists for
// server-side logging and tests.
var (
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenSignature = errors.New("token signature invalid")
)
