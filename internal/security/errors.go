package security

import (
	"errors"
	"fmt"
)

// ReasonCode is a stable machine-readable code returned to callers. The HTTP
// layer maps codes to user-facing text; codes never change once published.
type ReasonCode string

const (
	ReasonUserNotFound       ReasonCode = "USER_NOT_FOUND"
	ReasonRoleNotFound       ReasonCode = "ROLE_NOT_FOUND"
	ReasonStateNotFound      ReasonCode = "STATE_NOT_FOUND"
	ReasonDistrictNotFound   ReasonCode = "DISTRICT_NOT_FOUND"
	ReasonAccountInactive    ReasonCode = "ACCOUNT_INACTIVE"
	ReasonAccountLocked      ReasonCode = "ACCOUNT_LOCKED"
	ReasonPermissionDenied   ReasonCode = "PERMISSION_DENIED"
	ReasonDistrictDenied     ReasonCode = "DISTRICT_ACCESS_DENIED"
	ReasonHierarchyViolation ReasonCode = "HIERARCHY_VIOLATION"
	ReasonIPBlocked          ReasonCode = "IP_BLOCKED"
	ReasonReauthRequired     ReasonCode = "REAUTH_REQUIRED"
	ReasonSessionNotFound    ReasonCode = "SESSION_NOT_FOUND"
	ReasonSessionExpired     ReasonCode = "SESSION_EXPIRED"
	ReasonInvalidCredentials ReasonCode = "INVALID_CREDENTIALS"
	ReasonMFARequired        ReasonCode = "MFA_REQUIRED"
	ReasonRateLimited        ReasonCode = "RATE_LIMITED"
	ReasonSystemError        ReasonCode = "SYSTEM_ERROR"
)

// Error carries a reason code alongside a human-readable message. Details are
// optional structured context (for example assigner/target levels on a
// hierarchy violation) and become part of the audit trail, never of the
// client response.
type Error struct {
	Code    ReasonCode
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New constructs a typed security error.
func New(code ReasonCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf constructs a typed security error with a formatted message.
func Newf(code ReasonCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetails attaches structured context and returns the same error.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// CodeOf extracts the reason code from err, falling back to SYSTEM_ERROR for
// infrastructure faults that carry no code.
func CodeOf(err error) ReasonCode {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ReasonSystemError
}

// IsCode reports whether err carries the given reason code.
func IsCode(err error, code ReasonCode) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}
