package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All handlers MUST use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationMissingField       ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidField       ErrorCode = "validation_invalid_field"
	ErrCodeValidationInvalidJSON        ErrorCode = "validation_invalid_json"
	ErrCodeValidationInvalidID          ErrorCode = "validation_invalid_id"
	ErrCodeValidationBatchSize          ErrorCode = "validation_batch_size_exceeded"
	ErrCodeValidationReadFilterRequired ErrorCode = "validation_read_filter_required"
	ErrCodeValidationForcedSubscription ErrorCode = "validation_forced_subscription"
	ErrCodeValidationSubscriptionOff    ErrorCode = "validation_subscription_disallowed"
	ErrCodeValidationSubscriptionMode   ErrorCode = "validation_invalid_subscription_mode"
	ErrCodeValidationTrackingOff        ErrorCode = "validation_tracking_unavailable"
	ErrCodeValidationChoiceClosed       ErrorCode = "validation_choice_closed"
	ErrCodeValidationChoiceOption       ErrorCode = "validation_choice_invalid_option"
	ErrCodeValidationChoiceFull         ErrorCode = "validation_choice_option_full"
	ErrCodeValidationChoiceMultiple     ErrorCode = "validation_choice_multiple_not_allowed"
	ErrCodeValidationChoiceUpdate       ErrorCode = "validation_choice_update_not_allowed"

	// Auth (401)
	ErrCodeAuthUserMissing ErrorCode = "auth_user_missing"

	// Permission (403)
	ErrCodePermissionCapability ErrorCode = "permission_capability_missing"

	// Not Found (404)
	ErrCodeNotFoundPost       ErrorCode = "not_found_post"
	ErrCodeNotFoundDiscussion ErrorCode = "not_found_discussion"
	ErrCodeNotFoundForum      ErrorCode = "not_found_forum"
	ErrCodeNotFoundCourse     ErrorCode = "not_found_course"
	ErrCodeNotFoundModule     ErrorCode = "not_found_course_module"
	ErrCodeNotFoundUser       ErrorCode = "not_found_user"
	ErrCodeNotFoundChoice     ErrorCode = "not_found_choice"

	// Conflict (409)
	ErrCodeConflictLockTimeout ErrorCode = "conflict_choice_lock_timeout"
	ErrCodeConflictConcurrent  ErrorCode = "conflict_concurrent_modification"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB            ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected    ErrorCode = "internal_unexpected_error"
	ErrCodeInternalCache         ErrorCode = "internal_cache_not_filled"
	ErrCodeUpstreamEmailProvider ErrorCode = "upstream_email_provider_unavailable"
	ErrCodeUpstreamLock          ErrorCode = "upstream_lock_unavailable"
	ErrCodeUpstreamEvents        ErrorCode = "upstream_event_sink_unavailable"
	ErrCodeUpstreamUnavailable   ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited   ErrorCode = "upstream_rate_limited"

	ErrCodeEmailBlocked ErrorCode = "email_blocked"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Used by the API layer to translate AppErrors into HTTP responses.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized // 401
	case strings.HasPrefix(s, "permission_"):
		return http.StatusForbidden // 403
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case s == string(ErrCodeConflictLockTimeout):
		return http.StatusServiceUnavailable // 503, client should try again
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict // 409
	case s == string(ErrCodeEmailBlocked):
		return http.StatusForbidden // 403
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	case strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// AppError is the standard application error type used throughout the platform.
// All domain and handler errors should be expressed as AppError to enable
// consistent error formatting, HTTP status mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with the given code, message,
// underlying error, and structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// IsCode reports whether err is, or wraps, an AppError carrying code.
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Code == code
}
