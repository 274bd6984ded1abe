package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents an error code
type ErrorCode string

const (
	// General errors
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeConflict     ErrorCode = "CONFLICT"

	// Session lifecycle errors
	ErrCodeAlreadyActive ErrorCode = "ALREADY_ACTIVE"
	ErrCodeNotActive     ErrorCode = "NOT_ACTIVE"

	// Fatal start errors
	ErrCodeMediaAcquisition ErrorCode = "MEDIA_ACQUISITION_FAILED"
	ErrCodeTransportOpen    ErrorCode = "TRANSPORT_OPEN_FAILED"
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"

	// Peer errors
	ErrCodeUnknownPeer       ErrorCode = "UNKNOWN_PEER"
	ErrCodeNegotiationFailed ErrorCode = "NEGOTIATION_FAILED"
	ErrCodeRegistryClosed    ErrorCode = "REGISTRY_CLOSED"

	// Signaling errors
	ErrCodeTransportError ErrorCode = "TRANSPORT_ERROR"
	ErrCodeChannelLookup  ErrorCode = "CHANNEL_LOOKUP_FAILED"

	// Protocol errors
	ErrCodeInvalidMessage ErrorCode = "INVALID_MESSAGE"
	ErrCodeInvalidRole    ErrorCode = "INVALID_ROLE"
)

// AppError represents an application error
type AppError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches any AppError carrying the same code, so sentinels work with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying cause
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: getHTTPStatus(code),
	}
}

// NewAppErrorf creates a new application error with formatting
func NewAppErrorf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		HTTPStatus: getHTTPStatus(code),
	}
}

func getHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound, ErrCodeUnknownPeer, ErrCodeNotActive:
		return http.StatusNotFound
	case ErrCodeConflict, ErrCodeAlreadyActive, ErrCodeRegistryClosed:
		return http.StatusConflict
	case ErrCodeInvalidInput, ErrCodeInvalidMessage, ErrCodeInvalidRole, ErrCodeInvalidConfig:
		return http.StatusBadRequest
	case ErrCodeTransportOpen, ErrCodeTransportError, ErrCodeChannelLookup:
		return http.StatusBadGateway
	case ErrCodeMediaAcquisition:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// IsAppError checks if an error is, or wraps, an AppError
func IsAppError(err error) bool {
	_, ok := AsAppError(err)
	return ok
}

// AsAppError finds the first AppError in err's chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err carries an AppError with the given code.
func HasCode(err error, code ErrorCode) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}

// IsFatalStart reports whether err aborts a session start.
func IsFatalStart(err error) bool {
	appErr, ok := AsAppError(err)
	if !ok {
		return false
	}
	switch appErr.Code {
	case ErrCodeMediaAcquisition, ErrCodeTransportOpen, ErrCodeInvalidConfig, ErrCodeInvalidRole, ErrCodeChannelLookup:
		return true
	}
	return false
}

// StatusCode returns the HTTP status to report for err.
func StatusCode(err error) int {
	if appErr, ok := AsAppError(err); ok && appErr.HTTPStatus != 0 {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// WrapError wraps a standard error as an AppError
func WrapError(code ErrorCode, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    err.Error(),
		HTTPStatus: getHTTPStatus(code),
		Cause:      err,
	}
}
