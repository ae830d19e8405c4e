// Package types provides common error types for proper error propagation
package types

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode represents standardized error codes across the application
type ErrorCode string

const (
	// General errors
	ErrorCodeUnknown    ErrorCode = "UNKNOWN_ERROR"
	ErrorCodeInternal   ErrorCode = "INTERNAL_ERROR"
	ErrorCodeValidation ErrorCode = "VALIDATION_ERROR"
	ErrorCodeNotFound   ErrorCode = "NOT_FOUND"
	ErrorCodeConflict   ErrorCode = "CONFLICT"
	ErrorCodeTimeout    ErrorCode = "TIMEOUT"
	ErrorCodeCancelled  ErrorCode = "CANCELLED"

	// Library and scan errors
	ErrorCodeLibraryNotFound        ErrorCode = "LIBRARY_NOT_FOUND"
	ErrorCodeScanNotFound           ErrorCode = "SCAN_NOT_FOUND"
	ErrorCodeScanAlreadyRunning     ErrorCode = "SCAN_ALREADY_RUNNING"
	ErrorCodeScanNotResumable       ErrorCode = "SCAN_NOT_RESUMABLE"
	ErrorCodeScanCheckpointConflict ErrorCode = "SCAN_CHECKPOINT_CONFLICT"

	// Media errors
	ErrorCodeMediaNotFound     ErrorCode = "MEDIA_NOT_FOUND"
	ErrorCodeMediaUnsupported  ErrorCode = "MEDIA_UNSUPPORTED"
	ErrorCodeMediaAccessDenied ErrorCode = "MEDIA_ACCESS_DENIED"

	// Playback errors
	ErrorCodePlaybackRefused     ErrorCode = "PLAYBACK_REFUSED"
	ErrorCodeSessionNotFound     ErrorCode = "SESSION_NOT_FOUND"
	ErrorCodeSessionExpired      ErrorCode = "SESSION_EXPIRED"
	ErrorCodeSessionLimitReached ErrorCode = "SESSION_LIMIT_REACHED"
	ErrorCodeSeekOutOfRange      ErrorCode = "SEEK_OUT_OF_RANGE"

	// Transcoding errors
	ErrorCodeTranscodingFailed      ErrorCode = "TRANSCODING_FAILED"
	ErrorCodeTranscodingUnavailable ErrorCode = "TRANSCODING_UNAVAILABLE"
	ErrorCodeTranscodingTimeout     ErrorCode = "TRANSCODING_TIMEOUT"
	ErrorCodeFFmpegNotFound         ErrorCode = "FFMPEG_NOT_FOUND"
	ErrorCodeFFmpegFailed           ErrorCode = "FFMPEG_FAILED"
	ErrorCodeFFmpegKilled           ErrorCode = "FFMPEG_KILLED"

	// Playlist errors
	ErrorCodeGeneratorNotFound  ErrorCode = "GENERATOR_NOT_FOUND"
	ErrorCodeGeneratorExpired   ErrorCode = "GENERATOR_EXPIRED"
	ErrorCodeGeneratorExhausted ErrorCode = "GENERATOR_EXHAUSTED"

	// Subtitle and trickplay errors
	ErrorCodeSubtitleFormatUnknown    ErrorCode = "SUBTITLE_FORMAT_UNKNOWN"
	ErrorCodeSubtitleExtractionFailed ErrorCode = "SUBTITLE_EXTRACTION_FAILED"
	ErrorCodeTrickplayNotFound        ErrorCode = "TRICKPLAY_NOT_FOUND"
	ErrorCodeTrickplayCorrupt         ErrorCode = "TRICKPLAY_CORRUPT"

	// Plugin errors
	ErrorCodePluginNotFound ErrorCode = "PLUGIN_NOT_FOUND"
	ErrorCodePluginFailed   ErrorCode = "PLUGIN_FAILED"
	ErrorCodePluginTimeout  ErrorCode = "PLUGIN_TIMEOUT"

	// Resource errors
	ErrorCodeResourceExhausted ErrorCode = "RESOURCE_EXHAUSTED"
	ErrorCodeDiskFull          ErrorCode = "DISK_FULL"
)

// ErrorSeverity indicates the severity of an error
type ErrorSeverity string

const (
	SeverityInfo     ErrorSeverity = "info"
	SeverityWarning  ErrorSeverity = "warning"
	SeverityError    ErrorSeverity = "error"
	SeverityCritical ErrorSeverity = "critical"
)

// AppError represents a structured error with metadata
type AppError struct {
	Code        ErrorCode              `json:"code"`
	Message     string                 `json:"message"`
	Details     string                 `json:"details,omitempty"`
	Severity    ErrorSeverity          `json:"severity"`
	HTTPStatus  int                    `json:"http_status"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	UserMessage string                 `json:"user_message,omitempty"`
	Retryable   bool                   `json:"retryable"`
	RetryAfter  *time.Duration         `json:"retry_after,omitempty"`

	Cause       error  `json:"-"`
	CauseString string `json:"cause,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithUserMessage sets a user-friendly error message
func (e *AppError) WithUserMessage(message string) *AppError {
	e.UserMessage = message
	return e
}

// WithRetryAfter marks the error as retryable after a specific duration
func (e *AppError) WithRetryAfter(duration time.Duration) *AppError {
	e.Retryable = true
	e.RetryAfter = &duration
	return e
}

// ToJSON converts the error to JSON
func (e *AppError) ToJSON() []byte {
	data, _ := json.Marshal(e)
	return data
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Severity:   SeverityError,
		HTTPStatus: httpStatus,
		Timestamp:  time.Now(),
		Retryable:  false,
	}
}

// NewAppErrorWithCause creates an error with an underlying cause
func NewAppErrorWithCause(code ErrorCode, message string, httpStatus int, cause error) *AppError {
	err := NewAppError(code, message, httpStatus)
	err.Cause = cause
	if cause != nil {
		err.CauseString = cause.Error()
	}
	return err
}

// NewValidationError creates a validation error
func NewValidationError(message string, details ...string) *AppError {
	err := NewAppError(ErrorCodeValidation, message, http.StatusBadRequest)
	if len(details) > 0 {
		err.Details = details[0]
	}
	err.Severity = SeverityWarning
	return err
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *AppError {
	return NewAppError(
		ErrorCodeNotFound,
		fmt.Sprintf("%s not found", resource),
		http.StatusNotFound,
	).WithContext("resource", resource).WithContext("id", id)
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *AppError {
	err := NewAppErrorWithCause(ErrorCodeInternal, message, http.StatusInternalServerError, cause)
	err.Severity = SeverityCritical
	return err
}

// NewPlaybackRefusedError creates the error payload the decision engine
// returns instead of a stream plan
func NewPlaybackRefusedError(message string, cause error) *AppError {
	err := NewAppErrorWithCause(ErrorCodePlaybackRefused, message, http.StatusUnprocessableEntity, cause)
	err.Severity = SeverityWarning
	return err
}

// NewTranscodingError creates a transcoding-specific error
func NewTranscodingError(code ErrorCode, message string, cause error) *AppError {
	err := NewAppErrorWithCause(code, message, http.StatusInternalServerError, cause)
	err.Severity = SeverityError
	err.Retryable = isRetryableCode(code)
	return err
}

// NewPluginError creates a plugin-specific error
func NewPluginError(pluginID string, code ErrorCode, message string, cause error) *AppError {
	err := NewAppErrorWithCause(code, message, http.StatusServiceUnavailable, cause)
	err.WithContext("plugin", pluginID)
	err.Severity = SeverityError
	return err
}

func isRetryableCode(code ErrorCode) bool {
	switch code {
	case ErrorCodeTranscodingTimeout,
		ErrorCodeTranscodingUnavailable,
		ErrorCodeFFmpegKilled,
		ErrorCodeResourceExhausted:
		return true
	default:
		return false
	}
}

// HTTPStatusFromErrorCode maps error codes to HTTP status codes
func HTTPStatusFromErrorCode(code ErrorCode) int {
	switch code {
	case ErrorCodeValidation, ErrorCodeSeekOutOfRange:
		return http.StatusBadRequest
	case ErrorCodeNotFound, ErrorCodeLibraryNotFound, ErrorCodeScanNotFound,
		ErrorCodeMediaNotFound, ErrorCodeSessionNotFound,
		ErrorCodeGeneratorNotFound, ErrorCodeTrickplayNotFound:
		return http.StatusNotFound
	case ErrorCodeConflict, ErrorCodeScanAlreadyRunning, ErrorCodeScanCheckpointConflict:
		return http.StatusConflict
	case ErrorCodeSessionExpired, ErrorCodeGeneratorExpired:
		return http.StatusGone
	case ErrorCodePlaybackRefused, ErrorCodeMediaUnsupported:
		return http.StatusUnprocessableEntity
	case ErrorCodeTimeout, ErrorCodeTranscodingTimeout:
		return http.StatusGatewayTimeout
	case ErrorCodeCancelled:
		return http.StatusRequestTimeout
	case ErrorCodeResourceExhausted, ErrorCodeDiskFull,
		ErrorCodeTranscodingUnavailable, ErrorCodePluginNotFound:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Retryable
	}
	return false
}

// GetRetryAfter gets the retry-after duration from an error
func GetRetryAfter(err error) *time.Duration {
	if appErr, ok := err.(*AppError); ok {
		return appErr.RetryAfter
	}
	return nil
}
