package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the type of error.
type ErrorType string

const (
	ErrorTypeValidation  ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound    ErrorType = "NOT_FOUND"
	ErrorTypeInternal    ErrorType = "INTERNAL_ERROR"
	ErrorTypeTimeout     ErrorType = "TIMEOUT"
	ErrorTypeConflict    ErrorType = "CONFLICT"
	ErrorTypeServiceDown ErrorType = "SERVICE_DOWN"

	// Playback setup failures.
	ErrorTypeOpenFileFailed      ErrorType = "OPEN_FILE_FAILED"
	ErrorTypeStreamInfoNotFound  ErrorType = "STREAM_INFO_NOT_FOUND"
	ErrorTypeCodecNotFound       ErrorType = "CODEC_NOT_FOUND"
	ErrorTypeOpenCodecFailed     ErrorType = "OPEN_CODEC_FAILED"
	ErrorTypeResamplerFailed     ErrorType = "RESAMPLER_FAILED"
	ErrorTypeAllocateFrameFailed ErrorType = "ALLOCATE_FRAME_FAILED"
	ErrorTypeEmptyStreams        ErrorType = "EMPTY_STREAMS"
)

// AppError represents an application error with additional context.
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Stream     string                 `json:"stream,omitempty"` // video or audio, when the error concerns one
	Details    map[string]interface{} `json:"details,omitempty"`
	HTTPStatus int                    `json:"-"`
	Err        error                  `json:"-"`
}

func (e *AppError) Error() string {
	msg := string(e.Type)
	if e.Stream != "" {
		msg += " [" + e.Stream + "]"
	}
	msg += ": " + e.Message
	if e.Err != nil {
		msg += fmt.Sprintf(" (caused by: %v)", e.Err)
	}
	return msg
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an AppError of the same type. It lets the
// sentinel values below match any error of their kind.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

// WithDetails adds details to the error.
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// WithStream records which elementary stream the error concerns.
func (e *AppError) WithStream(stream string) *AppError {
	e.Stream = stream
	return e
}

func New(errType ErrorType, message string, httpStatus int) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

func Wrap(err error, errType ErrorType, message string, httpStatus int) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// Sentinels for errors.Is.
var (
	ErrOpenFileFailed      = New(ErrorTypeOpenFileFailed, "failed to open file", http.StatusUnprocessableEntity)
	ErrStreamInfoNotFound  = New(ErrorTypeStreamInfoNotFound, "stream info not found", http.StatusUnprocessableEntity)
	ErrCodecNotFound       = New(ErrorTypeCodecNotFound, "codec not found", http.StatusUnsupportedMediaType)
	ErrOpenCodecFailed     = New(ErrorTypeOpenCodecFailed, "failed to open codec", http.StatusInternalServerError)
	ErrResamplerFailed     = New(ErrorTypeResamplerFailed, "failed to create resampler", http.StatusInternalServerError)
	ErrAllocateFrameFailed = New(ErrorTypeAllocateFrameFailed, "failed to allocate frame", http.StatusInternalServerError)
	ErrEmptyStreams        = New(ErrorTypeEmptyStreams, "no usable stream", http.StatusUnprocessableEntity)
)

func NewOpenFileFailed(path string, err error) *AppError {
	return Wrap(err, ErrorTypeOpenFileFailed, fmt.Sprintf("failed to open %q", path), http.StatusUnprocessableEntity)
}

func NewStreamInfoNotFound(err error) *AppError {
	return Wrap(err, ErrorTypeStreamInfoNotFound, "could not read stream info", http.StatusUnprocessableEntity)
}

func NewCodecNotFound(codec string) *AppError {
	return New(ErrorTypeCodecNotFound, fmt.Sprintf("no decoder for codec %q", codec), http.StatusUnsupportedMediaType)
}

func NewOpenCodecFailed(codec string, err error) *AppError {
	return Wrap(err, ErrorTypeOpenCodecFailed, fmt.Sprintf("failed to open decoder for %q", codec), http.StatusInternalServerError)
}

func NewResamplerFailed(err error) *AppError {
	return Wrap(err, ErrorTypeResamplerFailed, "failed to create resampler", http.StatusInternalServerError)
}

func NewAllocateFrameFailed(err error) *AppError {
	return Wrap(err, ErrorTypeAllocateFrameFailed, "failed to allocate frame", http.StatusInternalServerError)
}

func NewEmptyStreams(stream string) *AppError {
	return New(ErrorTypeEmptyStreams, fmt.Sprintf("container has no usable %s stream", stream), http.StatusUnprocessableEntity).WithStream(stream)
}

// Common error constructors.

func NewValidationError(message string) *AppError {
	return New(ErrorTypeValidation, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return New(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewInternalError(message string) *AppError {
	return New(ErrorTypeInternal, message, http.StatusInternalServerError)
}

func WrapInternalError(err error, message string) *AppError {
	return Wrap(err, ErrorTypeInternal, message, http.StatusInternalServerError)
}

func NewTimeoutError(message string) *AppError {
	return New(ErrorTypeTimeout, message, http.StatusRequestTimeout)
}

func NewConflictError(message string) *AppError {
	return New(ErrorTypeConflict, message, http.StatusConflict)
}

func NewServiceDownError(service string) *AppError {
	return New(ErrorTypeServiceDown, fmt.Sprintf("%s service is currently unavailable", service), http.StatusServiceUnavailable)
}

// IsAppError checks if err, or anything it wraps, is an AppError.
func IsAppError(err error) bool {
	_, ok := GetAppError(err)
	return ok
}

// GetAppError extracts the outermost AppError from err's chain.
func GetAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// TypeOf returns err's AppError type, or "" if it has none.
func TypeOf(err error) ErrorType {
	if appErr, ok := GetAppError(err); ok {
		return appErr.Type
	}
	return ""
}
