package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaybackErrorsMatchSentinels(t *testing.T) {
	cause := errors.New("No such file or directory")

	tests := []struct {
		name     string
		err      *AppError
		sentinel *AppError
		status   int
	}{
		{"open file", NewOpenFileFailed("/tmp/x.mp4", cause), ErrOpenFileFailed, http.StatusUnprocessableEntity},
		{"stream info", NewStreamInfoNotFound(cause), ErrStreamInfoNotFound, http.StatusUnprocessableEntity},
		{"codec", NewCodecNotFound("vp9"), ErrCodecNotFound, http.StatusUnsupportedMediaType},
		{"open codec", NewOpenCodecFailed("h264", cause), ErrOpenCodecFailed, http.StatusInternalServerError},
		{"resampler", NewResamplerFailed(cause), ErrResamplerFailed, http.StatusInternalServerError},
		{"allocate", NewAllocateFrameFailed(cause), ErrAllocateFrameFailed, http.StatusInternalServerError},
		{"empty", NewEmptyStreams("audio"), ErrEmptyStreams, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("open session: %w", tt.err)

			assert.ErrorIs(t, wrapped, tt.sentinel)
			assert.Equal(t, tt.status, tt.err.HTTPStatus)
			assert.Equal(t, tt.sentinel.Type, TypeOf(wrapped))

			for _, other := range []*AppError{ErrOpenFileFailed, ErrCodecNotFound, ErrEmptyStreams} {
				if other.Type != tt.sentinel.Type {
					assert.NotErrorIs(t, wrapped, other)
				}
			}
		})
	}
}

func TestAppErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("Invalid data found when processing input")
	err := NewOpenCodecFailed("hevc", cause).WithStream("video")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, `OPEN_CODEC_FAILED [video]: failed to open decoder for "hevc" (caused by: Invalid data found when processing input)`, err.Error())
}

func TestEmptyStreamsCarriesStream(t *testing.T) {
	err := NewEmptyStreams("video")
	assert.Equal(t, "video", err.Stream)
	assert.Equal(t, `EMPTY_STREAMS [video]: container has no usable video stream`, err.Error())
}

func TestGetAppError(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewValidationError("bad seek"))

	appErr, ok := GetAppError(err)
	require.True(t, ok)
	assert.Equal(t, ErrorTypeValidation, appErr.Type)
	assert.True(t, IsAppError(err))

	_, ok = GetAppError(errors.New("plain"))
	assert.False(t, ok)
	assert.Equal(t, ErrorType(""), TypeOf(errors.New("plain")))
}

func TestCommonConstructors(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, NewValidationError("x").HTTPStatus)
	assert.Equal(t, "session not found", NewNotFoundError("session").Message)
	assert.Equal(t, http.StatusConflict, NewConflictError("x").HTTPStatus)
	assert.Equal(t, http.StatusRequestTimeout, NewTimeoutError("x").HTTPStatus)
	assert.Equal(t, http.StatusServiceUnavailable, NewServiceDownError("redis").HTTPStatus)
	assert.Equal(t, map[string]interface{}{"a": 1}, NewInternalError("x").WithDetails(map[string]interface{}{"a": 1}).Details)
}
