package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/reel/internal/logger"
)

func TestHandleError(t *testing.T) {
	handler := NewErrorHandler(logger.NewNullLogger())

	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedType   ErrorType
		expectedStream string
	}{
		{
			name:           "validation",
			err:            NewValidationError("position must be >= 0"),
			expectedStatus: http.StatusBadRequest,
			expectedType:   ErrorTypeValidation,
		},
		{
			name:           "wrapped playback error",
			err:            fmt.Errorf("open: %w", NewEmptyStreams("video")),
			expectedStatus: http.StatusUnprocessableEntity,
			expectedType:   ErrorTypeEmptyStreams,
			expectedStream: "video",
		},
		{
			name:           "codec not found",
			err:            NewCodecNotFound("prores"),
			expectedStatus: http.StatusUnsupportedMediaType,
			expectedType:   ErrorTypeCodecNotFound,
		},
		{
			name:           "standard error",
			err:            errors.New("disk on fire"),
			expectedStatus: http.StatusInternalServerError,
			expectedType:   ErrorTypeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/player/open", nil)
			req.Header.Set("X-Request-ID", "trace-1")
			rec := httptest.NewRecorder()

			handler.HandleError(rec, req, tt.err)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.expectedType, resp.Error.Type)
			assert.Equal(t, tt.expectedStream, resp.Error.Stream)
			assert.Equal(t, "trace-1", resp.TraceID)
		})
	}
}

func TestHandleNotFoundAndMethodNotAllowed(t *testing.T) {
	handler := NewErrorHandler(nil)

	rec := httptest.NewRecorder()
	handler.HandleNotFound(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	handler.HandleMethodNotAllowed(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/player/open", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMiddlewareRecoversPanic(t *testing.T) {
	handler := NewErrorHandler(logger.NewNullLogger())
	h := handler.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("decoder exploded")
	}))

	rec := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
