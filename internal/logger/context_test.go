package logger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextLogger(t *testing.T) {
	base, hook := newHooked(t)

	ctx := WithLogger(context.Background(), base.WithField("test", "value"))
	FromContext(ctx).Info("x")
	require.Len(t, hook.Entries, 1)
	assert.Equal(t, "value", hook.LastEntry().Data["test"])

	assert.IsType(t, &NullLogger{}, FromContext(context.Background()))
}

func TestContextRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-123")
	assert.Equal(t, "req-123", GetRequestID(ctx))
	assert.Empty(t, GetRequestID(context.Background()))
}

func TestRequestLoggerMiddleware(t *testing.T) {
	base, hook := newHooked(t)

	var gotID string
	handler := RequestLoggerMiddleware(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = GetRequestID(r.Context())
		FromContext(r.Context()).Info("inside")
	}))

	t.Run("generated id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/player/status", nil))

		assert.NotEmpty(t, gotID)
		assert.Equal(t, gotID, rec.Header().Get("X-Request-ID"))
		assert.Equal(t, "/api/v1/player/status", hook.LastEntry().Data["path"])
	})

	t.Run("propagated id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/player/seek", nil)
		req.Header.Set("X-Request-ID", "fixed")
		req.Header.Set("X-Forwarded-For", "10.0.0.1")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		assert.Equal(t, "fixed", gotID)
		assert.Equal(t, "fixed", hook.LastEntry().Data["request_id"])
		assert.Equal(t, "10.0.0.1", hook.LastEntry().Data["remote_ip"])
	})
}

func TestResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)

	_, err := rw.Write([]byte("ok"))
	require.NoError(t, err)
	rw.WriteHeader(http.StatusTeapot)

	assert.Equal(t, http.StatusOK, rw.StatusCode())
	assert.Equal(t, http.StatusOK, rec.Code)
}
