package server

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/reel/internal/config"
	reelerrors "github.com/zsiec/reel/internal/errors"
	"github.com/zsiec/reel/internal/health"
	"github.com/zsiec/reel/internal/logger"
	"github.com/zsiec/reel/internal/media/synthetic"
	"github.com/zsiec/reel/internal/playback"
	"github.com/zsiec/reel/internal/registry"
)

func TestPlaybackOverAPI(t *testing.T) {
	cfg := config.Default()
	reg := registry.NewMemoryRegistry()
	src := synthetic.NewSource(map[string]synthetic.Spec{
		"/clip.mp4": synthetic.VideoSpec(2, 25),
	})
	mgr := playback.NewManager(cfg, playback.Options{
		Source:   src,
		Registry: reg,
		Logger:   logger.NewNullLogger(),
		Virtual:  true,
	})
	t.Cleanup(func() { _ = mgr.Close() })

	s := New(&cfg.Server, logger.NewNullLogger(), Options{
		Player:   mgr,
		Registry: reg,
		Checkers: []health.Checker{health.NewPlaybackChecker(mgr)},
	})

	rec := do(t, s, http.MethodPost, "/api/v1/player/start", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/v1/player/open", `{"path":"/missing.mp4"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, reelerrors.ErrorTypeOpenFileFailed, decodeError(t, rec).Error.Type)

	rec = do(t, s, http.MethodPost, "/api/v1/player/open", `{"path":"/clip.mp4"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decodeStatus(t, rec)
	assert.Equal(t, "opened", st.State)
	assert.True(t, st.ValidVideo)
	assert.False(t, st.ValidAudio)
	assert.InDelta(t, 2.0, st.Duration, 0.05)

	rec = do(t, s, http.MethodPost, "/api/v1/player/start", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	id := decodeStatus(t, rec).SessionID
	require.NotEmpty(t, id)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, mgr.Wait(ctx))

	rec = do(t, s, http.MethodGet, "/api/v1/player/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	st = decodeStatus(t, rec)
	assert.Equal(t, "stopped", st.State)
	require.NotNil(t, st.Stats.Clock)
	assert.InDelta(t, 50, st.Stats.Clock.Presented, 1)

	rec = do(t, s, http.MethodGet, "/api/v1/sessions/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var session registry.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	assert.Equal(t, registry.StatusStopped, session.Status)
	assert.Equal(t, "/clip.mp4", session.Path)

	rec = do(t, s, http.MethodPost, "/api/v1/player/seek", `{"position":1}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}
