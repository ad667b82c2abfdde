package registry

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/reel/internal/config"
	"github.com/zsiec/reel/internal/logger"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client, *RedisRegistry) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	registry := NewRedisRegistry(client, config.RegistryConfig{
		KeyPrefix: "test:sessions:",
		TTL:       5 * time.Minute,
	}, logger.NewNullLogger())

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client, registry
}

func TestRedisRegistry_Register(t *testing.T) {
	mr, _, registry := setupTestRedis(t)
	ctx := context.Background()

	session := &Session{
		ID:         "session-1",
		Path:       "/media/clip.mp4",
		Status:     StatusOpened,
		Duration:   10,
		VideoCodec: "h264",
		Width:      1920,
		Height:     1080,
		FrameRate:  25,
	}
	require.NoError(t, registry.Register(ctx, session))

	assert.True(t, mr.Exists("test:sessions:session-1"))
	members, err := mr.Members("test:sessions:active")
	require.NoError(t, err)
	assert.Equal(t, []string{"session-1"}, members)
	assert.InDelta(t, (5 * time.Minute).Seconds(), mr.TTL("test:sessions:session-1").Seconds(), 1)

	// The caller's record is not mutated.
	assert.True(t, session.CreatedAt.IsZero())

	got, err := registry.Get(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, "/media/clip.mp4", got.Path)
	assert.Equal(t, 1920, got.Width)
	assert.False(t, got.CreatedAt.IsZero())

	assert.ErrorIs(t, registry.Register(ctx, session), ErrSessionExists)
}

func TestRedisRegistry_UpdatePosition(t *testing.T) {
	mr, _, registry := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, registry.Register(ctx, &Session{ID: "s", Status: StatusPlaying, Width: 640}))
	before, err := registry.Get(ctx, "s")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, registry.UpdatePosition(ctx, "s", 12.5))

	raw, err := mr.Get("test:sessions:s")
	require.NoError(t, err)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	assert.Equal(t, 12.5, doc["position"])

	got, err := registry.Get(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, 12.5, got.Position)
	assert.Equal(t, 640, got.Width)
	assert.Equal(t, StatusPlaying, got.Status)
	assert.True(t, got.LastHeartbeat.After(before.LastHeartbeat))
}

func TestRedisRegistry_UpdateStatus(t *testing.T) {
	_, _, registry := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, registry.Register(ctx, &Session{ID: "s", Status: StatusOpened}))
	require.NoError(t, registry.UpdateStatus(ctx, "s", StatusStopped))

	got, err := registry.Get(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, got.Status)
	assert.False(t, got.Active())

	assert.ErrorIs(t, registry.UpdateStatus(ctx, "missing", StatusStopped), ErrSessionNotFound)
	assert.ErrorIs(t, registry.UpdatePosition(ctx, "missing", 1), ErrSessionNotFound)
}

func TestRedisRegistry_Unregister(t *testing.T) {
	mr, _, registry := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, registry.Register(ctx, &Session{ID: "s"}))
	require.NoError(t, registry.Unregister(ctx, "s"))

	assert.False(t, mr.Exists("test:sessions:s"))
	_, err := registry.Get(ctx, "s")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// Unregistering twice is harmless.
	require.NoError(t, registry.Unregister(ctx, "s"))
}

func TestRedisRegistry_ListPrunesExpired(t *testing.T) {
	mr, _, registry := setupTestRedis(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, registry.Register(ctx, &Session{
			ID:        id,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	sessions, err := registry.List(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	assert.Equal(t, "a", sessions[0].ID)
	assert.Equal(t, "c", sessions[2].ID)

	// Keep b alive, let the others expire.
	mr.FastForward(4 * time.Minute)
	require.NoError(t, registry.UpdatePosition(ctx, "b", 3))
	mr.FastForward(2 * time.Minute)

	sessions, err = registry.List(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "b", sessions[0].ID)

	members, err := mr.Members("test:sessions:active")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, members)
}

func TestRedisRegistry_ListSkipsMalformed(t *testing.T) {
	mr, _, registry := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, registry.Register(ctx, &Session{ID: "good"}))
	require.NoError(t, mr.Set("test:sessions:bad", "{not json"))
	_, err := mr.SAdd("test:sessions:active", "bad")
	require.NoError(t, err)

	sessions, err := registry.List(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "good", sessions[0].ID)
}

func TestNewSelectsBackend(t *testing.T) {
	log := logger.NewNullLogger()

	r, err := New(config.RegistryConfig{Backend: "memory"}, nil, log)
	require.NoError(t, err)
	assert.IsType(t, &MemoryRegistry{}, r)

	_, err = New(config.RegistryConfig{Backend: "redis"}, nil, log)
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	r, err = New(config.RegistryConfig{Backend: "redis"}, client, log)
	require.NoError(t, err)
	assert.IsType(t, &RedisRegistry{}, r)

	_, err = New(config.RegistryConfig{Backend: "etcd"}, nil, log)
	assert.Error(t, err)
}
