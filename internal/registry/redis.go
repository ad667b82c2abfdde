package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zsiec/reel/internal/config"
	"github.com/zsiec/reel/internal/logger"
)

const defaultKeyPrefix = "reel:sessions:"

var registerScript = redis.NewScript(`
	local key = KEYS[1]
	local active_key = KEYS[2]
	local data = ARGV[1]
	local ttl = tonumber(ARGV[2])
	local session_id = ARGV[3]
	local ok = redis.call('SET', key, data, 'PX', ttl, 'NX')
	if not ok then
		return 0
	end
	redis.call('SADD', active_key, session_id)
	return 1
`)

var unregisterScript = redis.NewScript(`
	redis.call('DEL', KEYS[1])
	redis.call('SREM', KEYS[2], ARGV[1])
	return 1
`)

// listScript returns every live record and prunes ids whose key expired.
var listScript = redis.NewScript(`
	local active_key = KEYS[1]
	local prefix = ARGV[1]
	local active = redis.call('SMEMBERS', active_key)
	local result = {}
	local to_remove = {}
	for i, id in ipairs(active) do
		local session = redis.call('GET', prefix .. id)
		if session then
			table.insert(result, session)
		else
			table.insert(to_remove, id)
		end
	end
	for i, id in ipairs(to_remove) do
		redis.call('SREM', active_key, id)
	end
	return result
`)

// updateScript sets one field and refreshes the heartbeat and the TTL.
var updateScript = redis.NewScript(`
	local key = KEYS[1]
	local ttl = tonumber(ARGV[1])
	local now = ARGV[2]
	local field = ARGV[3]
	local value = ARGV[4]
	local data = redis.call('GET', key)
	if not data then
		return redis.error_reply("session not found")
	end
	local session = cjson.decode(data)
	if field == "position" then
		session.position = tonumber(value)
	else
		session[field] = value
	end
	session.last_heartbeat = now
	redis.call('SET', key, cjson.encode(session), 'PX', ttl)
	return "OK"
`)

// RedisRegistry stores sessions as JSON documents with a TTL and tracks
// their ids in an active set.
type RedisRegistry struct {
	client redis.UniversalClient
	logger logger.Logger
	prefix string
	ttl    time.Duration
}

func NewRedisRegistry(client redis.UniversalClient, cfg config.RegistryConfig, log logger.Logger) *RedisRegistry {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisRegistry{
		client: client,
		logger: log.WithField("component", "session_registry"),
		prefix: prefix,
		ttl:    ttl,
	}
}

func (r *RedisRegistry) activeKey() string {
	return r.prefix + "active"
}

func (r *RedisRegistry) Register(ctx context.Context, session *Session) error {
	s := session.Clone()
	now := time.Now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.LastHeartbeat = now

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	created, err := registerScript.Run(ctx, r.client,
		[]string{r.prefix + s.ID, r.activeKey()},
		data, r.ttl.Milliseconds(), s.ID).Int()
	if err != nil {
		return fmt.Errorf("failed to register session: %w", err)
	}
	if created == 0 {
		return ErrSessionExists
	}

	r.logger.WithFields(map[string]interface{}{
		"session_id": s.ID,
		"path":       s.Path,
	}).Debug("Session registered")
	return nil
}

func (r *RedisRegistry) Unregister(ctx context.Context, sessionID string) error {
	err := unregisterScript.Run(ctx, r.client,
		[]string{r.prefix + sessionID, r.activeKey()}, sessionID).Err()
	if err != nil {
		return fmt.Errorf("failed to unregister session: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := r.client.Get(ctx, r.prefix+sessionID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &s, nil
}

// List returns live sessions ordered by creation time. Malformed records
// are skipped.
func (r *RedisRegistry) List(ctx context.Context) ([]*Session, error) {
	res, err := listScript.Run(ctx, r.client, []string{r.activeKey()}, r.prefix).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected result type from script")
	}

	sessions := make([]*Session, 0, len(values))
	for _, val := range values {
		data, ok := val.(string)
		if !ok {
			r.logger.Warn("Invalid data type in result")
			continue
		}
		var s Session
		if err := json.Unmarshal([]byte(data), &s); err != nil {
			r.logger.WithError(err).Warn("Failed to unmarshal session")
			continue
		}
		sessions = append(sessions, &s)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions, nil
}

func (r *RedisRegistry) UpdateStatus(ctx context.Context, sessionID string, status SessionStatus) error {
	return r.update(ctx, sessionID, "status", string(status))
}

func (r *RedisRegistry) UpdatePosition(ctx context.Context, sessionID string, position float64) error {
	return r.update(ctx, sessionID, "position", fmt.Sprintf("%.6f", position))
}

func (r *RedisRegistry) update(ctx context.Context, sessionID, field, value string) error {
	now := time.Now().Format(time.RFC3339Nano)
	err := updateScript.Run(ctx, r.client, []string{r.prefix + sessionID},
		r.ttl.Milliseconds(), now, field, value).Err()
	if err != nil {
		if strings.Contains(err.Error(), "session not found") {
			return ErrSessionNotFound
		}
		return fmt.Errorf("failed to update %s: %w", field, err)
	}
	return nil
}

// Close is a no-op; the client is owned by the caller.
func (r *RedisRegistry) Close() error {
	return nil
}
