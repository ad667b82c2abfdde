package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/zsiec/reel/internal/config"
	"github.com/zsiec/reel/internal/logger"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
)

// Registry records playback sessions and their positions.
type Registry interface {
	Register(ctx context.Context, session *Session) error
	Unregister(ctx context.Context, sessionID string) error
	Get(ctx context.Context, sessionID string) (*Session, error)
	List(ctx context.Context) ([]*Session, error)
	UpdateStatus(ctx context.Context, sessionID string, status SessionStatus) error
	UpdatePosition(ctx context.Context, sessionID string, position float64) error
	Close() error
}

// New builds the backend named by cfg.Backend. client may be nil for the
// memory backend.
func New(cfg config.RegistryConfig, client redis.UniversalClient, log logger.Logger) (Registry, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryRegistry(), nil
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("registry: redis backend requires a redis client")
		}
		return NewRedisRegistry(client, cfg, log), nil
	default:
		return nil, fmt.Errorf("registry: unknown backend %q", cfg.Backend)
	}
}
