// Package redismirror mirrors keypool.Summary snapshots into Redis so a
// separate dashboard process can read live key-pool health without calling
// back into the engine process. It is purely observational: nothing in the
// engine ever reads rotation decisions back out of Redis.
package redismirror

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"contentengine/internal/keypool"
	"contentengine/internal/logging"
)

// Mirror writes keypool.Summary snapshots to a single Redis key as JSON.
type Mirror struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	logger *slog.Logger
}

// Config configures a Mirror.
type Config struct {
	Client *redis.Client
	// Key is the Redis key the snapshot is written to, e.g. "contentengine:keypool:youtube".
	Key string
	// TTL bounds how long a stale snapshot survives a process crash before
	// a dashboard reads it as absent rather than outdated. Zero disables expiry.
	TTL    time.Duration
	Logger *slog.Logger
}

// New builds a Mirror. Client must be non-nil.
func New(cfg Config) *Mirror {
	return &Mirror{
		client: cfg.Client,
		key:    cfg.Key,
		ttl:    cfg.TTL,
		logger: logging.Default(cfg.Logger),
	}
}

// Mirror implements keypool.StatusMirror. Errors are logged, not returned:
// this sink is advisory and must never affect rotation decisions.
func (m *Mirror) Mirror(ctx context.Context, s keypool.Summary) {
	payload, err := json.Marshal(s)
	if err != nil {
		m.logger.Error("keypool mirror: marshal failed", "component", "keypool.redismirror", "error", err)
		return
	}
	if err := m.client.Set(ctx, m.key, payload, m.ttl).Err(); err != nil {
		m.logger.Warn("keypool mirror: redis write failed", "component", "keypool.redismirror", "error", err)
	}
}
