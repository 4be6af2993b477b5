// Package postgres implements config.Store against a Postgres database
// using pgx for the connection pool, the same way internal/storage/postgres
// backs the content store: one singleton row holding the whole declarative
// Config as a jsonb document, since config.Store's contract is Load/Save
// the entire shape at once, not query individual fields.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"contentengine/internal/config"
	"contentengine/internal/logging"
)

// Store is a Postgres-backed config.Store.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ config.Store = (*Store)(nil)

// Config configures a Store.
type Config struct {
	Pool   *pgxpool.Pool
	Logger *slog.Logger
}

// New wraps an already-connected pgxpool.Pool. Callers are responsible for
// running migrations (see RunMigrations) before first use.
func New(cfg Config) (*Store, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("config/postgres: pool is required")
	}
	return &Store{
		pool:   cfg.Pool,
		logger: logging.Default(cfg.Logger).With("component", "config.postgres"),
	}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Load reads the singleton config row. Returns nil, nil if no row has ever
// been saved.
func (s *Store) Load(ctx context.Context) (*config.Config, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM engine_config WHERE id = 1`).Scan(&doc)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("config/postgres: load: %w", err)
	}
	var cfg config.Config
	if err := json.Unmarshal(doc, &cfg); err != nil {
		return nil, fmt.Errorf("config/postgres: unmarshal: %w", err)
	}
	return &cfg, nil
}

// Save upserts the singleton config row.
func (s *Store) Save(ctx context.Context, cfg *config.Config) error {
	doc, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config/postgres: marshal: %w", err)
	}
	const q = `
		INSERT INTO engine_config (id, doc, updated_at)
		VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`
	if _, err := s.pool.Exec(ctx, q, doc); err != nil {
		return fmt.Errorf("config/postgres: save: %w", err)
	}
	return nil
}
