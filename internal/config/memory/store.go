// Package memory provides an in-memory config.Store implementation.
// Intended for tests and demo mode. Configuration is not persisted across
// restarts.
package memory

import (
	"context"
	"sync"

	"contentengine/internal/config"
)

// Store is an in-memory config.Store implementation.
type Store struct {
	mu  sync.RWMutex
	cfg *config.Config // nil until the first Save
}

var _ config.Store = (*Store)(nil)

// NewStore creates a new in-memory config.Store.
func NewStore() *Store {
	return &Store{}
}

// Load returns a deep copy of the stored configuration, or nil if Save has
// never been called.
func (s *Store) Load(ctx context.Context) (*config.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.cfg == nil {
		return nil, nil
	}
	c := deepCopy(s.cfg)
	return &c, nil
}

// Save stores a deep copy of cfg, replacing whatever was there before.
func (s *Store) Save(ctx context.Context, cfg *config.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := deepCopy(cfg)
	s.cfg = &c
	return nil
}

// deepCopy clones cfg so neither the caller nor the Store can mutate the
// other's copy through shared slices or pointers.
func deepCopy(cfg *config.Config) config.Config {
	out := config.Config{}

	if cfg.Sources != nil {
		out.Sources = append([]config.SourceConfig(nil), cfg.Sources...)
	}
	if cfg.ArticleJob != nil {
		j := copyJobConfig(*cfg.ArticleJob)
		out.ArticleJob = &j
	}
	if cfg.VideoJob != nil {
		j := copyJobConfig(*cfg.VideoJob)
		out.VideoJob = &j
	}
	if cfg.Keys != nil {
		out.Keys = append([]config.KeyConfig(nil), cfg.Keys...)
	}
	if cfg.ClassifierEndpoints != nil {
		out.ClassifierEndpoints = append([]config.ClassifierEndpointConfig(nil), cfg.ClassifierEndpoints...)
	}
	return out
}

func copyJobConfig(j config.JobConfig) config.JobConfig {
	out := j
	if j.Queries != nil {
		out.Queries = make([]config.QueryConfig, len(j.Queries))
		for i, q := range j.Queries {
			qc := q
			if q.Since != nil {
				t := *q.Since
				qc.Since = &t
			}
			if q.Until != nil {
				t := *q.Until
				qc.Until = &t
			}
			if q.Hashtags != nil {
				qc.Hashtags = append([]string(nil), q.Hashtags...)
			}
			out.Queries[i] = qc
		}
	}
	return out
}
