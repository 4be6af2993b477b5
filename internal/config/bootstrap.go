package config

import (
	"context"
	"time"

	"contentengine/internal/model"
)

// DefaultConfig returns the bootstrap configuration for first-run: a demo
// article source on a ten-minute interval, routing nowhere else. It plays
// the role the chatterbox-to-memory bootstrap plays in the teacher — an
// always-available default so the engine has something to schedule before
// an operator configures real sources.
func DefaultConfig() *Config {
	return &Config{
		Sources: []SourceConfig{
			{
				Name:       "demo",
				Kind:       model.SourceArticle,
				SourceType: model.SourceTypeArticlePublisher,
				Platform:   "demo",
			},
		},
		ArticleJob: &JobConfig{
			Queries: []QueryConfig{
				{Source: "demo", Size: 10, Limit: 10},
			},
			Interval:     10 * time.Minute,
			MaxInstances: 1,
		},
	}
}

// Bootstrap writes the default configuration to store. Call this when
// Load returns nil (no config exists).
func Bootstrap(ctx context.Context, store Store) error {
	return store.Save(ctx, DefaultConfig())
}
