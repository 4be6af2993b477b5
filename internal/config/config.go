// Package config provides configuration persistence for the acquisition
// engine.
//
// Store persists and reloads the desired system configuration across
// restarts. This is control-plane state, not data-plane state: it
// describes which sources exist, how the article and video jobs are
// scheduled, which API keys back each source's key pool, and which
// classifier endpoint each content kind dispatches to.
//
// Store does not:
//   - Inspect harvested content
//   - Perform routing or scheduling itself
//   - Watch for live changes (v1 is load-on-start plus the control
//     surface's explicit reconfigure operations; see internal/control)
package config

import (
	"context"
	"time"

	"contentengine/internal/model"
)

// Store persists and loads system configuration.
//
// Config describes the desired system shape. main loads config at startup
// and uses it to build the scheduler's jobs, the key pools, and the
// classifier dispatchers. Job changes made through the control surface
// apply to the running scheduler only; they are not saved back to the
// Store, so a restart starts again from the stored configuration.
//
// Store is not accessed on the harvest hot path. Persistence must not
// block a running job.
type Store interface {
	// Load reads the configuration. Returns nil config if none exists.
	Load(ctx context.Context) (*Config, error)

	// Save persists the configuration.
	Save(ctx context.Context, cfg *Config) error
}

// Config describes the desired system shape. It is declarative: it
// defines what should exist, not how to create it.
type Config struct {
	Sources             []SourceConfig
	ArticleJob          *JobConfig
	VideoJob            *JobConfig
	Keys                []KeyConfig
	ClassifierEndpoints []ClassifierEndpointConfig
}

// SourceConfig describes one upstream publisher or channel to register
// with the Source Runner.
type SourceConfig struct {
	// Name identifies the harvester implementation in the Harvester
	// Registry, e.g. "rss", "youtube-data-api".
	Name string

	Kind       model.SourceKind
	SourceType model.SourceType
	Platform   string
	BaseURL    string
}

// QueryConfig is the persisted form of model.Query: every harvester query
// the article or video job should run against its sources on each firing.
type QueryConfig struct {
	Source   string
	Keyword  string
	Page     int
	Size     int
	Limit    int
	Since    *time.Time
	Until    *time.Time
	Hashtags []string

	IncludeComments    bool
	IncludeTranscripts bool
	MinDurationSeconds int64
	MaxDurationSeconds int64
}

// JobConfig is the persisted form of scheduler.JobConfig for one of the
// two pipelines (article or video).
type JobConfig struct {
	Queries []QueryConfig

	Interval     time.Duration
	MaxInstances int
	Coalesce     bool
	MisfireGrace time.Duration
	Jitter       time.Duration
	StartDelay   time.Duration
}

// KeyConfig is one API key credential backing a source's key pool.
type KeyConfig struct {
	Source     string
	Credential string
}

// ClassifierEndpointConfig is the classifier dispatch endpoint for one
// content kind (article classification and video classification are
// independent services).
type ClassifierEndpointConfig struct {
	Kind     model.SourceKind
	Endpoint string
}
