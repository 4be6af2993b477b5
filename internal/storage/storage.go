// Package storage defines the Storage Gateway contract (spec §4.5): source
// resolution, deduplicated batch insert for articles, idempotent insert for
// videos, plus read operations the control surface exposes. Two
// implementations satisfy these interfaces: internal/storage/memory (tests,
// demo mode) and internal/storage/postgres (pgx/sqlx-backed). The Source
// Runner (C7) depends only on these interfaces, mirroring how the teacher's
// orchestrator stays storage-agnostic behind chunk.ChunkManager.
package storage

import (
	"context"
	"errors"
	"time"

	"contentengine/internal/model"
)

// ErrSourceTypeMismatch names a source-type conflict for a platform.
// Neither storage implementation returns it: both key sources by the full
// (type, platform) pair.
var ErrSourceTypeMismatch = errors.New("storage: source type mismatch for platform")

// ArticleBatchResult reports the outcome of a batch article insert.
type ArticleBatchResult struct {
	InsertedIDs []model.ContentID
	DupCount    int
	ErrCount    int
}

// VideoInsertOutcome discriminates the three ways insertVideo can resolve.
type VideoInsertOutcome int

const (
	VideoInserted VideoInsertOutcome = iota
	VideoDuplicate
	VideoError
)

// VideoInsertResult reports the outcome of a single video insert.
type VideoInsertResult struct {
	Outcome VideoInsertOutcome
	ID      model.ContentID
	Err     error
}

// SourceResolver idempotently maps (type, platform) to a stable source ID.
// Implementations must be safe for concurrent use. The memory
// implementation keeps the mapping in-process; the postgres implementation
// has no in-process cache and runs an upsert on every call.
type SourceResolver interface {
	ResolveSource(ctx context.Context, sourceType model.SourceType, platform string, baseURL string) (string, error)
}

// ArticleStore persists deduplicated articles.
type ArticleStore interface {
	// InsertArticleBatch inserts items for sourceID. For each item whose
	// fingerprint already exists, DupCount is incremented and no ID is
	// produced; otherwise a ContentID is minted and appended to
	// InsertedIDs. Per-item errors are tallied in ErrCount and do not abort
	// the batch.
	InsertArticleBatch(ctx context.Context, sourceID string, items []model.Article) (ArticleBatchResult, error)
}

// VideoStore persists idempotent (by external video ID) videos.
type VideoStore interface {
	InsertVideo(ctx context.Context, sourceID string, video model.Video) VideoInsertResult
}

// ActivityPoint is one bucket of a recent-activity histogram.
type ActivityPoint struct {
	Bucket time.Time
	Count  int64
}

// LanguageCount is one bucket of a language distribution.
type LanguageCount struct {
	Language string
	Count    int64
}

// SearchResult is one hit from a full-text search.
type SearchResult struct {
	ID       model.ContentID
	Kind     model.SourceKind
	Title    string
	Snippet  string
	Platform string
}

// Reader exposes the read operations the control surface forwards to
// storage: counts, histograms, language distribution, full-text search.
// These are specified only by contract; any persistent store can implement
// them.
type Reader interface {
	CountsByPlatform(ctx context.Context) (map[string]int64, error)
	RecentActivity(ctx context.Context, kind model.SourceKind, buckets int, bucketSize time.Duration) ([]ActivityPoint, error)
	LanguageDistribution(ctx context.Context) ([]LanguageCount, error)
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
	Ping(ctx context.Context) error
}

// Gateway bundles every storage capability the Source Runner and control
// surface need. Implementations of the concrete backends embed narrower
// interfaces and satisfy Gateway as a whole.
type Gateway interface {
	SourceResolver
	ArticleStore
	VideoStore
	Reader
}
