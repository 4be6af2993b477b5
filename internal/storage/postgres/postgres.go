// Package postgres implements storage.Gateway against a Postgres database
// using pgx for the connection pool and sqlx for row scanning. Schema is
// managed by goose migrations (migrations/); only the unique-fingerprint
// and unique-video-id constraints the dedup contract requires are
// specified — the rest of the DDL is out of scope per spec.md.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"contentengine/internal/logging"
	"contentengine/internal/model"
	"contentengine/internal/storage"
)

// Gateway is a Postgres-backed storage.Gateway.
type Gateway struct {
	pool   *pgxpool.Pool
	db     *sqlx.DB
	logger *slog.Logger
}

// Config configures a Gateway.
type Config struct {
	Pool   *pgxpool.Pool
	Logger *slog.Logger
}

// New wraps an already-connected pgxpool.Pool. Callers are responsible for
// running migrations (see RunMigrations) before first use.
func New(cfg Config) (*Gateway, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("postgres: pool is required")
	}
	db := sqlx.NewDb(stdlib.OpenDBFromPool(cfg.Pool), "pgx")
	return &Gateway{
		pool:   cfg.Pool,
		db:     db,
		logger: logging.Default(cfg.Logger).With("component", "storage.postgres"),
	}, nil
}

// Close releases the underlying pool.
func (g *Gateway) Close() {
	g.db.Close()
	g.pool.Close()
}

// ResolveSource implements storage.SourceResolver with an upsert-then-read:
// the unique (type, platform) constraint lets concurrent callers race
// safely, with the loser's insert turning into a no-op read.
func (g *Gateway) ResolveSource(ctx context.Context, sourceType model.SourceType, platform string, baseURL string) (string, error) {
	const q = `
		INSERT INTO sources (id, source_type, platform, base_url)
		VALUES (gen_random_uuid(), $1, $2, $3)
		ON CONFLICT (source_type, platform) DO UPDATE SET platform = EXCLUDED.platform
		RETURNING id::text`
	var id string
	if err := g.pool.QueryRow(ctx, q, sourceType, platform, baseURL).Scan(&id); err != nil {
		return "", fmt.Errorf("postgres: resolve source: %w", err)
	}
	return id, nil
}

// InsertArticleBatch implements storage.ArticleStore. Each item is inserted
// individually within one transaction so a unique-fingerprint violation on
// one row counts as a dup without aborting the rest of the batch.
func (g *Gateway) InsertArticleBatch(ctx context.Context, sourceID string, items []model.Article) (storage.ArticleBatchResult, error) {
	var result storage.ArticleBatchResult

	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return result, fmt.Errorf("postgres: begin article batch: %w", err)
	}
	defer tx.Rollback(ctx)

	const q = `
		INSERT INTO articles (id, source_id, fingerprint, title, published_at, published_raw,
			body, summary, author, section, tags, raw_provenance, ingested_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		ON CONFLICT (fingerprint) DO NOTHING
		RETURNING id::text`

	for _, item := range items {
		if item.Fingerprint == "" {
			result.ErrCount++
			continue
		}
		var publishedAt *time.Time
		if !item.PublishedAt.IsZero() {
			t := item.PublishedAt
			publishedAt = &t
		}
		var id string
		err := tx.QueryRow(ctx, q, sourceID, item.Fingerprint, item.Title, publishedAt, item.PublishedRaw,
			item.Body, item.Summary, item.Author, item.Section, item.Tags, item.Raw.Bytes()).Scan(&id)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			result.DupCount++
		case err != nil:
			result.ErrCount++
			g.logger.Error("article insert failed", "fingerprint", item.Fingerprint, "error", err)
		default:
			result.InsertedIDs = append(result.InsertedIDs, model.ContentID(id))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return result, fmt.Errorf("postgres: commit article batch: %w", err)
	}
	return result, nil
}

// InsertVideo implements storage.VideoStore.
func (g *Gateway) InsertVideo(ctx context.Context, sourceID string, video model.Video) storage.VideoInsertResult {
	if video.ExternalVideoID == "" {
		return storage.VideoInsertResult{Outcome: storage.VideoError, Err: fmt.Errorf("postgres: video missing external ID")}
	}
	const q = `
		INSERT INTO videos (id, source_id, external_video_id, title, description, channel_id,
			channel_handle, channel_title, published_at, thumbnail_url, duration_seconds,
			view_count, like_count, comment_count, tags, language, comments,
			transcript_english, transcript_bengali, transcript_langs, raw_provenance, ingested_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, now())
		ON CONFLICT (external_video_id) DO NOTHING
		RETURNING id::text`

	var publishedAt *time.Time
	if !video.PublishedAt.IsZero() {
		t := video.PublishedAt
		publishedAt = &t
	}
	var id string
	err := g.pool.QueryRow(ctx, q, sourceID, video.ExternalVideoID, video.Title, video.Description,
		video.ChannelID, video.ChannelHandle, video.ChannelTitle, publishedAt, video.ThumbnailURL,
		video.DurationSeconds, video.ViewCount, video.LikeCount, video.CommentCount, video.Tags,
		video.Language, video.Comments, video.TranscriptEnglish, video.TranscriptBengali,
		video.TranscriptLangs, video.Raw.Bytes()).Scan(&id)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return storage.VideoInsertResult{Outcome: storage.VideoDuplicate}
	case err != nil:
		return storage.VideoInsertResult{Outcome: storage.VideoError, Err: err}
	default:
		return storage.VideoInsertResult{Outcome: storage.VideoInserted, ID: model.ContentID(id)}
	}
}

// CountsByPlatform implements storage.Reader.
func (g *Gateway) CountsByPlatform(ctx context.Context) (map[string]int64, error) {
	const q = `
		SELECT s.platform, count(*) FROM (
			SELECT source_id FROM articles
			UNION ALL
			SELECT source_id FROM videos
		) c JOIN sources s ON s.id = c.source_id
		GROUP BY s.platform`
	rows, err := g.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres: counts by platform: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var platform string
		var count int64
		if err := rows.Scan(&platform, &count); err != nil {
			return nil, err
		}
		counts[platform] = count
	}
	return counts, rows.Err()
}

// RecentActivity implements storage.Reader.
func (g *Gateway) RecentActivity(ctx context.Context, kind model.SourceKind, buckets int, bucketSize time.Duration) ([]storage.ActivityPoint, error) {
	if buckets <= 0 || bucketSize <= 0 {
		return nil, nil
	}
	table := "articles"
	tsCol := "ingested_at"
	if kind == model.SourceVideo {
		table = "videos"
	}
	q := fmt.Sprintf(`
		SELECT date_trunc('second', %s) AS bucket, count(*)
		FROM %s
		WHERE %s >= now() - $1::interval
		GROUP BY bucket
		ORDER BY bucket`, tsCol, table, tsCol)

	window := time.Duration(buckets) * bucketSize
	rows, err := g.pool.Query(ctx, q, window.String())
	if err != nil {
		return nil, fmt.Errorf("postgres: recent activity: %w", err)
	}
	defer rows.Close()

	var points []storage.ActivityPoint
	for rows.Next() {
		var p storage.ActivityPoint
		if err := rows.Scan(&p.Bucket, &p.Count); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// languageCountRow maps LanguageDistribution's result set for sqlx's
// struct-scanning StructScan/SelectContext, the row-mapping style this
// package otherwise forgoes in favor of pgx's native Scan.
type languageCountRow struct {
	Language string `db:"language"`
	Count    int64  `db:"count"`
}

// LanguageDistribution implements storage.Reader.
func (g *Gateway) LanguageDistribution(ctx context.Context) ([]storage.LanguageCount, error) {
	const q = `SELECT coalesce(nullif(language, ''), 'unknown') AS language, count(*) AS count FROM videos GROUP BY 1 ORDER BY 1`
	var rows []languageCountRow
	if err := g.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("postgres: language distribution: %w", err)
	}
	out := make([]storage.LanguageCount, len(rows))
	for i, r := range rows {
		out[i] = storage.LanguageCount{Language: r.Language, Count: r.Count}
	}
	return out, nil
}

// Search implements storage.Reader using Postgres's built-in trigram-free
// ILIKE match over title/body/transcript — the "basic full-text search"
// the contract asks for, not a ranked tsvector index.
func (g *Gateway) Search(ctx context.Context, query string, limit int) ([]storage.SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}
	needle := "%" + strings.ReplaceAll(query, "%", "") + "%"

	const articleQ = `
		SELECT a.id::text, a.title, left(a.body, 160), s.platform
		FROM articles a JOIN sources s ON s.id = a.source_id
		WHERE a.title ILIKE $1 OR a.body ILIKE $1
		LIMIT $2`
	const videoQ = `
		SELECT id::text, title, left(transcript_english, 160), channel_handle
		FROM videos
		WHERE title ILIKE $1 OR transcript_english ILIKE $1
		LIMIT $2`

	var results []storage.SearchResult
	rows, err := g.pool.Query(ctx, articleQ, needle, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: search articles: %w", err)
	}
	for rows.Next() {
		var r storage.SearchResult
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.Platform); err != nil {
			rows.Close()
			return nil, err
		}
		r.Kind = model.SourceArticle
		results = append(results, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	remaining := limit - len(results)
	if remaining <= 0 {
		return results, nil
	}
	vrows, err := g.pool.Query(ctx, videoQ, needle, remaining)
	if err != nil {
		return nil, fmt.Errorf("postgres: search videos: %w", err)
	}
	defer vrows.Close()
	for vrows.Next() {
		var r storage.SearchResult
		if err := vrows.Scan(&r.ID, &r.Title, &r.Snippet, &r.Platform); err != nil {
			return nil, err
		}
		r.Kind = model.SourceVideo
		results = append(results, r)
	}
	return results, vrows.Err()
}

// Ping implements storage.Reader.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.pool.Ping(ctx)
}
