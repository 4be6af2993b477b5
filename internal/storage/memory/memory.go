// Package memory is a process-local implementation of storage.Gateway
// backed by Go maps, for tests and demo mode. It mirrors the teacher's
// chunk/memory package: a Config with an injected clock, a mutex-guarded
// struct, and a component-scoped logger.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"contentengine/internal/logging"
	"contentengine/internal/model"
	"contentengine/internal/storage"
)

// Config configures a Gateway.
type Config struct {
	Now    func() time.Time
	Logger *slog.Logger
}

type articleRecord struct {
	id       model.ContentID
	sourceID string
	article  model.Article
	storedAt time.Time
}

type videoRecord struct {
	id       model.ContentID
	sourceID string
	video    model.Video
	storedAt time.Time
}

// Gateway is an in-memory storage.Gateway.
type Gateway struct {
	mu     sync.Mutex
	now    func() time.Time
	logger *slog.Logger

	sources map[string]string // "type|platform" -> sourceID

	articlesByFingerprint map[string]*articleRecord
	articles              []*articleRecord

	videosByExternalID map[string]*videoRecord
	videos             []*videoRecord
}

// New builds an empty in-memory Gateway.
func New(cfg Config) *Gateway {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Gateway{
		now:                   now,
		logger:                logging.Default(cfg.Logger).With("component", "storage.memory"),
		sources:               make(map[string]string),
		articlesByFingerprint: make(map[string]*articleRecord),
		videosByExternalID:    make(map[string]*videoRecord),
	}
}

func sourceKey(sourceType model.SourceType, platform string) string {
	return string(sourceType) + "|" + platform
}

// ResolveSource implements storage.SourceResolver.
func (g *Gateway) ResolveSource(ctx context.Context, sourceType model.SourceType, platform string, baseURL string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := sourceKey(sourceType, platform)
	if id, ok := g.sources[key]; ok {
		return id, nil
	}
	id := uuid.NewString()
	g.sources[key] = id
	g.logger.Info("source resolved", "type", sourceType, "platform", platform, "source_id", id)
	return id, nil
}

// InsertArticleBatch implements storage.ArticleStore.
func (g *Gateway) InsertArticleBatch(ctx context.Context, sourceID string, items []model.Article) (storage.ArticleBatchResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var result storage.ArticleBatchResult
	for _, item := range items {
		if item.Fingerprint == "" {
			result.ErrCount++
			continue
		}
		if _, exists := g.articlesByFingerprint[item.Fingerprint]; exists {
			result.DupCount++
			continue
		}
		id := model.ContentID(uuid.NewString())
		rec := &articleRecord{id: id, sourceID: sourceID, article: item, storedAt: g.now()}
		g.articlesByFingerprint[item.Fingerprint] = rec
		g.articles = append(g.articles, rec)
		result.InsertedIDs = append(result.InsertedIDs, id)
	}
	return result, nil
}

// InsertVideo implements storage.VideoStore.
func (g *Gateway) InsertVideo(ctx context.Context, sourceID string, video model.Video) storage.VideoInsertResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	if video.ExternalVideoID == "" {
		return storage.VideoInsertResult{Outcome: storage.VideoError, Err: fmt.Errorf("storage: video missing external ID")}
	}
	if _, exists := g.videosByExternalID[video.ExternalVideoID]; exists {
		return storage.VideoInsertResult{Outcome: storage.VideoDuplicate}
	}
	id := model.ContentID(uuid.NewString())
	rec := &videoRecord{id: id, sourceID: sourceID, video: video, storedAt: g.now()}
	g.videosByExternalID[video.ExternalVideoID] = rec
	g.videos = append(g.videos, rec)
	return storage.VideoInsertResult{Outcome: storage.VideoInserted, ID: id}
}

// CountsByPlatform implements storage.Reader.
func (g *Gateway) CountsByPlatform(ctx context.Context) (map[string]int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	platformBySourceID := make(map[string]string, len(g.sources))
	for key, id := range g.sources {
		parts := strings.SplitN(key, "|", 2)
		if len(parts) == 2 {
			platformBySourceID[id] = parts[1]
		}
	}

	counts := make(map[string]int64)
	for _, rec := range g.articles {
		if platform, ok := platformBySourceID[rec.sourceID]; ok {
			counts[platform]++
		}
	}
	for _, rec := range g.videos {
		if platform, ok := platformBySourceID[rec.sourceID]; ok {
			counts[platform]++
		}
	}
	return counts, nil
}

// RecentActivity implements storage.Reader.
func (g *Gateway) RecentActivity(ctx context.Context, kind model.SourceKind, buckets int, bucketSize time.Duration) ([]storage.ActivityPoint, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if buckets <= 0 || bucketSize <= 0 {
		return nil, nil
	}
	now := g.now()
	points := make([]storage.ActivityPoint, buckets)
	start := now.Add(-time.Duration(buckets) * bucketSize)
	for i := range points {
		points[i].Bucket = start.Add(time.Duration(i) * bucketSize)
	}

	var times []time.Time
	switch kind {
	case model.SourceArticle:
		for _, rec := range g.articles {
			times = append(times, rec.storedAt)
		}
	case model.SourceVideo:
		for _, rec := range g.videos {
			times = append(times, rec.storedAt)
		}
	}
	for _, ts := range times {
		if ts.Before(start) || ts.After(now) {
			continue
		}
		idx := int(ts.Sub(start) / bucketSize)
		if idx >= 0 && idx < buckets {
			points[idx].Count++
		}
	}
	return points, nil
}

// LanguageDistribution implements storage.Reader.
func (g *Gateway) LanguageDistribution(ctx context.Context) ([]storage.LanguageCount, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	counts := make(map[string]int64)
	for _, rec := range g.videos {
		lang := rec.video.Language
		if lang == "" {
			lang = "unknown"
		}
		counts[lang]++
	}
	out := make([]storage.LanguageCount, 0, len(counts))
	for lang, count := range counts {
		out = append(out, storage.LanguageCount{Language: lang, Count: count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Language < out[j].Language })
	return out, nil
}

// Search implements storage.Reader with a naive substring match over
// title/body/transcript — sufficient for the basic full-text search
// contract, not a ranked search engine.
func (g *Gateway) Search(ctx context.Context, query string, limit int) ([]storage.SearchResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	needle := strings.ToLower(query)
	var results []storage.SearchResult
	for _, rec := range g.articles {
		if strings.Contains(strings.ToLower(rec.article.Title), needle) ||
			strings.Contains(strings.ToLower(rec.article.Body), needle) {
			results = append(results, storage.SearchResult{
				ID:       rec.id,
				Kind:     model.SourceArticle,
				Title:    rec.article.Title,
				Snippet:  snippet(rec.article.Body, 160),
				Platform: rec.article.SourceName,
			})
			if limit > 0 && len(results) >= limit {
				return results, nil
			}
		}
	}
	for _, rec := range g.videos {
		if strings.Contains(strings.ToLower(rec.video.Title), needle) ||
			strings.Contains(strings.ToLower(rec.video.TranscriptEnglish), needle) {
			results = append(results, storage.SearchResult{
				ID:       rec.id,
				Kind:     model.SourceVideo,
				Title:    rec.video.Title,
				Snippet:  snippet(rec.video.TranscriptEnglish, 160),
				Platform: rec.video.ChannelHandle,
			})
			if limit > 0 && len(results) >= limit {
				return results, nil
			}
		}
	}
	return results, nil
}

func snippet(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// Ping implements storage.Reader.
func (g *Gateway) Ping(ctx context.Context) error { return nil }
