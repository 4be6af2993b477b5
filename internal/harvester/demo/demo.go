// Package demo implements a synthetic Harvester used for tests and
// bootstrap, generating deterministic-looking articles or videos without
// any network dependency. It plays the role the chatterbox ingester plays
// in the teacher: an always-available adapter nothing else depends on.
package demo

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"contentengine/internal/harvester"
	"contentengine/internal/logging"
	"contentengine/internal/model"
)

const defaultPageSize = 10

// Kind selects which content kind the demo harvester fabricates.
type Kind string

const (
	KindArticle Kind = "article"
	KindVideo   Kind = "video"
)

// Harvester fabricates content from the requested page number: fingerprints,
// video IDs, titles and timestamps derive from it, so repeated calls with the
// same Query yield the same identities — useful for exercising dedup without
// a real upstream. Video durations and engagement counts are random on every
// call.
type Harvester struct {
	source string
	kind   Kind
	logger *slog.Logger
}

// New constructs a demo Harvester. kind must be KindArticle or KindVideo;
// any other value is an error.
func New(source string, kind Kind, logger *slog.Logger) (*Harvester, error) {
	if kind != KindArticle && kind != KindVideo {
		return nil, fmt.Errorf("demo: unknown kind %q", kind)
	}
	return &Harvester{
		source: source,
		kind:   kind,
		logger: logging.Default(logger).With("component", "harvester.demo", "source", source),
	}, nil
}

// Factory returns a harvester.Factory that always builds a demo Harvester
// of the given kind for whichever source name the registry passes; that
// name labels the fabricated items (URLs, titles, channel) and the logger.
func Factory(kind Kind) harvester.Factory {
	return func(source string, logger *slog.Logger) (harvester.Harvester, error) {
		return New(source, kind, logger)
	}
}

// Harvest returns defaultPageSize (or query.Size, if set) synthetic items
// for the requested page. Page numbers 3 and above return zero items,
// signalling end-of-results the way a real paginated upstream would on
// exhaustion.
func (h *Harvester) Harvest(ctx context.Context, query model.Query) ([]model.RawItem, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	const maxPages = 3
	if query.Page >= maxPages {
		return nil, nil
	}

	size := query.Size
	if size <= 0 {
		size = defaultPageSize
	}

	items := make([]model.RawItem, 0, size)
	for i := 0; i < size; i++ {
		seq := query.Page*size + i
		switch h.kind {
		case KindArticle:
			items = append(items, model.RawItem{Article: h.fabricateArticle(seq)})
		case KindVideo:
			items = append(items, model.RawItem{Video: h.fabricateVideo(seq)})
		}
	}
	h.logger.Debug("harvested page", "page", query.Page, "count", len(items))
	return items, nil
}

func (h *Harvester) fabricateArticle(seq int) *model.Article {
	published := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(seq) * time.Hour)
	return &model.Article{
		Fingerprint: fmt.Sprintf("https://%s.example/articles/%d", h.source, seq),
		Title:       fmt.Sprintf("%s dispatch #%d", h.source, seq),
		PublishedAt: published,
		Body:        fmt.Sprintf("Synthetic body text for item %d from %s.", seq, h.source),
		Summary:     "Synthetic summary.",
		Author:      "demo-author",
		SourceName:  h.source,
		Tags:        []string{"demo"},
		Section:     "general",
	}
}

func (h *Harvester) fabricateVideo(seq int) *model.Video {
	published := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(seq) * time.Hour)
	return &model.Video{
		ExternalVideoID:   fmt.Sprintf("%s-vid-%d", h.source, seq),
		Title:             fmt.Sprintf("%s upload #%d", h.source, seq),
		Description:       "Synthetic video description.",
		ChannelID:         h.source,
		ChannelHandle:     "@" + h.source,
		ChannelTitle:      h.source,
		PublishedAt:       published,
		DurationSeconds:   int64(60 + rand.IntN(600)),
		ViewCount:         int64(rand.IntN(100000)),
		LikeCount:         int64(rand.IntN(5000)),
		CommentCount:      int64(rand.IntN(500)),
		Tags:              []string{"demo"},
		Language:          "en",
		TranscriptEnglish: fmt.Sprintf("Synthetic transcript for video %d.", seq),
		TranscriptLangs:   []string{"en"},
	}
}
