// Package model defines the content types shared across the acquisition
// engine: articles, videos, sources, and the query/result types a Harvester
// exchanges with the Source Runner. Raw upstream payloads are preserved as
// an opaque, compactly-encoded provenance blob so storage stays schema-free
// with respect to arbitrary publisher/platform shapes.
package model

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// SourceKind distinguishes the two acquisition pipelines.
type SourceKind string

const (
	SourceArticle SourceKind = "article"
	SourceVideo   SourceKind = "video"
)

// ContentID is the opaque handle Storage mints on successful insert and
// the Classifier Dispatcher forwards downstream.
type ContentID string

// MediaRef is one media attachment on an Article.
type MediaRef struct {
	URL     string
	Caption string
	Kind    string // e.g. "image", "video"
}

// Article is a normalized text-content item. Fingerprint (the canonical
// URL) is its system-wide identity.
type Article struct {
	Fingerprint string
	Title       string
	// PublishedAt is set when the upstream timestamp parsed cleanly;
	// PublishedRaw preserves the original string otherwise (spec: "ISO-8601
	// UTC when known, else raw string" — both fields coexist so a
	// downstream reader never silently loses an unparseable date).
	PublishedAt  time.Time
	PublishedRaw string
	Body         string
	Summary      string
	Author       string
	Media        []MediaRef
	SourceName   string
	Tags         []string
	Section      string
	Raw          RawProvenance
}

// Video is a normalized video-content item. ExternalVideoID is its
// system-wide identity.
type Video struct {
	ExternalVideoID   string
	Title             string
	Description       string
	ChannelID         string
	ChannelHandle     string
	ChannelTitle      string
	PublishedAt       time.Time
	PublishedRaw      string
	ThumbnailURL      string
	DurationSeconds   int64
	ViewCount         int64
	LikeCount         int64
	CommentCount      int64
	Tags              []string
	Language          string
	Comments          []string
	TranscriptEnglish string
	TranscriptBengali string
	TranscriptLangs   []string
	Raw               RawProvenance
}

// HasEnglishTranscript reports whether Video carries an English transcript,
// the field an ingest policy may require before accepting a video.
func (v Video) HasEnglishTranscript() bool {
	return v.TranscriptEnglish != ""
}

// SourceType distinguishes the two kinds of upstream publisher.
type SourceType string

const (
	SourceTypeArticlePublisher SourceType = "article-publisher"
	SourceTypeVideoChannel     SourceType = "video-channel"
)

// Source identifies one upstream publisher or channel. Source records are
// idempotently created on first use, keyed by (Type, Platform). The
// in-memory storage gateway keeps that mapping in-process; the Postgres
// gateway has no in-process cache and runs an upsert on every resolution.
type Source struct {
	ID             string
	Type           SourceType
	Platform       string
	BaseURL        string
	CredibilityHint string
}

// RawProvenance holds the raw upstream payload as an opaque, compactly
// encoded blob, preserved for audit/replay without committing storage to
// any particular publisher's JSON shape.
type RawProvenance struct {
	data []byte
}

// NewRawProvenance encodes v (typically a map[string]any decoded from the
// upstream response) into a RawProvenance blob.
func NewRawProvenance(v any) (RawProvenance, error) {
	if v == nil {
		return RawProvenance{}, nil
	}
	data, err := msgpack.Marshal(v)
	if err != nil {
		return RawProvenance{}, err
	}
	return RawProvenance{data: data}, nil
}

// Bytes returns the encoded provenance blob, or nil if none was recorded.
func (r RawProvenance) Bytes() []byte { return r.data }

// Decode unmarshals the provenance blob into out.
func (r RawProvenance) Decode(out any) error {
	if len(r.data) == 0 {
		return nil
	}
	return msgpack.Unmarshal(r.data, out)
}

// Query carries the parameters a Harvester uses to fetch one page of
// results from its upstream source.
type Query struct {
	Keyword string
	Page    int
	Size    int
	// Limit caps the cumulative item count pagination stops at (query.limit
	// in spec.md §4.7, step 3). Zero means unbounded (stop only on an empty
	// page).
	Limit    int
	Since    *time.Time
	Until    *time.Time
	Hashtags []string

	// Video-specific feature flags and filters; ignored by article
	// harvesters.
	IncludeComments    bool
	IncludeTranscripts bool
	MinDurationSeconds int64
	MaxDurationSeconds int64
}

// RawItem is the union a Harvester returns: exactly one of Article or Video
// is set, matching the source kind the Harvester was constructed for.
type RawItem struct {
	Article *Article
	Video   *Video
}
