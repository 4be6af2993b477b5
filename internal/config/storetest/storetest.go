// Package storetest provides a shared conformance test suite for
// config.Store implementations. Each backend (memory, postgres) wires this
// suite to verify it satisfies the Store contract identically.
package storetest

import (
	"testing"
	"time"

	"contentengine/internal/config"
	"contentengine/internal/model"
)

// TestStore runs the full conformance suite against a Store implementation.
// newStore must return a fresh, empty store for each sub-test.
func TestStore(t *testing.T, newStore func(t *testing.T) config.Store) {
	t.Run("LoadEmpty", func(t *testing.T) {
		s := newStore(t)
		cfg, err := s.Load(t.Context())
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg != nil {
			t.Fatalf("expected nil config from empty store, got %+v", cfg)
		}
	})

	t.Run("SaveThenLoadRoundTrips", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()
		since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

		want := &config.Config{
			Sources: []config.SourceConfig{
				{Name: "rss", Kind: model.SourceArticle, SourceType: model.SourceTypeArticlePublisher, Platform: "example", BaseURL: "https://example.com/feed"},
			},
			ArticleJob: &config.JobConfig{
				Queries:      []config.QueryConfig{{Source: "rss", Keyword: "go", Since: &since, Hashtags: []string{"golang"}}},
				Interval:     time.Hour,
				MaxInstances: 2,
				Coalesce:     true,
			},
			Keys: []config.KeyConfig{{Source: "rss", Credential: "secret-1"}},
			ClassifierEndpoints: []config.ClassifierEndpointConfig{
				{Kind: model.SourceArticle, Endpoint: "https://classifier.internal/articles"},
			},
		}

		if err := s.Save(ctx, want); err != nil {
			t.Fatalf("Save: %v", err)
		}

		got, err := s.Load(ctx)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if got == nil {
			t.Fatal("expected non-nil config after Save")
		}
		if len(got.Sources) != 1 || got.Sources[0].Name != "rss" {
			t.Errorf("Sources = %+v", got.Sources)
		}
		if got.ArticleJob == nil || len(got.ArticleJob.Queries) != 1 || got.ArticleJob.Queries[0].Keyword != "go" {
			t.Errorf("ArticleJob = %+v", got.ArticleJob)
		}
		if got.ArticleJob.Queries[0].Since == nil || !got.ArticleJob.Queries[0].Since.Equal(since) {
			t.Errorf("Since = %v, want %v", got.ArticleJob.Queries[0].Since, since)
		}
		if len(got.Keys) != 1 || got.Keys[0].Credential != "secret-1" {
			t.Errorf("Keys = %+v", got.Keys)
		}
		if len(got.ClassifierEndpoints) != 1 {
			t.Errorf("ClassifierEndpoints = %+v", got.ClassifierEndpoints)
		}
	})

	t.Run("SaveReplacesPreviousConfig", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()

		first := &config.Config{Sources: []config.SourceConfig{{Name: "a"}}}
		second := &config.Config{Sources: []config.SourceConfig{{Name: "b"}, {Name: "c"}}}

		if err := s.Save(ctx, first); err != nil {
			t.Fatalf("Save first: %v", err)
		}
		if err := s.Save(ctx, second); err != nil {
			t.Fatalf("Save second: %v", err)
		}

		got, err := s.Load(ctx)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if len(got.Sources) != 2 {
			t.Fatalf("expected Save to replace the config wholesale, got %+v", got.Sources)
		}
	})

	t.Run("LoadReturnsACopyNotSharedState", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()

		if err := s.Save(ctx, &config.Config{Sources: []config.SourceConfig{{Name: "original"}}}); err != nil {
			t.Fatalf("Save: %v", err)
		}

		got, err := s.Load(ctx)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		got.Sources[0].Name = "mutated"

		got2, err := s.Load(ctx)
		if err != nil {
			t.Fatalf("Load again: %v", err)
		}
		if got2.Sources[0].Name != "original" {
			t.Fatalf("mutating a loaded config must not affect the store, got %q", got2.Sources[0].Name)
		}
	})
}
