package memory_test

import (
	"context"
	"testing"

	"contentengine/internal/model"
	"contentengine/internal/storage/memory"
)

func TestResolveSourceIsIdempotent(t *testing.T) {
	g := memory.New(memory.Config{})
	ctx := context.Background()
	id1, err := g.ResolveSource(ctx, model.SourceTypeArticlePublisher, "example-news", "https://example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id2, err := g.ResolveSource(ctx, model.SourceTypeArticlePublisher, "example-news", "https://example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected idempotent source IDs, got %q and %q", id1, id2)
	}
}

func TestInsertArticleBatchDedupesByFingerprint(t *testing.T) {
	g := memory.New(memory.Config{})
	ctx := context.Background()
	sourceID, _ := g.ResolveSource(ctx, model.SourceTypeArticlePublisher, "example-news", "")

	items := []model.Article{
		{Fingerprint: "https://example.com/a", Title: "A"},
		{Fingerprint: "https://example.com/b", Title: "B"},
	}
	result, err := g.InsertArticleBatch(ctx, sourceID, items)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.InsertedIDs) != 2 || result.DupCount != 0 {
		t.Fatalf("first insert result = %+v, want 2 inserted, 0 dup", result)
	}

	result2, err := g.InsertArticleBatch(ctx, sourceID, items)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result2.InsertedIDs) != 0 || result2.DupCount != 2 {
		t.Fatalf("re-insert result = %+v, want 0 inserted, 2 dup", result2)
	}
}

func TestInsertArticleBatchTalliesErrorsWithoutAborting(t *testing.T) {
	g := memory.New(memory.Config{})
	ctx := context.Background()
	sourceID, _ := g.ResolveSource(ctx, model.SourceTypeArticlePublisher, "example-news", "")

	items := []model.Article{
		{Fingerprint: "", Title: "missing fingerprint"},
		{Fingerprint: "https://example.com/ok", Title: "ok"},
	}
	result, err := g.InsertArticleBatch(ctx, sourceID, items)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ErrCount != 1 || len(result.InsertedIDs) != 1 {
		t.Fatalf("result = %+v, want 1 error, 1 inserted", result)
	}
}

func TestInsertVideoIdempotentOnExternalID(t *testing.T) {
	g := memory.New(memory.Config{})
	ctx := context.Background()
	sourceID, _ := g.ResolveSource(ctx, model.SourceTypeVideoChannel, "demo-channel", "")

	video := model.Video{ExternalVideoID: "vid-1", Title: "Hello"}
	first := g.InsertVideo(ctx, sourceID, video)
	if first.Outcome != 0 { // storage.VideoInserted
		t.Fatalf("first insert outcome = %v, want Inserted", first.Outcome)
	}
	second := g.InsertVideo(ctx, sourceID, video)
	if second.Outcome != 1 { // storage.VideoDuplicate
		t.Fatalf("second insert outcome = %v, want Duplicate", second.Outcome)
	}
}

func TestSearchMatchesTitleAndBody(t *testing.T) {
	g := memory.New(memory.Config{})
	ctx := context.Background()
	sourceID, _ := g.ResolveSource(ctx, model.SourceTypeArticlePublisher, "example-news", "")
	g.InsertArticleBatch(ctx, sourceID, []model.Article{
		{Fingerprint: "https://example.com/a", Title: "Election results", Body: "Votes were counted overnight."},
		{Fingerprint: "https://example.com/b", Title: "Weather update", Body: "Sunny skies expected."},
	})

	results, err := g.Search(ctx, "election", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].Title != "Election results" {
		t.Fatalf("results = %+v, want single Election results match", results)
	}
}

func TestCountsByPlatform(t *testing.T) {
	g := memory.New(memory.Config{})
	ctx := context.Background()
	sourceID, _ := g.ResolveSource(ctx, model.SourceTypeArticlePublisher, "example-news", "")
	g.InsertArticleBatch(ctx, sourceID, []model.Article{
		{Fingerprint: "https://example.com/a", Title: "A"},
		{Fingerprint: "https://example.com/b", Title: "B"},
	})
	counts, err := g.CountsByPlatform(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if counts["example-news"] != 2 {
		t.Fatalf("counts = %+v, want example-news: 2", counts)
	}
}
