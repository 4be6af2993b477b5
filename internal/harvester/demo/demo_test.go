package demo_test

import (
	"context"
	"testing"

	"contentengine/internal/harvester/demo"
	"contentengine/internal/model"
)

func TestHarvestArticlesIsDeterministic(t *testing.T) {
	h, err := demo.New("newsdemo", demo.KindArticle, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	q := model.Query{Page: 0, Size: 5}
	first, err := h.Harvest(context.Background(), q)
	if err != nil {
		t.Fatalf("Harvest: %v", err)
	}
	second, err := h.Harvest(context.Background(), q)
	if err != nil {
		t.Fatalf("Harvest: %v", err)
	}
	if len(first) != 5 || len(second) != 5 {
		t.Fatalf("len = %d/%d, want 5/5", len(first), len(second))
	}
	for i := range first {
		if first[i].Article.Fingerprint != second[i].Article.Fingerprint {
			t.Fatalf("fingerprint %d not stable across calls: %q vs %q",
				i, first[i].Article.Fingerprint, second[i].Article.Fingerprint)
		}
	}
}

func TestHarvestVideoKind(t *testing.T) {
	h, err := demo.New("tubedemo", demo.KindVideo, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	items, err := h.Harvest(context.Background(), model.Query{Page: 0, Size: 3})
	if err != nil {
		t.Fatalf("Harvest: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("len(items) = %d, want 3", len(items))
	}
	for _, item := range items {
		if item.Video == nil || item.Article != nil {
			t.Fatal("expected only Video set for a video-kind harvester")
		}
		if !item.Video.HasEnglishTranscript() {
			t.Fatal("expected demo videos to carry an English transcript")
		}
	}
}

func TestHarvestEndOfResultsReturnsZeroItems(t *testing.T) {
	h, err := demo.New("newsdemo", demo.KindArticle, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	items, err := h.Harvest(context.Background(), model.Query{Page: 99, Size: 5})
	if err != nil {
		t.Fatalf("unexpected error on exhausted page: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("len(items) = %d, want 0 past the last page", len(items))
	}
}

func TestHarvestHonorsCancellation(t *testing.T) {
	h, err := demo.New("newsdemo", demo.KindArticle, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = h.Harvest(ctx, model.Query{Page: 0, Size: 1})
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestNewRejectsUnknownKind(t *testing.T) {
	if _, err := demo.New("x", demo.Kind("bogus"), nil); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
