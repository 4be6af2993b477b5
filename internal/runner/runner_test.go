package runner_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"contentengine/internal/breaker"
	"contentengine/internal/classifier"
	"contentengine/internal/errs"
	"contentengine/internal/harvester"
	"contentengine/internal/keypool"
	"contentengine/internal/model"
	"contentengine/internal/runner"
	"contentengine/internal/storage/memory"
)

// stubHarvester returns pages from a fixed table, failing or erroring on
// request to exercise retry/timeout/pagination behavior deterministically.
type stubHarvester struct {
	pages    [][]model.RawItem
	failOnce map[int]error
	calls    atomic.Int32
}

func (s *stubHarvester) Harvest(ctx context.Context, q model.Query) ([]model.RawItem, error) {
	s.calls.Add(1)
	if s.failOnce != nil {
		if err, ok := s.failOnce[q.Page]; ok {
			delete(s.failOnce, q.Page)
			return nil, err
		}
	}
	if q.Page >= len(s.pages) {
		return nil, nil
	}
	return s.pages[q.Page], nil
}

func newRegistry(h harvester.Harvester) *harvester.Registry {
	return harvester.NewRegistry(map[string]harvester.Factory{
		"src": func(string, *slog.Logger) (harvester.Harvester, error) { return h, nil },
	})
}

func articleItem(fingerprint string) model.RawItem {
	return model.RawItem{Article: &model.Article{Fingerprint: fingerprint, Title: "t"}}
}

func TestRunHappyPathArticles(t *testing.T) {
	h := &stubHarvester{pages: [][]model.RawItem{
		{articleItem("https://x/1"), articleItem("https://x/2")},
	}}
	store := memory.New(memory.Config{})
	r := runner.New(runner.Config{
		Harvesters: newRegistry(h),
		Storage:    store,
	})
	report := r.Run(context.Background(), "src", model.SourceArticle, model.Query{Size: 2}, model.SourceTypeArticlePublisher, "platform")
	if report.Status != runner.StatusSuccess {
		t.Fatalf("status = %v, err = %v", report.Status, report.Err)
	}
	if report.Inserted != 2 {
		t.Fatalf("inserted = %d, want 2", report.Inserted)
	}
	if report.Scraped != 2 {
		t.Fatalf("scraped = %d, want 2", report.Scraped)
	}
}

func TestRunDedupesWithinRun(t *testing.T) {
	// A,A,B -> deduped=2: Deduped counts survivors after dropping the
	// repeated A, not the number of items removed.
	h := &stubHarvester{pages: [][]model.RawItem{
		{articleItem("https://x/1"), articleItem("https://x/1"), articleItem("https://x/2")},
	}}
	store := memory.New(memory.Config{})
	r := runner.New(runner.Config{
		Harvesters: newRegistry(h),
		Storage:    store,
	})
	report := r.Run(context.Background(), "src", model.SourceArticle, model.Query{Size: 3}, model.SourceTypeArticlePublisher, "platform")
	if report.Scraped != 3 {
		t.Fatalf("scraped = %d, want 3", report.Scraped)
	}
	if report.Deduped != 2 {
		t.Fatalf("deduped = %d, want 2", report.Deduped)
	}
	if report.Inserted != 2 {
		t.Fatalf("inserted = %d, want 2", report.Inserted)
	}
}

func TestRunStopsPaginationOnEmptyPage(t *testing.T) {
	h := &stubHarvester{pages: [][]model.RawItem{
		{articleItem("https://x/1")},
		{},
		{articleItem("https://x/2")}, // must never be reached
	}}
	store := memory.New(memory.Config{})
	r := runner.New(runner.Config{
		Harvesters: newRegistry(h),
		Storage:    store,
	})
	report := r.Run(context.Background(), "src", model.SourceArticle, model.Query{Size: 1}, model.SourceTypeArticlePublisher, "platform")
	if report.Scraped != 1 {
		t.Fatalf("scraped = %d, want 1 (pagination must stop at the empty page)", report.Scraped)
	}
}

func TestRunStopsPaginationAtQueryLimit(t *testing.T) {
	h := &stubHarvester{pages: [][]model.RawItem{
		{articleItem("https://x/1"), articleItem("https://x/2")},
		{articleItem("https://x/3")}, // must never be reached
	}}
	store := memory.New(memory.Config{})
	r := runner.New(runner.Config{
		Harvesters: newRegistry(h),
		Storage:    store,
	})
	report := r.Run(context.Background(), "src", model.SourceArticle, model.Query{Size: 2, Limit: 2}, model.SourceTypeArticlePublisher, "platform")
	if report.Scraped != 2 {
		t.Fatalf("scraped = %d, want 2 (pagination must stop once query.Limit is reached)", report.Scraped)
	}
	if h.calls.Load() != 1 {
		t.Fatalf("harvester was called %d times, want 1", h.calls.Load())
	}
}

func TestRunAcquiresTheKeyPoolForItsOwnSourceOnly(t *testing.T) {
	h := &stubHarvester{pages: [][]model.RawItem{{articleItem("https://x/1")}}}
	registry := harvester.NewRegistry(map[string]harvester.Factory{
		"a": func(string, *slog.Logger) (harvester.Harvester, error) { return h, nil },
	})
	store := memory.New(memory.Config{})
	poolA := keypool.New(keypool.Config{Credentials: []string{"a-key"}})
	poolB := keypool.New(keypool.Config{Credentials: []string{"b-key"}})
	r := runner.New(runner.Config{
		Harvesters: registry,
		Storage:    store,
		KeyPools:   map[string]*keypool.Pool{"a": poolA, "b": poolB},
	})

	report := r.Run(context.Background(), "a", model.SourceArticle, model.Query{}, model.SourceTypeArticlePublisher, "platform")
	if report.Status != runner.StatusSuccess {
		t.Fatalf("status = %v, err = %v", report.Status, report.Err)
	}
	if poolA.Status().Keys[0].RequestCount != 1 {
		t.Fatalf("pool a request count = %d, want 1", poolA.Status().Keys[0].RequestCount)
	}
	if poolB.Status().Keys[0].RequestCount != 0 {
		t.Fatalf("pool b request count = %d, want 0 (run was for source a)", poolB.Status().Keys[0].RequestCount)
	}
}

func TestRunDispatchesToTheClassifierForItsOwnKindOnly(t *testing.T) {
	var articleHits, videoHits atomic.Int32
	articleServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		articleHits.Add(1)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer articleServer.Close()
	videoServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		videoHits.Add(1)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer videoServer.Close()

	articleDispatcher, err := classifier.New(classifier.Config{Endpoint: articleServer.URL})
	if err != nil {
		t.Fatalf("classifier.New: %v", err)
	}
	videoDispatcher, err := classifier.New(classifier.Config{Endpoint: videoServer.URL})
	if err != nil {
		t.Fatalf("classifier.New: %v", err)
	}

	h := &stubHarvester{pages: [][]model.RawItem{{articleItem("https://x/1")}}}
	store := memory.New(memory.Config{})
	r := runner.New(runner.Config{
		Harvesters: newRegistry(h),
		Storage:    store,
		Classifiers: map[model.SourceKind]*classifier.Dispatcher{
			model.SourceArticle: articleDispatcher,
			model.SourceVideo:   videoDispatcher,
		},
	})

	report := r.Run(context.Background(), "src", model.SourceArticle, model.Query{}, model.SourceTypeArticlePublisher, "platform")
	if report.Status != runner.StatusSuccess {
		t.Fatalf("status = %v, err = %v", report.Status, report.Err)
	}
	if articleHits.Load() != 1 {
		t.Fatalf("article classifier hits = %d, want 1", articleHits.Load())
	}
	if videoHits.Load() != 0 {
		t.Fatalf("video classifier hits = %d, want 0 (run was for kind article)", videoHits.Load())
	}
}

func TestRunCircuitOpenSkipsHarvest(t *testing.T) {
	h := &stubHarvester{pages: [][]model.RawItem{{articleItem("https://x/1")}}}
	br := breaker.NewRegistry(breaker.Config{FailureThreshold: 1, RecoveryTimeout: time.Hour})
	for i := 0; i < 1; i++ {
		br.Allow("src")
		br.RecordFailure("src")
	}
	store := memory.New(memory.Config{})
	r := runner.New(runner.Config{
		Harvesters: newRegistry(h),
		Storage:    store,
		Breaker:    br,
	})
	report := r.Run(context.Background(), "src", model.SourceArticle, model.Query{}, model.SourceTypeArticlePublisher, "platform")
	if report.Status != runner.StatusCircuitOpen {
		t.Fatalf("status = %v, want circuitOpen", report.Status)
	}
	if h.calls.Load() != 0 {
		t.Fatalf("harvester was called %d times, want 0 when breaker is open", h.calls.Load())
	}
}

func TestRunRetriesTransientErrorThenSucceeds(t *testing.T) {
	h := &stubHarvester{
		pages: [][]model.RawItem{{articleItem("https://x/1")}},
		failOnce: map[int]error{
			0: errs.New(errs.KindUpstreamTransient, "fetch", errors.New("connection reset")),
		},
	}
	store := memory.New(memory.Config{})
	r := runner.New(runner.Config{
		Harvesters:          newRegistry(h),
		Storage:             store,
		MaxRetriesPerSource: 2,
		BackoffBase:         time.Millisecond,
		BackoffMax:          10 * time.Millisecond,
	})
	report := r.Run(context.Background(), "src", model.SourceArticle, model.Query{}, model.SourceTypeArticlePublisher, "platform")
	if report.Status != runner.StatusSuccess {
		t.Fatalf("status = %v, err = %v, want success after retry", report.Status, report.Err)
	}
	if report.Inserted != 1 {
		t.Fatalf("inserted = %d, want 1", report.Inserted)
	}
}

func TestRunVideoPolicySkipsShortDurationAndMissingTranscript(t *testing.T) {
	h := &stubHarvester{pages: [][]model.RawItem{
		{
			{Video: &model.Video{ExternalVideoID: "v1", DurationSeconds: 5}},
			{Video: &model.Video{ExternalVideoID: "v2", DurationSeconds: 120, TranscriptEnglish: ""}},
			{Video: &model.Video{ExternalVideoID: "v3", DurationSeconds: 120, TranscriptEnglish: "hi"}},
		},
	}}
	store := memory.New(memory.Config{})
	r := runner.New(runner.Config{
		Harvesters: newRegistry(h),
		Storage:    store,
		VideoPolicy: runner.VideoPolicy{
			MinDurationSeconds: 30,
			RequireEnglish:     true,
		},
	})
	report := r.Run(context.Background(), "src", model.SourceVideo, model.Query{}, model.SourceTypeVideoChannel, "platform")
	if report.Inserted != 1 {
		t.Fatalf("inserted = %d, want 1", report.Inserted)
	}
	if report.PolicySkipped.DurationOutOfRange != 1 {
		t.Fatalf("duration skips = %d, want 1", report.PolicySkipped.DurationOutOfRange)
	}
	if report.PolicySkipped.MissingTranscript != 1 {
		t.Fatalf("transcript skips = %d, want 1", report.PolicySkipped.MissingTranscript)
	}
}

func TestRunClassifierFailureDoesNotFailTheRun(t *testing.T) {
	h := &stubHarvester{pages: [][]model.RawItem{{articleItem("https://x/1")}}}
	store := memory.New(memory.Config{})
	dispatcher, err := classifier.New(classifier.Config{Endpoint: "http://127.0.0.1:0/unreachable"})
	if err != nil {
		t.Fatalf("classifier.New: %v", err)
	}
	r := runner.New(runner.Config{
		Harvesters:  newRegistry(h),
		Storage:     store,
		Classifiers: map[model.SourceKind]*classifier.Dispatcher{model.SourceArticle: dispatcher},
	})
	report := r.Run(context.Background(), "src", model.SourceArticle, model.Query{}, model.SourceTypeArticlePublisher, "platform")
	if report.Status != runner.StatusSuccess {
		t.Fatalf("status = %v, want success even though classification failed", report.Status)
	}
	if report.ClassificationFailed != 1 {
		t.Fatalf("classificationFailed = %d, want 1", report.ClassificationFailed)
	}
}

func TestRunIdempotenceAcrossTwoRuns(t *testing.T) {
	h := &stubHarvester{pages: [][]model.RawItem{{articleItem("https://x/1"), articleItem("https://x/2")}}}
	store := memory.New(memory.Config{})
	r := runner.New(runner.Config{
		Harvesters: newRegistry(h),
		Storage:    store,
	})
	first := r.Run(context.Background(), "src", model.SourceArticle, model.Query{}, model.SourceTypeArticlePublisher, "platform")
	second := r.Run(context.Background(), "src", model.SourceArticle, model.Query{}, model.SourceTypeArticlePublisher, "platform")
	if first.Inserted != 2 {
		t.Fatalf("first.Inserted = %d, want 2", first.Inserted)
	}
	if second.Inserted != 0 || second.DuplicatesSkipped != 2 {
		t.Fatalf("second run = %+v, want 0 inserted, 2 duplicate", second)
	}
}

func TestPreviewScrapesButDoesNotPersist(t *testing.T) {
	h := &stubHarvester{pages: [][]model.RawItem{{articleItem("https://x/1"), articleItem("https://x/2")}}}
	store := memory.New(memory.Config{})
	r := runner.New(runner.Config{
		Harvesters: newRegistry(h),
		Storage:    store,
	})

	preview := r.Preview(context.Background(), "src", model.SourceArticle, model.Query{})
	if preview.Status != runner.StatusSuccess {
		t.Fatalf("Status = %v, want success", preview.Status)
	}
	if preview.Scraped != 2 || preview.Inserted != 0 {
		t.Fatalf("preview = %+v, want 2 scraped, 0 inserted", preview)
	}

	counts, err := store.CountsByPlatform(context.Background())
	if err != nil {
		t.Fatalf("CountsByPlatform: %v", err)
	}
	if len(counts) != 0 {
		t.Fatalf("CountsByPlatform = %+v, want empty (preview must not persist)", counts)
	}
}
