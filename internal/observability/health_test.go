package observability_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"contentengine/internal/breaker"
	"contentengine/internal/coordinator"
	"contentengine/internal/harvester"
	"contentengine/internal/keypool"
	"contentengine/internal/model"
	"contentengine/internal/observability"
	"contentengine/internal/runner"
	"contentengine/internal/scheduler"
	"contentengine/internal/storage"
	"contentengine/internal/storage/memory"
)

type stubHarvester struct{}

func (stubHarvester) Harvest(ctx context.Context, q model.Query) ([]model.RawItem, error) {
	return nil, nil
}

func newTestScheduler(t *testing.T) *scheduler.Scheduler {
	t.Helper()
	reg := harvester.NewRegistry(map[string]harvester.Factory{
		"src": func(string, *slog.Logger) (harvester.Harvester, error) { return stubHarvester{}, nil },
	})
	store := memory.New(memory.Config{})
	r := runner.New(runner.Config{Harvesters: reg, Storage: store})
	c := coordinator.New(coordinator.Config{Runner: r, MaxConcurrent: 1})
	s, err := scheduler.New(scheduler.Config{Coordinator: c})
	if err != nil {
		t.Fatalf("scheduler.New: %v", err)
	}
	t.Cleanup(func() { s.Stop() })

	queries := []coordinator.SourceQuery{
		{Source: "src", Kind: model.SourceArticle, SourceType: model.SourceTypeArticlePublisher, Platform: "src"},
	}
	if err := s.AddJob(scheduler.JobConfig{Name: "articles", Queries: queries, Interval: time.Hour}); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	return s
}

// pingingStore satisfies storage.Reader with only Ping behaving
// meaningfully; the other methods are unused by Health.Check.
type pingingStore struct{ err error }

func (p pingingStore) Ping(ctx context.Context) error { return p.err }

func (p pingingStore) CountsByPlatform(ctx context.Context) (map[string]int64, error) {
	return nil, nil
}

func (p pingingStore) RecentActivity(ctx context.Context, kind model.SourceKind, buckets int, bucketSize time.Duration) ([]storage.ActivityPoint, error) {
	return nil, nil
}

func (p pingingStore) LanguageDistribution(ctx context.Context) ([]storage.LanguageCount, error) {
	return nil, nil
}

func (p pingingStore) Search(ctx context.Context, query string, limit int) ([]storage.SearchResult, error) {
	return nil, nil
}

func TestCheckReportsHealthyWhenEverythingUp(t *testing.T) {
	s := newTestScheduler(t)
	br := breaker.NewRegistry(breaker.Config{FailureThreshold: 3, RecoveryTimeout: time.Minute})
	br.Allow("src")
	br.RecordSuccess("src")

	pool := keypool.New(keypool.Config{Credentials: []string{"k1", "k2"}})

	h := &observability.Health{
		Scheduler: s,
		Storage:   pingingStore{},
		Breaker:   br,
		KeyPools:  map[string]*keypool.Pool{"yt": pool},
	}

	report := h.Check(context.Background())

	if !report.SchedulerRunning {
		t.Fatal("expected SchedulerRunning true")
	}
	if len(report.Jobs) != 1 || report.Jobs[0].Name != "articles" {
		t.Fatalf("Jobs = %+v, want one entry named articles", report.Jobs)
	}
	if !report.StorageOK {
		t.Fatal("expected StorageOK true")
	}
	if len(report.Breakers) != 1 || report.Breakers[0].State != breaker.StateClosed {
		t.Fatalf("Breakers = %+v, want one closed entry", report.Breakers)
	}
	summary, ok := report.KeyPools["yt"]
	if !ok || summary.TotalKeys != 2 {
		t.Fatalf("KeyPools[yt] = %+v, want TotalKeys 2", summary)
	}
	if !report.Healthy() {
		t.Fatal("expected Healthy() true")
	}
}

func TestCheckReportsStorageFailure(t *testing.T) {
	h := &observability.Health{
		Storage: pingingStore{err: errors.New("connection refused")},
	}
	report := h.Check(context.Background())
	if report.StorageOK {
		t.Fatal("expected StorageOK false")
	}
	if report.StorageError == "" {
		t.Fatal("expected StorageError to be populated")
	}
	if report.Healthy() {
		t.Fatal("expected Healthy() false when storage is down")
	}
}

func TestCheckReportsOpenBreakerAsUnhealthy(t *testing.T) {
	br := breaker.NewRegistry(breaker.Config{FailureThreshold: 1, RecoveryTimeout: time.Minute})
	br.Allow("src")
	br.RecordFailure("src")

	h := &observability.Health{
		Storage: pingingStore{},
		Breaker: br,
	}
	report := h.Check(context.Background())
	if len(report.Breakers) != 1 || report.Breakers[0].State != breaker.StateOpen {
		t.Fatalf("Breakers = %+v, want one open entry", report.Breakers)
	}
	if report.Healthy() {
		t.Fatal("expected Healthy() false when a breaker is open")
	}
}

func TestCheckHandlesNilCollaborators(t *testing.T) {
	h := &observability.Health{}
	report := h.Check(context.Background())
	if report.SchedulerRunning {
		t.Fatal("expected SchedulerRunning false with nil scheduler")
	}
	if report.Jobs != nil {
		t.Fatalf("Jobs = %+v, want nil", report.Jobs)
	}
	if report.StorageOK {
		t.Fatal("expected StorageOK false with nil storage")
	}
	if report.Breakers != nil {
		t.Fatalf("Breakers = %+v, want nil", report.Breakers)
	}
	if report.KeyPools != nil {
		t.Fatalf("KeyPools = %+v, want nil", report.KeyPools)
	}
}
