package postgres_test

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"contentengine/internal/model"
	"contentengine/internal/storage/postgres"
)

// requireTestDSN skips the test unless CONTENTENGINE_POSTGRES_TEST_DSN
// points at a scratch database. These tests never run against a shared or
// production database.
func requireTestDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("CONTENTENGINE_POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("CONTENTENGINE_POSTGRES_TEST_DSN not set; skipping postgres integration test")
	}
	return dsn
}

func newTestGateway(t *testing.T) *postgres.Gateway {
	t.Helper()
	dsn := requireTestDSN(t)

	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	if err := postgres.RunMigrations(sqlDB); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	t.Cleanup(pool.Close)

	gw, err := postgres.New(postgres.Config{Pool: pool})
	if err != nil {
		t.Fatalf("postgres.New: %v", err)
	}
	t.Cleanup(gw.Close)
	return gw
}

func TestResolveSourceIsIdempotent(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()

	id1, err := gw.ResolveSource(ctx, model.SourceTypeArticlePublisher, "integration-news", "https://example.com")
	if err != nil {
		t.Fatalf("ResolveSource: %v", err)
	}
	id2, err := gw.ResolveSource(ctx, model.SourceTypeArticlePublisher, "integration-news", "https://example.com")
	if err != nil {
		t.Fatalf("ResolveSource: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected idempotent source IDs, got %q and %q", id1, id2)
	}
}

func TestInsertArticleBatchDedupesByFingerprint(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()

	sourceID, err := gw.ResolveSource(ctx, model.SourceTypeArticlePublisher, "integration-dedup", "")
	if err != nil {
		t.Fatalf("ResolveSource: %v", err)
	}

	items := []model.Article{{Fingerprint: "https://example.com/integration-a", Title: "A"}}
	first, err := gw.InsertArticleBatch(ctx, sourceID, items)
	if err != nil {
		t.Fatalf("InsertArticleBatch: %v", err)
	}
	if len(first.InsertedIDs) != 1 {
		t.Fatalf("first insert = %+v, want 1 inserted", first)
	}

	second, err := gw.InsertArticleBatch(ctx, sourceID, items)
	if err != nil {
		t.Fatalf("InsertArticleBatch: %v", err)
	}
	if second.DupCount != 1 || len(second.InsertedIDs) != 0 {
		t.Fatalf("second insert = %+v, want 1 dup, 0 inserted", second)
	}
}

func TestPing(t *testing.T) {
	gw := newTestGateway(t)
	if err := gw.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
