// Package coordinator implements the Batch Coordinator (C8): fan-out of
// Source Runner invocations across many sources under a bounded semaphore,
// using errgroup.SetLimit the way internal/index/build.go uses errgroup for
// concurrent index builds (there without a limit, since index
// builds there are intentionally unbounded; here the semaphore is the
// whole point per spec.md §4.8).
package coordinator

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"contentengine/internal/logging"
	"contentengine/internal/model"
	"contentengine/internal/runner"
)

// SourceQuery pairs one source with the query and identity it should run
// against.
type SourceQuery struct {
	Source     string
	Kind       model.SourceKind
	Query      model.Query
	SourceType model.SourceType
	Platform   string
}

// Summary aggregates the outcome of running every SourceQuery in a batch.
type Summary struct {
	Reports []runner.RunReport

	SourcesProcessed int
	SourcesSucceeded int
	SourcesFailed    int

	TotalScraped              int
	TotalInserted             int
	TotalClassified           int
	TotalClassificationFailed int
	TotalDuplicatesSkipped    int
	TotalPolicySkipped        int
}

// Coordinator runs Source Runners concurrently under a bounded semaphore.
type Coordinator struct {
	runner        *runner.Runner
	maxConcurrent int
	logger        *slog.Logger
}

// Config configures a Coordinator.
type Config struct {
	Runner        *runner.Runner
	MaxConcurrent int // defaults to 1 (fully sequential) if <= 0
	Logger        *slog.Logger
}

// New builds a Coordinator.
func New(cfg Config) *Coordinator {
	max := cfg.MaxConcurrent
	if max <= 0 {
		max = 1
	}
	return &Coordinator{
		runner:        cfg.Runner,
		maxConcurrent: max,
		logger:        logging.Default(cfg.Logger).With("component", "coordinator"),
	}
}

// Run executes queries concurrently (bounded by maxConcurrent), waiting for
// every runner to complete even if some fail. Summary entries preserve the
// input order. Cancelling ctx cancels all in-flight runners.
func (c *Coordinator) Run(ctx context.Context, queries []SourceQuery) Summary {
	reports := make([]runner.RunReport, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxConcurrent)

	for i, sq := range queries {
		i, sq := i, sq
		g.Go(func() error {
			reports[i] = c.runner.Run(gctx, sq.Source, sq.Kind, sq.Query, sq.SourceType, sq.Platform)
			return nil
		})
	}
	// errgroup.Wait only returns an error if a Go func returns one; ours
	// never do, since per-source failures are captured in RunReport, not
	// propagated as errors (spec.md §8: "the service does not crash on any
	// per-source failure").
	_ = g.Wait()

	return summarize(reports)
}

func summarize(reports []runner.RunReport) Summary {
	s := Summary{Reports: reports, SourcesProcessed: len(reports)}
	for _, r := range reports {
		if r.Status == runner.StatusSuccess {
			s.SourcesSucceeded++
		} else {
			s.SourcesFailed++
		}
		s.TotalScraped += r.Scraped
		s.TotalInserted += r.Inserted
		s.TotalClassified += r.Classified
		s.TotalClassificationFailed += r.ClassificationFailed
		s.TotalDuplicatesSkipped += r.DuplicatesSkipped
		s.TotalPolicySkipped += r.PolicySkipped.Total()
	}
	return s
}
