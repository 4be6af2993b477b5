// Package control implements the Control Surface (C10) as a transport-free
// Go API: stats, reconfiguration, manual triggers, start/stop, reset
// operations, ad-hoc harvests, and read forwards to storage. internal/api
// is the thin go-chi layer that exposes these same operations over HTTP,
// the way the teacher's internal/server wraps internal/orchestrator and
// internal/chunk behind Connect-RPC handlers.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"contentengine/internal/breaker"
	"contentengine/internal/coordinator"
	"contentengine/internal/errs"
	"contentengine/internal/keypool"
	"contentengine/internal/logging"
	"contentengine/internal/model"
	"contentengine/internal/observability"
	"contentengine/internal/runner"
	"contentengine/internal/scheduler"
	"contentengine/internal/storage"
)

// Config wires a Control to its collaborators. Scheduler and Runner are
// required, and Storage is required by the storage read forwards, which
// call it without a nil check; Breaker, KeyPools, Health, and Metrics are
// optional — a deployment with no credentialed sources runs with a nil
// KeyPools map.
type Config struct {
	Scheduler *scheduler.Scheduler
	Runner    *runner.Runner
	Storage   storage.Reader
	Breaker   *breaker.Registry
	KeyPools  map[string]*keypool.Pool
	Health    *observability.Health
	Metrics   *observability.Metrics
	Logger    *slog.Logger
}

// Control is the Go-level API every transport (internal/api, a future CLI
// or gRPC surface) drives. It holds no state of its own beyond its
// collaborators' references.
type Control struct {
	scheduler *scheduler.Scheduler
	runner    *runner.Runner
	storage   storage.Reader
	breaker   *breaker.Registry
	keyPools  map[string]*keypool.Pool
	health    *observability.Health
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// New builds a Control from cfg.
func New(cfg Config) *Control {
	return &Control{
		scheduler: cfg.Scheduler,
		runner:    cfg.Runner,
		storage:   cfg.Storage,
		breaker:   cfg.Breaker,
		keyPools:  cfg.KeyPools,
		health:    cfg.Health,
		metrics:   cfg.Metrics,
		logger:    logging.Default(cfg.Logger).With("component", "control"),
	}
}

// BreakerStatus is one source's circuit breaker snapshot.
type BreakerStatus struct {
	Source string
	State  breaker.State
	Counts gobreaker.Counts
}

// StatsSnapshot is the response to "get scheduler stats" (spec.md §4.10):
// running flag, per-job next-fire/statistics, per-source breaker state and
// failure counters, key-pool status.
type StatsSnapshot struct {
	SchedulerRunning bool
	Jobs             []scheduler.JobInfo
	Breakers         []BreakerStatus
	KeyPools         map[string]keypool.Summary
}

// Stats returns a point-in-time snapshot of every scheduler, breaker, and
// key-pool collaborator.
func (c *Control) Stats(ctx context.Context) StatsSnapshot {
	snap := StatsSnapshot{}
	if c.scheduler != nil {
		snap.SchedulerRunning = c.scheduler.Running()
		snap.Jobs = c.scheduler.ListJobs()
	}
	if c.breaker != nil {
		for _, source := range c.breaker.Sources() {
			snap.Breakers = append(snap.Breakers, BreakerStatus{
				Source: source,
				State:  c.breaker.State(source),
				Counts: c.breaker.Counts(source),
			})
		}
	}
	if len(c.keyPools) > 0 {
		snap.KeyPools = make(map[string]keypool.Summary, len(c.keyPools))
		for name, pool := range c.keyPools {
			snap.KeyPools[name] = pool.Status()
		}
	}
	return snap
}

// ReconfigureJob replaces a job's stored configuration and rebuilds its
// trigger (spec.md §4.10), registering it if it doesn't exist yet so the
// same operation serves both first-time setup and later reconfiguration.
func (c *Control) ReconfigureJob(cfg scheduler.JobConfig) error {
	if _, ok := c.scheduler.GetJob(cfg.Name); ok {
		return c.scheduler.UpdateJob(cfg)
	}
	return c.scheduler.AddJob(cfg)
}

// TriggerJob invokes a single manual firing of name and returns the
// resulting Summary (spec.md §4.10). It does not coalesce: a job already
// running at MaxInstances returns an error.
func (c *Control) TriggerJob(ctx context.Context, name string) (coordinator.Summary, error) {
	summary, err := c.scheduler.TriggerSync(ctx, name)
	if c.metrics != nil && err == nil {
		c.metrics.ObserveSummary(name, summary)
	}
	return summary, err
}

// StartScheduler transitions the scheduler to running.
func (c *Control) StartScheduler() error {
	return c.scheduler.Start()
}

// StopScheduler transitions the scheduler to stopped. When wait is true it
// blocks until in-flight jobs complete (spec.md §4.10: "Stop may wait for
// in-flight jobs").
func (c *Control) StopScheduler(ctx context.Context, wait bool) error {
	if wait {
		return c.scheduler.StopAndWait(ctx)
	}
	return c.scheduler.Stop()
}

// ResetScope discriminates the three reset-failures targets spec.md §4.10
// names: global, a single source's breaker, or a single key pool.
type ResetScope int

const (
	ResetScopeGlobal ResetScope = iota
	ResetScopeSource
	ResetScopeKeyPool
)

// ResetFailures zeros breaker counters, closes breakers, and clears key
// exhaustion according to scope. name is ignored for ResetScopeGlobal and
// required otherwise.
func (c *Control) ResetFailures(ctx context.Context, scope ResetScope, name string) error {
	switch scope {
	case ResetScopeGlobal:
		if c.breaker != nil {
			for _, source := range c.breaker.Sources() {
				c.breaker.Reset(source)
			}
		}
		for _, pool := range c.keyPools {
			pool.Reset(ctx)
		}
		return nil
	case ResetScopeSource:
		if name == "" {
			return errs.New(errs.KindConfigError, "reset failures", fmt.Errorf("source name required"))
		}
		if c.breaker == nil {
			return errs.New(errs.KindConfigError, "reset failures", fmt.Errorf("no breaker registry configured"))
		}
		c.breaker.Reset(name)
		return nil
	case ResetScopeKeyPool:
		if name == "" {
			return errs.New(errs.KindConfigError, "reset failures", fmt.Errorf("key pool name required"))
		}
		pool, ok := c.keyPools[name]
		if !ok {
			return errs.New(errs.KindConfigError, "reset failures", fmt.Errorf("unknown key pool %q", name))
		}
		pool.Reset(ctx)
		return nil
	default:
		return errs.New(errs.KindConfigError, "reset failures", fmt.Errorf("unknown scope %d", scope))
	}
}

// AdHocHarvestRequest parameterizes a single out-of-band Source Runner
// invocation, bypassing the scheduler entirely.
type AdHocHarvestRequest struct {
	Source     string
	Kind       model.SourceKind
	Query      model.Query
	SourceType model.SourceType
	Platform   string
	Persist    bool
}

// AdHocHarvest runs one Source Runner invocation outside the scheduler
// (spec.md §4.10). When req.Persist is false it returns the RunReport
// without writing to storage (preview mode); otherwise it persists and
// dispatches to the Classifier like a scheduled run.
func (c *Control) AdHocHarvest(ctx context.Context, req AdHocHarvestRequest) runner.RunReport {
	if !req.Persist {
		return c.runner.Preview(ctx, req.Source, req.Kind, req.Query)
	}
	return c.runner.Run(ctx, req.Source, req.Kind, req.Query, req.SourceType, req.Platform)
}

// Health returns the current aggregated health report, or a zero Report
// if no Health collaborator was configured.
func (c *Control) Health(ctx context.Context) observability.Report {
	if c.health == nil {
		return observability.Report{}
	}
	return c.health.Check(ctx)
}

// CountsByPlatform forwards to storage.
func (c *Control) CountsByPlatform(ctx context.Context) (map[string]int64, error) {
	return c.storage.CountsByPlatform(ctx)
}

// RecentActivity forwards to storage.
func (c *Control) RecentActivity(ctx context.Context, kind model.SourceKind, buckets int, bucketSize time.Duration) ([]storage.ActivityPoint, error) {
	return c.storage.RecentActivity(ctx, kind, buckets, bucketSize)
}

// LanguageDistribution forwards to storage.
func (c *Control) LanguageDistribution(ctx context.Context) ([]storage.LanguageCount, error) {
	return c.storage.LanguageDistribution(ctx)
}

// SearchContent forwards to storage.
func (c *Control) SearchContent(ctx context.Context, query string, limit int) ([]storage.SearchResult, error) {
	return c.storage.Search(ctx, query, limit)
}
