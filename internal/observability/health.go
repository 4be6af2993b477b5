package observability

import (
	"context"
	"time"

	"contentengine/internal/breaker"
	"contentengine/internal/keypool"
	"contentengine/internal/scheduler"
	"contentengine/internal/storage"
)

// JobHealth is the per-job slice of a Report.
type JobHealth struct {
	Name    string
	Active  bool // at least one instance currently running
	NextRun time.Time
	LastRun time.Time
}

// BreakerHealth is the per-source slice of a Report.
type BreakerHealth struct {
	Source string
	State  breaker.State
}

// Report is the aggregated snapshot /health returns: scheduler running
// flag, per-job active status, storage reachability, per-source breaker
// state, and per-pool key availability, per SPEC_FULL.md §4.11.
type Report struct {
	SchedulerRunning bool
	Jobs             []JobHealth
	StorageOK        bool
	StorageError     string
	Breakers         []BreakerHealth
	KeyPools         map[string]keypool.Summary
}

// Healthy reports whether the aggregated report represents a fully healthy
// service: storage reachable and no breaker tripped open.
func (r Report) Healthy() bool {
	if !r.StorageOK {
		return false
	}
	for _, b := range r.Breakers {
		if b.State == breaker.StateOpen {
			return false
		}
	}
	return true
}

// Health aggregates the collaborators a /health handler needs to poll.
// Scheduler is required; Breaker and KeyPools may be nil/empty when a
// deployment runs no credentialed or breaker-guarded sources.
type Health struct {
	Scheduler *scheduler.Scheduler
	Storage   storage.Reader
	Breaker   *breaker.Registry
	KeyPools  map[string]*keypool.Pool
}

// Check polls every collaborator and assembles a Report. Storage.Ping is
// the only call that can block meaningfully; everything else reads
// in-memory state.
func (h *Health) Check(ctx context.Context) Report {
	report := Report{SchedulerRunning: h.Scheduler != nil && h.Scheduler.Running()}

	if h.Scheduler != nil {
		for _, info := range h.Scheduler.ListJobs() {
			report.Jobs = append(report.Jobs, JobHealth{
				Name:    info.Name,
				Active:  info.Stats.Instances > 0,
				NextRun: info.NextRun,
				LastRun: info.LastRun,
			})
		}
	}

	if h.Storage != nil {
		if err := h.Storage.Ping(ctx); err != nil {
			report.StorageError = err.Error()
		} else {
			report.StorageOK = true
		}
	}

	if h.Breaker != nil {
		for _, source := range h.Breaker.Sources() {
			report.Breakers = append(report.Breakers, BreakerHealth{
				Source: source,
				State:  h.Breaker.State(source),
			})
		}
	}

	if len(h.KeyPools) > 0 {
		report.KeyPools = make(map[string]keypool.Summary, len(h.KeyPools))
		for name, pool := range h.KeyPools {
			report.KeyPools[name] = pool.Status()
		}
	}

	return report
}
