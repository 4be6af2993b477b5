// Package scheduler runs the two periodic acquisition jobs (article, video)
// on top of go-co-op/gocron/v2, the way internal/orchestrator/scheduler.go
// wraps gocron for the teacher's cron rotation. gocron supplies the timer
// and per-firing goroutine; the idle/running state machine, maxInstances
// admission, coalescing, misfire grace, and jitter are this package's own,
// since gocron v2 has no such concept for duration-based jobs.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"contentengine/internal/clock"
	"contentengine/internal/coordinator"
	"contentengine/internal/logging"
)

// JobStats tracks firing counters for one job. Methods are safe for
// concurrent use, mirroring the teacher's JobProgress.
type JobStats struct {
	mu sync.RWMutex

	RunsStarted   int64
	RunsSucceeded int64
	RunsFailed    int64
	RunsCoalesced int64
	RunsDropped   int64
	Instances     int
	LastFiredAt   time.Time
	LastStartedAt time.Time
	LastEndedAt   time.Time
	LastError     string
	LastSummary   coordinator.Summary
}

func (s *JobStats) markFired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastFiredAt = time.Now()
}

func (s *JobStats) markCoalesced() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RunsCoalesced++
}

func (s *JobStats) markDropped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RunsDropped++
}

func (s *JobStats) markStarted(now time.Time, instances int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RunsStarted++
	s.LastStartedAt = now
	s.Instances = instances
}

func (s *JobStats) markEnded(now time.Time, instances int, summary coordinator.Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Instances = instances
	s.LastEndedAt = now
	s.LastSummary = summary
	if summary.SourcesFailed > 0 && summary.SourcesSucceeded == 0 {
		s.RunsFailed++
		s.LastError = fmt.Sprintf("%d/%d sources failed", summary.SourcesFailed, summary.SourcesProcessed)
	} else {
		s.RunsSucceeded++
		s.LastError = ""
	}
}

// Snapshot returns a read-consistent copy of the stats.
func (s *JobStats) Snapshot() JobStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return JobStats{
		RunsStarted:   s.RunsStarted,
		RunsSucceeded: s.RunsSucceeded,
		RunsFailed:    s.RunsFailed,
		RunsCoalesced: s.RunsCoalesced,
		RunsDropped:   s.RunsDropped,
		Instances:     s.Instances,
		LastFiredAt:   s.LastFiredAt,
		LastStartedAt: s.LastStartedAt,
		LastEndedAt:   s.LastEndedAt,
		LastError:     s.LastError,
		LastSummary:   s.LastSummary,
	}
}

// JobConfig declares one periodic job per spec.md §4.9.
type JobConfig struct {
	Name    string
	Queries []coordinator.SourceQuery

	Interval     time.Duration
	MaxInstances int // hard cap on concurrent executions; defaults to 1
	Coalesce     bool
	MisfireGrace time.Duration
	Jitter       time.Duration
	StartDelay   time.Duration // offsets the first firing only
}

func (c JobConfig) withDefaults() JobConfig {
	if c.MaxInstances <= 0 {
		c.MaxInstances = 1
	}
	return c
}

// JobInfo is the external, read-only view of a registered job.
type JobInfo struct {
	Name     string
	Interval time.Duration
	NextRun  time.Time
	LastRun  time.Time
	Stats    JobStats
}

// job is the scheduler's internal bookkeeping for one registered JobConfig.
type job struct {
	mu              sync.Mutex
	cfg             JobConfig
	stats           *JobStats
	instances       int
	pendingCoalesce bool
	pendingSince    time.Time
	gocronJob       gocron.Job
}

// Config configures a Scheduler.
type Config struct {
	Coordinator *coordinator.Coordinator
	Clock       clock.Clock // defaults to clock.Real()
	Logger      *slog.Logger
}

// Scheduler owns the gocron timer and the jobs registered against it.
type Scheduler struct {
	mu          sync.Mutex
	gs          gocron.Scheduler
	running     bool
	jobs        map[string]*job
	coordinator *coordinator.Coordinator
	clock       clock.Clock
	logger      *slog.Logger
}

// New creates a Scheduler and starts its underlying gocron timer.
func New(cfg Config) (*Scheduler, error) {
	gs, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("scheduler: create gocron scheduler: %w", err)
	}
	c := cfg.Clock
	if c == nil {
		c = clock.Real()
	}
	s := &Scheduler{
		gs:          gs,
		running:     true,
		jobs:        make(map[string]*job),
		coordinator: cfg.Coordinator,
		clock:       c,
		logger:      logging.Default(cfg.Logger).With("component", "scheduler"),
	}
	gs.Start()
	return s, nil
}

// Running reports whether the scheduler's timer is currently dispatching
// ticks. Stop sets this false; Start sets it true again.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start resumes a stopped scheduler: it builds a fresh gocron timer and
// re-registers every known job against it, preserving each job's stats. A
// no-op if the scheduler is already running.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	gs, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("scheduler: create gocron scheduler: %w", err)
	}
	s.gs = gs
	for _, j := range s.jobs {
		gj, err := s.registerLocked(j)
		if err != nil {
			return err
		}
		j.gocronJob = gj
	}
	s.gs.Start()
	s.running = true
	s.logger.Info("scheduler started")
	return nil
}

// AddJob registers a new periodic job. The name must be unique.
func (s *Scheduler) AddJob(cfg JobConfig) error {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[cfg.Name]; exists {
		return fmt.Errorf("scheduler: job %q already registered", cfg.Name)
	}

	j := &job{cfg: cfg, stats: &JobStats{}}
	gj, err := s.registerLocked(j)
	if err != nil {
		return err
	}
	j.gocronJob = gj
	s.jobs[cfg.Name] = j
	s.logger.Info("job registered", "name", cfg.Name, "interval", cfg.Interval, "max_instances", cfg.MaxInstances)
	return nil
}

func (s *Scheduler) registerLocked(j *job) (gocron.Job, error) {
	opts := []gocron.JobOption{gocron.WithName(j.cfg.Name)}
	if j.cfg.StartDelay > 0 {
		opts = append(opts, gocron.WithStartAt(gocron.WithStartDateTime(s.clock.Now().Add(j.cfg.StartDelay))))
	}
	gj, err := s.gs.NewJob(
		gocron.DurationJob(j.cfg.Interval),
		gocron.NewTask(func() { s.fire(j, true) }),
		opts...,
	)
	if err != nil {
		return nil, fmt.Errorf("scheduler: register job %q: %w", j.cfg.Name, err)
	}
	return gj, nil
}

// RemoveJob stops and forgets a job. No-op if unknown.
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if !ok {
		return
	}
	if j.gocronJob != nil {
		if err := s.gs.RemoveJob(j.gocronJob.ID()); err != nil {
			s.logger.Warn("failed to remove job", "name", name, "error", err)
		}
	}
	delete(s.jobs, name)
	s.logger.Info("job removed", "name", name)
}

// UpdateJob replaces a job's configuration, atomically swapping its gocron
// trigger. Stats carry over; an in-flight firing is not cancelled (spec.md
// §4.9: "in-flight executions are not cancelled").
func (s *Scheduler) UpdateJob(cfg JobConfig) error {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.jobs[cfg.Name]
	if !ok {
		return fmt.Errorf("scheduler: unknown job %q", cfg.Name)
	}
	if existing.gocronJob != nil {
		if err := s.gs.RemoveJob(existing.gocronJob.ID()); err != nil {
			s.logger.Warn("failed to remove job during reconfigure", "name", cfg.Name, "error", err)
		}
	}

	existing.mu.Lock()
	existing.cfg = cfg
	existing.mu.Unlock()

	gj, err := s.registerLocked(existing)
	if err != nil {
		return err
	}
	existing.gocronJob = gj
	s.logger.Info("job reconfigured", "name", cfg.Name, "interval", cfg.Interval)
	return nil
}

// Trigger fires a job immediately, bypassing interval timing but still
// respecting MaxInstances (spec.md §4.9). Returns an error if the job is
// unknown, or if it is at capacity and not configured to coalesce.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	running := s.running
	s.mu.Unlock()
	if !running {
		return fmt.Errorf("scheduler: stopped, cannot trigger %q", name)
	}
	if !ok {
		return fmt.Errorf("scheduler: unknown job %q", name)
	}
	if !s.fire(j, false) {
		return fmt.Errorf("scheduler: job %q is at max instances and does not coalesce", name)
	}
	return nil
}

// fire is invoked once per gocron tick (applyJitter=true) or once per
// manual Trigger call (applyJitter=false). It returns false only when the
// firing was dropped outright (at capacity, coalesce disabled).
func (s *Scheduler) fire(j *job, applyJitter bool) bool {
	now := s.clock.Now()
	j.stats.markFired()

	j.mu.Lock()
	if j.instances >= j.cfg.MaxInstances {
		if j.cfg.Coalesce {
			if !j.pendingCoalesce {
				j.pendingCoalesce = true
				j.pendingSince = now
			}
			j.mu.Unlock()
			j.stats.markCoalesced()
			s.logger.Debug("firing coalesced", "name", j.cfg.Name)
			return true
		}
		j.mu.Unlock()
		j.stats.markDropped()
		s.logger.Warn("firing dropped, at max instances", "name", j.cfg.Name)
		return false
	}
	j.instances++
	instances := j.instances
	j.mu.Unlock()

	go s.runInstance(j, now, instances, applyJitter)
	return true
}

// runInstance executes one admitted firing asynchronously: optional jitter
// sleep, a misfire-grace check, the Batch Coordinator run, and the
// resulting coalesce catch-up if one is pending.
func (s *Scheduler) runInstance(j *job, scheduledAt time.Time, instances int, applyJitter bool) {
	s.runInstanceCtx(context.Background(), j, scheduledAt, instances, applyJitter)
}

// runInstanceCtx is the shared body behind both the fire-and-forget path
// (runInstance, invoked from a goroutine) and TriggerSync's synchronous
// path. It returns the resulting Summary, zero-valued if the firing was
// dropped for misfire grace.
func (s *Scheduler) runInstanceCtx(ctx context.Context, j *job, scheduledAt time.Time, instances int, applyJitter bool) coordinator.Summary {
	if applyJitter && j.cfg.Jitter > 0 {
		if err := s.clock.Sleep(ctx, clock.JitterDuration(j.cfg.Jitter)); err != nil {
			s.logger.Warn("jitter sleep interrupted", "name", j.cfg.Name, "error", err)
		}
	}

	if j.cfg.MisfireGrace > 0 {
		if delay := s.clock.Now().Sub(scheduledAt); delay > j.cfg.MisfireGrace {
			j.stats.markDropped()
			s.logger.Warn("firing dropped, exceeded misfire grace", "name", j.cfg.Name, "delay", delay)
			s.endInstance(j)
			return coordinator.Summary{}
		}
	}

	startedAt := s.clock.Now()
	j.stats.markStarted(startedAt, instances)
	s.logger.Info("job firing started", "name", j.cfg.Name)

	summary := s.coordinator.Run(ctx, j.cfg.Queries)

	endedAt := s.clock.Now()
	j.mu.Lock()
	j.instances--
	remaining := j.instances
	j.mu.Unlock()
	j.stats.markEnded(endedAt, remaining, summary)
	s.logger.Info("job firing finished", "name", j.cfg.Name,
		"sources_succeeded", summary.SourcesSucceeded, "sources_failed", summary.SourcesFailed)

	s.dispatchPendingCoalesce(j)
	return summary
}

// TriggerSync fires a job immediately like Trigger, but runs it on the
// calling goroutine and returns the resulting Summary instead of
// dispatching it in the background. It does not coalesce: a job already
// at MaxInstances returns an error rather than queuing a catch-up, since a
// synchronous caller has nothing to catch up later.
func (s *Scheduler) TriggerSync(ctx context.Context, name string) (coordinator.Summary, error) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	running := s.running
	s.mu.Unlock()
	if !running {
		return coordinator.Summary{}, fmt.Errorf("scheduler: stopped, cannot trigger %q", name)
	}
	if !ok {
		return coordinator.Summary{}, fmt.Errorf("scheduler: unknown job %q", name)
	}

	now := s.clock.Now()
	j.stats.markFired()

	j.mu.Lock()
	if j.instances >= j.cfg.MaxInstances {
		j.mu.Unlock()
		j.stats.markDropped()
		return coordinator.Summary{}, fmt.Errorf("scheduler: job %q is at max instances", name)
	}
	j.instances++
	instances := j.instances
	j.mu.Unlock()

	return s.runInstanceCtx(ctx, j, now, instances, false), nil
}

// endInstance releases an instance slot that never ran its Coordinator pass
// (dropped for misfire grace) and dispatches any still-pending coalesce.
func (s *Scheduler) endInstance(j *job) {
	j.mu.Lock()
	j.instances--
	j.mu.Unlock()
	s.dispatchPendingCoalesce(j)
}

func (s *Scheduler) dispatchPendingCoalesce(j *job) {
	j.mu.Lock()
	if !j.pendingCoalesce || j.instances >= j.cfg.MaxInstances {
		j.mu.Unlock()
		return
	}
	pendingSince := j.pendingSince
	j.pendingCoalesce = false
	j.instances++
	instances := j.instances
	j.mu.Unlock()

	go s.runInstance(j, pendingSince, instances, false)
}

// ListJobs returns info for every registered job.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := make([]JobInfo, 0, len(s.jobs))
	for name, j := range s.jobs {
		infos = append(infos, s.infoLocked(name, j))
	}
	return infos
}

// GetJob returns info for a single job by name.
func (s *Scheduler) GetJob(name string) (JobInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if !ok {
		return JobInfo{}, false
	}
	return s.infoLocked(name, j), true
}

func (s *Scheduler) infoLocked(name string, j *job) JobInfo {
	info := JobInfo{Name: name, Interval: j.cfg.Interval, Stats: j.stats.Snapshot()}
	if j.gocronJob != nil {
		if nr, err := j.gocronJob.NextRun(); err == nil {
			info.NextRun = nr
		}
		if lr, err := j.gocronJob.LastRun(); err == nil {
			info.LastRun = lr
		}
	}
	return info
}

// Stop shuts down the underlying gocron timer, so no further ticks fire.
// It does not wait for in-flight Coordinator runs; use StopAndWait for that.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	s.running = false
	gs := s.gs
	s.mu.Unlock()
	return gs.Shutdown()
}

// StopAndWait stops the timer like Stop, then blocks until every job's
// in-flight Coordinator runs have completed or ctx is done, per spec.md
// §4.10 ("Stop may wait for in-flight jobs").
func (s *Scheduler) StopAndWait(ctx context.Context) error {
	if err := s.Stop(); err != nil {
		return err
	}
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if s.noInstancesRunning() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) noInstancesRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		j.mu.Lock()
		running := j.instances > 0
		j.mu.Unlock()
		if running {
			return false
		}
	}
	return true
}
