// Package runner implements the Source Runner (C7): a single source's
// acquisition cycle — paginate, dedup, store, classify — with circuit
// breaker and key-pool integration and retry-with-backoff on transient
// upstream errors.
package runner

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"contentengine/internal/breaker"
	"contentengine/internal/classifier"
	"contentengine/internal/clock"
	"contentengine/internal/errs"
	"contentengine/internal/harvester"
	"contentengine/internal/keypool"
	"contentengine/internal/logging"
	"contentengine/internal/model"
	"contentengine/internal/storage"
)

// Status is the terminal state of a RunReport.
type Status string

const (
	StatusSuccess     Status = "success"
	StatusError       Status = "error"
	StatusTimeout     Status = "timeout"
	StatusCircuitOpen Status = "circuitOpen"
)

// PolicySkipReasons tallies why videos were skipped by the video policy
// filter, broken out per reason per spec.md §4.7's "sub-reasons".
type PolicySkipReasons struct {
	DurationOutOfRange int
	MissingTranscript  int
}

// Total returns the sum of every skip reason.
func (p PolicySkipReasons) Total() int {
	return p.DurationOutOfRange + p.MissingTranscript
}

// RunReport is the outcome of one Source Runner invocation.
type RunReport struct {
	Source                string
	Kind                  model.SourceKind
	Scraped               int
	Deduped               int
	Inserted              int
	DuplicatesSkipped     int
	PolicySkipped         PolicySkipReasons
	Errors                int
	Classified            int
	ClassificationFailed  int
	ClassificationSkipped int
	Status                Status
	Err                    error
}

// VideoPolicy filters videos before storage.
type VideoPolicy struct {
	MinDurationSeconds int64
	MaxDurationSeconds int64
	RequireEnglish     bool
}

func (p VideoPolicy) accepts(v model.Video) (bool, string) {
	if p.MinDurationSeconds > 0 && v.DurationSeconds < p.MinDurationSeconds {
		return false, "duration"
	}
	if p.MaxDurationSeconds > 0 && v.DurationSeconds > p.MaxDurationSeconds {
		return false, "duration"
	}
	if p.RequireEnglish && !v.HasEnglishTranscript() {
		return false, "transcript"
	}
	return true, ""
}

// Config configures a Runner shared across many sources.
type Config struct {
	Harvesters *harvester.Registry
	Storage    storage.Gateway
	Breaker    *breaker.Registry
	// KeyPools is keyed by source name; a source absent from the map runs
	// without a credential. Per spec.md §6, credentials are rotated
	// per-source, not shared across every source in the Runner.
	KeyPools map[string]*keypool.Pool
	// Classifiers is keyed by content kind, since spec.md §6 describes two
	// classifier endpoints, one per kind (article, video).
	Classifiers map[model.SourceKind]*classifier.Dispatcher
	Clock       clock.Clock // defaults to clock.Real()
	Logger      *slog.Logger

	TimeoutPerSource    time.Duration
	MaxRetriesPerSource int
	BackoffBase         time.Duration
	BackoffMax          time.Duration
	BackoffFactor       float64

	VideoPolicy VideoPolicy
}

// Runner runs one source's acquisition cycle per invocation.
type Runner struct {
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger
}

// New builds a Runner from cfg.
func New(cfg Config) *Runner {
	c := cfg.Clock
	if c == nil {
		c = clock.Real()
	}
	if cfg.BackoffFactor == 0 {
		cfg.BackoffFactor = 2
	}
	return &Runner{
		cfg:    cfg,
		clock:  c,
		logger: logging.Default(cfg.Logger).With("component", "runner"),
	}
}

// Run executes one acquisition cycle for source, persisting results to
// storage and dispatching them to the Classifier Dispatcher.
func (r *Runner) Run(ctx context.Context, source string, kind model.SourceKind, query model.Query, sourceType model.SourceType, platform string) RunReport {
	return r.execute(ctx, source, kind, query, sourceType, platform, true)
}

// Preview runs the harvest and dedup steps only, for the control surface's
// ad-hoc preview mode (spec.md §4.10): no source resolution, no storage
// insert, no classifier dispatch. Scraped/Deduped are populated;
// Inserted/Classified stay zero.
func (r *Runner) Preview(ctx context.Context, source string, kind model.SourceKind, query model.Query) RunReport {
	return r.execute(ctx, source, kind, query, "", "", false)
}

func (r *Runner) execute(ctx context.Context, source string, kind model.SourceKind, query model.Query, sourceType model.SourceType, platform string, persist bool) RunReport {
	logger := r.logger.With("source", source, "kind", kind)
	report := RunReport{Source: source, Kind: kind}

	if r.cfg.Breaker != nil && !r.cfg.Breaker.Allow(source) {
		report.Status = StatusCircuitOpen
		report.Err = errs.New(errs.KindCircuitOpen, "run "+source, nil)
		logger.Warn("circuit open, refusing to run")
		return report
	}

	pool := r.cfg.KeyPools[source]
	var credential string
	if pool != nil {
		cred, err := pool.Acquire(ctx)
		if err != nil {
			report.Status = StatusError
			report.Err = errs.New(errs.KindQuotaExhausted, "acquire credential for "+source, err)
			r.recordBreakerOutcome(source, false)
			return report
		}
		credential = cred
	}

	h, err := r.cfg.Harvesters.New(source, logger)
	if err != nil {
		report.Status = StatusError
		report.Err = errs.New(errs.KindUnknownSource, "build harvester for "+source, err)
		r.recordBreakerOutcome(source, false)
		return report
	}

	deadline := r.clock.Now().Add(r.cfg.TimeoutPerSource)
	runCtx := ctx
	var cancel context.CancelFunc
	if r.cfg.TimeoutPerSource > 0 {
		runCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	items, harvestErr := r.paginate(runCtx, h, query, logger)
	report.Scraped = len(items)

	if harvestErr != nil {
		if errors.Is(harvestErr, context.DeadlineExceeded) {
			report.Status = StatusTimeout
		} else {
			report.Status = StatusError
		}
		report.Err = harvestErr
		r.recordBreakerOutcome(source, false)
		r.recordKeyResult(ctx, pool, credential, false, harvestErr)
		return report
	}

	deduped := dedupeByFingerprint(items)
	report.Deduped = len(deduped)

	if !persist {
		report.Status = StatusSuccess
		r.recordBreakerOutcome(source, true)
		r.recordKeyResult(ctx, pool, credential, true, nil)
		return report
	}

	sourceID, err := r.cfg.Storage.ResolveSource(ctx, sourceType, platform, "")
	if err != nil {
		report.Status = StatusError
		report.Err = errs.New(errs.KindStorageError, "resolve source "+source, err)
		r.recordBreakerOutcome(source, false)
		r.recordKeyResult(ctx, pool, credential, false, err)
		return report
	}

	var insertedIDs []model.ContentID
	switch kind {
	case model.SourceArticle:
		insertedIDs = r.storeArticles(ctx, sourceID, deduped, &report, logger)
	case model.SourceVideo:
		insertedIDs = r.storeVideos(ctx, sourceID, deduped, &report, logger)
	}

	if dispatcher := r.cfg.Classifiers[kind]; dispatcher != nil && len(insertedIDs) > 0 {
		result := dispatcher.Dispatch(ctx, kind, insertedIDs)
		report.Classified = result.Successful
		report.ClassificationFailed = result.Failed
		report.ClassificationSkipped = result.Skipped
	}

	report.Status = StatusSuccess
	r.recordBreakerOutcome(source, true)
	r.recordKeyResult(ctx, pool, credential, true, nil)
	return report
}

func (r *Runner) recordBreakerOutcome(source string, success bool) {
	if r.cfg.Breaker == nil {
		return
	}
	if success {
		r.cfg.Breaker.RecordSuccess(source)
	} else {
		r.cfg.Breaker.RecordFailure(source)
	}
}

func (r *Runner) recordKeyResult(ctx context.Context, pool *keypool.Pool, credential string, success bool, err error) {
	if pool == nil || credential == "" {
		return
	}
	quotaExceeded := err != nil && errs.Is(err, errs.KindQuotaExhausted)
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	pool.RecordResult(ctx, credential, success, quotaExceeded, msg)
}

// paginate repeatedly calls h.Harvest with increasing page numbers until
// either query.Limit items have been collected or a page returns zero
// items. Retries up to MaxRetriesPerSource on a transient error before
// surfacing it.
func (r *Runner) paginate(ctx context.Context, h harvester.Harvester, query model.Query, logger *slog.Logger) ([]model.RawItem, error) {
	var all []model.RawItem
	page := query.Page

	for {
		select {
		case <-ctx.Done():
			return all, ctx.Err()
		default:
		}

		q := query
		q.Page = page
		items, err := r.harvestWithRetry(ctx, h, q, logger)
		if err != nil {
			return all, err
		}
		if len(items) == 0 {
			return all, nil
		}
		all = append(all, items...)
		if query.Limit > 0 && len(all) >= query.Limit {
			return all[:query.Limit], nil
		}
		page++
	}
}

func (r *Runner) harvestWithRetry(ctx context.Context, h harvester.Harvester, q model.Query, logger *slog.Logger) ([]model.RawItem, error) {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetriesPerSource; attempt++ {
		items, err := h.Harvest(ctx, q)
		if err == nil {
			return items, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isRetriable(err) || attempt == r.cfg.MaxRetriesPerSource {
			break
		}
		delay := clock.BackoffDelay(attempt, r.cfg.BackoffBase, r.cfg.BackoffMax, r.cfg.BackoffFactor, true)
		logger.Warn("transient harvest error, retrying", "attempt", attempt, "delay", delay, "error", err)
		if sleepErr := r.clock.Sleep(ctx, delay); sleepErr != nil {
			return nil, sleepErr
		}
	}
	return nil, lastErr
}

func isRetriable(err error) bool {
	if errs.KindOf(err) == errs.KindUnknown {
		// Harvester adapters outside this repo's control may return plain
		// errors; treat those as transient so a flaky network call still
		// benefits from backoff-and-retry.
		return true
	}
	return errs.Retriable(err)
}

func (r *Runner) storeArticles(ctx context.Context, sourceID string, items []model.RawItem, report *RunReport, logger *slog.Logger) []model.ContentID {
	articles := make([]model.Article, 0, len(items))
	for _, item := range items {
		if item.Article != nil {
			articles = append(articles, *item.Article)
		}
	}
	result, err := r.cfg.Storage.InsertArticleBatch(ctx, sourceID, articles)
	if err != nil {
		logger.Error("article batch insert failed", "error", err)
		report.Errors += len(articles)
		return nil
	}
	report.Inserted += len(result.InsertedIDs)
	report.DuplicatesSkipped += result.DupCount
	report.Errors += result.ErrCount
	return result.InsertedIDs
}

func (r *Runner) storeVideos(ctx context.Context, sourceID string, items []model.RawItem, report *RunReport, logger *slog.Logger) []model.ContentID {
	var inserted []model.ContentID
	for _, item := range items {
		if item.Video == nil {
			continue
		}
		v := *item.Video
		if ok, reason := r.cfg.VideoPolicy.accepts(v); !ok {
			switch reason {
			case "duration":
				report.PolicySkipped.DurationOutOfRange++
			case "transcript":
				report.PolicySkipped.MissingTranscript++
			}
			continue
		}
		result := r.cfg.Storage.InsertVideo(ctx, sourceID, v)
		switch result.Outcome {
		case storage.VideoInserted:
			report.Inserted++
			inserted = append(inserted, result.ID)
		case storage.VideoDuplicate:
			report.DuplicatesSkipped++
		case storage.VideoError:
			report.Errors++
			logger.Error("video insert failed", "video_id", v.ExternalVideoID, "error", result.Err)
		}
	}
	return inserted
}

// dedupeByFingerprint removes items sharing a fingerprint (article URL or
// video external ID) within one run, keeping the first occurrence.
func dedupeByFingerprint(items []model.RawItem) []model.RawItem {
	seen := make(map[string]struct{}, len(items))
	out := make([]model.RawItem, 0, len(items))
	for _, item := range items {
		var fp string
		switch {
		case item.Article != nil:
			fp = "article:" + item.Article.Fingerprint
		case item.Video != nil:
			fp = "video:" + item.Video.ExternalVideoID
		default:
			continue
		}
		if _, ok := seen[fp]; ok {
			continue
		}
		seen[fp] = struct{}{}
		out = append(out, item)
	}
	return out
}
