// Package breaker provides a per-source circuit breaker guarding calls to
// upstream harvest sources. It wraps gobreaker's three-state machine behind
// a narrow, non-blocking contract (Allow/RecordSuccess/RecordFailure)
// instead of gobreaker's Execute()-with-a-closure API, since the Runner
// needs to decide up front whether to attempt a call and retry/backoff in
// between, not hand the whole attempt to the breaker as one function.
package breaker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"contentengine/internal/logging"
)

// State mirrors gobreaker.State with names matching spec terminology.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

func fromGobreakerState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Config configures every source's breaker uniformly. A later version could
// support per-source overrides; nothing in SPEC_FULL.md needs that yet.
type Config struct {
	// FailureThreshold is the consecutive-failure count that trips the
	// breaker from closed to open.
	FailureThreshold uint32
	// RecoveryTimeout is how long the breaker stays open before allowing a
	// half-open probe.
	RecoveryTimeout time.Duration
	// Logger receives state-transition lines. Defaults to discard.
	Logger *slog.Logger
}

type entry struct {
	cb *gobreaker.TwoStepCircuitBreaker

	mu   sync.Mutex
	done func(success bool)
}

// Registry holds one breaker per source name, created lazily on first use
// with the Registry's shared Config.
type Registry struct {
	mu      sync.Mutex
	cfg     Config
	logger  *slog.Logger
	sources map[string]*entry
}

// NewRegistry builds a Registry that creates per-source breakers on demand
// using cfg as the shared configuration.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:     cfg,
		logger:  logging.Default(cfg.Logger),
		sources: make(map[string]*entry),
	}
}

func (r *Registry) newEntryLocked(source string) *entry {
	threshold := r.cfg.FailureThreshold
	logger := r.logger
	cb := gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:    source,
		Timeout: r.cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state change",
				"component", "breaker",
				"source", name,
				"from", fromGobreakerState(from).String(),
				"to", fromGobreakerState(to).String(),
			)
		},
	})
	return &entry{cb: cb}
}

func (r *Registry) entryFor(source string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sources[source]; ok {
		return e
	}
	e := r.newEntryLocked(source)
	r.sources[source] = e
	return e
}

// Allow reports whether a call to source may proceed. It never blocks. A
// false result means the breaker is open (or a half-open probe is already
// outstanding) and callers must surface a CircuitOpen error without
// consuming upstream quota. A true result arms the breaker for exactly one
// outcome report via RecordSuccess or RecordFailure.
func (r *Registry) Allow(source string) bool {
	e := r.entryFor(source)
	done, err := e.cb.Allow()
	if err != nil {
		return false
	}
	e.mu.Lock()
	e.done = done
	e.mu.Unlock()
	return true
}

// RecordSuccess reports that the call most recently permitted by Allow
// succeeded, closing the breaker if it was half-open and resetting the
// consecutive-failure counter.
func (r *Registry) RecordSuccess(source string) {
	r.report(source, true)
}

// RecordFailure reports that the call most recently permitted by Allow
// failed, incrementing the consecutive-failure counter and tripping the
// breaker if the threshold is reached.
func (r *Registry) RecordFailure(source string) {
	r.report(source, false)
}

func (r *Registry) report(source string, success bool) {
	e := r.entryFor(source)
	e.mu.Lock()
	done := e.done
	e.done = nil
	e.mu.Unlock()
	if done == nil {
		// RecordSuccess/RecordFailure called without a matching Allow, or
		// called twice for one Allow. Nothing to report; avoid a panic.
		return
	}
	done(success)
}

// State returns the current state of source's breaker. A source with no
// prior calls reports StateClosed.
func (r *Registry) State(source string) State {
	return fromGobreakerState(r.entryFor(source).cb.State())
}

// Counts returns the current failure/success counters for source's breaker.
func (r *Registry) Counts(source string) gobreaker.Counts {
	return r.entryFor(source).cb.Counts()
}

// Reset closes source's breaker and clears its failure counters,
// discarding any outstanding Allow grant. Used by the control surface's
// reset-failures operation, per-source or iterated over Sources() for a
// global reset.
func (r *Registry) Reset(source string) {
	// TwoStepCircuitBreaker has no programmatic reset; closing is achieved
	// by replacing the entry so the next Allow starts from a fresh closed
	// state, mirroring what a restart would do.
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[source] = r.newEntryLocked(source)
}

// Sources returns the names of every source that has had a breaker created
// (by its first Allow, State, Counts, Record*, or Reset call), for
// health/metrics enumeration.
func (r *Registry) Sources() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	return names
}
