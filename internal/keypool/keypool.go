// Package keypool implements the credential rotation pool (spec §4.3): a
// reactive round-robin rotation over N opaque credentials, each lazily
// marked exhausted until the next UTC midnight on the first quota-exceeded
// error. Semantics are a direct port of the original Python key pool's
// reactive_round_robin strategy, generalized from "YouTube API keys" to
// any opaque credential string.
package keypool

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"
	"time"

	"contentengine/internal/clock"
	"contentengine/internal/logging"
)

// ErrAllExhausted is returned by Acquire when every credential in the pool
// is currently exhausted.
var ErrAllExhausted = errors.New("keypool: all credentials exhausted")

// keyState tracks one credential's rotation bookkeeping.
type keyState struct {
	credential   string
	hash         string
	lastReset    time.Time // UTC midnight the exhaustion window started
	requestCount uint64
	exhausted    bool
	lastError    string
}

// Status is a snapshot of one credential's state, safe to expose externally
// (it never carries the raw credential).
type Status struct {
	Index        int
	Hash         string
	Exhausted    bool
	RequestCount uint64
	LastError    string
}

// Summary aggregates pool-wide status.
type Summary struct {
	Keys           []Status
	TotalKeys      int
	AvailableKeys  int
	ExhaustedKeys  int
	NextResetUTC   time.Time
}

// StatusMirror receives a Summary after every RecordResult and Reset call;
// Acquire does not notify the mirror. Implementations
// must not block meaningfully; the pool calls this synchronously while
// holding no locks of its own.
type StatusMirror interface {
	Mirror(ctx context.Context, s Summary)
}

// Pool rotates over a fixed list of credentials.
type Pool struct {
	mu      sync.Mutex
	keys    []*keyState
	current int
	clock   clock.Clock
	logger  *slog.Logger
	mirror  StatusMirror
}

// Config configures a new Pool.
type Config struct {
	Credentials []string
	Clock       clock.Clock // defaults to clock.Real()
	Logger      *slog.Logger
	Mirror      StatusMirror // optional, e.g. a Redis-backed mirror
}

// New builds a Pool from cfg. It panics if Credentials is empty, since a
// pool with zero keys can never make progress and this is always a
// configuration bug, not a runtime condition.
func New(cfg Config) *Pool {
	if len(cfg.Credentials) == 0 {
		panic("keypool: at least one credential is required")
	}
	c := cfg.Clock
	if c == nil {
		c = clock.Real()
	}
	now := c.Now()
	keys := make([]*keyState, len(cfg.Credentials))
	for i, cred := range cfg.Credentials {
		keys[i] = &keyState{
			credential: cred,
			hash:       hashCredential(cred),
			lastReset:  clock.NextUTCMidnight(now).AddDate(0, 0, -1),
		}
	}
	return &Pool{
		keys:   keys,
		clock:  c,
		logger: logging.Default(cfg.Logger),
		mirror: cfg.Mirror,
	}
}

func hashCredential(cred string) string {
	sum := sha256.Sum256([]byte(cred))
	return hex.EncodeToString(sum[:])[:8]
}

// resetIfNewDay clears exhaustion for k if the UTC day has rolled over
// since its window started. Caller must hold p.mu.
func (p *Pool) resetIfNewDay(k *keyState, now time.Time) {
	today := now.UTC().Truncate(24 * time.Hour)
	if k.lastReset.Before(today) {
		k.lastReset = today
		k.requestCount = 0
		k.exhausted = false
		k.lastError = ""
		p.logger.Info("credential exhaustion reset for new day",
			"component", "keypool", "hash", k.hash)
	}
}

// Acquire returns the next non-exhausted credential using round robin from
// the last-served index, advancing lazily past exhausted keys. It returns
// ErrAllExhausted if every credential is currently exhausted.
func (p *Pool) Acquire(ctx context.Context) (string, error) {
	p.mu.Lock()
	now := p.clock.Now()
	n := len(p.keys)
	for attempts := 0; attempts < n; attempts++ {
		k := p.keys[p.current]
		p.resetIfNewDay(k, now)
		if !k.exhausted {
			p.logger.Debug("credential acquired",
				"component", "keypool", "index", p.current, "hash", k.hash)
			cred := k.credential
			p.mu.Unlock()
			return cred, nil
		}
		from := k.hash
		p.current = (p.current + 1) % n
		p.logger.Info("rotating past exhausted credential",
			"component", "keypool", "from", from, "to", p.keys[p.current].hash)
	}
	p.mu.Unlock()
	return "", ErrAllExhausted
}

// RecordResult reports the outcome of using credential. quotaExceeded marks
// the credential exhausted until the next UTC midnight; any other failure
// only advances the request counter. credential must be a value previously
// returned by Acquire.
func (p *Pool) RecordResult(ctx context.Context, credential string, success bool, quotaExceeded bool, errMsg string) {
	p.mu.Lock()
	now := p.clock.Now()
	for i, k := range p.keys {
		if k.credential != credential {
			continue
		}
		p.resetIfNewDay(k, now)
		k.requestCount++
		if !success {
			k.lastError = errMsg
			if quotaExceeded {
				k.exhausted = true
				p.logger.Warn("credential marked exhausted",
					"component", "keypool", "index", i, "hash", k.hash)
			}
		}
		p.current = (i + 1) % len(p.keys)
		break
	}
	summary := p.summaryLocked(now)
	p.mu.Unlock()
	p.notifyMirror(ctx, summary)
}

// Reset clears exhaustion state for every credential. Used by the control
// surface's reset-failures operation.
func (p *Pool) Reset(ctx context.Context) {
	p.mu.Lock()
	now := p.clock.Now()
	today := now.UTC().Truncate(24 * time.Hour)
	for _, k := range p.keys {
		k.lastReset = today
		k.requestCount = 0
		k.exhausted = false
		k.lastError = ""
	}
	summary := p.summaryLocked(now)
	p.mu.Unlock()
	p.notifyMirror(ctx, summary)
}

// Status returns a point-in-time Summary of the pool.
func (p *Pool) Status() Summary {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.summaryLocked(p.clock.Now())
}

func (p *Pool) summaryLocked(now time.Time) Summary {
	s := Summary{
		TotalKeys:    len(p.keys),
		NextResetUTC: clock.NextUTCMidnight(now),
	}
	s.Keys = make([]Status, len(p.keys))
	for i, k := range p.keys {
		p.resetIfNewDay(k, now)
		s.Keys[i] = Status{
			Index:        i,
			Hash:         k.hash,
			Exhausted:    k.exhausted,
			RequestCount: k.requestCount,
			LastError:    k.lastError,
		}
		if k.exhausted {
			s.ExhaustedKeys++
		} else {
			s.AvailableKeys++
		}
	}
	return s
}

func (p *Pool) notifyMirror(ctx context.Context, s Summary) {
	if p.mirror == nil {
		return
	}
	p.mirror.Mirror(ctx, s)
}
