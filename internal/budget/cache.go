// Package budget implements the budget-bounded cache that fronts every paid
// inference call. One mutex owns the cache entries, the per-key in-flight
// registry, and the budget counters, so admission, coalescing, and charging
// are atomic across concurrent callers — a silent double-spend is not
// possible.
package budget

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/referlane/referlane/internal/engine"
	"github.com/referlane/referlane/internal/metrics"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Limits caps enrichment spend per rolling UTC window.
type Limits struct {
	DailyUSD    float64
	DailyTokens int64
	HourlyCalls int
}

// Result is what a producer returns: the value plus the usage the budget is
// charged for.
type Result struct {
	Value   string
	CostUSD float64
	Tokens  int64
	TTL     time.Duration // 0 means use the cache default
}

// Producer is a possibly-expensive, possibly-failing operation. It runs at
// most once per cache key at a time; concurrent callers share its outcome.
type Producer func(ctx context.Context) (Result, error)

type entry struct {
	value     string
	createdAt time.Time
	ttl       time.Duration
}

func (e entry) expired(now time.Time) bool {
	return now.After(e.createdAt.Add(e.ttl))
}

type inflight struct {
	done  chan struct{}
	value string
	err   error
}

// State holds the process-wide budget counters for the current windows.
type State struct {
	DailySpendUSD float64   `json:"dailySpendUsd"`
	DailyTokens   int64     `json:"dailyTokens"`
	CallsThisHour int       `json:"callCountThisHour"`
	DayStart      time.Time `json:"dayStart"`
	HourStart     time.Time `json:"hourStart"`
}

// Status is a snapshot of the cache and budget for the status endpoint.
type Status struct {
	State       State   `json:"state"`
	Limits      Limits  `json:"limits"`
	Entries     int     `json:"entries"`
	InFlight    int     `json:"inFlight"`
	DailyUSDPct float64 `json:"dailyUsdPct"`
}

// Cache is the content-addressed memoization layer in front of the external
// inference call.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]entry
	flights    map[string]*inflight
	state      State
	limits     Limits
	defaultTTL time.Duration
	clock      Clock
	logger     *slog.Logger
}

// New creates a Cache with empty counters.
func New(limits Limits, defaultTTL time.Duration) *Cache {
	return NewWithClock(limits, defaultTTL, realClock{})
}

// NewWithClock creates a Cache with a custom clock (for testing).
func NewWithClock(limits Limits, defaultTTL time.Duration, clock Clock) *Cache {
	now := clock.Now().UTC()
	return &Cache{
		entries:    make(map[string]entry),
		flights:    make(map[string]*inflight),
		limits:     limits,
		defaultTTL: defaultTTL,
		clock:      clock,
		logger:     slog.Default(),
		state: State{
			DayStart:  dayStart(now),
			HourStart: now.Truncate(time.Hour),
		},
	}
}

func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// cacheKey is the content address: hash of namespace and canonical input.
func cacheKey(namespace, key string) string {
	h := sha256.New()
	h.Write([]byte(namespace))
	h.Write([]byte{0})
	h.Write([]byte(key))
	return hex.EncodeToString(h.Sum(nil))
}

// rollover lazily resets counters when a UTC hour or day boundary has been
// crossed since the last access. Callers must hold c.mu.
func (c *Cache) rollover(now time.Time) {
	now = now.UTC()
	if ds := dayStart(now); ds.After(c.state.DayStart) {
		c.state.DayStart = ds
		c.state.DailySpendUSD = 0
		c.state.DailyTokens = 0
		metrics.DailySpendUSD.Set(0)
	}
	if hs := now.Truncate(time.Hour); hs.After(c.state.HourStart) {
		c.state.HourStart = hs
		c.state.CallsThisHour = 0
	}
}

// exhausted reports whether any budget ceiling is reached. Callers must hold
// c.mu and have called rollover first.
func (c *Cache) exhausted() bool {
	if c.limits.DailyUSD > 0 && c.state.DailySpendUSD >= c.limits.DailyUSD {
		return true
	}
	if c.limits.DailyTokens > 0 && c.state.DailyTokens >= c.limits.DailyTokens {
		return true
	}
	if c.limits.HourlyCalls > 0 && c.state.CallsThisHour >= c.limits.HourlyCalls {
		return true
	}
	return false
}

// Do returns the cached value for (namespace, key), or runs producer to
// compute it.
//
// A live entry is returned without any budget check. Otherwise, if a producer
// for the same key is already in flight, the caller waits for and shares its
// outcome rather than issuing a duplicate paid call. Otherwise the budget is
// consulted: an exhausted window yields engine.ErrBudgetExceeded, which
// callers treat as "enrichment unavailable".
//
// The producer runs detached from the initiating caller's context, so a
// caller that abandons its request cancels only its own wait; other waiters
// still receive the result. Producer failures are not cached and do not
// charge spend.
func (c *Cache) Do(ctx context.Context, namespace, key string, producer Producer) (string, error) {
	k := cacheKey(namespace, key)

	c.mu.Lock()
	now := c.clock.Now()
	c.rollover(now)

	if e, ok := c.entries[k]; ok {
		if !e.expired(now) {
			c.mu.Unlock()
			metrics.EnrichmentCalls.WithLabelValues("hit").Inc()
			return e.value, nil
		}
		delete(c.entries, k)
	}

	if fl, ok := c.flights[k]; ok {
		c.mu.Unlock()
		metrics.EnrichmentCalls.WithLabelValues("coalesced").Inc()
		return c.wait(ctx, fl)
	}

	if c.exhausted() {
		c.mu.Unlock()
		metrics.EnrichmentCalls.WithLabelValues("budget_exceeded").Inc()
		return "", engine.ErrBudgetExceeded
	}

	// Admit: the hourly call slot is consumed for the attempt itself, so a
	// failing upstream cannot be hammered past the rate ceiling.
	c.state.CallsThisHour++
	fl := &inflight{done: make(chan struct{})}
	c.flights[k] = fl
	c.mu.Unlock()

	go c.run(context.WithoutCancel(ctx), k, fl, producer)

	return c.wait(ctx, fl)
}

// wait blocks until the in-flight call completes or the caller's context is
// cancelled. Cancellation aborts only this caller's wait.
func (c *Cache) wait(ctx context.Context, fl *inflight) (string, error) {
	select {
	case <-fl.done:
		return fl.value, fl.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// run executes the producer and settles the in-flight handle. On success the
// value is stored and the budget charged under the same lock; on failure
// nothing is cached and no spend is charged.
func (c *Cache) run(ctx context.Context, k string, fl *inflight, producer Producer) {
	res, err := producer(ctx)

	c.mu.Lock()
	delete(c.flights, k)
	if err != nil {
		c.mu.Unlock()
		fl.err = err
		close(fl.done)
		metrics.EnrichmentCalls.WithLabelValues("error").Inc()
		c.logger.Debug("producer failed", "key", k[:8], "error", err)
		return
	}

	now := c.clock.Now()
	c.rollover(now)
	c.state.DailySpendUSD += res.CostUSD
	c.state.DailyTokens += res.Tokens
	metrics.DailySpendUSD.Set(c.state.DailySpendUSD)

	ttl := res.TTL
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.entries[k] = entry{value: res.Value, createdAt: now, ttl: ttl}
	c.mu.Unlock()

	fl.value = res.Value
	close(fl.done)
	metrics.EnrichmentCalls.WithLabelValues("produced").Inc()
}

// Status returns a snapshot of the budget counters and cache occupancy.
func (c *Cache) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollover(c.clock.Now())

	st := Status{
		State:    c.state,
		Limits:   c.limits,
		Entries:  len(c.entries),
		InFlight: len(c.flights),
	}
	if c.limits.DailyUSD > 0 {
		st.DailyUSDPct = c.state.DailySpendUSD / c.limits.DailyUSD * 100
	}
	return st
}

// Sweep drops expired entries. Behavior is unchanged without it (entries are
// also dropped at read time); it only bounds memory between reads.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	removed := 0
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}
