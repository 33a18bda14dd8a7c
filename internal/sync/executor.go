package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"erp-sync-service/internal/logger"
	"erp-sync-service/internal/metrics"
	"erp-sync-service/internal/upstream"

	"go.uber.org/zap"
)

// ErrRetryBudgetExhausted is returned when the upstream keeps throttling a
// call past the configured retry budget.
var ErrRetryBudgetExhausted = errors.New("retry budget exhausted on rate-limited call")

// Stats is a snapshot of what an Executor has seen since it was built.
type Stats struct {
	Requests      int
	Throttled     int
	BackoffTotal  time.Duration
	MaxBackoff    time.Duration
	WindowPeakPct float64
}

// ExecutorConfig carries the retry profile for one endpoint class.
type ExecutorConfig struct {
	Endpoint    string
	BackoffBase time.Duration
	BackoffCap  time.Duration
	RetryBudget int
}

// Executor funnels every upstream call through limiter admission and handles
// throttling responses with capped exponential backoff. Any other error is
// returned to the caller untouched.
type Executor struct {
	limiter *Limiter
	cfg     ExecutorConfig
	metrics *metrics.Registry
	sleep   func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	stats Stats
}

func NewExecutor(limiter *Limiter, cfg ExecutorConfig, reg *metrics.Registry) *Executor {
	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = 8
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 32 * time.Second
	}
	return &Executor{
		limiter: limiter,
		cfg:     cfg,
		metrics: reg,
		sleep:   sleepContext,
	}
}

// Do runs call under limiter admission. On a throttling response it backs off
// and retries until the budget runs out.
func (e *Executor) Do(ctx context.Context, call func(ctx context.Context) error) error {
	attempt := 0
	for {
		util, err := e.limiter.Wait(ctx)
		if err != nil {
			return err
		}
		e.recordAdmission(util)

		start := time.Now()
		err = call(ctx)
		if e.metrics != nil {
			e.metrics.UpstreamLatency.Observe(time.Since(start).Seconds())
			e.metrics.UpstreamRequests.Inc()
		}
		if err == nil {
			return nil
		}
		if !upstream.IsRateLimit(err) {
			return err
		}

		attempt++
		if attempt > e.cfg.RetryBudget {
			return fmt.Errorf("%s: %w: %v", e.cfg.Endpoint, ErrRetryBudgetExhausted, err)
		}

		backoff := e.cfg.BackoffBase << (attempt - 1)
		if backoff > e.cfg.BackoffCap {
			backoff = e.cfg.BackoffCap
		}
		e.recordThrottle(backoff)

		logger.Log.Warn("Upstream throttled, backing off",
			zap.String("endpoint", e.cfg.Endpoint),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff))

		if err := e.sleep(ctx, backoff); err != nil {
			return err
		}
	}
}

// Stats returns a copy of the accumulated counters.
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Utilization reports the limiter's current window usage, read-only.
func (e *Executor) Utilization() float64 {
	return e.limiter.Utilization()
}

func (e *Executor) recordAdmission(util float64) {
	e.mu.Lock()
	e.stats.Requests++
	if util > e.stats.WindowPeakPct {
		e.stats.WindowPeakPct = util
	}
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.WindowUtilization.Set(util)
	}
}

func (e *Executor) recordThrottle(backoff time.Duration) {
	e.mu.Lock()
	e.stats.Throttled++
	e.stats.BackoffTotal += backoff
	if backoff > e.stats.MaxBackoff {
		e.stats.MaxBackoff = backoff
	}
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.UpstreamThrottled.Inc()
		e.metrics.BackoffSeconds.Add(backoff.Seconds())
	}
}
