package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/vecrank/internal/domain"
	"github.com/kailas-cloud/vecrank/internal/metrics"
)

// Strategies.
const (
	StrategyTokenBucket = "token_bucket"
	StrategyFixedWindow = "fixed_window"
)

// Error reports a rejected request and when the caller may retry.
type Error struct {
	Strategy   string
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: retry after %s", domain.ErrRateLimited.Error(), e.RetryAfter.Round(time.Millisecond))
}

func (e *Error) Unwrap() error { return domain.ErrRateLimited }

// Config configures a limiter.
type Config struct {
	Strategy   string
	RPS        float64
	Burst      int
	Window     time.Duration
	Limit      int64
	MaxCallers int
}

// New creates a limiter for the configured strategy. counter is only used by fixed_window.
func New(cfg Config, counter Counter, logger *zap.Logger) (Limiter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Strategy {
	case StrategyTokenBucket, "":
		return NewTokenBucket(cfg.RPS, cfg.Burst, cfg.MaxCallers)
	case StrategyFixedWindow:
		if counter == nil {
			return nil, fmt.Errorf("fixed_window limiter requires a counter")
		}
		if cfg.Window < time.Second {
			return nil, fmt.Errorf("fixed_window limiter requires a window of at least 1s, got %s", cfg.Window)
		}
		return NewFixedWindow(counter, cfg.Limit, cfg.Window, logger), nil
	default:
		return nil, fmt.Errorf("unknown rate limit strategy %q", cfg.Strategy)
	}
}

// TokenBucket keeps one in-process token bucket per caller. The least recently seen callers are evicted.
type TokenBucket struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu      sync.Mutex
	callers *lru.Cache[string, *rate.Limiter]
}

// NewTokenBucket creates a token bucket limiter refilling rps tokens per second up to burst.
func NewTokenBucket(rps float64, burst, maxCallers int) (*TokenBucket, error) {
	if rps <= 0 || burst <= 0 {
		return nil, fmt.Errorf("token bucket requires positive rps and burst, got %v/%d", rps, burst)
	}
	callers, err := lru.New[string, *rate.Limiter](maxCallers)
	if err != nil {
		return nil, fmt.Errorf("caller registry: %w", err)
	}
	return &TokenBucket{limit: rate.Limit(rps), burst: burst, now: time.Now, callers: callers}, nil
}

// Allow takes one token from the caller's bucket.
func (t *TokenBucket) Allow(_ context.Context, caller string) error {
	l := t.bucket(caller)
	now := t.now()

	r := l.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		metrics.RateLimitedTotal.WithLabelValues(StrategyTokenBucket).Inc()
		return &Error{Strategy: StrategyTokenBucket, RetryAfter: delay}
	}
	return nil
}

func (t *TokenBucket) bucket(caller string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	if l, ok := t.callers.Get(caller); ok {
		return l
	}
	l := rate.NewLimiter(t.limit, t.burst)
	t.callers.Add(caller, l)
	return l
}

// FixedWindow counts requests per caller per window in the backing store, so limits hold across replicas.
type FixedWindow struct {
	counter Counter
	limit   int64
	window  time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewFixedWindow creates a fixed window limiter admitting limit requests per window.
func NewFixedWindow(counter Counter, limit int64, window time.Duration, logger *zap.Logger) *FixedWindow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FixedWindow{counter: counter, limit: limit, window: window, logger: logger, now: time.Now}
}

// Allow increments the caller's counter for the current window.
// A counter failure admits the request.
func (f *FixedWindow) Allow(ctx context.Context, caller string) error {
	now := f.now()
	slot := now.UnixNano() / int64(f.window)
	key := caller + ":" + strconv.FormatInt(slot, 10)

	n, err := f.counter.Incr(ctx, key, f.window)
	if err != nil {
		metrics.DegradedTotal.WithLabelValues("rate_limit").Inc()
		f.logger.Warn("Partial degradation",
			zap.Bool("degraded", true),
			zap.String("component", "rate_limit"),
			zap.Error(err),
		)
		return nil
	}
	if n > f.limit {
		end := time.Unix(0, (slot+1)*int64(f.window))
		metrics.RateLimitedTotal.WithLabelValues(StrategyFixedWindow).Inc()
		return &Error{Strategy: StrategyFixedWindow, RetryAfter: end.Sub(now)}
	}
	return nil
}
