package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/sma-assistant-api/pkg/errors"
)

const (
	defaultRateLimitMax    = 30
	defaultRateLimitWindow = time.Hour
	rateLimitKeyPrefix     = "assistant:ratelimit:"
)

type counterStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RateLimitConfig bounds assistant usage per user.
type RateLimitConfig struct {
	Max    int
	Window time.Duration
}

// RateDecision is the outcome of one limiter check.
type RateDecision struct {
	Allowed bool
	Count   int64
	Limit   int
}

// RateLimiter counts assistant requests per user inside a fixed window.
type RateLimiter struct {
	store   counterStore
	config  RateLimitConfig
	metrics *MetricsService
	logger  *zap.Logger
}

// NewRateLimiter constructs a RateLimiter.
func NewRateLimiter(store counterStore, cfg RateLimitConfig, metrics *MetricsService, logger *zap.Logger) *RateLimiter {
	if cfg.Max <= 0 {
		cfg.Max = defaultRateLimitMax
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultRateLimitWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{store: store, config: cfg, metrics: metrics, logger: logger}
}

// CheckAndIncrement charges one attempt to userID and reports whether it is within
// the limit. Blocked attempts are charged too. A store failure is returned as an
// error with a blocked decision.
func (l *RateLimiter) CheckAndIncrement(ctx context.Context, userID string) (RateDecision, error) {
	decision := RateDecision{Limit: l.config.Max}
	count, err := l.store.Increment(ctx, rateLimitKeyPrefix+userID, l.config.Window)
	if err != nil {
		l.metrics.RecordCounterStoreFailure()
		l.logger.Error("rate limit increment failed", zap.String("user_id", userID), zap.Error(err))
		return decision, appErrors.Wrap(err, appErrors.ErrCounterStore.Code, appErrors.ErrCounterStore.Status, "rate limit store unavailable")
	}
	decision.Count = count
	decision.Allowed = count <= int64(l.config.Max)
	return decision, nil
}

// Window returns the configured counting window.
func (l *RateLimiter) Window() time.Duration {
	return l.config.Window
}
