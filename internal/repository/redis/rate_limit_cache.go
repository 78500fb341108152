package redis

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"admin-auth-service/internal/audit"
	"admin-auth-service/internal/ratelimit"
)

const (
	rateLimitPrefix = "admin_rate_limit:"
	lockoutPrefix   = "admin_lockout:"

	opTimeout = 2 * time.Second
)

// Counter is the subset of the Redis client the caches use.
type Counter interface {
	IncrWithExpire(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Incr(ctx context.Context, key string) (int64, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

// RateLimitCache is a fixed-window limiter shared by every instance through
// Redis. When Redis fails the local limiter decides.
type RateLimitCache struct {
	client   Counter
	fallback *ratelimit.Limiter
	recorder audit.Recorder
	window   time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

func NewRateLimitCache(client Counter, fallback *ratelimit.Limiter, recorder audit.Recorder, cfg ratelimit.Config, logger *zap.Logger) *RateLimitCache {
	if cfg.Window < ratelimit.MinWindow {
		cfg.Window = ratelimit.DefaultWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &RateLimitCache{
		client:   client,
		fallback: fallback,
		recorder: recorder,
		window:   cfg.Window,
		now:      cfg.Now,
		logger:   logger,
	}
}

func (c *RateLimitCache) windowKey(identifier, action string) string {
	start := ratelimit.WindowStart(c.now(), c.window)
	return rateLimitPrefix + ratelimit.Key(identifier, action) + ":" + strconv.FormatInt(start.UnixMilli(), 10)
}

func (c *RateLimitCache) Allow(ctx context.Context, identifier, action string, limit int) bool {
	key := c.windowKey(identifier, action)

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	count, err := c.client.IncrWithExpire(opCtx, key, 2*c.window)
	if err != nil {
		c.logger.Warn("Redis rate limit unavailable, using local limiter",
			zap.String("action", action),
			zap.Error(err))
		return c.fallback.Allow(ctx, identifier, action, limit)
	}

	if int(count) > limit {
		ratelimit.RecordDenied(ctx, c.recorder, identifier, action, limit, int(count)-1)
		return false
	}
	return true
}

// Sweep clears the local fallback. Redis keys expire on their own.
func (c *RateLimitCache) Sweep() int {
	return c.fallback.Sweep()
}
