package redis

import (
	"context"
	"errors"
	"strconv"

	"go.uber.org/zap"

	"admin-auth-service/internal/client"
	"admin-auth-service/internal/lockout"
)

// LockoutCache keeps consecutive-failure counters in Redis so a lockout
// holds across instances. Counters never expire; only Reset clears them.
type LockoutCache struct {
	client   Counter
	fallback *lockout.Tracker
	logger   *zap.Logger
}

func NewLockoutCache(client Counter, fallback *lockout.Tracker, logger *zap.Logger) *LockoutCache {
	return &LockoutCache{client: client, fallback: fallback, logger: logger}
}

// RecordFailure counts in Redis and returns the total including failures
// that were counted locally while Redis was unreachable.
func (c *LockoutCache) RecordFailure(ctx context.Context, identifier string) int {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	count, err := c.client.Incr(opCtx, lockoutPrefix+identifier)
	if err != nil {
		c.logger.Warn("Redis lockout unavailable, counting locally", zap.Error(err))
		return c.fallback.RecordFailure(ctx, identifier)
	}
	return int(count) + c.fallback.Count(identifier)
}

// IsLockedOut compares the sum of the Redis and local counters with
// maxFailures.
func (c *LockoutCache) IsLockedOut(ctx context.Context, identifier string, maxFailures int) bool {
	if maxFailures <= 0 {
		maxFailures = lockout.DefaultMaxFailures
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var shared int
	raw, err := c.client.Get(opCtx, lockoutPrefix+identifier)
	switch {
	case errors.Is(err, client.ErrKeyNotFound):
	case err != nil:
		c.logger.Warn("Redis lockout unavailable, checking locally", zap.Error(err))
	default:
		shared, err = strconv.Atoi(raw)
		if err != nil {
			c.logger.Error("corrupt lockout counter", zap.String("identifier", identifier), zap.Error(err))
			return true
		}
	}
	return shared+c.fallback.Count(identifier) >= maxFailures
}

func (c *LockoutCache) Reset(ctx context.Context, identifier string) {
	c.fallback.Reset(ctx, identifier)

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := c.client.Del(opCtx, lockoutPrefix+identifier); err != nil {
		c.logger.Error("failed to reset lockout counter", zap.String("identifier", identifier), zap.Error(err))
	}
}
