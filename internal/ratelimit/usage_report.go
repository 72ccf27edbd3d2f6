package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/planfold/planfold/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const (
	keyUsageReportCustomer = "usage:report:customer:%s"
	keyUsageReportLock     = "usage:report:lock:%s:%s"
)

// UsageReportLimiter throttles usage reports per customer. A nil limiter is
// valid and allows everything, which is the mode without Redis.
type UsageReportLimiter struct {
	enabled bool

	bucket *TokenBucket
	locker *Locker

	rate    float64
	burst   int
	lockTTL time.Duration
}

func NewUsageReportLimiter(cfg config.Config, client *redis.Client) *UsageReportLimiter {
	if !cfg.RateLimitEnabled || client == nil {
		return nil
	}
	return &UsageReportLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		locker:  NewLocker(client),
		rate:    cfg.UsageReportRate,
		burst:   cfg.UsageReportBurst,
		lockTTL: time.Duration(cfg.UsageReportLockTTLMS) * time.Millisecond,
	}
}

func (l *UsageReportLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *UsageReportLimiter) AllowCustomer(ctx context.Context, customerID string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyUsageReportCustomer, strings.TrimSpace(customerID)), l.rate, l.burst)
}

func (l *UsageReportLimiter) TryLockCustomerFeature(ctx context.Context, customerID, featureSlug string) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	key := fmt.Sprintf(keyUsageReportLock, strings.TrimSpace(customerID), strings.TrimSpace(featureSlug))
	return l.locker.TryLock(ctx, key, l.lockTTL)
}

func (l *UsageReportLimiter) ReleaseCustomerFeature(ctx context.Context, customerID, featureSlug, token string) error {
	if !l.Enabled() {
		return nil
	}
	key := fmt.Sprintf(keyUsageReportLock, strings.TrimSpace(customerID), strings.TrimSpace(featureSlug))
	return l.locker.Release(ctx, key, token)
}
