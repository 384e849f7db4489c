package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/smallbiznis/paylink/internal/config"
)

const keyPublicSurface = "ratelimit:public:%s:%s"

// NewRedisClient builds the shared redis client for rate limiting and
// distributed locks. Returns nil when no address is configured; consumers
// degrade to unlimited/unlocked behaviour.
func NewRedisClient(cfg config.Config, log *zap.Logger) *redis.Client {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		log.Warn("redis addr not configured, rate limiting disabled")
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})
}

// PublicLimiter throttles the tokenized public invoice surface. Buckets are
// keyed per organization and client IP so one noisy caller cannot starve an
// org, and one org cannot starve the deployment. Limits come from the hot
// reloaded billing config, expressed as requests per minute.
type PublicLimiter struct {
	bucket  *TokenBucket
	billing *config.BillingConfigHolder
	log     *zap.Logger
}

func NewPublicLimiter(client *redis.Client, billing *config.BillingConfigHolder, log *zap.Logger) *PublicLimiter {
	return &PublicLimiter{
		bucket:  NewTokenBucket(client),
		billing: billing,
		log:     log.Named("ratelimit.public"),
	}
}

func (l *PublicLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow consumes one token from the bucket for orgID+clientIP. Redis
// outages fail open: the public surface stays up and the denial is logged.
func (l *PublicLimiter) Allow(ctx context.Context, orgID, clientIP string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}

	cfg := l.billing.Get()
	rate := float64(cfg.PublicRateLimit) / 60.0
	burst := cfg.PublicRateBurst
	if burst <= 0 {
		burst = 1
	}

	key := fmt.Sprintf(keyPublicSurface, strings.TrimSpace(orgID), strings.TrimSpace(clientIP))
	res, err := l.bucket.Allow(ctx, key, rate, burst)
	if err != nil {
		l.log.Warn("rate limit check failed, allowing request", zap.Error(err))
		return &RateLimitResult{Allowed: true}, nil
	}
	return res, nil
}
