package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/rentflow/internal/config"
)

const keyWebhookSource = "webhook:%s:source:%s"

// WebhookLimiter throttles inbound gateway notifications per source address.
// A nil limiter allows everything.
type WebhookLimiter struct {
	bucket *Bucket
}

func NewWebhookLimiter(cfg config.Config, client *redis.Client) *WebhookLimiter {
	if client == nil || cfg.RateLimit.WebhookPerHour <= 0 {
		return nil
	}
	burst := cfg.RateLimit.WebhookBurst
	if burst <= 0 {
		burst = cfg.RateLimit.WebhookPerHour
	}
	rate := float64(cfg.RateLimit.WebhookPerHour) / 3600
	return &WebhookLimiter{bucket: NewBucket(client, rate, int(burst))}
}

func (l *WebhookLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *WebhookLimiter) Allow(ctx context.Context, provider, source string) (*Decision, error) {
	if !l.Enabled() {
		return &Decision{Allowed: true}, nil
	}
	source = strings.TrimSpace(source)
	if source == "" {
		source = "unknown"
	}
	key := fmt.Sprintf(keyWebhookSource, strings.ToLower(strings.TrimSpace(provider)), source)
	return l.bucket.Take(ctx, key)
}
